// Command lingopipe is the operator CLI for the video processing pipeline:
// video and category management, queue inspection, vocabulary tools, and
// environment diagnostics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/store"
)

type cliContext struct {
	configPath string
}

func main() {
	cli := &cliContext{}

	root := &cobra.Command{
		Use:           "lingopipe",
		Short:         "Manage the video processing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "path to config file")

	root.AddCommand(
		newConfigCommand(cli),
		newVideoCommand(cli),
		newQueueCommand(cli),
		newCategoryCommand(cli),
		newVocabCommand(cli),
		newDoctorCommand(cli),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (c *cliContext) loadConfig() (*config.Config, error) {
	cfg, _, _, err := config.Load(c.configPath)
	return cfg, err
}

// withStore opens the job store for one command invocation.
func (c *cliContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}
