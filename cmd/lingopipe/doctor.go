package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"lingopipe/internal/logging"
	"lingopipe/internal/preflight"
)

func newDoctorCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment the daemon needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			result := preflight.Run(cmd.Context(), cfg, logging.NewNop())

			t := newTable()
			t.AppendHeader(table.Row{"check", "status", "detail"})
			for _, check := range result.Checks {
				t.AppendRow(table.Row{check.Name, okMark(check.OK), dash(check.Detail)})
			}
			t.Render()

			if !result.Passed() {
				return fmt.Errorf("%d checks failed", len(result.Failures()))
			}
			printf("all checks passed")
			return nil
		},
	}
}
