package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/store"
)

func newVocabCommand(cli *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Manage saved vocabulary",
	}
	cmd.AddCommand(
		newVocabAddCommand(cli),
		newVocabListCommand(cli),
		newVocabReviewCommand(cli),
		newVocabRemoveCommand(cli),
	)
	return cmd
}

func newVocabAddCommand(cli *cliContext) *cobra.Command {
	var (
		user        string
		translation string
		phonetic    string
		definition  string
		example     string
		videoRef    string
		timestamp   float64
		wordContext string
	)
	cmd := &cobra.Command{
		Use:   "add <word>",
		Short: "Save a word to a user's vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				entry := &store.VocabularyEntry{
					UserRef:     user,
					Word:        args[0],
					Translation: translation,
					Phonetic:    phonetic,
					Definition:  definition,
					Example:     example,
					Context:     wordContext,
				}
				if videoRef != "" {
					video, err := resolveVideo(ctx, st, videoRef)
					if err != nil {
						return err
					}
					entry.VideoID = &video.ID
					if timestamp > 0 {
						entry.TimestampSecs = &timestamp
					}
				}
				created, err := st.AddVocabulary(ctx, entry)
				if err != nil {
					return err
				}
				printf("saved %q for %s (entry %d)", created.Word, created.UserRef, created.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user reference")
	cmd.Flags().StringVar(&translation, "translation", "", "translation")
	cmd.Flags().StringVar(&phonetic, "phonetic", "", "phonetic transcription")
	cmd.Flags().StringVar(&definition, "definition", "", "definition")
	cmd.Flags().StringVar(&example, "example", "", "example sentence")
	cmd.Flags().StringVar(&videoRef, "video", "", "source video id or slug")
	cmd.Flags().Float64Var(&timestamp, "timestamp", 0, "timestamp in the source video (seconds)")
	cmd.Flags().StringVar(&wordContext, "context", "", "sentence the word appeared in")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVocabListCommand(cli *cliContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's vocabulary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				entries, err := st.ListVocabulary(cmd.Context(), user)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					printf("no vocabulary for %s", user)
					return nil
				}
				t := newTable()
				t.AppendHeader(table.Row{"id", "word", "translation", "mastery", "reviews", "video"})
				for _, entry := range entries {
					video := "-"
					if entry.VideoID != nil {
						video = strconv.FormatInt(*entry.VideoID, 10)
					}
					t.AppendRow(table.Row{
						entry.ID,
						entry.Word,
						dash(entry.Translation),
						entry.Mastery,
						entry.ReviewCount,
						video,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user reference")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVocabReviewCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review <entry-id> <mastery>",
		Short: "Record a review outcome (mastery 0..5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid entry id %q", args[0])
				}
				mastery, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid mastery %q", args[1])
				}
				if err := st.ReviewVocabulary(cmd.Context(), id, mastery); err != nil {
					return err
				}
				printf("entry %d reviewed, mastery %d", id, mastery)
				return nil
			})
		},
	}
}

func newVocabRemoveCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <entry-id>",
		Short: "Delete a vocabulary entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid entry id %q", args[0])
				}
				removed, err := st.RemoveVocabulary(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("entry %d not found", id)
				}
				printf("removed entry %d", id)
				return nil
			})
		},
	}
}
