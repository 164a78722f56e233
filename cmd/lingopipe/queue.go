package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/store"
)

func newQueueCommand(cli *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the processing queue",
	}
	cmd.AddCommand(
		newQueueListCommand(cli),
		newQueueStatsCommand(cli),
		newQueueRetryCommand(cli),
		newQueueCancelCommand(cli),
		newQueueClearCommand(cli),
	)
	return cmd
}

func newQueueListCommand(cli *cliContext) *cobra.Command {
	var stageFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				var stages []store.Stage
				if stageFilter != "" {
					parsed, ok := store.ParseStage(stageFilter)
					if !ok {
						return fmt.Errorf("unknown stage %q", stageFilter)
					}
					stages = append(stages, parsed)
				}
				jobs, err := st.ListJobs(cmd.Context(), stages...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					printf("no jobs")
					return nil
				}

				t := newTable()
				t.AppendHeader(table.Row{"job", "video", "stage", "attempts", "lease", "error"})
				for _, job := range jobs {
					lease := "-"
					if job.LeaseOwner != "" {
						lease = job.LeaseOwner
					}
					t.AppendRow(table.Row{
						job.ID,
						job.VideoID,
						job.Stage,
						job.Attempts,
						lease,
						dash(job.ErrorMessage),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageFilter, "stage", "", "filter by stage")
	return cmd
}

func newQueueStatsCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable()
				t.AppendHeader(table.Row{"stage", "jobs"})
				for _, stage := range store.AllStages() {
					if count, ok := stats[stage]; ok {
						t.AppendRow(table.Row{stage, count})
					}
				}
				t.Render()
				return nil
			})
		},
	}
}

func newQueueRetryCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed job's video, resuming at the failed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				jobID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				job, err := st.GetJob(ctx, jobID)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", jobID)
				}
				if job.Stage != store.StageFailed {
					return fmt.Errorf("job %d is %s, only failed jobs can be retried", jobID, job.Stage)
				}

				resumed, err := st.CreateJob(ctx, job.VideoID)
				if err != nil {
					return err
				}
				printf("queued job %d for video %d, resuming at %s", resumed.ID, job.VideoID, resumed.Stage)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				jobID, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				cancelled, err := st.CancelJob(ctx, jobID)
				if err != nil {
					return err
				}
				if !cancelled {
					printf("job %d is already finished", jobID)
					return nil
				}
				job, err := st.GetJob(ctx, jobID)
				if err != nil {
					return err
				}
				if job != nil {
					if err := st.SetVideoStatus(ctx, job.VideoID, store.VideoStatusDraft); err != nil {
						return err
					}
				}
				printf("cancelled job %d", jobID)
				return nil
			})
		},
	}
}

func newQueueClearCommand(cli *cliContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished job rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				cutoff := time.Now().Add(-olderThan)
				cleared, err := st.ClearFinishedJobs(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				printf("cleared %d finished jobs", cleared)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only clear jobs finished longer ago than this")
	return cmd
}
