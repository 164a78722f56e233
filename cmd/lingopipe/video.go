package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/search"
	"lingopipe/internal/store"
)

func newVideoCommand(cli *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Manage videos and their processing",
	}
	cmd.AddCommand(
		newVideoAddCommand(cli),
		newVideoListCommand(cli),
		newVideoProcessCommand(cli),
		newVideoStatusCommand(cli),
		newVideoReindexCommand(cli),
		newVideoRemoveCommand(cli),
	)
	return cmd
}

// resolveVideo accepts either a numeric id or a slug.
func resolveVideo(ctx context.Context, st *store.Store, ref string) (*store.Video, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		video, err := st.GetVideo(ctx, id)
		if err != nil {
			return nil, err
		}
		if video != nil {
			return video, nil
		}
	}
	video, err := st.GetVideoBySlug(ctx, ref)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("video %q not found", ref)
	}
	return video, nil
}

func newVideoAddCommand(cli *cliContext) *cobra.Command {
	var (
		title       string
		slug        string
		source      string
		level       string
		language    string
		category    string
		description string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a video for processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()

				parsedLevel, ok := store.ParseLevel(level)
				if !ok {
					return fmt.Errorf("unknown level %q (expected A1..C2)", level)
				}

				video := &store.Video{
					Title:       title,
					Slug:        slug,
					Description: description,
					SourceURL:   source,
					Level:       parsedLevel,
					Language:    language,
				}
				if category != "" {
					cat, err := st.GetCategoryBySlug(ctx, category)
					if err != nil {
						return err
					}
					if cat == nil {
						return fmt.Errorf("category %q not found", category)
					}
					video.CategoryID = &cat.ID
				}

				created, err := st.CreateVideo(ctx, video)
				if err != nil {
					return err
				}
				printf("added video %d (%s)", created.ID, created.Slug)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "video title")
	cmd.Flags().StringVar(&slug, "slug", "", "unique slug")
	cmd.Flags().StringVar(&source, "source", "", "source path or URL")
	cmd.Flags().StringVar(&level, "level", "B1", "difficulty level (A1..C2)")
	cmd.Flags().StringVar(&language, "language", "en", "spoken language")
	cmd.Flags().StringVar(&category, "category", "", "category slug")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newVideoListCommand(cli *cliContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				var statuses []store.VideoStatus
				if status != "" {
					parsed, ok := store.ParseVideoStatus(status)
					if !ok {
						return fmt.Errorf("unknown status %q", status)
					}
					statuses = append(statuses, parsed)
				}
				videos, err := st.ListVideos(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(videos) == 0 {
					printf("no videos")
					return nil
				}

				t := newTable()
				t.AppendHeader(table.Row{"id", "slug", "title", "level", "status", "duration", "published"})
				for _, video := range videos {
					t.AppendRow(table.Row{
						video.ID,
						video.Slug,
						video.Title,
						video.Level,
						video.Status,
						formatDuration(video.DurationSecs),
						formatTime(video.PublishedAt),
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft|processing|published|archived)")
	return cmd
}

func newVideoProcessCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <id|slug>",
		Short: "Queue a video for pipeline processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				video, err := resolveVideo(ctx, st, args[0])
				if err != nil {
					return err
				}
				job, err := st.CreateJob(ctx, video.ID)
				if err != nil {
					return err
				}
				if job.Stage != store.StageQueued {
					printf("queued job %d for video %d, resuming at %s", job.ID, video.ID, job.Stage)
				} else {
					printf("queued job %d for video %d", job.ID, video.ID)
				}
				return nil
			})
		},
	}
}

func newVideoStatusCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id|slug>",
		Short: "Show a video and its latest processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				video, err := resolveVideo(ctx, st, args[0])
				if err != nil {
					return err
				}

				printf("video %d: %s", video.ID, video.Title)
				printf("  slug:       %s", video.Slug)
				printf("  status:     %s", video.Status)
				printf("  level:      %s", video.Level)
				printf("  language:   %s", video.Language)
				printf("  duration:   %s", formatDuration(video.DurationSecs))
				printf("  resolution: %s", dash(video.Resolution))
				printf("  source:     %s", video.SourceURL)

				subtitlesList, err := st.ListSubtitles(ctx, video.ID)
				if err != nil {
					return err
				}
				languages := make([]string, 0, len(subtitlesList))
				for _, track := range subtitlesList {
					languages = append(languages, track.Language)
				}
				printf("  subtitles:  %s", dash(strings.Join(languages, ", ")))

				job, err := st.LatestJobForVideo(ctx, video.ID)
				if err != nil {
					return err
				}
				if job == nil {
					printf("  job:        none")
					return nil
				}
				printf("  job %d:", job.ID)
				printf("    stage:    %s", job.Stage)
				if job.Stage == store.StageFailed {
					printf("    resume:   %s", job.ResumeStage)
					printf("    error:    %s", dash(job.ErrorMessage))
					printf("    retryable: %t", job.Retryable)
				}
				printf("    attempts: %d", job.Attempts)
				printf("    started:  %s", formatTime(job.StartedAt))
				printf("    finished: %s", formatTime(job.FinishedAt))
				return nil
			})
		},
	}
}

func newVideoReindexCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <id|slug>",
		Short: "Rebuild a video's search index documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				video, err := resolveVideo(ctx, st, args[0])
				if err != nil {
					return err
				}
				sentences, err := st.ListSentences(ctx, video.ID)
				if err != nil {
					return err
				}
				if len(sentences) == 0 {
					return fmt.Errorf("video %d has no transcript sentences; process it first", video.ID)
				}
				var category *store.Category
				if video.CategoryID != nil {
					category, err = st.GetCategory(ctx, *video.CategoryID)
					if err != nil {
						return err
					}
				}

				client := search.NewClient(cfg.Search)
				if err := client.EnsureIndex(ctx); err != nil {
					return err
				}
				if err := client.DeleteByVideo(ctx, video.ID); err != nil {
					return err
				}
				documents := search.BuildDocuments(video, category, sentences)
				if err := client.BulkIndex(ctx, documents); err != nil {
					return err
				}
				printf("reindexed %d sentences for video %d", len(documents), video.ID)
				return nil
			})
		},
		Args: cobra.ExactArgs(1),
	}
}

func newVideoRemoveCommand(cli *cliContext) *cobra.Command {
	var purgeIndex bool
	cmd := &cobra.Command{
		Use:   "rm <id|slug>",
		Short: "Remove a video and its derived data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				video, err := resolveVideo(ctx, st, args[0])
				if err != nil {
					return err
				}
				if active, err := st.ActiveJobForVideo(ctx, video.ID); err != nil {
					return err
				} else if active != nil {
					return fmt.Errorf("video %d has an active job; cancel it first", video.ID)
				}

				if purgeIndex {
					if err := search.NewClient(cfg.Search).DeleteByVideo(ctx, video.ID); err != nil {
						return err
					}
				}
				removed, err := st.RemoveVideo(ctx, video.ID)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("video %d not found", video.ID)
				}
				printf("removed video %d (%s)", video.ID, video.Slug)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purgeIndex, "purge-index", false, "also delete the video's search documents")
	return cmd
}
