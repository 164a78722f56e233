package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/store"
)

func newCategoryCommand(cli *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage video categories",
	}
	cmd.AddCommand(
		newCategoryAddCommand(cli),
		newCategoryListCommand(cli),
		newCategoryRemoveCommand(cli),
	)
	return cmd
}

func newCategoryAddCommand(cli *cliContext) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add <name> <slug>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				category, err := st.CreateCategory(cmd.Context(), args[0], args[1], description)
				if err != nil {
					return err
				}
				printf("added category %d (%s)", category.ID, category.Slug)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "category description")
	return cmd
}

func newCategoryListCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				categories, err := st.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				if len(categories) == 0 {
					printf("no categories")
					return nil
				}
				t := newTable()
				t.AppendHeader(table.Row{"id", "name", "slug", "description"})
				for _, category := range categories {
					t.AppendRow(table.Row{category.ID, category.Name, category.Slug, dash(category.Description)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newCategoryRemoveCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|slug>",
		Short: "Remove a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					category, err := st.GetCategoryBySlug(ctx, args[0])
					if err != nil {
						return err
					}
					if category == nil {
						return fmt.Errorf("category %q not found", args[0])
					}
					id = category.ID
				}
				removed, err := st.RemoveCategory(ctx, id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("category %q not found", args[0])
				}
				printf("removed category %d", id)
				return nil
			})
		},
	}
}
