package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage task worktrees",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List worktrees of this repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				list, err := a.workspaces.ListWorkspaces(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tTASK\tBRANCH\tSTATUS\tPATH")
				for _, info := range list {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.TaskID, info.Branch, info.Status, info.Path)
				}
				return w.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <task-id>",
		Short: "Create a worktree for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				info, err := a.workspaces.CreateWorkspace(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", info.ID, info.Branch, info.Path)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a worktree by id or path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.workspaces.RemoveWorkspace(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

// withApp opens the project app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(*app) error) error {
	tc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), tc, engineOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
