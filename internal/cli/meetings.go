package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/output"
)

func NewMeetingsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "List and manage meetings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}

			list, err := deps.App.Manager.RefreshMeetings(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				formatter.Info("No meetings found")
				return nil
			}

			formatter.MeetingListHeader()
			for _, m := range list {
				formatter.MeetingListItem(m)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <run_id> <name>",
		Short: "Rename a meeting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			if err := deps.App.Manager.RenameMeeting(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Success("Meeting renamed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run_id>",
		Short: "Delete a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			if err := deps.App.Manager.DeleteMeeting(ctx, args[0]); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Success("Meeting deleted")
			return nil
		},
	})

	return cmd
}
