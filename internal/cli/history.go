package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/output"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show and manage a meeting's conversation",
		Long:  "Turns are referenced by the position printed by 'history list'.",
	}

	cmd.AddCommand(newHistoryListCmd(deps))
	cmd.AddCommand(newHistoryDeleteCmd(deps))
	cmd.AddCommand(newHistoryEditCmd(deps))
	cmd.AddCommand(newHistoryClearCmd(deps))
	cmd.AddCommand(newHistoryDownloadCmd(deps))

	return cmd
}

func newHistoryListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list <run_id>",
		Short: "Print the conversation timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			if err := deps.App.Manager.OpenMeeting(ctx, args[0]); err != nil {
				return err
			}

			turns := deps.App.Manager.Snapshot().Timeline
			if len(turns) == 0 {
				formatter.Info("No conversation yet")
				return nil
			}
			for i, t := range turns {
				formatter.Turn(i+1, t)
			}
			return nil
		},
	}
}

func newHistoryDeleteCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id> <turn>",
		Short: "Delete the exchange a turn belongs to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			m := deps.App.Manager
			if err := m.OpenMeeting(ctx, args[0]); err != nil {
				return err
			}
			turn, err := turnAt(m.Snapshot(), args[1])
			if err != nil {
				return err
			}
			if err := m.DeleteTurn(ctx, turn.ID); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Success("Exchange deleted")
			return nil
		},
	}
}

func newHistoryEditCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <run_id> <turn> <content>",
		Short: "Rewrite a question or answer",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			m := deps.App.Manager
			if err := m.OpenMeeting(ctx, args[0]); err != nil {
				return err
			}
			turn, err := turnAt(m.Snapshot(), args[1])
			if err != nil {
				return err
			}
			if err := m.EditTurn(ctx, turn.ID, strings.Join(args[2:], " ")); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Success("Exchange updated")
			return nil
		},
	}
}

func newHistoryClearCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <run_id>",
		Short: "Delete the whole conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			m := deps.App.Manager
			if err := m.OpenMeeting(ctx, args[0]); err != nil {
				return err
			}
			if err := m.DeleteAllTurns(ctx); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Success("Conversation cleared")
			return nil
		},
	}
}

func newHistoryDownloadCmd(deps *Dependencies) *cobra.Command {
	var format string
	var dir string

	cmd := &cobra.Command{
		Use:   "download <run_id>",
		Short: "Export the conversation as a Word or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			if format != api.FormatWord && format != api.FormatCSV {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, api.FormatWord, api.FormatCSV)
			}

			path := filepath.Join(dir, DownloadName(args[0], format))
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			n, err := deps.App.Manager.Download(ctx, args[0], format, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(path)
				return err
			}
			output.NewFormatter(os.Stdout).Saved(path, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", api.FormatWord, "Export format: word or csv")
	cmd.Flags().StringVarP(&dir, "dir", "d", deps.Config.DownloadDir, "Directory to save into")

	return cmd
}

// DownloadName is the local file name of a conversation export.
func DownloadName(runID, format string) string {
	return fmt.Sprintf("meeting_%s.%s", runID, format)
}
