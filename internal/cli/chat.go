package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/output"
)

func NewChatCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <run_id> <message>",
		Short: "Ask a question about a meeting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			m := deps.App.Manager

			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.OpenMeeting(ctx, args[0]); err != nil {
				return err
			}

			reply, err := m.SendChat(ctx, strings.Join(args[1:], " "))
			if reply.ID != "" {
				formatter.Turn(len(m.Snapshot().Timeline), reply)
			}
			return err
		},
	}

	return cmd
}
