package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/app"
	"github.com/GriffinCanCode/talktotext/internal/config"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator"
	"github.com/GriffinCanCode/talktotext/internal/version"
)

type Dependencies struct {
	App    *app.App
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "talktotext",
		Short:         "Transcribe, analyze and chat about meetings",
		Long:          "A client for the talktotext backend: upload recordings or transcribe live from the microphone, then browse, chat about and export meetings.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewUploadCmd(deps))
	rootCmd.AddCommand(NewLiveCmd(deps))
	rootCmd.AddCommand(NewMeetingsCmd(deps))
	rootCmd.AddCommand(NewChatCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))

	return rootCmd
}

// waitUntil blocks until cond holds for the manager's snapshot or ctx ends.
func waitUntil(ctx context.Context, m *orchestrator.Manager, cond func(orchestrator.Snapshot) bool) (orchestrator.Snapshot, error) {
	changes, stop := m.Watch()
	defer stop()
	for {
		snap := m.Snapshot()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changes:
		}
	}
}

// turnAt resolves a 1-based timeline position as printed by history list.
func turnAt(snap orchestrator.Snapshot, arg string) (meeting.Turn, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(snap.Timeline) {
		return meeting.Turn{}, apperrors.Newf(apperrors.InvalidArgument, "no turn %q (have %d)", arg, len(snap.Timeline))
	}
	return snap.Timeline[n-1], nil
}
