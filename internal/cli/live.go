package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/orchestrator"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/live"
	"github.com/GriffinCanCode/talktotext/internal/output"
)

func NewLiveCmd(deps *Dependencies) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Transcribe from the microphone in real time",
		Long:  "Stream microphone audio to the backend and print the transcript as it arrives. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			m := deps.App.Manager

			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}

			id, err := m.StartLive(ctx, language)
			if err != nil {
				return err
			}
			started := time.Now()
			formatter.LiveStarted(id)

			printed, attempts := 0, 0
			snap, err := waitUntil(ctx, m, func(s orchestrator.Snapshot) bool {
				ls, ok := s.Session.(orchestrator.LiveSession)
				if !ok || ls.ID != id {
					return true
				}
				if len(ls.Transcript) > printed {
					formatter.Transcript(ls.Transcript[printed:])
					printed = len(ls.Transcript)
				}
				if ls.State == live.StateReconnecting && ls.Attempts != attempts {
					attempts = ls.Attempts
					formatter.Reconnecting(attempts, deps.Config.MaxReconnectAttempts)
				}
				return ls.State.Terminal()
			})
			if errors.Is(err, context.Canceled) {
				if err := m.StopLive(context.Background()); err != nil {
					return err
				}
				snap = m.Snapshot()
			} else if err != nil {
				return err
			}

			ls, _ := snap.Session.(orchestrator.LiveSession)
			if ls.State == live.StateFailed {
				return ls.Err
			}
			formatter.LiveStopped(ls.RunID, time.Since(started))
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", deps.Config.Language, "Spoken language code")

	return cmd
}
