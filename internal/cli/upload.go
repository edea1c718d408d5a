package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/batch"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/timeline"
	"github.com/GriffinCanCode/talktotext/internal/output"
)

func NewUploadCmd(deps *Dependencies) *cobra.Command {
	var language string
	var wait bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording for transcription and analysis",
		Long:  "Upload an audio or video file. With --wait (the default) the command polls until the analysis is ready and prints it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)

			ctx, err := deps.App.Context(cmd.Context())
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			a, err := api.ReadArtifact(f, args[0])
			f.Close()
			if err != nil {
				return err
			}

			formatter.Uploading(a.Filename)
			runID, err := deps.App.Manager.StartUpload(ctx, a, language)
			if err != nil {
				return err
			}
			formatter.Submitted(runID)
			if !wait {
				return nil
			}

			lastStatus := "-"
			snap, err := waitUntil(ctx, deps.App.Manager, func(s orchestrator.Snapshot) bool {
				bs, ok := s.Session.(orchestrator.BatchSession)
				if !ok {
					return true
				}
				if bs.Phase == batch.PhasePolling && bs.Status != lastStatus {
					lastStatus = bs.Status
					formatter.Processing(bs.Status)
				}
				return bs.Phase.Terminal()
			})
			if err != nil {
				return err
			}

			bs, _ := snap.Session.(orchestrator.BatchSession)
			if bs.Phase == batch.PhaseFailed {
				return bs.Err
			}
			formatter.Success("Analysis ready for " + runID)
			if text := timeline.Format(bs.Result); text != "" {
				formatter.Result(text)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", deps.Config.Language, "Spoken language code")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the analysis and print it")

	return cmd
}
