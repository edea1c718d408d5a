// talktotext is the meeting client: batch uploads, live transcription,
// meeting chat, and a local API for UIs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/talktotext/internal/app"
	"github.com/GriffinCanCode/talktotext/internal/cli"
	"github.com/GriffinCanCode/talktotext/internal/config"
	"github.com/GriffinCanCode/talktotext/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup structured logging
	slog.SetDefault(app.NewLogger(os.Stderr, cfg.LogLevel))

	application := app.New(cfg)
	defer application.Close()

	deps := &cli.Dependencies{
		App:    application,
		Config: cfg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
