// Package app wires configuration into the backend client, the stream
// dialer, the capture device and the orchestrator.
package app

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/audio"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	"github.com/GriffinCanCode/talktotext/internal/config"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/live"
	"github.com/GriffinCanCode/talktotext/internal/resilience"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

// App holds the long-lived components shared by every command.
type App struct {
	Config   *config.Config
	Identity auth.Source
	Backend  *api.Client
	Manager  *orchestrator.Manager
}

// New builds the application from cfg.
func New(cfg *config.Config) *App {
	breaker := resilience.New(resilience.Config{
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerReset,
	}, apperrors.IsRetryable).WithHook(func(from, to resilience.State) {
		slog.Warn("backend circuit changed", "from", from, "to", to)
	})
	backend := api.New(cfg.BackendURL, cfg.HTTPTimeout, api.WithBreaker(breaker))

	stream := &api.StreamDialer{URL: cfg.StreamEndpoint()}
	dialer := live.DialerFunc(func(ctx context.Context, language string) (live.Conn, error) {
		conn, err := stream.Dial(ctx, language)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})

	mic := audio.NewMicrophone(cfg.SampleRate, cfg.ExcludedAudioDevices)
	opener := live.OpenerFunc(func() (live.Device, error) {
		dev, err := mic.Open()
		if err != nil {
			return nil, err
		}
		slog.Info("capture device selected", "device", dev.Name())
		return dev, nil
	})

	backoff := resilience.NoBackoff
	if cfg.ReconnectBackoff > 0 {
		backoff = resilience.ExponentialBackoff(cfg.ReconnectBackoff, resilience.DefaultMaxDelay, resilience.DefaultJitterFactor)
	}

	mgr := orchestrator.New(backend, dialer, opener, orchestrator.Options{
		PollInterval: cfg.PollInterval,
		AutoOpen:     cfg.AutoOpen,
		Live: live.Config{
			InitialChunk:   cfg.InitialChunk,
			ReconnectChunk: cfg.ReconnectChunk,
			MaxAttempts:    cfg.MaxReconnectAttempts,
			Backoff:        backoff,
		},
	})

	return &App{
		Config:   cfg,
		Identity: auth.StaticSource{Token: cfg.AuthToken, UserID: cfg.UserID},
		Backend:  backend,
		Manager:  mgr,
	}
}

// Context resolves the configured identity once and starts a trace for
// one user action.
func (a *App) Context(ctx context.Context) (context.Context, error) {
	ctx, _ = trace.EnsureContext(ctx)
	return auth.Bind(ctx, a.Identity)
}

// Close releases the active session.
func (a *App) Close() {
	a.Manager.Close()
}

// NewLogger returns a text logger at the named level. Unknown names mean
// info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
