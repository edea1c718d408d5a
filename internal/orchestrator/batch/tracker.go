// Package batch submits recorded files and polls the backend until their
// analysis is ready.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

// DefaultPollInterval is the status polling period.
const DefaultPollInterval = 3 * time.Second

// Client is the backend surface the tracker needs.
type Client interface {
	Upload(ctx context.Context, a api.Artifact, language string) (api.Submission, error)
	Status(ctx context.Context, runID string) (api.JobStatus, error)
}

// Phase is the lifecycle position of a batch job.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhasePolling   Phase = "polling"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether no further updates follow.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }

// Update is delivered on every phase observation.
type Update struct {
	RunID  string
	Phase  Phase
	Status string
	Result *meeting.Result
	Err    error
}

// Tracker drives one batch job. It is single-use: Submit, then Track, then
// optionally Cancel.
type Tracker struct {
	client   Client
	interval time.Duration
	onUpdate func(Update)

	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a tracker. onUpdate is never called after Cancel returns.
func New(client Client, interval time.Duration, onUpdate func(Update)) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		client:   client,
		interval: interval,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
}

// Submit uploads the artifact as the identity in ctx and returns its run ID.
func (t *Tracker) Submit(ctx context.Context, a api.Artifact, language string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "batch_submit")
	defer span.End()
	span.SetAttr("bytes", len(a.Data))

	if a.Empty() {
		return "", apperrors.New(apperrors.Submission, "no file selected")
	}
	if _, err := auth.Require(ctx); err != nil {
		return "", err
	}

	sub, err := t.client.Upload(ctx, a, language)
	if err != nil {
		span.SetAttr("error", err.Error())
		return "", err
	}
	span.SetAttr("run_id", sub.RunID)
	trace.Logger(ctx).Info("batch submitted", "run_id", sub.RunID, "file", a.Filename, "language", language)
	return sub.RunID, nil
}

// Track polls runID every interval until the job is terminal, ctx ends, or
// Cancel is called. It returns immediately.
func (t *Tracker) Track(ctx context.Context, runID string) {
	t.mu.Lock()
	if t.cancelled || t.cancel != nil {
		t.mu.Unlock()
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go t.poll(ctx, runID)
}

// Done is closed when polling stops for any reason.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Cancel stops polling. Once it returns no update is delivered, even for a
// poll response already in flight.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel := t.cancel
	if cancel == nil {
		t.closeDone()
	}
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) closeDone() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// deliver runs onUpdate unless the tracker was cancelled. Holding mu during
// the callback is what makes Cancel synchronous.
func (t *Tracker) deliver(u Update) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	if t.onUpdate != nil {
		t.onUpdate(u)
	}
	return true
}

func (t *Tracker) poll(ctx context.Context, runID string) {
	defer func() {
		t.mu.Lock()
		t.closeDone()
		t.mu.Unlock()
	}()

	log := trace.Logger(ctx).With("run_id", runID)
	if !t.deliver(Update{RunID: runID, Phase: PhasePolling}) {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u, terminal := t.check(ctx, runID)
		if ctx.Err() != nil {
			return
		}
		if u == nil {
			continue
		}
		if !t.deliver(*u) || terminal {
			if terminal {
				log.Info("batch finished", "phase", u.Phase)
			}
			return
		}
	}
}

// check performs one status poll. A nil update means nothing to report.
func (t *Tracker) check(ctx context.Context, runID string) (*Update, bool) {
	ctx, span := trace.StartSpan(ctx, "batch_poll")
	defer span.End()
	span.SetAttr("run_id", runID)
	log := trace.Logger(ctx)

	st, err := t.client.Status(ctx, runID)
	switch {
	case err != nil && apperrors.IsCode(err, apperrors.AuthRequired):
		span.SetAttr("error", err.Error())
		return &Update{RunID: runID, Phase: PhaseFailed, Err: err}, true
	case err != nil:
		span.SetAttr("error", err.Error())
		if ctx.Err() == nil {
			log.Warn("status poll failed, will retry", "run_id", runID, "error", err)
		}
		return nil, false
	case st.Done():
		return &Update{RunID: runID, Phase: PhaseDone, Status: st.Status, Result: st.Result}, true
	case st.Failed():
		msg := st.Error
		if msg == "" {
			msg = "processing failed"
		}
		err := apperrors.New(apperrors.Internal, msg).WithMetadata("run_id", runID).WithMetadata("status", st.Status)
		return &Update{RunID: runID, Phase: PhaseFailed, Status: st.Status, Err: err}, true
	default:
		span.SetAttr("status", st.Status)
		return &Update{RunID: runID, Phase: PhasePolling, Status: st.Status}, false
	}
}
