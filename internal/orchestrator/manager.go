package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/batch"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/live"
	"github.com/GriffinCanCode/talktotext/internal/syncx"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

// Backend is the HTTP surface the manager drives. *api.Client implements it.
type Backend interface {
	batch.Client
	Meetings(ctx context.Context) ([]meeting.Meeting, error)
	RenameMeeting(ctx context.Context, runID, filename string) error
	DeleteMeeting(ctx context.Context, runID string) error
	Conversations(ctx context.Context, runID string) ([]api.Exchange, error)
	DeleteExchange(ctx context.Context, runID, chatID string) error
	DeleteConversations(ctx context.Context, runID string) error
	EditExchange(ctx context.Context, runID, chatID, message, response string) error
	Download(ctx context.Context, runID, format string, w io.Writer) (int64, error)
	Chat(ctx context.Context, runID, message string) (api.Reply, error)
}

// Options tunes the sessions the manager creates.
type Options struct {
	PollInterval time.Duration
	Live         live.Config
	// AutoOpen opens a batch meeting as soon as its analysis is ready.
	AutoOpen bool
	Now      func() time.Time
}

// Manager is the meeting state store. Every mutation goes through its
// methods under one mutex; readers use Snapshot or Watch.
//
// Session callbacks take mu, so mu is never held while stopping a session,
// cancelling a tracker, or starting either.
type Manager struct {
	backend Backend
	dialer  live.Dialer
	opener  live.Opener
	opts    Options

	// lifecycle serializes session replacement
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    Snapshot
	activeID string
	tracker  *batch.Tracker
	liveSess *live.Session
	openSeq  uint64

	view *syncx.Latest[Snapshot]
}

// New creates a manager with an empty read model.
func New(backend Backend, dialer live.Dialer, opener live.Opener, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		backend: backend,
		dialer:  dialer,
		opener:  opener,
		opts:    opts,
		view:    syncx.NewLatest(Snapshot{}.clone()),
	}
}

// Snapshot returns the latest read model.
func (m *Manager) Snapshot() Snapshot {
	return m.view.Get()
}

// Watch signals after every read model change. Call the returned func to
// stop watching.
func (m *Manager) Watch() (<-chan struct{}, func()) {
	return m.view.Watch()
}

func (m *Manager) publishLocked() {
	m.state.Version++
	m.view.Publish(m.state.clone())
}

func (m *Manager) noticeLocked(err error, fatal bool) {
	m.state.Notices = append(m.state.Notices, noticeOf(err, fatal, m.opts.Now()))
	if n := len(m.state.Notices); n > MaxNotices {
		m.state.Notices = append([]Notice(nil), m.state.Notices[n-MaxNotices:]...)
	}
}

// ClearNotices empties the notice list.
func (m *Manager) ClearNotices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Notices = nil
	m.publishLocked()
}

// detachLocked forgets the active session and returns its teardown, which
// the caller runs after releasing mu.
func (m *Manager) detachLocked() func() {
	tr, ls := m.tracker, m.liveSess
	m.activeID, m.tracker, m.liveSess = "", nil, nil
	return func() {
		if tr != nil {
			tr.Cancel()
		}
		if ls != nil {
			ls.Stop()
		}
	}
}

func (m *Manager) replaceSession() {
	m.mu.Lock()
	teardown := m.detachLocked()
	m.mu.Unlock()
	teardown()
}

// beginLocked installs a new session and clears the timeline.
func (m *Manager) beginLocked(id string, s Session) {
	m.activeID = id
	m.state.Session = s
	m.state.Selected = ""
	m.state.Timeline = nil
	m.openSeq++
}

// StartUpload submits a recorded file and tracks it until the analysis is
// ready. Any previous session is torn down first. It returns the run ID.
func (m *Manager) StartUpload(ctx context.Context, a api.Artifact, language string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "start_upload")
	defer span.End()
	span.SetAttr("file", a.Filename)

	if a.Empty() {
		return "", apperrors.New(apperrors.Submission, "no file selected")
	}
	if !meeting.ValidLanguage(language) {
		return "", apperrors.Newf(apperrors.InvalidArgument, "unsupported language %q", language)
	}
	if _, err := auth.Require(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	follow := context.WithoutCancel(ctx)
	tr := batch.New(m.backend, m.opts.PollInterval, func(u batch.Update) {
		m.onBatch(follow, id, u)
	})

	m.lifecycle.Lock()
	m.replaceSession()
	m.mu.Lock()
	m.beginLocked(id, BatchSession{ID: id, Phase: batch.PhaseSubmitted})
	m.tracker = tr
	m.publishLocked()
	m.mu.Unlock()
	m.lifecycle.Unlock()

	runID, err := tr.Submit(ctx, a, language)

	m.mu.Lock()
	active := m.activeID == id
	if active {
		bs, _ := m.state.Session.(BatchSession)
		if err != nil {
			bs.Phase, bs.Err = batch.PhaseFailed, err
			m.noticeLocked(err, true)
		} else {
			bs.RunID = runID
		}
		m.state.Session = bs
		m.publishLocked()
	}
	m.mu.Unlock()

	if err != nil {
		span.SetAttr("error", err.Error())
		return "", err
	}
	span.SetAttr("run_id", runID)
	if active {
		tr.Track(follow, runID)
	}
	return runID, nil
}

func (m *Manager) onBatch(ctx context.Context, id string, u batch.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != id {
		return
	}
	bs, _ := m.state.Session.(BatchSession)
	if u.RunID != "" {
		bs.RunID = u.RunID
	}
	bs.Phase, bs.Status, bs.Err = u.Phase, u.Status, u.Err
	if u.Result != nil {
		bs.Result = u.Result
	}
	m.state.Session = bs

	switch u.Phase {
	case batch.PhaseFailed:
		m.noticeLocked(u.Err, true)
	case batch.PhaseDone:
		go m.afterBatch(ctx, id, bs.RunID)
	}
	m.publishLocked()
}

// afterBatch refreshes the meeting list and, when configured, opens the
// finished meeting if its session is still the active one.
func (m *Manager) afterBatch(ctx context.Context, id, runID string) {
	ctx, cancel := context.WithTimeout(ctx, FollowUpTimeout)
	defer cancel()

	_, _ = m.RefreshMeetings(ctx)
	if !m.opts.AutoOpen {
		return
	}
	m.mu.Lock()
	active := m.activeID == id
	m.mu.Unlock()
	if active {
		_ = m.OpenMeeting(ctx, runID)
	}
}

// StartLive begins a live capture session. Any previous session is torn
// down first. It returns the session ID.
func (m *Manager) StartLive(ctx context.Context, language string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "start_live")
	defer span.End()
	span.SetAttr("language", language)

	if !meeting.ValidLanguage(language) {
		return "", apperrors.Newf(apperrors.InvalidArgument, "unsupported language %q", language)
	}
	if _, err := auth.Require(ctx); err != nil {
		return "", err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	var id string
	follow := context.WithoutCancel(ctx)
	s := live.New(m.dialer, m.opener, m.opts.Live, live.Hooks{
		OnUpdate:     m.onLiveUpdate,
		OnTranscript: func(runID, text string) { m.onLiveTranscript(id, runID, text) },
		OnTerminal:   func(st live.Status) { m.onLiveTerminal(follow, st) },
	})
	id = s.ID()
	span.SetAttr("session", id)

	m.replaceSession()
	m.mu.Lock()
	m.beginLocked(id, LiveSession{ID: id, State: live.StateConnecting})
	m.liveSess = s
	m.publishLocked()
	m.mu.Unlock()

	if err := s.Start(ctx, language); err != nil {
		span.SetAttr("error", err.Error())
		m.mu.Lock()
		if m.activeID == id {
			m.liveSess = nil
			m.state.Session = LiveSession{ID: id, State: live.StateFailed, Err: err}
			m.noticeLocked(err, true)
			m.publishLocked()
		}
		m.mu.Unlock()
		return "", err
	}
	return id, nil
}

func (m *Manager) onLiveUpdate(st live.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != st.ID {
		return
	}
	m.state.Session = liveFromStatus(st)
	m.publishLocked()
}

// onLiveTranscript appends streamed text to the timeline while the live
// meeting is the one open.
func (m *Manager) onLiveTranscript(id, runID, text string) {
	text = strings.TrimSpace(text)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != id || text == "" || runID == "" || m.state.Selected != runID {
		return
	}
	m.state.Timeline = append(m.state.Timeline, meeting.Turn{
		ID:        meeting.NewTurnID(),
		Role:      meeting.RoleAssistant,
		Content:   text,
		Timestamp: m.opts.Now(),
	})
	m.publishLocked()
}

// onLiveTerminal records the end of the active session. Superseded
// sessions only trigger the refresh, since they may have saved a meeting.
func (m *Manager) onLiveTerminal(ctx context.Context, st live.Status) {
	m.mu.Lock()
	if m.activeID == st.ID {
		m.state.Session = liveFromStatus(st)
		if st.Err != nil {
			m.noticeLocked(st.Err, true)
		}
		m.publishLocked()
	}
	m.mu.Unlock()

	// the live meeting is listed once the backend has seen the stream end
	go func() {
		ctx, cancel := context.WithTimeout(ctx, FollowUpTimeout)
		defer cancel()
		_, _ = m.RefreshMeetings(ctx)
	}()
}

// StopLive ends the live session without reconnecting. It returns once the
// connection and the capture device are released.
func (m *Manager) StopLive(ctx context.Context) error {
	_, span := trace.StartSpan(ctx, "stop_live")
	defer span.End()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	s := m.liveSess
	m.mu.Unlock()
	if s == nil {
		return apperrors.New(apperrors.InvalidArgument, "no live session")
	}
	span.SetAttr("session", s.ID())
	s.Stop()
	return nil
}

// Close tears down the active session.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.replaceSession()
}
