// Package live runs a live capture session: it streams microphone chunks to
// the transcription endpoint, folds the fragments it receives, and
// reconnects through the connection policy when the stream drops.
package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/talktotext/internal/resilience"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

const (
	DefaultInitialChunk   = 5 * time.Second
	DefaultReconnectChunk = time.Second

	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// State is the connection lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// Terminal reports whether the session has ended.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// Conn is an open stream.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, chunk []byte) error
	Close() error
}

// Dialer opens streams as the identity in ctx.
type Dialer interface {
	Dial(ctx context.Context, language string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, language string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, language string) (Conn, error) { return f(ctx, language) }

// Device is an opened capture device.
type Device interface {
	Start(slice time.Duration, onChunk func([]byte)) error
	Pause()
	Close() error
}

// Opener acquires the capture device.
type Opener interface {
	Open() (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() (Device, error)

// Open implements Opener.
func (f OpenerFunc) Open() (Device, error) { return f() }

// Config tunes chunking and reconnection.
type Config struct {
	InitialChunk   time.Duration
	ReconnectChunk time.Duration
	MaxAttempts    int
	Backoff        resilience.Backoff
}

func (c Config) withDefaults() Config {
	if c.InitialChunk <= 0 {
		c.InitialChunk = DefaultInitialChunk
	}
	if c.ReconnectChunk <= 0 {
		c.ReconnectChunk = DefaultReconnectChunk
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = resilience.DefaultMaxReconnects
	}
	if c.Backoff == nil {
		c.Backoff = resilience.NoBackoff
	}
	return c
}

// Status is a point-in-time view of the session.
type Status struct {
	ID         string
	State      State
	RunID      string
	Transcript string
	Insights   transcript.Insights
	Attempts   int
	Err        error
}

// Hooks receive session output. They run on the session goroutine and must
// not call Stop.
type Hooks struct {
	// OnUpdate fires on every state or content change.
	OnUpdate func(Status)
	// OnTranscript fires with each appended transcript segment.
	OnTranscript func(runID, text string)
	// OnTerminal fires once when the session reaches closed or failed.
	OnTerminal func(Status)
}

type eventKind int

const (
	evOpened eventKind = iota
	evMessage
	evClosed
	evErrored
	evChunk
	evStop
)

var eventNames = [...]string{"opened", "message", "closed", "errored", "chunk", "stop"}

func (k eventKind) String() string { return eventNames[k] }

type event struct {
	kind eventKind
	gen  int
	conn Conn
	data []byte
	err  error
}

// Session is a single live capture. Start it once; Stop is synchronous and
// safe to call at any time.
type Session struct {
	id     string
	dialer Dialer
	opener Opener
	cfg    Config
	hooks  Hooks

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	started bool

	mu     sync.RWMutex
	status Status

	// owned by the run goroutine
	ctx         context.Context
	cancel      context.CancelFunc
	language    string
	state       State
	gen         int
	conn        Conn
	connCancel  context.CancelFunc
	device      Device
	releaseOnce sync.Once
	everOpened  bool
	policy      *resilience.Reconnector
	store       *transcript.Store
	log         *slog.Logger
}

// New creates an idle session.
func New(dialer Dialer, opener Opener, cfg Config, hooks Hooks) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:     id,
		dialer: dialer,
		opener: opener,
		cfg:    cfg,
		hooks:  hooks,
		events: make(chan event, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		status: Status{ID: id, State: StateIdle},
		state:  StateIdle,
		policy: resilience.NewReconnector(cfg.MaxAttempts, cfg.Backoff),
		store:  transcript.NewStore(),
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the latest published status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start opens the capture device and begins connecting. The identity and
// trace in ctx are used for every dial; ctx cancellation does not stop the
// session, Stop does. Hooks are not called before Start returns.
func (s *Session) Start(ctx context.Context, language string) error {
	if s.started {
		return apperrors.New(apperrors.InvalidArgument, "session already started")
	}
	if _, err := auth.Require(ctx); err != nil {
		return err
	}
	dev, err := s.opener.Open()
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.Permission {
			err = apperrors.Wrap(err, apperrors.Permission, "cannot open capture device")
		}
		return err
	}

	s.started = true
	s.device = dev
	s.language = language
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.log = trace.Logger(s.ctx).With("session", s.id)

	s.state = StateConnecting
	s.mu.Lock()
	s.status.State = StateConnecting
	s.mu.Unlock()
	s.log.Info("live session starting", "language", language)
	s.redial(0)
	go s.run()
	return nil
}

// Stop ends the session without reconnecting and releases the connection
// and device before returning.
func (s *Session) Stop() {
	if !s.started {
		return
	}
	select {
	case s.events <- event{kind: evStop}:
	case <-s.done:
		return
	}
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.quit)
	defer s.cancel()

	for ev := range s.events {
		if s.handle(ev) {
			return
		}
	}
}

// handle applies one event and reports whether the session ended.
func (s *Session) handle(ev event) bool {
	if ev.kind != evChunk && ev.kind != evStop && ev.gen != s.gen {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		s.log.Debug("stale connection event", "event", ev.kind, "gen", ev.gen)
		return false
	}

	switch ev.kind {
	case evOpened:
		return s.onOpened(ev.conn)
	case evMessage:
		s.onMessage(ev.data)
	case evClosed:
		if errors.Is(ev.err, io.EOF) {
			s.log.Info("stream closed by server")
			s.finish(StateClosed, nil)
			return true
		}
		s.log.Warn("stream dropped", "error", ev.err)
		return s.reconnect(ev.err)
	case evErrored:
		s.log.Warn("stream dial failed", "error", ev.err)
		if apperrors.IsCode(ev.err, apperrors.AuthRequired) {
			s.finish(StateFailed, ev.err)
			return true
		}
		return s.reconnect(ev.err)
	case evChunk:
		s.onChunk(ev.data)
	case evStop:
		s.log.Info("live session stopped")
		s.finish(StateClosed, nil)
		return true
	}
	return false
}

func (s *Session) onOpened(conn Conn) bool {
	s.conn = conn
	s.policy.Reset()
	s.setAttempts(0)

	slice := s.cfg.InitialChunk
	if s.everOpened {
		slice = s.cfg.ReconnectChunk
	}
	s.everOpened = true

	if err := s.device.Start(slice, s.postChunk); err != nil {
		s.log.Error("capture start failed", "error", err)
		s.finish(StateFailed, err)
		return true
	}
	s.log.Info("stream open", "chunk", slice)
	s.setState(StateOpen)
	return false
}

func (s *Session) onMessage(data []byte) {
	frag, err := api.DecodeFragment(data)
	if err != nil {
		s.log.Warn("ignoring stream frame", "error", err, "bytes", len(data))
		return
	}
	text := s.store.Apply(frag)
	s.publish()
	if text != "" && s.hooks.OnTranscript != nil {
		s.hooks.OnTranscript(s.store.RunID(), text)
	}
}

func (s *Session) onChunk(chunk []byte) {
	if s.state != StateOpen || s.conn == nil {
		s.log.Debug("dropping chunk while not open", "state", s.state, "bytes", len(chunk))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, chunk); err != nil {
		s.log.Debug("chunk write failed", "error", err)
	}
}

// reconnect consults the policy after an abnormal closure or failed dial.
func (s *Session) reconnect(cause error) bool {
	s.device.Pause()
	s.closeConn()

	d := s.policy.Next()
	_, span := trace.StartSpan(s.ctx, "live_reconnect")
	span.SetAttr("decision", d.Label())
	span.End()

	if d.Verdict == resilience.GiveUp {
		err := apperrors.Wrap(cause, apperrors.ConnectionExhausted,
			"unable to reach live transcription after multiple attempts").
			WithMetadata("attempts", d.Label())
		s.log.Error("giving up on stream", "decision", d.Label())
		s.finish(StateFailed, err)
		return true
	}

	s.log.Info("reconnecting stream", "decision", d.Label(), "delay", d.Delay)
	s.setAttempts(d.Attempt)
	s.setState(StateReconnecting)
	s.redial(d.Delay)
	return false
}

// redial starts a new connection generation.
func (s *Session) redial(delay time.Duration) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.connCancel = cancel

	go func() {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
		conn, err := s.dialer.Dial(ctx, s.language)
		if err != nil {
			s.post(event{kind: evErrored, gen: gen, err: err})
			return
		}
		if !s.post(event{kind: evOpened, gen: gen, conn: conn}) {
			_ = conn.Close()
			return
		}
		for {
			data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.post(event{kind: evClosed, gen: gen, err: err})
				}
				return
			}
			if !s.post(event{kind: evMessage, gen: gen, data: data}) {
				return
			}
		}
	}()
}

// post delivers a connection event unless the session has ended.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// postChunk is the device callback. Chunks are dropped rather than
// blocking the capture goroutine.
func (s *Session) postChunk(chunk []byte) {
	select {
	case s.events <- event{kind: evChunk, data: chunk}:
	case <-s.quit:
	default:
		s.log.Debug("event queue full, dropping chunk", "bytes", len(chunk))
	}
}

func (s *Session) closeConn() {
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if err := s.device.Close(); err != nil {
			s.log.Warn("capture release failed", "error", err)
		}
	})
}

func (s *Session) finish(state State, err error) {
	s.closeConn()
	s.device.Pause()
	s.release()

	s.state = state
	s.mu.Lock()
	s.status.State = state
	s.status.Err = err
	s.mu.Unlock()
	st := s.publish()
	if s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal(st)
	}
}

func (s *Session) setState(state State) {
	s.state = state
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
	s.publish()
}

func (s *Session) setAttempts(n int) {
	s.mu.Lock()
	s.status.Attempts = n
	s.mu.Unlock()
}

func (s *Session) publish() Status {
	snap := s.store.Snapshot()
	s.mu.Lock()
	s.status.RunID = snap.RunID
	s.status.Transcript = snap.Transcript
	s.status.Insights = snap.Insights
	st := s.status
	s.mu.Unlock()
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(st)
	}
	return st
}
