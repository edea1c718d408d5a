package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

type fakeConn struct {
	inbound chan []byte
	drop    chan error

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), drop: make(chan error, 1)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case err := <-c.drop:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, chunk)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// fakeDialer hands out scripted results in order; past the script every
// dial fails.
type fakeDialer struct {
	mu     sync.Mutex
	script []any // *fakeConn or error
	dials  int
	langs  []string
	gate   chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, language string) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	d.langs = append(d.langs, language)
	if i >= len(d.script) {
		return nil, apperrors.New(apperrors.Transport, "connection refused")
	}
	switch v := d.script[i].(type) {
	case *fakeConn:
		return v, nil
	case error:
		return nil, v
	}
	return nil, errors.New("bad script")
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeDevice struct {
	mu      sync.Mutex
	slices  []time.Duration
	onChunk func([]byte)
	pauses  int
	closes  int
}

func (d *fakeDevice) Start(slice time.Duration, onChunk func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slices = append(d.slices, slice)
	d.onChunk = onChunk
	return nil
}

func (d *fakeDevice) Pause() {
	d.mu.Lock()
	d.pauses++
	d.onChunk = nil
	d.mu.Unlock()
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) emit(chunk []byte) {
	d.mu.Lock()
	fn := d.onChunk
	d.mu.Unlock()
	if fn != nil {
		fn(chunk)
	}
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDevice) startedSlices() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.slices...)
}

type hookLog struct {
	mu        sync.Mutex
	segments  []string
	terminals []Status
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnTranscript: func(runID, text string) {
			h.mu.Lock()
			h.segments = append(h.segments, text)
			h.mu.Unlock()
		},
		OnTerminal: func(st Status) {
			h.mu.Lock()
			h.terminals = append(h.terminals, st)
			h.mu.Unlock()
		},
	}
}

func (h *hookLog) terminalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.terminals)
}

func signedIn() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: "u", Token: "t"})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startSession(t *testing.T, d *fakeDialer, dev *fakeDevice, h *hookLog) *Session {
	t.Helper()
	s := New(d, OpenerFunc(func() (Device, error) { return dev, nil }), Config{}, h.hooks())
	if err := s.Start(signedIn(), "en"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestTranscriptAccumulates(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []any{conn}}
	dev := &fakeDevice{}
	h := &hookLog{}
	s := startSession(t, d, dev, h)

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	conn.inbound <- []byte(`{"transcript":"hello","run_id":"live-7"}`)
	conn.inbound <- []byte(`not json`)
	conn.inbound <- []byte(`{"transcript":"world","key_points":["greeting"]}`)
	waitFor(t, "transcript", func() bool { return s.Status().Transcript == "hello world " })

	st := s.Status()
	if st.RunID != "live-7" {
		t.Errorf("RunID = %q, want live-7", st.RunID)
	}
	if len(st.Insights.KeyPoints) != 1 {
		t.Errorf("KeyPoints = %v", st.Insights.KeyPoints)
	}

	s.Stop()
	if got := s.Status().State; got != StateClosed {
		t.Errorf("state after Stop = %v, want closed", got)
	}
	if dev.closeCount() != 1 {
		t.Errorf("device closed %d times, want 1", dev.closeCount())
	}
	if h.terminalCount() != 1 {
		t.Errorf("terminal hooks = %d, want 1", h.terminalCount())
	}
	if len(h.segments) != 2 {
		t.Errorf("transcript segments = %v", h.segments)
	}
	if d.langs[0] != "en" {
		t.Errorf("dialed language = %q", d.langs[0])
	}
}

func TestChunksOnlyForwardedWhileOpen(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []any{conn}, gate: make(chan struct{})}
	dev := &fakeDevice{}
	s := startSession(t, d, dev, &hookLog{})

	// Not open yet: the device is not recording and a stray chunk is dropped.
	s.postChunk([]byte{1})
	close(d.gate)
	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })

	dev.emit([]byte{2})
	waitFor(t, "write", func() bool { return conn.writeCount() == 1 })

	if slices := dev.startedSlices(); len(slices) != 1 || slices[0] != DefaultInitialChunk {
		t.Errorf("slices = %v, want [%v]", slices, DefaultInitialChunk)
	}
}

func TestReconnectUsesShortChunks(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{script: []any{first, second}}
	dev := &fakeDevice{}
	s := startSession(t, d, dev, &hookLog{})

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	first.inbound <- []byte(`{"transcript":"kept"}`)
	waitFor(t, "fragment", func() bool { return s.Status().Transcript == "kept " })

	first.drop <- apperrors.New(apperrors.Transport, "reset by peer")
	waitFor(t, "second open", func() bool { return d.count() == 2 && s.Status().State == StateOpen })

	slices := dev.startedSlices()
	if len(slices) != 2 || slices[0] != DefaultInitialChunk || slices[1] != DefaultReconnectChunk {
		t.Errorf("slices = %v, want [5s 1s]", slices)
	}
	if got := s.Status().Transcript; got != "kept " {
		t.Errorf("transcript after reconnect = %q, want it kept", got)
	}
	if got := s.Status().Attempts; got != 0 {
		t.Errorf("attempts after successful open = %d, want 0", got)
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []any{conn}}
	dev := &fakeDevice{}
	h := &hookLog{}
	s := startSession(t, d, dev, h)

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	conn.drop <- apperrors.New(apperrors.Transport, "reset")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not give up")
	}

	st := s.Status()
	if st.State != StateFailed {
		t.Fatalf("state = %v, want failed", st.State)
	}
	if !apperrors.IsCode(st.Err, apperrors.ConnectionExhausted) {
		t.Errorf("err = %v, want CONNECTION_EXHAUSTED", st.Err)
	}
	if got := d.count(); got != 4 {
		t.Errorf("dials = %d, want 1 initial + 3 reconnects", got)
	}
	if dev.closeCount() != 1 {
		t.Errorf("device closed %d times, want 1", dev.closeCount())
	}
	if h.terminalCount() != 1 {
		t.Errorf("terminal hooks = %d, want 1", h.terminalCount())
	}
}

func TestCounterResetsAfterSuccessfulReconnect(t *testing.T) {
	first, third := newFakeConn(), newFakeConn()
	refused := apperrors.New(apperrors.Transport, "refused")
	d := &fakeDialer{script: []any{first, refused, third}}
	dev := &fakeDevice{}
	s := startSession(t, d, dev, &hookLog{})

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	first.drop <- refused
	waitFor(t, "reopen", func() bool { return d.count() == 3 && s.Status().State == StateOpen })

	third.drop <- refused
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not give up")
	}
	if got := d.count(); got != 6 {
		t.Errorf("dials = %d, want 6 (counter reset after the third dial opened)", got)
	}
}

func TestInitialDialFailureCountsAsDrop(t *testing.T) {
	d := &fakeDialer{}
	s := startSession(t, d, &fakeDevice{}, &hookLog{})

	<-s.Done()
	if got := d.count(); got != 4 {
		t.Errorf("dials = %d, want 4", got)
	}
	if s.Status().State != StateFailed {
		t.Errorf("state = %v, want failed", s.Status().State)
	}
}

func TestServerCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []any{conn}}
	s := startSession(t, d, &fakeDevice{}, &hookLog{})

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	conn.drop <- io.EOF
	<-s.Done()

	if s.Status().State != StateClosed {
		t.Errorf("state = %v, want closed", s.Status().State)
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestStopNeverReconnects(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []any{conn}}
	dev := &fakeDevice{}
	s := startSession(t, d, dev, &hookLog{})

	waitFor(t, "open", func() bool { return s.Status().State == StateOpen })
	s.Stop()
	s.Stop()

	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connection should be closed by Stop")
	}
	if dev.closeCount() != 1 {
		t.Errorf("device closed %d times, want 1", dev.closeCount())
	}
}

func TestStartErrors(t *testing.T) {
	denied := OpenerFunc(func() (Device, error) { return nil, errors.New("mic access denied") })
	s := New(&fakeDialer{}, denied, Config{}, Hooks{})
	if err := s.Start(signedIn(), "en"); !apperrors.IsCode(err, apperrors.Permission) {
		t.Errorf("Start error = %v, want PERMISSION", err)
	}
	s.Stop()

	ok := OpenerFunc(func() (Device, error) { return &fakeDevice{}, nil })
	s = New(&fakeDialer{}, ok, Config{}, Hooks{})
	if err := s.Start(context.Background(), "en"); !apperrors.IsCode(err, apperrors.AuthRequired) {
		t.Errorf("Start error = %v, want AUTH_REQUIRED", err)
	}
}
