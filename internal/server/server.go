package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

// Orchestrator is the store surface the server exposes.
type Orchestrator interface {
	Snapshot() orchestrator.Snapshot
	Watch() (<-chan struct{}, func())
	StartUpload(ctx context.Context, a api.Artifact, language string) (string, error)
	StartLive(ctx context.Context, language string) (string, error)
	StopLive(ctx context.Context) error
	OpenMeeting(ctx context.Context, runID string) error
	SendChat(ctx context.Context, message string) (meeting.Turn, error)
	RefreshMeetings(ctx context.Context) ([]meeting.Meeting, error)
	ClearNotices()
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

type OpenMessage struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
}

type StateMessage struct {
	Type  string                `json:"type"`
	State orchestrator.Snapshot `json:"state"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch     Orchestrator
	identity auth.Source
	language string

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
	ipLimits   *ipLimiter
}

// New creates a server. Requests without an Authorization header act as
// the identity from src; language is the default for uploads and live
// sessions.
func New(orch Orchestrator, src auth.Source, language string) *Server {
	return &Server{
		orch:       orch,
		identity:   src,
		language:   language,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		ipLimits:   newIPLimiter(),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("DELETE /api/notices", s.handleClearNotices)
	mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	mux.HandleFunc("POST /api/meetings/{run_id}/open", s.handleOpen)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/live/start", s.handleLiveStart)
	mux.HandleFunc("POST /api/live/stop", s.handleLiveStop)
	mux.HandleFunc("POST /api/chat", s.handleChat)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bind attaches the caller's identity: a bearer token on the request wins
// over the configured source.
func (s *Server) bind(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if h := r.Header.Get("Authorization"); h != "" {
		id, err := auth.FromToken(h, "", time.Now())
		if err != nil {
			return ctx, err
		}
		return auth.WithIdentity(ctx, id), nil
	}
	if s.identity == nil {
		return ctx, apperrors.New(apperrors.AuthRequired, "sign in required")
	}
	return auth.Bind(ctx, s.identity)
}

func statusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.AuthRequired:
		return http.StatusUnauthorized
	case apperrors.Permission:
		return http.StatusForbidden
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Submission, apperrors.InvalidArgument:
		return http.StatusBadRequest
	case apperrors.Transport, apperrors.ConnectionExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorMessage{Type: "error", Code: apperrors.CodeOf(err).String(), Message: msg})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleClearNotices(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearNotices()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.bind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.orch.RefreshMeetings(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": list})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.bind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.orch.OpenMeeting(ctx, r.PathValue("run_id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.bind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.Submission, "no file selected"))
		return
	}
	defer file.Close()

	a, err := api.ReadArtifact(file, hdr.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runID, err := s.orch.StartUpload(ctx, a, s.languageOf(r.FormValue("language")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.bind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Language string `json:"language"`
	}
	// an empty body means the default language
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body"))
		return
	}
	id, err := s.orch.StartLive(ctx, s.languageOf(req.Language))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopLive(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "live_stopped"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.bind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body"))
		return
	}
	turn, err := s.orch.SendChat(ctx, req.Message)
	if err != nil && turn.ID == "" {
		writeError(w, r, err)
		return
	}
	// a failed reply still yields the fallback turn
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) languageOf(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return s.language
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = newRateLimiter(RateLimitMessages, RateLimitWindow)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	identityCtx, identityErr := s.bind(r)
	go s.pushState(baseCtx, conn)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		now := time.Now()
		if !rl.allow(now) || !s.ipLimits.allow(r.RemoteAddr, now) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		if identityErr != nil {
			s.writeError(baseCtx, conn, identityErr)
			continue
		}

		switch base.Type {
		case "chat":
			var chat ChatMessage
			if err := json.Unmarshal(msg, &chat); err != nil {
				continue
			}
			// Extract trace_id from message or create new trace context
			ctx := identityCtx
			if chat.TraceID != "" {
				tc := trace.NewChild(trace.Context{TraceID: chat.TraceID})
				ctx = trace.WithContext(ctx, tc)
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			// replies arrive through the state push
			go func() {
				if _, err := s.orch.SendChat(ctx, chat.Message); err != nil {
					s.writeError(baseCtx, conn, err)
				}
			}()
		case "open":
			var open OpenMessage
			if err := json.Unmarshal(msg, &open); err != nil {
				continue
			}
			go func() {
				if err := s.orch.OpenMeeting(identityCtx, open.RunID); err != nil {
					s.writeError(baseCtx, conn, err)
				}
			}()
		}
	}
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, err error) {
	msg := err.Error()
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Code: apperrors.CodeOf(err).String(), Message: msg})
}

// pushState sends the current snapshot, then a fresh one after every store
// change, until ctx ends.
func (s *Server) pushState(ctx context.Context, conn *websocket.Conn) {
	changes, stop := s.orch.Watch()
	defer stop()

	var sent uint64
	push := func() bool {
		snap := s.orch.Snapshot()
		if sent != 0 && snap.Version == sent {
			return true
		}
		wctx, cancel := context.WithTimeout(ctx, PushTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, StateMessage{Type: "state", State: snap}); err != nil {
			return false
		}
		sent = snap.Version
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok || !push() {
				return
			}
		}
	}
}
