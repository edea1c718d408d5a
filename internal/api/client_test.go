package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/resilience"
)

func signedIn() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: "u-1", Token: "tok"})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, time.Second)
}

func TestUploadSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload-audio" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile error: %v", err)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "audio" || hdr.Filename != "call.wav" {
			t.Errorf("file = %q (%s)", data, hdr.Filename)
		}
		if lang := r.FormValue("language"); lang != "ur" {
			t.Errorf("language = %q, want ur", lang)
		}
		_, _ = w.Write([]byte(`{"run_id":"r-1","status":"queued"}`))
	})

	sub, err := c.Upload(signedIn(), Artifact{Filename: "call.wav", Data: []byte("audio")}, "ur")
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if sub.RunID != "r-1" {
		t.Errorf("RunID = %q, want r-1", sub.RunID)
	}
}

func TestUploadRejections(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnsupportedMediaType)
		_, _ = w.Write([]byte(`{"detail":"unsupported file type"}`))
	})

	if _, err := c.Upload(signedIn(), Artifact{Filename: "x"}, "en"); !apperrors.IsCode(err, apperrors.Submission) {
		t.Errorf("empty artifact error = %v, want SUBMISSION", err)
	}
	if calls.Load() != 0 {
		t.Error("empty artifact should not reach the backend")
	}

	_, err := c.Upload(context.Background(), Artifact{Data: []byte("a")}, "en")
	if !apperrors.IsCode(err, apperrors.AuthRequired) {
		t.Errorf("no identity error = %v, want AUTH_REQUIRED", err)
	}

	_, err = c.Upload(signedIn(), Artifact{Data: []byte("a")}, "en")
	if !apperrors.IsCode(err, apperrors.Submission) {
		t.Errorf("415 error = %v, want SUBMISSION", err)
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Errorf("error should carry backend detail: %v", err)
	}
}

func TestStatusDecodesResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/r-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"done","result":{"summary":"S","action_items":[{"task":"t","owner":"o"}]}}`))
	})

	st, err := c.Status(signedIn(), "r-9")
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !st.Done() || st.Result == nil || st.Result.Summary != "S" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Result.ActionItems) != 1 || st.Result.ActionItems[0].Owner != "o" {
		t.Errorf("action items = %+v", st.Result.ActionItems)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperrors.Code
	}{
		{http.StatusUnauthorized, apperrors.AuthRequired},
		{http.StatusNotFound, apperrors.NotFound},
		{http.StatusBadGateway, apperrors.Transport},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		if _, err := c.Status(signedIn(), "r"); !apperrors.IsCode(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestBreakerOpensOnTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Hour}, apperrors.IsRetryable)
	c := New(srv.URL, time.Second, WithBreaker(b))

	for i := 0; i < 2; i++ {
		_, _ = c.Status(signedIn(), "r")
	}
	_, err := c.Status(signedIn(), "r")
	if !errors.Is(err, resilience.ErrOpen) || !apperrors.IsCode(err, apperrors.Transport) {
		t.Errorf("error while open = %v, want TRANSPORT wrapping ErrOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("backend calls = %d, want 2 before the breaker opens", calls.Load())
	}
	if b.State() != resilience.Open {
		t.Errorf("breaker state = %v, want open", b.State())
	}
}

func TestConversationsAndChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "u-1" {
			t.Errorf("user_id = %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/conversations/r-1":
			_, _ = w.Write([]byte(`{"conversations":[{"chat_id":"c1","message":"q","response":"a","timestamp":"2025-01-02T03:04:05"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/chat/r-1":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{"response":"echo ` + body["message"] + `","timestamp":"2025-01-02T03:04:06Z"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	history, err := c.Conversations(signedIn(), "r-1")
	if err != nil {
		t.Fatalf("Conversations error: %v", err)
	}
	if len(history) != 1 || history[0].ChatID != "c1" || history[0].Timestamp.IsZero() {
		t.Errorf("history = %+v", history)
	}

	reply, err := c.Chat(signedIn(), "r-1", "hi")
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if reply.Response != "echo hi" {
		t.Errorf("Response = %q", reply.Response)
	}
}

func TestMeetingMutations(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"meetings":[{"run_id":"r-1","filename":"standup.mp3"}]}`))
		}
	})
	ctx := signedIn()

	meetings, err := c.Meetings(ctx)
	if err != nil || len(meetings) != 1 || meetings[0].Filename != "standup.mp3" {
		t.Fatalf("Meetings = %+v, %v", meetings, err)
	}
	if err := c.RenameMeeting(ctx, "r-1", "retro.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteMeeting(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteExchange(ctx, "r-1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.EditExchange(ctx, "r-1", "c1", "q", "a"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteConversations(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"GET /meetings/u-1",
		"PUT /meetings/r-1",
		"DELETE /meetings/r-1",
		"DELETE /conversations/r-1/c1",
		"PUT /conversations/r-1/c1",
		"DELETE /conversations/r-1",
	}
	if strings.Join(seen, "\n") != strings.Join(want, "\n") {
		t.Errorf("requests =\n%s\nwant\n%s", strings.Join(seen, "\n"), strings.Join(want, "\n"))
	}

	if err := c.RenameMeeting(ctx, "r-1", ""); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("empty rename error = %v", err)
	}
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/r-1/download/csv" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte("message,response\n"))
	})

	var buf bytes.Buffer
	n, err := c.Download(signedIn(), "r-1", FormatCSV, &buf)
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if n != int64(buf.Len()) || buf.String() != "message,response\n" {
		t.Errorf("downloaded %d bytes: %q", n, buf.String())
	}

	if _, err := c.Download(signedIn(), "r-1", "pdf", &buf); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("pdf error = %v, want INVALID_ARGUMENT", err)
	}
}
