package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

func TestDecodeFragmentPresence(t *testing.T) {
	f, err := DecodeFragment([]byte(`{"transcript":"hello","key_points":[],"run_id":"live-1"}`))
	if err != nil {
		t.Fatalf("DecodeFragment error: %v", err)
	}
	if f.Transcript == nil || *f.Transcript != "hello" {
		t.Errorf("Transcript = %v", f.Transcript)
	}
	if f.KeyPoints == nil {
		t.Error("empty key_points should be present, not nil")
	}
	if f.ActionItems != nil || f.Sentiment != nil {
		t.Error("absent fields should stay nil")
	}
	if f.RunID != "live-1" {
		t.Errorf("RunID = %q", f.RunID)
	}

	if _, err := DecodeFragment([]byte("not json")); !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("bad frame error = %v", err)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("language") != "es" || q.Get("user_id") != "u-1" || q.Get("token") != "tok" {
			t.Errorf("query = %v", q)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept error: %v", err)
			return
		}
		ctx := r.Context()
		typ, data, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			t.Errorf("server Read = %v, %v", typ, err)
			return
		}
		got <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"transcript":"hi"}`))
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(signedIn(), 5*time.Second)
	defer cancel()

	d := &StreamDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/live-transcribe"}
	conn, err := d.Dial(ctx, "es")
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.Write(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if data := <-got; len(data) != 3 {
		t.Errorf("server got %v", data)
	}

	frame, err := conn.Read(ctx)
	if err != nil || string(frame) != `{"transcript":"hi"}` {
		t.Fatalf("Read = %q, %v", frame, err)
	}
	if _, err := conn.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read after normal closure = %v, want io.EOF", err)
	}
}

func TestStreamDialFailure(t *testing.T) {
	d := &StreamDialer{URL: "ws://127.0.0.1:1/live-transcribe"}
	ctx, cancel := context.WithTimeout(signedIn(), 2*time.Second)
	defer cancel()

	if _, err := d.Dial(ctx, "en"); !apperrors.IsCode(err, apperrors.Transport) {
		t.Errorf("Dial error = %v, want TRANSPORT", err)
	}
	if _, err := d.Dial(context.Background(), "en"); !apperrors.IsCode(err, apperrors.AuthRequired) {
		t.Errorf("Dial without identity = %v, want AUTH_REQUIRED", err)
	}
}
