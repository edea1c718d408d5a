package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

const streamReadLimit = 1 << 20

// Fragment is one incremental update from the live stream. Absent fields
// are nil so callers can tell "not sent" from "sent empty".
type Fragment struct {
	Transcript  *string              `json:"transcript,omitempty"`
	KeyPoints   []string             `json:"key_points,omitempty"`
	ActionItems []meeting.ActionItem `json:"action_items,omitempty"`
	Sentiment   *string              `json:"sentiment,omitempty"`
	RunID       string               `json:"run_id,omitempty"`
}

// DecodeFragment parses a text frame from the live stream.
func DecodeFragment(data []byte) (Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fragment{}, apperrors.Wrap(err, apperrors.InvalidArgument, "undecodable stream frame")
	}
	return f, nil
}

// StreamDialer opens live transcription streams.
type StreamDialer struct {
	URL        string
	HTTPClient *http.Client
}

// Dial connects to the stream endpoint as the identity in ctx.
func (d *StreamDialer) Dial(ctx context.Context, language string) (*StreamConn, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "invalid stream url")
	}
	q := u.Query()
	q.Set("language", language)
	q.Set("user_id", id.UserID)
	q.Set("token", id.Token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if tc, ok := trace.FromContext(ctx); ok {
		header.Set(trace.TraceIDKey, tc.TraceID)
		header.Set(trace.SpanIDKey, tc.SpanID)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, apperrors.FromHTTPStatus(resp.StatusCode, err.Error()).WithMetadata("path", u.Path)
		}
		return nil, apperrors.Wrap(err, apperrors.Transport, "stream dial failed").WithMetadata("path", u.Path)
	}
	conn.SetReadLimit(streamReadLimit)
	return &StreamConn{conn: conn}, nil
}

// StreamConn is an open live transcription stream.
type StreamConn struct {
	conn *websocket.Conn
}

// Read blocks for the next frame. A normal closure by the server returns io.EOF;
// any other failure is a Transport error.
func (s *StreamConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err == nil {
		return data, nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil, io.EOF
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, apperrors.Wrap(err, apperrors.Transport, "stream read failed")
}

// Write sends one audio chunk as a binary frame.
func (s *StreamConn) Write(ctx context.Context, chunk []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return apperrors.Wrap(err, apperrors.Transport, "stream write failed")
	}
	return nil
}

// Close ends the stream with a normal closure.
func (s *StreamConn) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
