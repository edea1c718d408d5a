package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
)

// Job statuses reported by GET /status.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusError      = "error"
)

// Download formats.
const (
	FormatWord = "word"
	FormatCSV  = "csv"
)

// Artifact is a recorded file to submit for batch processing.
type Artifact struct {
	Filename string
	Data     []byte
}

// Empty reports whether there is nothing to upload.
func (a Artifact) Empty() bool { return len(a.Data) == 0 }

// ReadArtifact reads an artifact named filename from r.
func ReadArtifact(r io.Reader, filename string) (Artifact, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Artifact{}, apperrors.Wrap(err, apperrors.Submission, "read artifact").
			WithMetadata("file", filename)
	}
	return Artifact{Filename: filepath.Base(filename), Data: data}, nil
}

// Submission is the upload acknowledgement.
type Submission struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// JobStatus is a poll response.
type JobStatus struct {
	Status string          `json:"status"`
	Result *meeting.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Done reports whether the job finished successfully.
func (s JobStatus) Done() bool { return s.Status == StatusDone }

// Failed reports whether the backend gave up on the job.
func (s JobStatus) Failed() bool { return s.Status == StatusFailed || s.Status == StatusError }

// Exchange is one persisted chat request and its response.
type Exchange struct {
	ChatID    string       `json:"chat_id,omitempty"`
	Message   string       `json:"message"`
	Response  string       `json:"response"`
	Timestamp meeting.Time `json:"timestamp"`
}

// Reply is the backend's answer to a chat message.
type Reply struct {
	Response  string       `json:"response"`
	Timestamp meeting.Time `json:"timestamp"`
	ChatID    string       `json:"chat_id,omitempty"`
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode request")
	}
	return bytes.NewReader(data), nil
}

// Upload submits an artifact with its transcription language.
func (c *Client) Upload(ctx context.Context, a Artifact, language string) (Submission, error) {
	if a.Empty() {
		return Submission{}, apperrors.New(apperrors.Submission, "no file selected")
	}
	if a.Filename == "" {
		a.Filename = "recording"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", a.Filename)
	if err == nil {
		_, err = part.Write(a.Data)
	}
	if err == nil {
		err = w.WriteField("language", language)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return Submission{}, apperrors.Wrap(err, apperrors.Internal, "encode upload")
	}

	var sub Submission
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/upload-audio",
		body:        &buf,
		contentType: w.FormDataContentType(),
	}, &sub)
	if err != nil {
		if apperrors.IsCode(err, apperrors.InvalidArgument) {
			return Submission{}, apperrors.Wrap(err, apperrors.Submission, "upload rejected")
		}
		return Submission{}, err
	}
	if sub.RunID == "" {
		return Submission{}, apperrors.New(apperrors.Submission, "upload accepted without run_id")
	}
	return sub, nil
}

// Status polls a batch job.
func (c *Client) Status(ctx context.Context, runID string) (JobStatus, error) {
	var st JobStatus
	err := c.do(ctx, request{method: http.MethodGet, path: "/status/" + url.PathEscape(runID)}, &st)
	return st, err
}

// Meetings lists the caller's meetings.
func (c *Client) Meetings(ctx context.Context) ([]meeting.Meeting, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Meetings []meeting.Meeting `json:"meetings"`
	}
	err = c.do(ctx, request{method: http.MethodGet, path: "/meetings/" + url.PathEscape(id.UserID)}, &out)
	return out.Meetings, err
}

// RenameMeeting changes a meeting's display filename.
func (c *Client) RenameMeeting(ctx context.Context, runID, filename string) error {
	if filename == "" {
		return apperrors.New(apperrors.InvalidArgument, "filename is required")
	}
	body, err := jsonBody(map[string]string{"filename": filename})
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/meetings/" + url.PathEscape(runID),
		body:        body,
		contentType: "application/json",
	}, nil)
}

// DeleteMeeting removes a meeting and its conversations.
func (c *Client) DeleteMeeting(ctx context.Context, runID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/meetings/" + url.PathEscape(runID)}, nil)
}

// Conversations returns the persisted chat history of a meeting, oldest first.
func (c *Client) Conversations(ctx context.Context, runID string) ([]Exchange, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Conversations []Exchange `json:"conversations"`
	}
	err = c.do(ctx, request{
		method: http.MethodGet,
		path:   "/conversations/" + url.PathEscape(runID),
		query:  url.Values{"user_id": {id.UserID}},
	}, &out)
	return out.Conversations, err
}

// DeleteExchange removes one persisted exchange.
func (c *Client) DeleteExchange(ctx context.Context, runID, chatID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/conversations/" + url.PathEscape(runID) + "/" + url.PathEscape(chatID),
	}, nil)
}

// DeleteConversations removes every persisted exchange of a meeting.
func (c *Client) DeleteConversations(ctx context.Context, runID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/conversations/" + url.PathEscape(runID)}, nil)
}

// EditExchange replaces the message and response of a persisted exchange.
func (c *Client) EditExchange(ctx context.Context, runID, chatID, message, response string) error {
	body, err := jsonBody(map[string]string{"message": message, "response": response})
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/conversations/" + url.PathEscape(runID) + "/" + url.PathEscape(chatID),
		body:        body,
		contentType: "application/json",
	}, nil)
}

// Download streams an export of a meeting's conversation into w.
func (c *Client) Download(ctx context.Context, runID, format string, w io.Writer) (int64, error) {
	if format != FormatWord && format != FormatCSV {
		return 0, apperrors.Newf(apperrors.InvalidArgument, "unsupported export format %q", format)
	}
	resp, err := c.send(ctx, request{
		method: http.MethodGet,
		path:   "/conversations/" + url.PathEscape(runID) + "/download/" + format,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, apperrors.Wrap(err, apperrors.Transport, "download interrupted")
	}
	return n, nil
}

// Chat asks the backend a question about a meeting.
func (c *Client) Chat(ctx context.Context, runID, message string) (Reply, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return Reply{}, err
	}
	body, err := jsonBody(map[string]string{"message": message})
	if err != nil {
		return Reply{}, err
	}
	var reply Reply
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/chat/" + url.PathEscape(runID),
		query:       url.Values{"user_id": {id.UserID}},
		body:        body,
		contentType: "application/json",
	}, &reply)
	return reply, err
}
