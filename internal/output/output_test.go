package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/meeting"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{4 * time.Second, "4s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
		{1400 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTurnShowsPositionAndIndents(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).Turn(3, meeting.Turn{
		ID:      "0123456789abcdef",
		Role:    meeting.RoleAssistant,
		Content: "line one\nline two",
	})
	want := "🤖 [3] line one\n   line two\n"
	if got := buf.String(); got != want {
		t.Errorf("Turn = %q, want %q", got, want)
	}
}

func TestMeetingListItem(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).MeetingListItem(meeting.Meeting{RunID: "r1"})
	if got := buf.String(); !strings.Contains(got, "r1") || !strings.Contains(got, "(untitled)") {
		t.Errorf("MeetingListItem = %q", got)
	}
}
