package meeting

import (
	"encoding/json"
	"testing"
	"time"
)

func TestActionItemBothForms(t *testing.T) {
	input := `{"summary":"S","action_items":["call vendor",{"task":"ship","owner":"ana","due":"friday"},{"task":"review","owner":"bo"}]}`

	var r Result
	if err := json.Unmarshal([]byte(input), &r); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if len(r.ActionItems) != 3 {
		t.Fatalf("len(ActionItems) = %d, want 3", len(r.ActionItems))
	}

	if r.ActionItems[0].Structured() || r.ActionItems[0].Text != "call vendor" {
		t.Errorf("item 0 = %+v, want plain text", r.ActionItems[0])
	}
	got := r.ActionItems[1]
	if !got.Structured() || got.Task != "ship" || got.Owner != "ana" || got.Due != "friday" {
		t.Errorf("item 1 = %+v, want structured ship/ana/friday", got)
	}
	if r.ActionItems[2].Due != "" {
		t.Errorf("item 2 Due = %q, want empty", r.ActionItems[2].Due)
	}
}

func TestActionItemMarshalKeepsShape(t *testing.T) {
	items := []ActionItem{{Text: "plain"}, {Task: "t", Owner: "o"}}
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("json.Marshal error: %v", err)
	}
	if want := `["plain",{"task":"t","owner":"o"}]`; string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestResultCloneIsDeep(t *testing.T) {
	r := Result{KeyPoints: []string{"a"}}
	c := r.Clone()
	c.KeyPoints[0] = "changed"
	if r.KeyPoints[0] != "a" {
		t.Error("Clone shares the KeyPoints backing array")
	}
}

func TestValidLanguage(t *testing.T) {
	for _, code := range []string{"en", "ur", "hi"} {
		if !ValidLanguage(code) {
			t.Errorf("ValidLanguage(%q) = false, want true", code)
		}
	}
	if ValidLanguage("xx") {
		t.Error("ValidLanguage(xx) = true, want false")
	}
}

func TestNewTurnIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTurnID()
		if seen[id] {
			t.Fatal("generated duplicate turn ID")
		}
		seen[id] = true
	}
}

func TestTimeLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2025-03-01T10:20:30Z"`, time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{`"2025-03-01T10:20:30.5"`, time.Date(2025, 3, 1, 10, 20, 30, 500000000, time.UTC)},
		{`"2025-03-01 10:20:30"`, time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{`"not a time"`, time.Time{}},
		{`null`, time.Time{}},
	}
	for _, tt := range tests {
		var got Time
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, got.Time, tt.want)
		}
	}

	data, _ := json.Marshal(Meeting{RunID: "r"})
	if want := `{"run_id":"r","filename":"","created_at":null}`; string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}
