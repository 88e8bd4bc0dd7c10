package model

import "testing"

func TestParseTask(t *testing.T) {
	tests := []struct {
		input       string
		want        TaskType
		expectError bool
	}{
		{"code", TaskCode, false},
		{"fix_bug", TaskFixBug, false},
		{"explain", TaskExplain, false},
		{"optimize_code", TaskOptimizeCode, false},
		{"", "", true},
		{"refactor", "", true},
		{"Code", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTask(tt.input)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTask(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTaskLabels(t *testing.T) {
	for _, task := range Tasks {
		if task.Label() == "" {
			t.Errorf("task %q has no label", task)
		}
		if task.Label() == string(task) {
			t.Errorf("task %q falls back to the raw identifier", task)
		}
	}
}

func TestTempIDs(t *testing.T) {
	a := NewTempID()
	b := NewTempID()

	if a == b {
		t.Error("NewTempID() returned the same id twice")
	}
	if !IsTempID(a) {
		t.Errorf("IsTempID(%q) = false, want true", a)
	}
	if IsTempID("-OaBcDeFg123") {
		t.Error("store-assigned key misidentified as temp id")
	}

	conv := Conversation{ID: a}
	if conv.Persisted() {
		t.Error("provisional record reported as persisted")
	}
	conv.ID = "-OaBcDeFg123"
	if !conv.Persisted() {
		t.Error("store-keyed record reported as not persisted")
	}
}
