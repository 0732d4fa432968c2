package domain

import (
	"errors"
	"testing"
	"time"
)

func TestLifecycleStatus_Parse(t *testing.T) {
	tests := []struct {
		input  string
		want   LifecycleStatus
		wantOK bool
	}{
		{"approved", StatusApproved, true},
		{" IN_PROGRESS ", StatusInProgress, true},
		{"finished", StatusFinished, true},
		{"error_reverted", StatusErrorReverted, true},
		{"Aprobado", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLifecycleStatus(tt.input)
			if ok != tt.wantOK {
				t.Errorf("ParseLifecycleStatus(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseLifecycleStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLifecycleStatus_IsTerminal(t *testing.T) {
	if StatusApproved.IsTerminal() || StatusInProgress.IsTerminal() {
		t.Error("approved and in_progress should not be terminal")
	}
	if !StatusFinished.IsTerminal() || !StatusErrorReverted.IsTerminal() {
		t.Error("finished and error_reverted should be terminal")
	}
}

func TestParseRunMode(t *testing.T) {
	if m, err := ParseRunMode(""); err != nil || m != ModeProduction {
		t.Errorf("empty run mode = %q, %v; want production", m, err)
	}
	if m, err := ParseRunMode("Verification"); err != nil || m != ModeVerification {
		t.Errorf("Verification = %q, %v; want verification", m, err)
	}

	_, err := ParseRunMode("staging")
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError", err)
	}
}

func TestTaskResult_String(t *testing.T) {
	ok := TaskResult{TaskID: TaskCobis, Success: true, Message: "login created"}
	if got := ok.String(); got != "cobis: [OK] login created" {
		t.Errorf("String() = %q", got)
	}

	failed := TaskResult{TaskID: TaskSyscard, Message: "window not found"}
	if got := failed.String(); got != "syscard: [FAILED] window not found" {
		t.Errorf("String() = %q", got)
	}
}

func TestAllSucceeded(t *testing.T) {
	if !AllSucceeded(nil) {
		t.Error("empty results should count as success")
	}

	results := []TaskResult{{TaskID: TaskPayroll, Success: true}, {TaskID: TaskActiveDirectory, Success: false}}
	if AllSucceeded(results) {
		t.Error("results with a failure should not count as success")
	}
}

func TestRun_FailedTask(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	finished := started.Add(30 * time.Second)
	run := Run{
		StartedAt:  started,
		FinishedAt: &finished,
		Results: []TaskResult{
			{TaskID: TaskPayroll, Success: true},
			{TaskID: TaskActiveDirectory, Success: false},
		},
	}

	id, ok := run.FailedTask()
	if !ok || id != TaskActiveDirectory {
		t.Errorf("FailedTask() = %q, %v; want active_directory", id, ok)
	}
	if run.Duration() != 30*time.Second {
		t.Errorf("Duration() = %v, want 30s", run.Duration())
	}
}

func TestUserRecord_Field(t *testing.T) {
	u := UserRecord{ID: "7", FirstNames: "Ana Maria", LastNames: "Lopez", Fields: map[string]string{"Cargo": "Cajero"}}

	if v, ok := u.Field("Cargo"); !ok || v != "Cajero" {
		t.Errorf("Field(Cargo) = %q, %v", v, ok)
	}
	if _, ok := u.Field("Missing"); ok {
		t.Error("missing field should report false")
	}
	if got := u.DisplayName(); got != "Ana Maria Lopez" {
		t.Errorf("DisplayName() = %q", got)
	}

	var empty UserRecord
	if _, ok := empty.Field("Cargo"); ok {
		t.Error("nil Fields map should report false")
	}
	empty.ID = "42"
	if got := empty.DisplayName(); got != "42" {
		t.Errorf("DisplayName() fallback = %q, want 42", got)
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("fetch approved", base)

	if !errors.Is(err, ErrTransientIO) {
		t.Error("wrapped error should match ErrTransientIO")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should still match the cause")
	}
	if Transient("noop", nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
