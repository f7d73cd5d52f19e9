package invocation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRequest_WithDefaults(t *testing.T) {
	dir := t.TempDir()
	d := Defaults{WorkingDirectory: dir, MaxTurns: 10, Model: "sonnet"}

	got := Request{Prompt: "hi"}.WithDefaults(d)
	if got.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", got.UserID, DefaultUserID)
	}
	if got.WorkingDirectory != dir {
		t.Errorf("WorkingDirectory = %q, want %q", got.WorkingDirectory, dir)
	}
	if got.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", got.MaxTurns)
	}
	if got.Model != "sonnet" {
		t.Errorf("Model = %q, want %q", got.Model, "sonnet")
	}

	explicit := Request{Prompt: "hi", UserID: " bob ", MaxTurns: 3, Model: "opus"}.WithDefaults(d)
	if explicit.UserID != "bob" || explicit.MaxTurns != 3 || explicit.Model != "opus" {
		t.Errorf("explicit fields overridden: %+v", explicit)
	}

	bare := Request{Prompt: "hi"}.WithDefaults(Defaults{})
	if bare.MaxTurns != DefaultMaxTurns {
		t.Errorf("MaxTurns = %d, want %d", bare.MaxTurns, DefaultMaxTurns)
	}
}

func TestRequest_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{name: "valid", req: Request{Prompt: "hi", UserID: "u", WorkingDirectory: dir, MaxTurns: 5}},
		{name: "empty prompt", req: Request{UserID: "u", MaxTurns: 5}, wantErr: "prompt is required"},
		{name: "blank prompt", req: Request{Prompt: "  \n", UserID: "u", MaxTurns: 5}, wantErr: "prompt is required"},
		{name: "missing dir", req: Request{Prompt: "hi", UserID: "u", MaxTurns: 5, WorkingDirectory: filepath.Join(dir, "nope")}, wantErr: "working_directory"},
		{name: "too many turns", req: Request{Prompt: "hi", UserID: "u", MaxTurns: 5000}, wantErr: "max_turns"},
		{name: "long user id", req: Request{Prompt: "hi", UserID: strings.Repeat("x", 300), MaxTurns: 1}, wantErr: "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
