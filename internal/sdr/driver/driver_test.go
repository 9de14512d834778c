package driver

import (
	"errors"
	"os/exec"
	"testing"
)

func TestFindRuntime_Missing(t *testing.T) {
	_, err := FindRuntime("definitely-not-a-capture-tool-7f3a")
	if err == nil {
		t.Fatal("Expected error for missing runtime")
	}

	var rtErr *RuntimeError
	if !errors.As(err, &rtErr) {
		t.Fatalf("Expected RuntimeError, got %T", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("Expected error to wrap exec.ErrNotFound, got %v", err)
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("rtl.Config", "invalid sample rate: %d", 42)
	if got, want := err.Error(), "rtl.Config: invalid sample rate: 42"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
