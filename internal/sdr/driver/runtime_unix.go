//go:build !windows

package driver

import (
	"fmt"
	"os/exec"
)

// FindRuntime locates a capture tool binary in PATH.
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", NewRuntimeError(runtime, fmt.Errorf("not found in PATH: %w", err))
	}

	return binPath, nil
}
