// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gpuwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrToolNotFound is returned when the diagnostic binary is not on PATH.
var ErrToolNotFound = errors.New("diagnostic tool not found")

// Runner abstracts external process execution so the diagnostic tool can
// be mocked in unit tests.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Runner interface {
	// Run executes the named binary and returns its stdout. The context
	// bounds execution; expiry kills the process.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// MockRunner is a Runner with pluggable behavior for tests.
type MockRunner struct {
	// RunFunc is invoked for each Run call. A nil RunFunc returns empty
	// output and no error.
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Run implements Runner.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.RunFunc == nil {
		return nil, nil
	}
	return m.RunFunc(ctx, name, args...)
}
