// ABOUTME: External process invocation for fetcher, transcoder, and probe
// ABOUTME: Wraps os/exec behind a Runner so the pipeline is testable
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner starts and runs external tools. Exit code 0 means success; any
// non-zero exit surfaces as an error carrying captured stderr.
type Runner interface {
	// Output runs a tool to completion and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// Start launches a long-running tool and returns a handle for it.
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Process is a running external tool.
type Process interface {
	// Wait blocks until the tool exits. Non-zero exit returns an error
	// carrying captured stderr.
	Wait() error

	// Stop interrupts the tool, escalating to kill after a grace period.
	Stop() error
}

// ExecRunner runs tools with exec.CommandContext.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s start: %w", name, err)
	}
	return &execProcess{cmd: cmd, stderr: &stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.cmd.Path, err, strings.TrimSpace(p.stderr.String()))
	}
	return nil
}

func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
	}
	return nil
}
