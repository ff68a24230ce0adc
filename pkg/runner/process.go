package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// inheritedEnv lists the only ambient variables a child process receives.
var inheritedEnv = []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "SYSTEMROOT"}

// ProcessJob is one external command to run to completion.
type ProcessJob struct {
	Command []string
	Dir     string
	Env     []string
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// ProcessExecutor runs components as local child processes.
type ProcessExecutor struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewProcessExecutor creates an executor that logs child output through logger.
func NewProcessExecutor(logger *slog.Logger) *ProcessExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessExecutor{logger: logger, waitDelay: 5 * time.Second}
}

// Run starts job and blocks until it exits or ctx is done.
func (p *ProcessExecutor) Run(ctx context.Context, job ProcessJob) error {
	if len(job.Command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}

	//nolint:gosec // Commands come from component manifests chosen by the operator
	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)
	cmd.Dir = job.Dir
	cmd.Env = childEnv(job.Env)
	cmd.WaitDelay = p.waitDelay

	stdout := newLogWriter(p.logger, slog.LevelInfo, "Process stdout")
	stderr := newLogWriter(p.logger, slog.LevelWarn, "Process stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	p.logger.Info("Process started", "pid", cmd.Process.Pid, "command", job.Command)

	// Wait closes the output pipes after WaitDelay even when a descendant
	// still holds them open.
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.logger.Error("Process interrupted", "exit_code", exitCode, "error", ctxErr)
		return fmt.Errorf("process %s interrupted: %w", job.Command[0], ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.logger.Error("Process exited with error", "exit_code", exitCode)
			return &ExitError{Command: job.Command[0], ExitCode: exitCode}
		}
		return fmt.Errorf("wait for process: %w", err)
	}
	p.logger.Info("Process exited normally", "exit_code", exitCode)
	return nil
}

const maxLineSize = 1024 * 1024

// logWriter forwards complete output lines to a logger.
type logWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	msg    string
	buf    bytes.Buffer
}

func newLogWriter(logger *slog.Logger, level slog.Level, msg string) *logWriter {
	return &logWriter{logger: logger, level: level, msg: msg}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Keep the partial line unless it has grown past the limit.
			if len(line) >= maxLineSize {
				w.emit(line)
			} else {
				w.buf.Write(line)
			}
			return len(p), nil
		}
		w.emit(line)
	}
}

// Flush logs any trailing output that did not end with a newline.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *logWriter) emit(line []byte) {
	if text := strings.TrimRight(string(line), "\r\n"); text != "" {
		w.logger.Log(context.Background(), w.level, w.msg, "output", text)
	}
}

func childEnv(explicit []string) []string {
	env := make([]string, 0, len(inheritedEnv)+len(explicit))
	for _, key := range inheritedEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return append(env, explicit...)
}
