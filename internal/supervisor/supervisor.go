// Package supervisor spawns and monitors the assistant CLI child process:
// it captures stderr into a bounded ring buffer, exposes a one-shot exit
// signal, and throttles restart attempts so a crash-looping child cannot
// spin the client into a restart storm.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/time/rate"
)

// StderrRingSize is the number of trailing stderr lines retained for
// startup-failure diagnostics.
const StderrRingSize = 100

// ExitResult carries the child's termination details.
type ExitResult struct {
	Code   int
	Err    error
	Stderr []string
}

// Supervisor owns one managed child process for the lifetime of a
// connection. A zero Supervisor is not usable; construct with New.
type Supervisor struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	logger *slog.Logger

	ring   *stderrRing
	exited chan ExitResult
	once   sync.Once
}

// Config describes how to launch the managed child.
type Config struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// New spawns the child described by cfg and begins capturing its stderr.
// Stdin/Stdout returns the pipes transport.NewStdio expects.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting assistant CLI: %w", err)
	}

	s := &Supervisor{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: logger,
		ring:   newStderrRing(StderrRingSize),
		exited: make(chan ExitResult, 1),
	}

	go s.captureStderr(stderr)
	go s.waitForExit()

	return s, nil
}

// Stdin returns the child's stdin pipe (for the caller's Transport).
func (s *Supervisor) Stdin() io.WriteCloser { return s.stdin }

// Stdout returns the child's stdout pipe (for the caller's Transport).
func (s *Supervisor) Stdout() io.ReadCloser { return s.stdout }

// Exited returns a one-shot channel carrying the exit code and buffered
// stderr tail once the child terminates.
func (s *Supervisor) Exited() <-chan ExitResult { return s.exited }

// StderrTail returns the last N captured stderr lines, most-recent last.
func (s *Supervisor) StderrTail() []string { return s.ring.lines() }

// Stop asks the child to terminate gracefully (os.Interrupt, SIGINT on unix); ForceKill
// terminates it immediately. Both are idempotent.
func (s *Supervisor) Stop() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(os.Interrupt)
}

// ForceKill terminates the child immediately.
func (s *Supervisor) ForceKill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

func (s *Supervisor) captureStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		s.ring.push(line)
		s.logger.Debug("assistant CLI stderr", "line", line)
	}
}

func (s *Supervisor) waitForExit() {
	err := s.cmd.Wait()
	code := 0
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	s.once.Do(func() {
		s.exited <- ExitResult{Code: code, Err: err, Stderr: s.ring.lines()}
		close(s.exited)
	})
}

// RestartLimiter throttles auto-restart attempts. One token is required per
// restart; burst allows a small number of rapid retries before the limiter
// engages, grounded on the same golang.org/x/time/rate primitive the donor
// uses for request-rate limiting.
type RestartLimiter struct {
	limiter *rate.Limiter
}

// NewRestartLimiter builds a limiter allowing eventsPerSecond restarts per
// second with the given burst.
func NewRestartLimiter(eventsPerSecond float64, burst int) *RestartLimiter {
	return &RestartLimiter{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// DefaultRestartLimiter allows at most 1 restart every 5 seconds with a
// burst of 2, which tolerates a single transient crash-and-recover without
// allowing a tight restart loop.
func DefaultRestartLimiter() *RestartLimiter {
	return NewRestartLimiter(0.2, 2)
}

// Allow reports whether a restart attempt may proceed now.
func (l *RestartLimiter) Allow() bool {
	return l.limiter.Allow()
}
