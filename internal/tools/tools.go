// Package tools checks that local tools are available by running one shell
// command per tool.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/devpulse/source"
)

const (
	// DefaultCheckTimeout bounds a single check command.
	DefaultCheckTimeout = 5 * time.Second

	defaultConcurrency = 4

	// killWaitDelay bounds how long Run waits for output after the context
	// ends and the process has been killed.
	killWaitDelay = 500 * time.Millisecond
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, command []string) (string, error)
}

// ShellRunner runs commands as local subprocesses. On unix each command gets
// its own process group, and the whole group is killed when ctx ends.
type ShellRunner struct{}

// Run implements Runner.
func (ShellRunner) Run(ctx context.Context, command []string) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	// children that inherit the output pipe must not keep Run blocked past
	// the deadline
	cmd.WaitDelay = killWaitDelay
	configureProcess(cmd)

	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Check is one tool and the shell command that proves it is available.
// Exit code 0 means available.
type Check struct {
	Name    string
	Command string
}

// Config configures a [Checker].
type Config struct {
	Checks      []Check
	Timeout     time.Duration
	Concurrency int
	Runner      Runner
	Logger      *slog.Logger
}

// Checker is the [source.Fetcher] for [source.Tools].
type Checker struct {
	checks      []Check
	timeout     time.Duration
	concurrency int
	runner      Runner
	logger      *slog.Logger
	now         func() time.Time
}

// NewChecker creates a checker. Zero values in cfg get defaults.
func NewChecker(cfg Config) *Checker {
	c := &Checker{
		checks:      append([]Check(nil), cfg.Checks...),
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		runner:      cfg.Runner,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCheckTimeout
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.runner == nil {
		c.runner = ShellRunner{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Fetch runs every check concurrently and reports each result.
//
// A failing check never fails the fetch; its error is attached to that tool's
// status. Results keep the configured order.
func (c *Checker) Fetch(ctx context.Context) (source.Payload, error) {
	if len(c.checks) == 0 {
		return nil, source.NotConfigured("no tool checks configured")
	}

	results := make([]source.ToolStatus, len(c.checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, check := range c.checks {
		g.Go(func() error {
			results[i] = c.run(gctx, check)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, source.AsFetchError(err)
	}
	return source.ToolReport{Tools: results}, nil
}

func (c *Checker) run(ctx context.Context, check Check) source.ToolStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.runner.Run(ctx, []string{"sh", "-c", check.Command})
	status := source.ToolStatus{
		Name:      check.Name,
		Available: err == nil,
		CheckedAt: c.now(),
	}
	if err != nil {
		status.Err = classify(ctx, err)
		c.logger.Debug("tool check failed",
			"tool", check.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", status.Err.Error(),
			"output", firstLine(out),
		)
	}
	return status
}

type exitCoder interface {
	ExitCode() int
}

func classify(ctx context.Context, err error) *source.FetchError {
	if ctx.Err() != nil {
		return source.AsFetchError(ctx.Err())
	}

	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() >= 0 {
		return source.Execution(fmt.Sprintf("exit code %d", ec.ExitCode()), err)
	}
	return source.Execution("start command", err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 120
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
