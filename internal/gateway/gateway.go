// Package gateway is the only path by which logwarden runs commands. Every
// attempt passes the safety filter, the per-target rate limit, and the
// per-target single-flight lock before a process is spawned.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gzhole/logwarden/internal/metrics"
	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/policy"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultMinInterval = time.Second
)

type Options struct {
	Targets     Targets
	MinInterval time.Duration
	Timeout     time.Duration
	Runner      Runner
	Observer    Observer
}

type Gateway struct {
	policy      *policy.Engine
	targets     Targets
	runner      Runner
	observer    Observer
	minInterval time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// slot is the per-target dispatch state.
type slot struct {
	limiter      *rate.Limiter
	busy         bool
	lastDispatch time.Time
}

func New(engine *policy.Engine, opts Options, logger *slog.Logger) *Gateway {
	if opts.Targets == nil {
		opts.Targets = LocalTargets()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		policy:      engine,
		targets:     opts.Targets,
		runner:      opts.Runner,
		observer:    opts.Observer,
		minInterval: opts.MinInterval,
		timeout:     opts.Timeout,
		logger:      logger.With("component", "gateway"),
		slots:       make(map[string]*slot),
	}
}

// Execute runs command on the named target and reports the outcome. It
// never returns an error: refusals and failures are statuses on the record.
// A zero timeout uses the gateway default.
func (g *Gateway) Execute(ctx context.Context, target, command string, timeout time.Duration) (rec models.ExecutionRecord) {
	rec = models.ExecutionRecord{
		Target:    target,
		Command:   command,
		ExitCode:  -1,
		StartedAt: time.Now(),
	}
	defer func() {
		if p := recover(); p != nil {
			rec.Status = models.ExecError
			rec.Reason = fmt.Sprintf("panic during execution: %v", p)
		}
		metrics.ObserveExecution(string(rec.Status), rec.Duration, rec.Spawned())
		g.logger.Info("execution",
			"target", target,
			"status", rec.Status,
			"exit_code", rec.ExitCode,
			"duration", rec.Duration,
			"reason", rec.Reason)
	}()

	if eval := g.policy.Evaluate(command); eval.Blocked() {
		rec.Status = models.ExecBlocked
		rec.Reason = eval.Reason()
		return rec
	}

	t, ok := g.targets.Lookup(target)
	if !ok {
		rec.Status = models.ExecError
		rec.Reason = fmt.Sprintf("unknown target %q", target)
		return rec
	}

	s := g.slot(target)
	if err := s.limiter.Wait(ctx); err != nil {
		rec.Status = models.ExecError
		rec.Reason = "waiting for dispatch interval: " + err.Error()
		return rec
	}

	release, ok := g.acquire(target, s)
	if !ok {
		rec.Status = models.ExecBusy
		rec.Reason = fmt.Sprintf("another command is running on %s", target)
		return rec
	}
	defer release()

	if timeout <= 0 {
		timeout = g.timeout
	}
	return g.run(ctx, t, rec, timeout)
}

func (g *Gateway) run(ctx context.Context, t Target, rec models.ExecutionRecord, timeout time.Duration) models.ExecutionRecord {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec.StartedAt = time.Now()
	g.notify(Event{Kind: EventStarted, Target: t.Name, Command: rec.Command, At: rec.StartedAt})

	stdout, stderr, code, err := g.runner.Run(runCtx, t.Argv(rec.Command), t.Env())
	rec.Duration = time.Since(rec.StartedAt)
	rec.Stdout = stdout
	rec.Stderr = stderr
	rec.ExitCode = code

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		rec.Status = models.ExecTimeout
		rec.Reason = fmt.Sprintf("command exceeded %s", timeout)
	case err != nil:
		rec.Status = models.ExecError
		rec.Reason = err.Error()
	case code == 0:
		rec.Status = models.ExecSuccess
	default:
		rec.Status = models.ExecFailed
		rec.Reason = fmt.Sprintf("exit status %d", code)
	}

	final := rec
	g.notify(Event{Kind: EventFinished, Target: t.Name, Command: rec.Command, Record: &final, At: time.Now()})
	return rec
}

// Probe checks that a target is reachable by running a harmless echo.
func (g *Gateway) Probe(ctx context.Context, target string) models.ExecutionRecord {
	return g.Execute(ctx, target, "echo logwarden connectivity check", 10*time.Second)
}

func (g *Gateway) slot(target string) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[target]
	if !ok {
		limit := rate.Inf
		if g.minInterval > 0 {
			limit = rate.Every(g.minInterval)
		}
		s = &slot{limiter: rate.NewLimiter(limit, 1)}
		g.slots[target] = s
	}
	return s
}

// acquire takes the target's single-flight lock. The returned release is
// safe to call more than once.
func (g *Gateway) acquire(target string, s *slot) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.busy {
		return nil, false
	}
	s.busy = true
	s.lastDispatch = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			s.busy = false
			g.mu.Unlock()
		})
	}, true
}

// Busy reports whether a command is currently running on target.
func (g *Gateway) Busy(target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[target]
	return ok && s.busy
}

// LastDispatch is when the last command was spawned on target.
func (g *Gateway) LastDispatch(target string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.slots[target]; ok {
		return s.lastDispatch
	}
	return time.Time{}
}

func (g *Gateway) Targets() Targets {
	return g.targets
}

func (g *Gateway) notify(e Event) {
	if g.observer == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			g.logger.Warn("execution observer panicked", "panic", p)
		}
	}()
	g.observer.Notify(e)
}
