// Package approval holds remediation plans until a human operator approves
// or rejects them, and hands the decision back to whoever is waiting.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/logwarden/internal/metrics"
	"github.com/gzhole/logwarden/internal/models"
)

// ErrUnknownRequest is returned for ids that were never issued or whose
// request already reached a terminal state.
var ErrUnknownRequest = errors.New("unknown or already resolved approval request")

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

type Request struct {
	ID         string           `json:"id"`
	Plan       string           `json:"plan"`
	Proposal   *models.Proposal `json:"proposal,omitempty"`
	Status     Status           `json:"status"`
	Feedback   string           `json:"feedback,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	ResolvedAt time.Time        `json:"resolved_at,omitempty"`
}

// Decision is what an awaiting caller receives.
type Decision struct {
	ID       string        `json:"id"`
	Status   Status        `json:"status"`
	Feedback string        `json:"feedback,omitempty"`
	Waited   time.Duration `json:"waited"`
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 300 * time.Second
	DefaultRetain       = 10 * time.Minute
)

type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// Retain bounds how long a settled decision waits for its awaiting
	// caller before being discarded.
	Retain time.Duration
}

// Gateway is the table of approval requests. A request is live while
// pending; once terminal it moves to the settled table until the caller
// awaiting it picks it up.
type Gateway struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	live    map[string]*Request
	settled map[string]Request
}

func NewGateway(opts Options, logger *slog.Logger) *Gateway {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		opts:    opts,
		logger:  logger.With("component", "approval"),
		now:     time.Now,
		live:    make(map[string]*Request),
		settled: make(map[string]Request),
	}
}

// Submit registers a pending request and returns its id.
func (g *Gateway) Submit(plan string, proposal *models.Proposal) string {
	id := uuid.NewString()
	now := g.now()

	g.mu.Lock()
	g.pruneLocked(now)
	g.live[id] = &Request{
		ID:        id,
		Plan:      plan,
		Proposal:  proposal,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(g.opts.Timeout),
	}
	g.mu.Unlock()

	g.logger.Info("approval requested", "id", id)
	return id
}

// Resolve records an operator decision. Only APPROVED and REJECTED are
// accepted; the first resolution of a request wins.
func (g *Gateway) Resolve(id string, status Status, feedback string) error {
	if status != StatusApproved && status != StatusRejected {
		return fmt.Errorf("cannot resolve approval request to %s", status)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.live[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	g.settleLocked(req, status, feedback)
	g.logger.Info("approval resolved", "id", id, "status", status, "feedback", feedback != "")
	return nil
}

func (g *Gateway) Approve(id string) error {
	return g.Resolve(id, StatusApproved, "")
}

func (g *Gateway) Reject(id, feedback string) error {
	return g.Resolve(id, StatusRejected, feedback)
}

// AwaitDecision blocks until the request is terminal. It checks once right
// away and then every poll interval. After timeout (zero means the gateway
// default) the request is marked TIMED_OUT; if ctx ends first it is marked
// CANCELLED and ctx.Err() is returned alongside the decision.
func (g *Gateway) AwaitDecision(ctx context.Context, id string, timeout time.Duration) (Decision, error) {
	if timeout <= 0 {
		timeout = g.opts.Timeout
	}
	g.extend(id, timeout)
	if d, done, err := g.check(id); err != nil || done {
		return d, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d, err := g.finish(id, StatusCancelled)
			if err != nil {
				return d, err
			}
			return d, ctx.Err()
		case <-deadline.C:
			d, err := g.finish(id, StatusTimedOut)
			if err == nil && d.Status == StatusTimedOut {
				g.logger.Warn("approval timed out", "id", id, "timeout", timeout)
			}
			return d, err
		case <-ticker.C:
			if d, done, err := g.check(id); err != nil || done {
				return d, err
			}
		}
	}
}

// ListPending returns a snapshot of pending requests, oldest first.
func (g *Gateway) ListPending() []Request {
	g.mu.Lock()
	g.pruneLocked(g.now())
	out := make([]Request, 0, len(g.live))
	for _, req := range g.live {
		out = append(out, *req)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a request that is pending or settled but not yet collected.
func (g *Gateway) Get(id string) (Request, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if req, ok := g.live[id]; ok {
		return *req, true
	}
	req, ok := g.settled[id]
	return req, ok
}

// check consumes the decision if the request is terminal.
func (g *Gateway) check(id string) (Decision, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req, ok := g.settled[id]; ok {
		delete(g.settled, id)
		return decisionOf(req), true, nil
	}
	if _, ok := g.live[id]; ok {
		return Decision{ID: id, Status: StatusPending}, false, nil
	}
	return Decision{}, false, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
}

// finish moves a still-pending request to status and consumes it. If an
// operator resolved it in the meantime, that decision wins.
func (g *Gateway) finish(id string, status Status) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req, ok := g.live[id]; ok {
		g.settleLocked(req, status, "")
	}
	req, ok := g.settled[id]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	delete(g.settled, id)
	return decisionOf(req), nil
}

func (g *Gateway) settleLocked(req *Request, status Status, feedback string) {
	req.Status = status
	req.Feedback = feedback
	req.ResolvedAt = g.now()
	delete(g.live, req.ID)
	g.settled[req.ID] = *req
	metrics.ObserveApproval(string(status), req.ResolvedAt.Sub(req.CreatedAt))
}

// extend pushes a live request's expiry out to at least timeout from now,
// so an awaiting caller with a longer timeout is not swept early.
func (g *Gateway) extend(id string, timeout time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req, ok := g.live[id]; ok {
		if exp := g.now().Add(timeout); exp.After(req.ExpiresAt) {
			req.ExpiresAt = exp
		}
	}
}

// pruneLocked times out pending requests nobody is waiting on and drops
// settled decisions past retention.
func (g *Gateway) pruneLocked(now time.Time) {
	for _, req := range g.live {
		if now.After(req.ExpiresAt) {
			g.settleLocked(req, StatusTimedOut, "")
			g.logger.Warn("approval expired unanswered", "id", req.ID)
		}
	}
	for id, req := range g.settled {
		if now.Sub(req.ResolvedAt) > g.opts.Retain {
			delete(g.settled, id)
		}
	}
}

func decisionOf(req Request) Decision {
	return Decision{
		ID:       req.ID,
		Status:   req.Status,
		Feedback: req.Feedback,
		Waited:   req.ResolvedAt.Sub(req.CreatedAt),
	}
}
