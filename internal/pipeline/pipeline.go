// Package pipeline drives log entries one at a time through correlation,
// classification, human-approved remediation, and audit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gzhole/logwarden/internal/approval"
	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/correlate"
	"github.com/gzhole/logwarden/internal/metrics"
	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/segment"
)

type ClassifyRequest struct {
	Entry      models.LogEntry
	Correlated []string
	History    string
}

// Attempt is one earlier proposal in the remediation loop for an entry and
// what became of it.
type Attempt struct {
	Proposal  models.Proposal
	Decision  approval.Status
	Feedback  string
	Execution *models.ExecutionRecord
}

type RemediationRequest struct {
	Entry          models.LogEntry
	Classification models.Classification
	Correlated     []string
	History        string
	Attempts       []Attempt
}

// Feedback returns the operator feedback from the most recent rejection,
// if the last attempt was rejected.
func (r RemediationRequest) Feedback() string {
	if len(r.Attempts) == 0 {
		return ""
	}
	last := r.Attempts[len(r.Attempts)-1]
	if last.Decision != approval.StatusRejected {
		return ""
	}
	return last.Feedback
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (models.Classification, error)
}

type Remediator interface {
	Propose(ctx context.Context, req RemediationRequest) (models.Plan, error)
}

type Correlator interface {
	SearchTime(ctx context.Context, at time.Time, before, after time.Duration) (correlate.Result, error)
}

type Approver interface {
	Submit(plan string, proposal *models.Proposal) string
	AwaitDecision(ctx context.Context, id string, timeout time.Duration) (approval.Decision, error)
}

type Executor interface {
	Execute(ctx context.Context, target, command string, timeout time.Duration) models.ExecutionRecord
}

// EntrySource is satisfied by *segment.Scanner.
type EntrySource interface {
	Next() bool
	Entry() models.LogEntry
	Err() error
}

const (
	DefaultMaxCorrelated  = 10
	DefaultMaxRounds      = 5
	DefaultHistorySize    = 50
	DefaultHistoryContext = 10
)

type Options struct {
	Correlate       bool
	Before          time.Duration
	After           time.Duration
	MaxCorrelated   int
	MaxRounds       int
	ApprovalTimeout time.Duration
	ExecTimeout     time.Duration
	HistorySize     int
	HistoryContext  int
}

func (o *Options) applyDefaults() {
	if o.MaxCorrelated <= 0 {
		o.MaxCorrelated = DefaultMaxCorrelated
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.HistoryContext <= 0 {
		o.HistoryContext = DefaultHistoryContext
	}
}

// Deps are the collaborators an Orchestrator drives. Correlator and Sink are
// optional.
type Deps struct {
	Classifier Classifier
	Remediator Remediator
	Correlator Correlator
	Approver   Approver
	Executor   Executor
	Sink       audit.Sink
}

type Orchestrator struct {
	deps    Deps
	opts    Options
	history *History
	logger  *slog.Logger
	stopped atomic.Bool
	now     func() time.Time
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Classifier == nil || deps.Remediator == nil {
		return nil, errors.New("pipeline: classifier and remediator are required")
	}
	if deps.Approver == nil || deps.Executor == nil {
		return nil, errors.New("pipeline: approver and executor are required")
	}
	if deps.Sink == nil {
		deps.Sink = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		history: NewHistory(opts.HistorySize),
		logger:  logger.With("component", "pipeline"),
		now:     time.Now,
	}, nil
}

// Stop asks Run to return after the entry currently in flight.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

type Summary struct {
	Entries    int
	Executions int
	Outcomes   map[audit.Outcome]int
}

// Run processes entries until the source is exhausted, ctx is cancelled, or
// Stop is called. Cancellation and Stop are checked between entries. The
// returned error is the source's read error, if any.
func (o *Orchestrator) Run(ctx context.Context, src EntrySource) (Summary, error) {
	sum := Summary{Outcomes: make(map[audit.Outcome]int)}
	for !o.stopped.Load() && ctx.Err() == nil && src.Next() {
		rec := o.ProcessEntry(ctx, src.Entry())
		sum.Entries++
		sum.Executions += len(rec.Executions)
		sum.Outcomes[rec.Outcome]++
	}

	if err := src.Err(); err != nil {
		o.logger.Error("entry stream aborted", slog.Int("processed", sum.Entries), slog.Any("error", err))
		return sum, fmt.Errorf("reading entries: %w", err)
	}
	if ctx.Err() != nil || o.stopped.Load() {
		o.logger.Info("stream stopped", slog.Int("processed", sum.Entries))
	}
	return sum, nil
}

// ProcessEntry runs one entry through the whole pipeline and hands the
// resulting record to the sink. Collaborator failures, panics included, end
// up on the record; they never escape.
func (o *Orchestrator) ProcessEntry(ctx context.Context, entry models.LogEntry) audit.Record {
	rec := audit.Record{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Entry:     entry.Clone(),
	}
	logger := o.logger.With(slog.Int64("offset", entry.Offset))

	o.process(ctx, &rec, entry, logger)
	return o.finish(ctx, rec, logger)
}

func (o *Orchestrator) process(ctx context.Context, rec *audit.Record, entry models.LogEntry, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, rec, fmt.Errorf("panic: %v", r), logger)
		}
	}()

	histCtx := o.history.Context(o.opts.HistoryContext)
	o.history.Push(entry.FirstLine())

	rec.Correlated = o.correlate(ctx, entry, logger)

	cls, err := o.deps.Classifier.Classify(ctx, ClassifyRequest{
		Entry:      entry.Clone(),
		Correlated: rec.Correlated,
		History:    histCtx,
	})
	if err != nil {
		o.fail(ctx, rec, fmt.Errorf("classify: %w", err), logger)
		return
	}
	rec.Classification = &cls

	if !cls.IsAnomaly() {
		rec.Outcome = audit.OutcomeNormal
		return
	}
	logger.Info("anomaly detected", slog.String("severity", cls.Severity), slog.String("component", cls.Component))

	o.remediate(ctx, rec, RemediationRequest{
		Entry:          entry.Clone(),
		Classification: cls,
		Correlated:     rec.Correlated,
		History:        histCtx,
	}, logger)
}

func (o *Orchestrator) correlate(ctx context.Context, entry models.LogEntry, logger *slog.Logger) []string {
	if !o.opts.Correlate || o.deps.Correlator == nil {
		return nil
	}
	if !entry.HasTime() || !segment.LooksLikeError(entry) {
		return nil
	}
	res, err := o.deps.Correlator.SearchTime(ctx, *entry.Timestamp, o.opts.Before, o.opts.After)
	if err != nil {
		logger.Warn("correlation unavailable", slog.Any("error", err))
		return nil
	}
	matches := res.Matches
	if len(matches) > o.opts.MaxCorrelated {
		matches = matches[:o.opts.MaxCorrelated]
	}
	logger.Debug("correlated", slog.Int("matches", len(res.Matches)), slog.Int("forwarded", len(matches)))
	return matches
}

func (o *Orchestrator) remediate(ctx context.Context, rec *audit.Record, req RemediationRequest, logger *slog.Logger) {
	for round := 1; round <= o.opts.MaxRounds; round++ {
		plan, err := o.deps.Remediator.Propose(ctx, req)
		if err != nil {
			o.fail(ctx, rec, fmt.Errorf("propose (round %d): %w", round, err), logger)
			return
		}
		if plan.Resolved {
			logger.Info("remediation resolved", slog.Int("round", round), slog.String("reason", plan.Reason))
			rec.Outcome = audit.OutcomeResolved
			return
		}
		if plan.GiveUp || plan.Proposal == nil {
			logger.Warn("remediation gave up", slog.Int("round", round), slog.String("reason", plan.Reason))
			rec.Outcome = audit.OutcomeGaveUp
			return
		}

		proposal := *plan.Proposal
		id := o.deps.Approver.Submit(proposal.Render(), &proposal)
		logger.Info("awaiting approval", slog.String("request", id), slog.String("command", proposal.Command), slog.String("target", proposal.Target))

		decision, err := o.deps.Approver.AwaitDecision(ctx, id, o.opts.ApprovalTimeout)
		rec.Approvals = append(rec.Approvals, audit.ApprovalRecord{
			RequestID: id,
			Proposal:  proposal,
			Status:    string(decision.Status),
			Feedback:  decision.Feedback,
			Waited:    decision.Waited,
		})
		attempt := Attempt{Proposal: proposal, Decision: decision.Status, Feedback: decision.Feedback}

		switch decision.Status {
		case approval.StatusApproved:
			// Once approved, the command runs to completion even if a stop
			// was requested meanwhile.
			exec := o.deps.Executor.Execute(context.WithoutCancel(ctx), proposal.Target, proposal.Command, o.opts.ExecTimeout)
			rec.Executions = append(rec.Executions, exec)
			attempt.Execution = &exec
			logger.Info("executed", slog.String("target", exec.Target), slog.String("status", string(exec.Status)), slog.Duration("duration", exec.Duration))
		case approval.StatusRejected:
			logger.Info("proposal rejected", slog.String("request", id), slog.String("feedback", decision.Feedback))
		case approval.StatusTimedOut:
			logger.Error("approval timed out; abandoning remediation", slog.String("request", id), slog.Duration("waited", decision.Waited))
			rec.Outcome = audit.OutcomeApprovalTimeout
			return
		case approval.StatusCancelled:
			rec.Outcome = audit.OutcomeCancelled
			return
		default:
			o.fail(ctx, rec, fmt.Errorf("await decision %s: %w", id, err), logger)
			return
		}

		req.Attempts = append(req.Attempts, attempt)
		if ctx.Err() != nil {
			rec.Outcome = audit.OutcomeCancelled
			return
		}
	}
	logger.Warn("remediation round limit reached", slog.Int("rounds", o.opts.MaxRounds))
	rec.Outcome = audit.OutcomeMaxRounds
}

func (o *Orchestrator) fail(ctx context.Context, rec *audit.Record, err error, logger *slog.Logger) {
	if ctx.Err() != nil {
		rec.Outcome = audit.OutcomeCancelled
		rec.Error = err.Error()
		return
	}
	logger.Error("entry failed", slog.String("entry", rec.Entry.FirstLine()), slog.Any("error", err))
	rec.Outcome = audit.OutcomeError
	rec.Error = err.Error()
}

func (o *Orchestrator) finish(ctx context.Context, rec audit.Record, logger *slog.Logger) audit.Record {
	rec.Duration = o.now().Sub(rec.StartedAt)
	metrics.ObserveEntry(string(rec.Outcome))
	if err := o.deps.Sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("audit write failed", slog.String("record", rec.ID), slog.Any("error", err))
	}
	return rec
}
