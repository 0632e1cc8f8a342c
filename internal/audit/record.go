// Package audit persists one record per processed log entry: what was seen,
// how it was classified, what was proposed and decided, and what ran.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/gzhole/logwarden/internal/models"
)

type Outcome string

const (
	OutcomeNormal          Outcome = "normal"
	OutcomeResolved        Outcome = "resolved"
	OutcomeGaveUp          Outcome = "gave_up"
	OutcomeApprovalTimeout Outcome = "approval_timeout"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeMaxRounds       Outcome = "max_rounds"
	OutcomeError           Outcome = "error"
)

// ApprovalRecord is one proposal put to an operator and what they decided.
type ApprovalRecord struct {
	RequestID string          `json:"request_id"`
	Proposal  models.Proposal `json:"proposal"`
	Status    string          `json:"status"`
	Feedback  string          `json:"feedback,omitempty"`
	Waited    time.Duration   `json:"waited"`
}

type Record struct {
	ID             string                   `json:"id"`
	StartedAt      time.Time                `json:"started_at"`
	Duration       time.Duration            `json:"duration"`
	Entry          models.LogEntry          `json:"entry"`
	Correlated     []string                 `json:"correlated,omitempty"`
	Classification *models.Classification   `json:"classification,omitempty"`
	Approvals      []ApprovalRecord         `json:"approvals,omitempty"`
	Executions     []models.ExecutionRecord `json:"executions,omitempty"`
	Outcome        Outcome                  `json:"outcome"`
	Error          string                   `json:"error,omitempty"`
}

// Sink receives finished records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(context.Context, Record) error { return nil }
