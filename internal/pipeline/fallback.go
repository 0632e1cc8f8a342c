package pipeline

import (
	"context"
	"strings"

	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/segment"
)

// SeverityClassifier flags entries by their level token alone. It is used
// when no model endpoint is configured.
type SeverityClassifier struct{}

func (SeverityClassifier) Classify(_ context.Context, req ClassifyRequest) (models.Classification, error) {
	if !segment.LooksLikeError(req.Entry) {
		return models.Classification{Verdict: models.VerdictNormal, Severity: "LOW"}, nil
	}
	severity := "HIGH"
	upper := strings.ToUpper(req.Entry.FirstLine())
	if strings.Contains(upper, "FATAL") || strings.Contains(upper, "CRITICAL") {
		severity = "CRITICAL"
	}
	cls := models.Classification{
		Verdict:        models.VerdictAnomaly,
		Severity:       severity,
		Cause:          "error-level log entry",
		Recommendation: "inspect the entry and any correlated infrastructure lines",
	}
	if len(req.Correlated) > 0 {
		cls.Cause = "error-level log entry with correlated infrastructure activity"
	}
	return cls, nil
}

// NoopRemediator never proposes anything; entries end as resolved without
// touching a target.
type NoopRemediator struct{}

func (NoopRemediator) Propose(context.Context, RemediationRequest) (models.Plan, error) {
	return models.Plan{Resolved: true, Reason: "no remediator configured"}, nil
}
