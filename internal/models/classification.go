package models

import (
	"fmt"
	"strings"
)

type Verdict string

const (
	VerdictNormal  Verdict = "NORMAL"
	VerdictAnomaly Verdict = "ANOMALY"
)

// ParseVerdict accepts the collaborator's spelling of a verdict. Anything
// that is not recognisably normal is treated as an anomaly.
func ParseVerdict(s string) Verdict {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORMAL", "OK", "INFO":
		return VerdictNormal
	default:
		return VerdictAnomaly
	}
}

type Classification struct {
	Verdict        Verdict `json:"verdict"`
	Severity       string  `json:"severity,omitempty"`
	Component      string  `json:"component,omitempty"`
	Cause          string  `json:"cause,omitempty"`
	Recommendation string  `json:"recommendation,omitempty"`
}

func (c Classification) IsAnomaly() bool {
	return c.Verdict == VerdictAnomaly
}

func (c Classification) String() string {
	if c.Severity == "" {
		return string(c.Verdict)
	}
	return fmt.Sprintf("%s (%s)", c.Verdict, c.Severity)
}
