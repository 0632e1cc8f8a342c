package models

import (
	"fmt"
	"strings"
)

// Proposal is a single remediation step put in front of the operator.
type Proposal struct {
	Summary    string  `json:"summary"`
	Command    string  `json:"command"`
	Target     string  `json:"target"`
	Risk       string  `json:"risk,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Render formats the proposal as the plan text shown in approval UIs.
func (p Proposal) Render() string {
	var b strings.Builder
	if p.Summary != "" {
		b.WriteString(p.Summary)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Target:  %s\n", p.Target)
	fmt.Fprintf(&b, "Command: %s\n", p.Command)
	if p.Risk != "" {
		fmt.Fprintf(&b, "Risk:    %s\n", p.Risk)
	}
	if p.Confidence > 0 {
		fmt.Fprintf(&b, "Confidence: %.0f%%\n", p.Confidence*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Plan is the remediation collaborator's answer for one round: either a
// proposal, a signal that the issue is resolved, or a give-up.
type Plan struct {
	Resolved bool      `json:"resolved,omitempty"`
	GiveUp   bool      `json:"give_up,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Proposal *Proposal `json:"proposal,omitempty"`
}
