package models

import "time"

type ExecStatus string

const (
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailed  ExecStatus = "FAILED"
	ExecBlocked ExecStatus = "BLOCKED"
	ExecBusy    ExecStatus = "BUSY"
	ExecTimeout ExecStatus = "TIMEOUT"
	ExecError   ExecStatus = "ERROR"
)

// ExecutionRecord is the outcome of one execution attempt. It is produced
// once and never modified afterwards.
type ExecutionRecord struct {
	Target    string        `json:"target"`
	Command   string        `json:"command"`
	Status    ExecStatus    `json:"status"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Reason    string        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Spawned reports whether a process was actually started for this attempt.
func (r ExecutionRecord) Spawned() bool {
	switch r.Status {
	case ExecSuccess, ExecFailed, ExecTimeout:
		return true
	}
	return false
}
