package models

import (
	"strings"
	"time"
)

// LogEntry is one logical record from the primary log source. The first
// line is the one that opened the entry (the timestamped line in timestamp
// mode); continuation lines follow in source order.
type LogEntry struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Lines     []string   `json:"lines"`
	Offset    int64      `json:"offset"`
	Notable   bool       `json:"notable,omitempty"`
}

// Text joins the entry lines with newlines.
func (e LogEntry) Text() string {
	return strings.Join(e.Lines, "\n")
}

func (e LogEntry) FirstLine() string {
	if len(e.Lines) == 0 {
		return ""
	}
	return e.Lines[0]
}

func (e LogEntry) HasTime() bool {
	return e.Timestamp != nil
}

// Clone returns a deep copy so collaborators cannot alter the caller's view.
func (e LogEntry) Clone() LogEntry {
	out := e
	out.Lines = append([]string(nil), e.Lines...)
	if e.Timestamp != nil {
		ts := *e.Timestamp
		out.Timestamp = &ts
	}
	return out
}
