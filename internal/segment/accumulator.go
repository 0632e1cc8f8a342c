package segment

import (
	"log/slog"
	"strings"

	"github.com/gzhole/logwarden/internal/models"
)

// Accumulator is the push side of segmentation: callers feed it one line at
// a time as bytes arrive and receive an entry whenever one is closed.
type Accumulator struct {
	mode    Mode
	logger  *slog.Logger
	open    *models.LogEntry
	orphans int
}

func NewAccumulator(mode Mode, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{mode: mode, logger: logger}
}

// Push consumes one raw line (without its newline). lineNo is the 1-based
// line number in the source and becomes the entry offset.
func (a *Accumulator) Push(raw string, lineNo int64) (models.LogEntry, bool) {
	line := strings.TrimRight(raw, " \t\r\n")

	if a.mode == ModeLine {
		if strings.TrimSpace(line) == "" {
			return models.LogEntry{}, false
		}
		return models.LogEntry{
			Lines:   []string{line},
			Offset:  lineNo,
			Notable: IsNotable(line),
		}, true
	}

	if timestampPrefix.MatchString(line) {
		closed, ok := a.Flush()
		next := &models.LogEntry{Lines: []string{line}, Offset: lineNo}
		if ts, parsed := ParseTimestamp(line); parsed {
			next.Timestamp = &ts
		} else {
			a.logger.Debug("unparseable entry timestamp", "line", lineNo)
		}
		next.Notable = IsNotable(line)
		a.open = next
		return closed, ok
	}

	if strings.TrimSpace(line) == "" {
		return models.LogEntry{}, false
	}
	if a.open == nil {
		a.orphans++
		return models.LogEntry{}, false
	}
	a.open.Lines = append(a.open.Lines, line)
	return models.LogEntry{}, false
}

// Flush closes and returns the open entry, if any.
func (a *Accumulator) Flush() (models.LogEntry, bool) {
	if a.open == nil {
		return models.LogEntry{}, false
	}
	e := *a.open
	a.open = nil
	return e, true
}

func (a *Accumulator) Orphans() int {
	return a.orphans
}
