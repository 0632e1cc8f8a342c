// Package segment turns a raw log stream into logical entries, grouping
// continuation lines (stack traces, wrapped messages) under the timestamped
// line that opened them.
package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gzhole/logwarden/internal/models"
)

// ErrNotFound is returned when the primary log source does not exist.
var ErrNotFound = errors.New("log source not found")

type Mode int

const (
	// ModeTimestamp groups lines into entries that start at a timestamped line.
	ModeTimestamp Mode = iota
	// ModeLine emits every non-blank line as its own entry.
	ModeLine
)

func (m Mode) String() string {
	if m == ModeLine {
		return "line"
	}
	return "timestamp"
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "timestamp":
		return ModeTimestamp, nil
	case "line":
		return ModeLine, nil
	}
	return ModeTimestamp, fmt.Errorf("unknown segment mode %q", s)
}

const maxLineBytes = 1 << 20

var timestampPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}[,.]\d{3}`)

var severityTokens = []string{"ERROR", "WARN", "WARNING", "CRITICAL", "FATAL"}

var errorTokens = []string{"ERROR", "CRITICAL", "FATAL", "EXCEPTION"}

// IsNotable reports whether a line carries one of the severity tokens,
// case-insensitively and anywhere in the line.
func IsNotable(line string) bool {
	return containsAny(strings.ToUpper(line), severityTokens)
}

// LooksLikeError reports whether the opening line of an entry reads like an
// error report.
func LooksLikeError(e models.LogEntry) bool {
	return containsAny(strings.ToUpper(e.FirstLine()), errorTokens)
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// ParseTimestamp parses a leading "YYYY-MM-DD HH:MM:SS,mmm" (or ".mmm")
// prefix. It returns false when the line does not open with one.
func ParseTimestamp(line string) (time.Time, bool) {
	m := timestampPrefix.FindString(line)
	if m == "" {
		return time.Time{}, false
	}
	norm := strings.Join(strings.Fields(m), " ")
	norm = strings.Replace(norm, ",", ".", 1)
	ts, err := time.ParseInLocation("2006-01-02 15:04:05.000", norm, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Open opens path for segmentation. A missing file yields ErrNotFound.
func Open(path string, mode Mode, logger *slog.Logger) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening log source: %w", err)
	}
	s := NewScanner(f, mode, logger)
	s.closer = f
	return s, nil
}

// Scanner yields entries lazily from a reader, one call to Next at a time.
// It reads only as many lines as it needs to close the current entry and
// cannot be rewound.
type Scanner struct {
	lines  *bufio.Scanner
	closer io.Closer
	acc    *Accumulator
	logger *slog.Logger

	entry   models.LogEntry
	done    bool
	err     error
	lineNo  int64
	emitted int
}

func NewScanner(r io.Reader, mode Mode, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	ls := bufio.NewScanner(r)
	ls.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Scanner{
		lines:  ls,
		acc:    NewAccumulator(mode, logger),
		logger: logger,
	}
}

// Next advances to the next entry. It returns false at end of stream or on
// a read error; anything buffered before the error is still delivered.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	for s.lines.Scan() {
		s.lineNo++
		if s.lineNo%1000 == 0 {
			s.logger.Debug("segmenting", "lines", s.lineNo, "entries", s.emitted)
		}
		if e, ok := s.acc.Push(s.lines.Text(), s.lineNo); ok {
			s.entry = e
			s.emitted++
			return true
		}
	}
	s.done = true
	if err := s.lines.Err(); err != nil {
		s.err = fmt.Errorf("reading log source at line %d: %w", s.lineNo+1, err)
		s.logger.Warn("log source read failed", "error", s.err, "entries", s.emitted)
	}
	if e, ok := s.acc.Flush(); ok {
		s.entry = e
		s.emitted++
		return true
	}
	return false
}

// Entry returns the entry produced by the last successful Next.
func (s *Scanner) Entry() models.LogEntry {
	return s.entry
}

// Err returns the read error that ended the stream, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Orphans is the number of lines dropped because no entry was open yet.
func (s *Scanner) Orphans() int {
	return s.acc.Orphans()
}

func (s *Scanner) Close() error {
	s.logger.Debug("segmenter closed", "lines", s.lineNo, "entries", s.emitted, "orphans", s.acc.Orphans())
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
