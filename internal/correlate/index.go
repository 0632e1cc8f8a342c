// Package correlate keeps a bounded window of recent lines from a secondary
// (infrastructure) log and answers "what happened around time T" queries
// against it.
package correlate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gzhole/logwarden/internal/metrics"
)

// ErrSourceUnavailable is returned when the secondary source cannot be read.
// Callers degrade to an empty correlation result.
var ErrSourceUnavailable = errors.New("correlation source unavailable")

const (
	DefaultCapacity = 200
	DefaultBefore   = 2 * time.Second
	DefaultAfter    = 1 * time.Second

	prefixLayout = "2006-01-02 15:04:05,000"
)

// ParseTimestamp parses the fixed-width timestamp prefix of a secondary
// source line.
func ParseTimestamp(line string) (time.Time, bool) {
	if len(line) < len(prefixLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(prefixLayout, line[:len(prefixLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// NewRecord wraps a raw line, parsing its timestamp when present.
func NewRecord(line string) Record {
	line = strings.TrimRight(line, "\r\n")
	ts, ok := ParseTimestamp(line)
	return Record{Time: ts, HasTime: ok, Line: line}
}

type Options struct {
	// Source is a file path or a glob; with a glob the most recently
	// modified match is used.
	Source   string
	Capacity int
	Before   time.Duration
	After    time.Duration
}

// Result is the answer to one search. Matches are in window order.
type Result struct {
	Query    string    `json:"query"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Matches  []string  `json:"matches"`
	Fallback bool      `json:"fallback,omitempty"`
}

// Index owns a correlation window and the source that feeds it.
type Index struct {
	opts   Options
	window *Window
	logger *slog.Logger

	mu            sync.Mutex
	loaded        bool
	implicitTried bool
	path          string
	offset        int64
}

func New(opts Options, logger *slog.Logger) *Index {
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Before <= 0 {
		opts.Before = DefaultBefore
	}
	if opts.After <= 0 {
		opts.After = DefaultAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		opts:   opts,
		window: NewWindow(opts.Capacity),
		logger: logger.With("component", "correlate"),
	}
}

// Snapshot returns a copy of the buffered records, oldest first.
func (ix *Index) Snapshot() []Record {
	return ix.window.Snapshot()
}

func (ix *Index) Len() int {
	return ix.window.Len()
}

// Load reads the secondary source into the window. After one successful
// load further calls are no-ops.
func (ix *Index) Load(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loadLocked(ctx)
}

func (ix *Index) loadLocked(ctx context.Context) error {
	if ix.loaded {
		return nil
	}
	path, err := resolveSource(ix.opts.Source)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	n, read, err := ix.ingestFrom(ctx, f, true)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, path, err)
	}
	ix.path = path
	ix.offset = read
	ix.loaded = true
	ix.logger.Info("correlation source loaded", "path", path, "lines", n, "window", ix.window.Len())
	return nil
}

// ingestFrom pushes every line from r and returns the number of lines and
// bytes consumed. A trailing line without a newline is only taken when
// partial is set; otherwise it is left for the next poll.
func (ix *Index) ingestFrom(ctx context.Context, r io.Reader, partial bool) (int, int64, error) {
	br := bufio.NewReader(r)
	var lines int
	var consumed int64
	for {
		if lines%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return lines, consumed, err
			}
		}
		line, err := br.ReadString('\n')
		if err == io.EOF {
			if partial && line != "" {
				consumed += int64(len(line))
				ix.Ingest(line)
				lines++
			}
			return lines, consumed, nil
		}
		if err != nil {
			return lines, consumed, err
		}
		consumed += int64(len(line))
		ix.Ingest(line)
		lines++
	}
}

// Ingest appends one line to the window, evicting the oldest if full.
func (ix *Index) Ingest(line string) {
	ix.window.Push(NewRecord(line))
	metrics.SetWindowSize(ix.window.Len())
}

// Follow tails the loaded source, ingesting appended lines every interval
// until ctx is done. A shrinking file is treated as truncated and re-read
// from the start.
func (ix *Index) Follow(ctx context.Context, interval time.Duration) error {
	if err := ix.Load(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ix.poll(ctx); err != nil {
				ix.logger.Warn("correlation follow failed", "error", err)
			}
		}
	}
}

func (ix *Index) poll(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	f, err := os.Open(ix.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < ix.offset {
		ix.logger.Info("correlation source truncated", "path", ix.path, "old_size", ix.offset, "size", info.Size())
		ix.offset = 0
	}
	if info.Size() == ix.offset {
		return nil
	}
	if _, err := f.Seek(ix.offset, io.SeekStart); err != nil {
		return err
	}
	n, read, err := ix.ingestFrom(ctx, f, false)
	ix.offset += read
	if n > 0 {
		ix.logger.Debug("correlation lines ingested", "lines", n)
	}
	return err
}

// Search returns the window lines around the queried time. query is
// "HH:MM:SS[.mmm]" or "YYYY-MM-DD HH:MM:SS[,mmm]"; a missing date is taken
// from the first dated record in the window. A zero before or after uses
// the index default.
func (ix *Index) Search(ctx context.Context, query string, before, after time.Duration) (Result, error) {
	ix.ensureLoaded(ctx)
	snap := ix.window.Snapshot()

	query = strings.TrimSpace(query)
	at, clock, ok := resolveQuery(query, snap)
	if !ok {
		return literalSearch(query, snap), nil
	}
	return rangeSearch(query, at, clock, ix.bounds(before, after), snap), nil
}

// SearchTime is Search with a fully specified instant.
func (ix *Index) SearchTime(ctx context.Context, at time.Time, before, after time.Duration) (Result, error) {
	ix.ensureLoaded(ctx)
	snap := ix.window.Snapshot()
	query := at.Format("2006-01-02 15:04:05.000")
	return rangeSearch(query, at, at.Format("15:04:05"), ix.bounds(before, after), snap), nil
}

// ensureLoaded makes the one implicit load attempt allowed before the
// first explicit load has succeeded.
func (ix *Index) ensureLoaded(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded || ix.implicitTried {
		return
	}
	ix.implicitTried = true
	if err := ix.loadLocked(ctx); err != nil {
		ix.logger.Warn("correlation source not loaded, searching current window", "error", err)
	}
}

type bounds struct{ before, after time.Duration }

func (ix *Index) bounds(before, after time.Duration) bounds {
	if before <= 0 {
		before = ix.opts.Before
	}
	if after <= 0 {
		after = ix.opts.After
	}
	return bounds{before: before, after: after}
}

func rangeSearch(query string, at time.Time, clock string, b bounds, snap []Record) Result {
	res := Result{
		Query:   query,
		From:    at.Add(-b.before),
		To:      at.Add(b.after),
		Matches: []string{},
	}
	for _, r := range snap {
		if r.HasTime {
			if !r.Time.Before(res.From) && !r.Time.After(res.To) {
				res.Matches = append(res.Matches, r.Line)
			}
			continue
		}
		if clock != "" && strings.Contains(r.Line, clock) {
			res.Matches = append(res.Matches, r.Line)
		}
	}
	return res
}

func literalSearch(query string, snap []Record) Result {
	res := Result{Query: query, Matches: []string{}, Fallback: true}
	if query == "" {
		return res
	}
	for _, r := range snap {
		if strings.Contains(r.Line, query) {
			res.Matches = append(res.Matches, r.Line)
		}
	}
	return res
}

var (
	fullLayouts  = []string{"2006-01-02 15:04:05,000", "2006-01-02 15:04:05.000", "2006-01-02 15:04:05"}
	clockLayouts = []string{"15:04:05.000", "15:04:05,000", "15:04:05"}
)

// resolveQuery turns a query into an instant plus its HH:MM:SS text.
func resolveQuery(query string, snap []Record) (time.Time, string, bool) {
	for _, layout := range fullLayouts {
		if t, err := time.ParseInLocation(layout, query, time.Local); err == nil {
			return t, t.Format("15:04:05"), true
		}
	}
	for _, layout := range clockLayouts {
		clock, err := time.Parse(layout, query)
		if err != nil {
			continue
		}
		date, ok := firstDate(snap)
		if !ok {
			return time.Time{}, "", false
		}
		t := time.Date(date.Year(), date.Month(), date.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), date.Location())
		return t, clock.Format("15:04:05"), true
	}
	return time.Time{}, "", false
}

func firstDate(snap []Record) (time.Time, bool) {
	for _, r := range snap {
		if r.HasTime {
			return r.Time, true
		}
	}
	return time.Time{}, false
}

func resolveSource(pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("%w: no source configured", ErrSourceUnavailable)
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: bad pattern %q: %v", ErrSourceUnavailable, pattern, err)
	}
	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: no files match %s", ErrSourceUnavailable, pattern)
	}
	return newest, nil
}
