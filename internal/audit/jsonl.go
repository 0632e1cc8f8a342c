package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/redact"
)

const defaultMaxLogBytes = 10 << 20

// JSONLWriter appends one JSON object per line. When the file reaches its
// size limit it is renamed to <path>.1 and a fresh file is started.
type JSONLWriter struct {
	path     string
	maxBytes int64
	redactor *redact.Redactor

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewJSONL(path string, redactor *redact.Redactor) (*JSONLWriter, error) {
	w := &JSONLWriter{path: path, maxBytes: defaultMaxLogBytes, redactor: redactor}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JSONLWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *JSONLWriter) Write(_ context.Context, rec Record) error {
	data, err := json.Marshal(scrub(rec, w.redactor))
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(data)) > w.maxBytes && w.size > 0 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := w.file.Write(data)
	w.size += int64(n)
	return err
}

func (w *JSONLWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}
	return w.open()
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// scrub returns a copy of rec with credentials masked in every free-text
// field that can carry them.
func scrub(rec Record, r *redact.Redactor) Record {
	out := rec
	out.Entry = rec.Entry.Clone()
	out.Entry.Lines = r.Lines(rec.Entry.Lines)
	out.Correlated = r.Lines(rec.Correlated)
	out.Error = r.String(rec.Error)

	out.Approvals = make([]ApprovalRecord, len(rec.Approvals))
	for i, a := range rec.Approvals {
		a.Proposal.Command = r.String(a.Proposal.Command)
		a.Proposal.Summary = r.String(a.Proposal.Summary)
		a.Feedback = r.String(a.Feedback)
		out.Approvals[i] = a
	}

	out.Executions = make([]models.ExecutionRecord, len(rec.Executions))
	for i, e := range rec.Executions {
		e.Command = r.String(e.Command)
		e.Stdout = r.String(e.Stdout)
		e.Stderr = r.String(e.Stderr)
		e.Reason = r.String(e.Reason)
		out.Executions[i] = e
	}
	return out
}

// ReadJSONL loads every record from a JSONL audit file. Malformed lines are
// skipped.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
