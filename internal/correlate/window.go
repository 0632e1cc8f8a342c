package correlate

import (
	"sync"
	"time"
)

// Record is one line of the secondary source. HasTime is false when the
// fixed-width prefix did not parse; such records are kept but only match
// by literal text.
type Record struct {
	Time    time.Time
	HasTime bool
	Line    string
}

// Window is a bounded FIFO of recent records. When full, Push evicts the
// oldest record. All methods are safe for concurrent use.
type Window struct {
	mu    sync.RWMutex
	buf   []Record
	start int
	size  int
}

func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]Record, capacity)}
}

func (w *Window) Push(r Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = r
		w.size++
		return
	}
	w.buf[w.start] = r
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot copies the window contents, oldest first.
func (w *Window) Snapshot() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Record, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *Window) Cap() int {
	return len(w.buf)
}
