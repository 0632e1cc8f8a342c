package pipeline

import (
	"fmt"
	"strings"
	"sync"
)

// History remembers the first lines of recently processed entries so the
// classifier can spot repeats.
type History struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{lines: make([]string, size)}
}

func (h *History) Push(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[h.next] = line
	h.next = (h.next + 1) % len(h.lines)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to k lines, oldest first.
func (h *History) Recent(k int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.lines)
	}
	if k <= 0 || k > n {
		k = n
	}
	out := make([]string, 0, k)
	for i := n - k; i < n; i++ {
		idx := i
		if h.full {
			idx = (h.next + i) % len(h.lines)
		}
		out = append(out, h.lines[idx])
	}
	return out
}

// Context renders the last k lines as a numbered block.
func (h *History) Context(k int) string {
	recent := h.Recent(k)
	if len(recent) == 0 {
		return "No previous logs in memory."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent logs context (last %d):\n", len(recent))
	for i, line := range recent {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	return b.String()
}
