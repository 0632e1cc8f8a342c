package gateway

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gzhole/logwarden/internal/models"
)

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
)

// Event is what observers see of an execution: the command when it starts
// and the full record when it ends.
type Event struct {
	Kind    EventKind
	Target  string
	Command string
	Record  *models.ExecutionRecord
	At      time.Time
}

// Observer mirrors executions somewhere a human can watch them. Notify is
// called in order on the executing goroutine and must not block; queue the
// event if writing it could.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// WriterObserver renders events to a writer, typically a terminal device
// an operator keeps open. Events are queued and written by one goroutine;
// when the queue is full new events are dropped.
type WriterObserver struct {
	w       io.Writer
	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

func NewWriterObserver(w io.Writer, queue int) *WriterObserver {
	if queue <= 0 {
		queue = 64
	}
	o := &WriterObserver{
		w:       w,
		events:  make(chan Event, queue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *WriterObserver) Notify(e Event) {
	select {
	case <-o.done:
	case o.events <- e:
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
	}
}

// Dropped is the number of events discarded because the queue was full.
func (o *WriterObserver) Dropped() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close drains queued events and waits for the writer goroutine to exit.
func (o *WriterObserver) Close() {
	o.once.Do(func() {
		close(o.done)
	})
	<-o.stopped
}

func (o *WriterObserver) loop() {
	defer close(o.stopped)
	for {
		select {
		case e := <-o.events:
			_, _ = io.WriteString(o.w, FormatEvent(e))
		case <-o.done:
			for {
				select {
				case e := <-o.events:
					_, _ = io.WriteString(o.w, FormatEvent(e))
				default:
					return
				}
			}
		}
	}
}

// FormatEvent renders an event the way the mirror terminal shows it.
func FormatEvent(e Event) string {
	var b strings.Builder
	stamp := e.At.Format("15:04:05")
	switch e.Kind {
	case EventStarted:
		fmt.Fprintf(&b, "\n┌─ %s [%s] $ %s\n", stamp, e.Target, e.Command)
	case EventFinished:
		r := e.Record
		if r == nil {
			return ""
		}
		for _, line := range splitOutput(r.Stdout) {
			fmt.Fprintf(&b, "│ %s\n", line)
		}
		for _, line := range splitOutput(r.Stderr) {
			fmt.Fprintf(&b, "│ ! %s\n", line)
		}
		fmt.Fprintf(&b, "└─ %s [%s] %s exit=%d in %s", stamp, e.Target, r.Status, r.ExitCode, r.Duration.Truncate(time.Millisecond))
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func splitOutput(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
