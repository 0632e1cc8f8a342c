package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Queue is what the console needs from an approval backend: the in-process
// Gateway (via Local) or a remote one (via Client).
type Queue interface {
	ListPending(ctx context.Context) ([]Request, error)
	Resolve(ctx context.Context, id string, status Status, feedback string) error
}

// Local adapts a Gateway to Queue.
type Local struct {
	*Gateway
}

func (l Local) ListPending(context.Context) ([]Request, error) {
	return l.Gateway.ListPending(), nil
}

func (l Local) Resolve(_ context.Context, id string, status Status, feedback string) error {
	return l.Gateway.Resolve(id, status, feedback)
}

func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Choice is the operator's answer to one prompt.
type Choice struct {
	Status   Status
	Feedback string
	Skipped  bool
}

// Ask renders one request and reads the operator's choice. Skipping leaves
// the request pending for another approver.
func Ask(in *bufio.Reader, out io.Writer, req Request) (Choice, error) {
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║              ⚠️  REMEDIATION APPROVAL REQUIRED               ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Request: %s\n", req.ID)
	fmt.Fprintf(out, "Waiting: %s\n", time.Since(req.CreatedAt).Truncate(time.Second))
	fmt.Fprintln(out, "")
	for _, line := range strings.Split(req.Plan, "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  [a] Approve - run the proposed command")
	fmt.Fprintln(out, "  [r] Reject - discard this proposal")
	fmt.Fprintln(out, "  [f] Feedback - reject and tell the assistant what to try instead")
	fmt.Fprintln(out, "  [s] Skip - leave it for another approver")
	fmt.Fprintln(out, "")

	for {
		fmt.Fprint(out, "Your choice [a/r/f/s]: ")
		input, err := in.ReadString('\n')
		if err != nil {
			return Choice{}, fmt.Errorf("reading choice: %w", err)
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "a", "approve", "yes", "y":
			return Choice{Status: StatusApproved}, nil
		case "r", "reject", "no", "n":
			return Choice{Status: StatusRejected}, nil
		case "f", "feedback":
			fmt.Fprint(out, "Feedback: ")
			fb, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && fb != "") {
				return Choice{}, fmt.Errorf("reading feedback: %w", err)
			}
			return Choice{Status: StatusRejected, Feedback: strings.TrimSpace(fb)}, nil
		case "s", "skip":
			return Choice{Skipped: true}, nil
		default:
			fmt.Fprintln(out, "Invalid input. Please enter 'a', 'r', 'f' or 's'.")
		}
	}
}

// Console prompts an operator for every request that shows up in a Queue.
type Console struct {
	queue    Queue
	in       *bufio.Reader
	out      io.Writer
	interval time.Duration
	logger   *slog.Logger
	seen     map[string]bool
}

func NewConsole(queue Queue, in io.Reader, out io.Writer, interval time.Duration, logger *slog.Logger) *Console {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		queue:    queue,
		in:       bufio.NewReader(in),
		out:      out,
		interval: interval,
		logger:   logger.With("component", "console"),
		seen:     make(map[string]bool),
	}
}

// Run polls the queue until ctx is done or input is exhausted.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.drain(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Console) drain(ctx context.Context) error {
	pending, err := c.queue.ListPending(ctx)
	if err != nil {
		c.logger.Warn("listing pending approvals", "error", err)
		return nil
	}
	for _, req := range pending {
		if c.seen[req.ID] {
			continue
		}
		c.seen[req.ID] = true

		choice, err := Ask(c.in, c.out, req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		if choice.Skipped {
			continue
		}
		if err := c.queue.Resolve(ctx, req.ID, choice.Status, choice.Feedback); err != nil {
			if errors.Is(err, ErrUnknownRequest) {
				fmt.Fprintln(c.out, "Request was already resolved or expired.")
				continue
			}
			c.logger.Warn("resolving approval", "id", req.ID, "error", err)
		}
	}
	return nil
}
