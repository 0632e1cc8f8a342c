package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gzhole/logwarden/internal/models"
)

func fastGateway() *Gateway {
	return NewGateway(Options{PollInterval: 10 * time.Millisecond, Timeout: time.Second}, nil)
}

func TestGateway_SubmitListsPending(t *testing.T) {
	gw := fastGateway()
	id1 := gw.Submit("plan one", nil)
	id2 := gw.Submit("plan two", &models.Proposal{Command: "df -h", Target: "local"})

	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %q twice", id1)
	}
	pending := gw.ListPending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	for _, req := range pending {
		if req.Status != StatusPending {
			t.Errorf("request %s: expected PENDING, got %s", req.ID, req.Status)
		}
	}
}

func TestGateway_ApproveBeforeAwait(t *testing.T) {
	gw := NewGateway(Options{}, nil) // default 5s poll; the first check is immediate
	id := gw.Submit("restart nothing", nil)
	if err := gw.Approve(id); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	start := time.Now()
	d, err := gw.AwaitDecision(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("AwaitDecision: %v", err)
	}
	if d.Status != StatusApproved {
		t.Errorf("expected APPROVED, got %s", d.Status)
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected immediate return, took %s", time.Since(start))
	}
	if len(gw.ListPending()) != 0 {
		t.Errorf("resolved request should not be pending")
	}
}

func TestGateway_RejectWithFeedbackWhileWaiting(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = gw.Reject(id, "check disk first")
	}()

	d, err := gw.AwaitDecision(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("AwaitDecision: %v", err)
	}
	if d.Status != StatusRejected || d.Feedback != "check disk first" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestGateway_Timeout(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	d, err := gw.AwaitDecision(context.Background(), id, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitDecision: %v", err)
	}
	if d.Status != StatusTimedOut {
		t.Errorf("expected TIMED_OUT, got %s", d.Status)
	}
	if err := gw.Approve(id); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("approving a timed-out request: expected ErrUnknownRequest, got %v", err)
	}
}

func TestGateway_Cancelled(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d, err := gw.AwaitDecision(ctx, id, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if d.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", d.Status)
	}
	if len(gw.ListPending()) != 0 {
		t.Errorf("cancelled request should leave the pending list")
	}
}

func TestGateway_ResolveOnlyOnce(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	if err := gw.Approve(id); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := gw.Reject(id, "too late"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("second resolve: expected ErrUnknownRequest, got %v", err)
	}
	d, err := gw.AwaitDecision(context.Background(), id, time.Second)
	if err != nil || d.Status != StatusApproved {
		t.Errorf("expected the first decision to stick, got %+v, %v", d, err)
	}
}

func TestGateway_ConcurrentResolveHasOneWinner(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusApproved
			if i%2 == 0 {
				status = StatusRejected
			}
			if gw.Resolve(id, status, "") == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one successful resolve, got %d", wins.Load())
	}
}

func TestGateway_UnknownID(t *testing.T) {
	gw := fastGateway()
	if err := gw.Approve("nope"); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("expected ErrUnknownRequest, got %v", err)
	}
	if _, err := gw.AwaitDecision(context.Background(), "nope", 0); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestGateway_ResolveRejectsNonOperatorStatus(t *testing.T) {
	gw := fastGateway()
	id := gw.Submit("plan", nil)

	for _, s := range []Status{StatusPending, StatusTimedOut, StatusCancelled} {
		if err := gw.Resolve(id, s, ""); err == nil {
			t.Errorf("resolve to %s should fail", s)
		}
	}
	if len(gw.ListPending()) != 1 {
		t.Errorf("request should still be pending")
	}
}

func TestGateway_PrunesUncollectedDecisions(t *testing.T) {
	gw := NewGateway(Options{Retain: time.Minute}, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return now }

	id := gw.Submit("plan", nil)
	if err := gw.Approve(id); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, ok := gw.Get(id); !ok {
		t.Fatalf("settled request should be visible before pruning")
	}

	now = now.Add(2 * time.Minute)
	gw.Submit("another", nil)
	if _, ok := gw.Get(id); ok {
		t.Errorf("settled request should be pruned after retain")
	}
}

func TestGateway_UnawaitedRequestExpires(t *testing.T) {
	gw := NewGateway(Options{Timeout: time.Minute}, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return now }

	id := gw.Submit("nobody waits for this", nil)
	if got := len(gw.ListPending()); got != 1 {
		t.Fatalf("expected 1 pending, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if got := len(gw.ListPending()); got != 0 {
		t.Fatalf("expected expired request to leave the pending list, got %d", got)
	}
	req, ok := gw.Get(id)
	if !ok || req.Status != StatusTimedOut {
		t.Errorf("expected TIMED_OUT, got %+v (found=%v)", req, ok)
	}
	if err := gw.Approve(id); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("approving an expired request: expected ErrUnknownRequest, got %v", err)
	}
}

func TestGateway_AwaitExtendsExpiry(t *testing.T) {
	gw := NewGateway(Options{Timeout: time.Minute, PollInterval: 10 * time.Millisecond}, nil)
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gw.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	id := gw.Submit("long wait", nil)
	done := make(chan Decision, 1)
	go func() {
		d, _ := gw.AwaitDecision(context.Background(), id, time.Hour)
		done <- d
	}()

	// Wait until the awaiter has extended the expiry, then move past the
	// gateway default.
	deadline := time.Now().Add(time.Second)
	for {
		req, _ := gw.Get(id)
		if req.ExpiresAt.After(now.Add(time.Minute)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("awaiter never extended the expiry")
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if got := len(gw.ListPending()); got != 1 {
		t.Fatalf("request awaited with a longer timeout should stay pending, got %d", got)
	}
	if err := gw.Approve(id); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if d := <-done; d.Status != StatusApproved {
		t.Errorf("expected APPROVED, got %s", d.Status)
	}
}
