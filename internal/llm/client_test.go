package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gzhole/logwarden/internal/approval"
	"github.com/gzhole/logwarden/internal/logging"
	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/pipeline"
)

// replyServer answers every chat completion with content.
func replyServer(t *testing.T, content string, seen *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Path = %q, want /chat/completions", r.URL.Path)
		}
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			*seen = string(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
}

func newClient(urls ...string) *Client {
	var eps []Endpoint
	for i, u := range urls {
		eps = append(eps, Endpoint{URL: u, Model: "model-" + string(rune('a'+i)), APIKey: "test-key"})
	}
	return New(Options{Endpoints: eps, Targets: []string{"local", "nifi-1"}}, logging.Discard())
}

func TestClassify(t *testing.T) {
	var body string
	server := replyServer(t, `{"classification": "ANOMALY", "severity": "high", "component": "PutSQL", "likely_cause": "pool exhausted", "recommendation": "check connections"}`, &body)
	defer server.Close()

	cls, err := newClient(server.URL).Classify(context.Background(), pipeline.ClassifyRequest{
		Entry:      models.LogEntry{Lines: []string{"2024-01-01 10:00:01,000 ERROR PutSQL failed", "  at Foo"}},
		Correlated: []string{"2024-01-01 10:00:00,500 WARN pool exhausted"},
		History:    "Recent logs context (last 1):\n1. INFO start\n",
	})
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !cls.IsAnomaly() || cls.Severity != "HIGH" || cls.Component != "PutSQL" {
		t.Errorf("unexpected classification: %+v", cls)
	}
	for _, want := range []string{"PutSQL failed", "pool exhausted", "Recent logs context"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestClassify_FencedJSON(t *testing.T) {
	server := replyServer(t, "```json\n{\"classification\": \"NORMAL\", \"severity\": \"LOW\"}\n```", nil)
	defer server.Close()

	cls, err := newClient(server.URL).Classify(context.Background(), pipeline.ClassifyRequest{Entry: models.LogEntry{Lines: []string{"INFO ok"}}})
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if cls.IsAnomaly() {
		t.Errorf("expected NORMAL, got %+v", cls)
	}
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, p models.Plan)
	}{
		{
			name:    "proposal",
			content: `{"status": "propose", "summary": "check disk", "command": "df -h", "target": "nifi-1", "risk": "low", "confidence": 0.8}`,
			check: func(t *testing.T, p models.Plan) {
				if p.Proposal == nil || p.Proposal.Command != "df -h" || p.Proposal.Target != "nifi-1" {
					t.Errorf("unexpected plan: %+v", p)
				}
			},
		},
		{
			name:    "default target",
			content: `{"status": "propose", "command": "uptime"}`,
			check: func(t *testing.T, p models.Plan) {
				if p.Proposal == nil || p.Proposal.Target != "local" {
					t.Errorf("expected default target, got %+v", p)
				}
			},
		},
		{
			name:    "resolved",
			content: `{"status": "resolved", "reason": "disk freed"}`,
			check: func(t *testing.T, p models.Plan) {
				if !p.Resolved || p.Reason != "disk freed" {
					t.Errorf("expected resolved, got %+v", p)
				}
			},
		},
		{
			name:    "give up",
			content: `{"status": "give_up", "reason": "needs vendor support"}`,
			check: func(t *testing.T, p models.Plan) {
				if !p.GiveUp {
					t.Errorf("expected give up, got %+v", p)
				}
			},
		},
		{
			name:    "empty command",
			content: `{"status": "propose", "command": "  "}`,
			check: func(t *testing.T, p models.Plan) {
				if !p.GiveUp || p.Proposal != nil {
					t.Errorf("expected give up on empty command, got %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := replyServer(t, tt.content, nil)
			defer server.Close()
			plan, err := newClient(server.URL).Propose(context.Background(), pipeline.RemediationRequest{
				Entry: models.LogEntry{Lines: []string{"ERROR disk full"}},
			})
			if err != nil {
				t.Fatalf("Propose error: %v", err)
			}
			tt.check(t, plan)
		})
	}
}

func TestPropose_IncludesAttemptsAndFeedback(t *testing.T) {
	var body string
	server := replyServer(t, `{"status": "resolved"}`, &body)
	defer server.Close()

	exec := models.ExecutionRecord{Status: models.ExecSuccess, Stdout: "/dev/sda1 98%"}
	_, err := newClient(server.URL).Propose(context.Background(), pipeline.RemediationRequest{
		Entry:          models.LogEntry{Lines: []string{"ERROR disk full"}},
		Classification: models.Classification{Verdict: models.VerdictAnomaly, Severity: "HIGH"},
		Attempts: []pipeline.Attempt{
			{Proposal: models.Proposal{Command: "ls -la /tmp", Target: "local"}, Decision: approval.StatusRejected, Feedback: "look at disk usage"},
			{Proposal: models.Proposal{Command: "df -h", Target: "local"}, Decision: approval.StatusApproved, Execution: &exec},
		},
	})
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	for _, want := range []string{"look at disk usage", "/dev/sda1 98%", "Available targets: local, nifi-1"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestFallback(t *testing.T) {
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failServer.Close()

	successServer := replyServer(t, `{"classification": "NORMAL"}`, nil)
	defer successServer.Close()

	_, err := newClient(failServer.URL, successServer.URL).Classify(context.Background(), pipeline.ClassifyRequest{Entry: models.LogEntry{Lines: []string{"INFO ok"}}})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
}

func TestAllEndpointsDown(t *testing.T) {
	var hits atomic.Int32
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failServer.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	_, err := newClient(failServer.URL, closedURL).Classify(context.Background(), pipeline.ClassifyRequest{Entry: models.LogEntry{Lines: []string{"x"}}})
	if !IsUnavailable(err) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("failing endpoint hit %d times, want 1", hits.Load())
	}
}

func TestNonAvailabilityErrorStopsFallback(t *testing.T) {
	var secondHit atomic.Bool
	authFail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer authFail.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit.Store(true)
	}))
	defer second.Close()

	_, err := newClient(authFail.URL, second.URL).Classify(context.Background(), pipeline.ClassifyRequest{Entry: models.LogEntry{Lines: []string{"x"}}})
	if err == nil || errors.Is(err, ErrLLMUnavailable) {
		t.Fatalf("expected a plain API error, got %v", err)
	}
	if secondHit.Load() {
		t.Error("fallback should not be tried after a non-availability error")
	}
}

func TestNoEndpoints(t *testing.T) {
	_, err := New(Options{}, nil).Propose(context.Background(), pipeline.RemediationRequest{})
	if err == nil {
		t.Fatal("expected error with no endpoints")
	}
}
