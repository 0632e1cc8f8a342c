// Package llm talks to OpenAI-compatible chat endpoints to classify log
// entries and propose remediation steps.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gzhole/logwarden/internal/models"
	"github.com/gzhole/logwarden/internal/pipeline"
)

// ErrLLMUnavailable indicates all LLM endpoints are down
var ErrLLMUnavailable = errors.New("all LLM endpoints unavailable")

// Endpoint represents a single LLM provider
type Endpoint struct {
	URL    string `yaml:"url"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

type Options struct {
	Endpoints []Endpoint
	// Targets are offered to the model as valid execution targets.
	Targets       []string
	DefaultTarget string
	MaxTokens     int
	Timeout       time.Duration
}

// Client calls chat completion APIs with fallback across endpoints. It
// implements pipeline.Classifier and pipeline.Remediator.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.DefaultTarget == "" {
		opts.DefaultTarget = "local"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

type classifyReply struct {
	Classification string `json:"classification"`
	Severity       string `json:"severity"`
	Component      string `json:"component"`
	LikelyCause    string `json:"likely_cause"`
	Recommendation string `json:"recommendation"`
}

func (c *Client) Classify(ctx context.Context, req pipeline.ClassifyRequest) (models.Classification, error) {
	var b strings.Builder
	b.WriteString("Log entry:\n")
	b.WriteString(req.Entry.Text())
	b.WriteString("\n\n")
	if len(req.Correlated) > 0 {
		b.WriteString("Infrastructure log lines around the same time:\n")
		b.WriteString(strings.Join(req.Correlated, "\n"))
		b.WriteString("\n\n")
	}
	if req.History != "" {
		b.WriteString(req.History)
	}

	var reply classifyReply
	if err := c.complete(ctx, classifyPrompt, b.String(), &reply); err != nil {
		return models.Classification{}, err
	}
	return models.Classification{
		Verdict:        models.ParseVerdict(reply.Classification),
		Severity:       strings.ToUpper(reply.Severity),
		Component:      reply.Component,
		Cause:          reply.LikelyCause,
		Recommendation: reply.Recommendation,
	}, nil
}

type proposeReply struct {
	Status     string  `json:"status"`
	Reason     string  `json:"reason"`
	Summary    string  `json:"summary"`
	Command    string  `json:"command"`
	Target     string  `json:"target"`
	Risk       string  `json:"risk"`
	Confidence float64 `json:"confidence"`
}

func (c *Client) Propose(ctx context.Context, req pipeline.RemediationRequest) (models.Plan, error) {
	var reply proposeReply
	if err := c.complete(ctx, proposePrompt, c.remediationInput(req), &reply); err != nil {
		return models.Plan{}, err
	}

	switch strings.ToLower(reply.Status) {
	case "resolved":
		return models.Plan{Resolved: true, Reason: reply.Reason}, nil
	case "give_up", "giveup":
		return models.Plan{GiveUp: true, Reason: reply.Reason}, nil
	}
	if strings.TrimSpace(reply.Command) == "" {
		return models.Plan{GiveUp: true, Reason: "model returned no command"}, nil
	}
	target := reply.Target
	if target == "" {
		target = c.opts.DefaultTarget
	}
	return models.Plan{Proposal: &models.Proposal{
		Summary:    reply.Summary,
		Command:    strings.TrimSpace(reply.Command),
		Target:     target,
		Risk:       reply.Risk,
		Confidence: reply.Confidence,
	}}, nil
}

func (c *Client) remediationInput(req pipeline.RemediationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Log entry:\n%s\n\n", req.Entry.Text())
	fmt.Fprintf(&b, "Analysis: %s\n", req.Classification.String())
	if req.Classification.Cause != "" {
		fmt.Fprintf(&b, "Likely cause: %s\n", req.Classification.Cause)
	}
	if req.Classification.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", req.Classification.Recommendation)
	}
	if len(req.Correlated) > 0 {
		fmt.Fprintf(&b, "\nInfrastructure log lines:\n%s\n", strings.Join(req.Correlated, "\n"))
	}
	if len(c.opts.Targets) > 0 {
		fmt.Fprintf(&b, "\nAvailable targets: %s\n", strings.Join(c.opts.Targets, ", "))
	}
	for i, a := range req.Attempts {
		fmt.Fprintf(&b, "\nAttempt %d: %s on %s -> %s\n", i+1, a.Proposal.Command, a.Proposal.Target, a.Decision)
		if a.Feedback != "" {
			fmt.Fprintf(&b, "Operator feedback: %s\n", a.Feedback)
		}
		if a.Execution != nil {
			fmt.Fprintf(&b, "Execution status: %s (exit %d)\n", a.Execution.Status, a.Execution.ExitCode)
			if a.Execution.Stdout != "" {
				fmt.Fprintf(&b, "stdout:\n%s\n", truncate(a.Execution.Stdout, 4000))
			}
			if a.Execution.Stderr != "" {
				fmt.Fprintf(&b, "stderr:\n%s\n", truncate(a.Execution.Stderr, 2000))
			}
			if a.Execution.Reason != "" {
				fmt.Fprintf(&b, "reason: %s\n", a.Execution.Reason)
			}
		}
	}
	return b.String()
}

// complete tries each endpoint in order; returns ErrLLMUnavailable only if
// ALL fail with availability errors.
func (c *Client) complete(ctx context.Context, system, user string, out any) error {
	if len(c.opts.Endpoints) == 0 {
		return errors.New("no LLM endpoints configured")
	}

	var lastErr error
	for i, ep := range c.opts.Endpoints {
		start := time.Now()
		content, err := c.tryEndpoint(ctx, ep, system, user)
		if err == nil {
			if i > 0 {
				c.logger.Warn("LLM fallback succeeded", slog.Int("endpoint", i+1), slog.String("model", ep.Model), slog.Int("failures", i))
			}
			c.logger.Debug("LLM call", slog.String("model", ep.Model), slog.Duration("latency", time.Since(start)))
			if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
				return fmt.Errorf("failed to parse LLM response: %w", err)
			}
			return nil
		}

		lastErr = err
		if isUnavailable(err) {
			c.logger.Warn("LLM endpoint unavailable, trying next", slog.Int("endpoint", i+1), slog.String("model", ep.Model), slog.Any("error", err))
			continue
		}
		// Non-availability error (e.g. 401) - don't try fallback
		return err
	}
	return fmt.Errorf("%w: %v", ErrLLMUnavailable, lastErr)
}

// unavailableError marks transient failures worth falling through on.
type unavailableError struct{ err error }

func (e *unavailableError) Error() string { return e.err.Error() }
func (e *unavailableError) Unwrap() error { return e.err }

func isUnavailable(err error) bool {
	var ue *unavailableError
	return errors.As(err, &ue)
}

func (c *Client) tryEndpoint(ctx context.Context, ep Endpoint, system, user string) (string, error) {
	// OpenAI Chat Completions format
	reqBody := map[string]any{
		"model": ep.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens":  c.opts.MaxTokens,
		"temperature": 0,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := strings.TrimSuffix(ep.URL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return "", &unavailableError{fmt.Errorf("connection failed: %w", err)}
		}
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "", &unavailableError{fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}
	if len(apiResp.Choices) == 0 {
		return "", errors.New("empty response from API")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}

// IsUnavailable checks if the error indicates all LLM endpoints are down
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLLMUnavailable)
}
