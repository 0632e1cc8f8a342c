// Package redact masks credentials in log lines, commands, and command
// output before they are written to the audit trail.
package redact

import (
	"fmt"
	"regexp"
)

const placeholder = "[REDACTED]"

type pattern struct {
	name string
	re   *regexp.Regexp
	// keep is the number of leading submatches preserved, so
	// "password=hunter2" becomes "password=[REDACTED]".
	keep int
}

var defaultPatterns = []pattern{
	{"aws-key-id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), 0},
	{"aws-assignment", regexp.MustCompile(`(?i)((?:aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*)['"]?[A-Za-z0-9/+=]{16,}['"]?`), 1},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), 0},
	{"token-assignment", regexp.MustCompile(`(?i)((?:api_key|apikey|api-key|secret_key|access_token|auth_token|github_token|gh_token)\s*[=:]\s*)['"]?[A-Za-z0-9_\-]{16,}['"]?`), 1},
	{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`), 0},
	{"bearer", regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-\.=]{20,}`), 1},
	{"url-credentials", regexp.MustCompile(`(\w+://[^:/\s]+:)[^@\s]+(@)`), 2},
	{"jdbc-password", regexp.MustCompile(`(?i)(jdbc:[^\s]*[;?&]password=)[^;&\s]+`), 1},
	{"password", regexp.MustCompile(`(?i)((?:password|passwd|pwd|secret)\s*[=:]\s*)['"]?[^\s'",;]{6,}['"]?`), 1},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`), 0},
}

// Redactor applies the built-in credential patterns plus any extras the
// operator configured.
type Redactor struct {
	patterns []pattern
}

// New builds a Redactor. extra are additional regular expressions whose
// whole match is replaced.
func New(extra ...string) (*Redactor, error) {
	r := &Redactor{patterns: append([]pattern(nil), defaultPatterns...)}
	for i, expr := range extra {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %d: %w", i, err)
		}
		r.patterns = append(r.patterns, pattern{name: fmt.Sprintf("custom-%d", i), re: re})
	}
	return r, nil
}

var std = &Redactor{patterns: defaultPatterns}

// String redacts with the built-in patterns only.
func String(s string) string {
	return std.String(s)
}

func (r *Redactor) String(s string) string {
	if r == nil {
		return std.String(s)
	}
	for _, p := range r.patterns {
		s = p.replace(s)
	}
	return s
}

// Lines redacts each element, returning a new slice.
func (r *Redactor) Lines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.String(l)
	}
	return out
}

func (p pattern) replace(s string) string {
	switch p.keep {
	case 0:
		return p.re.ReplaceAllString(s, placeholder)
	case 1:
		return p.re.ReplaceAllString(s, "${1}"+placeholder)
	default:
		return p.re.ReplaceAllString(s, "${1}"+placeholder+"${2}")
	}
}
