package policy

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

type Engine struct {
	policy  *Policy
	regexes map[int]*regexp.Regexp
	deny    map[string]bool
	verbs   [][]string
}

// NewEngine compiles the policy. A rule with an invalid regex is an error.
func NewEngine(p *Policy) (*Engine, error) {
	e := &Engine{
		policy:  p,
		regexes: make(map[int]*regexp.Regexp),
		deny:    make(map[string]bool),
	}
	for i, rule := range p.Rules {
		if rule.Match.CommandRegex == "" {
			continue
		}
		re, err := regexp.Compile(rule.Match.CommandRegex)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid regex: %w", rule.ID, err)
		}
		e.regexes[i] = re
	}
	for _, c := range p.DenyCommands {
		e.deny[strings.ToLower(c)] = true
	}
	for _, v := range p.AllowVerbs {
		if words := strings.Fields(strings.ToLower(v)); len(words) > 0 {
			e.verbs = append(e.verbs, words)
		}
	}
	return e, nil
}

// Policy returns the engine's policy (for inspection/testing).
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Evaluate runs the safety filter. The first failing check decides a block;
// a command is allowed only if it passes every deny check and, when an
// allow list is configured, every pipeline segment starts with an allowed
// verb.
func (e *Engine) Evaluate(command string) EvalResult {
	cmd := strings.TrimSpace(command)

	if cmd == "" {
		return block("empty-command", "Empty command.")
	}
	if hidden := ScanHidden(cmd); len(hidden) > 0 {
		return block("hidden-characters", fmt.Sprintf("Command contains a %s.", hidden[0]))
	}
	if e.policy.Defaults.blockSudo() && hasSudoPrefix(cmd) {
		return block("block-sudo", "Privilege escalation via sudo is not allowed.")
	}
	for _, tok := range e.policy.DenyTokens {
		if tok != "" && strings.Contains(cmd, tok) {
			return block("deny-token", fmt.Sprintf("Command contains forbidden token %q.", tok))
		}
	}

	parsed, err := ParseCommand(cmd)
	if err != nil {
		return block("unparseable", "Command could not be parsed: "+err.Error())
	}
	for _, op := range parsed.Operators {
		if op != "|" {
			return block("deny-operator", fmt.Sprintf("Operator %q is not allowed; only pipelines are.", op))
		}
	}
	if len(parsed.Redirects) > 0 {
		return block("deny-redirect", fmt.Sprintf("Redirection %q is not allowed.", parsed.Redirects[0]))
	}
	if len(parsed.Nested) > 0 {
		return block("deny-nested", fmt.Sprintf("Commands containing a %s are not allowed.", parsed.Nested[0]))
	}
	if len(parsed.Segments) == 0 {
		return block("empty-command", "No command found.")
	}
	for _, seg := range parsed.Segments {
		if e.deny[strings.ToLower(path.Base(seg.Executable))] {
			return block("deny-command", fmt.Sprintf("Command %q is on the deny list.", seg.Executable))
		}
		for _, w := range seg.Args {
			if e.deny[strings.ToLower(w)] {
				return block("deny-command", fmt.Sprintf("Command %q is on the deny list.", w))
			}
		}
	}

	result := e.evaluateRules(cmd)
	if result.Decision == DecisionBlock {
		return result
	}
	explicitAllow := result.Decision == DecisionAllow

	if len(e.verbs) > 0 && !explicitAllow {
		for _, seg := range parsed.Segments {
			if !e.verbAllowed(seg) {
				return block("not-allowlisted", fmt.Sprintf("%q is not an allowed diagnostic command.", seg.Raw))
			}
		}
		result = EvalResult{
			Decision:       DecisionAllow,
			TriggeredRules: []string{"allowlist"},
			Reasons:        []string{"Every pipeline segment is an allowed diagnostic command."},
		}
	} else if !explicitAllow {
		result.Decision = e.policy.Defaults.Decision
		if result.Decision == "" {
			result.Decision = DecisionAllow
		}
	}

	result.Explanation = buildExplanation(result)
	return result
}

// evaluateRules applies the operator rules; the most restrictive match wins.
func (e *Engine) evaluateRules(command string) EvalResult {
	result := EvalResult{TriggeredRules: []string{}, Reasons: []string{}}
	for i, rule := range e.policy.Rules {
		if !e.matchRule(command, i, rule) {
			continue
		}
		switch {
		case result.Decision == "" || decisionSeverity(rule.Decision) > decisionSeverity(result.Decision):
			result.Decision = rule.Decision
			result.TriggeredRules = []string{rule.ID}
			result.Reasons = []string{rule.Reason}
		case decisionSeverity(rule.Decision) == decisionSeverity(result.Decision):
			result.TriggeredRules = append(result.TriggeredRules, rule.ID)
			result.Reasons = append(result.Reasons, rule.Reason)
		}
	}
	if result.Decision == DecisionBlock {
		result.Explanation = buildExplanation(result)
	}
	return result
}

func (e *Engine) verbAllowed(seg Segment) bool {
	words := seg.Words()
	for _, verb := range e.verbs {
		if len(words) < len(verb) {
			continue
		}
		if !strings.EqualFold(words[0], verb[0]) {
			continue
		}
		// Leading verb words match exactly; the last may be a prefix of
		// the segment word ("cat /var/log" covers "cat /var/log/syslog").
		ok := true
		for i := 1; i < len(verb); i++ {
			w := strings.ToLower(words[i])
			if i == len(verb)-1 {
				ok = strings.HasPrefix(w, verb[i])
			} else {
				ok = w == verb[i]
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// hasSudoPrefix matches sudo and its relatives (sudoedit, sudo-rs) alike.
func hasSudoPrefix(cmd string) bool {
	return strings.HasPrefix(strings.ToLower(cmd), "sudo")
}

func block(id, reason string) EvalResult {
	r := EvalResult{
		Decision:       DecisionBlock,
		TriggeredRules: []string{id},
		Reasons:        []string{reason},
	}
	r.Explanation = buildExplanation(r)
	return r
}

// decisionSeverity returns a numeric severity for priority comparison.
// Higher number = more restrictive decision.
func decisionSeverity(d Decision) int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionAllow:
		return 1
	default:
		return 0
	}
}

func (e *Engine) matchRule(command string, idx int, rule Rule) bool {
	if rule.Match.CommandExact != "" && command == rule.Match.CommandExact {
		return true
	}
	for _, prefix := range rule.Match.CommandPrefix {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	if re, ok := e.regexes[idx]; ok && re.MatchString(command) {
		return true
	}
	return false
}

func buildExplanation(result EvalResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Decision: %s\n", result.Decision)

	if len(result.TriggeredRules) > 0 {
		fmt.Fprintf(&sb, "Triggered rules: %s\n", strings.Join(result.TriggeredRules, ", "))
	}

	if len(result.Reasons) > 0 {
		sb.WriteString("Reasons:\n")
		for _, reason := range result.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", reason)
		}
	}

	return sb.String()
}
