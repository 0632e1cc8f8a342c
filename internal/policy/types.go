package policy

type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionBlock Decision = "BLOCK"
)

// Policy is the safety filter applied to every command before it reaches a
// target. Deny checks always run first; the allow list, when non-empty,
// turns the filter into default-deny.
type Policy struct {
	Version      string   `yaml:"version"`
	Defaults     Defaults `yaml:"defaults"`
	DenyTokens   []string `yaml:"deny_tokens"`
	DenyCommands []string `yaml:"deny_commands"`
	AllowVerbs   []string `yaml:"allow_verbs"`
	Rules        []Rule   `yaml:"rules"`
}

type Defaults struct {
	// Decision applies when no allow list is configured and nothing
	// matched. With an allow list, unmatched commands are always blocked.
	Decision  Decision `yaml:"decision"`
	BlockSudo *bool    `yaml:"block_sudo,omitempty"`
}

func (d Defaults) blockSudo() bool {
	return d.BlockSudo == nil || *d.BlockSudo
}

type Rule struct {
	ID       string   `yaml:"id"`
	Match    Match    `yaml:"match"`
	Decision Decision `yaml:"decision"`
	Reason   string   `yaml:"reason"`
}

type Match struct {
	CommandExact  string   `yaml:"command_exact,omitempty"`
	CommandPrefix []string `yaml:"command_prefix,omitempty"`
	CommandRegex  string   `yaml:"command_regex,omitempty"`
}

type EvalResult struct {
	Decision       Decision `json:"decision"`
	TriggeredRules []string `json:"triggered_rules"`
	Reasons        []string `json:"reasons"`
	Explanation    string   `json:"explanation"`
}

func (r EvalResult) Blocked() bool {
	return r.Decision == DecisionBlock
}

// Reason returns the first reason, which is the one that decided the result.
func (r EvalResult) Reason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}
