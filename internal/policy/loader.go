package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a policy file. A missing file yields DefaultPolicy.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	applyDefaults(&policy)
	return &policy, nil
}

func applyDefaults(p *Policy) {
	if p.Defaults.Decision == "" {
		if len(p.AllowVerbs) > 0 {
			p.Defaults.Decision = DecisionBlock
		} else {
			p.Defaults.Decision = DecisionAllow
		}
	}
	if p.DenyTokens == nil {
		p.DenyTokens = DefaultDenyTokens()
	}
	if p.DenyCommands == nil {
		p.DenyCommands = DefaultDenyCommands()
	}
}

// DefaultDenyTokens are shell metacharacters that chain, redirect, or
// substitute commands. The pipe is absent: read-only pipelines are allowed
// and each segment is checked on its own.
func DefaultDenyTokens() []string {
	return []string{">", "<", ";", "&", "$(", "`"}
}

func DefaultDenyCommands() []string {
	return []string{
		"rm", "del", "format", "mkfs", "dd",
		"wget", "curl", "nc", "ncat", "telnet",
		"scp", "sftp", "ftp",
		"shutdown", "reboot", "kill", "killall",
		"chmod", "chown",
	}
}

// DefaultAllowVerbs are read-only diagnostics.
func DefaultAllowVerbs() []string {
	return []string{
		"netstat",
		"ps aux",
		"systemctl status",
		"journalctl",
		"ls -la",
		"cat /var/log",
		"df -h",
		"free -h",
		"top -bn1",
		"nifi",
		"java -version",
		"whoami",
		"pwd",
		"echo",
		"uptime",
		"hostname",
		"grep",
		"head",
		"tail",
		"wc",
		"sort",
		"uniq",
	}
}

func DefaultPolicy() *Policy {
	return &Policy{
		Version: "0.1",
		Defaults: Defaults{
			Decision: DecisionBlock,
		},
		DenyTokens:   DefaultDenyTokens(),
		DenyCommands: DefaultDenyCommands(),
		AllowVerbs:   DefaultAllowVerbs(),
		Rules: []Rule{
			{
				ID:       "block-journal-vacuum",
				Match:    Match{CommandRegex: `journalctl\s+.*--(vacuum|rotate|flush)`},
				Decision: DecisionBlock,
				Reason:   "journalctl maintenance flags modify the journal.",
			},
			{
				ID:       "block-grep-recursive-root",
				Match:    Match{CommandRegex: `grep\s+(-\w*r\w*\s+)+.*\s/(\s|$)`},
				Decision: DecisionBlock,
				Reason:   "Recursive grep from the filesystem root can stall the target.",
			},
		},
	}
}
