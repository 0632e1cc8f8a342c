package gateway

import (
	"fmt"
	"strconv"
	"time"
)

type Kind string

const (
	KindLocal Kind = "local"
	KindSSH   Kind = "ssh"
)

// Target is a named connection profile.
type Target struct {
	Name           string        `yaml:"-" json:"name"`
	Kind           Kind          `yaml:"kind" json:"kind"`
	Host           string        `yaml:"host,omitempty" json:"host,omitempty"`
	User           string        `yaml:"user,omitempty" json:"user,omitempty"`
	KeyPath        string        `yaml:"key_path,omitempty" json:"key_path,omitempty"`
	Port           int           `yaml:"port,omitempty" json:"port,omitempty"`
	ConnectTimeout time.Duration `yaml:"-" json:"connect_timeout,omitempty"`
}

func (t Target) Validate() error {
	switch t.Kind {
	case KindLocal:
		return nil
	case KindSSH:
		if t.Host == "" {
			return fmt.Errorf("target %s: ssh target needs a host", t.Name)
		}
		if t.User == "" {
			return fmt.Errorf("target %s: ssh target needs a user", t.Name)
		}
		return nil
	}
	return fmt.Errorf("target %s: unknown kind %q", t.Name, t.Kind)
}

// Argv builds the process invocation for command. The command string is
// handed to exactly one shell: sh -c locally, the login shell remotely.
func (t Target) Argv(command string) []string {
	if t.Kind != KindSSH {
		return []string{"sh", "-c", command}
	}

	port := t.Port
	if port == 0 {
		port = 22
	}
	connect := t.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}

	argv := []string{"ssh"}
	if t.KeyPath != "" {
		argv = append(argv, "-i", t.KeyPath)
	}
	argv = append(argv,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout="+strconv.Itoa(int(connect.Seconds())),
		"-o", "ServerAliveInterval=5",
		"-o", "ServerAliveCountMax=2",
		"-p", strconv.Itoa(port),
		t.User+"@"+t.Host,
		command,
	)
	return argv
}

// Env returns extra environment for the child. SSH runs without an agent
// so only the configured key is offered.
func (t Target) Env() []string {
	if t.Kind == KindSSH {
		return []string{"SSH_AUTH_SOCK="}
	}
	return nil
}

// Targets maps target names to profiles.
type Targets map[string]Target

func (ts Targets) Lookup(name string) (Target, bool) {
	t, ok := ts[name]
	if ok && t.Name == "" {
		t.Name = name
	}
	return t, ok
}

func (ts Targets) Validate() error {
	for name, t := range ts {
		t.Name = name
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LocalTargets is the default table: just the machine logwarden runs on.
func LocalTargets() Targets {
	return Targets{"local": {Name: "local", Kind: KindLocal}}
}
