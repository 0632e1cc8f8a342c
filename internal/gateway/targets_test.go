package gateway

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gzhole/logwarden/internal/models"
)

func TestTarget_ArgvLocal(t *testing.T) {
	argv := Target{Kind: KindLocal}.Argv("df -h | head -3")
	if len(argv) != 3 || argv[0] != "sh" || argv[1] != "-c" || argv[2] != "df -h | head -3" {
		t.Errorf("unexpected argv: %v", argv)
	}
}

func TestTarget_ArgvSSH(t *testing.T) {
	tgt := Target{Kind: KindSSH, Host: "10.0.0.5", User: "ops", KeyPath: "/keys/ops.pem", Port: 2222}
	argv := tgt.Argv("df -h")
	joined := strings.Join(argv, " ")

	for _, want := range []string{"ssh", "-i /keys/ops.pem", "StrictHostKeyChecking=no", "ConnectTimeout=10", "-p 2222", "ops@10.0.0.5"} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}
	if argv[len(argv)-1] != "df -h" {
		t.Errorf("command must be the last argument, got %q", argv[len(argv)-1])
	}
	if env := tgt.Env(); len(env) != 1 || env[0] != "SSH_AUTH_SOCK=" {
		t.Errorf("unexpected env: %v", env)
	}
}

func TestTargets_Validate(t *testing.T) {
	tests := []struct {
		targets Targets
		ok      bool
	}{
		{LocalTargets(), true},
		{Targets{"db": {Kind: KindSSH, Host: "db1", User: "ops"}}, true},
		{Targets{"db": {Kind: KindSSH, User: "ops"}}, false},
		{Targets{"db": {Kind: "telnet"}}, false},
	}
	for i, tt := range tests {
		err := tt.targets.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("case %d: expected ok=%v, got %v", i, tt.ok, err)
		}
	}
}

func TestTargets_LookupFillsName(t *testing.T) {
	tgt, ok := Targets{"nifi": {Kind: KindLocal}}.Lookup("nifi")
	if !ok || tgt.Name != "nifi" {
		t.Errorf("expected name to be filled in, got %+v", tgt)
	}
}

func TestWriterObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewWriterObserver(&buf, 8)
	obs.Notify(Event{Kind: EventStarted, Target: "local", Command: "df -h", At: time.Now()})
	obs.Notify(Event{Kind: EventFinished, Target: "local", Command: "df -h", At: time.Now(),
		Record: &models.ExecutionRecord{Status: models.ExecSuccess, Stdout: "Filesystem Size\n/dev/sda1 100G\n"}})
	obs.Close()

	out := buf.String()
	for _, want := range []string{"$ df -h", "│ /dev/sda1 100G", "SUCCESS"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if got := b.String(); got != "abcd\n[output truncated]" {
		t.Errorf("unexpected content %q", got)
	}
}
