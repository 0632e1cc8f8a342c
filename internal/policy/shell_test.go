package policy

import "testing"

func TestParseCommand_Pipeline(t *testing.T) {
	pc, err := ParseCommand(`ps aux | grep "nifi server" | head -5`)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if len(pc.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(pc.Segments))
	}
	if pc.Segments[1].Executable != "grep" || pc.Segments[1].Args[0] != "nifi server" {
		t.Errorf("unexpected second segment: %+v", pc.Segments[1])
	}
	if len(pc.Operators) != 2 || pc.Operators[0] != "|" || pc.Operators[1] != "|" {
		t.Errorf("expected two pipes, got %v", pc.Operators)
	}
	if pc.Segments[2].Raw != "head -5" {
		t.Errorf("expected raw 'head -5', got %q", pc.Segments[2].Raw)
	}
}

func TestParseCommand_Structures(t *testing.T) {
	tests := []struct {
		command   string
		operators []string
		redirects int
		nested    bool
	}{
		{"ls -la", nil, 0, false},
		{"a && b || c", []string{"&&", "||"}, 0, false},
		{"a; b", []string{";"}, 0, false},
		{"sleep 5 &", []string{"&"}, 0, false},
		{"cat < in > out", nil, 2, false},
		{"echo $(id)", nil, 0, true},
		{"diff <(ls a) <(ls b)", nil, 0, true},
		{"{ ls; }", []string{}, 0, true},
		{"for i in 1 2; do echo $i; done", nil, 0, true},
	}

	for _, tt := range tests {
		pc, err := ParseCommand(tt.command)
		if err != nil {
			t.Errorf("command %q: parse failed: %v", tt.command, err)
			continue
		}
		if tt.operators != nil && len(tt.operators) > 0 {
			if len(pc.Operators) != len(tt.operators) {
				t.Errorf("command %q: expected operators %v, got %v", tt.command, tt.operators, pc.Operators)
			} else {
				for i := range tt.operators {
					if pc.Operators[i] != tt.operators[i] {
						t.Errorf("command %q: expected operators %v, got %v", tt.command, tt.operators, pc.Operators)
						break
					}
				}
			}
		}
		if len(pc.Redirects) != tt.redirects {
			t.Errorf("command %q: expected %d redirects, got %v", tt.command, tt.redirects, pc.Redirects)
		}
		if (len(pc.Nested) > 0) != tt.nested {
			t.Errorf("command %q: expected nested=%v, got %v", tt.command, tt.nested, pc.Nested)
		}
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	if _, err := ParseCommand("echo 'unterminated"); err == nil {
		t.Error("expected parse error for unterminated quote")
	}
}
