package policy

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ParsedCommand is the structural view of a command line used by the
// safety filter.
type ParsedCommand struct {
	Segments  []Segment
	Operators []string
	Redirects []string
	// Nested lists the constructs that run code the filter cannot see
	// directly: subshells, command and process substitution, compound
	// statements, function declarations.
	Nested []string
}

// Segment is one simple command of a pipeline or list.
type Segment struct {
	Raw        string
	Executable string
	Args       []string
}

// Words returns the executable followed by its arguments.
func (s Segment) Words() []string {
	if s.Executable == "" {
		return nil
	}
	return append([]string{s.Executable}, s.Args...)
}

// ParseCommand parses a command with the bash grammar. Unparseable input is
// an error; the filter blocks what it cannot read.
func ParseCommand(command string) (*ParsedCommand, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}

	pc := &ParsedCommand{}
	for i, stmt := range file.Stmts {
		if i > 0 {
			pc.Operators = append(pc.Operators, ";")
		}
		walkStmt(pc, stmt)
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch node.(type) {
		case *syntax.CmdSubst:
			pc.Nested = append(pc.Nested, "command substitution")
		case *syntax.ProcSubst:
			pc.Nested = append(pc.Nested, "process substitution")
		case *syntax.Subshell:
			pc.Nested = append(pc.Nested, "subshell")
		case *syntax.Block, *syntax.IfClause, *syntax.WhileClause, *syntax.ForClause,
			*syntax.CaseClause, *syntax.FuncDecl, *syntax.CoprocClause:
			pc.Nested = append(pc.Nested, "compound statement")
		}
		return true
	})
	return pc, nil
}

func walkStmt(pc *ParsedCommand, stmt *syntax.Stmt) {
	if stmt.Cmd == nil {
		return
	}
	for _, redir := range stmt.Redirs {
		pc.Redirects = append(pc.Redirects, redirectOpString(redir))
	}
	if stmt.Background {
		pc.Operators = append(pc.Operators, "&")
	}

	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if len(cmd.Assigns) > 0 {
			pc.Nested = append(pc.Nested, "variable assignment")
		}
		pc.Segments = append(pc.Segments, callExprToSegment(cmd))
	case *syntax.BinaryCmd:
		walkStmt(pc, cmd.X)
		pc.Operators = append(pc.Operators, binaryOpString(cmd.Op))
		walkStmt(pc, cmd.Y)
	case *syntax.Subshell:
		for _, s := range cmd.Stmts {
			walkStmt(pc, s)
		}
	case *syntax.DeclClause, *syntax.LetClause, *syntax.ArithmCmd, *syntax.TestClause, *syntax.TimeClause:
		pc.Nested = append(pc.Nested, "builtin clause")
	}
}

func callExprToSegment(call *syntax.CallExpr) Segment {
	words := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		words = append(words, wordLiteral(word))
	}
	if len(words) == 0 {
		return Segment{}
	}
	return Segment{
		Raw:        strings.Join(words, " "),
		Executable: words[0],
		Args:       words[1:],
	}
}

// wordLiteral renders a word with quoting removed. Expansions are printed
// in source form.
func wordLiteral(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		writePart(&sb, part)
	}
	return sb.String()
}

func writePart(sb *strings.Builder, part syntax.WordPart) {
	switch p := part.(type) {
	case *syntax.Lit:
		sb.WriteString(p.Value)
	case *syntax.SglQuoted:
		sb.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			writePart(sb, inner)
		}
	default:
		printer := syntax.NewPrinter()
		_ = printer.Print(sb, part)
	}
}

func redirectOpString(redir *syntax.Redirect) string {
	switch redir.Op {
	case syntax.RdrOut:
		return ">"
	case syntax.AppOut:
		return ">>"
	case syntax.RdrIn:
		return "<"
	default:
		return redir.Op.String()
	}
}

func binaryOpString(op syntax.BinCmdOperator) string {
	switch op {
	case syntax.Pipe:
		return "|"
	case syntax.AndStmt:
		return "&&"
	case syntax.OrStmt:
		return "||"
	default:
		return op.String()
	}
}
