package policy

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// HiddenRune is a character in a proposed command that renders differently
// from what the shell would execute.
type HiddenRune struct {
	Kind      string // zero-width, bidi, tag, control, homoglyph, invalid-utf8
	Offset    int    // byte offset in the command
	Codepoint string
}

func (h HiddenRune) String() string {
	return fmt.Sprintf("%s %s at byte %d", h.Kind, h.Codepoint, h.Offset)
}

// ScanHidden lists characters that could make an approver read a different
// command than the one that runs. Deny lists match on literal bytes, so a
// Cyrillic "с" in "сurl" would otherwise slip past them.
func ScanHidden(command string) []HiddenRune {
	var found []HiddenRune
	for i := 0; i < len(command); {
		r, size := utf8.DecodeRuneInString(command[i:])
		if r == utf8.RuneError && size == 1 {
			found = append(found, HiddenRune{Kind: "invalid-utf8", Offset: i, Codepoint: fmt.Sprintf("0x%02X", command[i])})
			i++
			continue
		}
		if kind := hiddenKind(r); kind != "" {
			found = append(found, HiddenRune{Kind: kind, Offset: i, Codepoint: fmt.Sprintf("U+%04X", r)})
		}
		i += size
	}
	return found
}

func hiddenKind(r rune) string {
	switch {
	case r < utf8.RuneSelf && r != 0x7F && (r >= 0x20 || r == '\t'):
		return ""
	case isZeroWidth(r):
		return "zero-width"
	case isBidiControl(r):
		return "bidi"
	case r >= 0xE0001 && r <= 0xE007F:
		return "tag"
	case r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F):
		return "control"
	case isLatinLookalike(r):
		return "homoglyph"
	}
	return ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u2060', '\u180E', '\u200E', '\u200F':
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

// Cyrillic and Greek letters that are indistinguishable from Latin ones in
// most terminal fonts.
var latinLookalikes = map[rune]bool{
	'а': true, 'А': true, 'В': true, 'с': true, 'С': true, 'е': true, 'Е': true,
	'Н': true, 'і': true, 'І': true, 'К': true, 'М': true, 'о': true, 'О': true,
	'р': true, 'Р': true, 'Т': true, 'х': true, 'Х': true, 'у': true, 'У': true,
	'Α': true, 'Β': true, 'Ε': true, 'Η': true, 'Ι': true, 'Κ': true, 'Μ': true,
	'Ν': true, 'Ο': true, 'ο': true, 'Ρ': true, 'Τ': true, 'Χ': true, 'Υ': true,
	'Ζ': true,
}

func isLatinLookalike(r rune) bool {
	if !unicode.In(r, unicode.Cyrillic, unicode.Greek) {
		return false
	}
	return latinLookalikes[r]
}
