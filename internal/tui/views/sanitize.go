package views

import "strings"

// runeRange is an inclusive range of codepoints.
type runeRange struct{ lo, hi rune }

// stripped lists what peers may not put on our screen: control characters
// that move the cursor or recolor the terminal, bidi overrides that reorder
// a room or nickname, and the emoji joiners and modifiers that tcell
// measures wrongly.
var stripped = []runeRange{
	{0x00, 0x08},
	{0x0B, 0x1F},
	{0x7F, 0x9F},
	{0x200D, 0x200D},   // zero width joiner
	{0x202A, 0x202E},   // bidi embeddings and overrides
	{0x2066, 0x2069},   // bidi isolates
	{0xFE00, 0xFE0F},   // variation selectors
	{0x1F3FB, 0x1F3FF}, // skin tone modifiers
	{0xE0100, 0xE01EF}, // variation selectors supplement
}

// sanitizeForTerminal drops every rune in stripped. Newlines and tabs stay.
func sanitizeForTerminal(s string) string {
	if !needsSanitizing(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isStripped(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func needsSanitizing(s string) bool {
	for _, r := range s {
		if isStripped(r) {
			return true
		}
	}
	return false
}

func isStripped(r rune) bool {
	for _, rr := range stripped {
		if r >= rr.lo && r <= rr.hi {
			return true
		}
	}
	return false
}
