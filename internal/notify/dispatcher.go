// Package notify decides which inbound messages surface as toasts and keeps
// the received notification inbox.
package notify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/matheus3301/roomsync/internal/chat"
)

// Input is everything ShouldToast looks at.
type Input struct {
	IsActive bool
	Setting  chat.NotifySetting
	Text     string
	// Recipient identifies the local user for mention matching.
	Nickname string
	UserID   string
}

// ShouldToast reports whether an inbound message should surface as a toast.
// It has no side effects.
func ShouldToast(in Input) bool {
	if in.IsActive {
		return false
	}
	switch in.Setting {
	case chat.NotifyMute:
		return false
	case chat.NotifyMentions:
		return Mentions(in.Text, in.Nickname, in.UserID)
	default:
		return true
	}
}

// Mentions reports whether text mentions the user, either as @nickname
// (case-insensitive, on word boundaries) or as <@userID>.
func Mentions(text, nickname, userID string) bool {
	if userID != "" && strings.Contains(text, "<@"+userID+">") {
		return true
	}
	if nickname == "" {
		return false
	}
	for i := 0; i < len(text); {
		j := strings.IndexByte(text[i:], '@')
		if j < 0 {
			return false
		}
		at := i + j
		if (at == 0 || !wordRuneBefore(text, at)) && matchAt(text[at+1:], nickname) {
			return true
		}
		i = at + 1
	}
	return false
}

// matchAt reports whether s starts with nickname followed by a non-word rune
// or the end of s.
func matchAt(s, nickname string) bool {
	if len(s) < len(nickname) || !strings.EqualFold(s[:len(nickname)], nickname) {
		return false
	}
	rest := s[len(nickname):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !isWord(r)
}

func wordRuneBefore(s string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWord(r)
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
