package notify

import (
	"testing"

	"github.com/matheus3301/roomsync/internal/chat"
)

func TestShouldToast(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want bool
	}{
		{"active room", Input{IsActive: true, Setting: chat.NotifyAll, Text: "hi"}, false},
		{"active room mentioned", Input{IsActive: true, Setting: chat.NotifyMentions, Text: "@ana", Nickname: "ana"}, false},
		{"muted", Input{Setting: chat.NotifyMute, Text: "@ana", Nickname: "ana"}, false},
		{"all", Input{Setting: chat.NotifyAll, Text: "hi"}, true},
		{"unset means all", Input{Text: "hi"}, true},
		{"mentions with mention", Input{Setting: chat.NotifyMentions, Text: "hey @ana look", Nickname: "ana"}, true},
		{"mentions without mention", Input{Setting: chat.NotifyMentions, Text: "hey ana look", Nickname: "ana"}, false},
		{"mentions by user id", Input{Setting: chat.NotifyMentions, Text: "ping <@u42>", UserID: "u42"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldToast(tt.in); got != tt.want {
				t.Errorf("ShouldToast(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"@ana", true},
		{"@Ana, can you check?", true},
		{"thanks @ANA!", true},
		{"cc: (@ana)", true},
		{"@anabel", false},
		{"mail ana@ana.dev", false},
		{"ana", false},
		{"@ an a", false},
		{"@bob @ana", true},
		{"<@u1>", true},
		{"<@u10>", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Mentions(tt.text, "ana", "u1"); got != tt.want {
				t.Errorf("Mentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
