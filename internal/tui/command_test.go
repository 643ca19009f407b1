package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{"q", Command{Name: "quit"}},
		{"  Room   Ops Team ", Command{Name: "room", Args: "Ops Team"}},
		{"open design", Command{Name: "room", Args: "design"}},
		{"more", Command{Name: "older"}},
		{"typing", Command{Name: "typing"}},
		{"", Command{Name: ""}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
