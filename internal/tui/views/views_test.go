package views

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj", "a‍b", "ab"},
		{"escape sequence", "\x1b[2Jboom", "[2Jboom"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"c1 control", "a\u009bb", "ab"},
		{"bidi override", "ops\u202Egnp.exe", "opsgnp.exe"},
		{"bidi isolate", "\u2066bob\u2069", "bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeForTerminal(tt.in))
		})
	}
}

func sampleTree() []roomlist.CategoryView {
	return []roomlist.CategoryView{
		{ID: "groups", Title: "Groups", Unread: 2, Rooms: []roomlist.RoomView{
			{Room: chat.RoomSummary{ID: "r1", Name: "ops"}, Unread: 2, Typing: true},
			{Room: chat.RoomSummary{ID: "r2", Name: "design"}},
		}},
		{ID: "direct", Title: "Direct", Rooms: []roomlist.RoomView{
			{Room: chat.RoomSummary{ID: "d1", PeerID: "bob"}, PeerOnline: true},
		}},
	}
}

func TestRoomListRowsAndSelection(t *testing.T) {
	rl := NewRoomList(ui.DefaultTheme())
	rl.Update(sampleTree())

	assert.Equal(t, "r1", rl.SelectedRoom(), "first room is selected, not the section row")
	assert.Equal(t, "r2", rl.RoomByIndex(2))
	assert.Equal(t, "d1", rl.RoomByIndex(3))
	assert.Equal(t, "", rl.RoomByIndex(4))
	assert.Equal(t, "", rl.RoomByIndex(0))

	rl.Select(4, 0)
	require.Equal(t, "d1", rl.SelectedRoom())
	rl.Update(sampleTree())
	assert.Equal(t, "d1", rl.SelectedRoom(), "selection follows the room across refreshes")

	assert.Equal(t, "GROUPS (2)", strings.TrimSpace(rl.GetCell(0, 0).Text))
	assert.Contains(t, rl.GetCell(1, 1).Text, "2")
	assert.Contains(t, rl.GetCell(4, 0).Text, "@bob")
}

func TestMessageThreadRendersStates(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme(), "alice")
	mt.SetRoom("ops", map[string]string{"bob": "Bob"})

	now := time.Now()
	mt.Update([]chat.Message{
		{ID: "m1", SenderID: "bob", Text: "hi [red]there", CreatedAt: now},
		{ID: "m2", SenderID: "carol", Text: "gone", CreatedAt: now, DeletedAt: &now},
		{ID: "tmp", TempID: "tmp", SenderID: "alice", Text: "on my way", CreatedAt: now},
	})
	mt.SetTyping("Bob is typing...")

	text := mt.Messages().GetText(true)
	assert.Contains(t, text, "Bob")
	assert.Contains(t, text, "there")
	assert.Contains(t, text, "carol")
	assert.Contains(t, text, "message deleted")
	assert.NotContains(t, text, "gone")
	assert.Contains(t, text, "You")
	assert.Contains(t, text, "on my way (sending)")
	assert.Contains(t, mt.typing.GetText(true), "Bob is typing...")
}

func TestSetRoomResetsComposer(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme(), "alice")
	var sent []string
	mt.SetOnSend(func(text string) { sent = append(sent, text) })

	mt.Composer().SetText("hello")
	assert.Equal(t, "Messages", mt.Name())
	mt.SetRoom("ops", nil)
	assert.Equal(t, "ops", mt.Name())
	assert.Empty(t, mt.Composer().GetText())
	assert.Empty(t, sent)
}

func TestInboxSelection(t *testing.T) {
	ib := NewInbox(ui.DefaultTheme())
	ib.Update([]chat.Notification{
		{ID: "n1", Kind: "invite", Title: "Join ops", RoomID: "r1", CreatedAt: time.Now()},
	})
	ib.Select(1, 0)
	assert.Equal(t, "r1", ib.SelectedRoom())
	ib.Select(0, 0)
	assert.Equal(t, "", ib.SelectedRoom())
}
