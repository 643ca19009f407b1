package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/tui/model"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// RoomInfo displays a room's summary and the local user's membership.
type RoomInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewRoomInfo(theme *ui.Theme) *RoomInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Room Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &RoomInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ri *RoomInfo) Name() string { return "Details" }

// Init implements Component.
func (ri *RoomInfo) Init() {}

// Start implements Component.
func (ri *RoomInfo) Start() {}

// Stop implements Component.
func (ri *RoomInfo) Stop() {}

// Hints implements Component.
func (ri *RoomInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders rv.
func (ri *RoomInfo) Update(rv roomlist.RoomView) {
	ri.Clear()

	fg := colorHex(ri.theme.FgColor)
	ct := colorHex(ri.theme.CounterColor)

	last := "-"
	if lm := rv.Room.LastMessage; lm != nil {
		last = fmt.Sprintf("%s %s: %s", formatTimestamp(lm.CreatedAt), lm.SenderID, lm.Text)
	}
	pinned := "no"
	if rv.Member.Pinned {
		pinned = "yes"
	}
	peer := rv.Room.PeerID
	if peer != "" && rv.PeerOnline {
		peer += " (online)"
	}

	rows := []struct{ label, value string }{
		{"Name:", model.RoomTitle(rv.Room)},
		{"ID:", rv.Room.ID},
		{"Type:", string(rv.Room.Type)},
		{"Peer:", orDash(peer)},
		{"Role:", orDash(string(rv.Member.Role))},
		{"Notify:", orDash(string(rv.Member.Notify))},
		{"Pinned:", pinned},
		{"Unread:", fmt.Sprintf("%d", rv.Unread)},
		{"Created:", formatTimestamp(rv.Room.CreatedAt)},
		{"Last:", last},
	}
	_, _ = fmt.Fprint(ri, "\n")
	for _, r := range rows {
		_, _ = fmt.Fprintf(ri, " [%s::b]%-9s[-:-:-] [%s]%s[-]\n", fg, r.label, ct,
			tview.Escape(sanitizeForTerminal(r.value)))
	}
	ri.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(model.RoomTitle(rv.Room))))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
