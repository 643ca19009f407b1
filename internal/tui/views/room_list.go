package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/tui/model"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// RoomList is the sidebar: categories as section rows, rooms beneath with
// unread, presence and typing badges.
type RoomList struct {
	*tview.Table
	theme  *ui.Theme
	rows   []string // room id per table row, "" for section rows
	filter string
	unread int
}

func NewRoomList(theme *ui.Theme) *RoomList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Rooms ")
	table.SetTitleColor(theme.TitleColor)

	return &RoomList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (rl *RoomList) Name() string { return "Rooms" }

// Init implements Component.
func (rl *RoomList) Init() {}

// Start implements Component.
func (rl *RoomList) Start() {}

// Stop implements Component.
func (rl *RoomList) Stop() {}

// Hints implements Component.
func (rl *RoomList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "n", Description: "Inbox"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// SetFilter records the filter shown in the title.
func (rl *RoomList) SetFilter(f string) { rl.filter = f }

// Badge is the unread total of the last Update.
func (rl *RoomList) Badge() int { return rl.unread }

// Update re-renders the tree, keeping the selection on the same room.
func (rl *RoomList) Update(tree []roomlist.CategoryView) {
	selected := rl.SelectedRoom()
	rl.Clear()
	rl.rows = rl.rows[:0]

	total := 0
	rl.unread = 0
	for _, cat := range tree {
		rl.unread += cat.Unread
		header := strings.ToUpper(cat.Title)
		if cat.Unread > 0 {
			header = fmt.Sprintf("%s (%d)", header, cat.Unread)
		}
		rl.SetCell(len(rl.rows), 0, tview.NewTableCell(" "+tview.Escape(header)).
			SetSelectable(false).
			SetTextColor(rl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
		rl.SetCell(len(rl.rows), 1, tview.NewTableCell("").SetSelectable(false))
		rl.rows = append(rl.rows, "")

		for _, r := range cat.Rooms {
			total++
			row := len(rl.rows)
			rl.rows = append(rl.rows, r.Room.ID)

			name := "   " + tview.Escape(sanitizeForTerminal(model.RoomTitle(r.Room)))
			color := rl.theme.FgColor
			if r.Unread > 0 {
				color = rl.theme.UnreadColor
			}
			rl.SetCell(row, 0, tview.NewTableCell(name).SetExpansion(1).SetTextColor(color))
			rl.SetCell(row, 1, tview.NewTableCell(rl.badge(r)).SetAlign(tview.AlignRight))
		}
	}

	if rl.filter != "" {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d) filter: %s ", total, tview.Escape(rl.filter)))
	} else {
		rl.SetTitle(fmt.Sprintf(" Rooms (%d) ", total))
	}
	rl.selectRoom(selected)
}

func (rl *RoomList) badge(r roomlist.RoomView) string {
	var parts []string
	if r.Typing {
		parts = append(parts, fmt.Sprintf("[%s]...[-]", colorHex(rl.theme.TypingColor)))
	}
	if r.PeerOnline {
		parts = append(parts, fmt.Sprintf("[%s]●[-]", colorHex(rl.theme.OnlineColor)))
	}
	if r.Unread > 0 {
		n := fmt.Sprintf("%d", r.Unread)
		if r.Unread > 99 {
			n = "99+"
		}
		parts = append(parts, fmt.Sprintf("[%s::b]%s[-:-:-]", colorHex(rl.theme.UnreadColor), n))
	}
	return strings.Join(parts, " ") + " "
}

func (rl *RoomList) selectRoom(roomID string) {
	first := -1
	for i, id := range rl.rows {
		if id == "" {
			continue
		}
		if first < 0 {
			first = i
		}
		if id == roomID {
			rl.Select(i, 0)
			return
		}
	}
	if first >= 0 {
		rl.Select(first, 0)
	}
}

// SelectedRoom returns the room id under the cursor, or "".
func (rl *RoomList) SelectedRoom() string {
	row, _ := rl.GetSelection()
	if row < 0 || row >= len(rl.rows) {
		return ""
	}
	return rl.rows[row]
}

// RoomByIndex returns the id of the Nth listed room (1-based).
func (rl *RoomList) RoomByIndex(n int) string {
	if n < 1 {
		return ""
	}
	seen := 0
	for _, id := range rl.rows {
		if id == "" {
			continue
		}
		seen++
		if seen == n {
			return id
		}
	}
	return ""
}
