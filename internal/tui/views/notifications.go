package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// Inbox lists received notifications, newest first.
type Inbox struct {
	*tview.Table
	theme *ui.Theme
	items []chat.Notification
}

func NewInbox(theme *ui.Theme) *Inbox {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitle(" Inbox ")
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &Inbox{Table: table, theme: theme}
}

// Name implements Component.
func (ib *Inbox) Name() string { return "Inbox" }

// Init implements Component.
func (ib *Inbox) Init() {}

// Start implements Component.
func (ib *Inbox) Start() {}

// Stop implements Component.
func (ib *Inbox) Stop() {}

// Hints implements Component.
func (ib *Inbox) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open room"},
		{Key: "Esc", Description: "Back"},
	}
}

// Badge is the number of notifications listed.
func (ib *Inbox) Badge() int { return len(ib.items) }

// Update renders items.
func (ib *Inbox) Update(items []chat.Notification) {
	ib.items = items
	ib.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" KIND", 0},
		{" TITLE", 1},
		{" MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		ib.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(ib.theme.TableHeaderFg).
			SetBackgroundColor(ib.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	for i, n := range items {
		row := i + 1
		ib.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(n.Kind)).SetTextColor(ib.theme.CounterColor))
		ib.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(n.Title))).SetExpansion(1).SetTextColor(ib.theme.FgColor))
		ib.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(n.Body))).SetExpansion(2).SetTextColor(ib.theme.FgColor))
		ib.SetCell(row, 3, tview.NewTableCell(formatTimestamp(n.CreatedAt)+" ").SetAlign(tview.AlignRight).SetTextColor(ib.theme.FgColor))
	}
	ib.SetTitle(fmt.Sprintf(" Inbox (%d) ", len(items)))
}

// SelectedRoom returns the room linked from the selected notification.
func (ib *Inbox) SelectedRoom() string {
	row, _ := ib.GetSelection()
	if row < 1 || row > len(ib.items) {
		return ""
	}
	return ib.items[row-1].RoomID
}
