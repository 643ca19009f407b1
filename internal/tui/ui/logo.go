package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/status"
)

var logoLines = []string{
	" ┬─┐┌─┐┌─┐┌┬┐",
	" ├┬┘│ ││ ││││",
	" ┴└─└─┘└─┘┴ ┴",
}

// Logo is the header art. Its color follows the connection state so a
// dropped link is visible at a glance.
type Logo struct {
	*tview.TextView
	theme *Theme
	state status.State
}

func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme, state: status.Idle}
	l.render()
	return l
}

// SetState recolors the logo; it is a no-op when s is unchanged.
func (l *Logo) SetState(s status.State) {
	if s == l.state {
		return
	}
	l.state = s
	l.render()
}

func (l *Logo) color() tcell.Color {
	switch l.state {
	case status.Connected:
		return l.theme.TitleColor
	case status.Connecting, status.Disconnected:
		return l.theme.FlashWarnColor
	case status.Failed:
		return l.theme.FlashErrColor
	default:
		return l.theme.BorderColor
	}
}

func (l *Logo) render() {
	l.Clear()
	c := colorName(l.color())
	for _, line := range logoLines {
		_, _ = fmt.Fprintf(l, "[%s::b]%s[-:-:-]\n", c, line)
	}
	_, _ = fmt.Fprintf(l, "[%s]roomsync[-:-:-] [%s]%s[-]", colorName(l.theme.FgColor), c, l.state)
}
