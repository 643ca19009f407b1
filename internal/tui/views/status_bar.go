package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// StatusBar displays the profile, connection state and flash messages.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	state   status.State
	flash   *ui.FlashMessage
}

func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(s status.State) {
	sb.state = s
	sb.render()
}

// SetFlash sets or clears the transient message.
func (sb *StatusBar) SetFlash(msg *ui.FlashMessage) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	color := "yellow"
	switch sb.state {
	case status.Connected:
		color = colorHex(sb.theme.OnlineColor)
	case status.Failed:
		color = colorHex(sb.theme.FlashErrColor)
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s",
		tview.Escape(sb.profile), color, sb.state, time.Now().Format("15:04"))
	if sb.flash != nil {
		fc := colorHex(sb.theme.FlashInfoColor)
		switch sb.flash.Level {
		case ui.FlashWarn:
			fc = colorHex(sb.theme.FlashWarnColor)
		case ui.FlashErr:
			fc = colorHex(sb.theme.FlashErrColor)
		case ui.FlashToast:
			fc = colorHex(sb.theme.UnreadColor)
		}
		line += fmt.Sprintf(" | [%s]%s[-]", fc, tview.Escape(sb.flash.Text))
	}

	_, _ = fmt.Fprint(sb, line)
}
