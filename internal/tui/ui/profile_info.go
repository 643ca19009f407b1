package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is the header summary of the running engine.
type ProfileData struct {
	Profile        string
	User           string
	Status         string
	Rooms          int
	Online         int
	Unread         int
	Notifications  int
	PresenceHidden bool
	TypingHidden   bool
	Uptime         time.Duration
}

// ProfileInfo displays profile metadata in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders data. A nil data clears the panel.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	if data == nil {
		return
	}

	fg := colorName(pi.theme.FgColor)
	ct := colorName(pi.theme.CounterColor)

	privacy := "visible"
	switch {
	case data.PresenceHidden && data.TypingHidden:
		privacy = "hidden"
	case data.PresenceHidden:
		privacy = "presence hidden"
	case data.TypingHidden:
		privacy = "typing hidden"
	}

	rows := []struct {
		label string
		value string
	}{
		{"Profile:", data.Profile},
		{"User:", data.User},
		{"Status:", data.Status},
		{"Rooms:", fmt.Sprintf("%d (%d unread)", data.Rooms, data.Unread)},
		{"Online:", fmt.Sprintf("%d", data.Online)},
		{"Inbox:", fmt.Sprintf("%d", data.Notifications)},
		{"Privacy:", privacy},
		{"Uptime:", formatDuration(data.Uptime)},
	}
	for i, r := range rows {
		if i > 0 {
			_, _ = fmt.Fprint(pi, "\n")
		}
		_, _ = fmt.Fprintf(pi, "[%s::b]%-9s[-:-:-][%s]%s[-]", fg, r.label, ct, tview.Escape(r.value))
	}
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
