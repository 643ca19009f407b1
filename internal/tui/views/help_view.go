package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Init implements Component.
func (hv *HelpView) Init() {}

// Start implements Component.
func (hv *HelpView) Start() {}

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	keys  [][2]string
}{
	{"Global Keys", [][2]string{
		{":", "Command mode"},
		{"/", "Filter rooms as you type"},
		{"n", "Notification inbox"},
		{"g", "Open the room of the last toast"},
		{"?", "Help"},
		{"Esc", "Cancel / go back"},
		{"q", "Quit"},
	}},
	{"Room List", [][2]string{
		{"Enter", "Open room"},
		{"1-9", "Jump to Nth room"},
		{"j/k", "Move down / up"},
	}},
	{"Room", [][2]string{
		{"i", "Focus composer"},
		{"o", "Load older messages"},
		{"d", "Room details"},
		{"Enter", "Send (in composer)"},
	}},
	{"Commands", [][2]string{
		{":room <name>", "Open a room by name"},
		{":older", "Load older messages"},
		{":presence", "Toggle presence visibility"},
		{":typing", "Toggle typing visibility"},
		{":inbox", "Show notifications"},
		{":help", "Show this help"},
		{"Up/Down", "Recall earlier commands"},
		{":quit", "Quit"},
	}},
}

func (hv *HelpView) render() {
	kc := colorHex(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "  [%s]%-14s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
