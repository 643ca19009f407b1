package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	"github.com/rivo/uniseg"
)

// menuRows matches the header height minus its padding.
const menuRows = 6

// Menu lists the current page's keys, filling columns top to bottom.
type Menu struct {
	*tview.TextView
	theme *Theme
}

func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update redraws the menu for hints.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	cols := (len(hints) + menuRows - 1) / menuRows
	width := make([]int, cols)
	for i, h := range hints {
		if w := hintWidth(h); w > width[i/menuRows] {
			width[i/menuRows] = w
		}
	}

	rows := min(len(hints), menuRows)
	var b strings.Builder
	for r := range rows {
		for c := range cols {
			i := c*menuRows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			kc := colorName(m.theme.MenuKeyColor)
			if h.Numeric {
				kc = colorName(m.theme.NumericKeyColor)
			}
			_, _ = fmt.Fprintf(&b, "[%s::b]<%s>[-:-:-] %s", kc, tview.Escape(h.Key), tview.Escape(h.Description))
			if c < cols-1 {
				b.WriteString(strings.Repeat(" ", width[c]-hintWidth(h)+3))
			}
		}
		b.WriteByte('\n')
	}
	_, _ = fmt.Fprint(m, b.String())
}

func hintWidth(h MenuHint) int {
	return uniseg.StringWidth(h.Key) + 3 + uniseg.StringWidth(h.Description)
}
