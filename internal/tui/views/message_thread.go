package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/tui/ui"
)

// MessageThread displays one room's messages, its typing indicator and a
// composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	roomName string
	selfID   string
	names    map[string]string
	onSend   func(text string)
	onKey    func()
}

func NewMessageThread(theme *ui.Theme, selfID string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.TypingColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
		selfID:   selfID,
	}

	composer.SetChangedFunc(func(text string) {
		if text != "" && mt.onKey != nil {
			mt.onKey()
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				composer.SetText("")
				mt.onSend(text)
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.roomName != "" {
		return mt.roomName
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetRoom resets the thread for a newly opened room. names maps user ids
// to nicknames for sender labels.
func (mt *MessageThread) SetRoom(name string, names map[string]string) {
	mt.roomName = name
	mt.names = names
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
	mt.messages.Clear()
	mt.typing.Clear()
	mt.composer.SetText("")
}

// SetOnSend sets the callback for a submitted message.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnKeystroke sets the callback fired while the composer is edited.
func (mt *MessageThread) SetOnKeystroke(fn func()) {
	mt.onKey = fn
}

// Update re-renders msgs, oldest first.
func (mt *MessageThread) Update(msgs []chat.Message) {
	mt.messages.Clear()
	pending := colorHex(mt.theme.PendingColor)

	for _, m := range msgs {
		sender := mt.senderName(m.SenderID)
		ts := formatTimestamp(m.CreatedAt)

		body := tview.Escape(sanitizeForTerminal(m.Text))
		switch {
		case m.Deleted():
			body = "[::d]message deleted[-:-:-]"
		case m.EditedAt != nil:
			body += " [::d](edited)[-:-:-]"
		}
		for _, a := range m.Attachments {
			body += fmt.Sprintf("\n[::d]%s[-:-:-]", tview.Escape("["+a.Name+"]"))
		}
		if m.Pending() {
			body = fmt.Sprintf("[%s]%s (sending)[-]", pending, body)
		}

		_, _ = fmt.Fprintf(mt.messages, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), ts, body)
	}

	mt.messages.ScrollToEnd()
}

// SetTyping renders the typing indicator line.
func (mt *MessageThread) SetTyping(line string) {
	mt.typing.Clear()
	if line != "" {
		_, _ = fmt.Fprintf(mt.typing, " [::i]%s[-:-:-]", tview.Escape(line))
	}
}

func (mt *MessageThread) senderName(userID string) string {
	if userID == mt.selfID {
		return "You"
	}
	if n := mt.names[userID]; n != "" {
		return n
	}
	return userID
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
