package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/clock"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
	FlashToast // an inbound message; RoomID is set
)

const toastRunes = 60

// FlashMessage is a transient status line message.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	RoomID  string
	Expires time.Time
}

// FlashModel holds the current flash message and remembers the room of the
// latest toast so the user can jump to it after it has faded.
type FlashModel struct {
	clk clock.Clock

	mu        sync.RWMutex
	current   FlashMessage
	lastToast string
	watchCh   chan FlashMessage
}

func NewFlashModel() *FlashModel {
	return NewFlashModelWithClock(clock.Real())
}

func NewFlashModelWithClock(clk clock.Clock) *FlashModel {
	return &FlashModel{clk: clk, watchCh: make(chan FlashMessage, 8)}
}

func (f *FlashModel) Info(msg string) { f.set(FlashMessage{Text: msg, Level: FlashInfo}, 5*time.Second) }
func (f *FlashModel) Warn(msg string) { f.set(FlashMessage{Text: msg, Level: FlashWarn}, 8*time.Second) }
func (f *FlashModel) Err(err error)   { f.set(FlashMessage{Text: err.Error(), Level: FlashErr}, 10*time.Second) }

// Set shows an info message for d.
func (f *FlashModel) Set(msg string, d time.Duration) {
	f.set(FlashMessage{Text: msg, Level: FlashInfo}, d)
}

// Toast surfaces a message that arrived in a room that is not on screen.
// Long texts are cut to toastRunes runes.
func (f *FlashModel) Toast(roomID, room, sender, text string) {
	if r := []rune(text); len(r) > toastRunes {
		text = string(r[:toastRunes-3]) + "..."
	}
	f.set(FlashMessage{
		Text:   fmt.Sprintf("%s | %s: %s", room, sender, text),
		Level:  FlashToast,
		RoomID: roomID,
	}, 6*time.Second)
}

// LastToast returns the room of the most recent toast, even if it expired.
func (f *FlashModel) LastToast() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastToast, f.lastToast != ""
}

// ClearToast forgets the last toast room, e.g. once it has been opened.
func (f *FlashModel) ClearToast() {
	f.mu.Lock()
	f.lastToast = ""
	f.mu.Unlock()
}

func (f *FlashModel) set(fm FlashMessage, d time.Duration) {
	fm.Expires = f.clk.Now().Add(d)
	f.mu.Lock()
	f.current = fm
	if fm.Level == FlashToast {
		f.lastToast = fm.RoomID
	}
	f.mu.Unlock()
	select {
	case f.watchCh <- fm:
	default:
	}
}

// Get returns the current text, or "" once it expired.
func (f *FlashModel) Get() string {
	if m := f.GetMessage(); m != nil {
		return m.Text
	}
	return ""
}

// GetMessage returns the current message, or nil once it expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.clk.Now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch delivers every message as it is set. Slow readers miss messages,
// not the latest state: GetMessage is always current.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}
