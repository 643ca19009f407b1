// Package tui is the terminal client: a sidebar of rooms, one open room
// with a composer, and an inbox, all driven by bus events from the engine.
package tui

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/engine"
	"github.com/matheus3301/roomsync/internal/outbox"
	"github.com/matheus3301/roomsync/internal/tui/keys"
	"github.com/matheus3301/roomsync/internal/tui/model"
	"github.com/matheus3301/roomsync/internal/tui/ui"
	"github.com/matheus3301/roomsync/internal/tui/views"
)

const (
	pageRooms = "rooms"
	pageRoom  = "room"
	pageInfo  = "details"
	pageInbox = "inbox"
	pageHelp  = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	pages    *ui.Pages
	theme    *ui.Theme
	vm       *model.ViewModel
	bus      *bus.Bus
	registry *keys.Registry
	flash    *ui.FlashModel
	logger   *zap.Logger

	profileInfo *ui.ProfileInfo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	logo        *ui.Logo
	prompt      *ui.Prompt
	statusBar   *views.StatusBar
	roomList    *views.RoomList
	thread      *views.MessageThread
	info        *views.RoomInfo
	inbox       *views.Inbox
	help        *views.HelpView

	profile   string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI on top of a started engine.
func NewApp(eng model.Engine, b *bus.Bus, profile string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:         tview.NewApplication(),
		pages:       ui.NewPages(),
		theme:       theme,
		vm:          model.NewViewModel(eng),
		bus:         b,
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		logger:      logger,
		profileInfo: ui.NewProfileInfo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		logo:        ui.NewLogo(theme),
		prompt:      ui.NewPrompt(theme),
		statusBar:   views.NewStatusBar(theme),
		roomList:    views.NewRoomList(theme),
		thread:      views.NewMessageThread(theme, eng.Self().UserID),
		info:        views.NewRoomInfo(theme),
		inbox:       views.NewInbox(theme),
		help:        views.NewHelpView(theme),
		profile:     profile,
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetProfile(profile)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) component(page string) ui.Component {
	switch page {
	case pageRoom:
		return a.thread
	case pageInfo:
		return a.info
	case pageInbox:
		return a.inbox
	case pageHelp:
		return a.help
	default:
		return a.roomList
	}
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.push(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("inbox", &keys.Action{
		Rune: 'n', Key: tcell.KeyRune,
		Handler: func() { a.showInbox() },
	})
	a.registry.AddView(pageRooms, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddGlobal("toast", &keys.Action{
		Rune: 'g', Key: tcell.KeyRune,
		Description: "g:last toast",
		Handler: func() {
			if id, ok := a.flash.LastToast(); ok {
				a.flash.ClearToast()
				a.openRoom(id)
			}
		},
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageRooms, "jump"+strconv.Itoa(n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if id := a.roomList.RoomByIndex(n); id != "" {
					a.openRoom(id)
				}
			},
		})
	}
	a.registry.AddView(pageRoom, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageRoom, "older", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Handler: func() { a.loadOlder() },
	})
	a.registry.AddView(pageRoom, "details", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Handler: func() { a.showInfo() },
	})
}

func (a *App) setupCallbacks() {
	a.roomList.SetSelectedFunc(func(_, _ int) {
		if id := a.roomList.SelectedRoom(); id != "" {
			a.openRoom(id)
		}
	})
	a.inbox.SetSelectedFunc(func(_, _ int) {
		if id := a.inbox.SelectedRoom(); id != "" {
			a.openRoom(id)
		}
	})

	a.thread.SetOnKeystroke(func() {
		go a.vm.Keystroke(a.ctx)
	})
	a.thread.SetOnSend(func(text string) {
		go func() {
			if _, err := a.vm.Send(a.ctx, text); err != nil {
				a.logger.Warn("send failed", zap.Error(err))
				a.flash.Err(err)
			}
		}()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.vm.SetFilter(text)
			a.roomList.SetFilter(text)
			a.refreshRooms()
		}
	})
	a.prompt.SetOnChange(func(_ ui.PromptMode, text string) {
		a.vm.SetFilter(text)
		a.roomList.SetFilter(text)
		a.refreshRooms()
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(stack []string) {
		a.refreshCrumbs(stack)
		a.menu.Update(a.component(a.pages.Current()).Hints())
	})
}

func (a *App) refreshCrumbs(stack []string) {
	trail := make([]ui.Crumb, len(stack))
	for i, p := range stack {
		c := a.component(p)
		trail[i].Label = c.Name()
		if b, ok := c.(ui.Badger); ok {
			trail[i].Badge = b.Badge()
		}
	}
	a.crumbs.Update(trail)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageRooms, a.roomList, true, false)
	a.pages.AddPage(pageRoom, a.thread, true, false)
	a.pages.AddPage(pageInfo, a.info, true, false)
	a.pages.AddPage(pageInbox, a.inbox, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	header := tview.NewFlex().
		AddItem(a.profileInfo, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 24, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 8, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageRooms)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current := a.pages.Current()

		if event.Key() == tcell.KeyEscape {
			if a.app.GetFocus() == a.thread.Composer() {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			if a.app.GetFocus() == a.prompt.InputField {
				return event
			}
			if a.pages.Depth() > 1 {
				a.back()
				return nil
			}
			if a.vm.Filter() != "" {
				a.vm.SetFilter("")
				a.roomList.SetFilter("")
				a.refreshRooms()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.app.SetFocus(a.pages)
}

func (a *App) back() {
	if a.pages.Pop() == pageRoom {
		a.vm.CloseRoom(a.ctx)
	}
	if a.pages.Current() == pageRoom {
		a.app.SetFocus(a.thread.Messages())
		return
	}
	a.refreshRooms()
	a.app.SetFocus(a.roomList)
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	switch a.pages.Current() {
	case pageRoom:
		a.app.SetFocus(a.thread.Messages())
	case pageRooms:
		a.app.SetFocus(a.roomList)
	default:
		a.app.SetFocus(a.pages)
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.app.Stop()
	case "help":
		a.push(pageHelp)
	case "inbox":
		a.showInbox()
	case "room":
		id, err := a.vm.FindRoom(cmd.Args)
		if err != nil {
			a.flash.Err(err)
			return
		}
		a.openRoom(id)
	case "older":
		a.loadOlder()
	case "presence":
		go func() {
			if a.vm.TogglePresence(a.ctx) {
				a.flash.Info("presence hidden")
			} else {
				a.flash.Info("presence visible")
			}
		}()
	case "typing":
		if a.vm.ToggleTyping() {
			a.flash.Info("typing indicator hidden")
		} else {
			a.flash.Info("typing indicator visible")
		}
	case "":
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}

func (a *App) openRoom(roomID string) {
	rv, ok := a.vm.Room(roomID)
	if !ok {
		a.flash.Warn("unknown room " + roomID)
		return
	}
	a.thread.SetRoom(model.RoomTitle(rv.Room), a.nicknames())

	a.pages.PopTo(pageRooms)
	a.pages.Push(pageRoom)
	a.app.SetFocus(a.thread.Messages())

	go func() {
		if err := a.vm.OpenRoom(a.ctx, roomID); err != nil {
			a.logger.Warn("open room failed", zap.String("room_id", roomID), zap.Error(err))
			a.flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.refreshThread)
	}()
}

func (a *App) loadOlder() {
	go func() {
		n, err := a.vm.LoadOlder(a.ctx)
		switch {
		case errors.Is(err, engine.ErrNoHistory):
			a.flash.Warn("history is not available offline")
		case err != nil:
			a.flash.Err(err)
		case n == 0:
			a.flash.Info("no older messages")
		}
	}()
}

func (a *App) showInfo() {
	rv, ok := a.vm.Room(a.vm.ActiveRoom())
	if !ok {
		return
	}
	a.info.Update(rv)
	a.push(pageInfo)
}

func (a *App) showInbox() {
	eng := a.vm.Engine()
	a.inbox.Update(eng.Notifications())
	eng.MarkNotificationsSeen()
	a.push(pageInbox)
	a.app.SetFocus(a.inbox)
}

func (a *App) nicknames() map[string]string {
	names := make(map[string]string)
	for _, p := range a.vm.Engine().Online() {
		if p.Nickname != "" {
			names[p.UserID] = p.Nickname
		}
	}
	return names
}

func (a *App) refreshRooms() {
	a.roomList.Update(a.vm.Tree())
	a.refreshCrumbs(a.pages.Stack())
}

func (a *App) refreshThread() {
	roomID := a.vm.ActiveRoom()
	if roomID == "" {
		return
	}
	eng := a.vm.Engine()
	a.thread.Update(eng.Messages(roomID))
	a.thread.SetTyping(model.TypingLine(eng.Typing(roomID)))
}

func (a *App) refreshHeader() {
	eng := a.vm.Engine()
	presenceHidden, typingHidden := eng.Hidden()
	data := &ui.ProfileData{
		Profile:        a.profile,
		User:           eng.Self().UserID,
		Status:         string(eng.ConnState()),
		Online:         len(eng.Online()),
		Notifications:  len(eng.Notifications()),
		PresenceHidden: presenceHidden,
		TypingHidden:   typingHidden,
		Uptime:         time.Since(a.startedAt),
	}
	for _, cat := range eng.Tree() {
		data.Rooms += len(cat.Rooms)
		data.Unread += cat.Unread
	}
	a.profileInfo.Update(data)
	a.statusBar.SetState(eng.ConnState())
	a.logo.SetState(eng.ConnState())
}

// handle applies one bus event to the views. Runs on the UI goroutine.
func (a *App) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.Toast:
		if t, ok := evt.Payload.(engine.Toast); ok {
			a.flash.Toast(t.RoomID, t.RoomName, t.SenderID, t.Text)
		}
	case bus.NotificationReceived:
		a.flash.Info("new notification")
		if a.pages.Current() == pageInbox {
			a.inbox.Update(a.vm.Engine().Notifications())
		}
	case bus.MessageSendFailed:
		if r, ok := evt.Payload.(outbox.Result); ok {
			a.flash.Warn("message not sent: " + r.Err)
		}
	}

	a.refreshRooms()
	a.refreshHeader()
	if a.pages.Current() == pageRoom {
		a.refreshThread()
	}
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case evt := <-events:
				a.app.QueueUpdateDraw(func() { a.handle(evt) })
			case <-a.flash.Watch():
				a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash(a.flash.GetMessage()) })
			case <-ticker.C:
				// Expire flashes and tick the uptime clock.
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.flash.GetMessage())
					a.refreshHeader()
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.refreshRooms()
	a.refreshHeader()
	a.menu.Update(a.roomList.Hints())
	a.app.SetFocus(a.roomList)

	err := a.app.Run()
	a.cancel()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
