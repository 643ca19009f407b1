// Package engine coordinates the client's realtime state. It owns one of
// each tracker, feeds them every transport event from a single dispatch
// goroutine, and exposes the operations and read accessors the UI uses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/messages"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/notify"
	"github.com/matheus3301/roomsync/internal/outbox"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/privacy"
	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/store"
	"github.com/matheus3301/roomsync/internal/transport"
	"github.com/matheus3301/roomsync/internal/typing"
	"github.com/matheus3301/roomsync/internal/unread"
	"go.uber.org/zap"
)

var (
	ErrNotStarted = errors.New("engine not started")
	ErrStopped    = errors.New("engine stopped")
	ErrNoHistory  = errors.New("no history source configured")
)

// Directory resolves a room's member list.
type Directory interface {
	FetchMembers(ctx context.Context, roomID string) ([]chat.Member, error)
}

// History returns a page of messages older than beforeID, or the newest
// page when beforeID is empty.
type History interface {
	FetchPage(ctx context.Context, roomID, beforeID string) ([]chat.Message, error)
}

// State is the local persistence the engine restores from and writes
// through. *store.DB implements it.
type State interface {
	roomlist.Persister
	unread.Persister
	outbox.Log
	UpsertRoom(ctx context.Context, room chat.RoomSummary, member chat.Member) error
	ListRooms(ctx context.Context) ([]store.RoomRecord, error)
	LoadCategories(ctx context.Context) ([]chat.Category, error)
	LoadUnread(ctx context.Context) (map[string]int, error)
}

// Options configures an Engine. Transport and Machine are required.
type Options struct {
	Identity  chat.Identity
	Transport transport.Transport
	Machine   *status.Machine
	Bus       *bus.Bus
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	State     State
	Directory Directory
	History   History
	Receipts  unread.ReadReceipts
	API       outbox.MessageAPI

	TypingTimeout  time.Duration
	PresenceHidden bool
	TypingHidden   bool
	InboxSize      int
	// OutboxRetain is how long delivered outbox entries are kept.
	OutboxRetain time.Duration
}

// Toast is the payload of bus.Toast events.
type Toast struct {
	RoomID    string
	RoomName  string
	MessageID string
	SenderID  string
	Text      string
}

// Engine is the realtime synchronization engine for one signed-in user.
type Engine struct {
	self      chat.Identity
	transport transport.Transport
	machine   *status.Machine
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	state     State
	directory Directory
	history   History
	retain    time.Duration

	guard    *privacy.Guard
	presence *presence.Tracker
	typing   *typing.Tracker
	sidebar  *typing.Tracker
	local    *typing.Local
	msgs     *messages.Store
	unread   *unread.Tracker
	rooms    *roomlist.List
	inbox    *notify.Inbox
	sender   *outbox.Sender

	events chan inbound
	quit   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	mu       sync.Mutex
	wanted   map[string]struct{}
	attached map[string]*transport.RoomChannel
	started  bool
	stopped  bool
}

// New builds an engine. Nothing touches the network until Start.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil || opts.Machine == nil {
		return nil, fmt.Errorf("engine: transport and state machine are required")
	}
	if opts.Identity.UserID == "" {
		return nil, fmt.Errorf("engine: user id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := opts.TypingTimeout
	if timeout <= 0 {
		timeout = typing.DefaultTimeout
	}
	api := opts.API
	if api == nil {
		api = outbox.EchoAPI{Now: clk.Now}
	}

	e := &Engine{
		self:      opts.Identity,
		transport: opts.Transport,
		machine:   opts.Machine,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		logger:    logger,
		state:     opts.State,
		directory: opts.Directory,
		history:   opts.History,
		retain:    opts.OutboxRetain,
		guard:     privacy.New(opts.PresenceHidden, opts.TypingHidden),
		msgs:      messages.NewStore(),
		inbox:     notify.NewInbox(opts.InboxSize),
		events:    make(chan inbound, 256),
		quit:      make(chan struct{}),
		wanted:    make(map[string]struct{}),
		attached:  make(map[string]*transport.RoomChannel),
	}

	var (
		roomPersist   roomlist.Persister
		unreadPersist unread.Persister
		outboxLog     outbox.Log
	)
	if opts.State != nil {
		roomPersist, unreadPersist, outboxLog = opts.State, opts.State, opts.State
	}

	e.presence = presence.NewTracker(opts.Transport, e.guard, opts.Identity, opts.Bus, logger.Named("presence"))
	e.typing = typing.NewTracker(clk, timeout, opts.Identity.UserID, typing.ScopeRoom, opts.Bus)
	e.sidebar = typing.NewTracker(clk, timeout, opts.Identity.UserID, typing.ScopeSidebar, opts.Bus)
	e.local = typing.NewLocal(clk, timeout, e.guard, e.signalTyping, logger.Named("typing"))
	e.unread = unread.NewTracker(opts.Receipts, unreadPersist, opts.Bus, logger.Named("unread"))
	e.rooms = roomlist.New(roomPersist, opts.Bus, logger.Named("roomlist"))
	e.sender = outbox.NewSender(api, e.msgs, outboxLog, e.broadcast, opts.Bus, opts.Metrics, logger.Named("outbox")).WithClock(clk)
	return e, nil
}

// Start restores persisted state, connects the transport and begins
// dispatching events. The engine stays usable while disconnected.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.restore(ctx)

	states, err := e.transport.Connect(ctx, e.self)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	e.wg.Add(4)
	go e.dispatch()
	go e.pumpStates(states)
	go e.pump(sourceUser, e.transport.UserEvents())
	go e.pump(sourcePresence, e.transport.PresenceEvents())
	if e.retain > 0 {
		e.sender.Start(e.ctx, e.retain/4, e.retain)
	}
	e.logger.Info("engine started", zap.String("user_id", e.self.UserID))
	return nil
}

func (e *Engine) restore(ctx context.Context) {
	if e.state == nil {
		return
	}
	cats, err := e.state.LoadCategories(ctx)
	if err != nil {
		e.logger.Warn("failed to load categories", zap.Error(err))
	}
	e.rooms.Restore(cats)

	records, err := e.state.ListRooms(ctx)
	if err != nil {
		e.logger.Warn("failed to load rooms", zap.Error(err))
	}
	for _, r := range records {
		e.rooms.AddRoom(r.Room, r.Member)
	}

	counts, err := e.state.LoadUnread(ctx)
	if err != nil {
		e.logger.Warn("failed to load unread counters", zap.Error(err))
	}
	e.unread.Restore(counts)
	e.logger.Debug("restored state", zap.Int("rooms", len(records)), zap.Int("categories", len(cats)))
}

// Stop leaves presence, disconnects and releases every timer and
// subscription. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	if started {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = e.local.Stop(ctx)
		_ = e.presence.Leave(ctx)
		cancel()

		e.cancel()
		close(e.quit)
		if err := e.transport.Disconnect(); err != nil {
			e.logger.Warn("disconnect failed", zap.Error(err))
		}
		e.wg.Wait()
		e.sender.Stop()
	}

	e.mu.Lock()
	e.attached = make(map[string]*transport.RoomChannel)
	e.wanted = make(map[string]struct{})
	e.mu.Unlock()
	e.metrics.SetAttachedRooms(0)

	e.typing.Close()
	e.sidebar.Close()
	e.logger.Info("engine stopped")
}

// AttachRoom subscribes to a room's channels for as long as the room view
// is mounted. The room is re-attached automatically after a reconnect, so
// attaching while disconnected is not an error.
func (e *Engine) AttachRoom(ctx context.Context, roomID string) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.wanted[roomID] = struct{}{}
	e.mu.Unlock()

	err := e.attach(ctx, roomID)
	if errors.Is(err, transport.ErrNotConnected) {
		e.logger.Debug("room attach deferred until connected", zap.String("room_id", roomID))
		return nil
	}
	return err
}

func (e *Engine) attach(ctx context.Context, roomID string) error {
	ch, err := e.transport.AttachRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("attach %s: %w", roomID, err)
	}

	e.mu.Lock()
	if _, ok := e.wanted[roomID]; !ok || e.stopped {
		e.mu.Unlock()
		// Detached while the subscription was being set up.
		e.transport.DetachRoom(roomID)
		return nil
	}
	if e.attached[roomID] == ch {
		e.mu.Unlock()
		return nil
	}
	e.attached[roomID] = ch
	n := len(e.attached)
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.SetAttachedRooms(n)
	go e.pumpRoom(ch)
	e.logger.Debug("room attached", zap.String("room_id", roomID))
	return nil
}

// DetachRoom releases a room's channels and cancels its typing timers
// before returning. Redundant calls are safe.
func (e *Engine) DetachRoom(roomID string) {
	e.mu.Lock()
	delete(e.wanted, roomID)
	_, ok := e.attached[roomID]
	delete(e.attached, roomID)
	n := len(e.attached)
	e.mu.Unlock()

	if e.local.Active() == roomID {
		_ = e.local.Stop(context.Background())
	}
	e.transport.DetachRoom(roomID)
	e.typing.DetachRoom(roomID)
	e.sidebar.DetachRoom(roomID)
	if ok {
		e.metrics.SetAttachedRooms(n)
		e.logger.Debug("room detached", zap.String("room_id", roomID))
	}
}

// Attached returns the ids of rooms with live channels, sorted.
func (e *Engine) Attached() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.attached))
	for id, ch := range e.attached {
		if !ch.Stale() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) isAttached(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.attached[roomID]
	return ok && !ch.Stale()
}

func (e *Engine) handle(roomID string) (*transport.RoomChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.attached[roomID]
	if !ok || ch.Stale() {
		return nil, fmt.Errorf("%s: %w", roomID, transport.ErrDetached)
	}
	return ch, nil
}

// SetActiveRoom marks roomID as the room on screen and clears its unread
// counter. An empty id means no room is on screen.
func (e *Engine) SetActiveRoom(ctx context.Context, roomID string) error {
	if prev := e.local.Active(); prev != "" && prev != roomID {
		_ = e.local.Stop(ctx)
	}
	return e.unread.SetActive(ctx, roomID)
}

// MarkRead clears a room's unread counter and reports the read position.
func (e *Engine) MarkRead(ctx context.Context, roomID string) error {
	return e.unread.Clear(ctx, roomID)
}

// LoadHistory fetches a page before beforeID and merges it into the room's
// message list. It returns how many messages were new.
func (e *Engine) LoadHistory(ctx context.Context, roomID, beforeID string) (int, error) {
	if e.history == nil {
		return 0, ErrNoHistory
	}
	page, err := e.history.FetchPage(ctx, roomID, beforeID)
	if err != nil {
		return 0, fmt.Errorf("load history %s: %w", roomID, err)
	}
	before := e.msgs.Version(roomID)
	n := e.msgs.LoadPage(roomID, page)
	if e.msgs.Version(roomID) == before {
		return 0, nil
	}
	if latest, ok := e.msgs.Latest(roomID); ok && !latest.Pending() {
		e.unread.NoteLatest(roomID, latest.ID, latest.CreatedAt)
		e.updateLastMessage(roomID, latest)
	}
	e.bus.Publish(bus.Event{Kind: bus.MessageUpserted, Payload: bus.RoomRef{RoomID: roomID}})
	return n, nil
}

// LoadOlder loads the page before the oldest confirmed message in the room.
func (e *Engine) LoadOlder(ctx context.Context, roomID string) (int, error) {
	oldest, _ := e.msgs.Oldest(roomID)
	return e.LoadHistory(ctx, roomID, oldest)
}

// SendMessage sends text to a room through the outbox: the message appears
// immediately as pending and is confirmed or rolled back.
func (e *Engine) SendMessage(ctx context.Context, roomID, text, replyTo string) (chat.Message, error) {
	if e.local.Active() == roomID {
		_ = e.local.Stop(ctx)
	}
	return e.sender.Send(ctx, chat.Message{
		RoomID:   roomID,
		SenderID: e.self.UserID,
		Text:     text,
		ReplyTo:  replyTo,
	})
}

// SendRealtimeMessage broadcasts a message the server already created to
// the room's other members and applies it locally.
func (e *Engine) SendRealtimeMessage(ctx context.Context, roomID, content string, canonical chat.Message) error {
	canonical.RoomID = roomID
	if canonical.Text == "" {
		canonical.Text = content
	}
	if canonical.ID == "" {
		return fmt.Errorf("send %s: message has no id: %w", roomID, transport.ErrMalformed)
	}
	if e.msgs.ApplyConfirmed(roomID, canonical) != messages.Duplicate {
		e.bus.Publish(bus.Event{Kind: bus.MessageUpserted, Payload: bus.RoomRef{RoomID: roomID, MessageID: canonical.ID}})
	}
	e.unread.NoteLatest(roomID, canonical.ID, canonical.CreatedAt)
	e.updateLastMessage(roomID, canonical)
	return e.broadcast(ctx, canonical)
}

func (e *Engine) broadcast(ctx context.Context, msg chat.Message) error {
	ch, err := e.handle(msg.RoomID)
	if err != nil {
		return err
	}
	env, err := transport.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return ch.Publish(ctx, env)
}

// StartTyping tells the active room the local user is typing. It is a
// no-op while typing is hidden or no room is active.
func (e *Engine) StartTyping(ctx context.Context) error {
	roomID := e.unread.Active()
	if roomID == "" {
		return nil
	}
	return e.local.Start(ctx, roomID)
}

// StopTyping ends the local typing signal.
func (e *Engine) StopTyping(ctx context.Context) error {
	return e.local.Stop(ctx)
}

func (e *Engine) signalTyping(ctx context.Context, roomID string, active bool) error {
	ch, err := e.handle(roomID)
	if err != nil {
		return err
	}
	name := transport.EventTyping
	if !active {
		name = transport.EventStopTyping
	}
	env, err := transport.NewEnvelope(name, transport.TypingUser{UserID: e.self.UserID, Nickname: e.self.Nickname})
	if err != nil {
		return err
	}
	return ch.PublishTyping(ctx, env)
}

// SetPresenceHidden toggles the presence opt-out.
func (e *Engine) SetPresenceHidden(ctx context.Context, hidden bool) {
	e.presence.SetHidden(ctx, hidden)
}

// SetTypingHidden toggles the typing opt-out. Hiding ends any local typing
// signal in progress.
func (e *Engine) SetTypingHidden(hidden bool) {
	e.guard.SetHidden(privacy.Typing, hidden)
	if hidden {
		_ = e.local.Stop(context.Background())
	}
}

// Hidden reports the privacy opt-outs.
func (e *Engine) Hidden() (presenceHidden, typingHidden bool) {
	return e.guard.Hidden(privacy.Presence), e.guard.Hidden(privacy.Typing)
}

// AddRoom inserts or patches a room in the room list and caches it.
func (e *Engine) AddRoom(room chat.RoomSummary, member chat.Member) {
	if member.UserID == "" {
		member.UserID = e.self.UserID
	}
	e.rooms.AddRoom(room, member)
	e.persistRoom(room.ID)
}

func (e *Engine) updateLastMessage(roomID string, msg chat.Message) {
	if e.rooms.UpdateLastMessage(roomID, msg.Ref()) {
		e.persistRoom(roomID)
	}
}

func (e *Engine) persistRoom(roomID string) {
	if e.state == nil {
		return
	}
	room, ok := e.rooms.Room(roomID)
	if !ok {
		return
	}
	member, _ := e.rooms.Member(roomID)
	if err := e.state.UpsertRoom(context.Background(), room, member); err != nil {
		e.logger.Warn("failed to cache room", zap.String("room_id", roomID), zap.Error(err))
	}
}

// ConnState returns the current connection state.
func (e *Engine) ConnState() status.State { return e.machine.Current() }

// Messages returns a copy of a room's message list.
func (e *Engine) Messages(roomID string) []chat.Message { return e.msgs.List(roomID) }

// Typing returns who is typing in an attached room, excluding the local user.
func (e *Engine) Typing(roomID string) []chat.TypingEntry { return e.typing.Typing(roomID) }

// SidebarTyping reports whether anyone is typing in roomID.
func (e *Engine) SidebarTyping(roomID string) bool { return e.sidebar.Active(roomID) }

// Online returns the online users sorted by nickname.
func (e *Engine) Online() []chat.PresenceEntry { return e.presence.Online() }

func (e *Engine) Unread(roomID string) int { return e.unread.Count(roomID) }

// Tree returns the categorized room list with badges.
func (e *Engine) Tree() []roomlist.CategoryView {
	return e.rooms.Tree(e.unread, e.presence, e.sidebar)
}

// Notifications returns the inbox, newest first.
func (e *Engine) Notifications() []chat.Notification { return e.inbox.List() }

// MarkNotificationsSeen resets the inbox's unseen counter.
func (e *Engine) MarkNotificationsSeen() { e.inbox.MarkSeen() }

// Rooms exposes the room list for category management.
func (e *Engine) Rooms() *roomlist.List { return e.rooms }

// Self returns the local identity.
func (e *Engine) Self() chat.Identity { return e.self }
