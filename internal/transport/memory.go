package transport

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/status"
)

// Broker is an in-process pub/sub hub shared by Memory transports. Delivery
// never blocks: a subscriber with a full buffer misses the event, like a slow
// Redis subscriber would.
type Broker struct {
	mu       sync.Mutex
	subs     map[string]map[*memSub]struct{}
	presence map[string]chat.PresenceEntry
}

type memSub struct {
	deliver func(Envelope)
}

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[*memSub]struct{}),
		presence: make(map[string]chat.PresenceEntry),
	}
}

// Publish delivers env to every subscriber of channel.
func (b *Broker) Publish(channel string, env Envelope) {
	env.Channel = channel
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[channel] {
		s.deliver(env)
	}
}

// Members returns the broker's presence set.
func (b *Broker) Members() []chat.PresenceEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]chat.PresenceEntry, 0, len(b.presence))
	for _, e := range b.presence {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Subscribers returns the number of subscriptions on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// subscribe registers deliver on channels. After the returned func returns,
// deliver is never called again.
func (b *Broker) subscribe(deliver func(Envelope), channels ...string) func() {
	s := &memSub{deliver: deliver}
	b.mu.Lock()
	for _, c := range channels {
		if b.subs[c] == nil {
			b.subs[c] = make(map[*memSub]struct{})
		}
		b.subs[c][s] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, c := range channels {
				delete(b.subs[c], s)
				if len(b.subs[c]) == 0 {
					delete(b.subs, c)
				}
			}
		})
	}
}

func (b *Broker) setPresence(name string, e chat.PresenceEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == EventLeave {
		delete(b.presence, e.UserID)
		return
	}
	b.presence[e.UserID] = e
}

// Memory is a Transport over a Broker. Drop and Restore simulate a network
// failure and recovery.
type Memory struct {
	broker  *Broker
	machine *status.Machine
	buf     int

	userEvents     chan Envelope
	presenceEvents chan Envelope

	mu         sync.Mutex
	identity   chat.Identity
	rooms      map[string]*RoomChannel
	down       atomic.Bool
	unsubBase  func()
	watchStops []func()
	closed     bool
}

func NewMemory(broker *Broker, machine *status.Machine, buf int) *Memory {
	if buf <= 0 {
		buf = 256
	}
	return &Memory{
		broker:         broker,
		machine:        machine,
		buf:            buf,
		userEvents:     make(chan Envelope, buf),
		presenceEvents: make(chan Envelope, buf),
		rooms:          make(map[string]*RoomChannel),
	}
}

func (m *Memory) Connect(_ context.Context, identity chat.Identity) (<-chan status.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	states, stop := m.machine.Watch(16)
	m.watchStops = append(m.watchStops, stop)
	if m.unsubBase != nil {
		return states, nil
	}
	m.identity = identity

	if err := m.machine.Transition(status.Connecting); err != nil {
		return nil, err
	}
	userChannel := UserChannel(identity.UserID)
	m.unsubBase = m.broker.subscribe(func(env Envelope) {
		if m.down.Load() {
			return
		}
		out := m.presenceEvents
		if env.Channel == userChannel {
			out = m.userEvents
		}
		select {
		case out <- env:
		default:
		}
	}, userChannel, PresenceChannel)
	return states, m.machine.Transition(status.Connected)
}

func (m *Memory) AttachRoom(_ context.Context, roomID string) (*RoomChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if ch, ok := m.rooms[roomID]; ok {
		return ch, nil
	}
	if m.down.Load() || m.unsubBase == nil {
		return nil, ErrNotConnected
	}
	ch := newRoomChannel(roomID, m.identity.UserID, m.buf, m.publish)
	unsub := m.broker.subscribe(func(env Envelope) {
		select {
		case ch.events <- env:
		default:
		}
	}, RoomMessagesChannel(roomID), RoomTypingChannel(roomID))
	ch.release = func() {
		unsub()
		close(ch.events)
	}
	m.rooms[roomID] = ch
	return ch, nil
}

func (m *Memory) DetachRoom(roomID string) {
	m.mu.Lock()
	ch, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if ok {
		ch.close()
	}
}

func (m *Memory) UserEvents() <-chan Envelope { return m.userEvents }

func (m *Memory) PresenceEvents() <-chan Envelope { return m.presenceEvents }

func (m *Memory) PublishPresence(_ context.Context, env Envelope) error {
	if !m.up() {
		return ErrNotConnected
	}
	var p PresencePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if env.ClientID == "" {
		env.ClientID = p.UserID
	}
	m.broker.setPresence(env.Name, p.Entry())
	m.broker.Publish(PresenceChannel, env)
	return nil
}

func (m *Memory) PresenceMembers(context.Context) ([]chat.PresenceEntry, error) {
	if !m.up() {
		return nil, ErrNotConnected
	}
	return m.broker.Members(), nil
}

// Drop simulates a network failure: every room handle goes stale and the
// state becomes DISCONNECTED. Events published meanwhile are lost.
func (m *Memory) Drop() {
	m.mu.Lock()
	if m.down.Load() || m.closed {
		m.mu.Unlock()
		return
	}
	m.down.Store(true)
	rooms := m.rooms
	m.rooms = make(map[string]*RoomChannel)
	m.mu.Unlock()

	for _, ch := range rooms {
		ch.close()
	}
	_ = m.machine.Transition(status.Disconnected)
}

// Restore ends a simulated failure and reports CONNECTED again.
func (m *Memory) Restore() {
	m.mu.Lock()
	if !m.down.Load() || m.closed {
		m.mu.Unlock()
		return
	}
	m.down.Store(false)
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connecting)
	_ = m.machine.Transition(status.Connected)
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	rooms := m.rooms
	m.rooms = make(map[string]*RoomChannel)
	unsub := m.unsubBase
	stops := m.watchStops
	m.watchStops = nil
	m.mu.Unlock()

	for _, ch := range rooms {
		ch.close()
	}
	if unsub != nil {
		unsub()
	}
	close(m.userEvents)
	close(m.presenceEvents)
	_ = m.machine.Transition(status.Idle)
	for _, stop := range stops {
		stop()
	}
	return nil
}

func (m *Memory) up() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down.Load() && !m.closed && m.unsubBase != nil
}

func (m *Memory) publish(_ context.Context, channel string, env Envelope) error {
	if !m.up() {
		return ErrNotConnected
	}
	m.broker.Publish(channel, env)
	return nil
}

var _ Transport = (*Memory)(nil)
