package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/messages"
	"github.com/matheus3301/roomsync/internal/notify"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/transport"
	"github.com/matheus3301/roomsync/internal/typing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const directoryTimeout = 5 * time.Second

type source string

const (
	sourceRoom     source = "room"
	sourceUser     source = "user"
	sourcePresence source = "presence"
	sourceState    source = "state"
)

// inbound is one unit of work for the dispatch goroutine.
type inbound struct {
	source source
	roomID string
	env    transport.Envelope
	state  status.State
}

func (e *Engine) forward(in inbound) bool {
	select {
	case e.events <- in:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Engine) pump(src source, ch <-chan transport.Envelope) {
	defer e.wg.Done()
	for env := range ch {
		if !e.forward(inbound{source: src, env: env}) {
			return
		}
	}
}

func (e *Engine) pumpRoom(ch *transport.RoomChannel) {
	defer e.wg.Done()
	for env := range ch.Events() {
		if !e.forward(inbound{source: sourceRoom, roomID: ch.RoomID(), env: env}) {
			return
		}
	}
}

func (e *Engine) pumpStates(states <-chan status.State) {
	defer e.wg.Done()
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return
			}
			if !e.forward(inbound{source: sourceState, state: s}) {
				return
			}
		case <-e.quit:
			return
		}
	}
}

// dispatch applies every event in arrival order. It is the only goroutine
// that mutates state in response to the transport.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case in := <-e.events:
			e.apply(in)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) apply(in inbound) {
	var err error
	switch in.source {
	case sourceState:
		e.onState(in.state)
		return
	case sourceRoom:
		err = e.onRoomEvent(in.roomID, in.env)
	case sourceUser:
		err = e.onUserEvent(in.env)
	case sourcePresence:
		err = e.presence.Apply(in.env)
	}
	if err != nil {
		if errors.Is(err, transport.ErrMalformed) {
			e.metrics.Malformed(string(in.source))
			e.logger.Warn("dropped malformed event",
				zap.String("source", string(in.source)),
				zap.String("channel", in.env.Channel),
				zap.String("event", in.env.Name),
				zap.Error(err))
			return
		}
		e.logger.Warn("failed to apply event", zap.String("event", in.env.Name), zap.Error(err))
		return
	}
	e.metrics.EventApplied(in.env.Name)
}

func (e *Engine) onState(s status.State) {
	switch s {
	case status.Connected:
		e.resync()
	case status.Disconnected:
		e.logger.Warn("connection lost")
	case status.Failed:
		e.logger.Error("connection failed, giving up on reconnect")
	}
}

// resync re-attaches wanted rooms on fresh channels, re-announces presence
// and replaces the presence set. Events missed while disconnected are not
// replayed.
func (e *Engine) resync() {
	ctx := e.ctx
	e.mu.Lock()
	var rooms []string
	for id := range e.wanted {
		if ch, ok := e.attached[id]; !ok || ch.Stale() {
			rooms = append(rooms, id)
		}
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range rooms {
		g.Go(func() error {
			if err := e.attach(gctx, id); err != nil {
				e.logger.Warn("failed to re-attach room", zap.String("room_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := e.presence.Enter(ctx); err != nil {
		e.logger.Warn("presence enter failed", zap.Error(err))
	}
	if err := e.presence.SyncFull(ctx); err != nil {
		e.logger.Warn("presence sync failed", zap.Error(err))
	}
	e.logger.Info("connected", zap.Int("rooms_attached", len(rooms)))
}

func (e *Engine) onRoomEvent(roomID string, env transport.Envelope) error {
	rawTyping := env.Channel == transport.RoomTypingChannel(roomID)
	switch env.Name {
	case transport.EventMessage:
		msg, err := transport.DecodeMessage(env)
		if err != nil {
			return err
		}
		if msg.RoomID != roomID {
			return fmt.Errorf("message for %s on %s: %w", msg.RoomID, roomID, transport.ErrMalformed)
		}
		if e.msgs.ApplyConfirmed(roomID, msg) == messages.Duplicate {
			return nil
		}
		e.bus.Publish(bus.Event{Kind: bus.MessageUpserted, Payload: bus.RoomRef{RoomID: roomID, MessageID: msg.ID}})
		e.updateLastMessage(roomID, msg)
		e.inbound(roomID, msg)

	case transport.EventMessageEdited:
		var p transport.MessageEditedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("edit without id: %w", transport.ErrMalformed)
		}
		if e.msgs.ApplyEdit(roomID, p.ID, p.Text, p.EditedAt) {
			e.bus.Publish(bus.Event{Kind: bus.MessageUpserted, Payload: bus.RoomRef{RoomID: roomID, MessageID: p.ID}})
		}

	case transport.EventMessageDeleted:
		var p transport.MessageDeletedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.ID == "" {
			return fmt.Errorf("delete without id: %w", transport.ErrMalformed)
		}
		if e.msgs.ApplyDelete(roomID, p.ID, p.DeletedAt) {
			e.bus.Publish(bus.Event{Kind: bus.MessageUpserted, Payload: bus.RoomRef{RoomID: roomID, MessageID: p.ID}})
		}

	case transport.EventTyping:
		if rawTyping {
			return e.onRawTyping(roomID, env, true)
		}
		var p transport.TypingSetPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		users := make([]typing.User, 0, len(p.CurrentlyTyping))
		for _, u := range p.CurrentlyTyping {
			if u.UserID != "" {
				users = append(users, typing.User{ID: u.UserID, Nickname: u.Nickname})
			}
		}
		e.typing.ApplySet(roomID, users)

	case transport.EventStopTyping:
		return e.onRawTyping(roomID, env, false)

	default:
		e.logger.Debug("ignored room event", zap.String("event", env.Name), zap.String("room_id", roomID))
	}
	return nil
}

// onRawTyping handles the discrete typing channel. It feeds the sidebar
// indicator and, since the room is attached, the in-room set.
func (e *Engine) onRawTyping(roomID string, env transport.Envelope, active bool) error {
	var u transport.TypingUser
	if err := env.Decode(&u); err != nil {
		return err
	}
	if u.UserID == "" {
		return fmt.Errorf("typing without userId: %w", transport.ErrMalformed)
	}
	if active {
		e.sidebar.Signal(roomID, u.UserID, u.Nickname)
		e.typing.Signal(roomID, u.UserID, u.Nickname)
		return nil
	}
	e.sidebar.Stop(roomID, u.UserID)
	e.typing.Stop(roomID, u.UserID)
	return nil
}

// inbound runs unread counting and the toast decision for a message that
// is new to this client.
func (e *Engine) inbound(roomID string, msg chat.Message) {
	e.unread.NoteLatest(roomID, msg.ID, msg.CreatedAt)
	if msg.SenderID == e.self.UserID {
		return
	}
	active := e.unread.Active() == roomID
	if !e.unread.OnInbound(roomID, msg.ID, active) {
		return
	}
	member, _ := e.rooms.Member(roomID)
	if !notify.ShouldToast(notify.Input{
		IsActive: active,
		Setting:  member.Notify,
		Text:     msg.Text,
		Nickname: e.self.Nickname,
		UserID:   e.self.UserID,
	}) {
		return
	}
	room, _ := e.rooms.Room(roomID)
	e.metrics.Toasted()
	e.bus.Publish(bus.Event{Kind: bus.Toast, Payload: Toast{
		RoomID:    roomID,
		RoomName:  room.Name,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
	}})
}

func (e *Engine) onUserEvent(env transport.Envelope) error {
	switch env.Name {
	case transport.EventRoomCreated:
		var p transport.RoomCreatedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.Room.ID == "" {
			return fmt.Errorf("room-created without id: %w", transport.ErrMalformed)
		}
		e.AddRoom(p.Room, e.selfMember(p.Room.ID, p.Members))

	case transport.EventNewNotification:
		var n chat.Notification
		if err := env.Decode(&n); err != nil {
			return err
		}
		if n.ID == "" {
			return fmt.Errorf("notification without id: %w", transport.ErrMalformed)
		}
		if e.inbox.Add(n) {
			e.bus.Publish(bus.Event{Kind: bus.NotificationReceived, Payload: n})
		}

	case transport.EventChatMessage:
		var p transport.ChatMessagePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.RoomID == "" {
			p.RoomID = p.Message.RoomID
		}
		if p.RoomID == "" || p.Message.ID == "" {
			return fmt.Errorf("chat-message without room or id: %w", transport.ErrMalformed)
		}
		p.Message.RoomID = p.RoomID
		e.updateLastMessage(p.RoomID, p.Message)
		if e.isAttached(p.RoomID) {
			// The room channel delivers the message itself.
			return nil
		}
		e.inbound(p.RoomID, p.Message)

	case transport.EventMemberRoleUpdated:
		var p transport.MemberRoleUpdatedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.RoomID == "" || p.UserID == "" {
			return fmt.Errorf("member-role-updated without room or user: %w", transport.ErrMalformed)
		}
		if p.UserID == e.self.UserID {
			if err := e.rooms.UpdateMember(p.RoomID, p.Role, p.Notify); err != nil {
				return err
			}
			e.persistRoom(p.RoomID)
		}
		e.bus.Publish(bus.Event{Kind: bus.MemberUpdated, Payload: p})

	case transport.EventRoomInfoUpdated:
		var p transport.RoomInfoUpdatedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.RoomID == "" {
			return fmt.Errorf("room-info-updated without room: %w", transport.ErrMalformed)
		}
		if err := e.rooms.UpdateRoomInfo(p.RoomID, p.Name, p.Avatar); err != nil {
			return err
		}
		e.persistRoom(p.RoomID)
		e.bus.Publish(bus.Event{Kind: bus.RoomInfoUpdated, Payload: p})

	default:
		e.logger.Debug("ignored user event", zap.String("event", env.Name))
	}
	return nil
}

// selfMember finds the local user's membership of a new room, asking the
// directory first and falling back to the members embedded in the event.
func (e *Engine) selfMember(roomID string, embedded []chat.Member) chat.Member {
	members := embedded
	if e.directory != nil {
		ctx, cancel := context.WithTimeout(e.ctx, directoryTimeout)
		fetched, err := e.directory.FetchMembers(ctx, roomID)
		cancel()
		if err != nil {
			e.logger.Warn("directory lookup failed, using embedded members", zap.String("room_id", roomID), zap.Error(err))
		} else {
			members = fetched
		}
	}
	for _, m := range members {
		if m.UserID == e.self.UserID {
			m.RoomID = roomID
			return m
		}
	}
	return chat.Member{UserID: e.self.UserID, RoomID: roomID, Role: chat.RoleMember, Notify: chat.NotifyAll}
}
