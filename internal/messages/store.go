// Package messages keeps each room's ordered, deduplicated message list and
// reconciles history pages, optimistic sends and pushed messages into it.
//
// Messages live in a per-room arena slice; an index maps both confirmed and
// temporary ids to arena positions so confirming a pending message is an
// in-place write.
package messages

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/roomsync/internal/chat"
)

// Outcome reports what ApplyConfirmed did.
type Outcome int

const (
	Duplicate Outcome = iota
	Replaced
	Inserted
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Inserted:
		return "inserted"
	default:
		return "duplicate"
	}
}

// pageMatchWindow bounds how far apart a history message and a pending
// message may be created for the history copy to confirm it by content.
const pageMatchWindow = 2 * time.Minute

type room struct {
	items   []chat.Message
	index   map[string]int
	version uint64
}

func newRoom() *room {
	return &room{index: make(map[string]int)}
}

// Store holds message lists for every loaded room.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
	newID func() string
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*room),
		newID: uuid.NewString,
	}
}

func (s *Store) roomLocked(roomID string) *room {
	r := s.rooms[roomID]
	if r == nil {
		r = newRoom()
		s.rooms[roomID] = r
	}
	return r
}

// LoadPage merges a history page into the room and returns how many
// messages were new. Known ids are left untouched. A page message that is
// the server copy of a pending send confirms it in place, the same as
// ApplyConfirmed would; that does not count as new.
func (s *Store) LoadPage(roomID string, page []chat.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roomLocked(roomID)
	added, changed := 0, false
	for _, msg := range page {
		if msg.ID == "" {
			continue
		}
		msg.RoomID = roomID
		if pos, ok := r.confirmed(msg.ID); ok {
			changed = r.dropPendingCopy(pos, msg.TempID) || changed
			continue
		}
		if pos, ok := r.pendingFor(msg, pageMatchWindow); ok {
			r.confirm(pos, msg)
			changed = true
			continue
		}
		r.insertOrdered(msg.Clone())
		added++
	}
	if added > 0 || changed {
		r.version++
	}
	return added
}

// AppendOptimistic adds a pending message at the tail. A temporary id is
// generated when msg has none. Appending a known temporary id again is a
// no-op. It returns the stored message.
func (s *Store) AppendOptimistic(roomID string, msg chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roomLocked(roomID)
	if msg.TempID == "" {
		msg.TempID = s.newID()
	}
	if pos, ok := r.lookup(msg.TempID); ok {
		return r.items[pos].Clone()
	}
	msg.ID = msg.TempID
	msg.RoomID = roomID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg = msg.Clone()
	r.items = append(r.items, msg)
	r.index[msg.ID] = len(r.items) - 1
	r.version++
	return msg.Clone()
}

// ApplyConfirmed reconciles a server-confirmed message. A pending entry
// matching its temporary id, or failing that its sender and content, is
// replaced at the same position. An unknown id is inserted in creation-time
// order. A known id is a duplicate and changes nothing, except that a
// pending entry still holding msg's temporary id is dropped: the confirmed
// copy got there first, through history or another channel.
func (s *Store) ApplyConfirmed(roomID string, msg chat.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roomLocked(roomID)
	msg.RoomID = roomID

	if pos, ok := r.confirmed(msg.ID); ok {
		if r.dropPendingCopy(pos, msg.TempID) {
			r.version++
			return Replaced
		}
		return Duplicate
	}
	if pos, ok := r.pendingFor(msg, 0); ok {
		r.confirm(pos, msg)
		r.version++
		return Replaced
	}
	r.insertOrdered(msg.Clone())
	r.version++
	return Inserted
}

// pendingFor finds the pending entry msg confirms. Content matches must be
// created within window of msg unless window is 0.
func (r *room) pendingFor(msg chat.Message, window time.Duration) (int, bool) {
	if msg.TempID != "" {
		if pos, ok := r.lookup(msg.TempID); ok && r.items[pos].Pending() {
			return pos, true
		}
	}
	for i, m := range r.items {
		if !m.Pending() || !sameContent(m, msg) {
			continue
		}
		if window > 0 && m.CreatedAt.Sub(msg.CreatedAt).Abs() > window {
			continue
		}
		return i, true
	}
	return 0, false
}

// confirm overwrites the pending entry at pos with msg. msg inherits the
// pending temporary id when it has none so the id keeps resolving.
func (r *room) confirm(pos int, msg chat.Message) {
	old := r.items[pos]
	if msg.TempID == "" {
		msg.TempID = old.TempID
	}
	for _, id := range []string{old.ID, old.TempID} {
		if id != "" && id != msg.ID && id != msg.TempID {
			delete(r.index, id)
		}
	}
	r.items[pos] = msg.Clone()
	r.indexAt(pos)
}

// dropPendingCopy removes the pending entry for tempID when the confirmed
// message at pos is its server copy, and hands the temporary id over to the
// confirmed message. It reports whether anything was removed.
func (r *room) dropPendingCopy(pos int, tempID string) bool {
	if tempID == "" {
		return false
	}
	p, ok := r.lookup(tempID)
	if !ok || p == pos || !r.items[p].Pending() {
		return false
	}
	id := r.items[pos].ID
	r.remove(p)
	if pos, ok = r.confirmed(id); ok && r.items[pos].TempID == "" {
		r.items[pos].TempID = tempID
		r.index[tempID] = pos
	}
	return true
}

func sameContent(a, b chat.Message) bool {
	if a.SenderID != b.SenderID || a.Text != b.Text || a.ReplyTo != b.ReplyTo || len(a.Attachments) != len(b.Attachments) {
		return false
	}
	for i := range a.Attachments {
		if a.Attachments[i].Name != b.Attachments[i].Name || a.Attachments[i].Size != b.Attachments[i].Size {
			return false
		}
	}
	return true
}

// ApplyEdit replaces the text of message id. Edits older than the last
// applied edit and edits to tombstones are ignored. It reports whether the
// message changed.
func (s *Store) ApplyEdit(roomID, id, text string, editedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return false
	}
	pos, ok := r.lookup(id)
	if !ok {
		return false
	}
	m := &r.items[pos]
	if m.Deleted() || (m.EditedAt != nil && !editedAt.After(*m.EditedAt)) {
		return false
	}
	m.Text = text
	m.EditedAt = &editedAt
	r.version++
	return true
}

// ApplyDelete turns message id into a tombstone. It reports whether the
// message changed.
func (s *Store) ApplyDelete(roomID, id string, deletedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return false
	}
	pos, ok := r.lookup(id)
	if !ok || r.items[pos].Deleted() {
		return false
	}
	m := &r.items[pos]
	m.DeletedAt = &deletedAt
	m.Text = ""
	m.Attachments = nil
	r.version++
	return true
}

// Rollback removes a pending message whose send failed. Confirmed
// messages are never removed.
func (s *Store) Rollback(roomID, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return false
	}
	pos, ok := r.lookup(tempID)
	if !ok || !r.items[pos].Pending() {
		return false
	}
	r.remove(pos)
	r.version++
	return true
}

// Get returns the message with the given confirmed or temporary id.
func (s *Store) Get(roomID, id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[roomID]
	if r == nil {
		return chat.Message{}, false
	}
	pos, ok := r.lookup(id)
	if !ok {
		return chat.Message{}, false
	}
	return r.items[pos].Clone(), true
}

// List returns a copy of the room's messages in display order.
func (s *Store) List(roomID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[roomID]
	if r == nil {
		return nil
	}
	out := make([]chat.Message, len(r.items))
	for i, m := range r.items {
		out[i] = m.Clone()
	}
	return out
}

// Latest returns the newest message that is not a tombstone.
func (s *Store) Latest(roomID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[roomID]
	if r == nil {
		return chat.Message{}, false
	}
	for i := len(r.items) - 1; i >= 0; i-- {
		if !r.items[i].Deleted() {
			return r.items[i].Clone(), true
		}
	}
	return chat.Message{}, false
}

// Oldest returns the id of the oldest confirmed message, the cursor for
// fetching the previous history page.
func (s *Store) Oldest(roomID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[roomID]
	if r == nil {
		return "", false
	}
	for _, m := range r.items {
		if !m.Pending() {
			return m.ID, true
		}
	}
	return "", false
}

// Version increments on every mutation of the room.
func (s *Store) Version(roomID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.rooms[roomID]; r != nil {
		return r.version
	}
	return 0
}

// DropRoom forgets everything loaded for the room.
func (s *Store) DropRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// lookup resolves id to a position only when it names the message itself
// or its temporary id.
func (r *room) lookup(id string) (int, bool) {
	pos, ok := r.index[id]
	if !ok || pos < 0 || pos >= len(r.items) {
		return 0, false
	}
	m := r.items[pos]
	return pos, m.ID == id || m.TempID == id
}

// confirmed resolves id only when it is the message's own id.
func (r *room) confirmed(id string) (int, bool) {
	pos, ok := r.lookup(id)
	if !ok || r.items[pos].ID != id {
		return 0, false
	}
	return pos, true
}

func (r *room) remove(pos int) {
	m := r.items[pos]
	r.items = append(r.items[:pos], r.items[pos+1:]...)
	for _, id := range []string{m.ID, m.TempID} {
		if p, ok := r.index[id]; ok && p == pos {
			delete(r.index, id)
		}
	}
	r.reindex(pos)
}

// insertOrdered places msg after the last message created at or before it.
func (r *room) insertOrdered(msg chat.Message) {
	pos := len(r.items)
	for pos > 0 && r.items[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}
	if pos == len(r.items) {
		r.items = append(r.items, msg)
		r.indexAt(pos)
		return
	}
	r.items = append(r.items, chat.Message{})
	copy(r.items[pos+1:], r.items[pos:])
	r.items[pos] = msg
	r.reindex(pos)
}

func (r *room) indexAt(pos int) {
	m := r.items[pos]
	r.index[m.ID] = pos
	if m.TempID != "" {
		r.index[m.TempID] = pos
	}
}

func (r *room) reindex(from int) {
	for i := from; i < len(r.items); i++ {
		r.indexAt(i)
	}
}
