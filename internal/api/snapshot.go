package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/roomlist"
	"github.com/matheus3301/roomsync/internal/status"
)

// Source is the engine surface a snapshot reads.
type Source interface {
	ConnState() status.State
	Attached() []string
	Online() []chat.PresenceEntry
	Tree() []roomlist.CategoryView
	Hidden() (presenceHidden, typingHidden bool)
}

// Snapshot is the JSON body served at /status.
type Snapshot struct {
	Profile        string         `json:"profile"`
	UserID         string         `json:"userId"`
	State          status.State   `json:"state"`
	UptimeMs       int64          `json:"uptimeMs"`
	AttachedRooms  []string       `json:"attachedRooms"`
	Online         int            `json:"online"`
	Rooms          int            `json:"rooms"`
	Unread         map[string]int `json:"unread,omitempty"`
	PresenceHidden bool           `json:"presenceHidden"`
	TypingHidden   bool           `json:"typingHidden"`
}

// Take builds a snapshot of src.
func Take(profile, userID string, startedAt time.Time, src Source) Snapshot {
	snap := Snapshot{
		Profile:       profile,
		UserID:        userID,
		State:         src.ConnState(),
		UptimeMs:      time.Since(startedAt).Milliseconds(),
		AttachedRooms: src.Attached(),
		Online:        len(src.Online()),
	}
	snap.PresenceHidden, snap.TypingHidden = src.Hidden()
	for _, cat := range src.Tree() {
		snap.Rooms += len(cat.Rooms)
		for _, r := range cat.Rooms {
			if r.Unread > 0 {
				if snap.Unread == nil {
					snap.Unread = make(map[string]int)
				}
				snap.Unread[r.Room.ID] = r.Unread
			}
		}
	}
	return snap
}

// StatusHandler serves Take as JSON.
func StatusHandler(profile, userID string, startedAt time.Time, src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Take(profile, userID, startedAt, src))
	})
}
