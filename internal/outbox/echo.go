package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/roomsync/internal/chat"
)

// EchoAPI confirms every draft locally with a fresh id. It stands in for the
// message service in offline mode.
type EchoAPI struct {
	Now func() time.Time
}

func (e EchoAPI) CreateMessage(ctx context.Context, draft chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	msg := draft.Clone()
	msg.ID = uuid.NewString()
	msg.CreatedAt = now().UTC()
	return msg, nil
}
