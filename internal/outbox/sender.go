// Package outbox runs the optimistic send pipeline: a pending message is
// shown immediately, created through the message API, then either confirmed
// and broadcast to the room or rolled back.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/messages"
	"github.com/matheus3301/roomsync/internal/metrics"
	"go.uber.org/zap"
)

// ErrSendFailed wraps every error returned by Send.
var ErrSendFailed = errors.New("send failed")

// MessageAPI creates messages on the server and returns the canonical record.
type MessageAPI interface {
	CreateMessage(ctx context.Context, draft chat.Message) (chat.Message, error)
}

// Log records outgoing messages. *store.DB implements it.
type Log interface {
	QueueOutbox(ctx context.Context, tempID, roomID, body string) error
	MarkOutboxSending(ctx context.Context, tempID string) error
	MarkOutboxSent(ctx context.Context, tempID, serverMsgID string) error
	MarkOutboxFailed(ctx context.Context, tempID, errMsg string) error
	PruneOutbox(ctx context.Context, before time.Time) (int64, error)
}

// BroadcastFunc publishes a confirmed message to the room's realtime channel.
type BroadcastFunc func(ctx context.Context, msg chat.Message) error

// Result is the payload of send ack and failure events.
type Result struct {
	RoomID    string
	TempID    string
	MessageID string
	Err       string
}

// Sender sends messages for one client.
type Sender struct {
	api       MessageAPI
	msgs      *messages.Store
	log       Log
	broadcast BroadcastFunc
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	clk       clock.Clock
	cancel    context.CancelFunc
}

// NewSender creates a sender. log and broadcast may be nil.
func NewSender(api MessageAPI, msgs *messages.Store, log Log, broadcast BroadcastFunc, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		api:       api,
		msgs:      msgs,
		log:       log,
		broadcast: broadcast,
		bus:       b,
		metrics:   m,
		logger:    logger,
		clk:       clock.Real(),
	}
}

// WithClock sets the clock that drives outbox pruning.
func (s *Sender) WithClock(c clock.Clock) *Sender {
	if c != nil {
		s.clk = c
	}
	return s
}

// Send appends draft optimistically to its room and creates it on the
// server. On success the pending entry is replaced by the canonical message,
// which is returned. On failure the pending entry is removed.
func (s *Sender) Send(ctx context.Context, draft chat.Message) (chat.Message, error) {
	if draft.RoomID == "" {
		return chat.Message{}, fmt.Errorf("%w: missing room id", ErrSendFailed)
	}
	pending := s.msgs.AppendOptimistic(draft.RoomID, draft)
	s.upserted(pending.RoomID, pending.ID)

	if s.log != nil {
		if err := s.log.QueueOutbox(ctx, pending.TempID, pending.RoomID, pending.Text); err != nil {
			s.logger.Warn("failed to queue outbox entry", zap.Error(err), zap.String("temp_id", pending.TempID))
		}
		_ = s.log.MarkOutboxSending(ctx, pending.TempID)
	}

	confirmed, err := s.api.CreateMessage(ctx, pending)
	if err == nil && confirmed.ID == "" {
		err = errors.New("server returned no message id")
	}
	if err != nil {
		s.fail(ctx, pending, err)
		return chat.Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if confirmed.TempID == "" {
		confirmed.TempID = pending.TempID
	}
	confirmed.RoomID = pending.RoomID

	s.msgs.ApplyConfirmed(confirmed.RoomID, confirmed)
	s.upserted(confirmed.RoomID, confirmed.ID)

	if s.broadcast != nil {
		// The message exists server-side either way; peers pick it up on
		// their next history load.
		if err := s.broadcast(ctx, confirmed); err != nil {
			s.logger.Warn("failed to broadcast message", zap.Error(err), zap.String("message_id", confirmed.ID))
		}
	}
	if s.log != nil {
		if err := s.log.MarkOutboxSent(ctx, pending.TempID, confirmed.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("temp_id", pending.TempID))
		}
	}

	s.logger.Info("message sent", zap.String("temp_id", pending.TempID), zap.String("message_id", confirmed.ID))
	s.bus.Publish(bus.Event{
		Kind:    bus.MessageSendAck,
		Payload: Result{RoomID: confirmed.RoomID, TempID: pending.TempID, MessageID: confirmed.ID},
	})
	return confirmed, nil
}

func (s *Sender) fail(ctx context.Context, pending chat.Message, cause error) {
	s.logger.Error("failed to send message", zap.Error(cause), zap.String("temp_id", pending.TempID))
	if s.msgs.Rollback(pending.RoomID, pending.TempID) {
		s.upserted(pending.RoomID, pending.TempID)
	}
	if s.log != nil {
		_ = s.log.MarkOutboxFailed(context.WithoutCancel(ctx), pending.TempID, cause.Error())
	}
	s.metrics.SendFailed()
	s.bus.Publish(bus.Event{
		Kind:    bus.MessageSendFailed,
		Payload: Result{RoomID: pending.RoomID, TempID: pending.TempID, Err: cause.Error()},
	})
}

func (s *Sender) upserted(roomID, messageID string) {
	s.bus.Publish(bus.Event{
		Kind:    bus.MessageUpserted,
		Payload: bus.RoomRef{RoomID: roomID, MessageID: messageID},
	})
}

// Start begins pruning delivered outbox entries older than retain.
func (s *Sender) Start(ctx context.Context, interval, retain time.Duration) {
	if s.log == nil || interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx, interval, retain)
}

// Stop stops the prune loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context, interval, retain time.Duration) {
	for {
		select {
		case <-s.clk.After(interval):
			n, err := s.log.PruneOutbox(ctx, s.clk.Now().Add(-retain))
			if err != nil {
				s.logger.Error("failed to prune outbox", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("pruned outbox", zap.Int64("entries", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
