package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/status"
)

// RedisOptions tunes the health loop and buffering of the Redis transport.
type RedisOptions struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// MaxAttempts is the number of failed reconnect attempts before the
	// transport reports FAILED and stops retrying. Zero retries forever.
	MaxAttempts int
	Buffer      int
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 5 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = 30 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	return o
}

// Redis is a Transport over Redis pub/sub. The full presence set lives in
// the PresenceMembersKey hash next to the presence channel.
type Redis struct {
	client  *redis.Client
	machine *status.Machine
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    RedisOptions

	userEvents     chan Envelope
	presenceEvents chan Envelope
	quit           chan struct{}

	mu         sync.Mutex
	identity   chat.Identity
	rooms      map[string]*RoomChannel
	base       *redis.PubSub
	cancel     context.CancelFunc
	watchStops []func()
	started    bool
	closed     bool
	wg         sync.WaitGroup
}

// NewRedis creates a Redis transport. The client is owned by the caller.
func NewRedis(client *redis.Client, machine *status.Machine, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger, opts RedisOptions) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	opts = opts.withDefaults()
	return &Redis{
		client:         client,
		machine:        machine,
		clock:          clk,
		logger:         logger,
		metrics:        m,
		opts:           opts,
		userEvents:     make(chan Envelope, opts.Buffer),
		presenceEvents: make(chan Envelope, opts.Buffer),
		quit:           make(chan struct{}),
		rooms:          make(map[string]*RoomChannel),
	}
}

func (r *Redis) Connect(ctx context.Context, identity chat.Identity) (<-chan status.State, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	states, stop := r.machine.Watch(16)
	r.watchStops = append(r.watchStops, stop)
	if r.started && r.machine.Current() != status.Failed {
		r.mu.Unlock()
		return states, nil
	}
	r.identity = identity
	r.mu.Unlock()

	if err := r.machine.Transition(status.Connecting); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	up := r.ping(ctx) == nil

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		if err := r.subscribeBase(ctx, up); err != nil {
			r.logger.Warn("base subscription not confirmed", zap.Error(err))
			up = false
		}
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.healthLoop(loopCtx)

	if up {
		_ = r.machine.Transition(status.Connected)
		r.logger.Info("redis transport connected", zap.String("user_id", identity.UserID))
	} else {
		_ = r.machine.Transition(status.Disconnected)
		r.logger.Warn("redis unreachable, retrying in background", zap.String("user_id", identity.UserID))
	}
	return states, nil
}

// subscribeBase subscribes to the user and presence channels. go-redis
// resubscribes this PubSub on its own after a reconnect. Must hold r.mu.
func (r *Redis) subscribeBase(ctx context.Context, confirm bool) error {
	userChannel := UserChannel(r.identity.UserID)
	sub := r.client.Subscribe(ctx, userChannel, PresenceChannel)
	r.base = sub

	var err error
	if confirm {
		err = awaitSubscriptions(ctx, sub, 2)
	}
	msgs := sub.Channel(redis.WithChannelSize(r.opts.Buffer))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range msgs {
			env, perr := parseEnvelope(msg.Channel, []byte(msg.Payload))
			if perr != nil {
				r.logger.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(perr))
				r.metrics.Malformed(sourceOf(msg.Channel, userChannel))
				continue
			}
			out := r.presenceEvents
			if msg.Channel == userChannel {
				out = r.userEvents
			}
			select {
			case out <- env:
			case <-r.quit:
				return
			}
		}
	}()
	return err
}

func awaitSubscriptions(ctx context.Context, sub *redis.PubSub, n int) error {
	for i := 0; i < n; i++ {
		msg, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		if _, ok := msg.(*redis.Subscription); !ok {
			return fmt.Errorf("unexpected reply %T while subscribing", msg)
		}
	}
	return nil
}

func sourceOf(channel, userChannel string) string {
	switch channel {
	case userChannel:
		return "user"
	case PresenceChannel:
		return "presence"
	default:
		return "room"
	}
}

func (r *Redis) AttachRoom(ctx context.Context, roomID string) (*RoomChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if ch, ok := r.rooms[roomID]; ok {
		return ch, nil
	}
	if r.machine.Current() != status.Connected {
		return nil, ErrNotConnected
	}

	sub := r.client.Subscribe(ctx, RoomMessagesChannel(roomID), RoomTypingChannel(roomID))
	if err := awaitSubscriptions(ctx, sub, 2); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("attach room %s: %w", roomID, err)
	}

	ch := newRoomChannel(roomID, r.identity.UserID, r.opts.Buffer, r.publish)
	done := make(chan struct{})
	ch.release = func() {
		close(done)
		_ = sub.Close()
	}
	msgs := sub.Channel(redis.WithChannelSize(r.opts.Buffer))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(ch.events)
		for msg := range msgs {
			env, err := parseEnvelope(msg.Channel, []byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
				r.metrics.Malformed("room")
				continue
			}
			select {
			case ch.events <- env:
			case <-done:
				return
			}
		}
	}()

	r.rooms[roomID] = ch
	r.metrics.SetAttachedRooms(len(r.rooms))
	r.logger.Debug("room attached", zap.String("room_id", roomID))
	return ch, nil
}

func (r *Redis) DetachRoom(roomID string) {
	r.mu.Lock()
	ch, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.metrics.SetAttachedRooms(len(r.rooms))
	r.mu.Unlock()
	if ok {
		ch.close()
		r.logger.Debug("room detached", zap.String("room_id", roomID))
	}
}

func (r *Redis) UserEvents() <-chan Envelope { return r.userEvents }

func (r *Redis) PresenceEvents() <-chan Envelope { return r.presenceEvents }

func (r *Redis) PublishPresence(ctx context.Context, env Envelope) error {
	if r.machine.Current() != status.Connected {
		return ErrNotConnected
	}
	var p PresencePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if env.ClientID == "" {
		env.ClientID = p.UserID
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if env.Name == EventLeave {
			pipe.HDel(ctx, PresenceMembersKey, p.UserID)
		} else {
			pipe.HSet(ctx, PresenceMembersKey, p.UserID, string(env.Data))
		}
		pipe.Publish(ctx, PresenceChannel, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish presence %s: %w", env.Name, err)
	}
	return nil
}

func (r *Redis) PresenceMembers(ctx context.Context) ([]chat.PresenceEntry, error) {
	vals, err := r.client.HGetAll(ctx, PresenceMembersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}
	entries := make([]chat.PresenceEntry, 0, len(vals))
	for userID, raw := range vals {
		var p PresencePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			r.logger.Warn("skipping malformed presence record", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		p.UserID = userID
		entries = append(entries, p.Entry())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries, nil
}

func (r *Redis) Disconnect() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	rooms := r.rooms
	r.rooms = make(map[string]*RoomChannel)
	base := r.base
	cancel := r.cancel
	stops := r.watchStops
	r.watchStops = nil
	r.mu.Unlock()

	for _, ch := range rooms {
		ch.close()
	}
	var err error
	if base != nil {
		err = base.Close()
	}
	if cancel != nil {
		cancel()
	}
	close(r.quit)
	r.wg.Wait()
	close(r.userEvents)
	close(r.presenceEvents)

	_ = r.machine.Transition(status.Idle)
	for _, stop := range stops {
		stop()
	}
	r.metrics.SetAttachedRooms(0)
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (r *Redis) publish(ctx context.Context, channel string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Name, err)
	}
	if err := r.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", env.Name, channel, err)
	}
	return nil
}

func (r *Redis) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.PingTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// healthLoop pings Redis while connected and drives reconnection with
// exponential backoff after a drop.
func (r *Redis) healthLoop(ctx context.Context) {
	defer r.wg.Done()
	attempt := 0
	for {
		wait := r.opts.PingInterval
		if r.machine.Current() != status.Connected {
			wait = backoff(r.opts.BackoffMin, r.opts.BackoffMax, attempt)
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(wait):
		}

		if r.machine.Current() == status.Connected {
			if err := r.ping(ctx); err != nil && ctx.Err() == nil {
				r.drop(err)
				attempt = 0
			}
			continue
		}

		if err := r.machine.Transition(status.Connecting); err != nil {
			r.logger.Warn("reconnect skipped", zap.Error(err))
			continue
		}
		err := r.ping(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			_ = r.machine.Transition(status.Connected)
			r.metrics.Reconnected()
			r.logger.Info("redis transport reconnected")
			continue
		}
		attempt++
		if r.opts.MaxAttempts > 0 && attempt >= r.opts.MaxAttempts {
			_ = r.machine.Transition(status.Failed)
			r.logger.Error("giving up on redis", zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		_ = r.machine.Transition(status.Disconnected)
		r.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// drop invalidates every room handle before reporting DISCONNECTED so a
// caller reacting to the next CONNECTED never receives a stale handle.
func (r *Redis) drop(cause error) {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*RoomChannel)
	r.mu.Unlock()

	for _, ch := range rooms {
		ch.close()
	}
	r.metrics.SetAttachedRooms(0)
	_ = r.machine.Transition(status.Disconnected)
	r.logger.Warn("redis connection lost", zap.Int("stale_rooms", len(rooms)), zap.Error(cause))
}

func backoff(min, max time.Duration, attempt int) time.Duration {
	d := min
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

var _ Transport = (*Redis)(nil)
