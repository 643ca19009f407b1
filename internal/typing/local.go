package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/privacy"
)

// SignalFunc publishes a typing or stop-typing signal for room.
type SignalFunc func(ctx context.Context, roomID string, typing bool) error

// Local drives the local user's outbound typing signal. Start publishes at
// most once per half timeout and arms an auto-stop timer; both are skipped
// while typing is hidden.
type Local struct {
	clock   clock.Clock
	timeout time.Duration
	guard   *privacy.Guard
	signal  SignalFunc
	logger  *zap.Logger

	mu       sync.Mutex
	roomID   string
	lastSent time.Time
	timer    *clock.Timer
	gen      uint64
}

func NewLocal(clk clock.Clock, timeout time.Duration, guard *privacy.Guard, signal SignalFunc, logger *zap.Logger) *Local {
	if clk == nil {
		clk = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{clock: clk, timeout: timeout, guard: guard, signal: signal, logger: logger}
}

// Start marks the local user as typing in room.
func (l *Local) Start(ctx context.Context, roomID string) error {
	if l.guard.Hidden(privacy.Typing) {
		return nil
	}
	l.mu.Lock()
	prev := l.roomID
	if prev != "" && prev != roomID {
		l.cancelLocked()
	}
	resend := l.roomID != roomID || l.clock.Now().Sub(l.lastSent) >= l.timeout/2
	if l.timer != nil {
		l.timer.Stop()
	}
	l.roomID = roomID
	l.gen++
	gen := l.gen
	l.timer = l.clock.AfterFunc(l.timeout, func() { l.autoStop(gen) })
	if resend {
		l.lastSent = l.clock.Now()
	}
	l.mu.Unlock()

	if prev != "" && prev != roomID {
		_ = l.send(ctx, prev, false)
	}
	if !resend {
		return nil
	}
	_, err := l.guard.Do(privacy.Typing, func() error { return l.signal(ctx, roomID, true) })
	if err != nil {
		l.logger.Debug("typing signal failed", zap.String("room_id", roomID), zap.Error(err))
	}
	return err
}

// Stop ends the local typing signal. Stopping is never gated.
func (l *Local) Stop(ctx context.Context) error {
	l.mu.Lock()
	roomID := l.roomID
	l.cancelLocked()
	l.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return l.send(ctx, roomID, false)
}

// Active returns the room the local user is typing in, if any.
func (l *Local) Active() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}

// Pending reports whether the auto-stop timer is armed.
func (l *Local) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timer != nil
}

func (l *Local) autoStop(gen uint64) {
	l.mu.Lock()
	if l.gen != gen || l.roomID == "" {
		l.mu.Unlock()
		return
	}
	roomID := l.roomID
	l.roomID = ""
	l.timer = nil
	l.lastSent = time.Time{}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_ = l.send(ctx, roomID, false)
}

func (l *Local) cancelLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.roomID = ""
	l.lastSent = time.Time{}
}

func (l *Local) send(ctx context.Context, roomID string, typing bool) error {
	err := l.signal(ctx, roomID, typing)
	if err != nil {
		l.logger.Debug("typing signal failed", zap.String("room_id", roomID), zap.Bool("typing", typing), zap.Error(err))
	}
	return err
}
