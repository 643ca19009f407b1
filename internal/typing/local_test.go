package typing

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/privacy"
)

type signal struct {
	roomID string
	typing bool
}

type recorder struct {
	signals []signal
}

func (r *recorder) send(_ context.Context, roomID string, typing bool) error {
	r.signals = append(r.signals, signal{roomID, typing})
	return nil
}

func TestLocalStartAutoStops(t *testing.T) {
	c := clock.NewFake(epoch)
	rec := &recorder{}
	l := NewLocal(c, DefaultTimeout, privacy.New(false, false), rec.send, nil)

	if err := l.Start(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if !l.Pending() || l.Active() != "r1" {
		t.Fatal("auto-stop timer not armed")
	}
	c.Advance(DefaultTimeout)

	want := []signal{{"r1", true}, {"r1", false}}
	if len(rec.signals) != len(want) || rec.signals[0] != want[0] || rec.signals[1] != want[1] {
		t.Errorf("signals = %v, want %v", rec.signals, want)
	}
	if l.Active() != "" {
		t.Error("still active after auto-stop")
	}
}

func TestLocalStartThrottles(t *testing.T) {
	c := clock.NewFake(epoch)
	rec := &recorder{}
	l := NewLocal(c, DefaultTimeout, privacy.New(false, false), rec.send, nil)
	ctx := context.Background()

	_ = l.Start(ctx, "r1")
	c.Advance(500 * time.Millisecond)
	_ = l.Start(ctx, "r1")
	c.Advance(time.Second)
	_ = l.Start(ctx, "r1")

	if len(rec.signals) != 2 {
		t.Errorf("signals = %v, want two typing signals", rec.signals)
	}
	if c.Pending() != 1 {
		t.Errorf("clock timers = %d, want 1", c.Pending())
	}
}

func TestLocalHiddenSendsNothing(t *testing.T) {
	c := clock.NewFake(epoch)
	rec := &recorder{}
	l := NewLocal(c, DefaultTimeout, privacy.New(false, true), rec.send, nil)

	_ = l.Start(context.Background(), "r1")
	c.Advance(time.Minute)

	if len(rec.signals) != 0 {
		t.Errorf("signals = %v, want none", rec.signals)
	}
	if c.Pending() != 0 || l.Pending() {
		t.Error("timer armed while typing is hidden")
	}
}

func TestLocalStopCancelsTimer(t *testing.T) {
	c := clock.NewFake(epoch)
	rec := &recorder{}
	l := NewLocal(c, DefaultTimeout, privacy.New(false, false), rec.send, nil)
	ctx := context.Background()

	_ = l.Start(ctx, "r1")
	_ = l.Stop(ctx)
	_ = l.Stop(ctx)
	c.Advance(time.Minute)

	want := []signal{{"r1", true}, {"r1", false}}
	if len(rec.signals) != len(want) || rec.signals[1] != want[1] {
		t.Errorf("signals = %v, want %v", rec.signals, want)
	}
	if c.Pending() != 0 {
		t.Errorf("clock timers = %d, want 0", c.Pending())
	}
}

func TestLocalSwitchingRoomsStopsPrevious(t *testing.T) {
	c := clock.NewFake(epoch)
	rec := &recorder{}
	l := NewLocal(c, DefaultTimeout, privacy.New(false, false), rec.send, nil)
	ctx := context.Background()

	_ = l.Start(ctx, "r1")
	_ = l.Start(ctx, "r2")

	want := []signal{{"r1", true}, {"r1", false}, {"r2", true}}
	if len(rec.signals) != len(want) {
		t.Fatalf("signals = %v, want %v", rec.signals, want)
	}
	for i := range want {
		if rec.signals[i] != want[i] {
			t.Errorf("signal[%d] = %v, want %v", i, rec.signals[i], want[i])
		}
	}
}
