package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := chat.Message{ID: "m1", TempID: "tmp-1", RoomID: "r1", SenderID: "u1", Text: "hi", CreatedAt: created}

	env, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if env.Name != EventMessage {
		t.Errorf("name = %q, want %q", env.Name, EventMessage)
	}
	got, err := DecodeMessage(env)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.ID != "m1" || got.TempID != "tmp-1" || got.Text != "hi" || !got.CreatedAt.Equal(created) {
		t.Errorf("decoded = %+v", got)
	}
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"no metadata", `{"text":"hi"}`},
		{"metadata not json", `{"text":"hi","metadata":"{nope"}`},
		{"metadata missing id", `{"text":"hi","metadata":"{\"roomId\":\"r1\"}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(Envelope{Name: EventMessage, Data: []byte(tt.data)})
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeMessageFallsBackToPayloadText(t *testing.T) {
	env := Envelope{Name: EventMessage, Data: []byte(`{"text":"hello","metadata":"{\"id\":\"m1\",\"roomId\":\"r1\"}"}`)}
	msg, err := DecodeMessage(env)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("text = %q, want hello", msg.Text)
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope("presence", []byte(`{"name":"enter","clientId":"u1","data":{"userId":"u1"}}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Channel != "presence" || env.ClientID != "u1" {
		t.Errorf("env = %+v", env)
	}
	if _, err := parseEnvelope("presence", []byte(`{"data":{}}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing name err = %v, want ErrMalformed", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := backoff(100*time.Millisecond, time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
