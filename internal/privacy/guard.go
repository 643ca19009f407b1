// Package privacy holds the per-user opt-outs for presence and typing
// broadcasts. Every presence or typing publish goes through Guard.Do.
package privacy

import "sync/atomic"

// Kind is a class of outbound side effect a user can opt out of.
type Kind int

const (
	Presence Kind = iota
	Typing
)

func (k Kind) String() string {
	switch k {
	case Presence:
		return "presence"
	case Typing:
		return "typing"
	default:
		return "unknown"
	}
}

// Guard gates outbound presence and typing publishes.
type Guard struct {
	presenceHidden atomic.Bool
	typingHidden   atomic.Bool
}

func New(presenceHidden, typingHidden bool) *Guard {
	g := &Guard{}
	g.presenceHidden.Store(presenceHidden)
	g.typingHidden.Store(typingHidden)
	return g
}

// Hidden reports whether the user opted out of kind.
func (g *Guard) Hidden(k Kind) bool {
	switch k {
	case Presence:
		return g.presenceHidden.Load()
	case Typing:
		return g.typingHidden.Load()
	}
	return false
}

// SetHidden updates the opt-out for kind and returns the previous value.
func (g *Guard) SetHidden(k Kind, hidden bool) bool {
	switch k {
	case Presence:
		return g.presenceHidden.Swap(hidden)
	case Typing:
		return g.typingHidden.Swap(hidden)
	}
	return false
}

// Do runs publish unless the user opted out of kind. A refused publish is
// not an error. It reports whether publish ran.
func (g *Guard) Do(k Kind, publish func() error) (bool, error) {
	if g.Hidden(k) {
		return false, nil
	}
	return true, publish()
}
