package ui

// MenuHint is one key shown in the header menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // digit jumps, drawn in NumericKeyColor
}

// Component is a page of the TUI. Name is what the crumbs show for it.
type Component interface {
	Name() string
	Init()
	Start()
	Stop()
	Hints() []MenuHint
}

// Badger is implemented by pages whose crumb carries a count, like the
// unread total on the room list.
type Badger interface {
	Badge() int
}
