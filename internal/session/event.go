package session

// Event is a download event published by a Batch.
type Event interface {
	// Item the event relates to (nil for batch-level events).
	Item() *Item
}

type itemEvent struct {
	item *Item
}

func (e itemEvent) Item() *Item {
	return e.item
}

// ItemStarted fires when an item is admitted and its stream request issued.
type ItemStarted struct {
	itemEvent
}

// ItemProgress fires on the sampled progress cadence while an item is active.
type ItemProgress struct {
	itemEvent
	State ItemState
}

// ItemFinished fires once per item, when it reaches a terminal status.
type ItemFinished struct {
	itemEvent
	State ItemState
}

// BatchFinished fires once, after every item is terminal.
type BatchFinished struct {
	itemEvent
	Snapshot BatchSnapshot
}

// AuthEvent is a session lifecycle event.
type AuthEvent interface {
	authEvent()
}

type LoggedIn struct {
	Username string
	IsAdmin  bool
}

type TokenRefreshed struct{}

// LoggedOut fires on explicit logout and on forced logout after a failed
// refresh.
type LoggedOut struct {
	Forced bool
}

func (LoggedIn) authEvent()       {}
func (TokenRefreshed) authEvent() {}
func (LoggedOut) authEvent()      {}
