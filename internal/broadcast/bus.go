// Package broadcast carries login/logout notifications between tabs.
//
// A notification is a wake-up cue, never ground truth: subscribers re-derive
// their session state from shared storage when one arrives, because delivery
// is asynchronous and unordered relative to each tab's own state changes.
package broadcast

import (
	"context"
	"time"
)

// Action is the kind of session change being announced.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// Event is the payload published on a session change.
type Event struct {
	Action    Action    `json:"action"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler consumes events published by other tabs. Depending on the bus a
// tab may also receive its own events; callers filter by ClientID.
type Handler func(Event)

// Bus is the cross-tab notification channel.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers handler until ctx is cancelled.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
