// Package presence implements an actor-model connection registry: one
// goroutine per live connection (Session), a global Router holding
// lookup maps, a Manager for lifecycle/metrics, and a Presence actor
// owning per-user presence records.
package presence

import "time"

// ConnectionState enumerates a Session's lifecycle.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateActive     ConnectionState = "active"
	StateIdle       ConnectionState = "idle"
	StateClosing    ConnectionState = "closing"
)

// Connection describes a single live connection as observed by the
// Router; it is a snapshot, not the Session actor itself (the actor owns
// the outbound writer and is never shared across goroutines).
type Connection struct {
	ConnectionID      string
	UserID            string
	SubscribedTopics  []string
	DeviceInfo        map[string]string
	State             ConnectionState
	LastActivityAt    time.Time
}

// Status enumerates PresenceRecord.Status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Record is one user's presence state, owned exclusively by the Presence
// actor.
type Record struct {
	UserID            string
	Status            Status
	CustomMessage     string
	ActiveConnections int
	DeviceHistory     []string // bounded ring, most recent last
	AutoAwayEnabled   bool
	LastActivityAt    time.Time
	LastSeenAt        time.Time
}

const deviceHistoryCap = 10

func pushDeviceHistory(history []string, device string) []string {
	history = append(history, device)
	if len(history) > deviceHistoryCap {
		history = history[len(history)-deviceHistoryCap:]
	}
	return history
}
