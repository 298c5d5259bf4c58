package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ManagerOptions configures the lifecycle glue between Router and
// Presence.
type ManagerOptions struct {
	ClientTimeout time.Duration
	Presence      PresenceOptions
}

// DefaultManagerOptions mirrors a typical idle-disconnect window.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{ClientTimeout: 90 * time.Second, Presence: DefaultPresenceOptions()}
}

// Manager is the public entry point for the presence subsystem: it wires
// a Router and a Presence actor together so a disconnecting Session
// decrements the right user's active connection count, and exposes the
// operations a connection-handling goroutine actually needs (Connect,
// Disconnect, Subscribe, Route, Ping).
type Manager struct {
	opts     ManagerOptions
	router   *Router
	presence *Presence
}

// NewManager wires a fresh Router and Presence actor together.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{opts: opts}
	m.presence = NewPresence(opts.Presence)
	m.router = NewRouter(m.handleDisconnect)
	return m
}

func (m *Manager) handleDisconnect(connectionID, userID string) {
	if userID == "" {
		return
	}
	m.presence.Send(PresenceMessage{Kind: "disconnect", UserID: userID})
}

// Connect registers a new live connection, starting its own Session
// actor over writer, and returns the Session so the caller can push
// inbound frames into it via Deliver.
func (m *Manager) Connect(ctx context.Context, userID, device string, writer OutboundWriter) *Session {
	connID := uuid.NewString()
	sess := NewSession(connID, userID, writer, m.opts.ClientTimeout, m.onSessionIdle)
	m.router.Send(RouterMessage{Kind: "connect", ConnectionID: connID, UserID: userID, Session: sess})
	m.presence.Send(PresenceMessage{Kind: "connect", UserID: userID, Device: device})
	return sess
}

func (m *Manager) onSessionIdle(sessionID string) {
	m.router.Send(RouterMessage{Kind: "disconnect", ConnectionID: sessionID, Reason: "idle_timeout"})
}

// Disconnect tears down a connection explicitly (as opposed to idle
// timeout, which Session triggers itself).
func (m *Manager) Disconnect(connID string) {
	m.router.Send(RouterMessage{Kind: "disconnect", ConnectionID: connID})
}

// Subscribe adds topic subscriptions for a live connection.
func (m *Manager) Subscribe(connID string, topics ...string) {
	m.router.Send(RouterMessage{Kind: "subscribe", ConnectionID: connID, Topics: topics})
}

// Unsubscribe removes topic subscriptions for a live connection.
func (m *Manager) Unsubscribe(connID string, topics ...string) {
	m.router.Send(RouterMessage{Kind: "unsubscribe", ConnectionID: connID, Topics: topics})
}

// RouteDirect delivers message to every live connection of toUser,
// excluding fromConn, and reports whether any recipient actually
// received it.
func (m *Manager) RouteDirect(fromConn, toUser string, message []byte) RouteResult {
	return m.route(RouterMessage{Kind: "route", RouteKind: RouteDirect, FromConn: fromConn, ToUser: toUser, Message: message})
}

// RouteTopic delivers message to every connection subscribed to toTopic,
// excluding fromConn.
func (m *Manager) RouteTopic(fromConn, toTopic string, message []byte) RouteResult {
	return m.route(RouterMessage{Kind: "route", RouteKind: RouteTopic, FromConn: fromConn, ToTopic: toTopic, Message: message})
}

// RouteBroadcast delivers message to every live connection, excluding
// fromConn.
func (m *Manager) RouteBroadcast(fromConn string, message []byte) RouteResult {
	return m.route(RouterMessage{Kind: "route", RouteKind: RouteBroadcast, FromConn: fromConn, Message: message})
}

func (m *Manager) route(msg RouterMessage) RouteResult {
	reply := make(chan RouteResult, 1)
	msg.Reply = reply
	m.router.Send(msg)
	select {
	case res := <-reply:
		return res
	case <-time.After(5 * time.Second):
		return RouteResult{Err: errNoRecipients}
	}
}

// Ping records activity for userID, reversing an auto-away transition if
// one has occurred.
func (m *Manager) Ping(userID string) Record {
	reply := make(chan Record, 1)
	m.presence.Send(PresenceMessage{Kind: "activity", UserID: userID, Reply: reply})
	return <-reply
}

// SetStatus overrides a user's presence status (e.g. explicit "busy").
func (m *Manager) SetStatus(userID string, status Status, customMessage string) Record {
	reply := make(chan Record, 1)
	m.presence.Send(PresenceMessage{Kind: "set_status", UserID: userID, Status: status, CustomMessage: customMessage, Reply: reply})
	return <-reply
}

// PresenceOf returns userID's current presence record.
func (m *Manager) PresenceOf(userID string) Record {
	return m.presence.Get(userID)
}

// Snapshot returns a point-in-time view of connID as seen by the Router.
func (m *Manager) Snapshot(connID string) (Connection, bool) {
	return m.router.ConnectionSnapshot(connID)
}

// Close stops both actors. Idempotent.
func (m *Manager) Close() {
	m.router.Stop()
	m.presence.Stop()
}
