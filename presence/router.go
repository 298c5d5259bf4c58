package presence

import "time"

// RouteKind distinguishes Route message delivery modes.
type RouteKind int

const (
	RouteDirect RouteKind = iota
	RouteTopic
	RouteBroadcast
)

// RouterMessage is anything delivered to the Router actor's mailbox.
// Exactly one payload field is meaningful per message, selected by Kind.
type RouterMessage struct {
	Kind string // "connect", "disconnect", "subscribe", "unsubscribe", "route"

	ConnectionID string
	UserID       string
	Session      *Session
	Topics       []string
	Reason       string

	RouteKind RouteKind
	FromConn  string
	FromUser  string
	ToUser    string
	ToTopic   string
	Message   []byte

	// Reply, if non-nil, receives a RouteResult once the Route message has
	// been processed, so a caller that cares about delivery failures (no
	// recipients found) can observe it without widening this struct.
	Reply chan RouteResult

	// SnapshotReply is used only by Kind == "snapshot".
	SnapshotReply chan connectionSnapshotResult
}

// RouteResult reports the outcome of a Route message.
type RouteResult struct {
	DeliveredTo []string
	Err         error
}

type connEntry struct {
	session *Session
	userID  string
	topics  map[string]bool
}

// Router is the single global actor holding (connection_id -> Session),
// (user_id -> connection_ids), and (topic -> connection_ids). All
// mutations arrive as messages processed one at a time off router.inbox,
// so the maps never need their own lock.
type Router struct {
	inbox chan RouterMessage
	done  chan struct{}

	connections map[string]*connEntry
	byUser      map[string]map[string]bool
	byTopic     map[string]map[string]bool

	onDisconnect func(connectionID, userID string)
}

// NewRouter starts the Router actor goroutine. onDisconnect, if non-nil,
// is invoked on the actor's own goroutine whenever a connection is
// removed, so the Presence actor can decrement active_connections without
// the Router needing to know about presence records.
func NewRouter(onDisconnect func(connectionID, userID string)) *Router {
	r := &Router{
		inbox:        make(chan RouterMessage, 256),
		done:         make(chan struct{}),
		connections:  make(map[string]*connEntry),
		byUser:       make(map[string]map[string]bool),
		byTopic:      make(map[string]map[string]bool),
		onDisconnect: onDisconnect,
	}
	go r.run()
	return r
}

// Send enqueues msg onto the Router's mailbox.
func (r *Router) Send(msg RouterMessage) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	}
}

// Stop terminates the Router actor. Idempotent.
func (r *Router) Stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Router) run() {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.inbox:
			r.handle(msg)
		}
	}
}

func (r *Router) handle(msg RouterMessage) {
	switch msg.Kind {
	case "connect":
		r.handleConnect(msg)
	case "disconnect":
		r.handleDisconnect(msg)
	case "subscribe":
		r.handleSubscribe(msg)
	case "unsubscribe":
		r.handleUnsubscribe(msg)
	case "route":
		r.handleRoute(msg)
	case "snapshot":
		r.handleSnapshot(msg)
	}
}

func (r *Router) handleSnapshot(msg RouterMessage) {
	entry, ok := r.connections[msg.ConnectionID]
	if !ok {
		msg.SnapshotReply <- connectionSnapshotResult{}
		return
	}
	topics := make([]string, 0, len(entry.topics))
	for t := range entry.topics {
		topics = append(topics, t)
	}
	conn := Connection{ConnectionID: msg.ConnectionID, UserID: entry.userID, SubscribedTopics: topics, State: StateActive}
	msg.SnapshotReply <- connectionSnapshotResult{conn: conn, ok: true}
}

func (r *Router) handleConnect(msg RouterMessage) {
	entry := &connEntry{session: msg.Session, userID: msg.UserID, topics: make(map[string]bool)}
	r.connections[msg.ConnectionID] = entry
	if msg.UserID != "" {
		if r.byUser[msg.UserID] == nil {
			r.byUser[msg.UserID] = make(map[string]bool)
		}
		r.byUser[msg.UserID][msg.ConnectionID] = true
	}
}

func (r *Router) handleDisconnect(msg RouterMessage) {
	entry, ok := r.connections[msg.ConnectionID]
	if !ok {
		return
	}
	for topic := range entry.topics {
		if set := r.byTopic[topic]; set != nil {
			delete(set, msg.ConnectionID)
			if len(set) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	if entry.userID != "" {
		if set := r.byUser[entry.userID]; set != nil {
			delete(set, msg.ConnectionID)
			if len(set) == 0 {
				delete(r.byUser, entry.userID)
			}
		}
	}
	delete(r.connections, msg.ConnectionID)
	if r.onDisconnect != nil {
		r.onDisconnect(msg.ConnectionID, entry.userID)
	}
}

func (r *Router) handleSubscribe(msg RouterMessage) {
	entry, ok := r.connections[msg.ConnectionID]
	if !ok {
		return
	}
	for _, topic := range msg.Topics {
		entry.topics[topic] = true
		if r.byTopic[topic] == nil {
			r.byTopic[topic] = make(map[string]bool)
		}
		r.byTopic[topic][msg.ConnectionID] = true
	}
}

func (r *Router) handleUnsubscribe(msg RouterMessage) {
	entry, ok := r.connections[msg.ConnectionID]
	if !ok {
		return
	}
	for _, topic := range msg.Topics {
		delete(entry.topics, topic)
		if set := r.byTopic[topic]; set != nil {
			delete(set, msg.ConnectionID)
			if len(set) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
}

func (r *Router) handleRoute(msg RouterMessage) {
	var targets map[string]bool
	var result RouteResult

	switch msg.RouteKind {
	case RouteDirect:
		targets = r.byUser[msg.ToUser]
		if len(targets) == 0 {
			result.Err = errNoRecipients
		}
	case RouteTopic:
		targets = r.byTopic[msg.ToTopic]
	case RouteBroadcast:
		targets = make(map[string]bool, len(r.connections))
		for id := range r.connections {
			targets[id] = true
		}
	}

	for connID := range targets {
		if connID == msg.FromConn {
			continue
		}
		entry, ok := r.connections[connID]
		if !ok {
			continue
		}
		if entry.session.Deliver(msg.Message) {
			result.DeliveredTo = append(result.DeliveredTo, connID)
		}
	}

	if msg.Reply != nil {
		msg.Reply <- result
	}
}

var errNoRecipients = routeError("presence: no recipients for direct message")

type routeError string

func (e routeError) Error() string { return string(e) }

// ConnectionSnapshot returns a point-in-time view of connID, or false if
// it is not currently registered. Intended for diagnostics/tests; it
// sends through the actor's mailbox like any other operation so it never
// races the maps.
func (r *Router) ConnectionSnapshot(connID string) (Connection, bool) {
	reply := make(chan connectionSnapshotResult, 1)
	r.Send(RouterMessage{Kind: "snapshot", ConnectionID: connID, SnapshotReply: reply})
	select {
	case res := <-reply:
		return res.conn, res.ok
	case <-time.After(5 * time.Second):
		return Connection{}, false
	}
}

type connectionSnapshotResult struct {
	conn Connection
	ok   bool
}
