package presence

import "time"

// PresenceMessage is anything delivered to the Presence actor's mailbox.
type PresenceMessage struct {
	Kind string // "connect", "disconnect", "activity", "set_status", "get", "sweep_away"

	UserID        string
	Device        string
	Status        Status
	CustomMessage string

	Reply chan Record
}

// PresenceOptions configures auto-away behavior.
type PresenceOptions struct {
	AwayTimeout        time.Duration
	DefaultAwayMessage string
}

// DefaultPresenceOptions mirrors typical auto-away defaults.
func DefaultPresenceOptions() PresenceOptions {
	return PresenceOptions{AwayTimeout: 5 * time.Minute, DefaultAwayMessage: "Away"}
}

// Presence is the single logical actor owning every user's presence
// record. A single goroutine serializes all reads/writes so no record
// needs its own lock.
type Presence struct {
	inbox   chan PresenceMessage
	done    chan struct{}
	records map[string]*Record
	opts    PresenceOptions
}

// NewPresence starts the Presence actor goroutine.
func NewPresence(opts PresenceOptions) *Presence {
	p := &Presence{
		inbox:   make(chan PresenceMessage, 256),
		done:    make(chan struct{}),
		records: make(map[string]*Record),
		opts:    opts,
	}
	go p.run()
	return p
}

// Send enqueues msg onto the Presence actor's mailbox.
func (p *Presence) Send(msg PresenceMessage) {
	select {
	case p.inbox <- msg:
	case <-p.done:
	}
}

// Stop terminates the Presence actor. Idempotent.
func (p *Presence) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *Presence) run() {
	ticker := time.NewTicker(p.opts.AwayTimeout / 2)
	if p.opts.AwayTimeout <= 0 {
		ticker = time.NewTicker(time.Minute)
	}
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweepAutoAway()
		case msg := <-p.inbox:
			p.handle(msg)
		}
	}
}

func (p *Presence) recordFor(userID string) *Record {
	rec, ok := p.records[userID]
	if !ok {
		rec = &Record{UserID: userID, Status: StatusOffline, AutoAwayEnabled: true}
		p.records[userID] = rec
	}
	return rec
}

func (p *Presence) handle(msg PresenceMessage) {
	switch msg.Kind {
	case "connect":
		rec := p.recordFor(msg.UserID)
		rec.ActiveConnections++
		rec.Status = StatusOnline
		rec.LastActivityAt = time.Now()
		if msg.Device != "" {
			rec.DeviceHistory = pushDeviceHistory(rec.DeviceHistory, msg.Device)
		}
		p.reply(msg, *rec)

	case "disconnect":
		rec := p.recordFor(msg.UserID)
		if rec.ActiveConnections > 0 {
			rec.ActiveConnections--
		}
		if rec.ActiveConnections == 0 {
			rec.Status = StatusOffline
			rec.LastSeenAt = time.Now()
		}
		p.reply(msg, *rec)

	case "activity":
		rec := p.recordFor(msg.UserID)
		rec.LastActivityAt = time.Now()
		if rec.Status == StatusAway {
			rec.Status = StatusOnline
			rec.CustomMessage = ""
		}
		p.reply(msg, *rec)

	case "set_status":
		rec := p.recordFor(msg.UserID)
		rec.Status = msg.Status
		rec.CustomMessage = msg.CustomMessage
		p.reply(msg, *rec)

	case "get":
		p.reply(msg, *p.recordFor(msg.UserID))

	case "sweep_away":
		p.sweepAutoAway()
	}
}

func (p *Presence) reply(msg PresenceMessage, rec Record) {
	if msg.Reply != nil {
		msg.Reply <- rec
	}
}

func (p *Presence) sweepAutoAway() {
	now := time.Now()
	for _, rec := range p.records {
		if rec.AutoAwayEnabled && rec.Status == StatusOnline && now.Sub(rec.LastActivityAt) > p.opts.AwayTimeout {
			rec.Status = StatusAway
			rec.CustomMessage = p.opts.DefaultAwayMessage
		}
	}
}

// Get synchronously fetches userID's record through the actor's mailbox.
func (p *Presence) Get(userID string) Record {
	reply := make(chan Record, 1)
	p.Send(PresenceMessage{Kind: "get", UserID: userID, Reply: reply})
	return <-reply
}
