package presence

import (
	"context"
	"sync/atomic"
	"time"
)

// OutboundWriter delivers a single message to the connection's underlying
// transport (e.g. a WebSocket write). Session owns exactly one writer and
// is the only goroutine that calls it, so writers need not be
// goroutine-safe themselves.
type OutboundWriter interface {
	Write(ctx context.Context, message []byte) error
	Close() error
}

// SessionMessage is anything delivered to a Session's mailbox.
type SessionMessage struct {
	Kind    string // "deliver", "ping", "close"
	Payload []byte
}

// Session is one live connection's actor: single-threaded cooperative
// processing of its own mailbox, so messages to one recipient are
// delivered in send order with no cross-session synchronization needed.
type Session struct {
	ID     string
	UserID string

	inbox  chan SessionMessage
	writer OutboundWriter
	done   chan struct{}

	lastActivity  atomic.Int64 // unix nanos, read/written across goroutines
	clientTimeout time.Duration
	onIdleTimeout func(sessionID string)
}

// NewSession starts a Session actor goroutine writing through writer. The
// caller must call Stop to terminate it.
func NewSession(id, userID string, writer OutboundWriter, clientTimeout time.Duration, onIdleTimeout func(sessionID string)) *Session {
	s := &Session{
		ID:            id,
		UserID:        userID,
		inbox:         make(chan SessionMessage, 64),
		writer:        writer,
		done:          make(chan struct{}),
		clientTimeout: clientTimeout,
		onIdleTimeout: onIdleTimeout,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	go s.run()
	return s
}

func (s *Session) run() {
	timeout := s.clientTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.done:
			s.writer.Close()
			return
		case <-timer.C:
			if s.onIdleTimeout != nil {
				s.onIdleTimeout(s.ID)
			}
			s.writer.Close()
			return
		case msg, ok := <-s.inbox:
			if !ok {
				s.writer.Close()
				return
			}
			s.lastActivity.Store(time.Now().UnixNano())
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)

			switch msg.Kind {
			case "close":
				s.writer.Close()
				return
			default:
				s.writer.Write(ctx, msg.Payload)
			}
		}
	}
}

// Deliver enqueues a message onto the session's mailbox. It never blocks
// indefinitely on a wedged session; callers drop rather than stall the
// sender's own goroutine on a full mailbox.
func (s *Session) Deliver(payload []byte) bool {
	select {
	case s.inbox <- SessionMessage{Kind: "deliver", Payload: payload}:
		return true
	default:
		return false
	}
}

// Stop terminates the session's actor goroutine. Idempotent.
func (s *Session) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// LastActivity reports the last time the session processed a message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}
