package presence

import (
	"testing"
	"time"
)

func connectTestSession(t *testing.T, r *Router, connID, userID string) (*Session, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	sess := NewSession(connID, userID, w, time.Minute, nil)
	r.Send(RouterMessage{Kind: "connect", ConnectionID: connID, UserID: userID, Session: sess})
	return sess, w
}

func TestRouterDirectDeliversToAllUserConnections(t *testing.T) {
	var disconnected []string
	r := NewRouter(func(connID, userID string) { disconnected = append(disconnected, connID) })
	defer r.Stop()

	_, wA1 := connectTestSession(t, r, "a1", "alice")
	_, wA2 := connectTestSession(t, r, "a2", "alice")
	_, wB1 := connectTestSession(t, r, "b1", "bob")

	reply := make(chan RouteResult, 1)
	r.Send(RouterMessage{Kind: "route", RouteKind: RouteDirect, ToUser: "alice", Message: []byte("hi"), Reply: reply})
	res := <-reply
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.DeliveredTo) != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d", len(res.DeliveredTo))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w1, _ := wA1.snapshot()
		w2, _ := wA2.snapshot()
		if len(w1) == 1 && len(w2) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if wb, _ := wB1.snapshot(); len(wb) != 0 {
		t.Fatal("expected bob's connection to receive nothing")
	}
}

func TestRouterDirectNoRecipientsReturnsError(t *testing.T) {
	r := NewRouter(nil)
	defer r.Stop()

	reply := make(chan RouteResult, 1)
	r.Send(RouterMessage{Kind: "route", RouteKind: RouteDirect, ToUser: "nobody", Message: []byte("hi"), Reply: reply})
	res := <-reply
	if res.Err != errNoRecipients {
		t.Fatalf("expected errNoRecipients, got %v", res.Err)
	}
}

func TestRouterTopicExcludesSender(t *testing.T) {
	r := NewRouter(nil)
	defer r.Stop()

	_, w1 := connectTestSession(t, r, "c1", "u1")
	_, w2 := connectTestSession(t, r, "c2", "u2")

	r.Send(RouterMessage{Kind: "subscribe", ConnectionID: "c1", Topics: []string{"room"}})
	r.Send(RouterMessage{Kind: "subscribe", ConnectionID: "c2", Topics: []string{"room"}})

	reply := make(chan RouteResult, 1)
	r.Send(RouterMessage{Kind: "route", RouteKind: RouteTopic, FromConn: "c1", ToTopic: "room", Message: []byte("msg"), Reply: reply})
	res := <-reply
	if len(res.DeliveredTo) != 1 || res.DeliveredTo[0] != "c2" {
		t.Fatalf("expected delivery only to c2, got %v", res.DeliveredTo)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		written, _ := w2.snapshot()
		if len(written) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w1written, _ := w1.snapshot(); len(w1written) != 0 {
		t.Fatal("sender should not receive its own topic message")
	}
}

func TestRouterDisconnectInvokesCallbackAndClearsState(t *testing.T) {
	var gotUser string
	r := NewRouter(func(connID, userID string) { gotUser = userID })
	defer r.Stop()

	connectTestSession(t, r, "d1", "dana")
	r.Send(RouterMessage{Kind: "subscribe", ConnectionID: "d1", Topics: []string{"x"}})
	r.Send(RouterMessage{Kind: "disconnect", ConnectionID: "d1"})

	if _, ok := r.ConnectionSnapshot("d1"); ok {
		t.Fatal("expected connection to be gone after disconnect")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if gotUser == "dana" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected onDisconnect callback to fire with dana")
}
