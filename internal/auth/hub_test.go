package auth

import (
	"testing"

	"github.com/hitoshi/sellerdesk/internal/model"
)

func TestHub_PublishInSubscriptionOrder(t *testing.T) {
	hub := NewHub()
	var order []string

	hub.Subscribe(func(ev model.AuthEvent) { order = append(order, "first") })
	hub.Subscribe(func(ev model.AuthEvent) { order = append(order, "second") })

	hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	var calls int

	unsubscribe := hub.Subscribe(func(ev model.AuthEvent) { calls++ })
	unsubscribe()
	unsubscribe()

	hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut})

	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if hub.size() != 0 {
		t.Errorf("size() = %d, want 0", hub.size())
	}
}

func TestHub_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	hub := NewHub()
	var unsubscribe func()
	var calls int
	unsubscribe = hub.Subscribe(func(ev model.AuthEvent) {
		calls++
		unsubscribe()
	})

	hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn})
	hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHub_HandlersReceiveIndependentSessions(t *testing.T) {
	hub := NewHub()
	sess := &model.Session{AccessToken: "a", User: model.SessionUser{ID: "u1"}}

	hub.Subscribe(func(ev model.AuthEvent) { ev.Session.AccessToken = "mutated" })
	var seen string
	hub.Subscribe(func(ev model.AuthEvent) { seen = ev.Session.AccessToken })

	hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn, Session: sess})

	if seen != "a" {
		t.Errorf("second handler saw %q, want a", seen)
	}
	if sess.AccessToken != "a" {
		t.Errorf("publisher session mutated to %q", sess.AccessToken)
	}
}
