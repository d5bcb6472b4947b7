package events

import "testing"

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(TopicMatchFinished, func(Event) { order = append(order, "first") })
	bus.Subscribe(TopicMatchFinished, func(Event) { order = append(order, "second") })

	bus.Publish(Event{Topic: TopicMatchFinished, Match: &MatchResult{MatchID: "m-1", Winner: "alice"}})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected ordered delivery, got %v", order)
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus()
	var finished, canceled int
	bus.Subscribe(TopicMatchFinished, func(Event) { finished++ })
	bus.Subscribe(TopicMatchCanceled, func(Event) { canceled++ })

	bus.Publish(Event{Topic: TopicMatchCanceled, Match: &MatchResult{MatchID: "m-1"}})

	if finished != 0 {
		t.Fatalf("finished handler should not fire for canceled topic")
	}
	if canceled != 1 {
		t.Fatalf("expected 1 canceled delivery, got %d", canceled)
	}
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	bus := NewBus()
	var calls int
	sub := bus.Subscribe(TopicMatchFinished, func(Event) { calls++ })
	other := bus.Subscribe(TopicMatchFinished, func(Event) { calls += 10 })

	sub.Cancel()
	sub.Cancel()

	bus.Publish(Event{Topic: TopicMatchFinished})
	if calls != 10 {
		t.Fatalf("expected only the surviving handler to run, calls=%d", calls)
	}

	other.Cancel()
	other.Cancel()
	bus.Publish(Event{Topic: TopicMatchFinished})
	if calls != 10 {
		t.Fatalf("expected no handlers after cancel, calls=%d", calls)
	}
}

func TestCancelFromInsideHandler(t *testing.T) {
	bus := NewBus()
	var calls int
	var sub *Subscription
	sub = bus.Subscribe(TopicMatchFinished, func(Event) {
		calls++
		sub.Cancel()
	})

	bus.Publish(Event{Topic: TopicMatchFinished})
	bus.Publish(Event{Topic: TopicMatchFinished})

	if calls != 1 {
		t.Fatalf("handler should only fire before its own cancel, calls=%d", calls)
	}
}
