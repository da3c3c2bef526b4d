package events

import "testing"

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBus[string]()
	var got1, got2 string
	b.Subscribe(func(s string) { got1 = s })
	b.Subscribe(func(s string) { got2 = s })

	b.Publish("conference-started")

	if got1 != "conference-started" || got2 != "conference-started" {
		t.Fatalf("subscribers did not both observe the event: %q, %q", got1, got2)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus[int]()
	count := 0
	token := b.Subscribe(func(n int) { count += n })

	b.Publish(1)
	b.Unsubscribe(token)
	b.Publish(1)

	if count != 1 {
		t.Fatalf("count = %d, want 1 (unsubscribed handler should not fire again)", count)
	}
}

func TestUnsubscribeUnknownTokenIsNoop(t *testing.T) {
	b := NewBus[int]()
	b.Unsubscribe(999)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := NewBus[struct{}]()
	b.Publish(struct{}{})
}
