package pubsub

import "testing"

func TestPublishOrder(t *testing.T) {
	b := NewBus[int]()
	var got []string

	b.Subscribe(func(n int) { got = append(got, "first") })
	b.Subscribe(func(n int) { got = append(got, "second") })
	b.Publish(1)

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("handlers ran as %v, want subscription order", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus[string]()
	calls := 0

	unsub := b.Subscribe(func(string) { calls++ })
	b.Publish("a")
	unsub()
	b.Publish("b")

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after unsubscribe, want 0", b.Len())
	}

	// Double unsubscribe is a no-op.
	unsub()
}

func TestUnsubscribeOne(t *testing.T) {
	b := NewBus[int]()
	var a, c int

	unsubA := b.Subscribe(func(int) { a++ })
	b.Subscribe(func(int) { c++ })

	unsubA()
	b.Publish(1)

	if a != 0 {
		t.Error("removed subscriber still called")
	}
	if c != 1 {
		t.Error("remaining subscriber not called")
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := NewBus[struct{}]()
	b.Publish(struct{}{}) // must not panic
}
