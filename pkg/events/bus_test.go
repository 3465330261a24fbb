package events

import (
	"testing"
	"time"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	first, unsubFirst := bus.Subscribe(4)
	defer unsubFirst()
	second, unsubSecond := bus.Subscribe(4)
	defer unsubSecond()

	bus.Publish(Change{Key: "system_status", Origin: "tab-a"})

	for i, ch := range []<-chan Change{first, second} {
		select {
		case c := <-ch:
			if c.Key != "system_status" {
				t.Errorf("Subscriber %d: expected key system_status, got %s", i, c.Key)
			}
			if c.At.IsZero() {
				t.Errorf("Subscriber %d: expected timestamp to be stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d did not receive the change", i)
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()

	ch, unsub := bus.Subscribe(1)
	if bus.Subscribers() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", bus.Subscribers())
	}

	unsub()
	unsub() // second call is a no-op

	if _, open := <-ch; open {
		t.Error("Expected channel to be closed after unsubscribe")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.Subscribers())
	}

	// Publishing after unsubscribe must not panic
	bus.Publish(Change{Key: "solved_challenges"})
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()

	_, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Change{Key: "validation_message_1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if bus.Dropped() != 9 {
		t.Errorf("Expected 9 dropped deliveries, got %d", bus.Dropped())
	}
}
