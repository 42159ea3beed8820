package broadcast

import (
	"testing"
	"time"

	"livequiz-service/internal/domain"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe("111111", Play)
	defer cancelA()
	b, cancelB := hub.Subscribe("111111", Play)
	defer cancelB()

	hub.Publish("111111", Play, domain.NewErrorEvent("ping"))

	for _, ch := range []<-chan domain.Event{a, b} {
		select {
		case ev := <-ch:
			if ev.EventKind() != domain.KindError {
				t.Fatalf("unexpected event kind %q", ev.EventKind())
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	hub := NewHub()

	lobby, cancelLobby := hub.Subscribe("111111", Lobby)
	defer cancelLobby()
	otherPin, cancelOther := hub.Subscribe("222222", Play)
	defer cancelOther()

	hub.Publish("111111", Play, domain.NewErrorEvent("play only"))

	select {
	case ev := <-lobby:
		t.Fatalf("lobby channel received play event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case ev := <-otherPin:
		t.Fatalf("other pin received event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("111111", Play)
	if got := hub.SubscriberCount("111111", Play); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	cancel() // idempotent

	if got := hub.SubscriberCount("111111", Play); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe("111111", Play)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the buffer; publish must never block.
		for i := 0; i < 100; i++ {
			hub.Publish("111111", Play, domain.NewErrorEvent("flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
