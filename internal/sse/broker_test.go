package sse

import (
	"testing"
	"time"
)

func TestSubscribePublishDelivers(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Event: "health", Data: "ok"})

	select {
	case evt := <-ch:
		if evt.Event != "health" || evt.Data != "ok" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Event: "health", Data: "ok"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, open := <-ch
	if open {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestPublishAfterUnsubscribeDoesNotPanic(t *testing.T) {
	b := NewBroker()
	_, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(Event{Event: "health", Data: "ok"})
}

func TestPublishToFullChannelDropsOldestInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 20; i++ {
		b.Publish(Event{Event: "health", Data: "tick"})
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a buffered event, got none")
	}
}

func TestNoSubscribersPublishIsNoop(t *testing.T) {
	b := NewBroker()
	b.Publish(Event{Event: "health", Data: "ok"})
}
