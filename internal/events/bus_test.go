package events

import (
	"testing"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Kind: KindQueued, DownloadID: domain.DownloadId(1)})

	select {
	case ev := <-ch:
		if ev.Kind != KindQueued || ev.DownloadID != domain.DownloadId(1) {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus()
	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(Event{Kind: KindComplete})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != KindComplete {
				t.Fatalf("got %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}

	// Publishing after everyone unsubscribed must not panic.
	bus.Publish(Event{Kind: KindFailed})
}

func TestPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	bus := NewBus()
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			bus.Publish(Event{Kind: KindDownloadProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked despite a full, unread subscriber buffer")
	}
}
