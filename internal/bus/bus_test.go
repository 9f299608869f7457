package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: "conn.frame", Timestamp: time.Now(), Payload: "auth_success:{}"})

	select {
	case evt := <-ch:
		if evt.Kind != "conn.frame" {
			t.Errorf("kind = %q, want conn.frame", evt.Kind)
		}
		if evt.Payload.(string) != "auth_success:{}" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	connCh, unsub1 := b.Subscribe("conn.", 10)
	defer unsub1()
	msgCh, unsub2 := b.Subscribe("message.", 10)
	defer unsub2()

	b.Publish(Event{Kind: "message.upserted"})

	select {
	case <-msgCh:
	case <-time.After(time.Second):
		t.Fatal("message. subscriber should receive message.upserted")
	}

	select {
	case evt := <-connCh:
		t.Errorf("conn. subscriber received %q, want nothing", evt.Kind)
	default:
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 1)
	defer unsub()

	// Publishing past the buffer must not block even though nobody is
	// draining, and the newest event must survive.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "conn.frame", Payload: "one"})
		b.Publish(Event{Kind: "conn.frame", Payload: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	evt := <-ch
	if evt.Payload.(string) != "two" {
		t.Errorf("payload = %v, want two (oldest event evicted)", evt.Payload)
	}

	select {
	case evt := <-ch:
		t.Errorf("received %v, want empty buffer", evt.Payload)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()

	b.Publish(Event{Kind: "conn.frame"})

	select {
	case evt := <-ch:
		t.Errorf("received %q after unsubscribe", evt.Kind)
	default:
	}
}
