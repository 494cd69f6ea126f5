package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutbox_LatestPerTopicInOrder(t *testing.T) {
	o := newOutbox()
	o.put(outMessage{topic: "a", payload: []byte("1")})
	o.put(outMessage{topic: "b", payload: []byte("1")})
	o.put(outMessage{topic: "a", payload: []byte("2")})

	if o.len() != 2 {
		t.Fatalf("expected 2 queued topics, got %d", o.len())
	}

	m, ok := o.next()
	if !ok || m.topic != "a" || string(m.payload) != "2" {
		t.Errorf("expected latest message for a first, got %+v", m)
	}
	o.done()

	m, ok = o.next()
	if !ok || m.topic != "b" {
		t.Errorf("expected b second, got %+v", m)
	}
	o.done()
}

func TestOutbox_FlushWaitsForInFlight(t *testing.T) {
	o := newOutbox()
	o.put(outMessage{topic: "a"})
	if _, ok := o.next(); !ok {
		t.Fatal("expected a message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected flush to wait for the in-flight message, got %v", err)
	}

	o.done()
	if err := o.flush(context.Background()); err != nil {
		t.Errorf("expected empty flush to succeed, got %v", err)
	}
}

func TestOutbox_Close(t *testing.T) {
	o := newOutbox()
	o.put(outMessage{topic: "a"})
	o.close()
	o.put(outMessage{topic: "b"})

	m, ok := o.next()
	if !ok || m.topic != "a" {
		t.Fatalf("queued message should survive close, got %+v", m)
	}
	o.done()

	if _, ok := o.next(); ok {
		t.Error("expected closed outbox to report no more messages")
	}
}
