package mqtt

import (
	"context"
	"sync"
)

// outMessage is one queued publish.
type outMessage struct {
	kind     string
	topic    string
	retained bool
	payload  []byte
}

// outbox queues publishes for a single sender goroutine. Only the latest
// message per topic is kept, so a slow or reconnecting broker costs memory
// proportional to the number of topics, not the number of updates.
type outbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	order   []string
	pending map[string]outMessage
	busy    bool
	closed  bool
}

func newOutbox() *outbox {
	o := &outbox{pending: make(map[string]outMessage)}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// put queues m, replacing any queued message for the same topic. It never
// blocks on the broker.
func (o *outbox) put(m outMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, ok := o.pending[m.topic]; !ok {
		o.order = append(o.order, m.topic)
	}
	o.pending[m.topic] = m
	o.cond.Broadcast()
}

// next blocks until a message is queued or the outbox is closed and empty.
func (o *outbox) next() (outMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.order) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.order) == 0 {
		return outMessage{}, false
	}
	topic := o.order[0]
	o.order = o.order[1:]
	m := o.pending[topic]
	delete(o.pending, topic)
	o.busy = true
	return m, true
}

// done marks the message returned by next as sent.
func (o *outbox) done() {
	o.mu.Lock()
	o.busy = false
	o.cond.Broadcast()
	o.mu.Unlock()
}

// flush waits until every queued message was sent or ctx is done.
func (o *outbox) flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})
	defer stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.order) > 0 || o.busy {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.cond.Wait()
	}
	return nil
}

// close stops accepting messages. The sender exits once the queue is empty.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
}

// len returns the number of queued messages.
func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}
