package dispatch

import (
	"context"
	"sync"

	"github.com/saudebot/exam-reminders/pkg/logger"
)

// Dispatcher serializes all work for one identifier while letting distinct
// identifiers proceed independently. A scheduler tick and an inbound message
// for the same patient can therefore never interleave between "mutate in
// memory" and "persist"; a hung send only stalls that identifier's queue.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*queue
	wg     sync.WaitGroup
	closed bool
}

type queue struct {
	mu      sync.Mutex
	items   []func()
	running bool
}

func New() *Dispatcher {
	return &Dispatcher{queues: make(map[string]*queue)}
}

// Do enqueues fn on the identifier's queue, starting a drain goroutine if
// none is running. Enqueueing never blocks. Work submitted after Shutdown is
// dropped; the return value tells the caller whether fn was accepted.
func (d *Dispatcher) Do(id string, fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Warn("dispatcher closed, dropping work", "identifier", id)
		return false
	}
	q, ok := d.queues[id]
	if !ok {
		q = &queue{}
		d.queues[id] = q
	}
	d.wg.Add(1)
	d.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, fn)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go d.drain(id, q)
	}
	return true
}

func (d *Dispatcher) drain(id string, q *queue) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		d.run(id, fn)
		d.wg.Done()
	}
}

func (d *Dispatcher) run(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in dispatched work", "identifier", id, "panic", r)
		}
	}()
	fn()
}

// Shutdown stops accepting work and waits for in-flight work to finish or
// the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
