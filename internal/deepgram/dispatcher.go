package deepgram

import "sync"

// dispatcher runs posted functions one at a time in posting order on a
// goroutine of its own, so handlers never run inline with Start or Stop.
type dispatcher struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	go d.drain()
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}
