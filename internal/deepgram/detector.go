package deepgram

import (
	"sync"
	"time"
)

// silenceDetector fires once when no speech was heard for the timeout.
// Speech re-arms it.
type silenceDetector struct {
	timeout  time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	onSilent func()
	stopped  bool
}

func newSilenceDetector(timeout time.Duration, onSilent func()) *silenceDetector {
	if timeout <= 0 {
		timeout = DefaultNoSpeechTimeout
	}
	return &silenceDetector{timeout: timeout, onSilent: onSilent}
}

func (d *silenceDetector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.stopped = true
		d.timer = nil
		callback := d.onSilent
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
}

func (d *silenceDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
