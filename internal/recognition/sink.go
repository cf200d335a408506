package recognition

import "time"

// LifecycleKind identifies a diagnostic lifecycle event.
type LifecycleKind string

const (
	LifecycleSessionStarted      LifecycleKind = "session_started"
	LifecycleSessionEnded        LifecycleKind = "session_ended"
	LifecycleError               LifecycleKind = "error"
	LifecycleStartFailed         LifecycleKind = "start_failed"
	LifecycleRestartScheduled    LifecycleKind = "restart_scheduled"
	LifecycleRestartAttempted    LifecycleKind = "restart_attempted"
	LifecycleRestartExhausted    LifecycleKind = "restart_exhausted"
	LifecycleTranscriptCommitted LifecycleKind = "transcript_committed"
)

// LifecycleEvent describes something that happened to the session. It never
// carries transcript text; Words counts committed words instead.
type LifecycleEvent struct {
	Kind   LifecycleKind `json:"kind"`
	Code   ErrorCode     `json:"code,omitempty"`
	Detail string        `json:"detail,omitempty"`
	Words  int           `json:"words,omitempty"`
	At     time.Time     `json:"at"`
}

// EventSink observes controller state. Calls are made without the controller
// lock held, so sinks may read the controller back.
type EventSink interface {
	SnapshotChanged(snapshot Snapshot)
	Lifecycle(event LifecycleEvent)
}

type multiSink []EventSink

// MultiSink fans out to every non-nil sink in order.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (m multiSink) SnapshotChanged(snapshot Snapshot) {
	for _, sink := range m {
		sink.SnapshotChanged(snapshot)
	}
}

func (m multiSink) Lifecycle(event LifecycleEvent) {
	for _, sink := range m {
		sink.Lifecycle(event)
	}
}

type nopSink struct{}

func (nopSink) SnapshotChanged(Snapshot)  {}
func (nopSink) Lifecycle(LifecycleEvent) {}
