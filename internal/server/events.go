package server

import (
	"time"

	"github.com/sjawhar/doobs/internal/recognition"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

// SnapshotEvent carries the full controller state. Clients keep the snapshot
// with the highest revision.
type SnapshotEvent struct {
	Event
	Snapshot recognition.Snapshot `json:"snapshot"`
}

type LifecycleEvent struct {
	Event
	Kind   recognition.LifecycleKind `json:"kind"`
	Code   recognition.ErrorCode     `json:"code,omitempty"`
	Detail string                    `json:"detail,omitempty"`
	Words  int                       `json:"words,omitempty"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func newSnapshotEvent(snapshot recognition.Snapshot) SnapshotEvent {
	return SnapshotEvent{
		Event:    newEvent("snapshot", time.Now().UTC()),
		Snapshot: snapshot,
	}
}
