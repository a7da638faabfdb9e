package events

import "time"

// Event represents a structured state change emitted by the vault engine.
type Event interface {
	EventType() string
}

// Attributed is implemented by events that expose structured attributes for
// streaming and audit storage.
type Attributed interface {
	Attributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope is the wire form of an emitted event. Sequence numbers increase
// monotonically per bus; Cursor is the string form clients hand back when
// resuming a stream.
type Envelope struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the envelope so subscribers can retain it
// without aliasing shared attribute maps.
func (e Envelope) Clone() Envelope {
	cloned := e
	if e.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}
