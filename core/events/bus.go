package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const defaultHistoryLimit = 2048

// Bus fans emitted events out to live subscribers and keeps a bounded replay
// history addressed by sequence cursors. Slow subscribers drop updates rather
// than block the emitting operation.
type Bus struct {
	mu       sync.Mutex
	seq      uint64
	nextID   uint64
	subs     map[uint64]chan Envelope
	history  []Envelope
	limit    int
	timeFunc func() time.Time
	metrics  *busMetrics
}

// NewBus constructs a bus whose first emitted event is assigned startSeq+1.
// Daemons pass the persisted high-water mark so cursors stay meaningful
// across restarts.
func NewBus(startSeq uint64) *Bus {
	return &Bus{
		seq:      startSeq,
		subs:     make(map[uint64]chan Envelope),
		limit:    defaultHistoryLimit,
		timeFunc: time.Now,
		metrics:  dropMetrics(),
	}
}

// SetHistoryLimit bounds the replay backlog. Non-positive values restore the
// default.
func (b *Bus) SetHistoryLimit(limit int) {
	if b == nil {
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	b.mu.Lock()
	b.limit = limit
	b.mu.Unlock()
}

// Sequence reports the most recently assigned sequence number.
func (b *Bus) Sequence() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Emit implements the Emitter interface. The event is enveloped, appended to
// the history and broadcast without blocking.
func (b *Bus) Emit(event Event) {
	if b == nil || event == nil {
		return
	}
	envelope := Envelope{Type: event.EventType(), Timestamp: b.timeFunc().UTC()}
	if attributed, ok := event.(Attributed); ok {
		envelope.Attributes = attributed.Attributes()
	}

	b.mu.Lock()
	b.seq++
	envelope.Sequence = b.seq
	envelope.Cursor = strconv.FormatUint(envelope.Sequence, 10)
	b.history = append(b.history, envelope.Clone())
	if len(b.history) > b.limit {
		excess := len(b.history) - b.limit
		trimmed := make([]Envelope, b.limit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
		b.metrics.recordDropped("history", excess)
	}
	subscribers := make([]chan Envelope, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	dropped := 0
	for _, ch := range subscribers {
		select {
		case ch <- envelope.Clone():
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.metrics.recordDropped("subscriber", dropped)
	}
}

// Subscribe registers a subscriber for events after the supplied cursor. The
// returned backlog holds the replayable history newer than the cursor; live
// updates follow on the channel. Cancel (or context cancellation) releases
// the subscription.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]Envelope, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Envelope, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry.Clone())
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			sub, ok := b.subs[id]
			if ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}

var (
	metricsOnce      sync.Once
	sharedBusMetrics *busMetrics
)

type busMetrics struct {
	dropped metric.Int64Counter
}

func dropMetrics() *busMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("zusd/core/events")
		counter, err := meter.Int64Counter("zusd.events.dropped")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("zusd/core/events")
			counter, _ = fallback.Int64Counter("zusd.events.dropped")
		}
		sharedBusMetrics = &busMetrics{dropped: counter}
	})
	return sharedBusMetrics
}

// recordDropped counts envelopes that never reached a subscriber, either
// because the replay history trimmed them or a live channel was full.
func (m *busMetrics) recordDropped(reason string, count int) {
	if m == nil || m.dropped == nil || count <= 0 {
		return
	}
	m.dropped.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}
