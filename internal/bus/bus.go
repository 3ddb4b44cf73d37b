// Package bus provides per-session in-memory pub/sub for progress events.
package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haneulab/deepresearch/internal/metrics"
	"github.com/haneulab/deepresearch/internal/research"
)

// EventType enumerates the progress event kinds.
type EventType string

const (
	TypeProgressUpdate EventType = "progress_update"
	TypeThinking       EventType = "progress_thinking"
	TypeSearching      EventType = "progress_searching"
	TypeComplete       EventType = "research_complete"
	TypeError          EventType = "error"
)

// Event is one structured progress record for a session.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Stage     research.Stage `json:"stage"`
	Progress  int            `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	Message   string         `json:"message,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
	Kind      research.Kind  `json:"kind,omitempty"`
}

// Terminal reports whether the event ends the session's stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Marshal returns JSON for SSE payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// DefaultBuffer is the per-subscriber event buffer capacity.
const DefaultBuffer = 64

// Subscription is one subscriber's bounded view of a session's stream.
type Subscription struct {
	C  <-chan Event
	ch chan Event

	mu      sync.Mutex // guards closed and send-vs-close races
	closed  bool
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// deliver enqueues evt, evicting the oldest buffered event when full. Only
// non-terminal events ever occupy the buffer while new events arrive, so the
// eviction can never discard a terminal event.
func (s *Subscription) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type sessionStream struct {
	subs     map[*Subscription]struct{}
	nextSeq  uint64
	last     *Event
	terminal *Event
	closed   bool
}

// Bus fans session progress events out to any number of subscribers. Publish
// never blocks the caller; slow subscribers lose middle events, never the
// terminal one.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionStream
}

func New() *Bus {
	return &Bus{sessions: make(map[string]*sessionStream)}
}

func (b *Bus) stream(sessionID string) *sessionStream {
	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionStream{subs: make(map[*Subscription]struct{}), nextSeq: 1}
		b.sessions[sessionID] = st
	}
	return st
}

// Publish sends evt to all subscribers of the session in publish order.
func (b *Bus) Publish(sessionID string, evt Event) {
	evt.SessionID = sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	st := b.stream(sessionID)
	if st.closed {
		b.mu.Unlock()
		return
	}
	evt.Seq = st.nextSeq
	st.nextSeq++
	st.last = &evt
	if evt.Terminal() {
		st.terminal = &evt
	}
	subs := make([]*Subscription, 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	for _, sub := range subs {
		sub.deliver(evt)
	}
}

// Subscribe registers a subscriber with the given buffer capacity (0 means
// DefaultBuffer). A late subscriber first receives a synthetic
// progress_update replaying the session's current state, and, if the session
// already ended, the terminal event itself.
func (b *Bus) Subscribe(sessionID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	st := b.stream(sessionID)
	var replay []Event
	if st.last != nil {
		snapshot := *st.last
		replay = append(replay, Event{
			SessionID: sessionID,
			Type:      TypeProgressUpdate,
			Stage:     snapshot.Stage,
			Progress:  snapshot.Progress,
			Timestamp: time.Now().UTC(),
			Seq:       snapshot.Seq,
		})
	}
	if st.terminal != nil {
		replay = append(replay, *st.terminal)
	}
	closed := st.closed
	if !closed {
		st.subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	for _, evt := range replay {
		sub.deliver(evt)
	}
	if closed {
		sub.close()
		return sub
	}
	metrics.Subscribers.Inc()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sessionID string, sub *Subscription) {
	b.mu.Lock()
	st, ok := b.sessions[sessionID]
	if ok {
		if _, present := st.subs[sub]; present {
			delete(st.subs, sub)
			metrics.Subscribers.Dec()
		} else {
			ok = false
		}
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Close ends the session's stream: all subscriber channels are closed after
// any already-published terminal event has been buffered. The last state is
// retained so that later subscribers still get the terminal replay.
func (b *Bus) Close(sessionID string) {
	b.mu.Lock()
	st, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	st.closed = true
	subs := make([]*Subscription, 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	st.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		metrics.Subscribers.Dec()
	}
}
