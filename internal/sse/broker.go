// Package sse streams bundle change notifications to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/sddbundle/internal/models"
)

// Event types emitted by the broker.
const (
	EventEntityCreated  = "entity.created"
	EventEntityUpdated  = "entity.updated"
	EventEntityDeleted  = "entity.deleted"
	EventBundleReloaded = "bundle.reloaded"
	EventGraphUpdated   = "graph.updated"
)

// entityEvents maps a change kind to its event type.
var entityEvents = map[string]string{
	"created": EventEntityCreated,
	"updated": EventEntityUpdated,
	"deleted": EventEntityDeleted,
}

// Event is one message broadcast to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// graph marks events that also trigger a throttled graph.updated.
	graph bool
}

// EntityEvent is the payload of entity.* events.
type EntityEvent struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
}

// ReloadSummary is the payload of bundle.reloaded.
type ReloadSummary struct {
	Entities int    `json:"entities"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	BatchID  string `json:"batchId,omitempty"`
}

// frame is an encoded message with its sequence number.
type frame struct {
	seq uint64
	raw []byte
}

type subscription struct {
	ch    chan []byte
	after uint64 // replay frames with seq > after; 0 means none
}

// Broker fans events out to SSE clients.
//
// The run loop owns the client set, the sequence counter, the replay
// backlog and the graph throttle. Everything else reaches it over channels.
type Broker struct {
	graphEvery time.Duration
	keepAlive  time.Duration
	backlog    int

	subs    chan subscription
	unsubs  chan chan []byte
	events  chan Event
	counts  chan chan int
	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one graph.updated per
// graphThrottle interval.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}
	b := &Broker{
		graphEvery: graphThrottle,
		keepAlive:  30 * time.Second,
		backlog:    128,
		subs:       make(chan subscription),
		unsubs:     make(chan chan []byte),
		events:     make(chan Event, 256),
		counts:     make(chan chan int),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients   = make(map[chan []byte]struct{})
		recent    []frame
		seq       uint64
		lastGraph time.Time
	)

	send := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		f := frame{seq: seq, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload)}
		recent = append(recent, f)
		if len(recent) > b.backlog {
			recent = recent[len(recent)-b.backlog:]
		}
		for ch := range clients {
			select {
			case ch <- f.raw:
			default: // client is behind; it can catch up with Last-Event-ID
			}
		}
	}

	for {
		select {
		case <-b.stop:
			for ch := range clients {
				close(ch)
			}
			return

		case s := <-b.subs:
			clients[s.ch] = struct{}{}
			if s.after == 0 {
				continue
			}
			for _, f := range recent {
				if f.seq <= s.after {
					continue
				}
				select {
				case s.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubs:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.events:
			send(ev.Type, ev.Data)
			if ev.graph && time.Since(lastGraph) >= b.graphEvery {
				lastGraph = time.Now()
				send(EventGraphUpdated, struct{}{})
			}

		case resp := <-b.counts:
			resp <- len(clients)
		}
	}
}

// Close stops the run loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client for new events.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeAfter(0)
}

// SubscribeAfter registers a client and first replays the buffered events
// whose id is greater than lastID.
func (b *Broker) SubscribeAfter(lastID uint64) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subs <- subscription{ch: ch, after: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubs <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.counts <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for every connected client.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.stopped:
	}
}

// PublishReload announces a new bundle snapshot.
func (b *Broker) PublishReload(s ReloadSummary) {
	b.Publish(Event{Type: EventBundleReloaded, Data: s})
}

// PublishEntityEvent announces one entity change. kind is created, updated
// or deleted; other kinds are ignored. A graph.updated follows at most once
// per throttle interval.
func (b *Broker) PublishEntityEvent(kind string, key models.EntityKey) {
	typ, ok := entityEvents[kind]
	if !ok {
		return
	}
	b.Publish(Event{Type: typ, Data: EntityEvent{EntityType: key.Type, ID: key.ID}, graph: true})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Reconnecting
// clients that send Last-Event-ID receive the events they missed while
// those are still buffered.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	ch := b.SubscribeAfter(lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
		}
		flusher.Flush()
	}
}
