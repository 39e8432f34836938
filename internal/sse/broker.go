// Package sse streams drift reports and warnings to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/report"
)

// Event represents an SSE event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types.
const (
	EventDriftDetected  = "drift.detected"
	EventDriftClear     = "drift.clear"
	EventFileUnreadable = "file.unreadable"
	EventStatusUpdated  = "status.updated"
)

const (
	clientBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

// Broker fans events out to connected SSE clients. It is a report.Sink, so a
// monitor can publish to it directly.
//
// A single goroutine owns the client set, the event sequence, the last
// report and the status throttle; public methods talk to it over channels.
type Broker struct {
	statusMin time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	reportCh      chan *models.DriftReport
	countReqCh    chan chan int
	stopCh        chan struct{}
	stopped       chan struct{}
	closed        atomic.Bool
}

var _ report.Sink = (*Broker)(nil)

// NewBroker creates a broker that emits at most one status.updated event per
// statusThrottle.
func NewBroker(statusThrottle time.Duration) *Broker {
	if statusThrottle <= 0 {
		statusThrottle = 2 * time.Second
	}
	b := &Broker{
		statusMin:     statusThrottle,
		heartbeat:     heartbeatInterval,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		reportCh:      make(chan *models.DriftReport, 64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

// frame renders one event in wire format. Events without a JSON payload are
// dropped.
func frame(seq uint64, e Event) ([]byte, bool) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, false
	}
	buf := make([]byte, 0, len(payload)+len(e.Type)+32)
	buf = append(buf, "id: "...)
	buf = strconv.AppendUint(buf, seq, 10)
	buf = append(buf, "\nevent: "...)
	buf = append(buf, e.Type...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, payload...)
	return append(buf, "\n\n"...), true
}

func reportEvent(r *models.DriftReport) Event {
	if r.Empty() {
		return Event{Type: EventDriftClear, Data: map[string]string{"id": r.ID, "root": r.Root}}
	}
	return Event{Type: EventDriftDetected, Data: r}
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients    = make(map[chan []byte]struct{})
		seq        uint64
		last       []byte // most recent report frame, replayed to new clients
		lastStatus time.Time
		reports    int
	)

	send := func(e Event) []byte {
		seq++
		msg, ok := frame(seq, e)
		if !ok {
			return nil
		}
		for ch := range clients {
			select {
			case ch <- msg:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
		return msg
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if last != nil {
				ch <- last
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			send(e)

		case r := <-b.reportCh:
			reports++
			if msg := send(reportEvent(r)); msg != nil {
				last = msg
			}
			if now := time.Now(); now.Sub(lastStatus) >= b.statusMin {
				lastStatus = now
				send(Event{Type: EventStatusUpdated, Data: map[string]any{
					"root":    r.Root,
					"reports": reports,
					"drift":   len(r.Records),
				}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The latest report, if any, is delivered
// first so late subscribers see the current drift state.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
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
	case b.unsubscribeCh <- ch:
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
	case b.countReqCh <- resp:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// Report publishes drift.detected (or drift.clear for an empty report)
// followed by a throttled status.updated event.
func (b *Broker) Report(r *models.DriftReport) {
	if b.closed.Load() {
		return
	}
	select {
	case b.reportCh <- r:
	case <-b.stopped:
	}
}

// Warn publishes a file.unreadable event.
func (b *Broker) Warn(path string, err error) {
	b.Publish(Event{Type: EventFileUnreadable, Data: map[string]string{
		"path":  path,
		"error": err.Error(),
	}})
}

// ServeHTTP streams events to one client (GET /api/events). A comment line
// is written every heartbeat so idle proxies keep the connection open.
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
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
