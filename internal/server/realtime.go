package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventPing      = "ping"
	realtimeEventHeartbeat = "heartbeat"
)

// RealtimeDispatcher fans newly enqueued pings out to the live inbox streams
// of their recipients. It satisfies pings.Notifier so the dispatcher can be
// handed to the pings service directly.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan pings.Ping
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for a recipient. The returned cleanup is
// idempotent and also runs automatically when the context ends.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, recipientID string) (<-chan pings.Ping, func()) {
	if recipientID == "" {
		ch := make(chan pings.Ping)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan pings.Ping, d.bufferSize),
	}
	d.registerSubscriber(recipientID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(recipientID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PingEnqueued implements pings.Notifier. Slow subscribers are skipped
// rather than blocking the write path.
func (d *RealtimeDispatcher) PingEnqueued(ping pings.Ping) {
	if ping.RecipientID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[ping.RecipientID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- ping:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(recipientID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[recipientID]; !ok {
		d.subscribers[recipientID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[recipientID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(recipientID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[recipientID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, recipientID)
		}
	}
	d.mu.Unlock()
}

const realtimeHeartbeatInterval = 25 * time.Second

// handlePingStream serves a server-sent-event stream of the caller's newly
// enqueued pings, with periodic heartbeats so idle proxies keep the
// connection open.
func (h *httpHandler) handlePingStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_unavailable"})
		return
	}
	callerID := c.GetString(callerIDContextKey)
	if callerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), callerID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ping, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(RealtimeEventPing, pingToPayload(ping))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"ts": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}
