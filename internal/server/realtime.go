package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventGoingCount  = "going-count"
	realtimeEventReady       = "ready"
	realtimeEventHeartbeat   = "heartbeat"
	defaultHeartbeatInterval = 25 * time.Second
)

// GoingCountMessage announces an event's committed going count.
type GoingCountMessage struct {
	EventID    string    `json:"event_id"`
	GoingCount int       `json:"going_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// RealtimeDispatcher fans going-count changes out to stream subscribers.
// Subscribers that fall behind drop messages.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	closed      bool
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id      int64
	eventID string
	stream  chan GoingCountMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for one event, or for every event when
// eventID is empty. The subscription ends with ctx or the returned cleanup.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, eventID string) (<-chan GoingCountMessage, func()) {
	subscriber := &realtimeSubscriber{
		eventID: strings.TrimSpace(eventID),
		stream:  make(chan GoingCountMessage, d.bufferSize),
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(subscriber.stream)
		return subscriber.stream, func() {}
	}
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishGoingCount delivers the count to every matching subscriber without blocking.
func (d *RealtimeDispatcher) PublishGoingCount(eventID string, goingCount int) {
	if eventID == "" {
		return
	}
	message := GoingCountMessage{
		EventID:    eventID,
		GoingCount: goingCount,
		Timestamp:  d.clock().UTC(),
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers {
		if subscriber.eventID != "" && subscriber.eventID != eventID {
			continue
		}
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Close ends every open subscription.
func (d *RealtimeDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, subscriber := range d.subscribers {
		close(subscriber.stream)
		delete(d.subscribers, id)
	}
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscriber, ok := d.subscribers[subscriberID]
	if !ok {
		return
	}
	delete(d.subscribers, subscriberID)
	close(subscriber.stream)
}

func (h *httpHandler) handleGoingCountStream(c *gin.Context) {
	eventID := strings.TrimSpace(c.Query("event_id"))
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, eventID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, gin.H{"event_id": eventID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventGoingCount, message)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC().Unix()})
			return true
		}
	})
}
