// Package broadcast provides ordered fan-out messaging scoped per
// edit-scope key. Delivery is ordered per key: a single run loop drains
// the publish queue, so subscribers on one key observe events in publish
// order. There is no cross-key ordering.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPubSubChannel = "inkwell:edit-events"

// EventType protocol message kinds carried on the channel
type EventType string

const (
	EventPresenceChanged EventType = "presence_changed"
	EventSyncRequest     EventType = "sync_request"
	EventSyncResponse    EventType = "sync_response"
	EventFormChanged     EventType = "form_changed"
	EventContentChanged  EventType = "content_changed"
	EventSaved           EventType = "saved"
	EventInactivityWarn  EventType = "inactivity_warning"
)

// Event is one message on an edit-scope key
type Event struct {
	Type     EventType       `json:"type"`
	ScopeKey string          `json:"scope"`
	Source   string          `json:"source"`           // session ref of the sender
	Target   string          `json:"target,omitempty"` // set on sync_response: the requester
	Origin   string          `json:"origin,omitempty"` // hub instance that first published
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Subscription receives events for one scope key
type Subscription struct {
	key string
	C   chan *Event
}

// Hub fans events out to local subscribers per scope key and bridges
// them across instances through Redis pub/sub when available.
type Hub struct {
	subscribers map[string]map[*Subscription]bool

	register   chan *Subscription
	unregister chan *Subscription
	publish    chan *Event

	mu          sync.RWMutex
	instanceID  string
	redisClient *redis.Client
	log         zerolog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a Hub. redisClient may be nil for single-instance runs.
func NewHub(redisClient *redis.Client, log zerolog.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[string]map[*Subscription]bool),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		publish:     make(chan *Event, queueSize),
		instanceID:  uuid.New().String(),
		redisClient: redisClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a subscriber for the scope key
func (h *Hub) Subscribe(key string) *Subscription {
	sub := &Subscription{key: key, C: make(chan *Event, 64)}
	h.register <- sub
	return sub
}

// Unsubscribe removes a subscriber; its channel is closed by the hub
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.unregister <- sub
}

// Publish sends an event to all subscribers of its scope key,
// locally and (when bridged) on other instances. After Stop it is a
// no-op rather than a blocked send into a queue nobody drains.
func (h *Hub) Publish(event *Event) {
	event.Origin = h.instanceID
	select {
	case h.publish <- event:
	case <-h.ctx.Done():
		return
	}

	if h.redisClient != nil {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		if err := h.redisClient.Publish(h.ctx, redisPubSubChannel, data).Err(); err != nil {
			h.log.Warn().Err(err).Str("scope", event.ScopeKey).Msg("redis publish failed")
		}
	}
}

// Run starts the hub's main loop. Call once, in its own goroutine.
func (h *Hub) Run() {
	if h.redisClient != nil {
		go h.subscribeRedis()
	}

	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if h.subscribers[sub.key] == nil {
				h.subscribers[sub.key] = make(map[*Subscription]bool)
			}
			h.subscribers[sub.key][sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.subscribers[sub.key]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.C)
					if len(subs) == 0 {
						delete(h.subscribers, sub.key)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.publish:
			h.deliver(event)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) deliver(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[event.ScopeKey] {
		select {
		case sub.C <- event:
		default:
			// Slow subscriber: drop it rather than block the loop.
			// Its connection pumps will notice the closed channel.
			close(sub.C)
			delete(h.subscribers[event.ScopeKey], sub)
			h.log.Warn().Str("scope", event.ScopeKey).Msg("dropped slow broadcast subscriber")
		}
	}
}

// subscribeRedis relays events published by other instances to local
// subscribers. Events originating here were already delivered before the
// Redis round-trip and are skipped by Origin.
func (h *Hub) subscribeRedis() {
	pubsub := h.redisClient.Subscribe(h.ctx, redisPubSubChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.Warn().Err(err).Msg("malformed broadcast event from redis")
				continue
			}
			if event.Origin == h.instanceID {
				continue
			}
			h.deliverRemote(&event)
		case <-h.ctx.Done():
			return
		}
	}
}

// deliverRemote bypasses Publish to avoid re-publishing to Redis
func (h *Hub) deliverRemote(event *Event) {
	select {
	case h.publish <- event:
	default:
		h.log.Warn().Str("scope", event.ScopeKey).Msg("broadcast queue full, dropping remote event")
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
}
