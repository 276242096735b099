package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cloudacy/barcode-scanner/internal/metrics"
)

// SerializedEvent holds an event serialized once for every subscriber
type SerializedEvent struct {
	Name         string
	JSONData     []byte // Pre-serialized EventMessage
	ProtobufData []byte // Pre-serialized google.protobuf.Struct (base64 encoded for SSE)
}

// Hub fans events out to transport subscribers. It implements
// scan.EventSink; a subscriber that falls behind loses events rather than
// stalling the session.
type Hub struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool
	metrics *metrics.Metrics
}

const subscriberBuffer = 16

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a subscriber. The channel is closed on Unsubscribe or Close.
func (h *Hub) Subscribe() (int, <-chan *SerializedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan *SerializedEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch
	h.metrics.EventSubscribers.Add(1)

	log.Debug("Event subscriber #%d added (total: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a subscriber
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.metrics.EventSubscribers.Add(-1)
		log.Debug("Event subscriber #%d removed (remaining: %d)", id, len(h.clients))
	}
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Emit serializes an event and offers it to every subscriber without
// blocking.
func (h *Hub) Emit(event string, payload any) {
	ev, err := serializeEvent(event, payload)
	if err != nil {
		log.Error("Failed to serialize %s event: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.metrics.EventsDropped.Add(1)
			log.Warn("Event subscriber #%d is full, dropped %s", id, event)
		}
	}
}

// Close disconnects every subscriber. Later Emits are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
		h.metrics.EventSubscribers.Add(-1)
	}
}

func serializeEvent(event string, payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(EventMessage{Event: event, Args: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}

	// structpb only takes plain JSON values, so go through the JSON form
	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	return &SerializedEvent{
		Name:         event,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
