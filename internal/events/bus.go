// Package events is the in-process pub/sub bus connecting the decision
// pipeline to monitoring surfaces.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventGapDetected       EventType = "GAP_DETECTED"
	EventGapFilled         EventType = "GAP_FILLED"
	EventGapExpired        EventType = "GAP_EXPIRED"
	EventSignalApproved    EventType = "SIGNAL_APPROVED"
	EventSignalRejected    EventType = "SIGNAL_REJECTED"
	EventOrderPrepared     EventType = "ORDER_PREPARED"
	EventOrderExecuted     EventType = "ORDER_EXECUTED"
	EventTradeClosed       EventType = "TRADE_CLOSED"
	EventStateChanged      EventType = "STATE_CHANGED"
	EventCycleHalted       EventType = "CYCLE_HALTED"
	EventPredictorDegraded EventType = "PREDICTOR_DEGRADED"
	EventHeartbeat         EventType = "HEARTBEAT"
	EventError             EventType = "ERROR"
)

// Severity grades an event for monitoring consumers
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a single bus message
type Event struct {
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Subscriber handles delivered events. Delivery happens on a separate
// goroutine per event; subscribers must do their own synchronization.
type Subscriber func(Event)

// Bus fans events out to type-specific and catch-all subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers without blocking
// the publisher
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishGapDetected publishes a gap detection event
func (b *Bus) PublishGapDetected(gapID, symbol, timeframe, direction string, size float64) {
	b.Publish(Event{
		Type: EventGapDetected,
		Payload: map[string]interface{}{
			"gap_id":    gapID,
			"symbol":    symbol,
			"timeframe": timeframe,
			"direction": direction,
			"size":      size,
		},
	})
}

// PublishGapFilled publishes a gap fill event
func (b *Bus) PublishGapFilled(gapID, symbol string, fillPrice float64) {
	b.Publish(Event{
		Type: EventGapFilled,
		Payload: map[string]interface{}{
			"gap_id":     gapID,
			"symbol":     symbol,
			"fill_price": fillPrice,
		},
	})
}

// PublishStateChanged publishes a controller state transition
func (b *Bus) PublishStateChanged(from, to, reason string) {
	severity := SeverityInfo
	if to == "EMERGENCY_STOP" {
		severity = SeverityCritical
	}
	b.Publish(Event{
		Type:     EventStateChanged,
		Severity: severity,
		Payload: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// PublishRejection publishes a pipeline rejection with the gate that fired
func (b *Bus) PublishRejection(gapID, stage, reason string) {
	b.Publish(Event{
		Type: EventSignalRejected,
		Payload: map[string]interface{}{
			"gap_id": gapID,
			"stage":  stage,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	payload := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	b.Publish(Event{
		Type:     EventError,
		Severity: SeverityWarning,
		Payload:  payload,
	})
}
