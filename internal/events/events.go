package events

import (
	"sync"
	"time"
)

// EventType indicates the category of a storm lifecycle event.
type EventType string

const (
	// Lifecycle events
	EventStormStarted         EventType = "STORM_STARTED"
	EventStormStopped         EventType = "STORM_STOPPED"
	EventDamagePhaseActivated EventType = "DAMAGE_PHASE_ACTIVATED"

	// Recurrence events
	EventAutoStormScheduled EventType = "AUTO_STORM_SCHEDULED"
	EventAutoStormFailed    EventType = "AUTO_STORM_FAILED"

	// Participant events
	EventParticipantDamaged EventType = "PARTICIPANT_DAMAGED"
	EventEffectApplied      EventType = "EFFECT_APPLIED"
	EventEffectCleared      EventType = "EFFECT_CLEARED"

	// World events
	EventWeatherChanged   EventType = "WEATHER_CHANGED"
	EventDeadzoneApplied  EventType = "DEADZONE_APPLIED"
	EventDeadzoneRestored EventType = "DEADZONE_RESTORED"
)

// Event is a single storm lifecycle notification.
type Event struct {
	Type          EventType
	CycleID       string
	ParticipantID string
	Amount        int
	Flag          bool
	At            *time.Time
	Description   string
	Timestamp     time.Time
	Metadata      map[string]string
}

// Listener receives every published event.
type Listener func(Event)

// TypedListener receives events of a single type.
type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus fans events out to listeners synchronously, on the publisher's
// goroutine.
type EventBus struct {
	mu             sync.RWMutex
	nextHandle     int
	listeners      map[int]Listener
	typedListeners map[EventType][]TypedListener
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes the listener (plain or typed) identified by handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners. Listeners must not
// subscribe or unsubscribe from inside the callback.
func (bus *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, listener := range bus.typedListeners[event.Type] {
		listener.Callback(event)
	}
}

// NewEvent creates an event for the given storm cycle.
func NewEvent(eventType EventType, cycleID string) Event {
	return Event{
		Type:     eventType,
		CycleID:  cycleID,
		Metadata: make(map[string]string),
	}
}

// NewParticipantEvent creates an event about one participant.
func NewParticipantEvent(eventType EventType, cycleID, participantID string, amount int) Event {
	evt := NewEvent(eventType, cycleID)
	evt.ParticipantID = participantID
	evt.Amount = amount
	return evt
}
