package events

import (
	"sort"
	"sync"
)

// Watcher observes storm events and keeps derived state for one storm cycle.
type Watcher interface {
	// Watch is called for every published event.
	Watch(event Event)
	// Reset clears the watcher's state (called when a new cycle starts).
	Reset()
	// Key uniquely identifies the watcher in a registry.
	Key() string
}

// WatcherRegistry feeds bus events to a set of watchers and resets them at
// the start of every storm cycle.
type WatcherRegistry struct {
	mu       sync.RWMutex
	watchers map[string]Watcher
	order    []string
	handle   int
	bus      *EventBus
}

// NewWatcherRegistry creates a registry attached to bus.
func NewWatcherRegistry(bus *EventBus) *WatcherRegistry {
	r := &WatcherRegistry{
		watchers: make(map[string]Watcher),
		bus:      bus,
	}
	r.handle = bus.Subscribe(r.dispatch)
	return r
}

// AddWatcher registers w, replacing any watcher with the same key.
func (r *WatcherRegistry) AddWatcher(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.watchers[w.Key()]; !exists {
		r.order = append(r.order, w.Key())
	}
	r.watchers[w.Key()] = w
}

// GetWatcher returns the watcher registered under key.
func (r *WatcherRegistry) GetWatcher(key string) (Watcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watchers[key]
	return w, ok
}

// Close detaches the registry from its bus.
func (r *WatcherRegistry) Close() {
	r.bus.Unsubscribe(r.handle)
}

func (r *WatcherRegistry) dispatch(event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		w := r.watchers[key]
		if event.Type == EventStormStarted {
			w.Reset()
		}
		w.Watch(event)
	}
}

// DamageWatcher totals storm damage per participant for the current cycle.
type DamageWatcher struct {
	mu      sync.RWMutex
	cycleID string
	damage  map[string]int
	hits    map[string]int
}

// NewDamageWatcher creates an empty damage watcher.
func NewDamageWatcher() *DamageWatcher {
	return &DamageWatcher{
		damage: make(map[string]int),
		hits:   make(map[string]int),
	}
}

// Key implements Watcher.
func (w *DamageWatcher) Key() string { return "DamageWatcher" }

// Watch implements Watcher.
func (w *DamageWatcher) Watch(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch event.Type {
	case EventStormStarted:
		w.cycleID = event.CycleID
	case EventParticipantDamaged:
		if event.ParticipantID == "" {
			return
		}
		w.damage[event.ParticipantID] += event.Amount
		w.hits[event.ParticipantID]++
	}
}

// Reset implements Watcher.
func (w *DamageWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cycleID = ""
	w.damage = make(map[string]int)
	w.hits = make(map[string]int)
}

// CycleID returns the cycle the totals belong to.
func (w *DamageWatcher) CycleID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cycleID
}

// Damage returns the total damage dealt to a participant this cycle.
func (w *DamageWatcher) Damage(participantID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.damage[participantID]
}

// Hits returns how many damage applications a participant received this cycle.
func (w *DamageWatcher) Hits(participantID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hits[participantID]
}

// Total returns the damage dealt to everyone this cycle.
func (w *DamageWatcher) Total() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	total := 0
	for _, d := range w.damage {
		total += d
	}
	return total
}

// Participants returns the damaged participant ids, sorted.
func (w *DamageWatcher) Participants() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.damage))
	for id := range w.damage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PhaseWatcher counts lifecycle transitions for the current cycle.
type PhaseWatcher struct {
	mu          sync.RWMutex
	activations int
	stops       int
}

// NewPhaseWatcher creates an empty phase watcher.
func NewPhaseWatcher() *PhaseWatcher {
	return &PhaseWatcher{}
}

// Key implements Watcher.
func (w *PhaseWatcher) Key() string { return "PhaseWatcher" }

// Watch implements Watcher.
func (w *PhaseWatcher) Watch(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch event.Type {
	case EventDamagePhaseActivated:
		w.activations++
	case EventStormStopped:
		w.stops++
	}
}

// Reset implements Watcher.
func (w *PhaseWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activations = 0
	w.stops = 0
}

// Activations returns how many times the damage phase was activated this cycle.
func (w *PhaseWatcher) Activations() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activations
}

// Stops returns how many stop events were seen this cycle.
func (w *PhaseWatcher) Stops() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stops
}
