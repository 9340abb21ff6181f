package command

import (
	"sync"

	"github.com/radstorm/storm-server-go/internal/events"
	"go.uber.org/zap"
)

// Broadcaster delivers a chat message to every connected player.
type Broadcaster interface {
	Broadcast(msg string)
}

// Announcer broadcasts storm start and stop to all players.
type Announcer struct {
	mu       sync.RWMutex
	bus      *events.EventBus
	out      Broadcaster
	messages Messages
	enabled  bool
	handles  []int
	logger   *zap.Logger
}

// NewAnnouncer subscribes to bus. Messages are only sent while enabled.
func NewAnnouncer(bus *events.EventBus, out Broadcaster, messages Messages, enabled bool, logger *zap.Logger) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Announcer{
		bus:      bus,
		out:      out,
		messages: messages,
		enabled:  enabled,
		logger:   logger,
	}
	a.handles = append(a.handles,
		bus.SubscribeTyped(events.EventStormStarted, func(events.Event) { a.announce("storm_start") }),
		bus.SubscribeTyped(events.EventStormStopped, func(events.Event) { a.announce("storm_stop") }),
	)
	return a
}

// Configure updates the translation table and the broadcast toggle.
func (a *Announcer) Configure(messages Messages, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = messages
	a.enabled = enabled
}

// Close unsubscribes from the bus.
func (a *Announcer) Close() {
	for _, h := range a.handles {
		a.bus.Unsubscribe(h)
	}
	a.handles = nil
}

func (a *Announcer) announce(key string) {
	a.mu.RLock()
	enabled, messages := a.enabled, a.messages
	a.mu.RUnlock()
	if !enabled || a.out == nil {
		return
	}
	msg := messages.Translate(key)
	a.logger.Debug("announcing storm transition", zap.String("message", msg))
	a.out.Broadcast(msg)
}
