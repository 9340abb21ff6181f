package storm

import (
	"sort"

	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/events"
	"go.uber.org/zap"
)

// Reconciler keeps the visible storm effect in line with each participant's
// protection state. It is owned by the dispatch loop.
type Reconciler struct {
	cfg          config.EffectConfig
	sink         EffectSink
	participants ParticipantSource
	protection   Protector
	publish      func(events.Event)
	cycleID      func() string
	warn         *warnOnce
	logger       *zap.Logger

	recipients map[string]struct{}
}

func newReconciler(cfg config.EffectConfig, sink EffectSink, participants ParticipantSource, protection Protector, publish func(events.Event), cycleID func() string, warn *warnOnce, logger *zap.Logger) *Reconciler {
	if publish == nil {
		publish = func(events.Event) {}
	}
	if cycleID == nil {
		cycleID = func() string { return "" }
	}
	return &Reconciler{
		cfg:          cfg,
		sink:         sink,
		participants: participants,
		protection:   protection,
		publish:      publish,
		cycleID:      cycleID,
		warn:         warn,
		logger:       logger,
		recipients:   make(map[string]struct{}),
	}
}

// NewReconciler creates a reconciler outside of a Service, mostly for tests
// and tools. sink may be nil, which disables the effect.
func NewReconciler(cfg config.EffectConfig, sink EffectSink, participants ParticipantSource, protection Protector, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newReconciler(cfg, sink, participants, protection, nil, nil, newWarnOnce(logger), logger)
}

func (r *Reconciler) enabled() bool {
	return r.cfg.Active() && r.sink != nil
}

// Ensure (re-)sends the effect to p unless p is protected, in which case the
// effect is cleared instead. The effect is re-sent on every call because it
// can expire or be replaced on the client without us hearing about it.
func (r *Reconciler) Ensure(p Participant) {
	if !r.enabled() || p == nil {
		return
	}
	if r.protection != nil && r.protection.IsProtected(p) {
		r.Clear(p)
		return
	}
	r.send(p)
}

// send delivers the effect to p, whose protection has already been checked.
func (r *Reconciler) send(p Participant) {
	if !r.enabled() || p == nil {
		return
	}
	if err := r.sink.SendEffect(p, r.cfg.ID, r.cfg.Key); err != nil {
		r.warn.Warn("effect_send_failed", "failed to send storm effect",
			zap.String("participant_id", p.ID()),
			zap.Error(err),
		)
		return
	}
	if _, had := r.recipients[p.ID()]; !had {
		r.publish(events.NewParticipantEvent(events.EventEffectApplied, r.cycleID(), p.ID(), 0))
	}
	r.recipients[p.ID()] = struct{}{}
}

// Clear removes the effect from p if it was recorded as a recipient.
func (r *Reconciler) Clear(p Participant) {
	if p == nil {
		return
	}
	if _, had := r.recipients[p.ID()]; !had {
		return
	}
	delete(r.recipients, p.ID())
	if !r.enabled() {
		return
	}
	if err := r.sink.ClearEffect(p, r.cfg.ID); err != nil {
		r.warn.Warn("effect_clear_failed", "failed to clear storm effect",
			zap.String("participant_id", p.ID()),
			zap.Error(err),
		)
		return
	}
	r.publish(events.NewParticipantEvent(events.EventEffectCleared, r.cycleID(), p.ID(), 0))
}

// ClearAll issues a clear to every current participant and empties the
// recipient set. With the effect disabled it only empties the set.
func (r *Reconciler) ClearAll() {
	if r.enabled() && r.participants != nil {
		for _, p := range r.participants.Participants() {
			if p == nil {
				continue
			}
			if err := r.sink.ClearEffect(p, r.cfg.ID); err != nil {
				r.warn.Warn("effect_clear_failed", "failed to clear storm effect",
					zap.String("participant_id", p.ID()),
					zap.Error(err),
				)
			}
		}
	}
	r.recipients = make(map[string]struct{})
}

// Has reports whether id is recorded as bearing the effect.
func (r *Reconciler) Has(id string) bool {
	_, ok := r.recipients[id]
	return ok
}

// Recipients returns the recorded recipient ids, sorted.
func (r *Reconciler) Recipients() []string {
	ids := make([]string, 0, len(r.recipients))
	for id := range r.recipients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Reconciler) setConfig(cfg config.EffectConfig) {
	r.cfg = cfg
}
