package storm

import (
	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/events"
	"go.uber.org/zap"
)

// TickProcessor applies one cadence tick of storm effect and damage.
type TickProcessor struct {
	cfg          config.StormConfig
	participants ParticipantSource
	protection   Protector
	effects      *Reconciler
	damage       DamageSink
	publish      func(events.Event)
	cycleID      func() string
	warn         *warnOnce
	logger       *zap.Logger
}

func (t *TickProcessor) setConfig(cfg config.StormConfig) {
	t.cfg = cfg
}

func (t *TickProcessor) damageEnabled() bool {
	return t.cfg.DamagePerTick > 0 && t.damage != nil
}

// eligible filters out dead participants and, unless admins are targeted,
// privileged ones.
func (t *TickProcessor) eligible(p Participant) bool {
	if p == nil || p.Dead() {
		return false
	}
	if !t.cfg.TargetAdmins && p.IsAdmin() {
		return false
	}
	return true
}

// Run processes every participant once: protection check, then effect,
// then damage. A protected participant gets neither and has any lingering
// effect cleared.
func (t *TickProcessor) Run() {
	applyEffect := t.effects.enabled()
	applyDamage := t.damageEnabled()
	if !applyEffect && !applyDamage {
		return
	}

	for _, p := range t.participants.Participants() {
		if !t.eligible(p) {
			continue
		}
		if t.protection.IsProtected(p) {
			t.effects.Clear(p)
			continue
		}
		if applyEffect {
			t.effects.send(p)
		}
		if applyDamage {
			t.applyDamage(p)
		}
	}
}

// ApplyEffectAll sends the effect to every eligible, unprotected participant
// without dealing damage.
func (t *TickProcessor) ApplyEffectAll() {
	if !t.effects.enabled() {
		return
	}
	for _, p := range t.participants.Participants() {
		t.applyEffectTo(p)
	}
}

func (t *TickProcessor) applyEffectTo(p Participant) {
	if !t.eligible(p) {
		return
	}
	if t.protection.IsProtected(p) {
		t.effects.Clear(p)
		return
	}
	t.effects.send(p)
}

func (t *TickProcessor) applyDamage(p Participant) {
	amount := t.cfg.DamagePerTick
	if err := t.damage.ApplyDamage(p, amount, CauseInfection); err != nil {
		t.warn.Warn("damage_failed", "failed to apply radiation damage",
			zap.String("participant_id", p.ID()),
			zap.Error(err),
		)
		return
	}
	t.publish(events.NewParticipantEvent(events.EventParticipantDamaged, t.cycleID(), p.ID(), amount))
}
