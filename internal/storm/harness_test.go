package storm

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/radstorm/storm-server-go/internal/clock"
	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/dispatch"
	"github.com/radstorm/storm-server-go/internal/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeParticipant struct {
	id    string
	pos   Vec3
	dead  bool
	admin bool
}

func (p *fakeParticipant) ID() string { return p.id }
func (p *fakeParticipant) Position() Vec3 { return p.pos }
func (p *fakeParticipant) Dead() bool { return p.dead }
func (p *fakeParticipant) IsAdmin() bool { return p.admin }

type damageCall struct {
	id     string
	amount int
	cause  DamageCause
	at     time.Time
}

// fakeWorld records every call the storm makes against the world.
type fakeWorld struct {
	clock   clock.Clock
	players []*fakeParticipant
	objects []PlacedObject

	damage    []damageCall
	sent      map[string]int
	cleared   map[string]int
	envCalls  []bool
	volumes   map[string]float64
	damageErr error
	effectErr error
	scanErr   error
}

func newFakeWorld(clk clock.Clock) *fakeWorld {
	return &fakeWorld{
		clock:   clk,
		sent:    make(map[string]int),
		cleared: make(map[string]int),
		volumes: make(map[string]float64),
	}
}

func (w *fakeWorld) add(id string, pos Vec3) *fakeParticipant {
	p := &fakeParticipant{id: id, pos: pos}
	w.players = append(w.players, p)
	return p
}

func (w *fakeWorld) Participants() []Participant {
	out := make([]Participant, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p)
	}
	return out
}

func (w *fakeWorld) Participant(id string) (Participant, bool) {
	for _, p := range w.players {
		if p.id == id {
			return p, true
		}
	}
	return nil, false
}

func (w *fakeWorld) ApplyDamage(p Participant, amount int, cause DamageCause) error {
	if w.damageErr != nil {
		return w.damageErr
	}
	w.damage = append(w.damage, damageCall{id: p.ID(), amount: amount, cause: cause, at: w.clock.Now()})
	return nil
}

func (w *fakeWorld) SendEffect(p Participant, effectID uint16, key int16) error {
	if w.effectErr != nil {
		return w.effectErr
	}
	w.sent[p.ID()]++
	return nil
}

func (w *fakeWorld) ClearEffect(p Participant, effectID uint16) error {
	w.cleared[p.ID()]++
	return nil
}

func (w *fakeWorld) SetEnvironmentMode(on bool, descriptor string) error {
	w.envCalls = append(w.envCalls, on)
	return nil
}

// BreathableAt treats any participant id listed in volumes as standing in air
// of that alpha, keyed by position.
func (w *fakeWorld) BreathableAt(pos Vec3) (bool, float64, error) {
	for _, p := range w.players {
		if p.pos == pos {
			if alpha, ok := w.volumes[p.id]; ok {
				return true, alpha, nil
			}
		}
	}
	return false, 0, nil
}

func (w *fakeWorld) PlacedObjects() ([]PlacedObject, error) {
	if w.scanErr != nil {
		return nil, w.scanErr
	}
	return w.objects, nil
}

func (w *fakeWorld) damageTimes(id string) []time.Duration {
	var out []time.Duration
	for _, d := range w.damage {
		if d.id == id {
			out = append(out, d.at.Sub(epoch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var errBoom = errors.New("boom")

// testConfig is the default configuration with radiators keyed on item 42
// and everything random or delayed switched off.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storm.TickIntervalSeconds = 2
	cfg.Storm.DamagePerTick = 5
	cfg.Storm.DurationSeconds = 10
	cfg.Storm.DamageDelaySeconds = 0
	cfg.Protection.Radiators.ItemIDs = []uint16{42}
	cfg.Protection.Radiators.DefaultRadius = 10
	cfg.Protection.Radiators.RefreshSeconds = 5
	return cfg
}

type harness struct {
	t       *testing.T
	clock   *clock.Manual
	world   *fakeWorld
	bus     *events.EventBus
	svc     *Service
	phases  *events.PhaseWatcher
	damages *events.DamageWatcher
}

type harnessOption func(*Options)

func newHarness(t *testing.T, cfg *config.Config, opts ...harnessOption) *harness {
	t.Helper()
	clk := clock.NewManual(epoch)
	world := newFakeWorld(clk)
	bus := events.NewEventBus()
	registry := events.NewWatcherRegistry(bus)
	phases := events.NewPhaseWatcher()
	damages := events.NewDamageWatcher()
	registry.AddWatcher(phases)
	registry.AddWatcher(damages)
	t.Cleanup(registry.Close)

	o := Options{
		Config:       cfg,
		Clock:        clk,
		Dispatcher:   dispatch.Inline{},
		Participants: world,
		Damage:       world,
		Effects:      world,
		Environment:  world,
		SafeVolumes:  world,
		Objects:      world,
		Bus:          bus,
		Rand:         func() float64 { return 0.5 },
		Logger:       zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&o)
	}
	svc, err := New(o)
	require.NoError(t, err)

	return &harness{
		t:       t,
		clock:   clk,
		world:   world,
		bus:     bus,
		svc:     svc,
		phases:  phases,
		damages: damages,
	}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
}
