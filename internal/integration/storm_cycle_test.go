package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/radstorm/storm-server-go/internal/clock"
	"github.com/radstorm/storm-server-go/internal/command"
	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/dispatch"
	"github.com/radstorm/storm-server-go/internal/events"
	"github.com/radstorm/storm-server-go/internal/storm"
	"github.com/radstorm/storm-server-go/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const effectID = 19000

const settlementYAML = `
name: settlement
map_size: 2
players:
  - name: alice
    position: [10, 0, 10]
  - name: bob
    position: [500, 0, 0]
  - name: carol
    position: [200, 0, 0]
  - name: dave
    position: [250, 0, 0]
    admin: true
structures:
  - item_id: 1001
    kind: radiator
    position: [0, 0, 0]
    radius: 15
  - item_id: 1002
    kind: heater
    position: [205, 0, 0]
    radius: 30
    powered: false
oxygen_volumes:
  - center: [500, 0, 0]
    radius: 20
deadzones:
  - center: [-300, 0, 0]
    radius: 50
`

type stack struct {
	clock    *clock.Manual
	world    *world.World
	svc      *storm.Service
	cmd      *command.Radiation
	recorder *recorder
}

func stormConfig() *config.Config {
	cfg := config.Default()
	cfg.Storm.DurationSeconds = 20
	cfg.Storm.DamageDelaySeconds = 4
	cfg.Weather.Enabled = true
	cfg.Weather.Descriptor = "Weather/Radstorm"
	cfg.Protection.Radiators.ItemIDs = []uint16{1001, 1002}
	return cfg
}

func newStack(t *testing.T, cfg *config.Config, dispatcher dispatch.Dispatcher) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sc, err := world.ParseScenario([]byte(settlementYAML))
	require.NoError(t, err)
	w, err := sc.Build(logger)
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	w.SetClock(clk.Now)

	svc, err := storm.New(storm.Options{
		Config:       cfg,
		Clock:        clk,
		Dispatcher:   dispatcher,
		Participants: w,
		Damage:       w,
		Effects:      w,
		Environment:  w,
		SafeVolumes:  w,
		Objects:      w,
		Regions:      w,
		Logger:       logger,
	})
	require.NoError(t, err)

	rec := &recorder{}
	svc.Bus().Subscribe(rec.record)
	messages := command.NewMessages(cfg.Messages)
	announcer := command.NewAnnouncer(svc.Bus(), w, messages, cfg.Storm.BroadcastMessages, logger)
	t.Cleanup(announcer.Close)

	return &stack{
		clock:    clk,
		world:    w,
		svc:      svc,
		cmd:      command.NewRadiation(svc, messages, logger),
		recorder: rec,
	}
}

func (s *stack) player(t *testing.T, name string) world.PlayerView {
	t.Helper()
	p, ok := s.world.PlayerByName(name)
	require.True(t, ok, "player %s", name)
	return p
}

func (s *stack) structureID(t *testing.T, itemID uint16) string {
	t.Helper()
	for _, st := range s.world.Structures() {
		if st.ItemID == itemID {
			return st.ID
		}
	}
	t.Fatalf("no structure with item %d", itemID)
	return ""
}

func TestStormCycleInSettlement(t *testing.T) {
	s := newStack(t, stormConfig(), dispatch.Inline{})
	ctx := context.Background()
	console := &consoleCaller{}

	require.NoError(t, s.svc.Open(ctx))
	require.NoError(t, s.cmd.Execute(ctx, console, []string{"start"}))
	assert.Equal(t, "Radiation storm has begun!", console.last())

	st := s.svc.Status()
	assert.Equal(t, storm.PhaseStarting, st.Phase)
	assert.Equal(t, "Weather/Radstorm", s.world.Weather())

	// The existing deadzone is widened to cover the whole map.
	zones := s.world.Deadzones()
	require.Len(t, zones, 1)
	assert.InDelta(t, storm.TargetDeadzoneRadius(0, 2), zones[0].Radius(), 1e-9)
	assert.True(t, s.world.InDeadzone(storm.Vec3{X: 200}))

	s.clock.Advance(4 * time.Second)
	assert.Equal(t, storm.PhaseActive, s.svc.Status().Phase)
	assert.Contains(t, s.player(t, "carol").Effects, uint16(effectID))
	assert.Empty(t, s.player(t, "alice").Effects, "radiator")
	assert.Empty(t, s.player(t, "bob").Effects, "oxygen")
	assert.Empty(t, s.player(t, "dave").Effects, "admin")

	s.clock.Advance(3 * time.Second)
	require.NoError(t, s.world.SetPowered(s.structureID(t, 1002), true))

	// The radiator cache picks the heater up on its next refresh at t=10.
	s.clock.Advance(5 * time.Second)
	carol := s.player(t, "carol")
	assert.Equal(t, 90, carol.HP)
	assert.Empty(t, carol.Effects)

	alice := s.player(t, "alice")
	require.NoError(t, s.world.Move(alice.ID, storm.Vec3{X: 60}))

	s.clock.Advance(8 * time.Second)
	assert.False(t, s.svc.Status().Active)

	assert.Equal(t, 80, s.player(t, "alice").HP)
	assert.Equal(t, 90, s.player(t, "carol").HP)
	assert.Equal(t, 100, s.player(t, "bob").HP)
	assert.Equal(t, 100, s.player(t, "dave").HP)
	for _, p := range s.world.Players() {
		assert.Empty(t, p.Effects, p.Name)
	}
	for _, rec := range s.world.DamageLog() {
		assert.Equal(t, storm.CauseInfection, rec.Cause)
	}

	assert.Empty(t, s.world.Weather())
	zones = s.world.Deadzones()
	require.Len(t, zones, 1)
	assert.Equal(t, 50.0, zones[0].Radius())

	assert.Equal(t, []string{"Radiation storm has begun!", "Radiation storm has ended."}, s.world.Broadcasts())
	assert.Equal(t, []events.EventType{
		events.EventStormStarted,
		events.EventWeatherChanged,
		events.EventDeadzoneApplied,
		events.EventDamagePhaseActivated,
	}, s.recorder.Types()[:4])
	types := s.recorder.Types()
	assert.Equal(t, events.EventStormStopped, types[len(types)-1])
}

func TestManualStopRestoresWorld(t *testing.T) {
	cfg := stormConfig()
	cfg.Storm.DamageDelaySeconds = 0
	s := newStack(t, cfg, dispatch.Inline{})
	ctx := context.Background()
	console := &consoleCaller{}

	require.NoError(t, s.svc.Open(ctx))
	require.NoError(t, s.cmd.Execute(ctx, console, []string{"start"}))
	assert.Contains(t, s.player(t, "carol").Effects, uint16(effectID))

	s.clock.Advance(2 * time.Second)
	assert.Equal(t, 95, s.player(t, "carol").HP)

	require.NoError(t, s.cmd.Execute(ctx, console, []string{"stop"}))
	assert.Equal(t, "Radiation storm has ended.", console.last())
	assert.Empty(t, s.player(t, "carol").Effects)
	assert.Empty(t, s.world.Weather())
	assert.Equal(t, 50.0, s.world.Deadzones()[0].Radius())

	require.NoError(t, s.cmd.Execute(ctx, console, []string{"stop"}))
	assert.Equal(t, "No active radiation storm.", console.last())

	s.clock.Advance(time.Minute)
	assert.Equal(t, 95, s.player(t, "carol").HP)
}

func TestLateJoinerSeesEffect(t *testing.T) {
	cfg := stormConfig()
	cfg.Storm.DamageDelaySeconds = 0
	s := newStack(t, cfg, dispatch.Inline{})
	ctx := context.Background()

	require.NoError(t, s.svc.Open(ctx))
	require.NoError(t, s.svc.Start(ctx))

	id, err := s.world.Join("erin", storm.Vec3{X: 300}, false)
	require.NoError(t, err)
	s.svc.ParticipantJoined(id)

	p, ok := s.world.Player(id)
	require.True(t, ok)
	assert.Contains(t, p.Effects, uint16(effectID))
}

func TestAutoStormOnDispatchLoop(t *testing.T) {
	cfg := stormConfig()
	cfg.AutoStorm.Enabled = true
	cfg.AutoStorm.MinIntervalMinutes = 1
	cfg.AutoStorm.MaxIntervalMinutes = 1

	loop := dispatch.NewLoop(16, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	s := newStack(t, cfg, loop)
	require.NoError(t, s.svc.Open(ctx))

	st := s.svc.Status()
	require.NotNil(t, st.NextAutoStartAt)
	remaining, ok := st.Remaining(s.svc.Now())
	require.True(t, ok)
	assert.Equal(t, time.Minute, remaining)

	s.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.svc.Status().Active }, time.Second, 5*time.Millisecond)
	assert.Nil(t, s.svc.Status().NextAutoStartAt)

	s.clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return s.svc.Status().DamagePhaseActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.svc.Stop(ctx))
	st = s.svc.Status()
	assert.False(t, st.Active)
	require.NotNil(t, st.NextAutoStartAt)

	require.NoError(t, s.svc.Close(ctx))
	assert.Zero(t, s.clock.Pending())
}

type recorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recorder) record(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.Type)
}

func (r *recorder) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

type consoleCaller struct {
	replies []string
}

func (c *consoleCaller) Name() string { return "Console" }

func (c *consoleCaller) HasPermission(string) bool { return true }

func (c *consoleCaller) Reply(msg string) { c.replies = append(c.replies, msg) }

func (c *consoleCaller) last() string {
	if len(c.replies) == 0 {
		return ""
	}
	return c.replies[len(c.replies)-1]
}
