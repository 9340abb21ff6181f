// Package storm implements the radiation storm hazard event: a scheduler
// that drives the storm phases, the protection evaluator, the effect
// reconciler, the per-tick damage processor and the optional deadzone
// adapter. All state is owned by one dispatcher; timer callbacks are posted
// onto it.
package storm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radstorm/storm-server-go/internal/clock"
	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/dispatch"
	"github.com/radstorm/storm-server-go/internal/events"
	"go.uber.org/zap"
)

// Options wires a Service to its collaborators. Config and Participants are
// required; every other collaborator is optional and its feature is skipped
// when absent.
type Options struct {
	Config *config.Config
	Clock  clock.Clock
	// Dispatcher serializes every state change. When nil the Service runs
	// its own dispatch.Loop, started on first use and stopped by Close.
	Dispatcher   dispatch.Dispatcher
	Participants ParticipantSource
	Damage       DamageSink
	Effects      EffectSink
	Environment  Environment
	SafeVolumes  SafeVolumeChecker
	Objects      WorldObjectSource
	// Regions may implement any of the region capability interfaces.
	Regions  any
	Resolver AttributeResolver
	Bus      *events.EventBus
	// Rand returns values in [0, 1) for auto storm intervals.
	Rand   func() float64
	Logger *zap.Logger
}

// timerHandle is one arming of a timer. cancelled is only touched on the
// dispatcher, so a fire that was already queued when the timer was stopped
// turns into a no-op.
type timerHandle struct {
	timer     clock.Timer
	cancelled bool
}

// Service is the storm phase scheduler.
type Service struct {
	clock        clock.Clock
	dispatcher   dispatch.Dispatcher
	ownLoop      *dispatch.Loop
	loopOnce     sync.Once
	stopLoop     context.CancelFunc
	participants ParticipantSource
	env          Environment
	bus          *events.EventBus
	rand         func() float64
	logger       *zap.Logger
	warn         *warnOnce

	protection *Evaluator
	effects    *Reconciler
	ticks      *TickProcessor
	deadzone   *DeadzoneAdapter

	// Owned by the dispatcher.
	cfg           *config.Config
	opened        bool
	active        bool
	damagePhase   bool
	nextAutoStart *time.Time
	cycleID       string
	startedAt     *time.Time
	weatherOn     string

	cadence  *timerHandle
	duration *timerHandle
	delay    *timerHandle
	auto     *timerHandle

	mu     sync.RWMutex
	status Status
}

// New builds a Service. It does not arm any timer until Open is called.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, ErrMissingConfig
	}
	if opts.Participants == nil {
		return nil, ErrMissingParticipants
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	dispatcher := opts.Dispatcher
	var ownLoop *dispatch.Loop
	if dispatcher == nil {
		ownLoop = dispatch.NewLoop(0, logger.Named("dispatch"))
		dispatcher = ownLoop
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewEventBus()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	s := &Service{
		clock:        clk,
		dispatcher:   dispatcher,
		ownLoop:      ownLoop,
		participants: opts.Participants,
		env:          opts.Environment,
		bus:          bus,
		rand:         rnd,
		logger:       logger,
		warn:         newWarnOnce(logger),
		cfg:          opts.Config,
	}

	cycleID := func() string { return s.cycleID }
	s.protection = NewEvaluator(EvaluatorOptions{
		Config:   opts.Config.Protection,
		Objects:  opts.Objects,
		Volumes:  opts.SafeVolumes,
		Resolver: opts.Resolver,
		Clock:    clk,
		Logger:   logger,
		warn:     s.warn,
	})
	s.effects = newReconciler(opts.Config.Effect, opts.Effects, opts.Participants, s.protection, s.publish, cycleID, s.warn, logger)
	s.ticks = &TickProcessor{
		cfg:          opts.Config.Storm,
		participants: opts.Participants,
		protection:   s.protection,
		effects:      s.effects,
		damage:       opts.Damage,
		publish:      s.publish,
		cycleID:      cycleID,
		warn:         s.warn,
		logger:       logger,
	}
	s.deadzone = newDeadzoneAdapter(opts.Config.Deadzone, opts.Regions, s.publish, cycleID, s.warn, logger)
	s.snapshot()
	return s, nil
}

// Bus returns the lifecycle event bus.
func (s *Service) Bus() *events.EventBus {
	return s.bus
}

// Open arms the cadence timer and, when enabled, the auto storm schedule.
func (s *Service) Open(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.opened {
			return
		}
		s.opened = true
		s.armCadence()
		if s.cfg.AutoStorm.Enabled {
			s.scheduleAuto()
		}
		s.logger.Info("radiation storm service opened",
			zap.Duration("tick_interval", s.cfg.Storm.TickInterval()),
			zap.Bool("auto_storm", s.cfg.AutoStorm.Enabled),
		)
		s.snapshot()
	})
}

// Close cancels every timer and undoes everything a running storm changed.
// A Service running its own loop stops it here and cannot be reopened.
func (s *Service) Close(ctx context.Context) error {
	defer s.shutdownLoop()
	return s.do(ctx, func() {
		s.cadence = s.cancel(s.cadence)
		s.duration = s.cancel(s.duration)
		s.delay = s.cancel(s.delay)
		s.auto = s.cancel(s.auto)

		s.effects.ClearAll()
		s.deadzone.Remove()
		s.setEnvironment(false)

		s.active = false
		s.damagePhase = false
		s.nextAutoStart = nil
		s.opened = false
		s.logger.Info("radiation storm service closed")
		s.snapshot()
	})
}

// Start begins a storm. It returns ErrAlreadyActive while one is running.
func (s *Service) Start(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.start("manual") }); doErr != nil {
		return doErr
	}
	return err
}

// Stop ends the running storm. It returns ErrNotActive when there is none.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.stop("manual") }); doErr != nil {
		return doErr
	}
	return err
}

// Status returns the latest state snapshot. It never blocks on the
// dispatcher.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.NextAutoStartAt != nil {
		at := *st.NextAutoStartAt
		st.NextAutoStartAt = &at
	}
	if st.StartedAt != nil {
		at := *st.StartedAt
		st.StartedAt = &at
	}
	return st
}

// Now returns the scheduler's clock time, for computing Status.Remaining.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Reload replaces the configuration. The cadence timer is re-armed with the
// new interval and the auto storm schedule is rebuilt when idle.
func (s *Service) Reload(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return ErrMissingConfig
	}
	return s.do(ctx, func() {
		old := s.cfg
		if s.effects.enabled() && (!cfg.Effect.Active() || cfg.Effect.ID != old.Effect.ID) {
			s.effects.ClearAll()
		}

		s.cfg = cfg
		s.protection.SetConfig(cfg.Protection)
		s.effects.setConfig(cfg.Effect)
		s.ticks.setConfig(cfg.Storm)
		s.deadzone.setConfig(cfg.Deadzone)

		if s.opened {
			s.armCadence()
			if !s.active {
				if cfg.AutoStorm.Enabled {
					s.scheduleAuto()
				} else {
					s.auto = s.cancel(s.auto)
					s.nextAutoStart = nil
				}
			}
		}
		s.logger.Info("configuration reloaded",
			zap.Duration("tick_interval", cfg.Storm.TickInterval()),
			zap.Int("damage_per_tick", cfg.Storm.DamagePerTick),
			zap.Bool("auto_storm", cfg.AutoStorm.Enabled),
		)
		s.snapshot()
	})
}

// ParticipantJoined shows the effect to a newly connected participant when
// the damage phase is already running.
func (s *Service) ParticipantJoined(id string) {
	s.runLoop()
	s.dispatcher.Post(func() {
		if !s.active || !s.damagePhase {
			return
		}
		p, ok := s.participants.Participant(id)
		if !ok {
			return
		}
		s.ticks.applyEffectTo(p)
	})
}

func (s *Service) start(trigger string) error {
	if s.active {
		return ErrAlreadyActive
	}
	s.active = true
	s.damagePhase = false
	s.cycleID = uuid.NewString()
	now := s.clock.Now()
	s.startedAt = &now
	s.warn.Reset()

	s.auto = s.cancel(s.auto)
	s.nextAutoStart = nil

	s.logger.Info("storm started",
		zap.String("cycle_id", s.cycleID),
		zap.String("trigger", trigger),
		zap.Duration("duration", s.cfg.Storm.Duration()),
		zap.Duration("damage_delay", s.cfg.Storm.DamageDelay()),
	)
	evt := events.NewEvent(events.EventStormStarted, s.cycleID)
	evt.Description = trigger
	s.publish(evt)

	if d := s.cfg.Storm.Duration(); d > 0 {
		s.duration = s.after(d, s.onDurationElapsed)
	}
	s.setEnvironment(true)
	s.deadzone.Create()

	if delay := s.cfg.Storm.DamageDelay(); delay > 0 {
		s.delay = s.after(delay, s.activateDamagePhase)
	} else {
		s.activateDamagePhase()
	}
	s.snapshot()
	return nil
}

func (s *Service) stop(reason string) error {
	if !s.active {
		return ErrNotActive
	}
	s.active = false
	s.damagePhase = false
	s.duration = s.cancel(s.duration)
	s.delay = s.cancel(s.delay)

	s.effects.ClearAll()
	s.deadzone.Remove()
	s.setEnvironment(false)

	s.logger.Info("storm stopped",
		zap.String("cycle_id", s.cycleID),
		zap.String("reason", reason),
	)
	evt := events.NewEvent(events.EventStormStopped, s.cycleID)
	evt.Description = reason
	s.publish(evt)

	if s.cfg.AutoStorm.Enabled {
		s.scheduleAuto()
	}
	s.snapshot()
	return nil
}

func (s *Service) onDurationElapsed() {
	s.duration = nil
	if !s.active {
		return
	}
	if err := s.stop("duration"); err != nil && !errors.Is(err, ErrNotActive) {
		s.logger.Error("failed to stop storm after duration", zap.Error(err))
	}
}

// activateDamagePhase is safe to call more than once per cycle; only the
// first call has side effects.
func (s *Service) activateDamagePhase() {
	s.delay = s.cancel(s.delay)
	if !s.active || s.damagePhase {
		return
	}
	s.damagePhase = true

	effectOn := s.effects.enabled()
	s.logger.Info("damage phase activated",
		zap.String("cycle_id", s.cycleID),
		zap.Bool("effect", effectOn),
		zap.Int("damage_per_tick", s.cfg.Storm.DamagePerTick),
	)
	if s.cfg.Storm.DamagePerTick <= 0 {
		s.logger.Warn("damage per tick is 0, storm will only apply the visible effect")
	}
	s.publish(events.NewEvent(events.EventDamagePhaseActivated, s.cycleID))

	if effectOn {
		s.ticks.ApplyEffectAll()
	}
	s.snapshot()
}

func (s *Service) onTick() {
	if !s.active || !s.damagePhase {
		return
	}
	s.ticks.Run()
}

func (s *Service) scheduleAuto() {
	s.auto = s.cancel(s.auto)
	if !s.cfg.AutoStorm.Enabled {
		s.nextAutoStart = nil
		return
	}
	interval := AutoStormInterval(s.cfg.AutoStorm.MinIntervalMinutes, s.cfg.AutoStorm.MaxIntervalMinutes, s.rand)
	at := s.clock.Now().Add(interval)
	if !s.active {
		s.nextAutoStart = &at
	}
	s.auto = s.after(interval, s.onAutoStorm)

	s.logger.Info("next radiation storm scheduled",
		zap.Duration("in", interval),
		zap.Time("at", at),
	)
	evt := events.NewEvent(events.EventAutoStormScheduled, s.cycleID)
	evt.At = &at
	s.publish(evt)
}

func (s *Service) onAutoStorm() {
	s.auto = nil
	s.nextAutoStart = nil
	if s.active {
		s.logger.Debug("storm already active, rescheduling auto storm")
		s.scheduleAuto()
		s.snapshot()
		return
	}
	if err := s.start("auto"); err != nil {
		s.logger.Warn("auto storm failed to start", zap.Error(err))
		evt := events.NewEvent(events.EventAutoStormFailed, s.cycleID)
		evt.Description = err.Error()
		s.publish(evt)
		s.scheduleAuto()
		s.snapshot()
	}
}

// AutoStormInterval picks the wait before the next automatic storm: uniform
// in [min, max] minutes, exactly min when both are equal. min is clamped to
// 0.1 minute and max to at least min; the result is never under a second.
func AutoStormInterval(minMinutes, maxMinutes float64, rnd func() float64) time.Duration {
	lo := math.Max(0.1, minMinutes)
	hi := math.Max(lo, maxMinutes)
	minutes := lo
	if hi > lo && rnd != nil {
		minutes = lo + rnd()*(hi-lo)
	}
	d := time.Duration(minutes * float64(time.Minute))
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (s *Service) setEnvironment(on bool) {
	if s.env == nil {
		return
	}
	descriptor := s.weatherOn
	if on {
		if !s.cfg.Weather.Active() || s.weatherOn != "" {
			return
		}
		descriptor = s.cfg.Weather.Descriptor
	} else if descriptor == "" {
		return
	}

	if err := s.env.SetEnvironmentMode(on, descriptor); err != nil {
		s.warn.Warn("weather_failed", "failed to toggle storm weather",
			zap.Bool("on", on),
			zap.String("descriptor", descriptor),
			zap.Error(err),
		)
		if !on {
			s.weatherOn = ""
		}
		return
	}
	if on {
		s.weatherOn = descriptor
	} else {
		s.weatherOn = ""
	}
	evt := events.NewEvent(events.EventWeatherChanged, s.cycleID)
	evt.Flag = on
	evt.Description = descriptor
	s.publish(evt)
}

// do runs f on the dispatcher and waits for it.
func (s *Service) do(ctx context.Context, f func()) error {
	s.runLoop()
	return s.dispatcher.Do(ctx, f)
}

// runLoop starts the Service's own loop the first time it is needed.
func (s *Service) runLoop() {
	if s.ownLoop == nil {
		return
	}
	s.loopOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopLoop = cancel
		go func() {
			if err := s.ownLoop.Run(ctx); err != nil {
				s.logger.Error("dispatch loop failed", zap.Error(err))
			}
		}()
	})
}

func (s *Service) shutdownLoop() {
	if s.ownLoop == nil {
		return
	}
	s.runLoop()
	s.stopLoop()
	<-s.ownLoop.Done()
}

func (s *Service) armCadence() {
	s.cadence = s.cancel(s.cadence)
	s.cadence = s.every(s.cfg.Storm.TickInterval(), s.onTick)
}

func (s *Service) after(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{}
	h.timer = s.clock.AfterFunc(d, s.guarded(h, f))
	return h
}

func (s *Service) every(d time.Duration, f func()) *timerHandle {
	h := &timerHandle{}
	h.timer = s.clock.Every(d, s.guarded(h, f))
	return h
}

func (s *Service) guarded(h *timerHandle, f func()) func() {
	return func() {
		s.dispatcher.Post(func() {
			if h.cancelled {
				return
			}
			f()
		})
	}
}

// cancel stops h and returns nil so callers can clear their field in one step.
func (s *Service) cancel(h *timerHandle) *timerHandle {
	if h == nil {
		return nil
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
	return nil
}

func (s *Service) publish(evt events.Event) {
	evt.Timestamp = s.clock.Now()
	s.bus.Publish(evt)
}

func (s *Service) snapshot() {
	st := Status{
		Active:            s.active,
		DamagePhaseActive: s.damagePhase,
		Phase:             phaseOf(s.active, s.damagePhase),
		AutoStormEnabled:  s.cfg.AutoStorm.Enabled,
		CycleID:           s.cycleID,
	}
	if s.nextAutoStart != nil && !s.active {
		at := *s.nextAutoStart
		st.NextAutoStartAt = &at
	}
	if s.active && s.startedAt != nil {
		at := *s.startedAt
		st.StartedAt = &at
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}
