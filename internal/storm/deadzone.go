package storm

import (
	"math"

	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/events"
	"go.uber.org/zap"
)

const (
	defaultMapSize  uint8   = 4
	mapTileMeters   float64 = 512
	deadzoneBufferM float64 = 100
)

// DeadzoneRates are the damage figures pushed to hazardous regions.
type DeadzoneRates struct {
	UnprotectedDamagePerSecond    float64
	ProtectedDamagePerSecond      float64
	UnprotectedRadiationPerSecond float64
	MaskFilterDamagePerSecond     float64
}

// HazardRegion is a world-level hazardous region ("deadzone").
type HazardRegion interface {
	Center() Vec3
	Radius() float64
	SetRadius(r float64) error
}

// RateSetter is implemented by regions whose damage rates can be changed.
type RateSetter interface {
	SetRates(rates DeadzoneRates) error
}

// RateReporter is implemented by regions that can report their current
// damage rates, so they can be put back after a storm.
type RateReporter interface {
	Rates() DeadzoneRates
}

// RegionLister lists the hazardous regions defined for the current world.
type RegionLister interface {
	HazardRegions() ([]HazardRegion, error)
}

// RegionFactory builds a new, unregistered region.
type RegionFactory interface {
	NewHazardRegion(center Vec3, radius float64) (HazardRegion, error)
}

// RegionRegistrar makes a region live.
type RegionRegistrar interface {
	RegisterHazardRegion(region HazardRegion) error
}

// RegionRemover unregisters a region.
type RegionRemover interface {
	RemoveHazardRegion(region HazardRegion) error
}

// RegionRefresher asks the world to pick up region changes.
type RegionRefresher interface {
	RefreshHazardRegions() error
}

// MapSizer reports the world's map size class; the map spans
// 512 * 2^size meters per side.
type MapSizer interface {
	MapSize() (uint8, bool)
}

// TargetDeadzoneRadius returns the radius needed to cover the whole map from
// its center: half the map diagonal plus a buffer, or configured if larger.
func TargetDeadzoneRadius(configured float64, mapSize uint8) float64 {
	meters := mapTileMeters * math.Pow(2, float64(mapSize))
	diagonal := math.Sqrt2 * meters / 2
	return math.Max(configured, diagonal+deadzoneBufferM)
}

type widenedRegion struct {
	region   HazardRegion
	original float64
	rates    *DeadzoneRates
}

// DeadzoneHandle records what the adapter changed so it can be undone.
type DeadzoneHandle struct {
	widened []widenedRegion
	created HazardRegion
}

// Widened returns how many pre-existing regions are currently widened.
func (h DeadzoneHandle) Widened() int { return len(h.widened) }

// Created reports whether the adapter registered a region of its own.
func (h DeadzoneHandle) Created() bool { return h.created != nil }

// Empty reports whether there is nothing to restore.
func (h DeadzoneHandle) Empty() bool { return len(h.widened) == 0 && h.created == nil }

// DeadzoneAdapter widens or creates hazardous regions while a storm runs.
// Every capability is optional; a missing one skips the feature and per-tick
// damage remains the storm's effect.
type DeadzoneAdapter struct {
	cfg     config.DeadzoneConfig
	world   any
	publish func(events.Event)
	cycleID func() string
	warn    *warnOnce
	logger  *zap.Logger

	handle DeadzoneHandle
}

// NewDeadzoneAdapter creates an adapter over world, which may implement any
// subset of the region capability interfaces (or be nil).
func NewDeadzoneAdapter(cfg config.DeadzoneConfig, world any, logger *zap.Logger) *DeadzoneAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newDeadzoneAdapter(cfg, world, nil, nil, newWarnOnce(logger), logger)
}

func newDeadzoneAdapter(cfg config.DeadzoneConfig, world any, publish func(events.Event), cycleID func() string, warn *warnOnce, logger *zap.Logger) *DeadzoneAdapter {
	if publish == nil {
		publish = func(events.Event) {}
	}
	if cycleID == nil {
		cycleID = func() string { return "" }
	}
	return &DeadzoneAdapter{
		cfg:     cfg,
		world:   world,
		publish: publish,
		cycleID: cycleID,
		warn:    warn,
		logger:  logger,
	}
}

func (a *DeadzoneAdapter) setConfig(cfg config.DeadzoneConfig) {
	a.cfg = cfg
}

// Handle returns a copy of the current restoration handle.
func (a *DeadzoneAdapter) Handle() DeadzoneHandle {
	return DeadzoneHandle{
		widened: append([]widenedRegion(nil), a.handle.widened...),
		created: a.handle.created,
	}
}

func (a *DeadzoneAdapter) rates() DeadzoneRates {
	return DeadzoneRates{
		UnprotectedDamagePerSecond:    a.cfg.UnprotectedDamagePerSecond,
		ProtectedDamagePerSecond:      a.cfg.ProtectedDamagePerSecond,
		UnprotectedRadiationPerSecond: a.cfg.UnprotectedRadiationPerSecond,
		MaskFilterDamagePerSecond:     a.cfg.MaskFilterDamagePerSecond,
	}
}

func (a *DeadzoneAdapter) targetRadius() float64 {
	size := defaultMapSize
	if sizer, ok := a.world.(MapSizer); ok {
		if s, known := sizer.MapSize(); known {
			size = s
		}
	}
	return TargetDeadzoneRadius(a.cfg.Radius, size)
}

// Create widens the world's existing hazardous regions to cover the map, or
// creates one when none exist. Any previous handle is restored first.
func (a *DeadzoneAdapter) Create() {
	if !a.cfg.Enabled {
		return
	}
	a.Remove()

	target := a.targetRadius()
	if a.widenExisting(target) {
		a.logger.Info("using existing deadzones",
			zap.Int("regions", len(a.handle.widened)),
			zap.Float64("radius", target),
		)
		a.publishApplied(len(a.handle.widened), false)
		return
	}
	if a.createRegion(target) {
		a.logger.Info("deadzone created",
			zap.Float64("radius", target),
		)
		a.publishApplied(0, true)
		return
	}
	a.logger.Warn("unable to create deadzone, falling back to per-tick damage")
}

func (a *DeadzoneAdapter) publishApplied(widened int, created bool) {
	evt := events.NewEvent(events.EventDeadzoneApplied, a.cycleID())
	evt.Amount = widened
	evt.Flag = created
	a.publish(evt)
}

func (a *DeadzoneAdapter) widenExisting(target float64) bool {
	lister, ok := a.world.(RegionLister)
	if !ok {
		return false
	}
	regions, err := lister.HazardRegions()
	if err != nil {
		a.warn.Warn("deadzone_list_failed", "failed to list existing deadzones", zap.Error(err))
		return false
	}

	rates := a.rates()
	for _, region := range regions {
		if region == nil {
			continue
		}
		original := region.Radius()
		if err := region.SetRadius(math.Max(original, target)); err != nil {
			a.logger.Warn("failed to widen deadzone",
				zap.Float64("radius", original),
				zap.Error(err),
			)
			continue
		}
		// Recorded before the rate update so a failure there still restores.
		w := widenedRegion{region: region, original: original}
		if reporter, ok := region.(RateReporter); ok {
			prev := reporter.Rates()
			w.rates = &prev
		}
		a.handle.widened = append(a.handle.widened, w)
		a.applyRates(region, rates)
	}
	return len(a.handle.widened) > 0
}

func (a *DeadzoneAdapter) createRegion(target float64) bool {
	factory, ok := a.world.(RegionFactory)
	if !ok {
		a.warn.Warn("deadzone_factory_missing", "world cannot construct deadzones")
		return false
	}
	registrar, ok := a.world.(RegionRegistrar)
	if !ok {
		a.warn.Warn("deadzone_registrar_missing", "world cannot register deadzones")
		return false
	}

	region, err := factory.NewHazardRegion(Vec3{}, target)
	if err != nil || region == nil {
		a.warn.Warn("deadzone_build_failed", "deadzone could not be constructed", zap.Error(err))
		return false
	}
	a.applyRates(region, a.rates())
	if err := registrar.RegisterHazardRegion(region); err != nil {
		a.warn.Warn("deadzone_register_failed", "failed to register deadzone", zap.Error(err))
		return false
	}
	a.handle.created = region

	if refresher, ok := a.world.(RegionRefresher); ok {
		if err := refresher.RefreshHazardRegions(); err != nil {
			a.logger.Warn("failed to refresh deadzones", zap.Error(err))
		}
	}
	return true
}

func (a *DeadzoneAdapter) applyRates(region HazardRegion, rates DeadzoneRates) {
	setter, ok := region.(RateSetter)
	if !ok {
		return
	}
	if err := setter.SetRates(rates); err != nil {
		a.logger.Warn("failed to set deadzone rates", zap.Error(err))
	}
}

// Remove puts widened regions back to their original radius and removes a
// region the adapter created. It is safe to call repeatedly.
func (a *DeadzoneAdapter) Remove() {
	if a.handle.Empty() {
		return
	}

	restored := 0
	for _, w := range a.handle.widened {
		if err := w.region.SetRadius(w.original); err != nil {
			a.logger.Warn("failed to restore deadzone",
				zap.Float64("radius", w.original),
				zap.Error(err),
			)
			continue
		}
		if w.rates != nil {
			a.applyRates(w.region, *w.rates)
		}
		restored++
	}
	a.handle.widened = nil

	removed := false
	if a.handle.created != nil {
		if remover, ok := a.world.(RegionRemover); ok {
			if err := remover.RemoveHazardRegion(a.handle.created); err != nil {
				a.logger.Warn("failed to remove deadzone", zap.Error(err))
			} else {
				removed = true
			}
		} else {
			a.logger.Warn("world cannot remove deadzones, created deadzone left in place")
		}
		a.handle.created = nil
	}

	a.logger.Info("deadzone restored",
		zap.Int("restored", restored),
		zap.Bool("removed_created", removed),
	)
	evt := events.NewEvent(events.EventDeadzoneRestored, a.cycleID())
	evt.Amount = restored
	evt.Flag = removed
	a.publish(evt)
}
