package storm

import (
	"fmt"
	"math"
	"time"

	"github.com/radstorm/storm-server-go/internal/clock"
	"github.com/radstorm/storm-server-go/internal/config"
	"go.uber.org/zap"
)

// ProtectionZone is the reach of one discovered radiator at refresh time.
type ProtectionZone struct {
	Center        Vec3
	Radius        float64
	RadiusSquared float64
}

// Contains reports whether pos lies inside the zone.
func (z ProtectionZone) Contains(pos Vec3) bool {
	return pos.Sub(z.Center).SqrMagnitude() <= z.RadiusSquared
}

// Protector decides whether a participant is immune to the storm.
type Protector interface {
	IsProtected(p Participant) bool
}

// Evaluator combines the radiator check with the breathable-volume check. It
// is owned by the storm's dispatch loop and is not safe for concurrent use.
type Evaluator struct {
	cfg      config.ProtectionConfig
	objects  WorldObjectSource
	volumes  SafeVolumeChecker
	resolver AttributeResolver
	clock    clock.Clock
	warn     *warnOnce
	logger   *zap.Logger

	zones  []ProtectionZone
	expiry time.Time
	itemID map[uint16]struct{}
}

// EvaluatorOptions configures NewEvaluator. Objects, Volumes and Resolver
// are optional.
type EvaluatorOptions struct {
	Config   config.ProtectionConfig
	Objects  WorldObjectSource
	Volumes  SafeVolumeChecker
	Resolver AttributeResolver
	Clock    clock.Clock
	Logger   *zap.Logger
	warn     *warnOnce
}

// NewEvaluator creates a protection evaluator.
func NewEvaluator(opts EvaluatorOptions) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = DefaultResolver()
	}
	warn := opts.warn
	if warn == nil {
		warn = newWarnOnce(logger)
	}
	e := &Evaluator{
		objects:  opts.Objects,
		volumes:  opts.Volumes,
		resolver: resolver,
		clock:    clk,
		warn:     warn,
		logger:   logger,
	}
	e.SetConfig(opts.Config)
	return e
}

// SetConfig replaces the protection settings and drops the radiator cache.
func (e *Evaluator) SetConfig(cfg config.ProtectionConfig) {
	e.cfg = cfg
	e.itemID = make(map[uint16]struct{}, len(cfg.Radiators.ItemIDs))
	for _, id := range cfg.Radiators.ItemIDs {
		e.itemID[id] = struct{}{}
	}
	e.Invalidate()
}

// Invalidate forces the next radiator check to rescan the world.
func (e *Evaluator) Invalidate() {
	e.zones = nil
	e.expiry = time.Time{}
}

// IsProtected implements Protector. The radiator check runs first and
// short-circuits.
func (e *Evaluator) IsProtected(p Participant) bool {
	if p == nil {
		return false
	}
	pos := p.Position()
	if e.InRadiatorZone(pos) {
		return true
	}
	return e.InSafeVolume(pos)
}

// InRadiatorZone reports whether pos is inside any cached radiator zone.
func (e *Evaluator) InRadiatorZone(pos Vec3) bool {
	if !e.cfg.Radiators.Enabled {
		e.Invalidate()
		return false
	}
	e.refreshIfNeeded()
	for _, z := range e.zones {
		if z.Contains(pos) {
			return true
		}
	}
	return false
}

// InSafeVolume reports whether pos is inside a breathable volume deeply
// enough to count as safe.
func (e *Evaluator) InSafeVolume(pos Vec3) bool {
	if !e.cfg.Oxygen.Enabled {
		return false
	}
	if e.volumes == nil {
		e.warn.Warn("oxygen_unavailable", "breathable volume check unavailable, oxygen safe zones will be ignored")
		return false
	}
	inside, alpha, err := e.volumes.BreathableAt(pos)
	if err != nil {
		e.warn.Warn("oxygen_check_failed", "oxygen safe zone check failed, oxygen safe zones will be ignored", zap.Error(err))
		return false
	}
	return inside && alpha >= math.Max(0, e.cfg.Oxygen.AlphaThreshold)
}

// Zones returns a copy of the cached radiator zones, refreshing if due.
func (e *Evaluator) Zones() []ProtectionZone {
	if !e.cfg.Radiators.Enabled {
		return nil
	}
	e.refreshIfNeeded()
	return append([]ProtectionZone(nil), e.zones...)
}

func (e *Evaluator) refreshIfNeeded() {
	now := e.clock.Now()
	if now.Before(e.expiry) {
		return
	}
	refresh := math.Max(1, e.cfg.Radiators.RefreshSeconds)
	e.expiry = now.Add(time.Duration(refresh * float64(time.Second)))

	zones, err := e.collect()
	if err != nil {
		e.warn.Warn("radiator_scan_failed", "failed to refresh safezone radiators", zap.Error(err))
		e.zones = nil
		return
	}
	e.zones = zones
	e.logger.Debug("safezone radiators refreshed", zap.Int("zones", len(zones)))
}

func (e *Evaluator) collect() (zones []ProtectionZone, err error) {
	if len(e.itemID) == 0 || e.objects == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			zones = nil
			err = fmt.Errorf("radiator scan panicked: %v", r)
		}
	}()

	objects, err := e.objects.PlacedObjects()
	if err != nil {
		return nil, err
	}
	for _, obj := range objects {
		if zone, ok := e.zoneFor(obj); ok {
			zones = append(zones, zone)
		}
	}
	return zones, nil
}

func (e *Evaluator) zoneFor(obj PlacedObject) (ProtectionZone, bool) {
	if _, ok := e.itemID[obj.ItemID]; !ok {
		return ProtectionZone{}, false
	}

	radius := e.cfg.Radiators.DefaultRadius
	powered := true
	if obj.Interactable != nil {
		attrs := e.resolver.Resolve(obj.Interactable)
		if attrs.HasRadius && attrs.Radius > 0 {
			radius = attrs.Radius
		}
		if e.cfg.Radiators.RequiresPower && attrs.HasPowered {
			powered = attrs.Powered
		}
	}
	if e.cfg.Radiators.RequiresPower && !powered {
		return ProtectionZone{}, false
	}
	if radius <= 0 {
		radius = e.cfg.Radiators.DefaultRadius
	}
	return ProtectionZone{
		Center:        obj.Position,
		Radius:        radius,
		RadiusSquared: radius * radius,
	}, true
}
