package world

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/radstorm/storm-server-go/internal/storm"
	"go.uber.org/zap"
)

// Deadzone is a spherical hazardous region.
type Deadzone struct {
	mu     sync.RWMutex
	id     string
	center storm.Vec3
	radius float64
	rates  storm.DeadzoneRates
}

// NewDeadzone creates an unregistered region.
func NewDeadzone(center storm.Vec3, radius float64) *Deadzone {
	return &Deadzone{
		id:     uuid.New().String(),
		center: center,
		radius: radius,
	}
}

// ID returns the region's identifier.
func (d *Deadzone) ID() string { return d.id }

// Center implements storm.HazardRegion.
func (d *Deadzone) Center() storm.Vec3 { return d.center }

// Radius implements storm.HazardRegion.
func (d *Deadzone) Radius() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.radius
}

// SetRadius implements storm.HazardRegion.
func (d *Deadzone) SetRadius(r float64) error {
	if r < 0 {
		return fmt.Errorf("deadzone radius must not be negative: %v", r)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.radius = r
	return nil
}

// SetRates implements storm.RateSetter.
func (d *Deadzone) SetRates(rates storm.DeadzoneRates) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rates = rates
	return nil
}

// Rates implements storm.RateReporter.
func (d *Deadzone) Rates() storm.DeadzoneRates {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rates
}

// Contains reports whether pos lies inside the region.
func (d *Deadzone) Contains(pos storm.Vec3) bool {
	r := d.Radius()
	return pos.Sub(d.center).SqrMagnitude() <= r*r
}

// HazardRegions implements storm.RegionLister.
func (w *World) HazardRegions() ([]storm.HazardRegion, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]storm.HazardRegion, 0, len(w.regions))
	for _, d := range w.regions {
		out = append(out, d)
	}
	return out, nil
}

// Deadzones returns the registered regions.
func (w *World) Deadzones() []*Deadzone {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*Deadzone(nil), w.regions...)
}

// NewHazardRegion implements storm.RegionFactory.
func (w *World) NewHazardRegion(center storm.Vec3, radius float64) (storm.HazardRegion, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("deadzone radius must be positive: %v", radius)
	}
	return NewDeadzone(center, radius), nil
}

// RegisterHazardRegion implements storm.RegionRegistrar.
func (w *World) RegisterHazardRegion(region storm.HazardRegion) error {
	d, ok := region.(*Deadzone)
	if !ok {
		return fmt.Errorf("unsupported hazard region %T", region)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, existing := range w.regions {
		if existing == d {
			return nil
		}
	}
	w.regions = append(w.regions, d)
	w.logger.Info("deadzone registered",
		zap.String("deadzone_id", d.id),
		zap.Float64("radius", d.Radius()),
	)
	return nil
}

// RemoveHazardRegion implements storm.RegionRemover.
func (w *World) RemoveHazardRegion(region storm.HazardRegion) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, d := range w.regions {
		if storm.HazardRegion(d) == region {
			w.regions = append(w.regions[:i], w.regions[i+1:]...)
			w.logger.Info("deadzone removed", zap.String("deadzone_id", d.id))
			return nil
		}
	}
	return ErrUnknownRegion
}

// RefreshHazardRegions implements storm.RegionRefresher.
func (w *World) RefreshHazardRegions() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refreshes++
	return nil
}

// MapSize implements storm.MapSizer.
func (w *World) MapSize() (uint8, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mapSize, w.mapSizeKnown
}

// InDeadzone reports whether pos lies inside any registered region.
func (w *World) InDeadzone(pos storm.Vec3) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range w.regions {
		if d.Contains(pos) {
			return true
		}
	}
	return false
}
