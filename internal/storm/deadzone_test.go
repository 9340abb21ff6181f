package storm

import (
	"testing"

	"github.com/radstorm/storm-server-go/internal/config"
	"github.com/radstorm/storm-server-go/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRegion struct {
	center Vec3
	radius float64
	rates  *DeadzoneRates
}

func (r *fakeRegion) Center() Vec3 { return r.center }
func (r *fakeRegion) Radius() float64 { return r.radius }

func (r *fakeRegion) SetRadius(radius float64) error {
	r.radius = radius
	return nil
}

func (r *fakeRegion) SetRates(rates DeadzoneRates) error {
	r.rates = &rates
	return nil
}

// ratedRegion also reports its current rates.
type ratedRegion struct {
	fakeRegion
}

func (r *ratedRegion) Rates() DeadzoneRates {
	if r.rates == nil {
		return DeadzoneRates{}
	}
	return *r.rates
}

// regionWorld implements every region capability.
type regionWorld struct {
	regions   []HazardRegion
	size      uint8
	sizeKnown bool
	refreshes int
}

func (w *regionWorld) HazardRegions() ([]HazardRegion, error) {
	return append([]HazardRegion(nil), w.regions...), nil
}

func (w *regionWorld) NewHazardRegion(center Vec3, radius float64) (HazardRegion, error) {
	return &fakeRegion{center: center, radius: radius}, nil
}

func (w *regionWorld) RegisterHazardRegion(region HazardRegion) error {
	w.regions = append(w.regions, region)
	return nil
}

func (w *regionWorld) RemoveHazardRegion(region HazardRegion) error {
	for i, r := range w.regions {
		if r == region {
			w.regions = append(w.regions[:i], w.regions[i+1:]...)
			return nil
		}
	}
	return errBoom
}

func (w *regionWorld) RefreshHazardRegions() error {
	w.refreshes++
	return nil
}

func (w *regionWorld) MapSize() (uint8, bool) {
	return w.size, w.sizeKnown
}

// factoryOnly can build regions but not register them.
type factoryOnly struct{}

func (factoryOnly) NewHazardRegion(center Vec3, radius float64) (HazardRegion, error) {
	return &fakeRegion{center: center, radius: radius}, nil
}

func deadzoneConfig() config.DeadzoneConfig {
	return testConfig().Deadzone
}

func TestTargetDeadzoneRadius(t *testing.T) {
	assert.InDelta(t, 5892.6188, TargetDeadzoneRadius(0, 4), 0.001)
	assert.InDelta(t, 462.0387, TargetDeadzoneRadius(0, 0), 0.001)
	assert.Equal(t, 10000.0, TargetDeadzoneRadius(10000, 4))
}

func TestDeadzoneWidensExistingRegions(t *testing.T) {
	small := &fakeRegion{center: Vec3{X: 10}, radius: 50}
	huge := &fakeRegion{center: Vec3{X: -10}, radius: 9000}
	world := &regionWorld{regions: []HazardRegion{small, huge}}
	a := NewDeadzoneAdapter(deadzoneConfig(), world, zaptest.NewLogger(t))

	a.Create()
	target := TargetDeadzoneRadius(0, defaultMapSize)
	assert.InDelta(t, target, small.radius, 0.001)
	assert.Equal(t, 9000.0, huge.radius)
	require.NotNil(t, small.rates)
	assert.Equal(t, 5.0, small.rates.UnprotectedDamagePerSecond)
	assert.Equal(t, 1.0, small.rates.MaskFilterDamagePerSecond)
	assert.Equal(t, 2, a.Handle().Widened())
	assert.False(t, a.Handle().Created())
	assert.Len(t, world.regions, 2)

	a.Remove()
	assert.Equal(t, 50.0, small.radius)
	assert.Equal(t, 9000.0, huge.radius)
	assert.Len(t, world.regions, 2, "pre-existing regions are never removed")
	assert.True(t, a.Handle().Empty())
}

func TestDeadzoneRestoresOriginalRates(t *testing.T) {
	original := DeadzoneRates{
		UnprotectedDamagePerSecond:    7,
		ProtectedDamagePerSecond:      1,
		UnprotectedRadiationPerSecond: 2,
		MaskFilterDamagePerSecond:     3,
	}
	region := &ratedRegion{fakeRegion{radius: 40, rates: &original}}
	world := &regionWorld{regions: []HazardRegion{region}}
	a := NewDeadzoneAdapter(deadzoneConfig(), world, zaptest.NewLogger(t))

	a.Create()
	assert.Equal(t, 5.0, region.Rates().UnprotectedDamagePerSecond)
	assert.Equal(t, 1.0, region.Rates().MaskFilterDamagePerSecond)

	a.Remove()
	assert.Equal(t, 40.0, region.radius)
	assert.Equal(t, original, region.Rates())
}

func TestDeadzoneCreatesRegionWhenNoneExist(t *testing.T) {
	world := &regionWorld{size: 2, sizeKnown: true}
	a := NewDeadzoneAdapter(deadzoneConfig(), world, zaptest.NewLogger(t))

	a.Create()
	require.Len(t, world.regions, 1)
	created := world.regions[0].(*fakeRegion)
	assert.Equal(t, Vec3{}, created.center)
	assert.InDelta(t, TargetDeadzoneRadius(0, 2), created.radius, 0.001)
	assert.NotNil(t, created.rates)
	assert.Equal(t, 1, world.refreshes)
	assert.True(t, a.Handle().Created())

	a.Remove()
	assert.Empty(t, world.regions)
	a.Remove()
	assert.Empty(t, world.regions)
}

func TestDeadzoneCreateReplacesPreviousHandle(t *testing.T) {
	world := &regionWorld{}
	a := NewDeadzoneAdapter(deadzoneConfig(), world, zaptest.NewLogger(t))

	a.Create()
	a.Create()
	assert.Len(t, world.regions, 1)
	a.Remove()
	assert.Empty(t, world.regions)
}

func TestDeadzoneSkippedWithoutCapabilities(t *testing.T) {
	for name, world := range map[string]any{
		"nil":          nil,
		"no registrar": factoryOnly{},
		"unrelated":    struct{}{},
	} {
		t.Run(name, func(t *testing.T) {
			a := NewDeadzoneAdapter(deadzoneConfig(), world, zaptest.NewLogger(t))
			assert.NotPanics(t, func() {
				a.Create()
				a.Remove()
			})
			assert.True(t, a.Handle().Empty())
		})
	}
}

func TestDeadzoneDisabled(t *testing.T) {
	cfg := deadzoneConfig()
	cfg.Enabled = false
	world := &regionWorld{}
	a := NewDeadzoneAdapter(cfg, world, zaptest.NewLogger(t))

	a.Create()
	assert.Empty(t, world.regions)
}

func TestDeadzoneLifecycleFollowsStorm(t *testing.T) {
	world := &regionWorld{}
	h := newHarness(t, testConfig(), func(o *Options) { o.Regions = world })

	var applied, restored []events.Event
	h.bus.SubscribeTyped(events.EventDeadzoneApplied, func(evt events.Event) { applied = append(applied, evt) })
	h.bus.SubscribeTyped(events.EventDeadzoneRestored, func(evt events.Event) { restored = append(restored, evt) })

	require.NoError(t, h.svc.Start(t.Context()))
	assert.Len(t, world.regions, 1)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].Flag)
	assert.Equal(t, h.svc.Status().CycleID, applied[0].CycleID)

	require.NoError(t, h.svc.Stop(t.Context()))
	assert.Empty(t, world.regions)
	require.Len(t, restored, 1)
	assert.True(t, restored[0].Flag)
}
