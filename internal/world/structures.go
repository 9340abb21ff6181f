package world

// SafezoneRadiator is the runtime object of a radiator structure. It exposes
// its reach and power state only as plain fields, the way the game's own
// building objects do, so the storm discovers them by member name.
type SafezoneRadiator struct {
	EffectRadius float64
	powered      bool
}

// NewSafezoneRadiator creates a radiator runtime object.
func NewSafezoneRadiator(radius float64, powered bool) *SafezoneRadiator {
	return &SafezoneRadiator{EffectRadius: radius, powered: powered}
}

// Heater is a modded structure that reports its reach and power explicitly.
type Heater struct {
	Radius float64
	On     bool
}

// EffectiveRadius implements storm.RadiusReporter.
func (h *Heater) EffectiveRadius() float64 { return h.Radius }

// Powered implements storm.PowerReporter.
func (h *Heater) Powered() bool { return h.On }
