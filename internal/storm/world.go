package storm

import "math"

// Vec3 is a position in world space, in meters.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// SqrMagnitude returns the squared length of v.
func (v Vec3) SqrMagnitude() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Magnitude returns the length of v.
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.SqrMagnitude())
}

// Participant is a connected player as seen by the storm.
type Participant interface {
	ID() string
	Position() Vec3
	Dead() bool
	IsAdmin() bool
}

// ParticipantSource enumerates the participants currently connected.
type ParticipantSource interface {
	Participants() []Participant
	Participant(id string) (Participant, bool)
}

// DamageCause tags damage dealt by the storm.
type DamageCause string

// CauseInfection is the cause attached to per-tick storm damage.
const CauseInfection DamageCause = "INFECTION"

// DamageSink applies damage to a participant.
type DamageSink interface {
	ApplyDamage(p Participant, amount int, cause DamageCause) error
}

// EffectSink shows and hides the visible storm effect for a participant.
type EffectSink interface {
	SendEffect(p Participant, effectID uint16, key int16) error
	ClearEffect(p Participant, effectID uint16) error
}

// Environment toggles an environment-wide mode such as weather.
type Environment interface {
	SetEnvironmentMode(on bool, descriptor string) error
}

// SafeVolumeChecker reports whether a position lies inside a breathable volume,
// with alpha expressing how deep inside it is (0..1).
type SafeVolumeChecker interface {
	BreathableAt(pos Vec3) (inside bool, alpha float64, err error)
}

// PlacedObject is a structure placed in the world. Interactable carries the
// runtime object whose radius and power state are discovered by probing.
type PlacedObject struct {
	ItemID       uint16
	Position     Vec3
	Interactable any
}

// WorldObjectSource enumerates placed structures.
type WorldObjectSource interface {
	PlacedObjects() ([]PlacedObject, error)
}
