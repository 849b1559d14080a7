// Package actuator defines the handles the sequencers drive and the
// readback helpers shared by every sequencer.
package actuator

import "math"

// PistonStatus is the state a linear actuator reports about its stroke.
type PistonStatus uint8

const (
	Stopped PistonStatus = iota
	Extending
	Retracting
	Extended
	Retracted
)

func (s PistonStatus) String() string {
	switch s {
	case Extending:
		return "EXTENDING"
	case Retracting:
		return "RETRACTING"
	case Extended:
		return "EXTENDED"
	case Retracted:
		return "RETRACTED"
	default:
		return "STOPPED"
	}
}

// Moving reports whether the status is an active stroke.
func (s PistonStatus) Moving() bool { return s == Extending || s == Retracting }

// Rotor is a rotary joint (hinge or motor). Angles and limits are radians,
// velocity is RPM. An unlimited side is reported as ±Inf.
type Rotor interface {
	Angle() float64
	Enabled() bool
	SetEnabled(bool)
	Locked() bool
	SetLocked(bool)
	TargetVelocity() float64
	SetTargetVelocity(rpm float64)
	LowerLimit() float64
	UpperLimit() float64
	SetLowerLimit(rad float64)
	SetUpperLimit(rad float64)
}

// Piston is a linear actuator. Position is normalized to 0..1.
type Piston interface {
	Position() float64
	Velocity() float64
	SetVelocity(v float64)
	Enabled() bool
	SetEnabled(bool)
	Status() PistonStatus
}

// Sensor is a binary proximity/contact sensor.
type Sensor interface {
	Active() bool
	Working() bool
	Enabled() bool
	SetEnabled(bool)
}

// LockingFoot is a landing gear or magnetic plate.
type LockingFoot interface {
	Locked() bool
	Working() bool
	AutoLock() bool
	SetAutoLock(bool)
	Lock()
	Unlock()
}

// Toggle is anything that is only switched on or off (drill heads, ejectors).
type Toggle interface {
	Enabled() bool
	SetEnabled(bool)
}

// Range is a rotor's configured rotation range in radians.
type Range struct {
	Lower float64
	Upper float64
}

// Unlimited is the range of a free-spinning rotor.
var Unlimited = Range{Lower: math.Inf(-1), Upper: math.Inf(1)}

// DegRange builds a Range from degrees.
func DegRange(lower, upper float64) Range {
	return Range{Lower: Radians(lower), Upper: Radians(upper)}
}

// Apply writes the range back onto the rotor.
func (r Range) Apply(rotor Rotor) {
	rotor.SetLowerLimit(r.Lower)
	rotor.SetUpperLimit(r.Upper)
}

// AnyLocked reports whether at least one foot in the set is locked.
func AnyLocked(feet []LockingFoot) bool {
	for _, f := range feet {
		if f.Locked() {
			return true
		}
	}
	return false
}
