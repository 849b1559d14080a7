package actuator

import "math"

// Minimum movement between two consecutive checks for an actuator to count
// as still moving.
const (
	LinearEpsilon = 0.0005
	RotaryEpsilon = 0.05
)

// Tracker holds the last reading of a single actuator. It is a value so
// state machines can keep it inside their own state.
type Tracker struct {
	Last   float64
	Primed bool
}

// Piston feeds one piston reading and reports whether it has stopped.
func (t Tracker) Piston(status PistonStatus, pos float64) (Tracker, bool) {
	if !status.Moving() {
		return Tracker{}, true
	}
	if t.Primed && math.Abs(pos-t.Last) < LinearEpsilon {
		return Tracker{Last: pos, Primed: true}, true
	}
	return Tracker{Last: pos, Primed: true}, false
}

// Rotor feeds one rotor reading and reports whether it has stopped.
// moving is false when the rotor is disabled, locked or has no velocity.
func (t Tracker) Rotor(moving bool, angle float64) (Tracker, bool) {
	if !moving {
		return Tracker{}, true
	}
	if t.Primed && math.Abs(math.Remainder(angle-t.Last, twoPi)) < RotaryEpsilon {
		return Tracker{Last: angle, Primed: true}, true
	}
	return Tracker{Last: angle, Primed: true}, false
}

// RotorMoving reports whether r is commanded to turn.
func RotorMoving(r Rotor) bool {
	return r.Enabled() && !r.Locked() && r.TargetVelocity() != 0
}

// StallDetector tracks "has it moved since the last call" for a set of
// actuators. It must be called every tick the actuator is expected to move.
type StallDetector struct {
	pistons map[Piston]Tracker
	rotors  map[Rotor]Tracker
}

func NewStallDetector() *StallDetector {
	d := &StallDetector{}
	d.Reset()
	return d
}

// Reset forgets every reference reading.
func (d *StallDetector) Reset() {
	d.pistons = map[Piston]Tracker{}
	d.rotors = map[Rotor]Tracker{}
}

// PistonStopped reports whether p is not moving.
func (d *StallDetector) PistonStopped(p Piston) bool {
	t, stopped := d.pistons[p].Piston(p.Status(), p.Position())
	d.pistons[p] = t
	return stopped
}

// RotorStopped reports whether r is not turning.
func (d *StallDetector) RotorStopped(r Rotor) bool {
	t, stopped := d.rotors[r].Rotor(RotorMoving(r), r.Angle())
	d.rotors[r] = t
	return stopped
}
