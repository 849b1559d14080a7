package simrig

import (
	"time"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/cargo"
	"voledrone.dev/internal/rig"
)

// Leg is one simulated leg with a trivial ground model: the foot meets the
// ground once the hip has swung down to GroundHip.
type Leg struct {
	HipHorizontal *Rotor
	HipVertical   *Rotor
	Knee          *Rotor
	Foot          *Rotor
	Upper         *Piston
	Lower         *Piston
	Sensor        *Sensor
	Feet          []*Foot

	GroundHip float64 // radians
}

// Drill is the simulated drilling rig. Rock starts at RockAt along the feed
// stroke; while the bits cut it, ore flows into the cargo.
type Drill struct {
	Motor    *Rotor
	Piston   *Piston
	Sensor   *Sensor
	Bits     []*Toggle
	Ejectors []*Toggle

	RockAt     float64
	OreRate    float64 // kg/s
	StoneShare float64
}

// Vehicle is the whole simulated drone.
type Vehicle struct {
	Legs  [4]*Leg
	Drill *Drill
	Cargo []*Container

	EjectRate float64 // kg/s of blacklisted ore pushed out by the ejectors
}

func newLeg(ranges rig.Ranges) *Leg {
	return &Leg{
		HipHorizontal: NewRotor(0, ranges.HipHorizontal),
		HipVertical:   NewRotor(actuator.Radians(90), ranges.HipVertical),
		Knee:          NewRotor(0, ranges.Knee),
		Foot:          NewRotor(0, ranges.Foot),
		Upper:         NewPiston(0, 10),
		Lower:         NewPiston(0, 10),
		Sensor:        NewSensor(),
		Feet:          []*Foot{NewFoot()},
		GroundHip:     actuator.Radians(40),
	}
}

// NewVehicle builds a stowed vehicle with four legs, a drill and two
// containers.
func NewVehicle(ranges rig.Ranges) *Vehicle {
	v := &Vehicle{
		Drill: &Drill{
			Motor:      NewRotor(0, actuator.Unlimited),
			Piston:     NewPiston(0, 10),
			Sensor:     NewSensor(),
			Bits:       []*Toggle{{}, {}},
			Ejectors:   []*Toggle{{}},
			RockAt:     0.3,
			OreRate:    20,
			StoneShare: 0.6,
		},
		Cargo:     []*Container{NewContainer(15.625), NewContainer(15.625)},
		EjectRate: 15,
	}
	for i := range v.Legs {
		v.Legs[i] = newLeg(ranges)
	}
	return v
}

// Leg returns the simulated leg at loc.
func (v *Vehicle) Leg(loc rig.Location) *Leg {
	for i, l := range rig.GaitOrder {
		if l == loc {
			return v.Legs[i]
		}
	}
	return nil
}

// Inventory lists every block under the tags the binder expects.
func (v *Vehicle) Inventory() rig.Inventory {
	var inv rig.Inventory
	add := func(tag string, d any) { inv = append(inv, rig.Block{Tag: tag, Device: d}) }
	for i, loc := range rig.GaitOrder {
		l := v.Legs[i]
		add(rig.Tag(loc, rig.PartHipHorizontal), l.HipHorizontal)
		add(rig.Tag(loc, rig.PartHipVertical), l.HipVertical)
		add(rig.Tag(loc, rig.PartKnee), l.Knee)
		add(rig.Tag(loc, rig.PartFoot), l.Foot)
		add(rig.Tag(loc, rig.PartUpperPiston), l.Upper)
		add(rig.Tag(loc, rig.PartLowerPiston), l.Lower)
		add(rig.Tag(loc, rig.PartSensor), l.Sensor)
		for _, f := range l.Feet {
			add(rig.Tag(loc, rig.PartLandingGear), f)
		}
	}
	add(rig.PartDrillRotor, v.Drill.Motor)
	add(rig.PartDrillPiston, v.Drill.Piston)
	add(rig.PartDrillSensor, v.Drill.Sensor)
	for _, b := range v.Drill.Bits {
		add(rig.PartDrillBit, b)
	}
	for _, e := range v.Drill.Ejectors {
		add(rig.PartEjector, e)
	}
	return inv
}

// Containers exposes the cargo to a monitor.
func (v *Vehicle) Containers() []cargo.Inventory {
	out := make([]cargo.Inventory, len(v.Cargo))
	for i, c := range v.Cargo {
		out[i] = c
	}
	return out
}

// Step advances every actuator by d and applies the ground and ore models.
func (v *Vehicle) Step(d time.Duration) {
	dt := seconds(d)
	for _, l := range v.Legs {
		l.step(dt)
	}
	v.Drill.step(dt, v)
}

func (l *Leg) step(dt float64) {
	for _, r := range []*Rotor{l.HipHorizontal, l.HipVertical, l.Knee, l.Foot} {
		r.step(dt)
	}
	l.Upper.step(dt)
	l.Lower.step(dt)

	grounded := l.HipVertical.Angle() <= l.GroundHip
	l.Sensor.Trigger(grounded)
	for _, f := range l.Feet {
		if f.AutoLock() && !f.Locked() && (grounded || l.Lower.Position() >= 0.5) {
			f.Lock()
		}
	}
}

func (d *Drill) cutting() bool {
	if d.Piston.Position() < d.RockAt || !actuator.RotorMoving(d.Motor) {
		return false
	}
	for _, b := range d.Bits {
		if b.Enabled() {
			return true
		}
	}
	return false
}

func (d *Drill) step(dt float64, v *Vehicle) {
	d.Motor.step(dt)
	d.Piston.step(dt)
	d.Sensor.Trigger(d.Piston.Position() >= d.RockAt)

	if d.cutting() {
		kg := d.OreRate * dt
		v.store(cargo.Stone, kg*d.StoneShare)
		v.store("Iron", kg*(1-d.StoneShare))
	}
	for _, e := range d.Ejectors {
		if !e.Enabled() {
			continue
		}
		left := v.EjectRate * dt
		for _, c := range v.Cargo {
			left -= c.Remove(cargo.Stone, left)
			if left <= 0 {
				break
			}
		}
	}
}

func (v *Vehicle) store(item string, kg float64) {
	for _, c := range v.Cargo {
		kg -= c.Add(item, kg)
		if kg <= 1e-9 {
			return
		}
	}
}

// Settled reports whether every rotor and piston of the vehicle is idle.
func (v *Vehicle) Settled() bool {
	for _, l := range v.Legs {
		for _, r := range []*Rotor{l.HipHorizontal, l.HipVertical, l.Knee, l.Foot} {
			if r.TargetVelocity() != 0 {
				return false
			}
		}
		if l.Upper.Velocity() != 0 || l.Lower.Velocity() != 0 {
			return false
		}
	}
	return true
}
