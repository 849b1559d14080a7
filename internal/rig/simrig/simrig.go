// Package simrig is a kinematic stand-in for the vehicle: actuators
// integrate their commanded velocity each step and stop at their limits.
// There is no physics beyond that.
package simrig

import (
	"math"
	"time"

	"voledrone.dev/internal/actuator"
)

// Rotor is a simulated hinge or motor.
type Rotor struct {
	angle   float64
	enabled bool
	locked  bool
	rpm     float64
	lower   float64
	upper   float64
}

func NewRotor(angle float64, r actuator.Range) *Rotor {
	return &Rotor{angle: angle, enabled: true, lower: r.Lower, upper: r.Upper}
}

func (r *Rotor) Angle() float64                { return r.angle }
func (r *Rotor) Enabled() bool                 { return r.enabled }
func (r *Rotor) SetEnabled(v bool)             { r.enabled = v }
func (r *Rotor) Locked() bool                  { return r.locked }
func (r *Rotor) SetLocked(v bool)              { r.locked = v }
func (r *Rotor) TargetVelocity() float64       { return r.rpm }
func (r *Rotor) SetTargetVelocity(rpm float64) { r.rpm = rpm }
func (r *Rotor) LowerLimit() float64           { return r.lower }
func (r *Rotor) UpperLimit() float64           { return r.upper }
func (r *Rotor) SetLowerLimit(v float64)       { r.lower = v }
func (r *Rotor) SetUpperLimit(v float64)       { r.upper = v }

// SetAngle teleports the rotor; tests use it to stage a posture.
func (r *Rotor) SetAngle(a float64) { r.angle = a }

func (r *Rotor) step(dt float64) {
	if !r.enabled || r.locked || r.rpm == 0 {
		return
	}
	next := r.angle + r.rpm*2*math.Pi/60*dt
	if r.rpm > 0 && next > r.upper {
		next = math.Max(r.angle, r.upper)
	}
	if r.rpm < 0 && next < r.lower {
		next = math.Min(r.angle, r.lower)
	}
	r.angle = next
}

// Piston is a simulated linear actuator of a given stroke length (m).
type Piston struct {
	pos      float64
	velocity float64
	enabled  bool
	stroke   float64

	// Obstacle caps extension; values >= 1 mean nothing is in the way.
	Obstacle float64
}

func NewPiston(pos, stroke float64) *Piston {
	return &Piston{pos: pos, enabled: true, stroke: stroke, Obstacle: 1}
}

func (p *Piston) Position() float64     { return p.pos }
func (p *Piston) Velocity() float64     { return p.velocity }
func (p *Piston) SetVelocity(v float64) { p.velocity = v }
func (p *Piston) Enabled() bool         { return p.enabled }
func (p *Piston) SetEnabled(v bool)     { p.enabled = v }

// SetPosition teleports the piston.
func (p *Piston) SetPosition(v float64) { p.pos = v }

func (p *Piston) Status() actuator.PistonStatus {
	switch {
	case p.pos >= 1 && p.velocity >= 0:
		return actuator.Extended
	case p.pos <= 0 && p.velocity <= 0:
		return actuator.Retracted
	case !p.enabled || p.velocity == 0:
		return actuator.Stopped
	case p.velocity > 0:
		return actuator.Extending
	default:
		return actuator.Retracting
	}
}

func (p *Piston) step(dt float64) {
	if !p.enabled || p.velocity == 0 {
		return
	}
	next := p.pos + p.velocity/p.stroke*dt
	ceiling := math.Min(1, p.Obstacle)
	if p.velocity > 0 && next > ceiling {
		next = math.Max(p.pos, ceiling)
	}
	if next < 0 {
		next = 0
	}
	p.pos = next
}

// Sensor is a simulated contact sensor.
type Sensor struct {
	active  bool
	enabled bool
	Broken  bool
}

func NewSensor() *Sensor { return &Sensor{} }

func (s *Sensor) Active() bool      { return s.enabled && !s.Broken && s.active }
func (s *Sensor) Working() bool     { return !s.Broken }
func (s *Sensor) Enabled() bool     { return s.enabled }
func (s *Sensor) SetEnabled(v bool) { s.enabled = v }

// Trigger sets the raw detection state.
func (s *Sensor) Trigger(v bool) { s.active = v }

// Foot is a simulated landing gear.
type Foot struct {
	locked   bool
	autoLock bool
	Broken   bool
}

func NewFoot() *Foot { return &Foot{} }

func (f *Foot) Locked() bool       { return f.locked }
func (f *Foot) Working() bool      { return !f.Broken }
func (f *Foot) AutoLock() bool     { return f.autoLock }
func (f *Foot) SetAutoLock(v bool) { f.autoLock = v }
func (f *Foot) Unlock()            { f.locked = false }
func (f *Foot) Lock() {
	if !f.Broken {
		f.locked = true
	}
}

// Toggle is a simulated on/off block.
type Toggle struct{ enabled bool }

func (t *Toggle) Enabled() bool     { return t.enabled }
func (t *Toggle) SetEnabled(v bool) { t.enabled = v }

// Container is a simulated cargo container holding ore by mass.
type Container struct {
	max   float64
	items map[string]float64
}

func NewContainer(maxVolume float64) *Container {
	return &Container{max: maxVolume, items: map[string]float64{}}
}

func (c *Container) MaxVolume() float64 { return c.max }

func (c *Container) CurrentVolume() float64 {
	var v float64
	for _, kg := range c.items {
		v += kg * oreVolumePerKilo
	}
	return v
}

func (c *Container) ItemAmount(item string) float64 { return c.items[item] }

// Add stores kg of item, limited by free volume. It returns what fit.
func (c *Container) Add(item string, kg float64) float64 {
	free := (c.max - c.CurrentVolume()) / oreVolumePerKilo
	if kg > free {
		kg = math.Max(0, free)
	}
	c.items[item] += kg
	return kg
}

// Remove takes up to kg of item out and returns what was removed.
func (c *Container) Remove(item string, kg float64) float64 {
	have := c.items[item]
	if kg > have {
		kg = have
	}
	c.items[item] = have - kg
	return kg
}

const oreVolumePerKilo = 0.00037

func seconds(d time.Duration) float64 { return d.Seconds() }
