// Package drill runs the drilling rig through its spin, feed, dwell and
// retract cycle. Like the leg sequencer it is an explicit step index, a
// wait kind and a pure Transition.
package drill

import (
	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/sequence"
)

const (
	StepSpinUp  = 0
	StepFeed    = 1
	StepDwell   = 2
	StepRetract = 3
	StepEnd     = 4
)

type Wait uint8

const (
	WaitReady Wait = iota
	WaitSpinUp
	WaitExtended
	WaitDwell
	WaitRetracted
)

// State is the drill's persisted sequencer state plus the motor stall
// tracker.
type State struct {
	Step           int
	Wait           Wait
	InProgress     bool
	Packed         bool
	EnableEjectors bool
	TicksWaited    int
	Periodic       int

	motorStall actuator.Tracker
}

// NewState is a stowed drill with ejectors allowed.
func NewState() State {
	return State{Step: sequence.Idle, Packed: true, EnableEjectors: true}
}

type Params struct {
	DrillingSpeed float64
	RPM           float64
	ReturnSpeed   float64

	SpinUpTicks int
	DwellTicks  int
	// CheckEvery is the feed-adjustment cadence, in ticks.
	CheckEvery    int
	SlowThreshold float64 // cargo fill
	SlowDivisor   float64
}

func DefaultParams() Params {
	return Params{
		DrillingSpeed: 0.05,
		RPM:           3,
		ReturnSpeed:   1.0,
		SpinUpTicks:   30,
		DwellTicks:    30,
		CheckEvery:    5,
		SlowThreshold: 0.6,
		SlowDivisor:   3,
	}
}

func (p Params) slow() float64 { return p.DrillingSpeed / p.SlowDivisor }

// feed is the drilling feed speed for a cargo fill factor.
func (p Params) feed(fill float64) float64 {
	if fill > p.SlowThreshold {
		return p.slow()
	}
	return p.DrillingSpeed
}

// Observation is the drill's readbacks plus the last cargo fill factor.
type Observation struct {
	Piston       actuator.PistonStatus
	MotorMoving  bool
	MotorAngle   float64
	SensorActive bool
	CargoFill    float64
}

type EventKind uint8

const (
	Tick EventKind = iota
	Pack
	Unpack
	SetEjectors
)

func (k EventKind) String() string {
	switch k {
	case Tick:
		return "tick"
	case Pack:
		return "pack"
	case Unpack:
		return "unpack"
	case SetEjectors:
		return "set-ejectors"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Flag bool
}

type Part uint8

const (
	Motor Part = iota
	FeedPiston
	Sensor
	Bits
	Ejectors
)

type Op uint8

const (
	SetVelocity Op = iota
	SetEnabled
	SetLimits
)

// Command is one actuator write. Range is only read by SetLimits.
type Command struct {
	Part  Part
	Op    Op
	Value float64
	Flag  bool
	Range actuator.Range
}

func velocity(p Part, v float64) Command { return Command{Part: p, Op: SetVelocity, Value: v} }
func enabled(p Part, on bool) Command    { return Command{Part: p, Op: SetEnabled, Flag: on} }
func limits(r actuator.Range) Command    { return Command{Part: Motor, Op: SetLimits, Range: r} }
