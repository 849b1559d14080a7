// Package leg runs one leg through its plant-and-push gait cycle.
//
// The cycle is an explicit step index plus the kind of wait the last step
// left behind. Transition is pure: it takes the state, one event and the
// actuator readbacks, and returns the next state and the actuator commands
// to issue. Sequencer binds it to real actuators.
package leg

import (
	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/sequence"
)

// Steps of the cycle. Idle means no step has run since the last restart.
const (
	StepReleaseFeet   = 0
	StepParkJoints    = 1
	StepUpperStroke   = 2
	StepSweepKnee     = 3
	StepSweepHip      = 4
	StepReachGround   = 5
	StepPlantFoot     = 6
	StepAwaitContinue = 7
	StepReleaseJoints = 8
	StepTranslateBody = 9
	StepEnd           = 10
)

// Wait is the completion condition a step leaves for the next tick.
type Wait uint8

const (
	WaitReady Wait = iota
	WaitLowerRetracted
	WaitJointsParked
	WaitUpperStroke
	WaitKneeSwept
	WaitHipLowered
	WaitHipFlat
	WaitPlanted
	WaitContinue
	WaitTranslated
	WaitHalt
)

// Pistons driven during body translation.
const (
	driveUpper uint8 = 1 << iota
	driveLower
)

// State is the leg's complete sequencer state. Fields after the marker are
// scratch and are not persisted.
type State struct {
	Step      int
	Direction sequence.Direction
	Requested sequence.Direction
	Wait      Wait

	InProgress         bool
	Ended              bool
	WaitingForContinue bool
	ShouldMoveNextLeg  bool
	Packed             bool
	Disabled           bool
	HasAscended        bool
	SensorTriggered    bool
	GearLocked         bool
	Continued          bool

	// scratch
	drive      uint8
	settle     int
	upperStall actuator.Tracker
	lowerStall actuator.Tracker
}

// NewState is a stowed leg facing down.
func NewState() State {
	return State{Step: sequence.Idle, Direction: sequence.Down, Requested: sequence.Down, Packed: true}
}

// Params are the tunables of the leg cycle.
type Params struct {
	RotorRPM    float64
	PistonSpeed float64
	ReturnMult  float64
	SlowFactor  float64

	KneeTuckDeg    float64
	HipLoweredDeg  float64
	HipFlatDeg     float64
	UpperBandDeg   float64
	LowerBandDeg   float64
	AscendedHipDeg float64
	JointTolerance float64 // radians
	SettleTicks    int
}

func DefaultParams() Params {
	return Params{
		RotorRPM:       2,
		PistonSpeed:    0.5,
		ReturnMult:     1,
		SlowFactor:     0.25,
		KneeTuckDeg:    -15,
		HipLoweredDeg:  52,
		HipFlatDeg:     2,
		UpperBandDeg:   70,
		LowerBandDeg:   20,
		AscendedHipDeg: 15,
		JointTolerance: 0.01,
		SettleTicks:    3,
	}
}

// Reading is one piston's readback.
type Reading struct {
	Position float64
	Status   actuator.PistonStatus
}

// Observation is every readback a transition may consult. Angles are
// radians.
type Observation struct {
	HipVertical float64
	Knee        float64
	Foot        float64
	KneeLower   float64

	Upper Reading
	Lower Reading

	SensorActive bool
	FootLocked   bool
}

// EventKind enumerates what can happen to a leg.
type EventKind uint8

const (
	Tick EventKind = iota
	Contact
	Lock
	Continue
	Restart
	RequestDirection
	Pack
	Unpack
	Enable
	Disable
)

func (k EventKind) String() string {
	switch k {
	case Tick:
		return "tick"
	case Contact:
		return "contact"
	case Lock:
		return "lock"
	case Continue:
		return "continue"
	case Restart:
		return "restart"
	case RequestDirection:
		return "request-direction"
	case Pack:
		return "pack"
	case Unpack:
		return "unpack"
	case Enable:
		return "enable"
	case Disable:
		return "disable"
	}
	return "unknown"
}

type Event struct {
	Kind      EventKind
	Force     bool
	Direction sequence.Direction
}

// Part addresses one actuator (or group) of the leg.
type Part uint8

const (
	HipHorizontal Part = iota
	HipVertical
	Knee
	Foot
	UpperPiston
	LowerPiston
	ContactSensor
	Feet
)

// Op is what a command does to its part.
type Op uint8

const (
	SetVelocity Op = iota + 1 // Value: rpm for rotors, m/s for pistons
	SetEnabled                // Flag
	SetLocked                 // Flag; on Feet locks or unlocks every foot
	SetAutoLock               // Flag
	RotateTo                  // Value: degrees, Speed: rpm
	RestoreRange
)

type Command struct {
	Part  Part
	Op    Op
	Value float64
	Speed float64
	Flag  bool
}

func velocity(p Part, v float64) Command { return Command{Part: p, Op: SetVelocity, Value: v} }
func enabled(p Part, on bool) Command    { return Command{Part: p, Op: SetEnabled, Flag: on} }
func locked(p Part, on bool) Command     { return Command{Part: p, Op: SetLocked, Flag: on} }
func autoLock(on bool) Command           { return Command{Part: Feet, Op: SetAutoLock, Flag: on} }
func restore(p Part) Command             { return Command{Part: p, Op: RestoreRange} }
func rotateTo(p Part, deg, rpm float64) Command {
	return Command{Part: p, Op: RotateTo, Value: deg, Speed: rpm}
}

var rotors = []Part{HipHorizontal, HipVertical, Knee, Foot}
