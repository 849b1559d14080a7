// Package rig binds the vehicle's tagged blocks into leg and drill
// definitions. Binding fails closed: a definition is only returned when every
// required part was found.
package rig

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"voledrone.dev/internal/actuator"
)

// Location tags a leg's corner of the vehicle.
type Location uint8

const (
	FrontLeft Location = iota
	FrontRight
	RearRight
	RearLeft
)

// GaitOrder is the fixed leg order; index i and i+2 are diagonal opposites.
var GaitOrder = [4]Location{FrontLeft, FrontRight, RearRight, RearLeft}

func (l Location) String() string {
	switch l {
	case FrontLeft:
		return "FL"
	case FrontRight:
		return "FR"
	case RearRight:
		return "RR"
	case RearLeft:
		return "RL"
	}
	return fmt.Sprintf("Location(%d)", uint8(l))
}

func ParseLocation(s string) (Location, error) {
	for _, l := range GaitOrder {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown leg location %q", s)
}

// Part names, appended to the location tag to form a block tag.
const (
	PartHipHorizontal = "HipHingeH"
	PartHipVertical   = "HipHingeV"
	PartKnee          = "KneeHinge"
	PartFoot          = "FootHinge"
	PartUpperPiston   = "UpperLegPiston"
	PartLowerPiston   = "LowerLegPiston"
	PartSensor        = "LegSensor"
	PartLandingGear   = "LegLandingGear"

	PartDrillRotor  = "DrillRotor"
	PartDrillPiston = "DrillPiston"
	PartDrillBit    = "MiningDrill"
	PartEjector     = "EjectorConnector"
	PartDrillSensor = "DrillSensor"
)

// Tag is the block tag of a leg part.
func Tag(loc Location, part string) string { return loc.String() + part }

// Block is one tagged device found on the vehicle.
type Block struct {
	Tag    string
	Device any
}

// Inventory is every tagged block of the vehicle.
type Inventory []Block

func (inv Inventory) all(tag string) []any {
	var out []any
	for _, b := range inv {
		if b.Tag == tag {
			out = append(out, b.Device)
		}
	}
	return out
}

// Ranges is the configured rotation range of each leg joint. The positioning
// helper moves limits around; these are what gets restored.
type Ranges struct {
	HipHorizontal actuator.Range
	HipVertical   actuator.Range
	Knee          actuator.Range
	Foot          actuator.Range
}

// DefaultRanges are the hinge limits of the stock leg.
func DefaultRanges() Ranges {
	return Ranges{
		HipHorizontal: actuator.DegRange(-45, 45),
		HipVertical:   actuator.DegRange(-10, 90),
		Knee:          actuator.DegRange(-90, 90),
		Foot:          actuator.DegRange(-90, 90),
	}
}

// LegDefinition is one leg's actuators. It is never mutated after binding.
type LegDefinition struct {
	Location Location

	HipHorizontal actuator.Rotor
	HipVertical   actuator.Rotor
	Knee          actuator.Rotor
	Foot          actuator.Rotor
	UpperPiston   actuator.Piston
	LowerPiston   actuator.Piston
	Sensor        actuator.Sensor
	Feet          []actuator.LockingFoot

	Ranges Ranges
}

// DrillDefinition is the drilling rig's actuators.
type DrillDefinition struct {
	Motor    actuator.Rotor
	Piston   actuator.Piston
	Sensor   actuator.Sensor
	Bits     []actuator.Toggle
	Ejectors []actuator.Toggle
}

type binder struct {
	inv Inventory
	err error
}

func one[T any](b *binder, tag string) T {
	var zero T
	found := b.inv.all(tag)
	switch len(found) {
	case 0:
		b.err = multierr.Append(b.err, fmt.Errorf("missing block %q", tag))
		return zero
	case 1:
	default:
		b.err = multierr.Append(b.err, fmt.Errorf("block %q is tagged %d times", tag, len(found)))
		return zero
	}
	v, ok := found[0].(T)
	if !ok {
		b.err = multierr.Append(b.err, fmt.Errorf("block %q has unexpected type %T", tag, found[0]))
		return zero
	}
	return v
}

func many[T any](b *binder, tag string) []T {
	var out []T
	for _, d := range b.inv.all(tag) {
		v, ok := d.(T)
		if !ok {
			b.err = multierr.Append(b.err, fmt.Errorf("block %q has unexpected type %T", tag, d))
			continue
		}
		out = append(out, v)
	}
	return out
}

// BindLeg looks up every part of the leg at loc. All missing or mistyped
// parts are reported together.
func BindLeg(inv Inventory, loc Location, ranges Ranges) (LegDefinition, error) {
	b := &binder{inv: inv}
	def := LegDefinition{
		Location:      loc,
		HipHorizontal: one[actuator.Rotor](b, Tag(loc, PartHipHorizontal)),
		HipVertical:   one[actuator.Rotor](b, Tag(loc, PartHipVertical)),
		Knee:          one[actuator.Rotor](b, Tag(loc, PartKnee)),
		Foot:          one[actuator.Rotor](b, Tag(loc, PartFoot)),
		UpperPiston:   one[actuator.Piston](b, Tag(loc, PartUpperPiston)),
		LowerPiston:   one[actuator.Piston](b, Tag(loc, PartLowerPiston)),
		Sensor:        one[actuator.Sensor](b, Tag(loc, PartSensor)),
		Feet:          many[actuator.LockingFoot](b, Tag(loc, PartLandingGear)),
		Ranges:        ranges,
	}
	if b.err != nil {
		return LegDefinition{}, fmt.Errorf("leg %s: %w", loc, b.err)
	}
	return def, nil
}

// BindDrill looks up the drilling rig. At least one drill bit is required.
func BindDrill(inv Inventory) (DrillDefinition, error) {
	b := &binder{inv: inv}
	def := DrillDefinition{
		Motor:    one[actuator.Rotor](b, PartDrillRotor),
		Piston:   one[actuator.Piston](b, PartDrillPiston),
		Sensor:   one[actuator.Sensor](b, PartDrillSensor),
		Bits:     many[actuator.Toggle](b, PartDrillBit),
		Ejectors: many[actuator.Toggle](b, PartEjector),
	}
	if len(def.Bits) == 0 {
		b.err = multierr.Append(b.err, fmt.Errorf("missing block %q", PartDrillBit))
	}
	if b.err != nil {
		return DrillDefinition{}, fmt.Errorf("drill: %w", b.err)
	}
	return def, nil
}

// Vehicle is every definition the engine needs.
type Vehicle struct {
	Legs  [4]LegDefinition
	Drill DrillDefinition
}

// BindVehicle binds all four legs in gait order and the drill. Nothing is
// returned unless the whole vehicle bound.
func BindVehicle(inv Inventory, ranges Ranges) (Vehicle, error) {
	var (
		v   Vehicle
		err error
	)
	for i, loc := range GaitOrder {
		def, legErr := BindLeg(inv, loc, ranges)
		err = multierr.Append(err, legErr)
		v.Legs[i] = def
	}
	drill, drillErr := BindDrill(inv)
	err = multierr.Append(err, drillErr)
	if err != nil {
		return Vehicle{}, err
	}
	v.Drill = drill
	return v, nil
}
