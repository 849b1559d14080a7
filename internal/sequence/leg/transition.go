package leg

import (
	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/sequence"
)

// Transition applies ev to s and returns the resulting state together with
// the commands that realise it. It never touches an actuator.
func Transition(s State, ev Event, obs Observation, p Params) (State, []Command) {
	switch ev.Kind {
	case Tick:
		return tick(s, obs, p)
	case Contact:
		return contact(s, obs, p)
	case Lock:
		return lock(s, obs, p)
	case Continue:
		if s.Wait == WaitContinue {
			s.Continued = true
			s.WaitingForContinue = false
		}
		return s, nil
	case Restart:
		return restart(s, ev.Force)
	case RequestDirection:
		return requestDirection(s, ev.Direction)
	case Pack:
		return pack(s, p)
	case Unpack:
		return unpack(s, p)
	case Enable:
		s.Disabled = false
		return s, arm(true)
	case Disable:
		s.Disabled = true
		return s, arm(false)
	}
	return s, nil
}

// Interrupts derives the contact and lock interrupts the readbacks imply.
func Interrupts(s State, obs Observation) []Event {
	var evs []Event
	if obs.SensorActive && !s.SensorTriggered && sensing(s) {
		evs = append(evs, Event{Kind: Contact})
	}
	if obs.FootLocked && !s.GearLocked && locking(s) {
		evs = append(evs, Event{Kind: Lock})
	}
	return evs
}

func active(s State) bool { return !s.Packed && !s.Disabled }

func sensing(s State) bool {
	return active(s) && s.Step >= StepSweepKnee && s.Step <= StepReachGround
}

func locking(s State) bool {
	return active(s) && s.Step >= StepSweepKnee && s.Step <= StepPlantFoot
}

func tick(s State, obs Observation, p Params) (State, []Command) {
	if !active(s) {
		return s, nil
	}
	s, done := satisfied(s, obs, p)
	if !done {
		return s, nil
	}
	s.Step++
	return enter(s, obs, p)
}

func near(angle, deg, tol float64) bool {
	return actuator.AreSimilar(angle, actuator.Radians(deg), tol)
}

func satisfied(s State, obs Observation, p Params) (State, bool) {
	switch s.Wait {
	case WaitReady:
		return s, true
	case WaitLowerRetracted:
		return s, obs.Lower.Status == actuator.Retracted
	case WaitJointsParked:
		return s, near(obs.HipVertical, 90, p.JointTolerance) &&
			near(obs.Knee, p.KneeTuckDeg, p.JointTolerance) &&
			near(obs.Foot, 0, p.JointTolerance)
	case WaitUpperStroke:
		if s.Direction == sequence.Up {
			return s, obs.Upper.Status == actuator.Extended
		}
		return s, obs.Upper.Status == actuator.Retracted
	case WaitKneeSwept:
		return s, s.SensorTriggered || obs.Knee <= obs.KneeLower+p.JointTolerance
	case WaitHipLowered:
		return s, s.SensorTriggered || obs.HipVertical < actuator.Radians(p.HipLoweredDeg)
	case WaitHipFlat:
		flat := obs.HipVertical <= actuator.Radians(p.HipFlatDeg)
		if s.Direction == sequence.Up {
			return s, s.GearLocked || flat
		}
		return s, s.SensorTriggered || flat
	case WaitPlanted:
		return s, s.GearLocked || obs.Lower.Status == actuator.Extended
	case WaitContinue:
		return s, s.Continued
	case WaitTranslated:
		return translated(s, obs)
	}
	return s, false
}

// translated reports whether the driving piston has stalled, after letting
// the fresh velocity settle for a few ticks.
func translated(s State, obs Observation) (State, bool) {
	if s.settle > 0 {
		s.settle--
		return s, false
	}
	var upper, lower bool
	if s.drive&driveUpper != 0 {
		s.upperStall, upper = s.upperStall.Piston(obs.Upper.Status, obs.Upper.Position)
	}
	if s.drive&driveLower != 0 {
		s.lowerStall, lower = s.lowerStall.Piston(obs.Lower.Status, obs.Lower.Position)
	}
	return s, upper || lower
}

// enter runs the body of s.Step and records its wait.
func enter(s State, obs Observation, p Params) (State, []Command) {
	var cmds []Command
	switch s.Step {
	case StepReleaseFeet:
		s.InProgress = true
		s.Ended = false
		s.HasAscended = false
		s.SensorTriggered = false
		s.GearLocked = false
		s.Continued = false
		cmds = append(cmds,
			locked(Feet, false),
			autoLock(false),
			enabled(LowerPiston, true),
			velocity(LowerPiston, -p.PistonSpeed*p.ReturnMult),
		)
		s.Wait = WaitLowerRetracted

	case StepParkJoints:
		for _, r := range []Part{HipVertical, Knee, Foot} {
			cmds = append(cmds, restore(r), enabled(r, true), velocity(r, 0))
		}
		cmds = append(cmds,
			rotateTo(HipVertical, 90, p.RotorRPM),
			rotateTo(Knee, p.KneeTuckDeg, p.RotorRPM),
			rotateTo(Foot, 0, p.RotorRPM),
			enabled(UpperPiston, true),
			velocity(UpperPiston, -p.PistonSpeed*p.SlowFactor),
		)
		s.Wait = WaitJointsParked

	case StepUpperStroke:
		v := -p.PistonSpeed * p.ReturnMult
		if s.Direction == sequence.Up {
			v = p.PistonSpeed
		}
		cmds = append(cmds, enabled(UpperPiston, true), velocity(UpperPiston, v))
		s.Wait = WaitUpperStroke

	case StepSweepKnee:
		cmds = append(cmds,
			enabled(ContactSensor, true),
			restore(Knee),
			velocity(Knee, -p.RotorRPM),
		)
		s.Wait = WaitKneeSwept

	case StepSweepHip:
		cmds = append(cmds,
			restore(HipVertical),
			locked(HipVertical, false),
			velocity(HipVertical, -p.RotorRPM),
		)
		s.Wait = WaitHipLowered

	case StepReachGround:
		if s.Direction == sequence.Up {
			cmds = append(cmds, autoLock(true))
		} else {
			cmds = append(cmds, enabled(UpperPiston, true), velocity(UpperPiston, p.PistonSpeed))
		}
		s.Wait = WaitHipFlat

	case StepPlantFoot:
		cmds = append(cmds,
			velocity(HipVertical, 0),
			velocity(Knee, 0),
			locked(HipVertical, true),
			velocity(UpperPiston, 0),
			enabled(ContactSensor, false),
			autoLock(true),
		)
		if !s.GearLocked {
			cmds = append(cmds, enabled(LowerPiston, true), velocity(LowerPiston, p.PistonSpeed))
		}
		s.Wait = WaitPlanted

	case StepAwaitContinue:
		cmds = append(cmds, velocity(LowerPiston, 0))
		s.ShouldMoveNextLeg = true
		s.WaitingForContinue = true
		s.Continued = false
		s.Wait = WaitContinue

	case StepReleaseJoints:
		s.WaitingForContinue = false
		cmds = append(cmds,
			locked(HipVertical, false),
			locked(Knee, false),
			enabled(Knee, false),
			locked(Foot, false),
			enabled(Foot, false),
		)
		s.Wait = WaitReady

	case StepTranslateBody:
		var cmd []Command
		s, cmd = translate(s, obs, p)
		cmds = append(cmds, cmd...)
		s.Wait = WaitTranslated

	case StepEnd:
		for _, r := range rotors {
			cmds = append(cmds, velocity(r, 0))
		}
		cmds = append(cmds,
			locked(HipVertical, true),
			locked(Knee, true),
			locked(Foot, true),
			velocity(UpperPiston, 0),
			velocity(LowerPiston, 0),
			enabled(ContactSensor, false),
		)
		s.Ended = true
		s.InProgress = false
		s.WaitingForContinue = false
		if s.Direction == sequence.Up && obs.HipVertical < actuator.Radians(p.AscendedHipDeg) {
			s.HasAscended = true
		}
		s.Wait = WaitHalt

	default:
		s.Wait = WaitHalt
	}
	return s, cmds
}

// translate picks the pistons that move the body for the current hip
// angle: mostly vertical legs push with the upper piston, mostly horizontal
// ones with the lower, anything between blends both.
func translate(s State, obs Observation, p Params) (State, []Command) {
	hip := actuator.Degrees(obs.HipVertical)
	sign := 1.0
	if s.Direction == sequence.Up {
		sign = -1
	}
	var upper, lower float64
	switch {
	case hip > p.UpperBandDeg:
		upper = sign * p.PistonSpeed
		s.drive = driveUpper
	case hip < p.LowerBandDeg:
		lower = -sign * p.PistonSpeed
		s.drive = driveLower
	default:
		f := hip / 90
		upper = sign * actuator.Lerp(0, p.PistonSpeed, f)
		lower = -sign * actuator.Lerp(0, p.PistonSpeed, 1-f)
		s.drive = driveUpper | driveLower
	}
	s.settle = p.SettleTicks
	s.upperStall = actuator.Tracker{}
	s.lowerStall = actuator.Tracker{}
	return s, []Command{
		enabled(UpperPiston, true),
		enabled(LowerPiston, true),
		velocity(UpperPiston, upper),
		velocity(LowerPiston, lower),
	}
}

func contact(s State, obs Observation, p Params) (State, []Command) {
	if !sensing(s) || s.SensorTriggered {
		return s, nil
	}
	s.SensorTriggered = true
	cmds := []Command{
		velocity(HipVertical, 0),
		velocity(Knee, 0),
		locked(HipVertical, true),
	}
	s.Step = StepPlantFoot
	s, body := enter(s, obs, p)
	return s, append(cmds, body...)
}

func lock(s State, obs Observation, p Params) (State, []Command) {
	if !locking(s) || s.GearLocked {
		return s, nil
	}
	s.GearLocked = true
	cmds := []Command{velocity(LowerPiston, 0)}
	if s.Step < StepPlantFoot {
		cmds = append(cmds, velocity(HipVertical, 0), velocity(Knee, 0))
		s.Step = StepPlantFoot
		var body []Command
		s, body = enter(s, obs, p)
		cmds = append(cmds, body...)
	}
	return s, cmds
}

func restart(s State, force bool) (State, []Command) {
	if !force && !s.Ended {
		return s, nil
	}
	s.Direction = s.Requested
	s = resetCycle(s)
	cmds := arm(true)
	for _, r := range rotors {
		cmds = append(cmds, velocity(r, 0))
	}
	cmds = append(cmds, velocity(UpperPiston, 0), velocity(LowerPiston, 0))
	return s, cmds
}

func resetCycle(s State) State {
	s.Step = sequence.Idle
	s.Wait = WaitReady
	s.InProgress = false
	s.Ended = false
	s.WaitingForContinue = false
	s.ShouldMoveNextLeg = false
	s.HasAscended = false
	s.SensorTriggered = false
	s.GearLocked = false
	s.Continued = false
	s.drive, s.settle = 0, 0
	return s
}

func requestDirection(s State, d sequence.Direction) (State, []Command) {
	s.Requested = d
	if d == s.Direction || s.Step > StepUpperStroke {
		return s, nil
	}
	s.Direction = d
	return resetCycle(s), []Command{velocity(UpperPiston, 0), velocity(LowerPiston, 0)}
}

// arm enables (or locks and disables) every joint and piston.
func arm(on bool) []Command {
	var cmds []Command
	for _, r := range rotors {
		cmds = append(cmds, locked(r, !on), enabled(r, on))
	}
	return append(cmds, enabled(UpperPiston, on), enabled(LowerPiston, on))
}

func stowed(s State, packed bool) State {
	return State{
		Step:      sequence.Idle,
		Direction: sequence.Down,
		Requested: sequence.Down,
		Wait:      WaitReady,
		Packed:    packed,
		Disabled:  s.Disabled,
	}
}

func pack(s State, p Params) (State, []Command) {
	var cmds []Command
	for _, r := range rotors {
		cmds = append(cmds, restore(r), locked(r, false), enabled(r, true))
	}
	cmds = append(cmds,
		rotateTo(Foot, 0, p.RotorRPM),
		rotateTo(HipHorizontal, 0, p.RotorRPM),
		velocity(Knee, p.RotorRPM),
		velocity(HipVertical, p.RotorRPM),
		locked(Feet, false),
		autoLock(false),
		enabled(UpperPiston, true),
		enabled(LowerPiston, true),
		velocity(UpperPiston, -p.PistonSpeed*p.ReturnMult),
		velocity(LowerPiston, -p.PistonSpeed*p.ReturnMult),
		enabled(ContactSensor, false),
	)
	return stowed(s, true), cmds
}

func unpack(s State, p Params) (State, []Command) {
	var cmds []Command
	for _, r := range rotors {
		cmds = append(cmds, restore(r), locked(r, false), enabled(r, true))
	}
	cmds = append(cmds,
		rotateTo(Foot, 0, p.RotorRPM),
		rotateTo(HipHorizontal, 0, p.RotorRPM),
		velocity(Knee, -p.RotorRPM),
		velocity(HipVertical, -p.RotorRPM),
		locked(Feet, false),
		autoLock(false),
		enabled(UpperPiston, true),
		enabled(LowerPiston, true),
		velocity(UpperPiston, p.PistonSpeed),
		velocity(LowerPiston, p.PistonSpeed),
		enabled(ContactSensor, false),
	)
	return stowed(s, false), cmds
}
