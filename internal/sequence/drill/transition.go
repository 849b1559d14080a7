package drill

import (
	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/sequence"
)

// Transition applies ev to s and returns the next state and the actuator
// commands that realise it.
func Transition(s State, ev Event, obs Observation, p Params) (State, []Command) {
	switch ev.Kind {
	case Tick:
		return tick(s, obs, p)
	case Pack:
		return pack(s, p)
	case Unpack:
		return unpack(s)
	case SetEjectors:
		s.EnableEjectors = ev.Flag
		if s.InProgress && s.Step >= StepSpinUp && s.Step < StepRetract {
			return s, []Command{enabled(Ejectors, ev.Flag)}
		}
		return s, nil
	}
	return s, nil
}

func tick(s State, obs Observation, p Params) (State, []Command) {
	if s.Packed {
		return s, nil
	}
	s, done, cmds := satisfied(s, obs, p)
	if !done {
		return s, cmds
	}
	s.Step++
	s, body := enter(s, obs, p)
	return s, append(cmds, body...)
}

// waitTicks counts one tick and reports whether more than n have passed.
func waitTicks(s State, n int) (State, bool) {
	s.TicksWaited++
	if s.TicksWaited > n {
		s.TicksWaited = 0
		return s, true
	}
	return s, false
}

// periodic reports whether this tick is a feed-adjustment tick.
func periodic(s State, p Params) (State, bool) {
	s.Periodic++
	if s.Periodic < p.CheckEvery {
		return s, false
	}
	s.Periodic = 0
	return s, true
}

func satisfied(s State, obs Observation, p Params) (State, bool, []Command) {
	switch s.Wait {
	case WaitReady:
		return s, true, nil
	case WaitSpinUp:
		next, done := waitTicks(s, p.SpinUpTicks)
		return next, done, nil
	case WaitExtended:
		var cmds []Command
		var check bool
		if s, check = periodic(s, p); check {
			cmds = append(cmds, velocity(FeedPiston, p.feed(obs.CargoFill)))
		}
		return s, obs.Piston == actuator.Extended, cmds
	case WaitDwell:
		var cmds []Command
		var check bool
		if s, check = periodic(s, p); check {
			var stalled bool
			s.motorStall, stalled = s.motorStall.Rotor(obs.MotorMoving, obs.MotorAngle)
			cmds = append(cmds, velocity(FeedPiston, dwellFeed(stalled, obs, p)))
		}
		next, done := waitTicks(s, p.DwellTicks)
		return next, done, cmds
	case WaitRetracted:
		return s, obs.Piston == actuator.Retracted, nil
	}
	return s, false, nil
}

// dwellFeed holds the bit against the face: stop feeding into a stalled
// motor, push on while in contact, back off when nothing is sensed.
func dwellFeed(stalled bool, obs Observation, p Params) float64 {
	switch {
	case stalled:
		return 0
	case obs.SensorActive:
		return p.feed(obs.CargoFill)
	default:
		return -p.slow()
	}
}

func enter(s State, obs Observation, p Params) (State, []Command) {
	var cmds []Command
	switch s.Step {
	case StepSpinUp:
		s.InProgress = true
		s.Periodic = 0
		cmds = append(cmds, enabled(Bits, true))
		if s.EnableEjectors {
			cmds = append(cmds, enabled(Ejectors, true))
		}
		cmds = append(cmds, enabled(Motor, true), velocity(Motor, p.RPM))
		s.Wait = WaitSpinUp

	case StepFeed:
		cmds = append(cmds, enabled(FeedPiston, true), velocity(FeedPiston, p.feed(obs.CargoFill)))
		s.Wait = WaitExtended

	case StepDwell:
		s.Periodic = 0
		s.motorStall = actuator.Tracker{}
		s.Wait = WaitDwell

	case StepRetract:
		cmds = append(cmds,
			enabled(Bits, false),
			velocity(Motor, 0),
			enabled(FeedPiston, true),
			velocity(FeedPiston, -p.ReturnSpeed),
		)
		s.Wait = WaitRetracted

	case StepEnd:
		s.InProgress = false
		s.Step = sequence.Idle
		s.Wait = WaitReady
		s.TicksWaited = 0
		s.Periodic = 0
	}
	return s, cmds
}

func idle(s State, packed bool) State {
	s.Step = sequence.Idle
	s.Wait = WaitReady
	s.InProgress = false
	s.Packed = packed
	s.TicksWaited = 0
	s.Periodic = 0
	s.motorStall = actuator.Tracker{}
	return s
}

// pack parks the motor at zero by pinning both limits there and spinning
// it slowly, then retracts the feed.
func pack(s State, p Params) (State, []Command) {
	return idle(s, true), []Command{
		enabled(Ejectors, false),
		enabled(Bits, false),
		enabled(Motor, true),
		limits(actuator.Range{}),
		velocity(Motor, p.RPM),
		enabled(FeedPiston, true),
		velocity(FeedPiston, -p.ReturnSpeed),
		enabled(Sensor, false),
	}
}

func unpack(s State) (State, []Command) {
	return idle(s, false), []Command{
		enabled(Motor, true),
		velocity(Motor, 0),
		limits(actuator.Unlimited),
		enabled(Sensor, true),
	}
}
