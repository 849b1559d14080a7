package leg

import (
	"testing"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/sequence"
)

func running(step int, wait Wait) State {
	s := NewState()
	s.Packed = false
	s.InProgress = true
	s.Step = step
	s.Wait = wait
	return s
}

func hasCommand(cmds []Command, want Command) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

func TestTransition_ContactJumpsToPlant(t *testing.T) {
	p := DefaultParams()
	for _, step := range []int{StepSweepKnee, StepSweepHip, StepReachGround} {
		s := running(step, WaitKneeSwept)
		next, cmds := Transition(s, Event{Kind: Contact}, Observation{HipVertical: actuator.Radians(60)}, p)
		if next.Step != StepPlantFoot {
			t.Fatalf("step %d: got step %d want %d", step, next.Step, StepPlantFoot)
		}
		if !next.SensorTriggered {
			t.Fatalf("step %d: sensor flag not set", step)
		}
		if next.Wait != WaitPlanted {
			t.Fatalf("step %d: got wait %d want %d", step, next.Wait, WaitPlanted)
		}
		for _, want := range []Command{velocity(HipVertical, 0), velocity(Knee, 0)} {
			if !hasCommand(cmds, want) {
				t.Fatalf("step %d: missing %+v in %+v", step, want, cmds)
			}
		}
	}
}

func TestTransition_ContactIgnoredOutsideSweep(t *testing.T) {
	p := DefaultParams()
	for _, step := range []int{sequence.Idle, StepReleaseFeet, StepUpperStroke, StepPlantFoot, StepTranslateBody} {
		s := running(step, WaitReady)
		next, cmds := Transition(s, Event{Kind: Contact}, Observation{}, p)
		if next != s || len(cmds) != 0 {
			t.Fatalf("step %d: contact changed state: %+v %+v", step, next, cmds)
		}
	}
}

func TestTransition_LockDuringApproachPlants(t *testing.T) {
	p := DefaultParams()
	s := running(StepReachGround, WaitHipFlat)
	s.Direction = sequence.Up
	next, cmds := Transition(s, Event{Kind: Lock}, Observation{}, p)
	if next.Step != StepPlantFoot || !next.GearLocked {
		t.Fatalf("got step %d locked %v", next.Step, next.GearLocked)
	}
	// Already locked: the lower piston must not be driven out again.
	if hasCommand(cmds, velocity(LowerPiston, p.PistonSpeed)) {
		t.Fatalf("lower piston extended after lock: %+v", cmds)
	}
	after, _ := Transition(next, Event{Kind: Tick}, Observation{}, p)
	if after.Step != StepAwaitContinue {
		t.Fatalf("got step %d want %d", after.Step, StepAwaitContinue)
	}
}

func TestTransition_InterruptsFromReadbacks(t *testing.T) {
	s := running(StepSweepHip, WaitHipLowered)
	evs := Interrupts(s, Observation{SensorActive: true, FootLocked: true})
	if len(evs) != 2 || evs[0].Kind != Contact || evs[1].Kind != Lock {
		t.Fatalf("got %+v", evs)
	}
	s.SensorTriggered = true
	s.GearLocked = true
	if evs := Interrupts(s, Observation{SensorActive: true, FootLocked: true}); len(evs) != 0 {
		t.Fatalf("repeated interrupts: %+v", evs)
	}
	packed := NewState()
	if evs := Interrupts(packed, Observation{SensorActive: true, FootLocked: true}); len(evs) != 0 {
		t.Fatalf("packed leg raised interrupts: %+v", evs)
	}
}

func TestTransition_DirectionSwitchWindow(t *testing.T) {
	p := DefaultParams()
	for _, step := range []int{sequence.Idle, StepReleaseFeet, StepParkJoints, StepUpperStroke} {
		s := running(step, WaitJointsParked)
		next, _ := Transition(s, Event{Kind: RequestDirection, Direction: sequence.Up}, Observation{}, p)
		if next.Direction != sequence.Up || next.Step != sequence.Idle || next.Wait != WaitReady {
			t.Fatalf("step %d: got direction %v step %d wait %d", step, next.Direction, next.Step, next.Wait)
		}
	}

	s := running(StepReachGround, WaitHipFlat)
	next, _ := Transition(s, Event{Kind: RequestDirection, Direction: sequence.Up}, Observation{}, p)
	if next.Direction != sequence.Down || next.Requested != sequence.Up || next.Step != StepReachGround {
		t.Fatalf("late switch applied: %+v", next)
	}

	// Not ended yet: a plain restart is refused.
	same, _ := Transition(next, Event{Kind: Restart}, Observation{}, p)
	if same.Direction != sequence.Down || same.Step != StepReachGround {
		t.Fatalf("restart before end: %+v", same)
	}

	next.Ended = true
	next.InProgress = false
	restarted, _ := Transition(next, Event{Kind: Restart}, Observation{}, p)
	if restarted.Direction != sequence.Up || restarted.Step != sequence.Idle || restarted.Ended {
		t.Fatalf("restart: %+v", restarted)
	}
}

func TestTransition_ForcedRestartMidCycle(t *testing.T) {
	p := DefaultParams()
	s := running(StepTranslateBody, WaitTranslated)
	s.ShouldMoveNextLeg = true
	next, _ := Transition(s, Event{Kind: Restart, Force: true}, Observation{}, p)
	if next.Step != sequence.Idle || next.InProgress || next.ShouldMoveNextLeg {
		t.Fatalf("got %+v", next)
	}
}

func TestTransition_BarrierHoldsUntilContinue(t *testing.T) {
	p := DefaultParams()
	s := running(StepPlantFoot, WaitPlanted)
	s.GearLocked = true
	s, _ = Transition(s, Event{Kind: Tick}, Observation{}, p)
	if s.Step != StepAwaitContinue || !s.WaitingForContinue || !s.ShouldMoveNextLeg {
		t.Fatalf("got %+v", s)
	}
	for i := 0; i < 5; i++ {
		s, _ = Transition(s, Event{Kind: Tick}, Observation{}, p)
	}
	if s.Step != StepAwaitContinue {
		t.Fatalf("advanced without continue: step %d", s.Step)
	}
	s, _ = Transition(s, Event{Kind: Continue}, Observation{}, p)
	s, _ = Transition(s, Event{Kind: Tick}, Observation{}, p)
	if s.Step != StepReleaseJoints || s.WaitingForContinue {
		t.Fatalf("got step %d waiting %v", s.Step, s.WaitingForContinue)
	}
	if !s.ShouldMoveNextLeg {
		t.Fatalf("ShouldMoveNextLeg cleared before restart")
	}
}

func TestTransition_TranslateBands(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name         string
		dir          sequence.Direction
		hipDeg       float64
		upper, lower float64
	}{
		{"down vertical", sequence.Down, 80, p.PistonSpeed, 0},
		{"down horizontal", sequence.Down, 10, 0, -p.PistonSpeed},
		{"down blended", sequence.Down, 45, p.PistonSpeed * 0.5, -p.PistonSpeed * 0.5},
		{"up vertical", sequence.Up, 80, -p.PistonSpeed, 0},
		{"up horizontal", sequence.Up, 10, 0, p.PistonSpeed},
	}
	for _, tc := range cases {
		s := running(StepReleaseJoints, WaitReady)
		s.Direction = tc.dir
		next, cmds := Transition(s, Event{Kind: Tick}, Observation{HipVertical: actuator.Radians(tc.hipDeg)}, p)
		if next.Step != StepTranslateBody {
			t.Fatalf("%s: got step %d", tc.name, next.Step)
		}
		var upper, lower float64
		for _, c := range cmds {
			if c.Op != SetVelocity {
				continue
			}
			switch c.Part {
			case UpperPiston:
				upper = c.Value
			case LowerPiston:
				lower = c.Value
			}
		}
		if !actuator.AreSimilar(upper, tc.upper, 1e-9) || !actuator.AreSimilar(lower, tc.lower, 1e-9) {
			t.Fatalf("%s: got upper %v lower %v want %v %v", tc.name, upper, lower, tc.upper, tc.lower)
		}
	}
}

func TestTransition_TranslateWaitsForStall(t *testing.T) {
	p := DefaultParams()
	s := running(StepReleaseJoints, WaitReady)
	s, _ = Transition(s, Event{Kind: Tick}, Observation{HipVertical: actuator.Radians(80)}, p)

	moving := Observation{Upper: Reading{Position: 0.5, Status: actuator.Extending}}
	// Settle grace plus one priming read.
	for i := 0; i < p.SettleTicks+1; i++ {
		s, _ = Transition(s, Event{Kind: Tick}, moving, p)
		if s.Step != StepTranslateBody {
			t.Fatalf("tick %d: left translation early (step %d)", i, s.Step)
		}
	}
	s, _ = Transition(s, Event{Kind: Tick}, moving, p)
	if s.Step != StepEnd || !s.Ended || s.InProgress {
		t.Fatalf("stall not detected: %+v", s)
	}
}

func TestTransition_PackResetsFields(t *testing.T) {
	p := DefaultParams()
	s := running(StepTranslateBody, WaitTranslated)
	s.Direction = sequence.Up
	s.ShouldMoveNextLeg = true
	s.GearLocked = true
	packed, cmds := Transition(s, Event{Kind: Pack}, Observation{}, p)
	want := NewState()
	if packed != want {
		t.Fatalf("got %+v want %+v", packed, want)
	}
	if !hasCommand(cmds, enabled(ContactSensor, false)) {
		t.Fatalf("sensor left enabled: %+v", cmds)
	}

	unpacked, _ := Transition(packed, Event{Kind: Unpack}, Observation{}, p)
	if unpacked.Packed || unpacked.Direction != sequence.Down || unpacked.Step != sequence.Idle {
		t.Fatalf("unpack: %+v", unpacked)
	}
	// A packed leg ignores ticks.
	if again, cmds := Transition(packed, Event{Kind: Tick}, Observation{}, p); again != packed || cmds != nil {
		t.Fatalf("packed leg ticked: %+v", again)
	}
}

func TestRewound(t *testing.T) {
	cases := []struct {
		in   State
		step int
		wait Wait
	}{
		{running(StepSweepHip, WaitHipLowered), StepSweepKnee, WaitReady},
		{running(StepReleaseFeet, WaitLowerRetracted), sequence.Idle, WaitReady},
		{running(StepReleaseJoints, WaitReady), StepReleaseJoints, WaitReady},
		{running(StepEnd, WaitHalt), StepEnd, WaitHalt},
	}
	for _, tc := range cases {
		got := tc.in.Rewound()
		if got.Step != tc.step || got.Wait != tc.wait {
			t.Fatalf("%d/%d: got %d/%d want %d/%d", tc.in.Step, tc.in.Wait, got.Step, got.Wait, tc.step, tc.wait)
		}
	}
}
