package actuator_test

import (
	"math"
	"testing"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/rig/simrig"
)

func TestTracker_Piston(t *testing.T) {
	var tr actuator.Tracker
	tr, stopped := tr.Piston(actuator.Extending, 0.2)
	if stopped {
		t.Fatalf("first reading reported a stall")
	}
	tr, stopped = tr.Piston(actuator.Extending, 0.3)
	if stopped {
		t.Fatalf("moving piston reported a stall")
	}
	if _, stopped = tr.Piston(actuator.Extending, 0.3+actuator.LinearEpsilon/2); !stopped {
		t.Fatalf("stalled piston reported moving")
	}
	if tr, stopped = tr.Piston(actuator.Extended, 1); !stopped || tr.Primed {
		t.Fatalf("idle status: stopped %v primed %v", stopped, tr.Primed)
	}
}

func TestTracker_RotorWraps(t *testing.T) {
	var tr actuator.Tracker
	tr, _ = tr.Rotor(true, 2*math.Pi-0.01)
	if _, stopped := tr.Rotor(true, 0.01); !stopped {
		t.Fatalf("0.02 rad across the wrap counted as motion")
	}
	tr, _ = tr.Rotor(true, 1)
	if _, stopped := tr.Rotor(true, 1.5); stopped {
		t.Fatalf("half a radian counted as a stall")
	}
	if _, stopped := tr.Rotor(false, 1.5); !stopped {
		t.Fatalf("idle rotor counted as moving")
	}
}

func TestStallDetector(t *testing.T) {
	p := simrig.NewPiston(0.5, 10)
	r := simrig.NewRotor(0, actuator.Unlimited)
	d := actuator.NewStallDetector()

	if !d.PistonStopped(p) || !d.RotorStopped(r) {
		t.Fatalf("idle actuators reported moving")
	}
	p.SetVelocity(0.5)
	r.SetTargetVelocity(3)
	if d.PistonStopped(p) || d.RotorStopped(r) {
		t.Fatalf("first moving reading reported a stall")
	}
	p.SetPosition(0.6)
	r.SetAngle(1)
	if d.PistonStopped(p) || d.RotorStopped(r) {
		t.Fatalf("moving actuators reported a stall")
	}
	// Commanded but blocked.
	if !d.PistonStopped(p) || !d.RotorStopped(r) {
		t.Fatalf("blocked actuators reported moving")
	}
	d.Reset()
	if d.PistonStopped(p) {
		t.Fatalf("reset detector reported a stall on first reading")
	}
}
