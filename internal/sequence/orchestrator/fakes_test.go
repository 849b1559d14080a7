package orchestrator

import (
	"voledrone.dev/internal/sequence"
	"voledrone.dev/internal/sequence/leg"
)

// tickClock counts orchestrator ticks so the fakes can timestamp events.
type tickClock struct{ now int }

// cycleRecord is one finished leg cycle, in ticks.
type cycleRecord struct {
	firstTick   int
	plantedAt   int
	continuedAt int
}

// fakeLeg walks through a leg cycle on a fixed schedule: plantAfter ticks
// to reach the barrier, finishAfter ticks after release to end.
type fakeLeg struct {
	clk         *tickClock
	plantAfter  int
	finishAfter int
	ascends     bool

	st        leg.Status
	ticks     int
	released  int
	requested sequence.Direction

	firstTick   int
	plantedAt   int
	continuedAt int
	restarts    int
	forced      int
	packs       int
	unpacks     int
	history     []cycleRecord
}

func newFakeLeg(clk *tickClock, plantAfter int) *fakeLeg {
	return &fakeLeg{clk: clk, plantAfter: plantAfter, finishAfter: 2, firstTick: -1, plantedAt: -1, continuedAt: -1}
}

func (f *fakeLeg) Status() leg.Status { return f.st }

func (f *fakeLeg) Tick() {
	if f.st.Ended || f.st.Packed {
		return
	}
	if f.firstTick < 0 {
		f.firstTick = f.clk.now
	}
	f.ticks++
	f.st.InProgress = true
	switch {
	case f.continuedAt >= 0:
		f.released++
		if f.released >= f.finishAfter {
			f.st.Ended = true
			f.st.InProgress = false
			f.st.HasAscended = f.ascends && f.st.Direction == sequence.Up
		}
	case !f.st.WaitingForContinue && f.ticks >= f.plantAfter:
		f.st.ShouldMoveNextLeg = true
		f.st.WaitingForContinue = true
		f.plantedAt = f.clk.now
	}
}

func (f *fakeLeg) Continue() {
	if !f.st.WaitingForContinue {
		return
	}
	f.st.WaitingForContinue = false
	f.continuedAt = f.clk.now
}

func (f *fakeLeg) Restart(force bool) bool {
	if !force && !f.st.Ended {
		return false
	}
	f.restarts++
	f.history = append(f.history, cycleRecord{f.firstTick, f.plantedAt, f.continuedAt})
	if force {
		f.forced++
	}
	f.st = leg.Status{Direction: f.requested, Packed: f.st.Packed}
	f.ticks, f.released = 0, 0
	f.firstTick, f.plantedAt, f.continuedAt = -1, -1, -1
	return true
}

func (f *fakeLeg) RequestDirection(d sequence.Direction) { f.requested = d }

func (f *fakeLeg) Pack() {
	f.packs++
	f.st = leg.Status{Packed: true}
	f.requested = sequence.Down
}

func (f *fakeLeg) Unpack() {
	f.unpacks++
	f.st = leg.Status{}
	f.requested = sequence.Down
}

// fakeDrill is busy for cycle ticks after each start.
type fakeDrill struct {
	cycle   int
	left    int
	busy    bool
	starts  int
	ticks   int
	packed  bool
	packs   int
	unpacks int
}

func (d *fakeDrill) Tick() {
	if d.packed {
		return
	}
	d.ticks++
	if !d.busy {
		d.busy = true
		d.left = d.cycle
		d.starts++
		return
	}
	if d.left--; d.left <= 0 {
		d.busy = false
	}
}

func (d *fakeDrill) InProgress() bool { return d.busy }
func (d *fakeDrill) Pack()            { d.packed, d.busy = true, false; d.packs++ }
func (d *fakeDrill) Unpack()          { d.packed, d.busy = false, false; d.unpacks++ }
