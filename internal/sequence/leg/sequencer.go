package leg

import (
	"go.uber.org/zap"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/rig"
	"voledrone.dev/internal/sequence"
)

// Status is what a leg publishes to the orchestrator each tick.
type Status struct {
	Location           string             `json:"location"`
	Step               int                `json:"step"`
	Direction          sequence.Direction `json:"direction"`
	InProgress         bool               `json:"in_progress"`
	Ended              bool               `json:"ended"`
	WaitingForContinue bool               `json:"waiting_for_continue"`
	ShouldMoveNextLeg  bool               `json:"should_move_next_leg"`
	Packed             bool               `json:"packed"`
	Disabled           bool               `json:"disabled"`
	HasAscended        bool               `json:"has_ascended"`
	SensorTriggered    bool               `json:"sensor_triggered"`
	GearLocked         bool               `json:"gear_locked"`
}

// Sequencer drives one leg's actuators with Transition.
type Sequencer struct {
	def    rig.LegDefinition
	params Params
	log    *zap.SugaredLogger

	state State
	queue sequence.Queue[Event]
}

func New(def rig.LegDefinition, params Params, logger *zap.SugaredLogger) *Sequencer {
	return &Sequencer{
		def:    def,
		params: params,
		log:    logger.With("leg", def.Location.String()),
		state:  NewState(),
	}
}

func (q *Sequencer) Location() rig.Location { return q.def.Location }

// State returns a copy of the sequencer state.
func (q *Sequencer) State() State { return q.state }

func (q *Sequencer) Status() Status {
	s := q.state
	return Status{
		Location:           q.def.Location.String(),
		Step:               s.Step,
		Direction:          s.Direction,
		InProgress:         s.InProgress,
		Ended:              s.Ended,
		WaitingForContinue: s.WaitingForContinue,
		ShouldMoveNextLeg:  s.ShouldMoveNextLeg,
		Packed:             s.Packed,
		Disabled:           s.Disabled,
		HasAscended:        s.HasAscended,
		SensorTriggered:    s.SensorTriggered,
		GearLocked:         s.GearLocked,
	}
}

// Tick advances the leg by at most one step. Queued and detected
// interrupts run first; if one of them moved the step, the step's own
// completion check is skipped for this tick.
func (q *Sequencer) Tick() {
	obs := q.observe()
	for _, ev := range Interrupts(q.state, obs) {
		q.queue.Push(sequence.Interrupt, ev)
	}
	before := q.state.Step
	for _, ev := range q.queue.Drain() {
		q.handle(ev, obs)
		obs = q.observe()
	}
	if q.state.Step != before {
		return
	}
	q.handle(Event{Kind: Tick}, obs)
}

// OnContact queues a contact interrupt for the next tick.
func (q *Sequencer) OnContact() { q.queue.Push(sequence.Interrupt, Event{Kind: Contact}) }

// OnLock queues a foot-lock interrupt for the next tick.
func (q *Sequencer) OnLock() { q.queue.Push(sequence.Interrupt, Event{Kind: Lock}) }

// Continue releases the leg from the cross-leg barrier.
func (q *Sequencer) Continue() { q.handle(Event{Kind: Continue}, q.observe()) }

// Restart resets an ended cycle (or any cycle when forced) and applies a
// deferred direction request. It reports whether the restart happened.
func (q *Sequencer) Restart(force bool) bool {
	if !force && !q.state.Ended {
		return false
	}
	q.handle(Event{Kind: Restart, Force: force}, q.observe())
	return true
}

// RequestDirection switches direction now while the leg has not committed
// to ground contact, otherwise at the next restart.
func (q *Sequencer) RequestDirection(d sequence.Direction) {
	q.handle(Event{Kind: RequestDirection, Direction: d}, q.observe())
}

func (q *Sequencer) Pack()    { q.handle(Event{Kind: Pack}, q.observe()) }
func (q *Sequencer) Unpack()  { q.handle(Event{Kind: Unpack}, q.observe()) }
func (q *Sequencer) Enable()  { q.handle(Event{Kind: Enable}, q.observe()) }
func (q *Sequencer) Disable() { q.handle(Event{Kind: Disable}, q.observe()) }

func (q *Sequencer) handle(ev Event, obs Observation) {
	prev := q.state
	next, cmds := Transition(prev, ev, obs, q.params)
	q.state = next
	q.apply(cmds)

	switch {
	case ev.Kind == Contact || ev.Kind == Lock:
		if next.Step != prev.Step || next.GearLocked != prev.GearLocked {
			q.log.Infow("leg interrupt", "event", ev.Kind.String(), "from", prev.Step, "to", next.Step)
		}
	case next.Step != prev.Step:
		q.log.Debugw("leg step", "step", next.Step, "direction", next.Direction.String(), "event", ev.Kind.String())
	}
	if next.Direction != prev.Direction {
		q.log.Infow("leg direction", "direction", next.Direction.String())
	}
}

func (q *Sequencer) observe() Observation {
	d := q.def
	return Observation{
		HipVertical:  d.HipVertical.Angle(),
		Knee:         d.Knee.Angle(),
		Foot:         d.Foot.Angle(),
		KneeLower:    d.Knee.LowerLimit(),
		Upper:        Reading{Position: d.UpperPiston.Position(), Status: d.UpperPiston.Status()},
		Lower:        Reading{Position: d.LowerPiston.Position(), Status: d.LowerPiston.Status()},
		SensorActive: d.Sensor.Active(),
		FootLocked:   actuator.AnyLocked(d.Feet),
	}
}

func (q *Sequencer) rotor(p Part) (actuator.Rotor, actuator.Range) {
	d := q.def
	switch p {
	case HipHorizontal:
		return d.HipHorizontal, d.Ranges.HipHorizontal
	case HipVertical:
		return d.HipVertical, d.Ranges.HipVertical
	case Knee:
		return d.Knee, d.Ranges.Knee
	default:
		return d.Foot, d.Ranges.Foot
	}
}

func (q *Sequencer) apply(cmds []Command) {
	for _, c := range cmds {
		switch c.Part {
		case HipHorizontal, HipVertical, Knee, Foot:
			r, rng := q.rotor(c.Part)
			switch c.Op {
			case SetVelocity:
				r.SetTargetVelocity(c.Value)
			case SetEnabled:
				r.SetEnabled(c.Flag)
			case SetLocked:
				r.SetLocked(c.Flag)
			case RotateTo:
				actuator.RotateToDegrees(r, c.Value, c.Speed)
			case RestoreRange:
				rng.Apply(r)
			}
		case UpperPiston, LowerPiston:
			p := q.def.UpperPiston
			if c.Part == LowerPiston {
				p = q.def.LowerPiston
			}
			switch c.Op {
			case SetVelocity:
				p.SetVelocity(c.Value)
			case SetEnabled:
				p.SetEnabled(c.Flag)
			}
		case ContactSensor:
			if c.Op == SetEnabled {
				q.def.Sensor.SetEnabled(c.Flag)
			}
		case Feet:
			for _, f := range q.def.Feet {
				switch {
				case c.Op == SetAutoLock:
					f.SetAutoLock(c.Flag)
				case c.Op == SetLocked && c.Flag:
					f.Lock()
				case c.Op == SetLocked:
					f.Unlock()
				}
			}
		}
	}
}
