package drill

import (
	"go.uber.org/zap"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/rig"
)

// Status is the drill's published state.
type Status struct {
	Step           int     `json:"step"`
	InProgress     bool    `json:"in_progress"`
	Packed         bool    `json:"packed"`
	EnableEjectors bool    `json:"enable_ejectors"`
	Feed           float64 `json:"feed"`
	Position       float64 `json:"position"`
}

// Sequencer drives the drilling rig with Transition.
type Sequencer struct {
	def    rig.DrillDefinition
	params Params
	log    *zap.SugaredLogger

	state State
	fill  float64
}

func New(def rig.DrillDefinition, params Params, logger *zap.SugaredLogger) *Sequencer {
	return &Sequencer{
		def:    def,
		params: params,
		log:    logger.Named("drill"),
		state:  NewState(),
	}
}

func (q *Sequencer) State() State { return q.state }

func (q *Sequencer) InProgress() bool { return q.state.InProgress }

func (q *Sequencer) Status() Status {
	return Status{
		Step:           q.state.Step,
		InProgress:     q.state.InProgress,
		Packed:         q.state.Packed,
		EnableEjectors: q.state.EnableEjectors,
		Feed:           q.def.Piston.Velocity(),
		Position:       q.def.Piston.Position(),
	}
}

// SetCargoFill records the latest cargo fill factor; the feed speed is
// throttled against it.
func (q *Sequencer) SetCargoFill(f float64) { q.fill = f }

// Tick advances the drill by at most one step. A packed drill ignores it.
func (q *Sequencer) Tick() { q.handle(Event{Kind: Tick}) }

func (q *Sequencer) Pack()   { q.handle(Event{Kind: Pack}) }
func (q *Sequencer) Unpack() { q.handle(Event{Kind: Unpack}) }

// SetEjectors allows or forbids ejecting blacklisted ore while drilling.
func (q *Sequencer) SetEjectors(on bool) { q.handle(Event{Kind: SetEjectors, Flag: on}) }

func (q *Sequencer) handle(ev Event) {
	prev := q.state
	next, cmds := Transition(prev, ev, q.observe(), q.params)
	q.state = next
	q.apply(cmds)
	switch {
	case ev.Kind != Tick:
		q.log.Infow("drill "+ev.Kind.String(), "step", next.Step)
	case next.Step != prev.Step:
		q.log.Debugw("drill step", "step", next.Step, "in_progress", next.InProgress)
	}
}

func (q *Sequencer) observe() Observation {
	d := q.def
	return Observation{
		Piston:       d.Piston.Status(),
		MotorMoving:  actuator.RotorMoving(d.Motor),
		MotorAngle:   d.Motor.Angle(),
		SensorActive: d.Sensor.Active(),
		CargoFill:    q.fill,
	}
}

func (q *Sequencer) apply(cmds []Command) {
	d := q.def
	for _, c := range cmds {
		switch c.Part {
		case Motor:
			switch c.Op {
			case SetVelocity:
				d.Motor.SetTargetVelocity(c.Value)
			case SetEnabled:
				d.Motor.SetEnabled(c.Flag)
			case SetLimits:
				c.Range.Apply(d.Motor)
			}
		case FeedPiston:
			switch c.Op {
			case SetVelocity:
				d.Piston.SetVelocity(c.Value)
			case SetEnabled:
				d.Piston.SetEnabled(c.Flag)
			}
		case Sensor:
			d.Sensor.SetEnabled(c.Flag)
		case Bits:
			for _, b := range d.Bits {
				b.SetEnabled(c.Flag)
			}
		case Ejectors:
			for _, e := range d.Ejectors {
				e.SetEnabled(c.Flag)
			}
		}
	}
}
