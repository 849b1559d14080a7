// Package orchestrator ties the drill and the four legs into one vehicle
// gait. Descent alternates a drilling cycle with a walking cycle gated on
// cargo; ascent only walks. Legs step in diagonal pairs and meet at a
// barrier before the body is moved.
package orchestrator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voledrone.dev/internal/sequence"
	"voledrone.dev/internal/sequence/leg"
)

// Descent steps.
const (
	StepDrill       = 0
	StepCargoGate   = 1
	StepWalk        = 2
	StepNextDescent = 3
)

// Ascent steps.
const (
	StepClimb      = 0
	StepNextAscent = 1
	StepAscentEnd  = 2
)

var (
	ErrUnsafePack   = errors.New("vehicle is moving; pack refused")
	ErrUnsafeUnpack = errors.New("vehicle is deployed and moving; unpack refused")
)

// Leg is what the orchestrator needs from a leg sequencer.
type Leg interface {
	Status() leg.Status
	Tick()
	Continue()
	Restart(force bool) bool
	RequestDirection(sequence.Direction)
	Pack()
	Unpack()
}

// Drill is what the orchestrator needs from the drill sequencer.
type Drill interface {
	Tick()
	InProgress() bool
	Pack()
	Unpack()
}

// State is the orchestrator's persisted state. Step is the step the next
// tick runs; Waiting means that step has not finished yet.
type State struct {
	Direction  sequence.Direction
	Requested  sequence.Direction
	Step       int
	Waiting    bool
	InProgress bool
	Ended      bool
	IsRunning  bool
	IsPacked   bool
	StartIndex int
	Cycles     int
}

func NewState() State {
	return State{Direction: sequence.Down, Requested: sequence.Down, IsPacked: true}
}

type Params struct {
	// Walking is held while the blacklisted share of the cargo is above
	// GateFraction and the blacklisted volume fill is above GateFill.
	GateFraction float64
	GateFill     float64
	// MaxDepth stops descent after this many cycles; zero means no limit.
	MaxDepth int
}

func DefaultParams() Params {
	return Params{GateFraction: 0.3, GateFill: 0.45, MaxDepth: 75}
}

// Backpressure is the cargo reading the descent gate consults.
type Backpressure struct {
	Fraction float64 `json:"fraction"`
	Fill     float64 `json:"fill"`
}

// Controller runs the vehicle-level sequence. It is not safe for
// concurrent use; one goroutine owns it together with its sequencers.
type Controller struct {
	legs   [4]Leg
	drill  Drill
	params Params
	log    *zap.SugaredLogger

	state State
	cargo Backpressure
}

// New builds a controller over legs given in gait order.
func New(legs [4]Leg, drill Drill, params Params, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		legs:   legs,
		drill:  drill,
		params: params,
		log:    logger.Named("orchestrator"),
		state:  NewState(),
	}
}

func (c *Controller) State() State { return c.state }

// Status is the orchestrator's published state.
type Status struct {
	Direction  sequence.Direction `json:"direction"`
	Requested  sequence.Direction `json:"requested"`
	Step       int                `json:"step"`
	Waiting    bool               `json:"waiting"`
	InProgress bool               `json:"in_progress"`
	Ended      bool               `json:"ended"`
	Running    bool               `json:"running"`
	Packed     bool               `json:"packed"`
	StartIndex int                `json:"start_index"`
	Cycles     int                `json:"cycles"`
	Cargo      Backpressure       `json:"cargo"`
}

func (c *Controller) Status() Status {
	s := c.state
	return Status{
		Direction:  s.Direction,
		Requested:  s.Requested,
		Step:       s.Step,
		Waiting:    s.Waiting,
		InProgress: s.InProgress,
		Ended:      s.Ended,
		Running:    s.IsRunning,
		Packed:     s.IsPacked,
		StartIndex: s.StartIndex,
		Cycles:     s.Cycles,
		Cargo:      c.cargo,
	}
}

// SetBackpressure records the latest cargo reading.
func (c *Controller) SetBackpressure(b Backpressure) { c.cargo = b }

// SetMaxDepth changes the descent limit; negative values are treated as 0.
func (c *Controller) SetMaxDepth(n int) { c.params.MaxDepth = max(n, 0) }

func (c *Controller) IsSafeToPack() bool   { return !c.state.IsRunning || c.state.Ended }
func (c *Controller) IsSafeToUnpack() bool { return !c.state.IsRunning || c.state.IsPacked }

// Pack stows the drill and every leg. Unless forced it is refused while
// the vehicle is in the middle of a cycle.
func (c *Controller) Pack(force bool) error {
	if !force && !c.IsSafeToPack() {
		return fmt.Errorf("pack at step %d: %w", c.state.Step, ErrUnsafePack)
	}
	c.drill.Pack()
	for _, l := range c.legs {
		l.Pack()
	}
	s := &c.state
	s.IsPacked, s.IsRunning = true, false
	s.Step, s.Waiting, s.InProgress, s.Ended = 0, false, false, false
	c.log.Infow("packed", "forced", force)
	return nil
}

// Unpack deploys the drill and the legs facing down.
func (c *Controller) Unpack(force bool) error {
	if !force && !c.IsSafeToUnpack() {
		return fmt.Errorf("unpack at step %d: %w", c.state.Step, ErrUnsafeUnpack)
	}
	c.drill.Unpack()
	for _, l := range c.legs {
		l.Unpack()
	}
	s := &c.state
	s.IsPacked, s.IsRunning = false, false
	s.Direction, s.Requested = sequence.Down, sequence.Down
	s.Step, s.Waiting, s.InProgress, s.Ended = 0, false, false, false
	c.log.Infow("unpacked", "forced", force)
	return nil
}

// RequestDirection starts the vehicle moving in d. A change of direction
// is applied by the next tick that falls on a safe boundary.
func (c *Controller) RequestDirection(d sequence.Direction) {
	c.state.Requested = d
	c.state.IsRunning = true
	c.log.Infow("direction requested", "direction", d.String(), "current", c.state.Direction.String())
}

// Stop halts the sequence at the next tick. In-flight actuator motion is
// left as commanded.
func (c *Controller) Stop() {
	c.state.IsRunning = false
	c.log.Infow("stopped", "step", c.state.Step)
}

// Tick advances the vehicle sequence by one step.
func (c *Controller) Tick() {
	s := &c.state
	if !s.IsRunning || s.IsPacked {
		return
	}
	if s.Requested != s.Direction {
		if c.canSwitch() {
			c.switchDirection()
			return
		}
	}
	if s.Direction == sequence.Up {
		c.ascend()
	} else {
		if c.depthReached() {
			s.IsRunning = false
			c.log.Infow("max drilling depth reached", "cycles", s.Cycles)
			return
		}
		c.descend()
	}
	if !s.Waiting {
		s.Step++
	}
}

// canSwitch reports whether the sequence sits on a boundary where reversing
// cannot leave the drill or a leg half extended.
func (c *Controller) canSwitch() bool {
	if c.state.Direction == sequence.Down {
		return c.state.Step <= StepCargoGate
	}
	return c.state.Step >= StepAscentEnd
}

func (c *Controller) switchDirection() {
	s := &c.state
	from := s.Direction
	s.Direction = s.Requested
	s.Step, s.Waiting, s.InProgress, s.Ended = 0, false, false, false
	if s.Direction == sequence.Up {
		c.drill.Pack()
	} else {
		c.drill.Unpack()
	}
	for _, l := range c.legs {
		l.RequestDirection(s.Direction)
		l.Restart(true)
	}
	c.log.Infow("direction switched", "from", from.String(), "to", s.Direction.String())
}

// depthReached reports whether a new descent cycle would pass MaxDepth.
func (c *Controller) depthReached() bool {
	s := c.state
	return s.Step == StepDrill && !s.Waiting && c.params.MaxDepth > 0 && s.Cycles >= c.params.MaxDepth
}

func (c *Controller) descend() {
	s := &c.state
	s.InProgress = true
	switch s.Step {
	case StepDrill:
		s.Ended = false
		c.drill.Tick()
		s.Waiting = c.drill.InProgress()
	case StepCargoGate:
		s.Waiting = c.gated()
	case StepWalk:
		s.Waiting = c.gait()
	case StepNextDescent:
		c.nextCycle()
		s.Cycles++
		s.Ended = true
		s.Waiting = false
		s.Step = -1
		c.log.Infow("descent cycle done", "cycles", s.Cycles)
	default:
		s.Waiting = true
	}
}

func (c *Controller) ascend() {
	s := &c.state
	s.InProgress = true
	switch s.Step {
	case StepClimb:
		s.Ended = false
		s.Waiting = c.gait()
	case StepNextAscent:
		done := true
		for _, l := range c.legs {
			done = done && l.Status().HasAscended
		}
		c.nextCycle()
		s.Cycles = max(s.Cycles-1, 0)
		s.Waiting = false
		if done {
			s.IsRunning = false
			c.log.Infow("ascent complete")
		}
	case StepAscentEnd:
		s.Ended = true
		s.Waiting = false
		s.Step = -1
		c.log.Infow("ascent cycle done", "cycles", s.Cycles)
	default:
		s.Waiting = true
	}
}

// gated reports whether the cargo holds too much waste to keep walking.
func (c *Controller) gated() bool {
	blocked := c.cargo.Fraction > c.params.GateFraction && c.cargo.Fill > c.params.GateFill
	if blocked && !c.state.Waiting {
		c.log.Infow("walking held by cargo", "fraction", c.cargo.Fraction, "fill", c.cargo.Fill)
	}
	return blocked
}

// nextCycle rotates the starting leg and rearms every leg.
func (c *Controller) nextCycle() {
	c.state.StartIndex = (c.state.StartIndex + 1) % len(c.legs)
	for _, l := range c.legs {
		l.Restart(false)
	}
}
