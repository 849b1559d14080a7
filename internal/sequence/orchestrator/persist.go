package orchestrator

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"voledrone.dev/internal/sequence"
)

// Salt tags orchestrator records in a save.
const Salt uint16 = 0x0031

type wireState struct {
	Direction  int32
	Requested  int32
	Step       int32
	StartIndex int32
	Cycles     int32

	Waiting    bool
	InProgress bool
	Ended      bool
	IsRunning  bool
	IsPacked   bool
}

func (s State) MarshalBinary() ([]byte, error) {
	w := wireState{
		Direction:  int32(s.Direction),
		Requested:  int32(s.Requested),
		Step:       int32(s.Step),
		StartIndex: int32(s.StartIndex),
		Cycles:     int32(s.Cycles),
		Waiting:    s.Waiting,
		InProgress: s.InProgress,
		Ended:      s.Ended,
		IsRunning:  s.IsRunning,
		IsPacked:   s.IsPacked,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *State) UnmarshalBinary(data []byte) error {
	var w wireState
	if n := binary.Size(&w); len(data) != n {
		return fmt.Errorf("orchestrator state: got %d bytes want %d", len(data), n)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("orchestrator state: %w", err)
	}
	dir, req := sequence.Direction(w.Direction), sequence.Direction(w.Requested)
	switch {
	case !dir.Valid() || !req.Valid():
		return fmt.Errorf("orchestrator state: bad direction %d/%d", w.Direction, w.Requested)
	case w.Step < 0 || w.Step > StepNextDescent:
		return fmt.Errorf("orchestrator state: step %d out of range", w.Step)
	case w.StartIndex < 0 || w.StartIndex > 3:
		return fmt.Errorf("orchestrator state: start index %d out of range", w.StartIndex)
	case w.Cycles < 0:
		return fmt.Errorf("orchestrator state: negative cycle count %d", w.Cycles)
	}
	*s = State{
		Direction:  dir,
		Requested:  req,
		Step:       int(w.Step),
		Waiting:    w.Waiting,
		InProgress: w.InProgress,
		Ended:      w.Ended,
		IsRunning:  w.IsRunning,
		IsPacked:   w.IsPacked,
		StartIndex: int(w.StartIndex),
		Cycles:     int(w.Cycles),
	}
	return nil
}

func (c *Controller) Salt() uint16 { return Salt }

func (c *Controller) ShouldSerialize() bool { return c.state != NewState() }

func (c *Controller) MarshalBinary() ([]byte, error) { return c.state.MarshalBinary() }

func (c *Controller) UnmarshalBinary(data []byte) error {
	var s State
	if err := s.UnmarshalBinary(data); err != nil {
		return err
	}
	c.state = s
	return nil
}

// Resume leaves a loaded state as saved. Step already names the step in
// flight, since it only advances once that step stops waiting, so the next
// tick redoes that step and re-evaluates its wait. Stepping back would rerun
// the step before it: a held cargo gate would start another drilling cycle.
func (c *Controller) Resume() {
	if c.state.IsRunning {
		c.log.Infow("orchestrator resumed", "step", c.state.Step, "waiting", c.state.Waiting)
	}
}
