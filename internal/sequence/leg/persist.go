package leg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"voledrone.dev/internal/sequence"
)

// Salt tags leg records in a save.
const Salt uint16 = 0x0011

type wireState struct {
	Step      int32
	Direction int32
	Requested int32
	Wait      uint8

	InProgress         bool
	Ended              bool
	WaitingForContinue bool
	ShouldMoveNextLeg  bool
	Packed             bool
	Disabled           bool
	HasAscended        bool
	SensorTriggered    bool
	GearLocked         bool
	Continued          bool
}

// MarshalBinary encodes the persisted part of s, little endian.
func (s State) MarshalBinary() ([]byte, error) {
	w := wireState{
		Step:               int32(s.Step),
		Direction:          int32(s.Direction),
		Requested:          int32(s.Requested),
		Wait:               uint8(s.Wait),
		InProgress:         s.InProgress,
		Ended:              s.Ended,
		WaitingForContinue: s.WaitingForContinue,
		ShouldMoveNextLeg:  s.ShouldMoveNextLeg,
		Packed:             s.Packed,
		Disabled:           s.Disabled,
		HasAscended:        s.HasAscended,
		SensorTriggered:    s.SensorTriggered,
		GearLocked:         s.GearLocked,
		Continued:          s.Continued,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a record written by MarshalBinary. Scratch
// fields are cleared.
func (s *State) UnmarshalBinary(data []byte) error {
	var w wireState
	if n := binary.Size(&w); len(data) != n {
		return fmt.Errorf("leg state: got %d bytes want %d", len(data), n)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("leg state: %w", err)
	}
	dir, req := sequence.Direction(w.Direction), sequence.Direction(w.Requested)
	switch {
	case w.Step < sequence.Idle || w.Step > StepEnd:
		return fmt.Errorf("leg state: step %d out of range", w.Step)
	case !dir.Valid() || !req.Valid():
		return fmt.Errorf("leg state: bad direction %d/%d", w.Direction, w.Requested)
	case Wait(w.Wait) > WaitHalt:
		return fmt.Errorf("leg state: bad wait %d", w.Wait)
	}
	*s = State{
		Step:               int(w.Step),
		Direction:          dir,
		Requested:          req,
		Wait:               Wait(w.Wait),
		InProgress:         w.InProgress,
		Ended:              w.Ended,
		WaitingForContinue: w.WaitingForContinue,
		ShouldMoveNextLeg:  w.ShouldMoveNextLeg,
		Packed:             w.Packed,
		Disabled:           w.Disabled,
		HasAscended:        w.HasAscended,
		SensorTriggered:    w.SensorTriggered,
		GearLocked:         w.GearLocked,
		Continued:          w.Continued,
	}
	return nil
}

// Rewound steps a restored state back by one when it was saved in the
// middle of a wait, so the interrupted step body runs again.
func (s State) Rewound() State {
	if !s.InProgress || s.Step < 0 || s.Wait == WaitReady || s.Wait == WaitHalt {
		return s
	}
	s.Step--
	s.Wait = WaitReady
	return s
}

func (s State) isDefault() bool {
	return s.Step == sequence.Idle && !s.InProgress && !s.Ended && s.Packed && !s.Disabled &&
		s.Direction == sequence.Down && s.Requested == sequence.Down
}

func (q *Sequencer) Salt() uint16 { return Salt }

// ShouldSerialize is false while the leg is still in its stowed default.
func (q *Sequencer) ShouldSerialize() bool { return !q.state.isDefault() }

func (q *Sequencer) MarshalBinary() ([]byte, error) { return q.state.MarshalBinary() }

func (q *Sequencer) UnmarshalBinary(data []byte) error {
	var s State
	if err := s.UnmarshalBinary(data); err != nil {
		return err
	}
	q.state = s
	return nil
}

// Resume rewinds a freshly restored state.
func (q *Sequencer) Resume() {
	before := q.state.Step
	q.state = q.state.Rewound()
	if q.state.Step != before {
		q.log.Infow("leg resumed", "saved_step", before, "step", q.state.Step)
	}
}
