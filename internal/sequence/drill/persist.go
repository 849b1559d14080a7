package drill

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"voledrone.dev/internal/sequence"
)

// Salt tags drill records in a save.
const Salt uint16 = 0x0021

type wireState struct {
	Step        int32
	TicksWaited int32
	Periodic    int32
	Wait        uint8

	InProgress     bool
	Packed         bool
	EnableEjectors bool
}

func (s State) MarshalBinary() ([]byte, error) {
	w := wireState{
		Step:           int32(s.Step),
		TicksWaited:    int32(s.TicksWaited),
		Periodic:       int32(s.Periodic),
		Wait:           uint8(s.Wait),
		InProgress:     s.InProgress,
		Packed:         s.Packed,
		EnableEjectors: s.EnableEjectors,
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
		return fmt.Errorf("drill state: got %d bytes want %d", len(data), n)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("drill state: %w", err)
	}
	switch {
	case w.Step < sequence.Idle || w.Step > StepEnd:
		return fmt.Errorf("drill state: step %d out of range", w.Step)
	case Wait(w.Wait) > WaitRetracted:
		return fmt.Errorf("drill state: bad wait %d", w.Wait)
	case w.TicksWaited < 0 || w.Periodic < 0:
		return fmt.Errorf("drill state: negative counter")
	}
	*s = State{
		Step:           int(w.Step),
		Wait:           Wait(w.Wait),
		InProgress:     w.InProgress,
		Packed:         w.Packed,
		EnableEjectors: w.EnableEjectors,
		TicksWaited:    int(w.TicksWaited),
		Periodic:       int(w.Periodic),
	}
	return nil
}

// Rewound steps back one so the body of an interrupted step runs again.
// The tick counter survives; a dwell picks up where it left off.
func (s State) Rewound() State {
	if !s.InProgress || s.Step < 0 || s.Wait == WaitReady {
		return s
	}
	s.Step--
	s.Wait = WaitReady
	return s
}

func (q *Sequencer) Salt() uint16 { return Salt }

func (q *Sequencer) ShouldSerialize() bool { return q.state != NewState() }

func (q *Sequencer) MarshalBinary() ([]byte, error) { return q.state.MarshalBinary() }

func (q *Sequencer) UnmarshalBinary(data []byte) error {
	var s State
	if err := s.UnmarshalBinary(data); err != nil {
		return err
	}
	q.state = s
	return nil
}

func (q *Sequencer) Resume() {
	before := q.state.Step
	q.state = q.state.Rewound()
	if q.state.Step != before {
		q.log.Infow("drill resumed", "saved_step", before, "step", q.state.Step)
	}
}
