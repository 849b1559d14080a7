// Package sequence holds the vocabulary shared by the leg, drill and
// orchestrator step machines.
package sequence

import (
	"fmt"
	"slices"
	"strings"
)

// Direction is the travel direction of the whole vehicle.
type Direction int32

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "UP"
	}
	return "DOWN"
}

// ParseDirection accepts "down"/"up" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "down":
		return Down, nil
	case "up":
		return Up, nil
	}
	return Down, fmt.Errorf("unknown direction %q", s)
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool { return d == Down || d == Up }

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Idle is the step index of a sequencer that is not running a step.
const Idle = -1

// Priority orders queued events; lower values drain first.
type Priority uint8

const (
	Interrupt Priority = iota
	Control
)

type queued[E any] struct {
	prio Priority
	seq  uint64
	ev   E
}

// Queue is a priority queue of events drained at the top of a tick.
// Events of equal priority keep their arrival order.
type Queue[E any] struct {
	items []queued[E]
	seq   uint64
}

func (q *Queue[E]) Push(p Priority, ev E) {
	q.seq++
	q.items = append(q.items, queued[E]{prio: p, seq: q.seq, ev: ev})
}

func (q *Queue[E]) Len() int { return len(q.items) }

// Drain empties the queue and returns its events in priority order.
func (q *Queue[E]) Drain() []E {
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	slices.SortStableFunc(items, func(a, b queued[E]) int {
		if a.prio != b.prio {
			return int(a.prio) - int(b.prio)
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]E, len(items))
	for i, it := range items {
		out[i] = it.ev
	}
	return out
}
