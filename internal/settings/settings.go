// Package settings holds the operator-facing program settings that are
// saved alongside the sequencers.
package settings

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Salt tags the settings record in a save.
const Salt uint16 = 0x0002

// DefaultMaxDrillingDepth is the number of descent cycles allowed before
// the vehicle stops by itself.
const DefaultMaxDrillingDepth = 75

// Cadence is how often the fast loop runs, in base ticks.
type Cadence uint8

const (
	Every1   Cadence = 1
	Every10  Cadence = 2
	Every100 Cadence = 4
)

// Ticks is the number of base ticks between two fast-loop ticks.
func (c Cadence) Ticks() int {
	switch c {
	case Every1:
		return 1
	case Every10:
		return 10
	default:
		return 100
	}
}

func (c Cadence) Valid() bool { return c == Every1 || c == Every10 || c == Every100 }

func (c Cadence) String() string { return fmt.Sprintf("every%d", c.Ticks()) }

// ParseCadence accepts "1", "10" or "100".
func ParseCadence(s string) (Cadence, error) {
	switch s {
	case "1":
		return Every1, nil
	case "10":
		return Every10, nil
	case "100":
		return Every100, nil
	}
	return 0, fmt.Errorf("unknown cadence %q (want 1, 10 or 100)", s)
}

type Settings struct {
	Enabled    bool
	EjectStone bool
	Cadence    Cadence

	maxDepth int
}

func Default() *Settings {
	return &Settings{EjectStone: true, Cadence: Every100, maxDepth: DefaultMaxDrillingDepth}
}

func (s *Settings) MaxDrillingDepth() int { return s.maxDepth }

// SetMaxDrillingDepth stores n, clamped at zero.
func (s *Settings) SetMaxDrillingDepth(n int) { s.maxDepth = max(n, 0) }

type wireSettings struct {
	Enabled    bool
	MaxDepth   int32
	EjectStone bool
	Cadence    uint8
}

func (s *Settings) Salt() uint16 { return Salt }

func (s *Settings) ShouldSerialize() bool { return true }

func (s *Settings) MarshalBinary() ([]byte, error) {
	w := wireSettings{
		Enabled:    s.Enabled,
		MaxDepth:   int32(s.maxDepth),
		EjectStone: s.EjectStone,
		Cadence:    uint8(s.Cadence),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Settings) UnmarshalBinary(data []byte) error {
	var w wireSettings
	if n := binary.Size(&w); len(data) != n {
		return fmt.Errorf("settings: got %d bytes want %d", len(data), n)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &w); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if w.MaxDepth < 0 {
		return fmt.Errorf("settings: negative max drilling depth %d", w.MaxDepth)
	}
	if c := Cadence(w.Cadence); !c.Valid() {
		return fmt.Errorf("settings: bad cadence %d", w.Cadence)
	}
	s.Enabled = w.Enabled
	s.maxDepth = int(w.MaxDepth)
	s.EjectStone = w.EjectStone
	s.Cadence = Cadence(w.Cadence)
	return nil
}
