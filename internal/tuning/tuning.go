// Package tuning loads the vehicle's tunables from tuning.yaml. Every field
// is optional; missing ones keep their defaults.
package tuning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voledrone.dev/internal/actuator"
	"voledrone.dev/internal/cargo"
	"voledrone.dev/internal/rig"
	"voledrone.dev/internal/sequence/drill"
	"voledrone.dev/internal/sequence/leg"
	"voledrone.dev/internal/sequence/orchestrator"
	"voledrone.dev/schemas"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickMs             int `yaml:"tick_ms"`
	SlowEvery          int `yaml:"slow_every"`
	AutosaveEveryTicks int `yaml:"autosave_every_ticks"`

	Leg          Leg          `yaml:"leg"`
	Ranges       Ranges       `yaml:"ranges"`
	Drill        Drill        `yaml:"drill"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Cargo        Cargo        `yaml:"cargo"`
}

type Leg struct {
	RotorRPM       float64 `yaml:"rotor_rpm"`
	PistonSpeed    float64 `yaml:"piston_speed"`
	ReturnMult     float64 `yaml:"return_mult"`
	SlowFactor     float64 `yaml:"slow_factor"`
	KneeTuckDeg    float64 `yaml:"knee_tuck_deg"`
	HipLoweredDeg  float64 `yaml:"hip_lowered_deg"`
	HipFlatDeg     float64 `yaml:"hip_flat_deg"`
	UpperBandDeg   float64 `yaml:"upper_band_deg"`
	LowerBandDeg   float64 `yaml:"lower_band_deg"`
	AscendedHipDeg float64 `yaml:"ascended_hip_deg"`
	JointTolerance float64 `yaml:"joint_tolerance"`
	SettleTicks    int     `yaml:"settle_ticks"`
}

// Ranges are joint limits in degrees, [lower, upper].
type Ranges struct {
	HipHorizontal [2]float64 `yaml:"hip_horizontal"`
	HipVertical   [2]float64 `yaml:"hip_vertical"`
	Knee          [2]float64 `yaml:"knee"`
	Foot          [2]float64 `yaml:"foot"`
}

type Drill struct {
	DrillingSpeed float64 `yaml:"drilling_speed"`
	RPM           float64 `yaml:"rpm"`
	ReturnSpeed   float64 `yaml:"return_speed"`
	SpinUpTicks   int     `yaml:"spin_up_ticks"`
	DwellTicks    int     `yaml:"dwell_ticks"`
	CheckEvery    int     `yaml:"check_every"`
	SlowThreshold float64 `yaml:"slow_threshold"`
	SlowDivisor   float64 `yaml:"slow_divisor"`
}

type Orchestrator struct {
	GateFraction float64 `yaml:"gate_fraction"`
	GateFill     float64 `yaml:"gate_fill"`
	MaxDepth     int     `yaml:"max_depth"`
}

type Cargo struct {
	Blacklist        []string `yaml:"blacklist"`
	AllowedBlacklist float64  `yaml:"allowed_blacklist"`
}

// Defaults mirrors the built-in parameters of every component.
func Defaults() Tuning {
	lp := leg.DefaultParams()
	dp := drill.DefaultParams()
	op := orchestrator.DefaultParams()
	r := rig.DefaultRanges()
	deg := func(rng actuator.Range) [2]float64 {
		return [2]float64{actuator.Degrees(rng.Lower), actuator.Degrees(rng.Upper)}
	}
	return Tuning{
		ProtocolVersion:    "1.0",
		TickMs:             100,
		SlowEvery:          10,
		AutosaveEveryTicks: 600,
		Leg: Leg{
			RotorRPM:       lp.RotorRPM,
			PistonSpeed:    lp.PistonSpeed,
			ReturnMult:     lp.ReturnMult,
			SlowFactor:     lp.SlowFactor,
			KneeTuckDeg:    lp.KneeTuckDeg,
			HipLoweredDeg:  lp.HipLoweredDeg,
			HipFlatDeg:     lp.HipFlatDeg,
			UpperBandDeg:   lp.UpperBandDeg,
			LowerBandDeg:   lp.LowerBandDeg,
			AscendedHipDeg: lp.AscendedHipDeg,
			JointTolerance: lp.JointTolerance,
			SettleTicks:    lp.SettleTicks,
		},
		Ranges: Ranges{
			HipHorizontal: deg(r.HipHorizontal),
			HipVertical:   deg(r.HipVertical),
			Knee:          deg(r.Knee),
			Foot:          deg(r.Foot),
		},
		Drill: Drill{
			DrillingSpeed: dp.DrillingSpeed,
			RPM:           dp.RPM,
			ReturnSpeed:   dp.ReturnSpeed,
			SpinUpTicks:   dp.SpinUpTicks,
			DwellTicks:    dp.DwellTicks,
			CheckEvery:    dp.CheckEvery,
			SlowThreshold: dp.SlowThreshold,
			SlowDivisor:   dp.SlowDivisor,
		},
		Orchestrator: Orchestrator{
			GateFraction: op.GateFraction,
			GateFill:     op.GateFill,
			MaxDepth:     op.MaxDepth,
		},
		Cargo: Cargo{
			Blacklist:        []string{cargo.Stone, cargo.Ice},
			AllowedBlacklist: cargo.DefaultAllowedBlacklist,
		},
	}
}

// Load reads path over Defaults. The file is checked against the tuning
// schema before it is decoded.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := Validate(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := schemas.FS.ReadFile(schemas.Tuning)
		if err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = jsonschema.CompileString(schemas.Tuning, string(b))
	})
	return schema, schemaErr
}

// Validate checks a YAML document against the tuning schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := compiled()
	if err != nil {
		return err
	}
	return s.Validate(v)
}

func (t Tuning) LegParams() leg.Params {
	l := t.Leg
	return leg.Params{
		RotorRPM:       l.RotorRPM,
		PistonSpeed:    l.PistonSpeed,
		ReturnMult:     l.ReturnMult,
		SlowFactor:     l.SlowFactor,
		KneeTuckDeg:    l.KneeTuckDeg,
		HipLoweredDeg:  l.HipLoweredDeg,
		HipFlatDeg:     l.HipFlatDeg,
		UpperBandDeg:   l.UpperBandDeg,
		LowerBandDeg:   l.LowerBandDeg,
		AscendedHipDeg: l.AscendedHipDeg,
		JointTolerance: l.JointTolerance,
		SettleTicks:    l.SettleTicks,
	}
}

func (t Tuning) RigRanges() rig.Ranges {
	r := t.Ranges
	return rig.Ranges{
		HipHorizontal: actuator.DegRange(r.HipHorizontal[0], r.HipHorizontal[1]),
		HipVertical:   actuator.DegRange(r.HipVertical[0], r.HipVertical[1]),
		Knee:          actuator.DegRange(r.Knee[0], r.Knee[1]),
		Foot:          actuator.DegRange(r.Foot[0], r.Foot[1]),
	}
}

func (t Tuning) DrillParams() drill.Params {
	d := t.Drill
	return drill.Params{
		DrillingSpeed: d.DrillingSpeed,
		RPM:           d.RPM,
		ReturnSpeed:   d.ReturnSpeed,
		SpinUpTicks:   d.SpinUpTicks,
		DwellTicks:    d.DwellTicks,
		CheckEvery:    d.CheckEvery,
		SlowThreshold: d.SlowThreshold,
		SlowDivisor:   d.SlowDivisor,
	}
}

func (t Tuning) OrchestratorParams() orchestrator.Params {
	o := t.Orchestrator
	return orchestrator.Params{GateFraction: o.GateFraction, GateFill: o.GateFill, MaxDepth: o.MaxDepth}
}

// CargoOptions configures a cargo.Monitor.
func (t Tuning) CargoOptions() []cargo.Option {
	return []cargo.Option{
		cargo.WithBlacklist(t.Cargo.Blacklist...),
		cargo.WithAllowedBlacklist(t.Cargo.AllowedBlacklist),
	}
}
