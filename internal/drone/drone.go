// Package drone owns the vehicle's tick loop. One goroutine runs every
// sequencer; commands and status readers talk to it over channels and are
// served at tick boundaries.
package drone

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"voledrone.dev/internal/cargo"
	"voledrone.dev/internal/persistence/indexdb"
	persistlog "voledrone.dev/internal/persistence/log"
	"voledrone.dev/internal/persistence/records"
	"voledrone.dev/internal/persistence/savefile"
	"voledrone.dev/internal/protocol"
	"voledrone.dev/internal/rig"
	"voledrone.dev/internal/sequence"
	"voledrone.dev/internal/sequence/drill"
	"voledrone.dev/internal/sequence/leg"
	"voledrone.dev/internal/sequence/orchestrator"
	"voledrone.dev/internal/settings"
	"voledrone.dev/internal/tuning"
)

// StatusSink receives one STATUS per slow tick.
type StatusSink interface {
	WriteStatus(protocol.StatusMsg) error
}

// CommandSink receives every command outcome.
type CommandSink interface {
	WriteCommand(persistlog.CommandEntry) error
}

// SaveRecorder is told about every save file written.
type SaveRecorder interface {
	RecordSave(indexdb.SaveRow)
}

// Stepper advances a simulated vehicle between ticks.
type Stepper interface {
	Step(time.Duration)
}

type Config struct {
	VehicleID string
	Tuning    tuning.Tuning
	// Settings seeds the program settings; a loaded save replaces them.
	// Nil means enabled, every base tick, tuning's max depth.
	Settings *settings.Settings
	SaveDir  savefile.Dir
	// KeepSaves bounds the number of save files kept after an autosave.
	KeepSaves   int
	LoadOnStart bool
	Clock       clock.Clock
	Stepper     Stepper

	StatusSinks  []StatusSink
	CommandSinks []CommandSink
	SaveRecorder SaveRecorder
}

// Slot is one record of a save.
type Slot struct {
	Name string
	Salt uint16
}

// Layout lists the records of a save in index order.
func Layout() []Slot {
	slots := []Slot{{"settings", settings.Salt}}
	for _, loc := range rig.GaitOrder {
		slots = append(slots, Slot{"leg " + loc.String(), leg.Salt})
	}
	return append(slots, Slot{"drill", drill.Salt}, Slot{"orchestrator", orchestrator.Salt})
}

type request struct {
	cmd    string
	source string
	resp   chan protocol.AckMsg
}

// Drone is the running vehicle.
type Drone struct {
	cfg   Config
	clock clock.Clock
	log   *zap.SugaredLogger

	legs     [4]*leg.Sequencer
	drill    *drill.Sequencer
	orch     *orchestrator.Controller
	settings *settings.Settings
	cargo    *cargo.Monitor
	store    *records.Store

	reqs chan request

	// Loop state, owned by the Run goroutine.
	base     uint64
	fast     uint64
	pending  []request
	ejectors bool

	mu     sync.Mutex
	latest protocol.StatusMsg
	subs   map[chan protocol.StatusMsg]struct{}
}

// New wires the sequencers over a bound vehicle. Containers feed the cargo
// monitor.
func New(cfg Config, veh rig.Vehicle, containers []cargo.Inventory, logger *zap.SugaredLogger) *Drone {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Default()
		cfg.Settings.Enabled = true
		cfg.Settings.Cadence = settings.Every1
		cfg.Settings.SetMaxDrillingDepth(cfg.Tuning.Orchestrator.MaxDepth)
	}
	if cfg.Tuning.TickMs <= 0 {
		cfg.Tuning.TickMs = tuning.Defaults().TickMs
	}
	if cfg.Tuning.SlowEvery <= 0 {
		cfg.Tuning.SlowEvery = tuning.Defaults().SlowEvery
	}
	log := logger.Named("drone")
	d := &Drone{
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      log,
		settings: cfg.Settings,
		cargo:    cargo.NewMonitor(cfg.Tuning.CargoOptions()...),
		store:    records.New(log),
		reqs:     make(chan request, 64),
		subs:     map[chan protocol.StatusMsg]struct{}{},
	}
	var legs [4]orchestrator.Leg
	for i, def := range veh.Legs {
		d.legs[i] = leg.New(def, cfg.Tuning.LegParams(), log)
		legs[i] = d.legs[i]
	}
	d.drill = drill.New(veh.Drill, cfg.Tuning.DrillParams(), log)
	d.orch = orchestrator.New(legs, d.drill, cfg.Tuning.OrchestratorParams(), log)
	d.cargo.Register(containers...)

	// Registration order is the save schema and must follow Layout.
	d.store.Register(d.settings)
	for _, l := range d.legs {
		d.store.Register(l)
	}
	d.store.Register(d.drill, d.orch)

	d.applySettings(true)
	d.latest = d.status()
	return d
}

func (d *Drone) tickDuration() time.Duration {
	return time.Duration(d.cfg.Tuning.TickMs) * time.Millisecond
}

// Run drives the tick loop until ctx is done. Queued commands are answered
// with E_BUSY once the loop exits.
func (d *Drone) Run(ctx context.Context) error {
	if d.cfg.LoadOnStart {
		if ack := d.load(); ack.Accepted {
			d.log.Infow("resumed from save", "message", ack.Message)
		} else if ack.Code != protocol.ErrNoSave {
			d.log.Warnw("load on start failed; starting fresh", "code", ack.Code, "error", ack.Message)
		}
	}

	ticker := d.clock.Ticker(d.tickDuration())
	defer ticker.Stop()
	d.log.Infow("tick loop started", "tick", d.tickDuration(), "slow_every", d.cfg.Tuning.SlowEvery)

	for {
		select {
		case <-ctx.Done():
			d.drainOnExit()
			return ctx.Err()
		case r := <-d.reqs:
			d.pending = append(d.pending, r)
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Drone) drainOnExit() {
	busy := func(r request) {
		r.resp <- protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: r.cmd, Code: protocol.ErrBusy, Message: "shutting down"}
	}
	for _, r := range d.pending {
		busy(r)
	}
	d.pending = nil
	for {
		select {
		case r := <-d.reqs:
			busy(r)
		default:
			return
		}
	}
}

// tick is one base tick: pending commands first, then the fast cadence,
// then the slow cadence.
func (d *Drone) tick() {
	d.base++
	for _, r := range d.pending {
		r.resp <- d.execute(r.cmd, r.source)
	}
	d.pending = d.pending[:0]

	every := uint64(d.settings.Cadence.Ticks())
	if d.base%every != 0 {
		return
	}
	d.fast++
	if d.settings.Enabled {
		d.orch.Tick()
	}
	if d.cfg.Stepper != nil {
		d.cfg.Stepper.Step(d.tickDuration() * time.Duration(every))
	}
	if d.fast%uint64(d.cfg.Tuning.SlowEvery) == 0 {
		d.slowTick()
	}
}

func (d *Drone) slowTick() {
	reading := d.cargo.Read()
	d.orch.SetBackpressure(orchestrator.Backpressure{
		Fraction: reading.BlacklistedFraction,
		Fill:     reading.BlacklistedVolumeFill,
	})
	d.drill.SetCargoFill(reading.FillFactor)

	st := d.orch.State()
	if reading.Full && st.IsRunning && st.Requested == sequence.Down {
		d.log.Infow("cargo full; heading up", "fill", reading.FillFactor)
		d.orch.RequestDirection(sequence.Up)
	}

	d.applySettings(false)
	d.publish(d.status())

	if n := d.cfg.Tuning.AutosaveEveryTicks; n > 0 && d.fast%uint64(n) == 0 {
		if ack := d.save(false); !ack.Accepted {
			d.log.Warnw("autosave failed", "code", ack.Code, "error", ack.Message)
		}
	}
}

// applySettings pushes the settings record into the sequencers.
func (d *Drone) applySettings(force bool) {
	if on := d.settings.EjectStone; force || on != d.ejectors {
		d.drill.SetEjectors(on)
		d.ejectors = on
	}
	d.orch.SetMaxDepth(d.settings.MaxDrillingDepth())
}

// Submit queues a command for the next tick and waits for its outcome.
func (d *Drone) Submit(ctx context.Context, source, cmd string) (protocol.AckMsg, error) {
	r := request{cmd: cmd, source: source, resp: make(chan protocol.AckMsg, 1)}
	select {
	case d.reqs <- r:
	case <-ctx.Done():
		return protocol.AckMsg{}, ctx.Err()
	}
	select {
	case ack := <-r.resp:
		return ack, nil
	case <-ctx.Done():
		return protocol.AckMsg{}, ctx.Err()
	}
}
