package drone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"voledrone.dev/internal/persistence/indexdb"
	persistlog "voledrone.dev/internal/persistence/log"
	"voledrone.dev/internal/persistence/records"
	"voledrone.dev/internal/persistence/savefile"
	"voledrone.dev/internal/protocol"
	"voledrone.dev/internal/rig"
	"voledrone.dev/internal/rig/simrig"
	"voledrone.dev/internal/sequence"
	"voledrone.dev/internal/settings"
	"voledrone.dev/internal/tuning"
)

type recorder struct {
	mu       sync.Mutex
	statuses []protocol.StatusMsg
	commands []persistlog.CommandEntry
	saves    []indexdb.SaveRow
}

func (r *recorder) WriteStatus(m protocol.StatusMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, m)
	return nil
}

func (r *recorder) WriteCommand(e persistlog.CommandEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, e)
	return nil
}

func (r *recorder) RecordSave(s indexdb.SaveRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, s)
}

type fixture struct {
	d   *Drone
	veh *simrig.Vehicle
	rec *recorder
	clk *clock.Mock
	dir savefile.Dir
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	veh := simrig.NewVehicle(rig.DefaultRanges())
	bound, err := rig.BindVehicle(veh.Inventory(), rig.DefaultRanges())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	rec := &recorder{}
	clk := clock.NewMock()
	dir := savefile.Dir(filepath.Join(t.TempDir(), "saves"))
	cfg := Config{
		VehicleID:    "vole-test",
		Tuning:       tuning.Defaults(),
		SaveDir:      dir,
		Clock:        clk,
		Stepper:      veh,
		StatusSinks:  []StatusSink{rec},
		CommandSinks: []CommandSink{rec},
		SaveRecorder: rec,
	}
	cfg.Tuning.AutosaveEveryTicks = 0
	if mutate != nil {
		mutate(&cfg)
	}
	d := New(cfg, bound, veh.Containers(), zaptest.NewLogger(t).Sugar())
	return &fixture{d: d, veh: veh, rec: rec, clk: clk, dir: dir}
}

func (f *fixture) ticks(n int) {
	for i := 0; i < n; i++ {
		f.d.tick()
	}
}

func (f *fixture) do(t *testing.T, cmd string) protocol.AckMsg {
	t.Helper()
	return f.d.execute(cmd, "test")
}

func (f *fixture) deploy(t *testing.T) {
	t.Helper()
	if a := f.do(t, protocol.CmdUnpack); !a.Accepted {
		t.Fatalf("unpack: %+v", a)
	}
	f.ticks(300)
}

func TestDrone_SubmitRunsAtTickBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- f.d.Run(ctx) }()

	done := make(chan protocol.AckMsg, 1)
	go func() {
		a, err := f.d.Submit(ctx, "test", protocol.CmdUnpack)
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- a
	}()

	var got protocol.AckMsg
	for i := 0; ; i++ {
		if i == 2000 {
			t.Fatalf("command never applied")
		}
		select {
		case got = <-done:
		default:
			f.clk.Add(100 * time.Millisecond)
			continue
		}
		break
	}
	if !got.Accepted || got.AckFor != protocol.CmdUnpack || got.Tick == 0 {
		t.Fatalf("ack: %+v", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if _, err := f.d.Submit(ctx, "test", protocol.CmdStop); err == nil {
		t.Fatalf("submit after shutdown succeeded")
	}
}

func TestDrone_CommandOutcomes(t *testing.T) {
	f := newFixture(t, nil)
	f.deploy(t)

	if a := f.do(t, protocol.CmdDown); !a.Accepted {
		t.Fatalf("down: %+v", a)
	}
	f.ticks(5)
	if a := f.do(t, protocol.CmdPack); a.Accepted || a.Code != protocol.ErrUnsafe {
		t.Fatalf("pack while moving: %+v", a)
	}
	if a := f.do(t, protocol.CmdUnpack); a.Accepted || a.Code != protocol.ErrUnsafe {
		t.Fatalf("unpack while moving: %+v", a)
	}
	if a := f.do(t, "dance"); a.Accepted || a.Code != protocol.ErrUnknownCommand {
		t.Fatalf("unknown: %+v", a)
	}
	if a := f.do(t, protocol.CmdForcePack); !a.Accepted {
		t.Fatalf("force-pack: %+v", a)
	}
	if st := f.d.orch.State(); !st.IsPacked || st.IsRunning {
		t.Fatalf("after force-pack: %+v", st)
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.commands) != 6 {
		t.Fatalf("got %d command entries want 6", len(f.rec.commands))
	}
	if c := f.rec.commands[2]; c.Command != protocol.CmdPack || c.Accepted || c.Code != protocol.ErrUnsafe || c.Source != "test" {
		t.Fatalf("entry: %+v", c)
	}
}

func TestDrone_StopLeavesStateInPlace(t *testing.T) {
	f := newFixture(t, nil)
	f.deploy(t)
	f.do(t, protocol.CmdDown)
	f.ticks(20)
	before := f.d.orch.State()
	f.do(t, protocol.CmdStop)
	f.ticks(20)
	after := f.d.orch.State()
	if after.IsRunning {
		t.Fatalf("still running")
	}
	if after.Step != before.Step || after.Direction != before.Direction {
		t.Fatalf("stop moved the sequence: %+v -> %+v", before, after)
	}
}

func TestDrone_SaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	f.deploy(t)
	f.do(t, protocol.CmdDown)
	f.ticks(50)

	a := f.do(t, protocol.CmdSave)
	if !a.Accepted || a.Message == "" {
		t.Fatalf("save: %+v", a)
	}
	if len(f.rec.saves) != 1 || f.rec.saves[0].Records != 7 {
		t.Fatalf("save rows: %+v", f.rec.saves)
	}
	saved := f.d.orch.State()

	g := newFixture(t, func(c *Config) { c.SaveDir = f.dir })
	if a := g.do(t, protocol.CmdLoad); !a.Accepted {
		t.Fatalf("load: %+v", a)
	}
	got := g.d.orch.State()
	if got.IsPacked || !got.IsRunning || got.Direction != saved.Direction || got.Cycles != saved.Cycles {
		t.Fatalf("restored orchestrator: %+v want like %+v", got, saved)
	}
	for i, l := range g.d.legs {
		if l.Status().Packed {
			t.Fatalf("leg %d still packed after load", i)
		}
	}
	if st := g.d.Latest(); st.Orchestrator.Packed {
		t.Fatalf("status not republished after load")
	}
}

func TestLayout_MatchesRegistration(t *testing.T) {
	f := newFixture(t, nil)
	var salts []uint16
	for _, slot := range Layout() {
		salts = append(salts, slot.Salt)
	}
	if len(salts) != f.d.store.Len() || records.FingerprintOf(salts...) != f.d.store.Fingerprint() {
		t.Fatalf("Layout %v does not describe the registered store", Layout())
	}
}

func TestDrone_LoadFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	if a := f.do(t, protocol.CmdLoad); a.Accepted || a.Code != protocol.ErrNoSave {
		t.Fatalf("empty dir: %+v", a)
	}

	good := newFixture(t, nil)
	good.deploy(t)
	data, err := good.d.store.SerializeAll(true)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	// Flip one payload byte of the last record.
	corrupt := []byte(data)
	corrupt[len(corrupt)-12] ^= 0x01
	if _, err := f.dir.Write(savefile.Save{Header: savefile.Header{Version: savefile.Version, Tick: 7}, Data: string(corrupt)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if a := f.do(t, protocol.CmdLoad); a.Accepted || a.Code != protocol.ErrCorruptSave {
		t.Fatalf("corrupt save: %+v", a)
	}
	if st := f.d.orch.State(); !st.IsPacked {
		t.Fatalf("corrupt load touched the orchestrator: %+v", st)
	}
	for i, l := range f.d.legs {
		if !l.Status().Packed {
			t.Fatalf("corrupt load touched leg %d", i)
		}
	}
}

func TestDrone_ResetStorage(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, protocol.CmdSave)
	f.ticks(1)
	f.do(t, protocol.CmdSave)
	if a := f.do(t, protocol.CmdResetStorage); !a.Accepted || a.Message != "removed 2 saves" {
		t.Fatalf("reset: %+v", a)
	}
	if _, err := f.dir.Latest(); !errors.Is(err, savefile.ErrNoSave) {
		t.Fatalf("saves left: %v", err)
	}
}

func TestDrone_SlowTickPublishesAndAutosaves(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Tuning.SlowEvery = 2
		c.Tuning.AutosaveEveryTicks = 4
		c.KeepSaves = 1
	})
	sub, cancel := f.d.Subscribe(8)
	defer cancel()

	f.ticks(8)
	if n := len(f.rec.statuses); n != 4 {
		t.Fatalf("got %d statuses want 4", n)
	}
	if n := len(f.rec.saves); n != 2 {
		t.Fatalf("got %d autosaves want 2", n)
	}
	ents, err := os.ReadDir(string(f.dir))
	if err != nil || len(ents) != 1 {
		t.Fatalf("save files: %v %v", ents, err)
	}
	select {
	case m := <-sub:
		if m.Type != protocol.TypeStatus || len(m.Legs) != 4 {
			t.Fatalf("status: %+v", m)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}
	if got := f.d.Latest().Tick; got != 8 {
		t.Fatalf("latest tick: got %d want 8", got)
	}
}

func TestDrone_CadenceSkipsBaseTicks(t *testing.T) {
	s := settings.Default()
	s.Enabled = true
	s.Cadence = settings.Every10
	f := newFixture(t, func(c *Config) {
		c.Settings = s
		c.Tuning.SlowEvery = 1
	})
	f.ticks(25)
	if n := len(f.rec.statuses); n != 2 {
		t.Fatalf("got %d slow ticks want 2", n)
	}
}

func TestDrone_DisabledDoesNotSequence(t *testing.T) {
	s := settings.Default()
	s.Cadence = settings.Every1
	f := newFixture(t, func(c *Config) { c.Settings = s })
	f.deploy(t)
	f.do(t, protocol.CmdDown)
	f.ticks(50)
	if st := f.d.orch.State(); st.Step != 0 || st.Cycles != 0 {
		t.Fatalf("disabled drone advanced: %+v", st)
	}
	if st := f.d.drill.Status(); st.Step != sequence.Idle {
		t.Fatalf("drill ran: %+v", st)
	}
}

func TestDrone_SettingsReachSequencers(t *testing.T) {
	s := settings.Default()
	s.Enabled = true
	s.Cadence = settings.Every1
	s.EjectStone = false
	s.SetMaxDrillingDepth(3)
	f := newFixture(t, func(c *Config) { c.Settings = s })
	if f.d.drill.State().EnableEjectors {
		t.Fatalf("ejectors enabled against settings")
	}
	s.EjectStone = true
	f.d.slowTick()
	if !f.d.drill.State().EnableEjectors {
		t.Fatalf("ejector setting not applied")
	}
	if got := f.d.Latest().Settings.MaxDrillingDepth; got != 3 {
		t.Fatalf("max depth: got %d want 3", got)
	}
}

func TestDrone_FullCargoTurnsBack(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Tuning.SlowEvery = 1 })
	for _, c := range f.veh.Cargo {
		c.Add("Iron", 1e6)
	}
	f.deploy(t)
	f.do(t, protocol.CmdDown)
	f.ticks(1)
	if st := f.d.orch.State(); st.Requested != sequence.Up {
		t.Fatalf("full hold did not request ascent: %+v", st)
	}
}

func TestDrone_DescendsOneCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.deploy(t)
	f.do(t, protocol.CmdDown)
	for i := 0; i < 60000; i++ {
		f.d.tick()
		if f.d.orch.State().Cycles >= 1 {
			if f.veh.Cargo[0].ItemAmount("Iron") <= 0 {
				t.Fatalf("a drilling cycle mined nothing")
			}
			return
		}
	}
	t.Fatalf("no descent cycle completed: %+v", f.d.orch.State())
}
