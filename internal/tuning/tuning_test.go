package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Defaults(), got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("configs/tuning.yaml drifted from Defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeFile(t, "tick_ms: 50\ndrill:\n  rpm: 5\norchestrator:\n  max_depth: 0\n")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	want.TickMs = 50
	want.Drill.RPM = 5
	want.Orchestrator.MaxDepth = 0
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if p := got.DrillParams(); p.RPM != 5 || p.DrillingSpeed != want.Drill.DrillingSpeed {
		t.Fatalf("drill params: %+v", p)
	}
	if p := got.OrchestratorParams(); p.MaxDepth != 0 {
		t.Fatalf("orchestrator params: %+v", p)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "tick_rate: 5\n",
		"negative tick":    "tick_ms: -1\n",
		"bad range arity":  "ranges:\n  knee: [1, 2, 3]\n",
		"fill out of band": "orchestrator:\n  gate_fill: 1.5\n",
		"wrong type":       "leg:\n  rotor_rpm: fast\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	got, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Defaults(), got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestRigRanges_RoundTripDegrees(t *testing.T) {
	r := Defaults().RigRanges()
	if r.Knee.Lower >= r.Knee.Upper {
		t.Fatalf("knee range inverted: %+v", r.Knee)
	}
	if got := Defaults().LegParams(); got.SettleTicks != 3 {
		t.Fatalf("leg params: %+v", got)
	}
}
