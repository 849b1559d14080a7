package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vole.log")
	log, err := New("vole", Config{Level: "debug", JSON: true, Outputs: []string{path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debugw("tick", "n", 3)
	_ = log.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(b)
	for _, want := range []string{`"logger":"vole"`, `"msg":"tick"`, `"n":3`, `"level":"DEBUG"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %s in %q", want, line)
		}
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New("vole", Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}
