// Package log writes hourly-rotated, zstd-compressed JSONL streams.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"

	"voledrone.dev/internal/protocol"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	clock   clock.Clock

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, clk clock.Clock) *JSONLZstdWriter {
	if clk == nil {
		clk = clock.New()
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		clock:   clk,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.clock.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TelemetryLogger writes one STATUS entry per slow tick.
type TelemetryLogger struct{ w *JSONLZstdWriter }

func NewTelemetryLogger(dataDir string, clk clock.Clock) *TelemetryLogger {
	return &TelemetryLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "telemetry"), "telemetry", clk)}
}

func (l *TelemetryLogger) WriteStatus(v protocol.StatusMsg) error { return l.w.Write(v) }
func (l *TelemetryLogger) Close() error                           { return l.w.Close() }

// CommandEntry is one operator command and its outcome.
type CommandEntry struct {
	Tick     uint64    `json:"tick"`
	At       time.Time `json:"at"`
	Command  string    `json:"command"`
	Source   string    `json:"source"`
	Accepted bool      `json:"accepted"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// CommandLogger writes the command audit trail.
type CommandLogger struct{ w *JSONLZstdWriter }

func NewCommandLogger(dataDir string, clk clock.Clock) *CommandLogger {
	return &CommandLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "commands"), "commands", clk)}
}

func (l *CommandLogger) WriteCommand(v CommandEntry) error { return l.w.Write(v) }
func (l *CommandLogger) Close() error                      { return l.w.Close() }
