// Package savefile keeps serialized vehicle state on disk as zstd files:
// one JSON header line followed by the record text.
package savefile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	suffix  = ".save.zst"
)

type Header struct {
	Version     int       `json:"version"`
	VehicleID   string    `json:"vehicle_id"`
	Tick        uint64    `json:"tick"`
	Fingerprint uint16    `json:"fingerprint"`
	SavedAt     time.Time `json:"saved_at"`
}

// Save is one save file.
type Save struct {
	Header Header
	Data   string
}

var ErrNoSave = errors.New("no save file")

func Write(path string, s Save) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Written next to the target and renamed so a crash never leaves a
	// truncated save behind.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(s.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := bw.WriteString(s.Data); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Read(path string) (Save, error) {
	var s Save
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return s, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return s, fmt.Errorf("save header: %w", err)
	}
	if err := json.Unmarshal(line, &s.Header); err != nil {
		return s, fmt.Errorf("save header: %w", err)
	}
	if s.Header.Version != Version {
		return s, fmt.Errorf("save version %d not supported", s.Header.Version)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return s, fmt.Errorf("save body: %w", err)
	}
	s.Data = string(body)
	return s, nil
}

// Dir is a directory of saves named by tick.
type Dir string

func (d Dir) Path(tick uint64) string {
	return filepath.Join(string(d), fmt.Sprintf("%012d%s", tick, suffix))
}

func (d Dir) Write(s Save) (string, error) {
	p := d.Path(s.Header.Tick)
	return p, Write(p, s)
}

// Latest returns the path of the save with the highest tick, or ErrNoSave.
func (d Dir) Latest() (string, error) {
	ents, err := os.ReadDir(string(d))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSave
	}
	if err != nil {
		return "", err
	}
	var (
		best     string
		bestTick uint64
	)
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), suffix), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = e.Name(), tick
		}
	}
	if best == "" {
		return "", ErrNoSave
	}
	return filepath.Join(string(d), best), nil
}

// Prune keeps the newest keep saves and removes the rest.
func (d Dir) Prune(keep int) (int, error) {
	ents, err := os.ReadDir(string(d))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	// Zero-padded ticks sort lexically; ReadDir returns sorted names.
	removed := 0
	for i := 0; i < len(names)-keep; i++ {
		if err := os.Remove(filepath.Join(string(d), names[i])); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Reset removes every save in the directory.
func (d Dir) Reset() (int, error) { return d.Prune(0) }
