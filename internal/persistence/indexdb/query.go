package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Reader queries an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type TickRow struct {
	Tick        uint64  `json:"tick"`
	Direction   string  `json:"direction"`
	Step        int     `json:"step"`
	Running     bool    `json:"running"`
	Packed      bool    `json:"packed"`
	Cycles      int     `json:"cycles"`
	DrillStep   int     `json:"drill_step"`
	Fill        float64 `json:"fill"`
	Blacklisted float64 `json:"blacklisted"`
}

type CommandRow struct {
	Tick     uint64 `json:"tick"`
	Seq      int    `json:"seq"`
	Command  string `json:"command"`
	Source   string `json:"source"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	At       string `json:"at"`
}

// Ticks returns the newest n telemetry rows, newest first.
func (r *Reader) Ticks(ctx context.Context, n int) ([]TickRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick,direction,step,running,packed,cycles,drill_step,fill,blacklisted FROM ticks ORDER BY tick DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TickRow
	for rows.Next() {
		var t TickRow
		if err := rows.Scan(&t.Tick, &t.Direction, &t.Step, &t.Running, &t.Packed, &t.Cycles, &t.DrillStep, &t.Fill, &t.Blacklisted); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Commands returns the newest n commands, newest first. An empty name
// matches every command.
func (r *Reader) Commands(ctx context.Context, name string, n int) ([]CommandRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick,seq,command,source,accepted,COALESCE(code,''),COALESCE(message,''),at FROM commands
		 WHERE (?1 = '' OR command = ?1) ORDER BY tick DESC, seq DESC LIMIT ?2`, name, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(&c.Tick, &c.Seq, &c.Command, &c.Source, &c.Accepted, &c.Code, &c.Message, &c.At); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Saves returns the newest n saves, newest first.
func (r *Reader) Saves(ctx context.Context, n int) ([]SaveRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tick,path,fingerprint,records,bytes,recorded_at FROM saves ORDER BY tick DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var (
			s  SaveRow
			fp int
			at string
		)
		if err := rows.Scan(&s.Tick, &s.Path, &fp, &s.Records, &s.Bytes, &at); err != nil {
			return nil, fmt.Errorf("scan save: %w", err)
		}
		s.Fingerprint = uint16(fp)
		s.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Meta returns one meta value, or "" when unset.
func (r *Reader) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}
