// Package indexdb keeps a queryable sqlite read model of the vehicle's
// telemetry, commands and saves. The JSONL logs stay the source of truth;
// the index may drop entries when its writer falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "voledrone.dev/internal/persistence/log"
	"voledrone.dev/internal/protocol"
	"voledrone.dev/internal/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqStatus reqKind = iota + 1
	reqCommand
	reqSave
)

type req struct {
	kind reqKind

	status  protocol.StatusMsg
	command persistlog.CommandEntry
	save    SaveRow
}

// SaveRow describes one save file.
type SaveRow struct {
	Tick        uint64
	Path        string
	Fingerprint uint16
	Records     int
	Bytes       int
	RecordedAt  time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			direction TEXT NOT NULL,
			step INTEGER NOT NULL,
			running INTEGER NOT NULL,
			packed INTEGER NOT NULL,
			cycles INTEGER NOT NULL,
			drill_step INTEGER NOT NULL,
			fill REAL NOT NULL,
			blacklisted REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS leg_steps (
			tick INTEGER NOT NULL,
			location TEXT NOT NULL,
			step INTEGER NOT NULL,
			direction TEXT NOT NULL,
			ended INTEGER NOT NULL,
			PRIMARY KEY (tick, location)
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			command TEXT NOT NULL,
			source TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			code TEXT,
			message TEXT,
			at TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_command_tick ON commands(command, tick);`,
		`CREATE TABLE IF NOT EXISTS saves (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			fingerprint INTEGER NOT NULL,
			records INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped is the number of entries discarded because the writer was behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteStatus(m protocol.StatusMsg) error {
	s.enqueue(req{kind: reqStatus, status: m})
	return nil
}

func (s *SQLiteIndex) WriteCommand(e persistlog.CommandEntry) error {
	s.enqueue(req{kind: reqCommand, command: e})
	return nil
}

func (s *SQLiteIndex) RecordSave(r SaveRow) {
	if r.Path == "" {
		return
	}
	s.enqueue(req{kind: reqSave, save: r})
}

// UpsertTuning stores the tuning in effect, keyed by the digest of its
// canonical JSON, and returns that digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	return digest, tx.Commit()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,direction,step,running,packed,cycles,drill_step,fill,blacklisted,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertLeg, _ := s.db.Prepare(`INSERT OR REPLACE INTO leg_steps(tick,location,step,direction,ended) VALUES(?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,command,source,accepted,code,message,at) VALUES(?,?,?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT OR REPLACE INTO saves(tick,path,fingerprint,records,bytes,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertLeg, insertCommand, insertSave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second

		lastCommandTick uint64
		commandSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqStatus:
			m := r.status
			raw, _ := json.Marshal(m)
			o := m.Orchestrator
			if !exec(insertTick,
				int64(m.Tick),
				o.Direction.String(),
				o.Step,
				b2i(o.Running),
				b2i(o.Packed),
				o.Cycles,
				m.Drill.Step,
				m.Cargo.FillFactor,
				m.Cargo.BlacklistedFraction,
				string(raw),
			) {
				continue
			}
			for _, l := range m.Legs {
				if !exec(insertLeg, int64(m.Tick), l.Location, l.Step, l.Direction.String(), b2i(l.Ended)) {
					break
				}
			}

		case reqCommand:
			c := r.command
			if c.Tick != lastCommandTick {
				lastCommandTick = c.Tick
				commandSeq = 0
			}
			seq := commandSeq
			commandSeq++
			exec(insertCommand,
				int64(c.Tick),
				seq,
				c.Command,
				c.Source,
				b2i(c.Accepted),
				c.Code,
				c.Message,
				c.At.UTC().Format(time.RFC3339Nano),
			)

		case reqSave:
			sv := r.save
			exec(insertSave,
				int64(sv.Tick),
				sv.Path,
				int(sv.Fingerprint),
				sv.Records,
				sv.Bytes,
				sv.RecordedAt.UTC().Format(time.RFC3339Nano),
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
