// Package records saves a registered set of objects into one compact
// string and restores them. Each object becomes one line:
//
//	index SEP base64(payload) SEP checksum
//
// with SEP = U+0092 and checksum = CRC16(payload) ^ index ^ salt, printed
// in decimal. A header line "#" SEP version SEP fingerprint leads the
// save; the fingerprint is the CRC16 of every registered salt in order,
// so a save only loads into the same registration layout.
//
// Loading is all or nothing: every line is parsed and verified before any
// object is touched, and a decode failure rolls back the objects already
// restored.
package records

import (
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	Separator       = '\u0092'
	RecordSeparator = '\n'
	headerTag       = "#"

	// Version is bumped whenever the record framing changes.
	Version = 1
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrIndexRange      = errors.New("record index out of range")
	ErrSchemaMismatch  = errors.New("save does not match registered objects")
)

// Saveable is an object the store can persist. UnmarshalBinary must
// either fully apply data or leave the object unchanged.
type Saveable interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Salt() uint16
	ShouldSerialize() bool
}

// Resumer is implemented by objects that adjust themselves once a load
// has fully succeeded, e.g. to redo a step that was in flight.
type Resumer interface {
	Resume()
}

// Store is the registry of saveable objects. Registration order defines
// record indices.
type Store struct {
	items []Saveable
	log   *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Store {
	return &Store{log: logger.Named("records")}
}

func (s *Store) Register(items ...Saveable) {
	s.items = append(s.items, items...)
}

func (s *Store) Len() int { return len(s.items) }

// Fingerprint identifies the registration layout.
func (s *Store) Fingerprint() uint16 {
	salts := make([]uint16, len(s.items))
	for i, it := range s.items {
		salts[i] = it.Salt()
	}
	return FingerprintOf(salts...)
}

// FingerprintOf is the fingerprint of a layout with these salts in order.
func FingerprintOf(salts ...uint16) uint16 {
	buf := make([]byte, 0, 2*len(salts))
	for _, salt := range salts {
		buf = binary.LittleEndian.AppendUint16(buf, salt)
	}
	return CRC16(buf)
}

func checksum(payload []byte, index int, salt uint16) uint16 {
	return CRC16(payload) ^ uint16(index) ^ salt
}

// SerializeAll writes every object that wants saving, or all of them when
// force is set. It returns "" when nothing was written.
func (s *Store) SerializeAll(force bool) (string, error) {
	sep := string(Separator)
	var lines []string
	for i, it := range s.items {
		if !force && !it.ShouldSerialize() {
			continue
		}
		payload, err := it.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("record %d: %w", i, err)
		}
		lines = append(lines, strconv.Itoa(i)+sep+
			base64.StdEncoding.EncodeToString(payload)+sep+
			strconv.FormatUint(uint64(checksum(payload, i, it.Salt())), 10))
	}
	if len(lines) == 0 {
		return "", nil
	}
	header := headerTag + sep + strconv.Itoa(Version) + sep + strconv.FormatUint(uint64(s.Fingerprint()), 10)
	return header + string(RecordSeparator) + strings.Join(lines, string(RecordSeparator)), nil
}

type parsed struct {
	index   int
	payload []byte
}

// DeserializeAll restores the objects named in data. An empty string is a
// no-op.
func (s *Store) DeserializeAll(data string) error {
	if data == "" {
		return nil
	}
	recs, err := s.parse(data)
	if err != nil {
		return err
	}
	if err := s.apply(recs); err != nil {
		return err
	}
	for _, r := range recs {
		if rs, ok := s.items[r.index].(Resumer); ok {
			rs.Resume()
		}
	}
	s.log.Infow("save restored", "records", len(recs))
	return nil
}

func (s *Store) parse(data string) ([]parsed, error) {
	lines := strings.Split(data, string(RecordSeparator))
	if err := s.checkHeader(lines[0]); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(lines)-1)
	recs := make([]parsed, 0, len(lines)-1)
	for n, line := range lines[1:] {
		r, err := s.parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+2, err)
		}
		if seen[r.index] {
			return nil, fmt.Errorf("line %d: duplicate index %d: %w", n+2, r.index, ErrMalformedRecord)
		}
		seen[r.index] = true
		recs = append(recs, r)
	}
	return recs, nil
}

func (s *Store) checkHeader(line string) error {
	f := strings.Split(line, string(Separator))
	if len(f) != 3 || f[0] != headerTag {
		return fmt.Errorf("missing header: %w", ErrMalformedRecord)
	}
	v, err := strconv.Atoi(f[1])
	if err != nil {
		return fmt.Errorf("header version %q: %w", f[1], ErrMalformedRecord)
	}
	if v != Version {
		return fmt.Errorf("version %d, want %d: %w", v, Version, ErrSchemaMismatch)
	}
	fp, err := strconv.ParseUint(f[2], 10, 16)
	if err != nil {
		return fmt.Errorf("header fingerprint %q: %w", f[2], ErrMalformedRecord)
	}
	if uint16(fp) != s.Fingerprint() {
		return fmt.Errorf("fingerprint %d, want %d: %w", fp, s.Fingerprint(), ErrSchemaMismatch)
	}
	return nil
}

func (s *Store) parseLine(line string) (parsed, error) {
	f := strings.Split(line, string(Separator))
	if len(f) != 3 {
		return parsed{}, fmt.Errorf("%d fields: %w", len(f), ErrMalformedRecord)
	}
	idx, err := strconv.ParseUint(f[0], 10, 16)
	if err != nil {
		return parsed{}, fmt.Errorf("index %q: %w", f[0], ErrMalformedRecord)
	}
	if int(idx) >= len(s.items) {
		return parsed{}, fmt.Errorf("index %d of %d: %w", idx, len(s.items), ErrIndexRange)
	}
	payload, err := base64.StdEncoding.DecodeString(f[1])
	if err != nil {
		return parsed{}, fmt.Errorf("record %d payload: %v: %w", idx, err, ErrMalformedRecord)
	}
	sum, err := strconv.ParseUint(f[2], 10, 16)
	if err != nil {
		return parsed{}, fmt.Errorf("record %d checksum %q: %w", idx, f[2], ErrMalformedRecord)
	}
	i := int(idx)
	if want := checksum(payload, i, s.items[i].Salt()); uint16(sum) != want {
		return parsed{}, fmt.Errorf("record %d: got %d want %d: %w", i, sum, want, ErrChecksum)
	}
	return parsed{index: i, payload: payload}, nil
}

// apply decodes every record, restoring the previous contents of the
// objects already decoded if a later one fails.
func (s *Store) apply(recs []parsed) error {
	backups := make([][]byte, 0, len(recs))
	for n, r := range recs {
		it := s.items[r.index]
		b, err := it.MarshalBinary()
		if err != nil {
			return s.rollback(recs[:n], backups, fmt.Errorf("record %d backup: %w", r.index, err))
		}
		if err := it.UnmarshalBinary(r.payload); err != nil {
			return s.rollback(recs[:n], backups, fmt.Errorf("record %d: %w", r.index, err))
		}
		backups = append(backups, b)
	}
	return nil
}

func (s *Store) rollback(done []parsed, backups [][]byte, cause error) error {
	err := cause
	for i := len(done) - 1; i >= 0; i-- {
		if rerr := s.items[done[i].index].UnmarshalBinary(backups[i]); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("rollback record %d: %w", done[i].index, rerr))
		}
	}
	s.log.Warnw("save rejected", "error", cause, "rolled_back", len(done))
	return err
}

// Line is one record as found in a save, before any registry checks.
type Line struct {
	Index    int
	Payload  []byte
	Checksum uint16
}

// Verify reports whether l carries the checksum for salt.
func (l Line) Verify(salt uint16) bool {
	return checksum(l.Payload, l.Index, salt) == l.Checksum
}

// Split reads the framing of a save without a registry: the header
// version and fingerprint, then every record line. Checksums are returned,
// not verified, since salts are only known to a Store.
func Split(data string) (version int, fingerprint uint16, lines []Line, err error) {
	raw := strings.Split(data, string(RecordSeparator))
	f := strings.Split(raw[0], string(Separator))
	if len(f) != 3 || f[0] != headerTag {
		return 0, 0, nil, fmt.Errorf("missing header: %w", ErrMalformedRecord)
	}
	if version, err = strconv.Atoi(f[1]); err != nil {
		return 0, 0, nil, fmt.Errorf("header version %q: %w", f[1], ErrMalformedRecord)
	}
	fp, err := strconv.ParseUint(f[2], 10, 16)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("header fingerprint %q: %w", f[2], ErrMalformedRecord)
	}
	for n, l := range raw[1:] {
		f := strings.Split(l, string(Separator))
		if len(f) != 3 {
			return 0, 0, nil, fmt.Errorf("line %d: %w", n+2, ErrMalformedRecord)
		}
		idx, err1 := strconv.ParseUint(f[0], 10, 16)
		payload, err2 := base64.StdEncoding.DecodeString(f[1])
		sum, err3 := strconv.ParseUint(f[2], 10, 16)
		if err := multierr.Combine(err1, err2, err3); err != nil {
			return 0, 0, nil, fmt.Errorf("line %d: %v: %w", n+2, err, ErrMalformedRecord)
		}
		lines = append(lines, Line{Index: int(idx), Payload: payload, Checksum: uint16(sum)})
	}
	return version, uint16(fp), lines, nil
}
