package drone

import (
	"errors"
	"fmt"

	"voledrone.dev/internal/persistence/indexdb"
	persistlog "voledrone.dev/internal/persistence/log"
	"voledrone.dev/internal/persistence/savefile"
	"voledrone.dev/internal/protocol"
	"voledrone.dev/internal/sequence"
	"voledrone.dev/internal/sequence/orchestrator"
)

func ack(cmd string, tick uint64) protocol.AckMsg {
	return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: cmd, Accepted: true, Tick: tick}
}

func reject(cmd string, tick uint64, code string, err error) protocol.AckMsg {
	a := ack(cmd, tick)
	a.Accepted = false
	a.Code = code
	if err != nil {
		a.Message = err.Error()
	}
	return a
}

// execute applies one command on the loop goroutine and reports it to the
// command sinks.
func (d *Drone) execute(cmd, source string) protocol.AckMsg {
	a := d.dispatch(cmd)
	if a.Accepted {
		d.log.Infow("command", "command", cmd, "source", source)
	} else {
		d.log.Warnw("command rejected", "command", cmd, "source", source, "code", a.Code, "error", a.Message)
	}
	entry := persistlog.CommandEntry{
		Tick:     d.base,
		At:       d.clock.Now().UTC(),
		Command:  cmd,
		Source:   source,
		Accepted: a.Accepted,
		Code:     a.Code,
		Message:  a.Message,
	}
	for _, s := range d.cfg.CommandSinks {
		if err := s.WriteCommand(entry); err != nil {
			d.log.Warnw("command sink", "error", err)
		}
	}
	return a
}

func (d *Drone) dispatch(cmd string) protocol.AckMsg {
	tick := d.base
	unsafe := func(err error) protocol.AckMsg {
		if errors.Is(err, orchestrator.ErrUnsafePack) || errors.Is(err, orchestrator.ErrUnsafeUnpack) {
			return reject(cmd, tick, protocol.ErrUnsafe, err)
		}
		return reject(cmd, tick, protocol.ErrInternal, err)
	}
	switch cmd {
	case protocol.CmdPack, protocol.CmdForcePack:
		if err := d.orch.Pack(cmd == protocol.CmdForcePack); err != nil {
			return unsafe(err)
		}
	case protocol.CmdUnpack, protocol.CmdForceUnpack:
		if err := d.orch.Unpack(cmd == protocol.CmdForceUnpack); err != nil {
			return unsafe(err)
		}
	case protocol.CmdDown:
		d.orch.RequestDirection(sequence.Down)
	case protocol.CmdUp:
		d.orch.RequestDirection(sequence.Up)
	case protocol.CmdStop:
		d.orch.Stop()
	case protocol.CmdSave:
		return d.save(true)
	case protocol.CmdLoad:
		return d.load()
	case protocol.CmdResetStorage:
		n, err := d.cfg.SaveDir.Reset()
		if err != nil {
			return reject(cmd, tick, protocol.ErrInternal, err)
		}
		a := ack(cmd, tick)
		a.Message = fmt.Sprintf("removed %d saves", n)
		return a
	default:
		return reject(cmd, tick, protocol.ErrUnknownCommand, fmt.Errorf("unknown command %q", cmd))
	}
	return ack(cmd, tick)
}

// save writes the current state to a new save file. Unless forced, objects
// still in their default state are left out.
func (d *Drone) save(force bool) protocol.AckMsg {
	tick := d.base
	data, err := d.store.SerializeAll(force)
	if err != nil {
		return reject(protocol.CmdSave, tick, protocol.ErrInternal, err)
	}
	if data == "" {
		a := ack(protocol.CmdSave, tick)
		a.Message = "nothing to save"
		return a
	}
	now := d.clock.Now().UTC()
	path, err := d.cfg.SaveDir.Write(savefile.Save{
		Header: savefile.Header{
			Version:     savefile.Version,
			VehicleID:   d.cfg.VehicleID,
			Tick:        tick,
			Fingerprint: d.store.Fingerprint(),
			SavedAt:     now,
		},
		Data: data,
	})
	if err != nil {
		return reject(protocol.CmdSave, tick, protocol.ErrInternal, err)
	}
	if d.cfg.KeepSaves > 0 {
		if _, err := d.cfg.SaveDir.Prune(d.cfg.KeepSaves); err != nil {
			d.log.Warnw("prune saves", "error", err)
		}
	}
	if d.cfg.SaveRecorder != nil {
		d.cfg.SaveRecorder.RecordSave(indexdb.SaveRow{
			Tick:        tick,
			Path:        path,
			Fingerprint: d.store.Fingerprint(),
			Records:     recordCount(data),
			Bytes:       len(data),
			RecordedAt:  now,
		})
	}
	d.log.Debugw("saved", "path", path, "forced", force)
	a := ack(protocol.CmdSave, tick)
	a.Message = path
	return a
}

// load restores the newest save. A save that fails validation leaves every
// sequencer untouched.
func (d *Drone) load() protocol.AckMsg {
	tick := d.base
	path, err := d.cfg.SaveDir.Latest()
	if errors.Is(err, savefile.ErrNoSave) {
		return reject(protocol.CmdLoad, tick, protocol.ErrNoSave, err)
	}
	if err != nil {
		return reject(protocol.CmdLoad, tick, protocol.ErrInternal, err)
	}
	sv, err := savefile.Read(path)
	if err != nil {
		return reject(protocol.CmdLoad, tick, protocol.ErrCorruptSave, err)
	}
	if err := d.store.DeserializeAll(sv.Data); err != nil {
		return reject(protocol.CmdLoad, tick, protocol.ErrCorruptSave, fmt.Errorf("%s: %w", path, err))
	}
	d.applySettings(true)
	d.publish(d.status())
	a := ack(protocol.CmdLoad, tick)
	a.Message = path
	return a
}

func recordCount(data string) int {
	n := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			n++
		}
	}
	// The header line is not a record.
	return n
}
