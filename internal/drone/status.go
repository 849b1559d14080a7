package drone

import (
	"voledrone.dev/internal/protocol"
	"voledrone.dev/internal/sequence/leg"
)

func (d *Drone) status() protocol.StatusMsg {
	legs := make([]leg.Status, len(d.legs))
	for i, l := range d.legs {
		legs[i] = l.Status()
	}
	s := d.settings
	return protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            d.base,
		Orchestrator:    d.orch.Status(),
		Legs:            legs,
		Drill:           d.drill.Status(),
		Cargo:           d.cargo.Read(),
		Settings: protocol.SettingsObs{
			Enabled:          s.Enabled,
			EjectStone:       s.EjectStone,
			Cadence:          s.Cadence.String(),
			MaxDrillingDepth: s.MaxDrillingDepth(),
		},
	}
}

// publish stores m as the latest status and fans it out to subscribers and
// sinks. Slow subscribers miss updates rather than stall the loop.
func (d *Drone) publish(m protocol.StatusMsg) {
	d.mu.Lock()
	d.latest = m
	for ch := range d.subs {
		select {
		case ch <- m:
		default:
		}
	}
	d.mu.Unlock()

	for _, s := range d.cfg.StatusSinks {
		if err := s.WriteStatus(m); err != nil {
			d.log.Warnw("status sink", "error", err)
		}
	}
}

// Latest returns the most recently published status.
func (d *Drone) Latest() protocol.StatusMsg {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

// Subscribe returns a channel of published statuses and a function that
// cancels the subscription.
func (d *Drone) Subscribe(buf int) (<-chan protocol.StatusMsg, func()) {
	ch := make(chan protocol.StatusMsg, max(buf, 1))
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	return ch, func() {
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
	}
}
