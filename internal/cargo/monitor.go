// Package cargo watches the vehicle's containers and reports how much of
// the hold is taken by low-value ("blacklisted") ore.
package cargo

import "sync"

// Inventory is one cargo container. Volumes are m³, amounts kg.
type Inventory interface {
	MaxVolume() float64
	CurrentVolume() float64
	ItemAmount(item string) float64
}

const (
	// OreVolumePerKilo converts ore mass into hold volume (m³/kg).
	OreVolumePerKilo = 0.00037
	// FullFraction is the fill ratio at which the hold counts as full.
	FullFraction = 0.85
	// DefaultAllowedBlacklist is the share of blacklisted ore a full hold may
	// carry and still be reported as full.
	DefaultAllowedBlacklist = 0.10
)

// Default blacklist entries.
const (
	Stone = "Stone"
	Ice   = "Ice"
)

// Monitor sums every registered container.
type Monitor struct {
	mu sync.Mutex

	inventories []Inventory
	blacklist   []string
	allowed     float64

	total       float64
	current     float64
	blacklisted float64
}

type Option func(*Monitor)

// WithBlacklist replaces the default blacklist.
func WithBlacklist(items ...string) Option {
	return func(m *Monitor) { m.blacklist = append([]string(nil), items...) }
}

// WithAllowedBlacklist sets the blacklisted share a full hold may carry.
func WithAllowedBlacklist(f float64) Option {
	return func(m *Monitor) { m.allowed = f }
}

func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		blacklist: []string{Stone, Ice},
		allowed:   DefaultAllowedBlacklist,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds containers to the monitored set.
func (m *Monitor) Register(invs ...Inventory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range invs {
		m.inventories = append(m.inventories, inv)
		m.total += inv.MaxVolume()
	}
}

// RegisterBlacklist adds item types to the blacklist.
func (m *Monitor) RegisterBlacklist(items ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		dup := false
		for _, b := range m.blacklist {
			if b == it {
				dup = true
				break
			}
		}
		if !dup {
			m.blacklist = append(m.blacklist, it)
		}
	}
}

// Refresh recomputes the volumes from the containers.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
}

func (m *Monitor) refreshLocked() {
	m.current, m.blacklisted = 0, 0
	for _, inv := range m.inventories {
		m.current += inv.CurrentVolume()
		for _, item := range m.blacklist {
			m.blacklisted += inv.ItemAmount(item) * OreVolumePerKilo
		}
	}
}

// CheckFull refreshes the readings and reports whether the hold is full of
// worthwhile ore: at least FullFraction filled with no more than the allowed
// share of blacklisted material.
func (m *Monitor) CheckFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshLocked()
	if m.total == 0 || m.current/m.total < FullFraction {
		return false
	}
	return m.blacklisted/m.current <= m.allowed
}

// BlacklistedFraction is blacklisted volume over current volume.
func (m *Monitor) BlacklistedFraction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == 0 {
		return 0
	}
	return m.blacklisted / m.current
}

// BlacklistedVolumeFill is blacklisted volume over total capacity.
func (m *Monitor) BlacklistedVolumeFill() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 {
		return 0
	}
	return m.blacklisted / m.total
}

// FillFactor is current volume over total capacity.
func (m *Monitor) FillFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 {
		return 0
	}
	return m.current / m.total
}

// Reading is one snapshot of the monitor.
type Reading struct {
	Full                  bool    `json:"full"`
	FillFactor            float64 `json:"fill_factor"`
	BlacklistedFraction   float64 `json:"blacklisted_fraction"`
	BlacklistedVolumeFill float64 `json:"blacklisted_volume_fill"`
}

// Read refreshes and returns every figure at once.
func (m *Monitor) Read() Reading {
	full := m.CheckFull()
	return Reading{
		Full:                  full,
		FillFactor:            m.FillFactor(),
		BlacklistedFraction:   m.BlacklistedFraction(),
		BlacklistedVolumeFill: m.BlacklistedVolumeFill(),
	}
}
