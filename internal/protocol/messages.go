package protocol

import (
	"voledrone.dev/internal/cargo"
	"voledrone.dev/internal/sequence/drill"
	"voledrone.dev/internal/sequence/leg"
	"voledrone.dev/internal/sequence/orchestrator"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// WantStatus subscribes the connection to STATUS broadcasts.
	WantStatus bool `json:"want_status,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	VehicleID       string   `json:"vehicle_id"`
	TickMs          int      `json:"tick_ms"`
	Commands        []string `json:"commands"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Command         string `json:"command"`
}

// ACK (server -> client): the outcome of one COMMAND.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Tick            uint64 `json:"tick,omitempty"`
}

// STATUS (server -> client), once per slow tick.
type StatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Orchestrator orchestrator.Status `json:"orchestrator"`
	Legs         []leg.Status        `json:"legs"`
	Drill        drill.Status        `json:"drill"`
	Cargo        cargo.Reading       `json:"cargo"`
	Settings     SettingsObs         `json:"settings"`
}

type SettingsObs struct {
	Enabled          bool   `json:"enabled"`
	EjectStone       bool   `json:"eject_stone"`
	Cadence          string `json:"cadence"`
	MaxDrillingDepth int    `json:"max_drilling_depth"`
}
