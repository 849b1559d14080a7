// Package schemas embeds the JSON schemas of the tuning file and the
// operator protocol.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS

// Names of the embedded schemas.
const (
	Tuning  = "tuning.schema.json"
	Command = "command.schema.json"
	Status  = "status.schema.json"
)
