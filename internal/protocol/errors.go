package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Command layer.
	ErrUnknownCommand = "E_UNKNOWN_COMMAND"
	ErrUnsafe         = "E_UNSAFE"
	ErrNoSave         = "E_NO_SAVE"
	ErrCorruptSave    = "E_CORRUPT_SAVE"
	ErrBusy           = "E_BUSY"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnknownCommand:  {},
	ErrUnsafe:          {},
	ErrNoSave:          {},
	ErrCorruptSave:     {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
