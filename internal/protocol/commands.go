package protocol

// Operator commands, applied at the next tick boundary in arrival order.
const (
	CmdPack         = "pack"
	CmdUnpack       = "unpack"
	CmdForcePack    = "force-pack"
	CmdForceUnpack  = "force-unpack"
	CmdDown         = "down"
	CmdUp           = "up"
	CmdStop         = "stop"
	CmdSave         = "save"
	CmdLoad         = "load"
	CmdResetStorage = "reset-storage"
)

// Commands lists every command name in a stable order.
var Commands = []string{
	CmdPack, CmdUnpack, CmdForcePack, CmdForceUnpack,
	CmdDown, CmdUp, CmdStop,
	CmdSave, CmdLoad, CmdResetStorage,
}

func IsKnownCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}
