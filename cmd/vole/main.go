// Command vole runs and inspects the mining vehicle's actuator sequencer.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"voledrone.dev/internal/logging"
)

const (
	flagLogLevel = "log-level"
	flagLogJSON  = "log-json"
	flagLogFile  = "log-file"

	flagAddr        = "addr"
	flagData        = "data"
	flagTuning      = "tuning"
	flagVehicleID   = "vehicle"
	flagDisableDB   = "disable-db"
	flagLoadOnStart = "load"
	flagKeepSaves   = "keep-saves"
	flagDisabled    = "disabled"
	flagEjectStone  = "eject-stone"
	flagMaxDepth    = "max-depth"
	flagCadence     = "cadence"

	flagURL    = "url"
	flagLimit  = "limit"
	flagFilter = "command"
	flagRaw    = "raw"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vole:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger *zap.SugaredLogger

	return &cli.App{
		Name:  "vole",
		Usage: "sequence the legs and drill of a mining vehicle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  flagLogJSON,
				Usage: "log JSON lines instead of console text",
			},
			&cli.StringSliceFlag{
				Name:  flagLogFile,
				Usage: "write logs to `PATH` instead of stdout (repeatable)",
			},
		},
		Before: func(c *cli.Context) error {
			l, err := logging.New("vole", logging.Config{
				Level:   c.String(flagLogLevel),
				JSON:    c.Bool(flagLogJSON),
				Outputs: c.StringSlice(flagLogFile),
			})
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the vehicle on the simulated rig and serve the operator socket",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagAddr, Value: "127.0.0.1:8080", Usage: "http listen address"},
					&cli.StringFlag{Name: flagData, Value: "./data", Usage: "runtime data `DIR`"},
					&cli.StringFlag{Name: flagTuning, Value: "./configs/tuning.yaml", Usage: "tuning `FILE` (empty for built-in defaults)"},
					&cli.StringFlag{Name: flagVehicleID, Value: "vole-1", Usage: "vehicle id"},
					&cli.BoolFlag{Name: flagDisableDB, Usage: "do not maintain the sqlite index"},
					&cli.BoolFlag{Name: flagLoadOnStart, Value: true, Usage: "resume from the latest save file"},
					&cli.IntFlag{Name: flagKeepSaves, Value: 10, Usage: "save files to keep after an autosave (0 keeps all)"},
					&cli.BoolFlag{Name: flagDisabled, Usage: "start with sequencing disabled"},
					&cli.BoolFlag{Name: flagEjectStone, Value: true, Usage: "run the ejectors while drilling"},
					&cli.IntFlag{Name: flagMaxDepth, Value: -1, Usage: "descent cycles before turning back, 0 for unlimited (default from tuning)"},
					&cli.StringFlag{Name: flagCadence, Value: "1", Usage: "run the sequencers every 1, 10 or 100 base ticks"},
				},
				Action: func(c *cli.Context) error {
					return runAction(c, logger)
				},
			},
			{
				Name:      "inspect",
				Usage:     "print the header and records of a save file",
				ArgsUsage: "<save file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagRaw, Usage: "print the record text as stored"},
				},
				Action: inspectAction,
			},
			{
				Name:  "monitor",
				Usage: "live terminal view of a running vehicle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagURL, Value: "ws://127.0.0.1:8080/v1/ws", Usage: "operator socket url"},
				},
				Action: monitorAction,
			},
			{
				Name:  "db",
				Usage: "query the sqlite index of a data directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagData, Value: "./data", Usage: "runtime data `DIR`"},
					&cli.StringFlag{Name: flagVehicleID, Value: "vole-1", Usage: "vehicle id"},
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "rows to print"},
				},
				Subcommands: []*cli.Command{
					{Name: "ticks", Usage: "latest telemetry rows", Action: dbTicksAction},
					{
						Name:   "commands",
						Usage:  "latest operator commands",
						Flags:  []cli.Flag{&cli.StringFlag{Name: flagFilter, Usage: "only this command"}},
						Action: dbCommandsAction,
					},
					{Name: "saves", Usage: "recorded save files", Action: dbSavesAction},
				},
			},
		},
	}
}
