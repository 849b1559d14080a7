package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"voledrone.dev/internal/persistence/indexdb"
)

func openIndex(c *cli.Context) (*indexdb.Reader, error) {
	return indexdb.OpenReader(filepath.Join(c.String(flagData), "vehicles", c.String(flagVehicleID), "index", "vole.sqlite"))
}

func dbTicksAction(c *cli.Context) error {
	r, err := openIndex(c)
	if err != nil {
		return err
	}
	defer r.Close()
	rows, err := r.Ticks(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tDIR\tSTEP\tRUNNING\tPACKED\tCYCLES\tDRILL\tFILL\tBLACKLISTED")
	for _, t := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%t\t%d\t%d\t%.2f\t%.2f\n",
			t.Tick, t.Direction, t.Step, t.Running, t.Packed, t.Cycles, t.DrillStep, t.Fill, t.Blacklisted)
	}
	return tw.Flush()
}

func dbCommandsAction(c *cli.Context) error {
	r, err := openIndex(c)
	if err != nil {
		return err
	}
	defer r.Close()
	rows, err := r.Commands(c.Context, c.String(flagFilter), c.Int(flagLimit))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tCOMMAND\tSOURCE\tACCEPTED\tCODE\tMESSAGE")
	for _, cmd := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", cmd.Tick, cmd.Command, cmd.Source, cmd.Accepted, cmd.Code, cmd.Message)
	}
	return tw.Flush()
}

func dbSavesAction(c *cli.Context) error {
	r, err := openIndex(c)
	if err != nil {
		return err
	}
	defer r.Close()
	rows, err := r.Saves(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tRECORDS\tBYTES\tFINGERPRINT\tRECORDED\tPATH")
	for _, s := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\n", s.Tick, s.Records, s.Bytes, s.Fingerprint, s.RecordedAt.Format("2006-01-02 15:04:05"), s.Path)
	}
	return tw.Flush()
}
