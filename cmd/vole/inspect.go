package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"voledrone.dev/internal/drone"
	"voledrone.dev/internal/persistence/records"
	"voledrone.dev/internal/persistence/savefile"
)

var (
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: vole inspect <save file>", 2)
	}
	save, err := savefile.Read(c.Args().First())
	if err != nil {
		return err
	}
	w := c.App.Writer
	h := save.Header
	fmt.Fprintf(w, "vehicle %s  tick %d  saved %s\n", h.VehicleID, h.Tick, h.SavedAt.Format("2006-01-02 15:04:05Z07:00"))
	if c.Bool(flagRaw) {
		fmt.Fprintln(w, strings.ReplaceAll(save.Data, string(records.Separator), " | "))
		return nil
	}

	version, fp, lines, err := records.Split(save.Data)
	if err != nil {
		return err
	}
	layout := drone.Layout()
	salts := make([]uint16, len(layout))
	for i, s := range layout {
		salts[i] = s.Salt
	}
	fpNote := okStyle.Render("matches this build")
	if want := records.FingerprintOf(salts...); fp != want || fp != h.Fingerprint {
		fpNote = badStyle.Render(fmt.Sprintf("want %d", want))
	}
	fmt.Fprintf(w, "records v%d  fingerprint %d %s\n\n", version, fp, fpNote)

	for _, l := range lines {
		name, check := "?", badStyle.Render("index out of range")
		if l.Index < len(layout) {
			slot := layout[l.Index]
			name = slot.Name
			check = okStyle.Render("ok")
			if !l.Verify(slot.Salt) {
				check = badStyle.Render("checksum mismatch")
			}
		}
		fmt.Fprintf(w, "%2d %-14s %3dB %s  %s\n", l.Index, name, len(l.Payload), check, dimStyle.Render(hex.EncodeToString(l.Payload)))
	}
	if len(lines) < len(layout) {
		fmt.Fprintf(w, "\n%s\n", dimStyle.Render(fmt.Sprintf("%d unchanged records not written", len(layout)-len(lines))))
	}
	return nil
}
