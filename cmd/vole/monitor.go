package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"voledrone.dev/internal/protocol"
)

const (
	maxLogs      = 5
	headerHeight = 8
	footerHeight = maxLogs + 3
	borderSize   = 2
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cellStyle   = lipgloss.NewStyle().Width(12)
	activeStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("10")).Bold(true)

	seriesColors = map[string]string{
		"fill":        "39",  // blue
		"blacklisted": "208", // orange
	}
	keyCommands = map[string]string{
		"u": protocol.CmdUnpack,
		"p": protocol.CmdPack,
		"U": protocol.CmdForceUnpack,
		"P": protocol.CmdForcePack,
		"d": protocol.CmdDown,
		"a": protocol.CmdUp,
		"s": protocol.CmdStop,
		"S": protocol.CmdSave,
		"L": protocol.CmdLoad,
	}
)

// link is the monitor's side of the operator socket.
type link struct {
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
	in      chan tea.Msg

	mu   sync.Mutex
	next int
}

type statusMsg protocol.StatusMsg
type ackMsg protocol.AckMsg
type linkErrMsg struct{ err error }

func dialLink(url string) (*link, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "monitor", WantStatus: true}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, err
	}
	l := &link{conn: conn, in: make(chan tea.Msg, 16)}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&l.welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	go l.read()
	return l, nil
}

func (l *link) read() {
	defer close(l.in)
	for {
		_, b, err := l.conn.ReadMessage()
		if err != nil {
			l.in <- linkErrMsg{err}
			return
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeStatus:
			var m protocol.StatusMsg
			if json.Unmarshal(b, &m) == nil {
				l.in <- statusMsg(m)
			}
		case protocol.TypeAck:
			var m protocol.AckMsg
			if json.Unmarshal(b, &m) == nil {
				l.in <- ackMsg(m)
			}
		}
	}
}

func (l *link) send(cmd string) tea.Cmd {
	return func() tea.Msg {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.next++
		msg := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			ID:              fmt.Sprintf("m%d", l.next),
			Command:         cmd,
		}
		_ = l.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := l.conn.WriteJSON(msg); err != nil {
			return linkErrMsg{err}
		}
		return nil
	}
}

func (l *link) wait() tea.Cmd {
	return func() tea.Msg {
		m, ok := <-l.in
		if !ok {
			return linkErrMsg{fmt.Errorf("connection closed")}
		}
		return m
	}
}

type monitorModel struct {
	link     *link
	chart    *streamlinechart.Model
	status   protocol.StatusMsg
	haveData bool
	width    int
	height   int
	logs     []string
	err      error
}

func newMonitorModel(l *link) monitorModel {
	chart := streamlinechart.New(80, 12, streamlinechart.WithYRange(0, 100))
	for name, color := range seriesColors {
		chart.SetDataSetStyles(name, runes.ThinLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color(color)))
	}
	return monitorModel{link: l, chart: &chart}
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *monitorModel) resizeChart() {
	w := max(m.width-borderSize-2, 40)
	h := max(m.height-headerHeight-footerHeight-borderSize, 6)
	m.chart.Resize(w, h)
}

func (m monitorModel) Init() tea.Cmd {
	return m.link.wait()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if key == "q" || key == "ctrl+c" {
			return m, tea.Quit
		}
		if cmd, ok := keyCommands[key]; ok {
			m.addLog(statusStyle.Render("> " + cmd))
			return m, m.link.send(cmd)
		}

	case statusMsg:
		m.status = protocol.StatusMsg(msg)
		m.haveData = true
		m.chart.PushDataSet("fill", 100*m.status.Cargo.FillFactor)
		m.chart.PushDataSet("blacklisted", 100*m.status.Cargo.BlacklistedFraction)
		m.chart.DrawAll()
		return m, m.link.wait()

	case ackMsg:
		if msg.Accepted {
			m.addLog(fmt.Sprintf("%s ok %s", msg.AckFor, msg.Message))
		} else {
			m.addLog(fmt.Sprintf("%s %s: %s", msg.AckFor, msg.Code, msg.Message))
		}
		return m, m.link.wait()

	case linkErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m monitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("vole " + m.link.welcome.VehicleID))
	if !m.haveData {
		sb.WriteString(statusStyle.Render("  waiting for status...\n"))
		return sb.String()
	}
	st := m.status
	o := st.Orchestrator
	sb.WriteString(fmt.Sprintf("  tick %d  %s", st.Tick, st.Settings.Cadence))
	if !st.Settings.Enabled {
		sb.WriteString(statusStyle.Render("  (disabled)"))
	}
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("orchestrator  %s->%s  step %d  running %t  packed %t  cycles %d/%d\n",
		o.Direction, o.Requested, o.Step, o.Running, o.Packed, o.Cycles, st.Settings.MaxDrillingDepth))

	var legCells []string
	for _, l := range st.Legs {
		style := cellStyle
		if l.InProgress {
			style = activeStyle
		}
		legCells = append(legCells, style.Render(fmt.Sprintf("%s %2d", l.Location, l.Step)))
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, legCells...))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("drill step %d  feed %.2f  pos %.2f  ejectors %t\n",
		st.Drill.Step, st.Drill.Feed, st.Drill.Position, st.Drill.EnableEjectors))
	sb.WriteString(fmt.Sprintf("cargo fill %.0f%%  blacklisted %.0f%%  full %t\n\n",
		100*st.Cargo.FillFactor, 100*st.Cargo.BlacklistedFraction, st.Cargo.Full))

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))
	lines := statusStyle.Render("u/p unpack/pack  U/P force  d/a down/up  s stop  S/L save/load  q quit")
	if len(m.logs) > 0 {
		lines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(lines))
	sb.WriteString("\n")
	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range []string{"fill", "blacklisted"} {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, style.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

func monitorAction(c *cli.Context) error {
	l, err := dialLink(c.String(flagURL))
	if err != nil {
		return err
	}
	defer l.conn.Close()

	final, err := tea.NewProgram(newMonitorModel(l), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(monitorModel); ok && m.err != nil && !websocket.IsCloseError(m.err, websocket.CloseNormalClosure) {
		return m.err
	}
	return nil
}
