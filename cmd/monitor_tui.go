// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Event log entry
type monitorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Latest Controller report
type reportData struct {
	timestamp time.Time
	peer      nowlink.MAC
	command   uint8
	sensor    uint16
	flow      float64
	rssi      int8
	hasRSSI   bool
}

type monitorTickMsg time.Time
type connClosedMsg struct{ err error }

type monitorModel struct {
	connInfo      string
	showAll       bool
	table         caltable.Table
	stats         *nowlink.Statistics
	eventLog      []monitorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	lastReport    *reportData
	bridgeUptime  uint64
	hasUptime     bool
	closed        bool
	width         int
	height        int
	quitting      bool
}

func newMonitorModel(connInfo string, table caltable.Table, showAll bool) monitorModel {
	return monitorModel{
		connInfo:      connInfo,
		showAll:       showAll,
		table:         table,
		stats:         nowlink.NewStatistics(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case connClosedMsg:
		m.closed = true
		m.addLogEntry(fmt.Sprintf("Connection closed: %v", msg.err), true)

	case trafficEvent:
		m.handleTraffic(msg)
	}

	return m, nil
}

func (m *monitorModel) handleTraffic(ev trafficEvent) {
	if ev.synced {
		m.synchronized = true
		m.invalidBytes = ev.invalidBytes
		if ev.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", ev.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}
	}

	m.stats.Update(ev.packet, ev.decodeErr, ev.validation)

	if ev.decodeErr != nil {
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.decodeErr), true)
		return
	}

	packet := ev.packet
	msgType := nowlink.FormatMessageType(packet.Type())
	if len(ev.validation) > 0 {
		for _, err := range ev.validation {
			m.addLogEntry(fmt.Sprintf("%s: %s", msgType, err.Message), true)
		}
		return
	}

	switch packet.Type() {
	case nowlink.MsgRecvFrame:
		f, err := packet.Frame()
		if err != nil {
			return
		}
		r := &reportData{
			timestamp: packet.Timestamp(),
			peer:      packet.Peer(),
			command:   f.Command,
			sensor:    f.Sensor,
			flow:      m.table.Lookup(f.Sensor),
		}
		r.rssi, r.hasRSSI = packet.RSSI()
		m.lastReport = r

	case nowlink.MsgSendStatus:
		if status, _ := packet.SendStatus(); status != nowlink.SendSuccess {
			m.addLogEntry(fmt.Sprintf("Delivery to %s failed", packet.Peer()), true)
			return
		}

	case nowlink.MsgPingResponse:
		m.bridgeUptime, m.hasUptime = packet.Uptime()
	}

	if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid)", msgType), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, monitorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) errorCount() uint64 {
	return m.stats.CRCErrors + m.stats.DecodeErrors + m.stats.MalformedPackets + m.stats.AnomalousValues
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(runTitleStyle.Render("FLOWREMOTE - TRAFFIC MONITOR"))
	s.WriteString("\n")
	mode := "Errors and reports"
	if m.showAll {
		mode = "All packets"
	}
	s.WriteString(runHeaderStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.closed:
		s.WriteString(runErrorStyle.Render("✗ Connection closed"))
	case !m.synchronized:
		s.WriteString(runWarnStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(runValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(runHeaderStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(runBoxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	if m.lastReport != nil || m.hasUptime {
		s.WriteString(runLabelStyle.Render("Latest Report:"))
		s.WriteString("\n")
		s.WriteString(runBoxStyle.Render(m.renderReport()))
		s.WriteString("\n\n")
	}

	s.WriteString(runLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(runBoxStyle.Width(max(m.width-4, 20)).Render(m.renderEvents()))

	return s.String()
}

func (m monitorModel) renderStats() string {
	st := m.stats
	var validPercent, errorPercent float64
	if st.TotalPackets > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalPackets)
		errorPercent = float64(m.errorCount()) * 100.0 / float64(st.TotalPackets)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		runLabelStyle.Render("Total:"), runValueStyle.Render(fmt.Sprintf("%d", st.TotalPackets)),
		runLabelStyle.Render("Valid:"), runValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		runLabelStyle.Render("Errors:"), runErrorStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.errorCount(), errorPercent)),
	)

	if st.CRCErrors > 0 || st.DecodeErrors > 0 {
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			runLabelStyle.Render("CRC Errors:"), runErrorStyle.Render(fmt.Sprintf("%d", st.CRCErrors)),
			runLabelStyle.Render("Decode Errors:"), runErrorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors)),
		)
	}

	if st.MalformedPackets > 0 {
		fmt.Fprintf(&b, "%s %s (%s: %d, %s: %d)\n",
			runLabelStyle.Render("Malformed:"), runErrorStyle.Render(fmt.Sprintf("%d", st.MalformedPackets)),
			runHeaderStyle.Render("length mismatches"), st.LengthMismatches,
			runHeaderStyle.Render("missing fields"), st.MissingFields,
		)
	}

	if st.AnomalousValues > 0 {
		fmt.Fprintf(&b, "%s %s (%s: %d, %s: %d)\n",
			runLabelStyle.Render("Anomalous:"), runWarnStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
			runHeaderStyle.Render("invalid commands"), st.InvalidCommands,
			runHeaderStyle.Render("sensor range"), st.SensorRange,
		)
	}

	if st.SendFailures > 0 {
		fmt.Fprintf(&b, "%s %s\n",
			runLabelStyle.Render("Delivery Failures:"), runWarnStyle.Render(fmt.Sprintf("%d", st.SendFailures)))
	}

	errRate := runValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = runErrorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	fmt.Fprintf(&b, "%s %s   %s %s",
		runLabelStyle.Render("Packet Rate:"), runValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		runLabelStyle.Render("Error Rate:"), errRate,
	)
	return b.String()
}

func (m monitorModel) renderReport() string {
	var b strings.Builder
	if r := m.lastReport; r != nil {
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			runLabelStyle.Render("Controller:"), runValueStyle.Render(r.peer.String()),
			runLabelStyle.Render("Reply to:"), runValueStyle.Render(nowlink.CommandName(r.command)),
		)
		fmt.Fprintf(&b, "%s %s   %s %s",
			runLabelStyle.Render("Sensor:"), runValueStyle.Render(fmt.Sprintf("%d", r.sensor)),
			runLabelStyle.Render("Flow:"), flowStyle.Render(fmt.Sprintf("%.1f L/min", r.flow)),
		)
		if r.hasRSSI {
			fmt.Fprintf(&b, "   %s %s", runLabelStyle.Render("RSSI:"), runValueStyle.Render(fmt.Sprintf("%d dBm", r.rssi)))
		}
		fmt.Fprintf(&b, "\n%s %s", runLabelStyle.Render("Age:"),
			runValueStyle.Render(time.Since(r.timestamp).Round(time.Second).String()))
	}
	if m.hasUptime {
		if m.lastReport != nil {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s", runLabelStyle.Render("Bridge Uptime:"), runValueStyle.Render(formatUptime(m.bridgeUptime)))
	}
	return b.String()
}

func (m monitorModel) renderEvents() string {
	if len(m.eventLog) == 0 {
		return runHeaderStyle.Render("  (no events yet)")
	}

	logHeight := max(m.height-18, 5)
	start := max(len(m.eventLog)-logHeight, 0)

	var b strings.Builder
	for _, entry := range m.eventLog[start:] {
		timestamp := runHeaderStyle.Render(entry.timestamp.Format("01/02/06 15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, runErrorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, runWarnStyle.Render("ℹ "+entry.message))
		}
	}
	return b.String()
}
