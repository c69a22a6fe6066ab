// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/flowremote/internal/battery"
	"github.com/Thermoquad/flowremote/internal/mode"
	"github.com/Thermoquad/flowremote/internal/remote"
	"github.com/Thermoquad/flowremote/internal/sim"
)

type runKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Both   key.Binding
	Cal    key.Binding
	Update key.Binding
	Drain  key.Binding
	Charge key.Binding
	Quit   key.Binding
}

func (k runKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Both, k.Cal, k.Update, k.Drain, k.Charge, k.Quit}
}

func (k runKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var runKeys = runKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Both:   key.NewBinding(key.WithKeys("e", " "), key.WithHelp("e/space", "both")),
	Cal:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "calibrate")),
	Update: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "update mode")),
	Drain:  key.NewBinding(key.WithKeys("["), key.WithHelp("[", "drain battery")),
	Charge: key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "charge battery")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// batteryStepMv is how far one drain/charge key press moves the divided
// battery reading
const batteryStepMv = 10

// runTickMsg refreshes the status line
type runTickMsg time.Time

func runTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return runTickMsg(t)
	})
}

// runModel is the terminal rendition of the remote's OLED and buttons
type runModel struct {
	panel    *panel
	machine  *mode.Machine
	remote   *remote.Remote
	ctrl     *sim.Controller
	gauge    *battery.Gauge
	connInfo string
	addr     func() string

	screen   remote.Screen
	sleeping bool
	status   remote.Status
	fatal    error

	eventLog      []logMsg
	maxLogEntries int

	help     help.Model
	width    int
	height   int
	quitting bool
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(runTickCmd(), waitForLog(m.panel.logs))
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, runKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, runKeys.Up):
			m.panel.press(true, false)
		case key.Matches(msg, runKeys.Down):
			m.panel.press(false, true)
		case key.Matches(msg, runKeys.Both):
			m.panel.press(true, true)
		case key.Matches(msg, runKeys.Cal):
			if !m.sleeping {
				m.machine.CalibrationPressed()
			}
		case key.Matches(msg, runKeys.Update):
			if !m.sleeping {
				m.machine.UpdatePressed()
			}
		case key.Matches(msg, runKeys.Drain):
			m.gauge.Adjust(-batteryStepMv)
		case key.Matches(msg, runKeys.Charge):
			m.gauge.Adjust(batteryStepMv)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case screenMsg:
		m.screen = remote.Screen(msg)

	case sleepMsg:
		m.sleeping = bool(msg)

	case fatalMsg:
		m.fatal = msg.err

	case logMsg:
		m.eventLog = append(m.eventLog, msg)
		if len(m.eventLog) > m.maxLogEntries {
			m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
		}
		return m, waitForLog(m.panel.logs)

	case runTickMsg:
		m.status = m.remote.Snapshot()
		return m, runTickCmd()
	}

	return m, nil
}

var (
	runTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	runHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	runValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	runErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	runWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	flowStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	oledStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("39")).
			Width(34).
			Padding(1, 2)

	runBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// renderScreen draws what the remote's display would show
func renderScreen(s remote.Screen, sleeping bool) string {
	if sleeping {
		return runHeaderStyle.Render("(display off)\npress ↑ or ↓ to wake")
	}

	var b strings.Builder
	switch {
	case s.Mode == mode.Calibration && s.Page > 0:
		b.WriteString(runLabelStyle.Render(fmt.Sprintf("CALIBRATION  %d/%d", s.Page, remote.PageAbort)))
		b.WriteString("\n\n")
		b.WriteString(calibrationPageText(s))

	case s.Status != "":
		b.WriteString(flowStyle.Render(s.Status))
		if s.Mode == mode.Normal && s.Flow > 0 {
			b.WriteString("\n")
			b.WriteString(runHeaderStyle.Render(fmt.Sprintf("%.1f L/min", s.Flow)))
		}

	default:
		b.WriteString(runHeaderStyle.Render("O2 flow"))
		b.WriteString("\n")
		b.WriteString(flowStyle.Render(fmt.Sprintf("%4.1f L/min", s.Flow)))
	}

	if s.Battery >= 0 {
		b.WriteString("\n\n")
		b.WriteString(renderBattery(s.Battery))
	}
	return b.String()
}

func calibrationPageText(s remote.Screen) string {
	sensor := "--"
	if s.Sensor > 0 {
		sensor = fmt.Sprintf("%d", s.Sensor)
	}

	switch {
	case s.Page == remote.PageInstructions:
		return "Set the meter to each level\nwith ↑/↓, then press both\nbuttons to move on."
	case s.Page >= remote.PageFirstLevel && s.Page <= remote.PageLastLevel:
		return fmt.Sprintf("Set flow to %s\nSensor: %s\n\nboth buttons: next",
			flowStyle.Render(fmt.Sprintf("%.0f L/min", remote.LevelForPage(s.Page))), sensor)
	case s.Page == remote.PageCommit:
		return runValueStyle.Render("Calibration complete") + "\nSaving..."
	case s.Page == remote.PageAbort:
		return runErrorStyle.Render("Sensor out of range: "+sensor) + "\nCalibration aborted"
	default:
		return ""
	}
}

func renderBattery(charge float64) string {
	pct := battery.Percent(charge)
	cells := pct / 10
	bar := strings.Repeat("█", cells) + strings.Repeat("░", 10-cells)
	style := runValueStyle
	if pct < 20 {
		style = runErrorStyle
	}
	return style.Render(fmt.Sprintf("[%s] %3d%%", bar, pct))
}

func (m runModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(runTitleStyle.Render("FLOWREMOTE"))
	s.WriteString("\n")
	s.WriteString(runHeaderStyle.Render(fmt.Sprintf("%s | Mode: %s", m.connInfo, m.machine.Mode())))
	s.WriteString("\n\n")

	if m.fatal != nil {
		s.WriteString(runErrorStyle.Render("✗ " + m.fatal.Error()))
		s.WriteString("\n\n")
	}

	s.WriteString(oledStyle.Render(renderScreen(m.screen, m.sleeping)))
	s.WriteString("\n")

	line := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		runLabelStyle.Render("Sensor:"), runValueStyle.Render(fmt.Sprintf("%d", m.status.Sensor)),
		runLabelStyle.Render("Battery:"), runValueStyle.Render(fmt.Sprintf("%d mV", m.gauge.Millivolts())),
		runLabelStyle.Render("Restarts:"), runValueStyle.Render(fmt.Sprintf("%d", m.status.Restarts)),
		runLabelStyle.Render("Sleep:"), runValueStyle.Render(fmt.Sprintf("%t", m.status.SleepPermitted)),
	)
	if m.ctrl != nil {
		line += fmt.Sprintf("   %s %s", runLabelStyle.Render("Sim controller:"), runValueStyle.Render(fmt.Sprintf("%d", m.ctrl.Sensor())))
	}
	if m.addr != nil && m.machine.Mode() == mode.Update {
		if addr := m.addr(); addr != "" {
			line += fmt.Sprintf("   %s %s", runLabelStyle.Render("Listening:"), runValueStyle.Render(addr))
		}
	}
	s.WriteString(line)
	s.WriteString("\n\n")

	s.WriteString(runLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(runBoxStyle.Width(max(m.width-4, 40)).Render(m.renderEventLog()))
	s.WriteString("\n")
	s.WriteString(m.help.View(runKeys))

	return s.String()
}

func (m runModel) renderEventLog() string {
	logHeight := m.height - 22
	if logHeight < 5 {
		logHeight = 5
	}
	if len(m.eventLog) == 0 {
		return runHeaderStyle.Render("  (no events yet)")
	}

	start := len(m.eventLog) - logHeight
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, entry := range m.eventLog[start:] {
		ts := runHeaderStyle.Render(entry.timestamp.Format("15:04:05.000"))
		switch {
		case entry.level >= zapcore.ErrorLevel:
			b.WriteString(fmt.Sprintf("%s %s\n", ts, runErrorStyle.Render("✗ "+entry.message)))
		case entry.level == zapcore.WarnLevel:
			b.WriteString(fmt.Sprintf("%s %s\n", ts, runWarnStyle.Render("! "+entry.message)))
		default:
			b.WriteString(fmt.Sprintf("%s %s\n", ts, "ℹ "+entry.message))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
