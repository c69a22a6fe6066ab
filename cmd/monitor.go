// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/store"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var (
	monitorShowAll       bool
	monitorStatsInterval int
	monitorTUI           bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch bridge traffic and detect malformed packets",
	Long: `Track bridge packets, radio frames and errors with statistics.

This command validates each packet and detects:
  - CRC errors and decode failures
  - Frame length mismatches and missing payload fields
  - Unknown Controller commands and out-of-range sensor values
  - Failed radio deliveries reported by the bridge

Controller reports are converted to flow with the stored calibration table
(or the default ramp when none is stored).

By default, only errors and Controller reports are displayed. Use --show-all
to display every valid packet.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Show all packets (not just errors)")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics update interval in text mode (seconds)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// trafficEvent is one decoded item from the bridge byte stream
type trafficEvent struct {
	packet     *nowlink.Packet
	decodeErr  error
	validation []nowlink.ValidationError

	// synced is set on the first valid packet, with the bytes skipped before it
	synced       bool
	invalidBytes int
}

// trafficDecoder turns raw bytes into events, ignoring decode errors until
// the first valid packet has been seen
type trafficDecoder struct {
	decoder      *nowlink.Decoder
	synchronized bool
	invalidBytes int
}

func newTrafficDecoder() *trafficDecoder {
	return &trafficDecoder{decoder: nowlink.NewDecoder()}
}

func (d *trafficDecoder) feed(data []byte, emit func(trafficEvent)) {
	for _, b := range data {
		packet, err := d.decoder.DecodeByte(b)
		switch {
		case err != nil:
			if d.synchronized {
				emit(trafficEvent{decodeErr: err})
			} else {
				d.invalidBytes++
			}
		case packet != nil:
			ev := trafficEvent{packet: packet, validation: nowlink.ValidatePacket(packet)}
			if !d.synchronized {
				d.synchronized = true
				ev.synced = true
				ev.invalidBytes = d.invalidBytes
			}
			emit(ev)
		}
	}
}

// readTraffic reads conn until it closes, emitting decoded events
func readTraffic(conn Connection, emit func(trafficEvent)) error {
	d := newTrafficDecoder()
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				return err
			}
			log.Printf("Read error: %v", err)
			continue
		}
		d.feed(buf[:n], emit)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	table := monitorTable()

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if monitorTUI {
		return runMonitorTUI(conn, connInfo, table)
	}
	return runMonitorText(conn, connInfo, table)
}

// monitorTable loads the stored calibration, falling back to the default ramp
func monitorTable() caltable.Table {
	cfg, err := loadConfig()
	if err != nil {
		return caltable.Default()
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return caltable.Default()
	}
	defer st.Close()
	t, _, err := loadTable(st)
	if err != nil {
		return caltable.Default()
	}
	return t
}

func runMonitorTUI(conn Connection, connInfo string, table caltable.Table) error {
	m := newMonitorModel(connInfo, table, monitorShowAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		err := readTraffic(conn, func(ev trafficEvent) { p.Send(ev) })
		p.Send(connClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(conn Connection, connInfo string, table caltable.Table) error {
	fmt.Printf("Flowremote - Traffic Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", monitorStatsInterval)
	if monitorShowAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors and reports\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := nowlink.NewStatistics()
	events := make(chan trafficEvent, 32)
	done := make(chan error, 1)
	go func() {
		done <- readTraffic(conn, func(ev trafficEvent) { events <- ev })
	}()

	ticker := time.NewTicker(time.Duration(max(monitorStatsInterval, 1)) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if ev.synced {
				if ev.invalidBytes > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", ev.invalidBytes)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			stats.Update(ev.packet, ev.decodeErr, ev.validation)
			printTrafficEvent(ev, table)

		case <-ticker.C:
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-done:
			log.Printf("Connection closed: %v", err)
			return nil
		}
	}
}

func printTrafficEvent(ev trafficEvent, table caltable.Table) {
	if ev.decodeErr != nil {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n\n", timestamp, ev.decodeErr)
		return
	}

	packet := ev.packet
	timestamp := packet.Timestamp().Format("15:04:05.000")
	if len(ev.validation) > 0 {
		printValidationErrors(packet, ev.validation)
		return
	}

	switch packet.Type() {
	case nowlink.MsgRecvFrame:
		fmt.Printf("[%s] \033[1;32mREPORT:\033[0m %s\n\n", timestamp, describeReport(packet, table))
	case nowlink.MsgSendStatus:
		if status, _ := packet.SendStatus(); status != nowlink.SendSuccess {
			fmt.Printf("[%s] \033[1;33mDELIVERY FAILED\033[0m to %s\n\n", timestamp, packet.Peer())
		} else if monitorShowAll {
			fmt.Print(nowlink.FormatPacket(packet))
		}
	case nowlink.MsgPingResponse:
		uptime, _ := packet.Uptime()
		fmt.Printf("[%s] \033[1;32mPING_RESPONSE:\033[0m bridge uptime: %s\n\n", timestamp, formatUptime(uptime))
	default:
		if monitorShowAll {
			fmt.Print(nowlink.FormatPacket(packet))
		}
	}
}

// describeReport renders a Controller report with its calibrated flow
func describeReport(packet *nowlink.Packet, table caltable.Table) string {
	f, err := packet.Frame()
	if err != nil {
		return err.Error()
	}
	s := fmt.Sprintf("%s from %s, %.1f L/min", f, packet.Peer(), table.Lookup(f.Sensor))
	if rssi, ok := packet.RSSI(); ok {
		s += fmt.Sprintf(", rssi %d dBm", rssi)
	}
	return s
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(packet *nowlink.Packet, errs []nowlink.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	msgType := nowlink.FormatMessageType(packet.Type())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) from %s\n", timestamp, msgType, packet.Type(), packet.Peer())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case nowlink.AnomalyLengthMismatch, nowlink.AnomalyMissingField:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case nowlink.AnomalyInvalidCommand, nowlink.AnomalySensorRange, nowlink.AnomalyInvalidValue:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  >>> PACKET REJECTED <<<\n\n")
}
