// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var monitorPeer = nowlink.MAC{0x68, 0xB6, 0xB3, 0x08, 0xD7, 0x6A}

func wire(t *testing.T, p *nowlink.Packet) []byte {
	t.Helper()
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

func decoded(t *testing.T, p *nowlink.Packet) *nowlink.Packet {
	t.Helper()
	out, err := nowlink.DecodePacket(wire(t, p))
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}
	return out
}

func TestTrafficDecoder_SyncAndErrors(t *testing.T) {
	report := wire(t, nowlink.NewRecvFrame(monitorPeer, nowlink.Frame{Command: nowlink.CmdStatus, Sensor: 1200}, -40))

	var stream []byte
	stream = append(stream, 0x7E, 0x01, 0x7F) // truncated packet before sync
	stream = append(stream, report...)
	corrupt := append([]byte(nil), report...)
	if corrupt[len(corrupt)-2] == 0x10 {
		corrupt[len(corrupt)-2] = 0x11
	} else {
		corrupt[len(corrupt)-2] = 0x10
	}
	stream = append(stream, corrupt...)

	var events []trafficEvent
	newTrafficDecoder().feed(stream, func(ev trafficEvent) { events = append(events, ev) })

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].synced || events[0].invalidBytes != 1 || events[0].packet == nil {
		t.Errorf("first event = %+v, want synced packet after 1 invalid", events[0])
	}
	if events[1].decodeErr == nil || events[1].synced {
		t.Errorf("second event = %+v, want decode error", events[1])
	}
}

func TestMonitorModel_Report(t *testing.T) {
	m := newMonitorModel("test", caltable.Default(), false)
	p := decoded(t, nowlink.NewRecvFrame(monitorPeer, nowlink.Frame{Command: nowlink.CmdGoTo, Sensor: 1200}, -40))

	m.handleTraffic(trafficEvent{packet: p, synced: true})

	if !m.synchronized {
		t.Error("model not synchronized")
	}
	r := m.lastReport
	if r == nil {
		t.Fatal("no report recorded")
	}
	if r.sensor != 1200 || r.flow != 4.0 || r.command != nowlink.CmdGoTo {
		t.Errorf("report = %+v, want GOTO 1200 at 4.0", r)
	}
	if !r.hasRSSI || r.rssi != -40 {
		t.Errorf("rssi = %d (%v), want -40", r.rssi, r.hasRSSI)
	}
	if m.stats.ValidPackets != 1 {
		t.Errorf("ValidPackets = %d, want 1", m.stats.ValidPackets)
	}
	if !strings.Contains(m.View(), "4.0 L/min") {
		t.Error("view does not show the flow")
	}
}

func TestMonitorModel_Errors(t *testing.T) {
	m := newMonitorModel("test", caltable.Default(), false)

	fail := decoded(t, nowlink.NewSendStatus(monitorPeer, nowlink.SendFail))
	m.handleTraffic(trafficEvent{packet: fail})

	bad := decoded(t, nowlink.NewRecvFrame(monitorPeer, nowlink.Frame{Command: 9, Sensor: 100}, -40))
	m.handleTraffic(trafficEvent{packet: bad, validation: nowlink.ValidatePacket(bad)})

	if len(m.eventLog) != 2 {
		t.Fatalf("event log has %d entries, want 2", len(m.eventLog))
	}
	for _, e := range m.eventLog {
		if !e.isError {
			t.Errorf("entry %q not marked as error", e.message)
		}
	}
	if m.lastReport != nil {
		t.Error("invalid frame recorded as report")
	}
	if m.stats.SendFailures != 1 || m.stats.InvalidCommands != 1 {
		t.Errorf("stats = %+v", m.stats)
	}
}

func TestMonitorModel_ShowAll(t *testing.T) {
	m := newMonitorModel("test", caltable.Default(), true)
	m.handleTraffic(trafficEvent{packet: decoded(t, nowlink.NewPingResponse(monitorPeer, 61_000))})

	if !m.hasUptime || m.bridgeUptime != 61_000 {
		t.Errorf("uptime = %d (%v), want 61000", m.bridgeUptime, m.hasUptime)
	}
	if len(m.eventLog) != 1 || m.eventLog[0].isError {
		t.Errorf("event log = %+v, want one info entry", m.eventLog)
	}
}
