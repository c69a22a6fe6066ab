// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var simMAC = nowlink.MAC{0x68, 0xB6, 0xB3, 0x08, 0xD7, 0x6A}

func TestController_Apply(t *testing.T) {
	tests := []struct {
		name    string
		initial uint16
		frame   nowlink.Frame
		want    uint16
	}{
		{"up", 1400, nowlink.Frame{Command: nowlink.CmdUp}, 1450},
		{"down", 1400, nowlink.Frame{Command: nowlink.CmdDown}, 1350},
		{"goto", 1400, nowlink.Frame{Command: nowlink.CmdGoTo, Sensor: 2000}, 2000},
		{"status", 1400, nowlink.Frame{Command: nowlink.CmdStatus, Sensor: 99}, 1400},
		{"down clamps", 20, nowlink.Frame{Command: nowlink.CmdDown}, 0},
		{"up clamps", 4080, nowlink.Frame{Command: nowlink.CmdUp}, nowlink.MaxSensor},
		{"goto clamps", 0, nowlink.Frame{Command: nowlink.CmdGoTo, Sensor: 9000}, nowlink.MaxSensor},
		{"unknown ignored", 1400, nowlink.Frame{Command: 9}, 1400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.initial, DefaultStep)
			got := c.Apply(tt.frame)
			if got.Sensor != tt.want || c.Sensor() != tt.want {
				t.Errorf("Apply(%v) = %v (sensor %d), want %d", tt.frame, got, c.Sensor(), tt.want)
			}
			if got.Command != nowlink.CmdStatus {
				t.Errorf("reply command = %d, want STATUS", got.Command)
			}
		})
	}
}

func TestResponder_Request(t *testing.T) {
	ctrl := NewController(DefaultInitial, DefaultStep)
	r := NewResponder(ctrl, Options{Latency: 5 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	ch := link.NewChannel(r, link.Options{}, zaptest.NewLogger(t).Sugar())
	r.Attach(ch)

	got, err := ch.Request(context.Background(), nowlink.CmdUp, 0, time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got != DefaultInitial+DefaultStep {
		t.Errorf("Request(UP) = %d, want %d", got, DefaultInitial+DefaultStep)
	}
}

func TestResponder_Nack(t *testing.T) {
	ctrl := NewController(DefaultInitial, DefaultStep)
	r := NewResponder(ctrl, Options{NackRate: 1}, zaptest.NewLogger(t).Sugar())
	ch := link.NewChannel(r, link.Options{}, zaptest.NewLogger(t).Sugar())
	r.Attach(ch)

	if out := ch.Send(context.Background(), nowlink.CmdGoTo, 2000); out != link.DeliveryFailure {
		t.Errorf("Send() = %v, want Failure", out)
	}
	if ctrl.Sensor() != DefaultInitial {
		t.Errorf("controller moved on a failed send: %d", ctrl.Sensor())
	}
}

func TestResponder_Drop(t *testing.T) {
	ctrl := NewController(DefaultInitial, DefaultStep)
	r := NewResponder(ctrl, Options{DropRate: 1}, zaptest.NewLogger(t).Sugar())
	ch := link.NewChannel(r, link.Options{}, zaptest.NewLogger(t).Sugar())
	r.Attach(ch)

	if out := ch.Send(context.Background(), nowlink.CmdGoTo, 2000); out != link.DeliverySuccess {
		t.Fatalf("Send() = %v", out)
	}
	if out := ch.AwaitResponse(context.Background(), 30*time.Millisecond); out != link.TimedOut {
		t.Errorf("AwaitResponse() = %v, want TimedOut", out)
	}
}

// dongleBridge runs a host Bridge and Channel against d until the test ends
func dongleBridge(t *testing.T, d *Dongle, peer nowlink.MAC) (*link.Bridge, *link.Channel, context.Context) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	bridge := link.NewBridge(d, peer, logger)
	ch := link.NewChannel(bridge, link.Options{DeliveryTimeout: time.Second}, logger)
	bridge.Attach(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		d.Close()
		<-done
	})
	return bridge, ch, ctx
}

func TestDongle_OverBridge(t *testing.T) {
	ctrl := NewController(DefaultInitial, DefaultStep)
	dongle := NewDongle(ctrl, simMAC, Options{}, zaptest.NewLogger(t).Sugar())
	var applied []nowlink.Frame
	var mu sync.Mutex
	dongle.OnFrame = func(cmd, _ nowlink.Frame) {
		mu.Lock()
		applied = append(applied, cmd)
		mu.Unlock()
	}
	bridge, ch, ctx := dongleBridge(t, dongle, simMAC)

	if err := bridge.AddPeer(0); err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}

	got, err := ch.Request(ctx, nowlink.CmdGoTo, 2222, time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got != 2222 {
		t.Errorf("Request(GOTO 2222) = %d", got)
	}
	if !dongle.HasPeer(simMAC) {
		t.Error("dongle did not register peer")
	}
	mu.Lock()
	if len(applied) != 1 || applied[0].Command != nowlink.CmdGoTo {
		t.Errorf("applied = %v, want one GOTO", applied)
	}
	mu.Unlock()

	if _, _, err := bridge.Ping(ctx, time.Second); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestDongle_UnknownPeerFails(t *testing.T) {
	ctrl := NewController(DefaultInitial, DefaultStep)
	dongle := NewDongle(ctrl, simMAC, Options{}, zaptest.NewLogger(t).Sugar())
	_, ch, ctx := dongleBridge(t, dongle, nowlink.MAC{1, 2, 3, 4, 5, 6})

	if out := ch.Send(ctx, nowlink.CmdStatus, 0); out != link.DeliveryFailure {
		t.Errorf("Send() to unknown peer = %v, want Failure", out)
	}
}

func TestDongle_RadioFaults(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"nack", Options{NackRate: 1}, link.ErrDeliveryFailed},
		{"drop", Options{DropRate: 1}, link.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := NewController(DefaultInitial, DefaultStep)
			dongle := NewDongle(ctrl, simMAC, tt.opts, zaptest.NewLogger(t).Sugar())
			_, ch, ctx := dongleBridge(t, dongle, simMAC)

			_, err := ch.Request(ctx, nowlink.CmdUp, 0, 100*time.Millisecond)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Request() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
