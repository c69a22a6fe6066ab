// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestPacket_TypedPayloads(t *testing.T) {
	t.Run("ping response uptime", func(t *testing.T) {
		p, err := DecodePacket(MustEncodePacket(NewPingResponse(testPeer, 86_400_123)))
		if err != nil {
			t.Fatalf("DecodePacket() error = %v", err)
		}
		uptime, ok := p.Uptime()
		if !ok || uptime != 86_400_123 {
			t.Errorf("Uptime() = %d, %v; want 86400123, true", uptime, ok)
		}
	})

	t.Run("rejected command", func(t *testing.T) {
		p, err := DecodePacket(MustEncodePacket(NewInvalidCommand(testPeer, MsgAddPeer)))
		if err != nil {
			t.Fatalf("DecodePacket() error = %v", err)
		}
		cmd, ok := p.RejectedCommand()
		if !ok || cmd != MsgAddPeer {
			t.Errorf("RejectedCommand() = 0x%02X, %v; want 0x%02X, true", cmd, ok, MsgAddPeer)
		}
	})

	t.Run("sent frame has no rssi", func(t *testing.T) {
		p := NewSendFrame(testPeer, Frame{Command: CmdStatus})
		if _, ok := p.RSSI(); ok {
			t.Error("RSSI() on SEND_FRAME should report !ok")
		}
	})

	t.Run("wrong message type", func(t *testing.T) {
		var r PingResponsePayload
		if err := NewPingRequest(testPeer).DecodePayload(MsgPingResponse, &r); err == nil {
			t.Error("DecodePayload() on PING_REQUEST should fail")
		}
	})
}

func TestPacket_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint8
		payload interface{}
		check   func(p *Packet) bool
	}{
		{
			name:    "status missing",
			msgType: MsgSendStatus,
			payload: map[int]interface{}{5: 1},
			check:   func(p *Packet) bool { _, ok := p.SendStatus(); return ok },
		},
		{
			name:    "status out of range for uint8",
			msgType: MsgSendStatus,
			payload: map[int]interface{}{KeyStatus: 300},
			check:   func(p *Packet) bool { _, ok := p.SendStatus(); return ok },
		},
		{
			name:    "frame is a string",
			msgType: MsgRecvFrame,
			payload: map[int]interface{}{KeyFrame: "nope"},
			check:   func(p *Packet) bool { _, err := p.Frame(); return err == nil },
		},
		{
			name:    "rssi below int8",
			msgType: MsgRecvFrame,
			payload: map[int]interface{}{KeyFrame: []byte{CmdStatus, 0, 0, 0}, KeyRSSI: -200},
			check:   func(p *Packet) bool { _, ok := p.RSSI(); return ok },
		},
		{
			name:    "uptime missing payload",
			msgType: MsgPingResponse,
			payload: nil,
			check:   func(p *Packet) bool { _, ok := p.Uptime(); return ok },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := cbor.Marshal([]interface{}{tt.msgType, tt.payload})
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			p := NewPacket(uint8(len(raw)), testPeer, raw, 0)
			if tt.check(p) {
				t.Error("accessor accepted a malformed payload")
			}
		})
	}
}

func TestParseCBORMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      interface{}
		wantType uint8
		wantKeys int
		wantErr  bool
	}{
		{"empty payload", []interface{}{MsgPingRequest, nil}, MsgPingRequest, 0, false},
		{"int keys", []interface{}{MsgAddPeer, map[int]interface{}{KeyChannel: 1}}, MsgAddPeer, 1, false},
		{"three elements", []interface{}{MsgAddPeer, nil, nil}, 0, 0, true},
		{"type overflows", []interface{}{300, nil}, 0, 0, true},
		{"string keys", []interface{}{MsgAddPeer, map[string]int{"a": 1}}, 0, 0, true},
		{"payload not a map", []interface{}{MsgAddPeer, "x"}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := cbor.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			msgType, payload, err := ParseCBORMessage(raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCBORMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msgType != tt.wantType || len(payload) != tt.wantKeys {
				t.Errorf("ParseCBORMessage() = 0x%02X, %d keys; want 0x%02X, %d keys",
					msgType, len(payload), tt.wantType, tt.wantKeys)
			}
		})
	}

	if _, _, err := ParseCBORMessage(nil); err == nil {
		t.Error("ParseCBORMessage(nil) should fail")
	}
}
