// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MAC is a 6-byte radio peer address
type MAC [MACSize]byte

// String formats the address as colon-separated hex
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses "68:B6:B3:09:1C:34" style addresses (':' or '-' separated)
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != MACSize {
		return m, fmt.Errorf("invalid MAC %q: expected %d octets", s, MACSize)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return m, fmt.Errorf("invalid MAC %q: %w", s, err)
		}
		m[i] = byte(v)
	}
	return m, nil
}

// Packet represents a decoded bridge packet
type Packet struct {
	length      uint8
	peer        MAC
	cborPayload []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	// Cached parsed values (lazy parsing)
	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewPacket creates a new packet with the given fields
func NewPacket(length uint8, peer MAC, cborPayload []byte, crc uint16) *Packet {
	return &Packet{
		length:      length,
		peer:        peer,
		cborPayload: cborPayload,
		crc:         crc,
		timestamp:   time.Now(),
	}
}

// NewPacketWithPayload creates a new packet from message type and payload map.
// The CBOR encoding and CRC are computed when the packet is encoded.
func NewPacketWithPayload(peer MAC, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		peer:       peer,
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

// ensureParsed parses the CBOR payload if not already done
func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.cborPayload) == 0 {
		return
	}
	p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
}

// Length returns the packet's CBOR payload length
func (p *Packet) Length() uint8 {
	return p.length
}

// Peer returns the radio peer the packet is addressed to or came from
func (p *Packet) Peer() MAC {
	return p.peer
}

// Type returns the packet's message type (parsed from CBOR)
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Payload returns the raw CBOR payload bytes
func (p *Packet) Payload() []byte {
	return p.cborPayload
}

// PayloadMap returns the decoded CBOR payload map (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the packet's CRC value
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Frame extracts the radio frame carried by MsgSendFrame or MsgRecvFrame
func (p *Packet) Frame() (Frame, error) {
	f, err := p.framePayload()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(f.Frame)
}

// RSSI returns the signal strength the bridge attached to a received frame
func (p *Packet) RSSI() (int8, bool) {
	f, err := p.framePayload()
	if err != nil || f.RSSI == nil {
		return 0, false
	}
	return *f.RSSI, true
}

func (p *Packet) framePayload() (FramePayload, error) {
	var f FramePayload
	msgType := p.Type()
	if msgType != MsgSendFrame && msgType != MsgRecvFrame {
		return f, fmt.Errorf("message 0x%02X carries no frame", msgType)
	}
	if err := p.DecodePayload(msgType, &f); err != nil {
		return f, err
	}
	if f.Frame == nil {
		return f, fmt.Errorf("frame payload missing")
	}
	return f, nil
}

// SendStatus extracts the send-completion result of a MsgSendStatus packet
func (p *Packet) SendStatus() (SendStatus, bool) {
	var s SendStatusPayload
	if err := p.DecodePayload(MsgSendStatus, &s); err != nil || s.Status == nil {
		return SendFail, false
	}
	return SendStatus(*s.Status), true
}

// Uptime extracts the bridge uptime in milliseconds from a MsgPingResponse
func (p *Packet) Uptime() (uint64, bool) {
	var r PingResponsePayload
	if err := p.DecodePayload(MsgPingResponse, &r); err != nil {
		return 0, false
	}
	return r.Uptime, true
}

// RejectedCommand extracts the message type a MsgErrorInvalidCmd refers to
func (p *Packet) RejectedCommand() (uint8, bool) {
	var r InvalidCmdPayload
	if err := p.DecodePayload(MsgErrorInvalidCmd, &r); err != nil {
		return 0, false
	}
	return r.Command, true
}
