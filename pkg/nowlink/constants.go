// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package nowlink implements the two wire formats used between the flow remote
// and its Controller.
//
// The radio frame is the fixed-size datagram exchanged with the Controller:
// a one-byte command code and a two-byte sensor value. The host never talks to
// the radio directly; it reaches it through a bridge dongle over USB serial or
// WebSocket. Bridge packets are framed with START/END bytes, byte-stuffed, and
// protected by CRC-16-CCITT. The body carries the peer MAC and a CBOR message
// of the form [msg_type, payload_map].
package nowlink

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPacketSize  = 96 // 1 length + 6 mac + 87 payload + 2 crc
	MaxPayloadSize = 87
	MACSize        = 6
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Radio frame layout. The Controller copies the frame into its native
// struct, so the sensor value sits after one byte of alignment padding.
const (
	FrameSize = 4
	MaxSensor = 4095
)

// Controller command codes carried in the radio frame
const (
	CmdUp     = 3 // move one step up
	CmdDown   = 4 // move one step down
	CmdGoTo   = 5 // move to the sensor value in the frame
	CmdStatus = 6 // report the current position only
)

// Message types - Host → Bridge 0x10-0x2F
const (
	MsgSendFrame   = 0x10
	MsgAddPeer     = 0x11
	MsgPingRequest = 0x2F
)

// Message types - Bridge → Host 0x30-0x3F
const (
	MsgRecvFrame    = 0x30
	MsgSendStatus   = 0x31
	MsgPingResponse = 0x3F
)

// Message types - Errors (Bidirectional) 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// SendStatus is the radio send-completion result reported by the bridge
type SendStatus int

// Send status values
const (
	SendSuccess SendStatus = 0x00
	SendFail    SendStatus = 0x01
)

// Payload keys
const (
	KeyFrame   = 0 // MsgSendFrame, MsgRecvFrame: raw frame bytes
	KeyRSSI    = 1 // MsgRecvFrame: signal strength (dBm)
	KeyStatus  = 0 // MsgSendStatus
	KeyChannel = 0 // MsgAddPeer
	KeyUptime  = 0 // MsgPingResponse
	KeyCommand = 0 // MsgErrorInvalidCmd
)
