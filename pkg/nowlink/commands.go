// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

// Command builder functions create Packet structs ready for encoding.
// They are thin wrappers around NewPacketWithPayload that keep payload key
// usage in one place.

// NewSendFrame creates a SEND_FRAME packet (0x10).
// The bridge transmits the frame to peer and answers with SEND_STATUS.
func NewSendFrame(peer MAC, f Frame) *Packet {
	payload := map[int]interface{}{
		KeyFrame: f.Bytes(),
	}
	return NewPacketWithPayload(peer, MsgSendFrame, payload)
}

// NewAddPeer creates an ADD_PEER packet (0x11).
// Registers peer with the bridge radio on the given channel (0 = current).
func NewAddPeer(peer MAC, channel uint8) *Packet {
	payload := map[int]interface{}{
		KeyChannel: uint64(channel),
	}
	return NewPacketWithPayload(peer, MsgAddPeer, payload)
}

// NewPingRequest creates a PING_REQUEST packet (0x2F).
// The bridge responds with PING_RESPONSE containing its uptime.
func NewPingRequest(peer MAC) *Packet {
	return NewPacketWithPayload(peer, MsgPingRequest, nil)
}

// NewRecvFrame creates a RECV_FRAME packet (0x30).
// Sent by the bridge when a radio frame arrives from peer.
func NewRecvFrame(peer MAC, f Frame, rssi int8) *Packet {
	payload := map[int]interface{}{
		KeyFrame: f.Bytes(),
		KeyRSSI:  int64(rssi),
	}
	return NewPacketWithPayload(peer, MsgRecvFrame, payload)
}

// NewSendStatus creates a SEND_STATUS packet (0x31).
// Reports the radio send-completion result for the last SEND_FRAME.
func NewSendStatus(peer MAC, status SendStatus) *Packet {
	payload := map[int]interface{}{
		KeyStatus: uint64(status),
	}
	return NewPacketWithPayload(peer, MsgSendStatus, payload)
}

// NewPingResponse creates a PING_RESPONSE packet (0x3F).
func NewPingResponse(peer MAC, uptimeMs uint64) *Packet {
	payload := map[int]interface{}{
		KeyUptime: uptimeMs,
	}
	return NewPacketWithPayload(peer, MsgPingResponse, payload)
}

// NewInvalidCommand creates an ERROR_INVALID_CMD packet (0xE0).
func NewInvalidCommand(peer MAC, msgType uint8) *Packet {
	payload := map[int]interface{}{
		KeyCommand: uint64(msgType),
	}
	return NewPacketWithPayload(peer, MsgErrorInvalidCmd, payload)
}
