// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborNull is the encoding of an empty payload
var cborNull = []byte{0xF6}

// envelope is the outer [msg_type, payload] array of every bridge message
type envelope struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

// FramePayload is the body of MsgSendFrame and MsgRecvFrame.
// RSSI is only set by the bridge on received frames.
type FramePayload struct {
	Frame []byte `cbor:"0,keyasint"`
	RSSI  *int8  `cbor:"1,keyasint,omitempty"`
}

// SendStatusPayload is the body of MsgSendStatus
type SendStatusPayload struct {
	Status *uint8 `cbor:"0,keyasint"`
}

// PingResponsePayload is the body of MsgPingResponse
type PingResponsePayload struct {
	Uptime uint64 `cbor:"0,keyasint"`
}

// InvalidCmdPayload is the body of MsgErrorInvalidCmd
type InvalidCmdPayload struct {
	Command uint8 `cbor:"0,keyasint"`
}

// ParseCBORMessage parses a bridge CBOR message: [msg_type, payload_map]
// Returns the message type and decoded payload map (nil for empty payloads)
func ParseCBORMessage(data []byte) (uint8, map[int]interface{}, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return 0, nil, err
	}
	if bytes.Equal(env.Payload, cborNull) {
		return env.Type, nil, nil
	}
	var payload map[int]interface{}
	if err := cbor.Unmarshal(env.Payload, &payload); err != nil {
		return 0, nil, fmt.Errorf("expected integer-keyed map or nil for payload: %w", err)
	}
	return env.Type, payload, nil
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if len(data) == 0 {
		return env, fmt.Errorf("empty CBOR payload")
	}
	if err := cbor.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode CBOR message: %w", err)
	}
	return env, nil
}

// DecodePayload decodes the payload of a packet carrying msgType into v,
// one of the *Payload types.
func (p *Packet) DecodePayload(msgType uint8, v interface{}) error {
	if p.Type() != msgType {
		return fmt.Errorf("message 0x%02X is not %s", p.Type(), FormatMessageType(msgType))
	}
	raw := p.cborPayload
	if len(raw) == 0 {
		var err error
		if raw, err = encodeCBORPayload(p.msgType, p.payloadMap); err != nil {
			return err
		}
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return err
	}
	if bytes.Equal(env.Payload, cborNull) {
		return fmt.Errorf("%s payload missing", FormatMessageType(msgType))
	}
	if err := cbor.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", FormatMessageType(msgType), err)
	}
	return nil
}

// Map value extraction helpers, used where a payload is inspected
// field by field (validation, raw dumps).

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapInt extracts an int64 from a CBOR map by key
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

// GetMapBytes extracts a []byte from a CBOR map by key
func GetMapBytes(m map[int]interface{}, key int) ([]byte, bool) {
	val, ok := m[key].([]byte)
	return val, ok
}
