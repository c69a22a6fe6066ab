// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import (
	"encoding/binary"
	"fmt"
)

// Frame is the fixed-size radio datagram exchanged with the Controller.
//
// Every command carries a sensor value. Only CmdGoTo uses it; the Controller
// ignores it for the other commands. Every response carries the Controller's
// current sensor position.
type Frame struct {
	Command uint8
	Sensor  uint16
}

// MarshalBinary encodes the frame in the Controller's native layout
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	buf[0] = f.Command
	binary.LittleEndian.PutUint16(buf[2:4], f.Sensor)
	return buf, nil
}

// UnmarshalBinary decodes a frame. The padding byte is ignored.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != FrameSize {
		return fmt.Errorf("invalid frame size: %d (want %d)", len(data), FrameSize)
	}
	f.Command = data[0]
	f.Sensor = binary.LittleEndian.Uint16(data[2:4])
	return nil
}

// Bytes returns the wire form of the frame
func (f Frame) Bytes() []byte {
	b, _ := f.MarshalBinary()
	return b
}

// String implements fmt.Stringer
func (f Frame) String() string {
	return fmt.Sprintf("%s sensor=%d", CommandName(f.Command), f.Sensor)
}

// ParseFrame decodes a frame from its wire form
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	err := f.UnmarshalBinary(data)
	return f, err
}

// IsCommand reports whether c is a known Controller command code
func IsCommand(c uint8) bool {
	return c >= CmdUp && c <= CmdStatus
}

// CommandName returns the human-readable name for a command code
func CommandName(c uint8) string {
	switch c {
	case CmdUp:
		return "UP"
	case CmdDown:
		return "DOWN"
	case CmdGoTo:
		return "GOTO"
	case CmdStatus:
		return "STATUS"
	default:
		return fmt.Sprintf("CMD(%d)", c)
	}
}
