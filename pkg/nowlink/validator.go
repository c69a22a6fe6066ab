// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nowlink

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidCommand
	AnomalySensorRange
	AnomalyInvalidValue
	AnomalyMissingField
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket validates packet structure and detects anomalies.
// Returns a slice of validation errors (empty if packet is valid).
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	switch p.Type() {
	case MsgSendFrame, MsgRecvFrame:
		errors = append(errors, validateFramePayload(p)...)
	case MsgSendStatus:
		errors = append(errors, validateSendStatus(p)...)
	}

	return errors
}

func validateFramePayload(p *Packet) []ValidationError {
	raw, ok := GetMapBytes(p.PayloadMap(), KeyFrame)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: fmt.Sprintf("%s has no frame field", FormatMessageType(p.Type())),
			Details: map[string]interface{}{"key": KeyFrame},
		}}
	}
	if len(raw) != FrameSize {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("frame length %d (expected %d)", len(raw), FrameSize),
			Details: map[string]interface{}{"length": len(raw), "expected": FrameSize},
		}}
	}

	return ValidateFrame(Frame{Command: raw[0], Sensor: uint16(raw[2]) | uint16(raw[3])<<8})
}

// ValidateFrame checks a radio frame's command code and sensor range
func ValidateFrame(f Frame) []ValidationError {
	errors := []ValidationError{}

	if !IsCommand(f.Command) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidCommand,
			Message: fmt.Sprintf("Invalid command=%d (valid %d-%d)", f.Command, CmdUp, CmdStatus),
			Details: map[string]interface{}{"command": f.Command},
		})
	}

	if f.Sensor > MaxSensor {
		errors = append(errors, ValidationError{
			Type:    AnomalySensorRange,
			Message: fmt.Sprintf("Sensor %d out of range (max %d)", f.Sensor, MaxSensor),
			Details: map[string]interface{}{"sensor": f.Sensor, "max": MaxSensor},
		})
	}

	return errors
}

func validateSendStatus(p *Packet) []ValidationError {
	status, ok := GetMapUint(p.PayloadMap(), KeyStatus)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: "SEND_STATUS has no status field",
			Details: map[string]interface{}{"key": KeyStatus},
		}}
	}
	if status > uint64(SendFail) {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid send status=%d", status),
			Details: map[string]interface{}{"status": status},
		}}
	}
	return nil
}
