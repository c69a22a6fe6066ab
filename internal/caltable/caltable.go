// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package caltable maps raw Controller sensor readings to flow settings.
//
// A Table holds one sensor anchor per 0.5 L/min step between MinFlow and
// MaxFlow. Anchor i corresponds to flow MinFlow + FlowStep*i.
package caltable

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Table geometry
const (
	Anchors = 17
	Samples = 9

	MinFlow  = 2.0
	MaxFlow  = 10.0
	FlowStep = 0.5

	// EncodedSize is the persisted size of a table: 17 little-endian uint16
	EncodedSize = Anchors * 2
)

// Default ramp used when no calibration has been stored
const (
	DefaultBase = 800
	DefaultStep = 100
)

// Table is the calibration table
type Table [Anchors]uint16

// SampleSet holds one sensor reading per integer flow level 2..10
type SampleSet [Samples]uint16

// Default returns the synthetic ramp 800, 900, ..., 2400
func Default() Table {
	var t Table
	for i := range t {
		t[i] = uint16(DefaultBase + DefaultStep*i)
	}
	return t
}

// FlowForIndex returns the flow represented by anchor i
func FlowForIndex(i int) float64 {
	return MinFlow + FlowStep*float64(i)
}

// IndexForFlow returns the anchor index for a flow, clamped to the table
func IndexForFlow(flow float64) int {
	i := int(math.Round((flow - MinFlow) / FlowStep))
	if i < 0 {
		return 0
	}
	if i >= Anchors {
		return Anchors - 1
	}
	return i
}

// ClampFlow limits a flow to [MinFlow, MaxFlow]
func ClampFlow(flow float64) float64 {
	return math.Max(MinFlow, math.Min(MaxFlow, flow))
}

// SetPoint returns the sensor value the Controller should move to for flow
func (t Table) SetPoint(flow float64) uint16 {
	return t[IndexForFlow(flow)]
}

// Lookup converts a sensor reading to a flow quantized to FlowStep.
//
// All anchors are scanned without assuming the table is sorted. The lower
// anchor is the one with the greatest value not above sensor, the upper
// anchor the one with the least value not below it; on ties the lowest index
// wins. Readings outside the table clamp to the first or last anchor.
func (t Table) Lookup(sensor uint16) float64 {
	lower, upper := -1, -1
	for i, v := range t {
		if v <= sensor && (lower == -1 || v > t[lower]) {
			lower = i
		}
		if v >= sensor && (upper == -1 || v < t[upper]) {
			upper = i
		}
	}
	if lower == -1 {
		lower = 0
	}
	if upper == -1 {
		upper = Anchors - 1
	}

	lowerFlow := FlowForIndex(lower)
	if t[lower] == t[upper] {
		return lowerFlow
	}

	upperFlow := FlowForIndex(upper)
	ratio := (float64(sensor) - float64(t[lower])) / (float64(t[upper]) - float64(t[lower]))
	flow := lowerFlow + ratio*(upperFlow-lowerFlow)

	// Round half to even on the doubled value: 5.25 -> 10.5 -> 10 -> 5.0
	return ClampFlow(math.RoundToEven(flow/FlowStep) * FlowStep)
}

// BuildFromSamples builds a table from one reading per integer flow level.
// Even anchors take the samples; odd anchors take the truncated mean of their
// neighbours.
func BuildFromSamples(s SampleSet) Table {
	var t Table
	for i, v := range s {
		t[2*i] = v
	}
	for i := 1; i < Anchors; i += 2 {
		t[i] = uint16((uint32(t[i-1]) + uint32(t[i+1])) / 2)
	}
	return t
}

// Monotonic reports whether anchors never decrease with index
func (t Table) Monotonic() bool {
	for i := 1; i < Anchors; i++ {
		if t[i] < t[i-1] {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the table as 17 little-endian uint16 values
func (t Table) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EncodedSize)
	for i, v := range t {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf, nil
}

// UnmarshalBinary decodes a table written by MarshalBinary
func (t *Table) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSize {
		return fmt.Errorf("invalid calibration record size: %d (want %d)", len(data), EncodedSize)
	}
	for i := range t {
		t[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return nil
}

// String formats the table one anchor per line
func (t Table) String() string {
	s := ""
	for i, v := range t {
		s += fmt.Sprintf("%4.1f L/min  %4d\n", FlowForIndex(i), v)
	}
	return s
}
