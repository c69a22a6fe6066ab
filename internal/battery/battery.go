// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package battery converts the remote's divided battery voltage to a charge
// fraction.
package battery

import "sync/atomic"

// Divider readings for an empty and a full cell
const (
	DefaultEmptyMv = 474
	DefaultFullMv  = 680
)

// Gauge maps millivolt readings linearly between empty and full
type Gauge struct {
	emptyMv int
	fullMv  int
	mv      atomic.Int32
}

// NewGauge creates a gauge. Invalid bounds fall back to the defaults.
func NewGauge(emptyMv, fullMv int) *Gauge {
	if emptyMv <= 0 || fullMv <= emptyMv {
		emptyMv, fullMv = DefaultEmptyMv, DefaultFullMv
	}
	g := &Gauge{emptyMv: emptyMv, fullMv: fullMv}
	g.mv.Store(int32(fullMv))
	return g
}

// Set records a new reading
func (g *Gauge) Set(mv int) {
	g.mv.Store(int32(mv))
}

// Millivolts returns the last reading
func (g *Gauge) Millivolts() int {
	return int(g.mv.Load())
}

// Adjust moves the reading by deltaMv, held between the empty and full
// bounds, and returns the new reading.
func (g *Gauge) Adjust(deltaMv int) int {
	mv := min(max(g.Millivolts()+deltaMv, g.emptyMv), g.fullMv)
	g.Set(mv)
	return mv
}

// Charge returns the charge fraction 0..1 for the last reading
func (g *Gauge) Charge() float64 {
	return Fraction(g.Millivolts(), g.emptyMv, g.fullMv)
}

// Fraction maps mv onto [0, 1] between emptyMv and fullMv
func Fraction(mv, emptyMv, fullMv int) float64 {
	if mv <= emptyMv {
		return 0
	}
	if mv >= fullMv {
		return 1
	}
	return float64(mv-emptyMv) / float64(fullMv-emptyMv)
}

// Percent returns the whole-number percentage shown on the display
func Percent(charge float64) int {
	return int(charge*100 + 0.5)
}
