// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mode holds the remote's operating mode and the debounced
// mode-toggle button handlers.
//
// Button handlers run in interrupt context. They only compare timestamps,
// flip the mode and raise event flags; the main loop collects the events with
// TakeEvents and does the real work (persisting, restarting, redrawing).
package mode

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the minimum interval between accepted button edges
const DefaultDebounce = 500 * time.Millisecond

// Mode is the remote's operating mode
type Mode int32

const (
	Normal Mode = iota
	Calibration
	Update
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "Normal"
	case Calibration:
		return "Calibration"
	case Update:
		return "Update"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// AbortPolicy selects what happens when the operator leaves Calibration with
// the calibration button.
type AbortPolicy int

const (
	// AbortRestart reinitializes the remote from boot state
	AbortRestart AbortPolicy = iota
	// AbortRedraw returns to Normal and forces a redraw
	AbortRedraw
)

func (p AbortPolicy) String() string {
	if p == AbortRedraw {
		return "redraw"
	}
	return "restart"
}

// ParseAbortPolicy parses "restart" or "redraw"
func ParseAbortPolicy(s string) (AbortPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "restart":
		return AbortRestart, nil
	case "redraw":
		return AbortRedraw, nil
	default:
		return AbortRestart, fmt.Errorf("unknown abort policy %q (want restart or redraw)", s)
	}
}

// Events are the edges accepted since the last TakeEvents call
type Events struct {
	CalibrationStarted bool
	CalibrationAborted bool
	UpdateToggled      bool
}

// Any reports whether any event is set
func (e Events) Any() bool {
	return e.CalibrationStarted || e.CalibrationAborted || e.UpdateToggled
}

// Machine is the mode state machine. Each field has a single writer: the
// button handlers write the timestamps and raise events, the main loop
// consumes events and calls Set.
type Machine struct {
	mode     atomic.Int32
	debounce time.Duration
	now      func() time.Time

	lastCal    atomic.Int64
	lastUpdate atomic.Int64

	calStarted    atomic.Bool
	calAborted    atomic.Bool
	updateToggled atomic.Bool
}

// New creates a machine in mode m. A nil now uses time.Now.
func New(m Mode, debounce time.Duration, now func() time.Time) *Machine {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if now == nil {
		now = time.Now
	}
	mc := &Machine{debounce: debounce, now: now}
	mc.mode.Store(int32(m))
	return mc
}

// Mode returns the active mode
func (m *Machine) Mode() Mode {
	return Mode(m.mode.Load())
}

// Set forces the active mode. Used at boot.
func (m *Machine) Set(mode Mode) {
	m.mode.Store(int32(mode))
}

// FinishCalibration returns from Calibration to Normal when the wizard ends on
// its own. It reports false, leaving the mode alone, if a button press already
// moved the machine out of Calibration.
func (m *Machine) FinishCalibration() bool {
	return m.mode.CompareAndSwap(int32(Calibration), int32(Normal))
}

// accept applies the debounce window against last, updating it on success
func (m *Machine) accept(last *atomic.Int64) bool {
	now := m.now().UnixNano()
	prev := last.Load()
	if prev != 0 && time.Duration(now-prev) <= m.debounce {
		return false
	}
	last.Store(now)
	return true
}

// CalibrationPressed handles a falling edge of the calibration button.
// Returns true if the edge was accepted.
func (m *Machine) CalibrationPressed() bool {
	if !m.accept(&m.lastCal) {
		return false
	}
	switch m.Mode() {
	case Normal:
		m.Set(Calibration)
		m.calStarted.Store(true)
	case Calibration:
		m.Set(Normal)
		m.calAborted.Store(true)
	case Update:
		// The calibration wizard is unavailable while updating
	}
	return true
}

// UpdatePressed handles a falling edge of the update button.
// Returns true if the edge was accepted.
func (m *Machine) UpdatePressed() bool {
	if !m.accept(&m.lastUpdate) {
		return false
	}
	if m.Mode() == Update {
		m.Set(Normal)
	} else {
		m.Set(Update)
	}
	m.updateToggled.Store(true)
	return true
}

// TakeEvents returns and clears the pending events
func (m *Machine) TakeEvents() Events {
	return Events{
		CalibrationStarted: m.calStarted.Swap(false),
		CalibrationAborted: m.calAborted.Swap(false),
		UpdateToggled:      m.updateToggled.Swap(false),
	}
}
