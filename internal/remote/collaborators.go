// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"time"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/internal/mode"
)

// Screen is everything the display needs to draw one frame.
// Layout is entirely the display's business.
type Screen struct {
	Mode    mode.Mode
	Flow    float64 // L/min
	Battery float64 // charge fraction 0..1, negative when unknown
	Page    int     // calibration wizard page, 0 outside Calibration
	Sensor  uint16  // last sensor reading shown on calibration pages
	Status  string  // free-form text; replaces the flow readout when set
}

// Display renders screens
type Display interface {
	Render(s Screen)
}

// Buttons samples the two adjustment buttons. Level-sensed once per tick.
type Buttons interface {
	Pressed() (up, down bool)
}

// Storage persists the update flag and the calibration table.
// Missing records are reported with store.ErrNotFound.
type Storage interface {
	LoadUpdateFlag() (bool, error)
	SaveUpdateFlag(on bool) error
	LoadTable() (caltable.Table, error)
	SaveTable(t caltable.Table) error
}

// Sleeper enters low-power sleep and returns once either adjustment button
// wakes the device.
type Sleeper interface {
	DeepSleep(ctx context.Context) error
}

// Battery reports the charge fraction 0..1
type Battery interface {
	Charge() float64
}

// UpdateListener is the update-transport endpoint started in Update mode
type UpdateListener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Link is the Command/Response channel to the Controller.
// *link.Channel implements it.
type Link interface {
	Send(ctx context.Context, cmd uint8, value uint16) link.DeliveryOutcome
	AwaitResponse(ctx context.Context, timeout time.Duration) link.ResponseOutcome
	Sensor() uint16
}

// Clock abstracts time for the scheduler
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep pauses for d or until ctx ends
func (SystemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
