// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim emulates the Controller and the radio bridge so the remote
// can run without hardware.
package sim

import (
	"sync"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Controller defaults
const (
	DefaultInitial = 1400
	DefaultStep    = 50
)

// Controller models the flow-control device: a position sensor that moves
// by a fixed step on Up/Down and jumps on GoTo.
type Controller struct {
	mu     sync.Mutex
	sensor uint16
	step   uint16
}

// NewController creates a controller at initial with the given step
func NewController(initial, step uint16) *Controller {
	if step == 0 {
		step = DefaultStep
	}
	return &Controller{sensor: initial, step: step}
}

// Sensor returns the current position
func (c *Controller) Sensor() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensor
}

// SetSensor moves the controller directly (tests, hard-stop simulation)
func (c *Controller) SetSensor(v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sensor = clampSensor(int(v))
}

// Apply executes a command and returns the status frame the Controller sends back
func (c *Controller) Apply(f nowlink.Frame) nowlink.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Command {
	case nowlink.CmdUp:
		c.sensor = clampSensor(int(c.sensor) + int(c.step))
	case nowlink.CmdDown:
		c.sensor = clampSensor(int(c.sensor) - int(c.step))
	case nowlink.CmdGoTo:
		c.sensor = clampSensor(int(f.Sensor))
	case nowlink.CmdStatus:
	}
	return nowlink.Frame{Command: nowlink.CmdStatus, Sensor: c.sensor}
}

func clampSensor(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > nowlink.MaxSensor {
		return nowlink.MaxSensor
	}
	return uint16(v)
}
