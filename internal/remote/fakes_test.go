// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/internal/store"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// fakeClock advances only when told to, or when the remote sleeps
type fakeClock struct {
	mu  sync.Mutex
	now time.Time

	// onSleep runs after each Sleep, standing in for interrupts that fire
	// while the main loop is blocked
	onSleep func(d time.Duration)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.Advance(d)
	if c.onSleep != nil {
		c.onSleep(d)
	}
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeLink answers synchronously. respond decides the Controller's report;
// ok=false means the report never arrives.
type fakeLink struct {
	sensor  uint16
	nack    bool
	pending bool
	sends   []nowlink.Frame
	respond func(cmd uint8, value uint16, sensor uint16) (uint16, bool)
}

func (l *fakeLink) Send(_ context.Context, cmd uint8, value uint16) link.DeliveryOutcome {
	l.sends = append(l.sends, nowlink.Frame{Command: cmd, Sensor: value})
	l.pending = false
	if l.nack {
		return link.DeliveryFailure
	}

	respond := l.respond
	if respond == nil {
		respond = stepResponder(100)
	}
	if v, ok := respond(cmd, value, l.sensor); ok {
		l.sensor = v
		l.pending = true
	}
	return link.DeliverySuccess
}

func (l *fakeLink) AwaitResponse(context.Context, time.Duration) link.ResponseOutcome {
	if l.pending {
		l.pending = false
		return link.Received
	}
	return link.TimedOut
}

func (l *fakeLink) Sensor() uint16 {
	return l.sensor
}

func (l *fakeLink) sent(cmd uint8) []nowlink.Frame {
	var out []nowlink.Frame
	for _, f := range l.sends {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

// stepResponder models a Controller that moves by step on Up/Down
func stepResponder(step uint16) func(uint8, uint16, uint16) (uint16, bool) {
	return func(cmd uint8, value, sensor uint16) (uint16, bool) {
		switch cmd {
		case nowlink.CmdUp:
			return sensor + step, true
		case nowlink.CmdDown:
			return sensor - step, true
		case nowlink.CmdGoTo:
			return value, true
		default:
			return sensor, true
		}
	}
}

type fakeDisplay struct {
	screens []Screen
}

func (d *fakeDisplay) Render(s Screen) {
	d.screens = append(d.screens, s)
}

func (d *fakeDisplay) last() Screen {
	if len(d.screens) == 0 {
		return Screen{}
	}
	return d.screens[len(d.screens)-1]
}

func (d *fakeDisplay) shown(status string) bool {
	for _, s := range d.screens {
		if s.Status == status {
			return true
		}
	}
	return false
}

type fakeButtons struct {
	up, down bool
}

func (b *fakeButtons) Pressed() (bool, bool) {
	return b.up, b.down
}

func (b *fakeButtons) set(up, down bool) {
	b.up, b.down = up, down
}

type memStorage struct {
	flag  *bool
	table *caltable.Table

	loadErr      error
	saveTableErr error

	flagSaves  []bool
	tableSaves int
}

func (s *memStorage) LoadUpdateFlag() (bool, error) {
	if s.loadErr != nil {
		return false, s.loadErr
	}
	if s.flag == nil {
		return false, store.ErrNotFound
	}
	return *s.flag, nil
}

func (s *memStorage) SaveUpdateFlag(on bool) error {
	s.flag = &on
	s.flagSaves = append(s.flagSaves, on)
	return nil
}

func (s *memStorage) LoadTable() (caltable.Table, error) {
	if s.loadErr != nil {
		return caltable.Table{}, s.loadErr
	}
	if s.table == nil {
		return caltable.Table{}, store.ErrNotFound
	}
	return *s.table, nil
}

func (s *memStorage) SaveTable(t caltable.Table) error {
	if s.saveTableErr != nil {
		return s.saveTableErr
	}
	s.table = &t
	s.tableSaves++
	return nil
}

type fakeSleeper struct {
	calls int
}

func (s *fakeSleeper) DeepSleep(context.Context) error {
	s.calls++
	return nil
}

type fakeUpdate struct {
	starts, stops int
	running       bool
}

func (u *fakeUpdate) Start(context.Context) error {
	u.starts++
	u.running = true
	return nil
}

func (u *fakeUpdate) Stop(context.Context) error {
	u.stops++
	u.running = false
	return nil
}
