// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/flowremote/internal/remote"
)

// defaultHold is how long a key press counts as a held button. Terminal
// auto-repeat keeps extending it while the key is down.
const defaultHold = 1100 * time.Millisecond

// Messages
type screenMsg remote.Screen
type sleepMsg bool
type fatalMsg struct{ err error }
type logMsg struct {
	timestamp time.Time
	level     zapcore.Level
	message   string
}

// panel is the terminal front panel: it implements remote.Display,
// remote.Buttons and remote.Sleeper on top of a bubbletea program.
type panel struct {
	program *tea.Program
	hold    time.Duration

	upUntil   atomic.Int64
	downUntil atomic.Int64
	sleeping  atomic.Bool
	wake      chan struct{}

	logs chan logMsg
}

func newPanel(hold time.Duration) *panel {
	if hold <= 0 {
		hold = defaultHold
	}
	return &panel{
		hold: hold,
		wake: make(chan struct{}, 1),
		logs: make(chan logMsg, 256),
	}
}

func (p *panel) send(msg tea.Msg) {
	if p.program != nil {
		p.program.Send(msg)
	}
}

// Render implements remote.Display
func (p *panel) Render(s remote.Screen) {
	p.send(screenMsg(s))
}

// Pressed implements remote.Buttons
func (p *panel) Pressed() (bool, bool) {
	now := time.Now().UnixNano()
	return now < p.upUntil.Load(), now < p.downUntil.Load()
}

// press marks the buttons held for the hold window. While asleep the press
// only wakes the remote.
func (p *panel) press(up, down bool) {
	if p.sleeping.Load() {
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return
	}
	until := time.Now().Add(p.hold).UnixNano()
	if up {
		p.upUntil.Store(until)
	}
	if down {
		p.downUntil.Store(until)
	}
}

func (p *panel) release() {
	p.upUntil.Store(0)
	p.downUntil.Store(0)
}

// DeepSleep implements remote.Sleeper. It blocks until an adjustment key is
// pressed.
func (p *panel) DeepSleep(ctx context.Context) error {
	select {
	case <-p.wake:
	default:
	}
	p.release()
	p.sleeping.Store(true)
	p.send(sleepMsg(true))

	select {
	case <-p.wake:
	case <-ctx.Done():
	}

	p.sleeping.Store(false)
	p.release()
	p.send(sleepMsg(false))
	return nil
}

// logHook forwards log entries to the event log. Never blocks.
func (p *panel) logHook(e zapcore.Entry) error {
	select {
	case p.logs <- logMsg{timestamp: e.Time, level: e.Level, message: e.Message}:
	default:
	}
	return nil
}

func waitForLog(ch <-chan logMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}
