// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package remote is the flow remote's main loop: boot, the per-tick
// dispatch between Normal and Calibration logic, sleep gating and the
// restart lifecycle.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/internal/mode"
	"github.com/Thermoquad/flowremote/internal/store"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// ErrStorageUnavailable halts boot when persisted state cannot be read
var ErrStorageUnavailable = errors.New("storage unavailable")

// Config holds the scheduler's timing and calibration limits
type Config struct {
	TickInterval    time.Duration // normal-mode button sampling period
	PollInterval    time.Duration // main loop period
	DemandSettle    time.Duration // quiet time before a GoTo is sent
	EnterDelay      time.Duration // wizard enter and sample guard
	IdleTimeout     time.Duration // inactivity before deep sleep
	ResultHold      time.Duration // commit/abort page display time
	SampleSettle    time.Duration // pause after a recorded sample
	WakeDelay       time.Duration // boot splash time before the status request
	ResponseTimeout time.Duration // 0 uses the link default

	SensorMin uint16
	SensorMax uint16

	AbortPolicy mode.AbortPolicy
}

// DefaultConfig returns the remote's stock timings
func DefaultConfig() Config {
	return Config{
		TickInterval:    1000 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		DemandSettle:    1000 * time.Millisecond,
		EnterDelay:      1000 * time.Millisecond,
		IdleTimeout:     15000 * time.Millisecond,
		ResultHold:      5000 * time.Millisecond,
		SampleSettle:    250 * time.Millisecond,
		WakeDelay:       1000 * time.Millisecond,
		ResponseTimeout: link.DefaultResponseTimeout,
		SensorMin:       500,
		SensorMax:       3500,
		AbortPolicy:     mode.AbortRestart,
	}
}

// Deps are the remote's collaborators. Battery and Update may be nil.
type Deps struct {
	Link    Link
	Mode    *mode.Machine
	Display Display
	Buttons Buttons
	Storage Storage
	Sleeper Sleeper
	Battery Battery
	Update  UpdateListener
	Clock   Clock
}

// Status is a point-in-time view of the remote for diagnostics
type Status struct {
	Mode           string  `json:"mode"`
	Flow           float64 `json:"flow"`
	Sensor         uint16  `json:"sensor"`
	Page           int     `json:"page,omitempty"`
	SleepPermitted bool    `json:"sleep_permitted"`
	Restarts       int     `json:"restarts"`
	Battery        float64 `json:"battery"`
}

// Remote is the flow remote
type Remote struct {
	cfg    Config
	deps   Deps
	logger *zap.SugaredLogger

	table  caltable.Table
	normal normalOps
	cal    *calSession
	idle   idleTimer

	updateRunning bool
	haveReading   bool
	restarts      int

	mu     sync.Mutex
	status Status
}

// New creates a remote. Call Boot (or Run) before Tick.
func New(cfg Config, deps Deps, logger *zap.SugaredLogger) *Remote {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Mode == nil {
		deps.Mode = mode.New(mode.Normal, 0, deps.Clock.Now)
	}
	return &Remote{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		table:  caltable.Default(),
		idle:   idleTimer{timeout: cfg.IdleTimeout},
	}
}

// Table returns the active calibration table
func (r *Remote) Table() caltable.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table
}

// Snapshot returns the latest published status. Safe from any goroutine.
func (r *Remote) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Remote) publish() {
	s := Status{
		Mode:           r.deps.Mode.Mode().String(),
		Flow:           r.normal.target,
		Sensor:         r.deps.Link.Sensor(),
		SleepPermitted: r.idle.permitted,
		Restarts:       r.restarts,
		Battery:        r.battery(),
	}
	if r.cal != nil {
		s.Page = r.cal.page
	}
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Remote) battery() float64 {
	if r.deps.Battery == nil {
		return -1
	}
	return r.deps.Battery.Charge()
}

func (r *Remote) render(s Screen) {
	s.Mode = r.deps.Mode.Mode()
	s.Battery = r.battery()
	r.deps.Display.Render(s)
}

func (r *Remote) showStatus(text string) {
	r.render(Screen{Status: text})
}

// Boot loads persisted state and brings the remote up in the stored mode.
// Absent records are first-run defaults and are written back. Any other
// storage error halts boot with ErrStorageUnavailable.
func (r *Remote) Boot(ctx context.Context) error {
	now := r.deps.Clock.Now()

	updateMode, err := r.deps.Storage.LoadUpdateFlag()
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.logger.Infow("no update flag stored, writing default")
		updateMode = false
		if err := r.deps.Storage.SaveUpdateFlag(false); err != nil {
			r.logger.Warnw("failed to write update flag", "error", err)
		}
	case err != nil:
		return r.storageFailed(err)
	}

	table, err := r.deps.Storage.LoadTable()
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.logger.Infow("no calibration stored, writing default ramp")
		table = caltable.Default()
		if err := r.deps.Storage.SaveTable(table); err != nil {
			r.logger.Warnw("failed to write default calibration", "error", err)
		}
	case err != nil:
		return r.storageFailed(err)
	}
	if !table.Monotonic() {
		r.logger.Warnw("calibration table is not monotonic", "table", table[:])
	}

	r.mu.Lock()
	r.table = table
	r.mu.Unlock()

	r.normal = normalOps{firstDraw: true}
	r.cal = nil
	r.haveReading = false
	r.idle.touch(now)
	r.idle.forbid()
	r.deps.Mode.TakeEvents()

	if updateMode {
		r.deps.Mode.Set(mode.Update)
		r.startUpdate(ctx)
		r.publish()
		return nil
	}

	r.deps.Mode.Set(mode.Normal)
	r.showStatus("Waking... Normal Mode")
	r.deps.Clock.Sleep(ctx, r.cfg.WakeDelay)

	if r.deps.Link.Send(ctx, nowlink.CmdStatus, 0) == link.DeliverySuccess {
		if r.deps.Link.AwaitResponse(ctx, r.cfg.ResponseTimeout) == link.Received {
			r.haveReading = true
		} else {
			r.logger.Warnw("timed out waiting for controller status")
		}
	}
	r.normal.target = r.table.Lookup(r.deps.Link.Sensor())
	r.normal.displayed = r.normal.target
	r.idle.touch(r.deps.Clock.Now())

	r.logger.Infow("booted", "mode", mode.Normal, "flow", r.normal.target, "sensor", r.deps.Link.Sensor())
	r.publish()
	return nil
}

func (r *Remote) storageFailed(err error) error {
	r.logger.Errorw("storage unavailable, boot halted", "error", err)
	r.showStatus("Storage error")
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (r *Remote) startUpdate(ctx context.Context) {
	r.showStatus("Update Mode")
	if r.deps.Update == nil {
		return
	}
	if err := r.deps.Update.Start(ctx); err != nil {
		r.logger.Errorw("update listener failed to start", "error", err)
		r.showStatus("Update listener failed")
		return
	}
	r.updateRunning = true
}

func (r *Remote) stopUpdate(ctx context.Context) {
	if !r.updateRunning {
		return
	}
	if err := r.deps.Update.Stop(ctx); err != nil {
		r.logger.Warnw("update listener stop failed", "error", err)
	}
	r.updateRunning = false
}

// Restart reinitializes the remote from persisted state, as after power-on
func (r *Remote) Restart(ctx context.Context, reason string) error {
	r.restarts++
	r.logger.Infow("restarting", "reason", reason, "count", r.restarts)
	r.stopUpdate(ctx)
	return r.Boot(ctx)
}

// Tick runs one pass of the main loop
func (r *Remote) Tick(ctx context.Context) error {
	now := r.deps.Clock.Now()
	defer r.publish()

	ev := r.deps.Mode.TakeEvents()
	if ev.UpdateToggled {
		on := r.deps.Mode.Mode() == mode.Update
		if err := r.deps.Storage.SaveUpdateFlag(on); err != nil {
			r.logger.Errorw("failed to persist update flag", "error", err)
		}
		return r.Restart(ctx, "update mode toggled")
	}
	if ev.CalibrationStarted {
		r.idle.touch(now)
		r.cal = newCalSession()
		r.logger.Infow("calibration started")
	}
	if ev.CalibrationAborted {
		r.idle.touch(now)
		r.cal = nil
		r.logger.Infow("calibration aborted by operator", "policy", r.cfg.AbortPolicy)
		if r.cfg.AbortPolicy == mode.AbortRestart {
			return r.Restart(ctx, "calibration aborted")
		}
		r.normal.firstDraw = true
	}

	switch r.deps.Mode.Mode() {
	case mode.Normal:
		r.normalTick(ctx, now)
		if r.idle.shouldSleep(r.deps.Clock.Now()) {
			return r.sleep(ctx)
		}
	case mode.Calibration:
		if r.cal == nil {
			r.cal = newCalSession()
		}
		return r.calTick(ctx, now)
	case mode.Update:
		// The update listener serves requests on its own
	}
	return nil
}

func (r *Remote) sleep(ctx context.Context) error {
	r.logger.Infow("idle, entering deep sleep", "idle", r.cfg.IdleTimeout)
	r.showStatus("Sleeping")
	if err := r.deps.Sleeper.DeepSleep(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.Restart(ctx, "woke from sleep")
}

// Run boots the remote and drives Tick until ctx ends
func (r *Remote) Run(ctx context.Context) error {
	if err := r.Boot(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stopUpdate(context.Background())
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					r.stopUpdate(context.Background())
					return nil
				}
				return err
			}
		}
	}
}
