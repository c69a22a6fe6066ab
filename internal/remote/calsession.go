// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"time"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/internal/mode"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Calibration wizard pages
const (
	PageInstructions = 1
	PageFirstLevel   = 2 // 2.0 L/min
	PageLastLevel    = 10
	PageCommit       = 11
	PageAbort        = 12
)

// LevelForPage returns the integer flow sampled on a level page
func LevelForPage(page int) float64 {
	return float64(page-PageFirstLevel) + caltable.MinFlow
}

// calSession is one run of the calibration wizard
type calSession struct {
	page       int
	samples    caltable.SampleSet
	sensor     uint16
	enterArmed bool
	lastEnter  time.Time
	lastSample time.Time
	firstDraw  bool
}

func newCalSession() *calSession {
	return &calSession{
		page:       PageInstructions,
		enterArmed: true,
		firstDraw:  true,
	}
}

func (r *Remote) renderPage() {
	s := Screen{Page: r.cal.page, Sensor: r.cal.sensor}
	if r.cal.page >= PageFirstLevel && r.cal.page <= PageLastLevel {
		s.Flow = LevelForPage(r.cal.page)
	}
	r.render(s)
}

// calTick runs the wizard. Unlike Normal mode it is evaluated every poll.
func (r *Remote) calTick(ctx context.Context, now time.Time) error {
	s := r.cal
	r.idle.forbid()

	if s.firstDraw {
		r.renderPage()
		s.firstDraw = false
	}

	up, down := r.deps.Buttons.Pressed()
	if up && down {
		if s.enterArmed && now.Sub(s.lastEnter) >= r.cfg.EnterDelay {
			s.enterArmed = false
			s.lastEnter = now
			s.page++
			s.sensor = 0
			r.logger.Infow("calibration page", "page", s.page, "samples", s.samples[:])
			r.renderPage()
			if s.page == PageCommit {
				return r.commitCalibration(ctx)
			}
		}
		return nil
	}
	s.enterArmed = true

	if up == down || s.page < PageFirstLevel || s.page > PageLastLevel {
		return nil
	}
	if now.Sub(s.lastSample) < r.cfg.EnterDelay {
		return nil
	}

	cmd := uint8(nowlink.CmdUp)
	if down {
		cmd = nowlink.CmdDown
	}
	if r.deps.Link.Send(ctx, cmd, 0) != link.DeliverySuccess {
		return nil
	}
	if r.deps.Link.AwaitResponse(ctx, r.cfg.ResponseTimeout) != link.Received {
		// No fresh reading: nothing is recorded for this press
		s.lastSample = r.deps.Clock.Now()
		return nil
	}

	v := r.deps.Link.Sensor()
	if v < r.cfg.SensorMin || v > r.cfg.SensorMax {
		r.logger.Warnw("sensor outside calibration band", "sensor", v, "min", r.cfg.SensorMin, "max", r.cfg.SensorMax)
		s.page = PageAbort
		s.sensor = v
		r.renderPage()
		r.abortCalibration(ctx)
		return nil
	}

	s.samples[s.page-PageFirstLevel] = v
	s.sensor = v
	r.renderPage()
	r.deps.Clock.Sleep(ctx, r.cfg.SampleSettle)
	s.lastSample = r.deps.Clock.Now()
	return nil
}

// commitCalibration builds and persists the table, then restarts
func (r *Remote) commitCalibration(ctx context.Context) error {
	table := caltable.BuildFromSamples(r.cal.samples)
	if !table.Monotonic() {
		r.logger.Warnw("committed calibration is not monotonic", "table", table[:])
	}

	if err := r.deps.Storage.SaveTable(table); err != nil {
		r.logger.Errorw("failed to save calibration", "error", err)
		r.showStatus("Calibration save failed")
	} else {
		r.mu.Lock()
		r.table = table
		r.mu.Unlock()
		r.logger.Infow("calibration saved", "table", table[:])
	}

	r.deps.Clock.Sleep(ctx, r.cfg.ResultHold)
	r.finishCalibration()
	if r.deps.Mode.Mode() == mode.Update {
		// The restart discards pending events, so an update press made
		// during the hold has to reach storage first
		if err := r.deps.Storage.SaveUpdateFlag(true); err != nil {
			r.logger.Errorw("failed to persist update flag", "error", err)
		}
	}
	return r.Restart(ctx, "calibration committed")
}

// abortCalibration leaves the wizard after an out-of-band reading.
// The stored table is untouched.
func (r *Remote) abortCalibration(ctx context.Context) {
	r.deps.Clock.Sleep(ctx, r.cfg.ResultHold)
	r.finishCalibration()
	r.normal.firstDraw = true
}

// finishCalibration ends the session. A mode change accepted from a button
// during the result hold wins over the return to Normal.
func (r *Remote) finishCalibration() {
	if !r.deps.Mode.FinishCalibration() {
		r.logger.Infow("mode changed during result hold", "mode", r.deps.Mode.Mode())
	}
	r.cal = nil
	r.idle.touch(r.deps.Clock.Now())
}
