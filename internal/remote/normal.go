// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"time"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// normalOps is the Normal-mode flow target and demand latch
type normalOps struct {
	target     float64
	displayed  float64
	firstDraw  bool
	demand     bool
	lastAdjust time.Time
	lastTick   time.Time
}

func (r *Remote) renderFlow() {
	s := Screen{Flow: r.normal.target}
	if !r.haveReading {
		s.Status = "No Flow Data"
	}
	r.render(s)
	r.normal.displayed = r.normal.target
	r.normal.firstDraw = false
}

// normalTick samples the buttons once per TickInterval, adjusts the target
// and sends a GoTo once the operator has stopped dialing.
func (r *Remote) normalTick(ctx context.Context, now time.Time) {
	n := &r.normal
	r.idle.permit()

	if !n.lastTick.IsZero() && now.Sub(n.lastTick) < r.cfg.TickInterval {
		return
	}
	n.lastTick = now

	up, down := r.deps.Buttons.Pressed()
	if up != down {
		step := caltable.FlowStep
		if down {
			step = -step
		}
		n.target = caltable.ClampFlow(n.target + step)
		n.demand = true
		n.lastAdjust = now
		r.idle.touch(now)
	}

	if n.firstDraw || n.displayed != n.target {
		r.renderFlow()
	}

	if up || down || !n.demand || now.Sub(n.lastAdjust) < r.cfg.DemandSettle {
		return
	}
	n.demand = false

	setPoint := r.Table().SetPoint(n.target)
	r.idle.touch(now)
	r.logger.Infow("sending set point", "flow", n.target, "sensor", setPoint)

	if r.deps.Link.Send(ctx, nowlink.CmdGoTo, setPoint) != link.DeliverySuccess {
		// Display keeps the requested target until the next interaction
		return
	}

	r.showStatus("waiting...")
	r.idle.forbid()
	if r.deps.Link.AwaitResponse(ctx, r.cfg.ResponseTimeout) == link.Received {
		r.haveReading = true
	}
	r.idle.permit()

	// On timeout the shadow holds the previous report; the display follows it
	n.target = r.Table().Lookup(r.deps.Link.Sensor())
	n.firstDraw = true
	r.idle.touch(r.deps.Clock.Now())
	r.logger.Infow("controller reported", "sensor", r.deps.Link.Sensor(), "flow", n.target)
}
