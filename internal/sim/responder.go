// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Options tunes the simulated radio
type Options struct {
	Latency  time.Duration // delay before completion and reply
	NackRate float64       // probability the radio reports a failed send
	DropRate float64       // probability the Controller never answers
	Seed     int64
}

// Responder is a link.Transmitter that answers through the Controller model
type Responder struct {
	ctrl    *Controller
	opts    Options
	logger  *zap.SugaredLogger
	handler link.Handler

	mu  sync.Mutex
	rng *rand.Rand

	// OnApply, when set, sees every delivered command and the Controller's
	// report, dropped or not
	OnApply func(cmd, report nowlink.Frame)
}

// NewResponder creates a simulated radio in front of ctrl
func NewResponder(ctrl *Controller, opts Options, logger *zap.SugaredLogger) *Responder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Responder{
		ctrl:   ctrl,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Attach sets the callback target
func (r *Responder) Attach(h link.Handler) {
	r.handler = h
}

func (r *Responder) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < p
}

// Transmit delivers f to the Controller model asynchronously
func (r *Responder) Transmit(f nowlink.Frame) error {
	nack := r.roll(r.opts.NackRate)
	drop := r.roll(r.opts.DropRate)

	go func() {
		if r.opts.Latency > 0 {
			time.Sleep(r.opts.Latency)
		}
		if nack {
			r.logger.Debugw("sim: send failed", "frame", f.String())
			r.handler.OnSent(false)
			return
		}
		r.handler.OnSent(true)
		reply := r.ctrl.Apply(f)
		if r.OnApply != nil {
			r.OnApply(f, reply)
		}
		if drop {
			r.logger.Debugw("sim: reply dropped", "frame", f.String())
			return
		}
		r.handler.OnReceive(reply)
	}()
	return nil
}
