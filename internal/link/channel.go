// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link turns the asynchronous radio transport into a blocking
// request/response primitive with a single outstanding request.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// Default timeouts
const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultDeliveryTimeout = 1 * time.Second
)

var (
	// ErrBusy is returned when a request is issued while another is in flight
	ErrBusy = errors.New("request already in flight")
	// ErrDeliveryFailed means the radio did not acknowledge the frame
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrTimeout means no report arrived before the deadline
	ErrTimeout = errors.New("response timeout")
)

// DeliveryOutcome is the result of Send
type DeliveryOutcome int

const (
	DeliverySuccess DeliveryOutcome = iota
	DeliveryFailure
)

func (o DeliveryOutcome) String() string {
	if o == DeliverySuccess {
		return "Success"
	}
	return "Failure"
}

// ResponseOutcome is the result of AwaitResponse
type ResponseOutcome int

const (
	Received ResponseOutcome = iota
	TimedOut
)

func (o ResponseOutcome) String() string {
	if o == Received {
		return "Received"
	}
	return "TimedOut"
}

// State is the correlation state of the pending request
type State int32

const (
	StateIdle State = iota
	StateAwaitingDelivery
	StateAwaitingResponse
	StateFulfilled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingDelivery:
		return "AwaitingDelivery"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateFulfilled:
		return "Fulfilled"
	case StateTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Transmitter hands a frame to the radio. It must not block on delivery;
// the send-completion result comes back through Handler.OnSent.
type Transmitter interface {
	Transmit(f nowlink.Frame) error
}

// Handler receives the transport's completion and receive callbacks.
// Implementations must only touch flags; callbacks may run on any goroutine.
type Handler interface {
	OnSent(ok bool)
	OnReceive(f nowlink.Frame)
}

// Options configures a Channel
type Options struct {
	ResponseTimeout time.Duration
	DeliveryTimeout time.Duration
	Metrics         *Metrics
}

// Channel is the Command/Response channel to the Controller
type Channel struct {
	tx      Transmitter
	logger  *zap.SugaredLogger
	metrics *Metrics

	responseTimeout time.Duration
	deliveryTimeout time.Duration

	busy  atomic.Bool
	state atomic.Int32

	// Written by transport callbacks, consumed by the main loop
	delivered  atomic.Bool
	deliveryOK atomic.Bool
	newData    atomic.Bool
	sensor     atomic.Uint32

	sentCh chan struct{}
	recvCh chan struct{}

	sentAt time.Time
}

// NewChannel creates a channel over tx
func NewChannel(tx Transmitter, opts Options, logger *zap.SugaredLogger) *Channel {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Channel{
		tx:              tx,
		logger:          logger,
		metrics:         opts.Metrics,
		responseTimeout: opts.ResponseTimeout,
		deliveryTimeout: opts.DeliveryTimeout,
		sentCh:          make(chan struct{}, 1),
		recvCh:          make(chan struct{}, 1),
	}
}

// OnSent records the radio send-completion result
func (c *Channel) OnSent(ok bool) {
	c.deliveryOK.Store(ok)
	c.delivered.Store(true)
	notify(c.sentCh)
}

// OnReceive shadow-copies the Controller's report and raises the new-data flag
func (c *Channel) OnReceive(f nowlink.Frame) {
	c.sensor.Store(uint32(f.Sensor))
	c.newData.Store(true)
	notify(c.recvCh)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// Sensor returns the last sensor position reported by the Controller
func (c *Channel) Sensor() uint16 {
	return uint16(c.sensor.Load())
}

// State returns the correlation state of the most recent request
func (c *Channel) State() State {
	return State(c.state.Load())
}

// ResponseTimeout returns the configured default response timeout
func (c *Channel) ResponseTimeout() time.Duration {
	return c.responseTimeout
}

// Send transmits a frame and waits for the radio's send-completion result.
// Stale delivery and receive flags are cleared first so that a report
// arriving for an earlier request is never taken as this one's answer.
// Failures are logged and never retried.
func (c *Channel) Send(ctx context.Context, cmd uint8, value uint16) DeliveryOutcome {
	if !c.busy.CompareAndSwap(false, true) {
		c.logger.Warnw("send rejected", "command", nowlink.CommandName(cmd), "error", ErrBusy)
		return DeliveryFailure
	}
	defer c.busy.Store(false)

	c.delivered.Store(false)
	c.newData.Store(false)
	drain(c.sentCh)
	drain(c.recvCh)

	f := nowlink.Frame{Command: cmd, Sensor: value}
	c.state.Store(int32(StateAwaitingDelivery))
	c.metrics.request(cmd)
	c.sentAt = time.Now()

	if err := c.tx.Transmit(f); err != nil {
		c.logger.Errorw("transmit failed", "frame", f.String(), "error", err)
		return c.deliveryFailed()
	}

	timer := time.NewTimer(c.deliveryTimeout)
	defer timer.Stop()

	for !c.delivered.Load() {
		select {
		case <-c.sentCh:
		case <-timer.C:
			c.logger.Warnw("no send-completion notification", "frame", f.String(), "timeout", c.deliveryTimeout)
			return c.deliveryFailed()
		case <-ctx.Done():
			return c.deliveryFailed()
		}
	}

	if !c.deliveryOK.Load() {
		c.logger.Warnw("delivery failed", "frame", f.String())
		return c.deliveryFailed()
	}

	c.logger.Debugw("delivered", "frame", f.String())
	c.state.Store(int32(StateAwaitingResponse))
	return DeliverySuccess
}

func (c *Channel) deliveryFailed() DeliveryOutcome {
	c.state.Store(int32(StateIdle))
	c.metrics.deliveryFailure()
	return DeliveryFailure
}

// AwaitResponse blocks until a report arrives or timeout elapses. A
// non-positive timeout selects the configured default. The new-data flag is
// cleared as it is consumed. On TimedOut the shadow sensor value is left as
// it was.
//
// There is no user-initiated cancel; ctx only ends the wait on shutdown,
// which reports TimedOut.
func (c *Channel) AwaitResponse(ctx context.Context, timeout time.Duration) ResponseOutcome {
	if timeout <= 0 {
		timeout = c.responseTimeout
	}
	deadline := time.Now().Add(timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if c.newData.CompareAndSwap(true, false) {
			c.state.Store(int32(StateFulfilled))
			if !c.sentAt.IsZero() {
				c.metrics.observe(time.Since(c.sentAt))
			}
			return Received
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.timedOut(timeout)
		}

		select {
		case <-c.recvCh:
		case <-timer.C:
			timer.Reset(time.Until(deadline))
		case <-ctx.Done():
			return c.timedOut(timeout)
		}
	}
}

func (c *Channel) timedOut(timeout time.Duration) ResponseOutcome {
	c.state.Store(int32(StateTimedOut))
	c.metrics.timeout()
	c.logger.Warnw("no response from controller", "timeout", timeout)
	return TimedOut
}

// Request sends a command and waits for the Controller's report.
// Returns the reported sensor position.
func (c *Channel) Request(ctx context.Context, cmd uint8, value uint16, timeout time.Duration) (uint16, error) {
	if c.Send(ctx, cmd, value) != DeliverySuccess {
		return 0, fmt.Errorf("%s: %w", nowlink.CommandName(cmd), ErrDeliveryFailed)
	}
	if c.AwaitResponse(ctx, timeout) != Received {
		return 0, fmt.Errorf("%s: %w", nowlink.CommandName(cmd), ErrTimeout)
	}
	return c.Sensor(), nil
}
