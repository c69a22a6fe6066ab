// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// fakeRadio answers frames through the channel's callbacks
type fakeRadio struct {
	mu       sync.Mutex
	ch       *Channel
	sent     []nowlink.Frame
	ack      bool
	silent   bool // never report send completion
	reply    bool
	sensor   uint16
	txErr    error
	block    chan struct{}
	entered  chan struct{}
	replyLag time.Duration
}

func (r *fakeRadio) Transmit(f nowlink.Frame) error {
	r.mu.Lock()
	r.sent = append(r.sent, f)
	r.mu.Unlock()

	if r.entered != nil {
		close(r.entered)
	}
	if r.block != nil {
		<-r.block
	}
	if r.txErr != nil {
		return r.txErr
	}
	go func() {
		if !r.silent {
			r.ch.OnSent(r.ack)
		}
		if r.reply {
			time.Sleep(r.replyLag)
			r.ch.OnReceive(nowlink.Frame{Command: f.Command, Sensor: r.sensor})
		}
	}()
	return nil
}

func newTestChannel(t *testing.T, r *fakeRadio, opts Options) *Channel {
	t.Helper()
	c := NewChannel(r, opts, zaptest.NewLogger(t).Sugar())
	r.ch = c
	return c
}

func TestRequest_Success(t *testing.T) {
	r := &fakeRadio{ack: true, reply: true, sensor: 1400}
	c := newTestChannel(t, r, Options{})

	got, err := c.Request(context.Background(), nowlink.CmdGoTo, 1400, time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got != 1400 {
		t.Errorf("Request() = %d, want 1400", got)
	}
	if c.State() != StateFulfilled {
		t.Errorf("State() = %v, want Fulfilled", c.State())
	}
	if len(r.sent) != 1 || r.sent[0] != (nowlink.Frame{Command: nowlink.CmdGoTo, Sensor: 1400}) {
		t.Errorf("sent = %v", r.sent)
	}
}

func TestAwaitResponse_TimeoutLeavesSensor(t *testing.T) {
	r := &fakeRadio{ack: true}
	c := newTestChannel(t, r, Options{})
	c.OnReceive(nowlink.Frame{Command: nowlink.CmdStatus, Sensor: 999})
	c.newData.Store(false)

	if out := c.Send(context.Background(), nowlink.CmdStatus, 0); out != DeliverySuccess {
		t.Fatalf("Send() = %v, want Success", out)
	}
	if c.State() != StateAwaitingResponse {
		t.Errorf("State() = %v, want AwaitingResponse", c.State())
	}

	start := time.Now()
	if out := c.AwaitResponse(context.Background(), 50*time.Millisecond); out != TimedOut {
		t.Fatalf("AwaitResponse() = %v, want TimedOut", out)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("AwaitResponse() returned after %v, before the timeout", elapsed)
	}
	if c.Sensor() != 999 {
		t.Errorf("Sensor() = %d, want 999 (unchanged)", c.Sensor())
	}
	if c.State() != StateTimedOut {
		t.Errorf("State() = %v, want TimedOut", c.State())
	}
}

func TestAwaitResponse_LateReply(t *testing.T) {
	r := &fakeRadio{ack: true, reply: true, sensor: 2100, replyLag: 30 * time.Millisecond}
	c := newTestChannel(t, r, Options{})

	if out := c.Send(context.Background(), nowlink.CmdUp, 0); out != DeliverySuccess {
		t.Fatalf("Send() = %v", out)
	}
	if out := c.AwaitResponse(context.Background(), time.Second); out != Received {
		t.Fatalf("AwaitResponse() = %v, want Received", out)
	}
	if c.Sensor() != 2100 {
		t.Errorf("Sensor() = %d, want 2100", c.Sensor())
	}
	// Flag consumed: a second wait with no new report times out
	if out := c.AwaitResponse(context.Background(), 20*time.Millisecond); out != TimedOut {
		t.Errorf("second AwaitResponse() = %v, want TimedOut", out)
	}
}

func TestAwaitResponse_DefaultTimeout(t *testing.T) {
	c := NewChannel(&fakeRadio{}, Options{}, zaptest.NewLogger(t).Sugar())
	if c.ResponseTimeout() != 30*time.Second {
		t.Errorf("ResponseTimeout() = %v, want 30s", c.ResponseTimeout())
	}
}

func TestAwaitResponse_ContextEndsWait(t *testing.T) {
	c := NewChannel(&fakeRadio{}, Options{}, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if out := c.AwaitResponse(ctx, time.Hour); out != TimedOut {
		t.Errorf("AwaitResponse() = %v, want TimedOut", out)
	}
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name  string
		radio *fakeRadio
	}{
		{"radio nack", &fakeRadio{ack: false}},
		{"no completion", &fakeRadio{silent: true}},
		{"transmit error", &fakeRadio{txErr: errors.New("port gone")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			c := newTestChannel(t, tt.radio, Options{DeliveryTimeout: 20 * time.Millisecond, Metrics: m})

			if out := c.Send(context.Background(), nowlink.CmdGoTo, 1000); out != DeliveryFailure {
				t.Errorf("Send() = %v, want Failure", out)
			}
			if c.State() != StateIdle {
				t.Errorf("State() = %v, want Idle", c.State())
			}
			if got := testutil.ToFloat64(m.deliveryFailures); got != 1 {
				t.Errorf("delivery_failures_total = %v, want 1", got)
			}
			// No retry
			if len(tt.radio.sent) != 1 {
				t.Errorf("transmitted %d frames, want 1", len(tt.radio.sent))
			}
		})
	}
}

func TestRequest_ErrorKinds(t *testing.T) {
	c := newTestChannel(t, &fakeRadio{ack: false}, Options{})
	if _, err := c.Request(context.Background(), nowlink.CmdStatus, 0, time.Second); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Request() error = %v, want ErrDeliveryFailed", err)
	}

	c = newTestChannel(t, &fakeRadio{ack: true}, Options{})
	if _, err := c.Request(context.Background(), nowlink.CmdStatus, 0, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Request() error = %v, want ErrTimeout", err)
	}
}

func TestSend_ClearsStaleReport(t *testing.T) {
	r := &fakeRadio{ack: true}
	c := newTestChannel(t, r, Options{})

	// Unsolicited report before the request
	c.OnReceive(nowlink.Frame{Command: nowlink.CmdStatus, Sensor: 1234})

	if out := c.Send(context.Background(), nowlink.CmdStatus, 0); out != DeliverySuccess {
		t.Fatalf("Send() = %v", out)
	}
	if out := c.AwaitResponse(context.Background(), 20*time.Millisecond); out != TimedOut {
		t.Errorf("AwaitResponse() = %v, want TimedOut (stale report must not count)", out)
	}
}

func TestSend_Busy(t *testing.T) {
	r := &fakeRadio{ack: true, block: make(chan struct{}), entered: make(chan struct{})}
	c := newTestChannel(t, r, Options{})

	done := make(chan DeliveryOutcome, 1)
	go func() {
		done <- c.Send(context.Background(), nowlink.CmdUp, 0)
	}()
	<-r.entered

	if out := c.Send(context.Background(), nowlink.CmdDown, 0); out != DeliveryFailure {
		t.Errorf("concurrent Send() = %v, want Failure", out)
	}

	close(r.block)
	if out := <-done; out != DeliverySuccess {
		t.Errorf("first Send() = %v, want Success", out)
	}
}

func TestMetrics_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestChannel(t, &fakeRadio{ack: true, reply: true, sensor: 900}, Options{Metrics: m})

	for i := 0; i < 3; i++ {
		if _, err := c.Request(context.Background(), nowlink.CmdUp, 0, time.Second); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("UP")); got != 3 {
		t.Errorf("requests_total{command=UP} = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Errorf("latency collectors = %d, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.request(nowlink.CmdUp)
	m.deliveryFailure()
	m.timeout()
	m.observe(time.Second)
}

func TestStateString(t *testing.T) {
	if StateAwaitingDelivery.String() != "AwaitingDelivery" {
		t.Errorf("String() = %q", StateAwaitingDelivery.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("String() = %q", State(42).String())
	}
}
