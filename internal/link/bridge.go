// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// BroadcastPeer accepts frames from any radio peer
var BroadcastPeer = nowlink.MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Bridge drives a radio bridge dongle over a byte stream (serial or WebSocket).
// It implements Transmitter and forwards the dongle's completion and receive
// notifications to a Handler.
type Bridge struct {
	conn    io.ReadWriter
	peer    nowlink.MAC
	logger  *zap.SugaredLogger
	handler Handler

	writeMu sync.Mutex

	statsMu sync.Mutex
	stats   *nowlink.Statistics

	pings chan uint64

	// OnPacket, when set, is called for every decoded packet (raw logging)
	OnPacket func(*nowlink.Packet)
}

// NewBridge creates a bridge talking to peer over conn
func NewBridge(conn io.ReadWriter, peer nowlink.MAC, logger *zap.SugaredLogger) *Bridge {
	return &Bridge{
		conn:   conn,
		peer:   peer,
		logger: logger,
		stats:  nowlink.NewStatistics(),
		pings:  make(chan uint64, 1),
	}
}

// Attach sets the callback target. Must be called before Run.
func (b *Bridge) Attach(h Handler) {
	b.handler = h
}

// Peer returns the Controller's radio address
func (b *Bridge) Peer() nowlink.MAC {
	return b.peer
}

func (b *Bridge) write(p *nowlink.Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.conn.Write(data); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

// Transmit sends a radio frame to the Controller
func (b *Bridge) Transmit(f nowlink.Frame) error {
	return b.write(nowlink.NewSendFrame(b.peer, f))
}

// AddPeer registers the Controller with the dongle's radio
func (b *Bridge) AddPeer(channel uint8) error {
	return b.write(nowlink.NewAddPeer(b.peer, channel))
}

// Ping asks the dongle for its uptime. Run must be active.
func (b *Bridge) Ping(ctx context.Context, timeout time.Duration) (uint64, time.Duration, error) {
	select {
	case <-b.pings:
	default:
	}

	start := time.Now()
	if err := b.write(nowlink.NewPingRequest(b.peer)); err != nil {
		return 0, 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case uptime := <-b.pings:
		return uptime, time.Since(start), nil
	case <-timer.C:
		return 0, 0, fmt.Errorf("ping: %w", ErrTimeout)
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Run reads and dispatches bridge packets until the stream fails or ctx ends.
// Closing the underlying connection is the caller's job; it unblocks Read.
func (b *Bridge) Run(ctx context.Context) error {
	decoder := nowlink.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := b.conn.Read(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			packet, err := decoder.DecodeByte(buf[i])
			if err != nil {
				b.logger.Debugw("bridge decode error", "error", err)
				b.record(nil, err, nil)
				continue
			}
			if packet != nil {
				b.dispatch(packet)
			}
		}
	}
}

func (b *Bridge) record(p *nowlink.Packet, decodeErr error, verrs []nowlink.ValidationError) {
	b.statsMu.Lock()
	b.stats.Update(p, decodeErr, verrs)
	b.statsMu.Unlock()
}

func (b *Bridge) dispatch(p *nowlink.Packet) {
	verrs := nowlink.ValidatePacket(p)
	b.record(p, nil, verrs)

	if b.OnPacket != nil {
		b.OnPacket(p)
	}

	switch p.Type() {
	case nowlink.MsgRecvFrame:
		if b.peer != BroadcastPeer && p.Peer() != b.peer {
			b.logger.Debugw("frame from unknown peer ignored", "peer", p.Peer().String())
			return
		}
		f, err := p.Frame()
		if err != nil || len(verrs) > 0 {
			b.logger.Warnw("malformed controller frame", "error", err, "anomalies", len(verrs))
			return
		}
		if b.handler != nil {
			b.handler.OnReceive(f)
		}

	case nowlink.MsgSendStatus:
		status, ok := p.SendStatus()
		if b.handler != nil {
			b.handler.OnSent(ok && status == nowlink.SendSuccess)
		}

	case nowlink.MsgPingResponse:
		uptime, _ := p.Uptime()
		select {
		case b.pings <- uptime:
		default:
		}

	case nowlink.MsgErrorInvalidCmd:
		cmd, _ := p.RejectedCommand()
		b.logger.Warnw("bridge rejected message", "type", nowlink.FormatMessageType(cmd))

	default:
		b.logger.Debugw("unhandled bridge packet", "type", nowlink.FormatMessageType(p.Type()))
	}
}

// Statistics returns a formatted summary of bridge traffic
func (b *Bridge) Statistics() string {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats.String()
}
