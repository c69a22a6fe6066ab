// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// reportRSSI is the signal strength attached to simulated reports
const reportRSSI = -55

// Dongle emulates the radio bridge on the far side of a serial or WebSocket
// stream. It speaks the bridge envelope and hands SEND_FRAME to a Responder,
// whose completion and reply come back to the host as SEND_STATUS and
// RECV_FRAME. Nack and drop rates therefore reach the host unchanged.
type Dongle struct {
	mac   nowlink.MAC
	opts  Options
	radio *Responder
	start time.Time

	decoder *nowlink.Decoder
	pr      *io.PipeReader
	pw      *io.PipeWriter

	mu    sync.Mutex
	peers map[nowlink.MAC]bool

	// OnFrame, when set, sees every command applied and the report sent back
	OnFrame func(cmd, report nowlink.Frame)
}

// NewDongle creates a bridge emulator for the Controller at mac
func NewDongle(ctrl *Controller, mac nowlink.MAC, opts Options, logger *zap.SugaredLogger) *Dongle {
	pr, pw := io.Pipe()
	d := &Dongle{
		mac:     mac,
		opts:    opts,
		start:   time.Now(),
		decoder: nowlink.NewDecoder(),
		pr:      pr,
		pw:      pw,
		peers:   make(map[nowlink.MAC]bool),
	}
	d.radio = NewResponder(ctrl, opts, logger)
	d.radio.Attach(d)
	d.radio.OnApply = func(cmd, report nowlink.Frame) {
		if d.OnFrame != nil {
			d.OnFrame(cmd, report)
		}
	}
	return d
}

// Read returns bytes the bridge sends to the host
func (d *Dongle) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

// Write accepts host bytes
func (d *Dongle) Write(p []byte) (int, error) {
	for _, b := range p {
		packet, err := d.decoder.DecodeByte(b)
		if err != nil || packet == nil {
			continue
		}
		d.handle(packet)
	}
	return len(p), nil
}

// Close ends the stream
func (d *Dongle) Close() error {
	return d.pw.Close()
}

// OnSent forwards the radio's send result to the host
func (d *Dongle) OnSent(ok bool) {
	status := nowlink.SendSuccess
	if !ok {
		status = nowlink.SendFail
	}
	d.send(nowlink.NewSendStatus(d.mac, status))
}

// OnReceive forwards a Controller report to the host
func (d *Dongle) OnReceive(f nowlink.Frame) {
	d.send(nowlink.NewRecvFrame(d.mac, f, reportRSSI))
}

func (d *Dongle) send(p *nowlink.Packet) {
	d.pw.Write(nowlink.MustEncodePacket(p))
}

// reply answers a bridge-local request after the configured latency
func (d *Dongle) reply(p *nowlink.Packet) {
	go func() {
		if d.opts.Latency > 0 {
			time.Sleep(d.opts.Latency)
		}
		d.send(p)
	}()
}

func (d *Dongle) handle(p *nowlink.Packet) {
	switch p.Type() {
	case nowlink.MsgAddPeer:
		d.mu.Lock()
		d.peers[p.Peer()] = true
		d.mu.Unlock()

	case nowlink.MsgSendFrame:
		f, err := p.Frame()
		if err != nil || p.Peer() != d.mac {
			d.reply(nowlink.NewSendStatus(p.Peer(), nowlink.SendFail))
			return
		}
		d.radio.Transmit(f)

	case nowlink.MsgPingRequest:
		d.reply(nowlink.NewPingResponse(p.Peer(), uint64(time.Since(d.start).Milliseconds())))

	default:
		d.reply(nowlink.NewInvalidCommand(p.Peer(), p.Type()))
	}
}

// HasPeer reports whether the host registered mac
func (d *Dongle) HasPeer(mac nowlink.MAC) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[mac]
}
