// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

type scriptedConn struct {
	data   []byte
	err    error
	closed atomic.Bool
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	if len(c.data) > 0 {
		n := copy(p, c.data)
		c.data = c.data[n:]
		return n, nil
	}
	return 0, c.err
}

func (c *scriptedConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *scriptedConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestConnectionManager_NoReopen(t *testing.T) {
	readErr := errors.New("unplugged")
	conn := &scriptedConn{err: readErr}
	cm := newConnectionManager(conn, "first", nil, zaptest.NewLogger(t).Sugar())

	if _, err := cm.Read(make([]byte, 8)); !errors.Is(err, readErr) {
		t.Errorf("Read() error = %v, want %v", err, readErr)
	}
}

func TestConnectionManager_Reconnects(t *testing.T) {
	first := &scriptedConn{err: errors.New("unplugged")}
	second := &scriptedConn{data: []byte{0x7E}, err: io.EOF}

	var reconnected string
	open := func() (Connection, string, error) { return second, "second", nil }
	cm := newConnectionManager(first, "first", open, zaptest.NewLogger(t).Sugar())
	cm.onReconnect = func(info string) { reconnected = info }

	buf := make([]byte, 8)
	n, err := cm.Read(buf)
	if err != nil || n != 1 || buf[0] != 0x7E {
		t.Fatalf("Read() = %d, %v, want one byte from the new stream", n, err)
	}
	if !first.closed.Load() {
		t.Error("old stream not closed")
	}
	if reconnected != "second" || cm.Info() != "second" {
		t.Errorf("reconnected to %q (info %q), want second", reconnected, cm.Info())
	}

	if err := cm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !second.closed.Load() {
		t.Error("Close() did not close the current stream")
	}
	if _, err := cm.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after Close = %v, want EOF", err)
	}
}
