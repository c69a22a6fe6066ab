// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// connectionManager is a Connection that survives bridge disconnects. A
// failed Read closes the current stream and reopens it with exponential
// backoff; the caller's reader loop never sees the gap.
type connectionManager struct {
	mu       sync.RWMutex
	conn     Connection
	connInfo string

	open        func() (Connection, string, error)
	onReconnect func(connInfo string)
	logger      *zap.SugaredLogger

	done      chan struct{}
	closeOnce sync.Once
}

// newConnectionManager wraps conn. A nil open disables reconnection.
func newConnectionManager(conn Connection, connInfo string, open func() (Connection, string, error), logger *zap.SugaredLogger) *connectionManager {
	return &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		open:     open,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// Info describes the current connection
func (cm *connectionManager) Info() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connInfo
}

func (cm *connectionManager) closed() bool {
	select {
	case <-cm.done:
		return true
	default:
		return false
	}
}

// Read reads from the current stream, reconnecting on failure. Returns
// io.EOF once the manager is closed.
func (cm *connectionManager) Read(p []byte) (int, error) {
	for {
		n, err := cm.getConn().Read(p)
		if err == nil {
			return n, nil
		}
		if cm.closed() {
			return 0, io.EOF
		}
		if cm.open == nil {
			return 0, err
		}

		cm.logger.Warnw("bridge connection lost", "connection", cm.Info(), "error", err)
		if !cm.reconnect() {
			return 0, io.EOF
		}
	}
}

// Write writes to the current stream
func (cm *connectionManager) Write(p []byte) (int, error) {
	return cm.getConn().Write(p)
}

// Close stops reconnection and closes the current stream
func (cm *connectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)
		err = cm.getConn().Close()
	})
	return err
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if the manager was closed while waiting.
func (cm *connectionManager) reconnect() bool {
	cm.getConn().Close()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := cm.open()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.logger.Infow("bridge reconnected", "connection", connInfo)
			if cm.onReconnect != nil {
				cm.onReconnect(connInfo)
			}
			return true
		}
		cm.logger.Debugw("reconnect failed", "error", err, "retry", backoff)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
