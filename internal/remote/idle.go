// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import "time"

// idleTimer tracks operator and radio activity for sleep gating
type idleTimer struct {
	timeout   time.Duration
	last      time.Time
	permitted bool
}

func (i *idleTimer) touch(now time.Time) {
	i.last = now
}

func (i *idleTimer) permit() {
	i.permitted = true
}

func (i *idleTimer) forbid() {
	i.permitted = false
}

// shouldSleep reports whether the idle threshold has passed while sleep is allowed
func (i *idleTimer) shouldSleep(now time.Time) bool {
	return i.permitted && now.Sub(i.last) > i.timeout
}
