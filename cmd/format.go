// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
)

var uptimeUnits = []struct {
	name string
	ms   uint64
}{
	{"year", 365 * 24 * 3600 * 1000},
	{"day", 24 * 3600 * 1000},
	{"hour", 3600 * 1000},
	{"minute", 60 * 1000},
	{"second", 1000},
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	var parts []string
	for _, u := range uptimeUnits {
		n := ms / u.ms
		ms %= u.ms
		if n == 0 {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}
