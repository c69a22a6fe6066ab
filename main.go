// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Flowremote - handheld flow remote for a radio-linked Controller
//
// Drives a Controller's flow set point over a serial or WebSocket radio
// bridge, with calibration, storage and an update-mode HTTP endpoint.

package main

import (
	"os"

	"github.com/Thermoquad/flowremote/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
