// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// vinsteon - INSTEON PowerLinc Modem gateway
//
// Owns the serial link to a PLM, decodes its frames, and exposes reliable
// device commands over HTTP, MCP and MQTT.

package main

import (
	"os"

	"github.com/Thermoquad/vinsteon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
