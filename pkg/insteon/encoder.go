// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import "math"

// Level bounds accepted by BrightnessFromLevel
const (
	MinLevel = 0
	MaxLevel = 100
)

// EncodeSend builds the 8 byte send standard message frame:
//
//	02 62 <to:3> <flags> <cmd1> <cmd2>
func EncodeSend(to Address, flags MsgFlags, cmd1, cmd2 byte) []byte {
	return MustEncode(SendStandardMsg{To: to, Flags: flags, Cmd1: cmd1, Cmd2: cmd2})
}

// BrightnessFromLevel converts a 0-100 level into an on-level byte.
// The result is round(level/100*255), clamped to 0-255.
func BrightnessFromLevel(level int) byte {
	v := math.Round(float64(level) / 100.0 * 255.0)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// ValidLevel reports whether level is within 0-100.
func ValidLevel(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}

// LightOn returns the command that turns the device at to on at level.
func LightOn(to Address, flags MsgFlags, level int) SendStandardMsg {
	return SendStandardMsg{
		To:    to,
		Flags: flags,
		Cmd1:  CmdOn,
		Cmd2:  BrightnessFromLevel(level),
	}
}
