// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gateway exposes the two device operations offered to remote
// callers: a fire-and-forget send and a reliable send.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// ErrInvalidLevel is returned for a level outside 0-100.
var ErrInvalidLevel = errors.New("gateway: level must be between 0 and 100")

// Ack is returned to callers once a command has been handled.
type Ack struct {
	Device     string        `json:"device"`
	Level      int           `json:"level"`
	Brightness byte          `json:"brightness"`
	Reliable   bool          `json:"reliable"`
	Attempts   int           `json:"attempts,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Nak        bool          `json:"nak,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns,omitempty"`
}

// Gateway routes commands to the modem.
type Gateway struct {
	writer      delivery.FrameWriter
	coordinator *delivery.Coordinator
	flags       insteon.MsgFlags
	log         zerolog.Logger
}

// New creates a gateway. Fire-and-forget sends go straight to w; reliable
// sends go through c. flags is the message flags byte of every command.
func New(w delivery.FrameWriter, c *delivery.Coordinator, flags insteon.MsgFlags, logger zerolog.Logger) *Gateway {
	return &Gateway{
		writer:      w,
		coordinator: c,
		flags:       flags,
		log:         logger,
	}
}

// Coordinator returns the reliable delivery coordinator.
func (g *Gateway) Coordinator() *delivery.Coordinator {
	return g.coordinator
}

// SendCommand turns the device on at level and returns once the frame is
// written. It does not wait for the device.
func (g *Gateway) SendCommand(device insteon.Address, level int) (Ack, error) {
	cmd, err := g.command(device, level)
	if err != nil {
		return Ack{}, err
	}

	frame := insteon.MustEncode(cmd)
	if err := g.writer.WriteFrame(frame); err != nil {
		return Ack{}, fmt.Errorf("send to %s: %w", device, err)
	}

	g.log.Debug().
		Str("device", device.String()).
		Int("level", level).
		Str("frame", insteon.FormatBytes(frame)).
		Msg("Command sent")

	return Ack{
		Device:     device.String(),
		Level:      level,
		Brightness: cmd.Cmd2,
	}, nil
}

// SendCommandReliable turns the device on at level and waits for it to
// acknowledge. A device that never answers yields an error wrapping
// delivery.ErrExhausted.
func (g *Gateway) SendCommandReliable(device insteon.Address, level int) (Ack, error) {
	cmd, err := g.command(device, level)
	if err != nil {
		return Ack{}, err
	}

	receipt, err := g.coordinator.Submit(cmd)
	if err != nil {
		return Ack{}, err
	}

	g.log.Info().
		Str("device", device.String()).
		Int("level", level).
		Int("attempts", receipt.Attempts).
		Dur("elapsed", receipt.Elapsed).
		Msg("Command acknowledged")

	return Ack{
		Device:     device.String(),
		Level:      level,
		Brightness: cmd.Cmd2,
		Reliable:   true,
		Attempts:   receipt.Attempts,
		RequestID:  receipt.RequestID.String(),
		Nak:        receipt.Nak(),
		Elapsed:    receipt.Elapsed,
	}, nil
}

func (g *Gateway) command(device insteon.Address, level int) (insteon.SendStandardMsg, error) {
	if !insteon.ValidLevel(level) {
		return insteon.SendStandardMsg{}, fmt.Errorf("%w: got %d", ErrInvalidLevel, level)
	}
	return insteon.LightOn(device, g.flags, level), nil
}
