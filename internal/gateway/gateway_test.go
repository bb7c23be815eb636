// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var lamp = insteon.Address{0x1A, 0xD0, 0xF4}

// mockWriter records frames and optionally echoes an ack for each
type mockWriter struct {
	mu      sync.Mutex
	frames  [][]byte
	err     error
	inbound *bus.Bus[insteon.Message]
	ack     bool
}

func (w *mockWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, append([]byte(nil), frame...))
	if w.ack {
		w.inbound.Publish(insteon.StandardMsg{
			From:  insteon.Address(frame[2:5]),
			Flags: insteon.NewMsgFlags(insteon.MsgTypeAckDirect, false, 3, 3),
			Cmd1:  frame[6],
			Cmd2:  frame[7],
		})
	}
	return nil
}

func newTestGateway(w *mockWriter) *Gateway {
	w.inbound = bus.New[insteon.Message](bus.DefaultCapacity)
	cfg := delivery.Config{AckTimeout: 30 * time.Millisecond, MaxAttempts: 2, MatchCommand: true}
	c := delivery.New(w, w.inbound, cfg, zerolog.Nop())
	return New(w, c, insteon.DefaultSendFlags, zerolog.Nop())
}

func TestSendCommand(t *testing.T) {
	w := &mockWriter{}
	g := newTestGateway(w)

	ack, err := g.SendCommand(lamp, 100)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if ack.Reliable || ack.Brightness != 255 || ack.Device != "1A.D0.F4" {
		t.Errorf("unexpected ack %+v", ack)
	}

	want := []byte{0x02, 0x62, 0x1A, 0xD0, 0xF4, 0x0F, 0x11, 0xFF}
	if len(w.frames) != 1 || !bytes.Equal(w.frames[0], want) {
		t.Errorf("frames = % X, want one % X", w.frames, want)
	}
}

func TestSendCommand_InvalidLevel(t *testing.T) {
	w := &mockWriter{}
	g := newTestGateway(w)

	for _, level := range []int{-1, 101} {
		if _, err := g.SendCommand(lamp, level); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("SendCommand(level=%d): expected ErrInvalidLevel, got %v", level, err)
		}
		if _, err := g.SendCommandReliable(lamp, level); !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("SendCommandReliable(level=%d): expected ErrInvalidLevel, got %v", level, err)
		}
	}
	if len(w.frames) != 0 {
		t.Errorf("invalid level wrote %d frames", len(w.frames))
	}
}

func TestSendCommand_WriteError(t *testing.T) {
	portErr := errors.New("write: broken pipe")
	g := newTestGateway(&mockWriter{err: portErr})

	if _, err := g.SendCommand(lamp, 50); !errors.Is(err, portErr) {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}

func TestSendCommandReliable(t *testing.T) {
	w := &mockWriter{ack: true}
	g := newTestGateway(w)

	ack, err := g.SendCommandReliable(lamp, 50)
	if err != nil {
		t.Fatalf("SendCommandReliable: %v", err)
	}
	if !ack.Reliable || ack.Attempts != 1 || ack.RequestID == "" || ack.Brightness != 128 {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestSendCommandReliable_Exhausted(t *testing.T) {
	w := &mockWriter{}
	g := newTestGateway(w)

	_, err := g.SendCommandReliable(lamp, 50)
	if !errors.Is(err, delivery.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if len(w.frames) != 2 {
		t.Errorf("got %d writes, want 2", len(w.frames))
	}
}
