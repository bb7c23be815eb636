// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/internal/gateway"
	"github.com/Thermoquad/vinsteon/internal/rpc"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// ackingModem acknowledges every frame written to it
type ackingModem struct {
	mu      sync.Mutex
	frames  int
	silent  bool
	inbound *bus.Bus[insteon.Message]
}

func (m *ackingModem) WriteFrame(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
	if !m.silent {
		m.inbound.Publish(insteon.StandardMsg{
			From:  insteon.Address(frame[2:5]),
			Flags: insteon.NewMsgFlags(insteon.MsgTypeAckDirect, false, 3, 3),
			Cmd1:  frame[6],
			Cmd2:  frame[7],
		})
	}
	return nil
}

type fixedStats struct{}

func (fixedStats) Stats() insteon.Statistics {
	s := insteon.NewStatistics()
	s.Update(insteon.ButtonEventReport{Event: 0x02}, nil)
	return s.Snapshot()
}

// startGateway serves the HTTP API over a fake modem
func startGateway(t *testing.T) (*apiClient, *ackingModem, *bus.Bus[insteon.Message]) {
	t.Helper()
	inbound := bus.New[insteon.Message](bus.DefaultCapacity)
	modem := &ackingModem{inbound: inbound}
	cfg := delivery.Config{AckTimeout: 20 * time.Millisecond, MaxAttempts: 2, MatchCommand: true}
	coord := delivery.New(modem, inbound, cfg, zerolog.Nop())
	gw := gateway.New(modem, coord, insteon.DefaultSendFlags, zerolog.Nop())

	srv := httptest.NewServer(rpc.NewServer(gw, fixedStats{}, inbound, zerolog.Nop()).Router())
	t.Cleanup(func() {
		inbound.Close()
		srv.Close()
	})
	return newAPIClient(srv.URL + "/"), modem, inbound
}

// ============================================================
// API Client Tests
// ============================================================

func TestAPIClient_Send(t *testing.T) {
	client, modem, _ := startGateway(t)
	dev := insteon.Address{0x1A, 0xD0, 0xF4}

	tests := []struct {
		name     string
		level    int
		reliable bool
	}{
		{"fire and forget", 50, false},
		{"reliable", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Send(context.Background(), dev, tt.level, tt.reliable)
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if !resp.OK || resp.Device != "1A.D0.F4" || resp.Level != tt.level {
				t.Errorf("unexpected response %+v", resp)
			}
			if resp.Brightness != insteon.BrightnessFromLevel(tt.level) {
				t.Errorf("brightness = %d, want %d", resp.Brightness, insteon.BrightnessFromLevel(tt.level))
			}
			if resp.Reliable != tt.reliable {
				t.Errorf("reliable = %v, want %v", resp.Reliable, tt.reliable)
			}
			if tt.reliable && resp.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", resp.Attempts)
			}
		})
	}

	modem.mu.Lock()
	defer modem.mu.Unlock()
	if modem.frames != 2 {
		t.Errorf("modem saw %d frames, want 2", modem.frames)
	}
}

func TestAPIClient_SendErrors(t *testing.T) {
	client, modem, _ := startGateway(t)
	dev := insteon.Address{0x1A, 0xD0, 0xF4}

	_, err := client.Send(context.Background(), dev, 101, false)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("out of range level: err = %v, want 400", err)
	}

	modem.mu.Lock()
	modem.silent = true
	modem.mu.Unlock()
	_, err = client.Send(context.Background(), dev, 10, true)
	if err == nil || !strings.Contains(err.Error(), "504") || !strings.Contains(err.Error(), "no acknowledgment") {
		t.Errorf("unacknowledged send: err = %v, want 504 with reason", err)
	}
}

func TestAPIClient_StatsHealthPending(t *testing.T) {
	client, _, inbound := startGateway(t)
	ctx := context.Background()

	status, err := client.Health(ctx)
	if err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Decoder.TotalFrames != 1 {
		t.Errorf("decoder frames = %d, want 1", stats.Decoder.TotalFrames)
	}

	pending, err := client.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("Pending = %v, %v", pending, err)
	}

	inbound.Close()
	if _, err := client.Health(ctx); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Health after close: err = %v, want 503", err)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	client := newAPIClient("http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Stats(ctx); err == nil {
		t.Error("expected error for unreachable gateway")
	}
}

// ============================================================
// Event Stream Tests
// ============================================================

func TestReadEvent(t *testing.T) {
	client, _, inbound := startGateway(t)

	conn, err := client.DialEvents()
	if err != nil {
		t.Fatalf("DialEvents: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for inbound.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sent := insteon.ButtonEventReport{Event: 0x03}
	inbound.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ev, err := readEvent(conn)
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if ev.err != nil {
		t.Fatalf("record error: %v", ev.err)
	}
	if ev.msg != sent {
		t.Errorf("msg = %#v, want %#v", ev.msg, sent)
	}

	inbound.Close()
	_, err = readEvent(conn)
	if err == nil || !isStreamClosed(err) {
		t.Errorf("after close: err = %v, want going away", err)
	}
}

func TestIsStreamClosed(t *testing.T) {
	if isStreamClosed(errors.New("boom")) {
		t.Error("plain error should not count as a closed stream")
	}
}
