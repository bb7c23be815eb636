// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Record Tests
// ============================================================

func TestRecord_CBOR(t *testing.T) {
	msg := StandardMsg{
		From:  Address{0x1A, 0xD0, 0xF4},
		To:    Address{0x44, 0x85, 0xE6},
		Flags: 0x2F,
		Cmd1:  CmdOn,
		Cmd2:  0xFF,
	}
	at := time.UnixMilli(1700000000123)

	data, err := MarshalRecord(NewRecord(msg, at))
	if err != nil {
		t.Fatalf("MarshalRecord: %v", err)
	}

	r, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if !r.Time().Equal(at) {
		t.Errorf("Time = %v, want %v", r.Time(), at)
	}

	got, err := r.Message()
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got != msg {
		t.Errorf("Message = %+v, want %+v", got, msg)
	}
}

func TestRecord_EmptyPayload(t *testing.T) {
	if _, err := UnmarshalRecord(nil); err == nil {
		t.Error("expected error for empty CBOR payload")
	}
}

func TestRecord_JSON(t *testing.T) {
	msg := StandardMsg{From: Address{0x1A, 0xD0, 0xF4}, Flags: 0x2F, Cmd1: CmdOn, Cmd2: 0x80}
	data, err := json.Marshal(NewRecord(msg, time.Now()))
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if out["type"] != "STANDARD_MSG" {
		t.Errorf("type = %v", out["type"])
	}
	if out["from"] != "1A.D0.F4" {
		t.Errorf("from = %v", out["from"])
	}
	if out["payload"] != "1AD0F40000002F1180" {
		t.Errorf("payload = %v", out["payload"])
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessage(t *testing.T) {
	msg := StandardMsg{
		From:  Address{0x1A, 0xD0, 0xF4},
		To:    Address{0x44, 0x85, 0xE6},
		Flags: 0x2F,
		Cmd1:  0x11,
		Cmd2:  0xFF,
	}
	out := FormatMessage(msg, time.Date(2025, 1, 1, 12, 30, 45, 0, time.Local))

	for _, want := range []string{
		"[12:30:45.000]",
		"STANDARD_MSG (0x50)",
		"from=1A.D0.F4",
		"to=44.85.E6",
		"ACK_DIRECT",
		"hops=3/3",
		"cmd2=0xFF",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatMessage output missing %q: %s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes([]byte{0x02, 0x62, 0x1A}); got != "02 62 1A" {
		t.Errorf("FormatBytes = %q", got)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.Update(StandardMsg{}, nil)
	s.Update(ButtonEventReport{}, nil)
	s.Update(nil, &FrameError{Kind: Truncated})
	s.AddNoise(7)

	snap := s.Snapshot()
	if snap.TotalFrames != 2 || snap.FramingErrors != 1 || snap.Truncated != 1 || snap.NoiseBytes != 7 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	snap.ByType["STANDARD_MSG"] = 99
	if s.ByType["STANDARD_MSG"] != 1 {
		t.Error("Snapshot should copy ByType")
	}

	if !strings.Contains(s.String(), "Total Frames:") {
		t.Error("String() missing summary")
	}

	s.Reset()
	if s.TotalFrames != 0 || len(s.ByType) != 0 || s.NoiseBytes != 0 {
		t.Errorf("Reset left counters: %+v", s)
	}
}
