// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"bytes"
	"errors"
	"testing"
)

// sequentialPayload returns n bytes counting up from 0xA0
func sequentialPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(0xA0 + i)
	}
	return p
}

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_Sizes(t *testing.T) {
	tests := []struct {
		opcode byte
		size   int
	}{
		{OpStandardMsg, 9},
		{OpExtendedMsg, 23},
		{OpX10Received, 2},
		{OpAllLinkingCompleted, 8},
		{OpButtonEventReport, 1},
		{OpUserResetDetected, 0},
		{OpAllLinkCleanupFailureReport, 5},
		{OpAllLinkRecordResponse, 8},
		{OpAllLinkCleanupStatusReport, 1},
		{OpSendStandardMsg, 6},
	}

	for _, tt := range tests {
		t.Run(Name(tt.opcode), func(t *testing.T) {
			size, ok := Size(tt.opcode)
			if !ok {
				t.Fatalf("opcode 0x%02X not registered", tt.opcode)
			}
			if size != tt.size {
				t.Errorf("Size(0x%02X) = %d, want %d", tt.opcode, size, tt.size)
			}
		})
	}

	if got := len(Opcodes()); got != len(tests) {
		t.Errorf("registry has %d opcodes, want %d", got, len(tests))
	}
}

func TestRegistry_UnknownOpcode(t *testing.T) {
	if _, ok := Size(0x99); ok {
		t.Error("Size(0x99) should not be registered")
	}

	_, err := Decode(0x99, nil)
	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if fe.Kind != UnknownOpcode || fe.Opcode != 0x99 {
		t.Errorf("unexpected frame error: %+v", fe)
	}
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Error("errors.Is(err, ErrUnknownOpcode) should be true")
	}
	if errors.Is(err, ErrTruncated) {
		t.Error("unknown opcode error should not match ErrTruncated")
	}

	if Name(0x99) != "UNKNOWN(0x99)" {
		t.Errorf("Name(0x99) = %q", Name(0x99))
	}
}

func TestRegistry_PayloadLength(t *testing.T) {
	_, err := Decode(OpStandardMsg, sequentialPayload(8))
	if !errors.Is(err, ErrPayloadLength) {
		t.Errorf("short payload: expected ErrPayloadLength, got %v", err)
	}

	_, err = Decode(OpButtonEventReport, sequentialPayload(2))
	if !errors.Is(err, ErrPayloadLength) {
		t.Errorf("long payload: expected ErrPayloadLength, got %v", err)
	}
}

// Every registered opcode decodes a full frame and re-encodes to the same bytes,
// so fields are laid out in payload order with no conversion.
func TestRegistry_RoundTripAllOpcodes(t *testing.T) {
	for _, op := range Opcodes() {
		t.Run(Name(op), func(t *testing.T) {
			size, _ := Size(op)
			payload := sequentialPayload(size)

			msg, err := Decode(op, payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Opcode() != op {
				t.Errorf("Opcode() = 0x%02X, want 0x%02X", msg.Opcode(), op)
			}

			frame, err := Encode(msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			want := append([]byte{StartByte, op}, payload...)
			if !bytes.Equal(frame, want) {
				t.Errorf("Encode = % X, want % X", frame, want)
			}
		})
	}
}

func TestRegistry_StandardMsgFields(t *testing.T) {
	payload := []byte{0x1A, 0xD0, 0xF4, 0x44, 0x85, 0xE6, 0x2F, 0x11, 0xFF}
	msg, err := Decode(OpStandardMsg, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	std, ok := msg.(StandardMsg)
	if !ok {
		t.Fatalf("expected StandardMsg, got %T", msg)
	}
	if std.From != (Address{0x1A, 0xD0, 0xF4}) {
		t.Errorf("From = %s", std.From)
	}
	if std.To != (Address{0x44, 0x85, 0xE6}) {
		t.Errorf("To = %s", std.To)
	}
	if std.Flags != 0x2F || std.Flags.Type() != MsgTypeAckDirect {
		t.Errorf("Flags = 0x%02X type %s", byte(std.Flags), std.Flags.Type())
	}
	if std.Cmd1 != 0x11 || std.Cmd2 != 0xFF {
		t.Errorf("cmd1/cmd2 = 0x%02X/0x%02X", std.Cmd1, std.Cmd2)
	}
}

func TestRegistry_AllLinkCleanupFailureReportFields(t *testing.T) {
	msg, err := Decode(OpAllLinkCleanupFailureReport, []byte{0x01, 0x05, 0x1A, 0xD0, 0xF4})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	report := msg.(AllLinkCleanupFailureReport)
	if report.X01 != 0x01 || report.Group != 0x05 || report.ID != (Address{0x1A, 0xD0, 0xF4}) {
		t.Errorf("unexpected fields: %+v", report)
	}
}

// ============================================================
// Address Tests
// ============================================================

func TestParseAddress(t *testing.T) {
	want := Address{0x1A, 0xD0, 0xF4}

	tests := []struct {
		input   string
		wantErr bool
	}{
		{"1A.D0.F4", false},
		{"1AD0F4", false},
		{"1a:d0:f4", false},
		{"1A-D0-F4", false},
		{" 1a.d0.f4 ", false},
		{"1A.D0", true},
		{"1A.D0.F4.00", true},
		{"ZZ.D0.F4", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAddress(%q) should fail, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.input, err)
			}
			if got != want {
				t.Errorf("ParseAddress(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestAddress_Uint32(t *testing.T) {
	a := AddressFromUint32(0xFF1AD0F4)
	if a != (Address{0x1A, 0xD0, 0xF4}) {
		t.Errorf("AddressFromUint32 dropped wrong byte: %s", a)
	}
	if a.Uint32() != 0x1AD0F4 {
		t.Errorf("Uint32() = 0x%X", a.Uint32())
	}
	if a.String() != "1A.D0.F4" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestAddress_Text(t *testing.T) {
	var a Address
	if err := a.UnmarshalText([]byte("44:85:e6")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	text, _ := a.MarshalText()
	if string(text) != "44.85.E6" {
		t.Errorf("MarshalText = %q", text)
	}
}

// ============================================================
// Flags Tests
// ============================================================

func TestMsgFlags(t *testing.T) {
	if DefaultSendFlags != 0x0F {
		t.Errorf("DefaultSendFlags = 0x%02X, want 0x0F", byte(DefaultSendFlags))
	}
	if NewMsgFlags(MsgTypeDirect, false, 3, 3) != DefaultSendFlags {
		t.Error("NewMsgFlags(direct, std, 3, 3) should equal DefaultSendFlags")
	}

	f := NewMsgFlags(MsgTypeNakDirect, true, 1, 2)
	if f != 0xB6 {
		t.Errorf("NewMsgFlags = 0x%02X, want 0xB6", byte(f))
	}
	if f.Type() != MsgTypeNakDirect || !f.Extended() || f.HopsRemaining() != 1 || f.MaxHops() != 2 {
		t.Errorf("field accessors wrong for 0x%02X", byte(f))
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeSend(t *testing.T) {
	frame := EncodeSend(Address{0x1A, 0xD0, 0xF4}, 0x0F, 0x11, 0xFF)
	want := []byte{0x02, 0x62, 0x1A, 0xD0, 0xF4, 0x0F, 0x11, 0xFF}
	if !bytes.Equal(frame, want) {
		t.Errorf("EncodeSend = % X, want % X", frame, want)
	}
}

func TestBrightnessFromLevel(t *testing.T) {
	tests := []struct {
		level int
		want  byte
	}{
		{100, 255},
		{0, 0},
		{50, 128},
		{1, 3},
		{99, 252},
		{-5, 0},
		{150, 255},
	}

	for _, tt := range tests {
		if got := BrightnessFromLevel(tt.level); got != tt.want {
			t.Errorf("BrightnessFromLevel(%d) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []int{0, 1, 50, 100} {
		if !ValidLevel(level) {
			t.Errorf("ValidLevel(%d) should be true", level)
		}
	}
	for _, level := range []int{-1, 101, 255} {
		if ValidLevel(level) {
			t.Errorf("ValidLevel(%d) should be false", level)
		}
	}
}

func TestLightOn(t *testing.T) {
	cmd := LightOn(Address{0x1A, 0xD0, 0xF4}, DefaultSendFlags, 50)
	if cmd.Cmd1 != CmdOn || cmd.Cmd2 != 128 || cmd.Flags != DefaultSendFlags {
		t.Errorf("LightOn = %+v", cmd)
	}
}

// ============================================================
// Message Accessors
// ============================================================

func TestMessageAccessors(t *testing.T) {
	dev := Address{0x1A, 0xD0, 0xF4}
	ack := NewMsgFlags(MsgTypeAckDirect, false, 3, 3)

	tests := []struct {
		name      string
		msg       Message
		wantFrom  bool
		wantCmds  bool
		wantFlags bool
	}{
		{"standard", StandardMsg{From: dev, Flags: ack, Cmd1: 0x11, Cmd2: 0xFF}, true, true, true},
		{"extended", ExtendedMsg{From: dev, Flags: ack, Cmd1: 0x11, Cmd2: 0xFF}, true, true, true},
		{"send", SendStandardMsg{To: dev, Flags: ack, Cmd1: 0x11, Cmd2: 0xFF}, false, true, true},
		{"linking completed", AllLinkingCompleted{ID: dev}, true, false, false},
		{"cleanup failure", AllLinkCleanupFailureReport{ID: dev}, true, false, false},
		{"record response", AllLinkRecordResponse{ID: dev}, true, false, false},
		{"button", ButtonEventReport{Event: 0x02}, false, false, false},
		{"reset", UserResetDetected{}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, ok := Source(tt.msg)
			if ok != tt.wantFrom {
				t.Fatalf("Source ok = %v, want %v", ok, tt.wantFrom)
			}
			if ok && from != dev {
				t.Errorf("Source = %s, want %s", from, dev)
			}

			cmd1, cmd2, ok := Commands(tt.msg)
			if ok != tt.wantCmds {
				t.Fatalf("Commands ok = %v, want %v", ok, tt.wantCmds)
			}
			if ok && (cmd1 != 0x11 || cmd2 != 0xFF) {
				t.Errorf("Commands = %02X/%02X, want 11/FF", cmd1, cmd2)
			}

			flags, ok := Flags(tt.msg)
			if ok != tt.wantFlags {
				t.Fatalf("Flags ok = %v, want %v", ok, tt.wantFlags)
			}
			if ok && flags.Type() != MsgTypeAckDirect {
				t.Errorf("Flags type = %v, want %v", flags.Type(), MsgTypeAckDirect)
			}
		})
	}
}
