// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode matches any *FrameError of kind UnknownOpcode.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrTruncated matches any *FrameError of kind Truncated.
	ErrTruncated = errors.New("truncated frame")
	// ErrPayloadLength is returned by Decode when the payload does not have
	// the length registered for the opcode.
	ErrPayloadLength = errors.New("payload length does not match opcode")
)

// FrameErrorKind classifies a framing error.
type FrameErrorKind int

const (
	UnknownOpcode FrameErrorKind = iota
	Truncated
)

func (k FrameErrorKind) String() string {
	switch k {
	case UnknownOpcode:
		return "unknown opcode"
	case Truncated:
		return "truncated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError is a recoverable protocol error. The decoder keeps scanning
// after returning one.
type FrameError struct {
	Kind   FrameErrorKind
	Opcode byte
	// Buffered is the number of bytes discarded with a truncated frame.
	Buffered int
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case UnknownOpcode:
		return fmt.Sprintf("unknown opcode 0x%02X", e.Opcode)
	case Truncated:
		return fmt.Sprintf("truncated frame: opcode 0x%02X with %d bytes buffered", e.Opcode, e.Buffered)
	default:
		return fmt.Sprintf("frame error: %s", e.Kind)
	}
}

// Is lets errors.Is match a FrameError against the package sentinels.
func (e *FrameError) Is(target error) bool {
	switch e.Kind {
	case UnknownOpcode:
		return target == ErrUnknownOpcode
	case Truncated:
		return target == ErrTruncated
	}
	return false
}

type opcodeInfo struct {
	name   string
	size   int
	decode func(p []byte) Message
}

// registry is indexed by opcode. A nil entry is an unknown opcode.
var registry = [256]*opcodeInfo{
	OpStandardMsg: {name: "STANDARD_MSG", size: 9, decode: func(p []byte) Message {
		return StandardMsg{
			From:  Address(p[0:3]),
			To:    Address(p[3:6]),
			Flags: MsgFlags(p[6]),
			Cmd1:  p[7],
			Cmd2:  p[8],
		}
	}},
	OpExtendedMsg: {name: "EXTENDED_MSG", size: 23, decode: func(p []byte) Message {
		return ExtendedMsg{
			From:     Address(p[0:3]),
			To:       Address(p[3:6]),
			Flags:    MsgFlags(p[6]),
			Cmd1:     p[7],
			Cmd2:     p[8],
			UserData: [14]byte(p[9:23]),
		}
	}},
	OpX10Received: {name: "X10_RECEIVED", size: 2, decode: func(p []byte) Message {
		return X10Received{RawX10: p[0], X10Flag: p[1]}
	}},
	OpAllLinkingCompleted: {name: "ALL_LINKING_COMPLETED", size: 8, decode: func(p []byte) Message {
		return AllLinkingCompleted{
			LinkCode:    p[0],
			Group:       p[1],
			ID:          Address(p[2:5]),
			Category:    p[5],
			Subcategory: p[6],
			Firmware:    p[7],
		}
	}},
	OpButtonEventReport: {name: "BUTTON_EVENT_REPORT", size: 1, decode: func(p []byte) Message {
		return ButtonEventReport{Event: p[0]}
	}},
	OpUserResetDetected: {name: "USER_RESET_DETECTED", size: 0, decode: func(p []byte) Message {
		return UserResetDetected{}
	}},
	OpAllLinkCleanupFailureReport: {name: "ALL_LINK_CLEANUP_FAILURE_REPORT", size: 5, decode: func(p []byte) Message {
		return AllLinkCleanupFailureReport{X01: p[0], Group: p[1], ID: Address(p[2:5])}
	}},
	OpAllLinkRecordResponse: {name: "ALL_LINK_RECORD_RESPONSE", size: 8, decode: func(p []byte) Message {
		return AllLinkRecordResponse{
			RecordFlags: p[0],
			Group:       p[1],
			ID:          Address(p[2:5]),
			LinkData:    [3]byte(p[5:8]),
		}
	}},
	OpAllLinkCleanupStatusReport: {name: "ALL_LINK_CLEANUP_STATUS_REPORT", size: 1, decode: func(p []byte) Message {
		return AllLinkCleanupStatusReport{Status: p[0]}
	}},
	OpSendStandardMsg: {name: "SEND_STANDARD_MSG", size: 6, decode: func(p []byte) Message {
		return SendStandardMsg{
			To:    Address(p[0:3]),
			Flags: MsgFlags(p[3]),
			Cmd1:  p[4],
			Cmd2:  p[5],
		}
	}},
}

// Opcodes returns every registered opcode in ascending order.
func Opcodes() []byte {
	ops := make([]byte, 0, 16)
	for op, info := range registry {
		if info != nil {
			ops = append(ops, byte(op))
		}
	}
	return ops
}

// Size returns the payload length registered for opcode.
func Size(opcode byte) (int, bool) {
	info := registry[opcode]
	if info == nil {
		return 0, false
	}
	return info.size, true
}

// Name returns the message type name for opcode.
func Name(opcode byte) string {
	info := registry[opcode]
	if info == nil {
		return fmt.Sprintf("UNKNOWN(0x%02X)", opcode)
	}
	return info.name
}

// Decode builds the message for opcode from payload. The payload must have
// exactly the registered length and is not retained.
func Decode(opcode byte, payload []byte) (Message, error) {
	info := registry[opcode]
	if info == nil {
		return nil, &FrameError{Kind: UnknownOpcode, Opcode: opcode}
	}
	if len(payload) != info.size {
		return nil, fmt.Errorf("%w: opcode 0x%02X wants %d bytes, got %d",
			ErrPayloadLength, opcode, info.size, len(payload))
	}
	return info.decode(payload), nil
}

// Encode returns the complete frame for m, start byte included.
func Encode(m Message) ([]byte, error) {
	info := registry[m.Opcode()]
	if info == nil {
		return nil, &FrameError{Kind: UnknownOpcode, Opcode: m.Opcode()}
	}

	frame := make([]byte, 0, 2+info.size)
	frame = append(frame, StartByte, m.Opcode())
	frame = m.appendPayload(frame)

	if len(frame) != 2+info.size {
		panic(fmt.Sprintf("insteon: %s encoded %d payload bytes, registry says %d",
			info.name, len(frame)-2, info.size))
	}

	return frame, nil
}

// MustEncode is like Encode but panics on error.
func MustEncode(m Message) []byte {
	frame, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return frame
}
