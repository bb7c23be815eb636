// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package insteon provides a Go implementation of the INSTEON PowerLinc Modem
// (PLM) serial protocol.
//
// Every PLM message on the wire is a start byte (0x02), a one byte opcode and
// a payload whose length is fixed by the opcode. There is no length field and
// no checksum, so the decoder relies on the opcode table to find frame
// boundaries and resynchronizes on the next start byte after noise.
//
// This package provides the opcode registry, a resynchronizing frame decoder,
// the outbound command encoder and human-readable formatting.
package insteon

// Protocol framing
const (
	StartByte = 0x02

	// MaxPayloadSize is the largest payload in the opcode table (ExtendedMsg).
	MaxPayloadSize = 23
	MaxFrameSize   = 2 + MaxPayloadSize
)

// Opcodes - Modem to host
const (
	OpStandardMsg                 = 0x50
	OpExtendedMsg                 = 0x51
	OpX10Received                 = 0x52
	OpAllLinkingCompleted         = 0x53
	OpButtonEventReport           = 0x54
	OpUserResetDetected           = 0x55
	OpAllLinkCleanupFailureReport = 0x56
	OpAllLinkRecordResponse       = 0x57
	OpAllLinkCleanupStatusReport  = 0x58
)

// Opcodes - Host to modem
const (
	OpSendStandardMsg = 0x62
)

// MsgFlags is the message flags byte of a standard or extended message.
//
//	bit 7-5: message type
//	bit 4:   extended message
//	bit 3-2: hops remaining
//	bit 1-0: max hops
type MsgFlags byte

// MsgType is the message type carried in the top three bits of MsgFlags.
type MsgType byte

// Message type values
const (
	MsgTypeDirect          MsgType = 0x00
	MsgTypeAckDirect       MsgType = 0x20
	MsgTypeGroupCleanup    MsgType = 0x40
	MsgTypeAckGroupCleanup MsgType = 0x60
	MsgTypeBroadcast       MsgType = 0x80
	MsgTypeNakDirect       MsgType = 0xA0
	MsgTypeGroupBroadcast  MsgType = 0xC0
	MsgTypeNakGroupCleanup MsgType = 0xE0
)

// Flag bits and fields
const (
	FlagDirect   MsgFlags = MsgFlags(MsgTypeDirect)
	FlagStandard MsgFlags = 0x00
	FlagExtended MsgFlags = 0x10

	FlagHopsRemaining1 MsgFlags = 0x04
	FlagHopsRemaining2 MsgFlags = 0x08
	FlagHopsRemaining3 MsgFlags = 0x0C

	FlagMaxHops1 MsgFlags = 0x01
	FlagMaxHops2 MsgFlags = 0x02
	FlagMaxHops3 MsgFlags = 0x03

	msgTypeMask       = 0xE0
	hopsRemainingMask = 0x0C
	maxHopsMask       = 0x03
)

// DefaultSendFlags is a direct, standard length message with 3 hops
// remaining and 3 max hops (0x0F).
const DefaultSendFlags = FlagDirect | FlagStandard | FlagHopsRemaining3 | FlagMaxHops3

// Standard direct commands (cmd1)
const (
	CmdOn      = 0x11
	CmdOnFast  = 0x12
	CmdOff     = 0x13
	CmdOffFast = 0x14
)

// NewMsgFlags builds a flags byte from its fields. Hop counts are truncated
// to two bits.
func NewMsgFlags(t MsgType, extended bool, hopsRemaining, maxHops uint8) MsgFlags {
	f := MsgFlags(t) & msgTypeMask
	if extended {
		f |= FlagExtended
	}
	f |= MsgFlags(hopsRemaining&0x03) << 2
	f |= MsgFlags(maxHops & 0x03)
	return f
}

// Type returns the message type bits.
func (f MsgFlags) Type() MsgType {
	return MsgType(f & msgTypeMask)
}

// Extended reports whether the extended message bit is set.
func (f MsgFlags) Extended() bool {
	return f&FlagExtended != 0
}

// HopsRemaining returns the hops remaining field.
func (f MsgFlags) HopsRemaining() uint8 {
	return uint8(f&hopsRemainingMask) >> 2
}

// MaxHops returns the max hops field.
func (f MsgFlags) MaxHops() uint8 {
	return uint8(f & maxHopsMask)
}

// String returns the message type name
func (t MsgType) String() string {
	switch t {
	case MsgTypeDirect:
		return "DIRECT"
	case MsgTypeAckDirect:
		return "ACK_DIRECT"
	case MsgTypeGroupCleanup:
		return "GROUP_CLEANUP"
	case MsgTypeAckGroupCleanup:
		return "ACK_GROUP_CLEANUP"
	case MsgTypeBroadcast:
		return "BROADCAST"
	case MsgTypeNakDirect:
		return "NAK_DIRECT"
	case MsgTypeGroupBroadcast:
		return "GROUP_BROADCAST"
	case MsgTypeNakGroupCleanup:
		return "NAK_GROUP_CLEANUP"
	default:
		return "UNKNOWN"
	}
}
