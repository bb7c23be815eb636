// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

// Message is a decoded PLM message. There is one concrete type per opcode.
// The set is closed: payload encoding is private to this package.
type Message interface {
	Opcode() byte
	appendPayload(dst []byte) []byte
}

// StandardMsg is a standard length INSTEON message received by the modem (0x50).
type StandardMsg struct {
	From  Address
	To    Address
	Flags MsgFlags
	Cmd1  byte
	Cmd2  byte
}

// ExtendedMsg is an extended length INSTEON message received by the modem (0x51).
type ExtendedMsg struct {
	From     Address
	To       Address
	Flags    MsgFlags
	Cmd1     byte
	Cmd2     byte
	UserData [14]byte
}

// X10Received is an X10 message received by the modem (0x52).
type X10Received struct {
	RawX10  byte
	X10Flag byte
}

// AllLinkingCompleted reports the end of an all-linking session (0x53).
type AllLinkingCompleted struct {
	LinkCode    byte
	Group       byte
	ID          Address
	Category    byte
	Subcategory byte
	Firmware    byte
}

// ButtonEventReport reports a press of the modem's SET button (0x54).
type ButtonEventReport struct {
	Event byte
}

// UserResetDetected reports a factory reset of the modem (0x55).
type UserResetDetected struct{}

// AllLinkCleanupFailureReport reports a device that failed to answer a
// group cleanup (0x56).
type AllLinkCleanupFailureReport struct {
	X01   byte
	Group byte
	ID    Address
}

// AllLinkRecordResponse carries one record of the modem's link database (0x57).
type AllLinkRecordResponse struct {
	RecordFlags byte
	Group       byte
	ID          Address
	LinkData    [3]byte
}

// AllLinkCleanupStatusReport reports the outcome of a group cleanup (0x58).
type AllLinkCleanupStatusReport struct {
	Status byte
}

// SendStandardMsg asks the modem to send a standard length message (0x62).
// It is the only host to modem message.
type SendStandardMsg struct {
	To    Address
	Flags MsgFlags
	Cmd1  byte
	Cmd2  byte
}

func (StandardMsg) Opcode() byte                 { return OpStandardMsg }
func (ExtendedMsg) Opcode() byte                 { return OpExtendedMsg }
func (X10Received) Opcode() byte                 { return OpX10Received }
func (AllLinkingCompleted) Opcode() byte         { return OpAllLinkingCompleted }
func (ButtonEventReport) Opcode() byte           { return OpButtonEventReport }
func (UserResetDetected) Opcode() byte           { return OpUserResetDetected }
func (AllLinkCleanupFailureReport) Opcode() byte { return OpAllLinkCleanupFailureReport }
func (AllLinkRecordResponse) Opcode() byte       { return OpAllLinkRecordResponse }
func (AllLinkCleanupStatusReport) Opcode() byte  { return OpAllLinkCleanupStatusReport }
func (SendStandardMsg) Opcode() byte             { return OpSendStandardMsg }

func (m StandardMsg) appendPayload(dst []byte) []byte {
	dst = append(dst, m.From[:]...)
	dst = append(dst, m.To[:]...)
	return append(dst, byte(m.Flags), m.Cmd1, m.Cmd2)
}

func (m ExtendedMsg) appendPayload(dst []byte) []byte {
	dst = append(dst, m.From[:]...)
	dst = append(dst, m.To[:]...)
	dst = append(dst, byte(m.Flags), m.Cmd1, m.Cmd2)
	return append(dst, m.UserData[:]...)
}

func (m X10Received) appendPayload(dst []byte) []byte {
	return append(dst, m.RawX10, m.X10Flag)
}

func (m AllLinkingCompleted) appendPayload(dst []byte) []byte {
	dst = append(dst, m.LinkCode, m.Group)
	dst = append(dst, m.ID[:]...)
	return append(dst, m.Category, m.Subcategory, m.Firmware)
}

func (m ButtonEventReport) appendPayload(dst []byte) []byte {
	return append(dst, m.Event)
}

func (UserResetDetected) appendPayload(dst []byte) []byte {
	return dst
}

func (m AllLinkCleanupFailureReport) appendPayload(dst []byte) []byte {
	dst = append(dst, m.X01, m.Group)
	return append(dst, m.ID[:]...)
}

func (m AllLinkRecordResponse) appendPayload(dst []byte) []byte {
	dst = append(dst, m.RecordFlags, m.Group)
	dst = append(dst, m.ID[:]...)
	return append(dst, m.LinkData[:]...)
}

func (m AllLinkCleanupStatusReport) appendPayload(dst []byte) []byte {
	return append(dst, m.Status)
}

func (m SendStandardMsg) appendPayload(dst []byte) []byte {
	dst = append(dst, m.To[:]...)
	return append(dst, byte(m.Flags), m.Cmd1, m.Cmd2)
}

// Source returns the sending device of a message that carries one.
func Source(m Message) (Address, bool) {
	switch msg := m.(type) {
	case StandardMsg:
		return msg.From, true
	case ExtendedMsg:
		return msg.From, true
	case AllLinkingCompleted:
		return msg.ID, true
	case AllLinkCleanupFailureReport:
		return msg.ID, true
	case AllLinkRecordResponse:
		return msg.ID, true
	default:
		return Address{}, false
	}
}

// Commands returns cmd1 and cmd2 of a standard or extended message.
func Commands(m Message) (cmd1, cmd2 byte, ok bool) {
	switch msg := m.(type) {
	case StandardMsg:
		return msg.Cmd1, msg.Cmd2, true
	case ExtendedMsg:
		return msg.Cmd1, msg.Cmd2, true
	case SendStandardMsg:
		return msg.Cmd1, msg.Cmd2, true
	default:
		return 0, 0, false
	}
}

// Flags returns the message flags of a standard or extended message.
func Flags(m Message) (MsgFlags, bool) {
	switch msg := m.(type) {
	case StandardMsg:
		return msg.Flags, true
	case ExtendedMsg:
		return msg.Flags, true
	case SendStandardMsg:
		return msg.Flags, true
	default:
		return 0, false
	}
}
