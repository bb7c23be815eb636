// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m Message, ts time.Time) string {
	timestamp := ts.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X)", timestamp, Name(m.Opcode()), m.Opcode())
	if fields := FormatFields(m); fields != "" {
		result += " " + fields
	}
	return result + "\n"
}

// FormatFields returns the message fields as key=value pairs
func FormatFields(m Message) string {
	switch msg := m.(type) {
	case StandardMsg:
		return fmt.Sprintf("from=%s to=%s flags=%s cmd1=0x%02X cmd2=0x%02X",
			msg.From, msg.To, FormatFlags(msg.Flags), msg.Cmd1, msg.Cmd2)
	case ExtendedMsg:
		return fmt.Sprintf("from=%s to=%s flags=%s cmd1=0x%02X cmd2=0x%02X data=%s",
			msg.From, msg.To, FormatFlags(msg.Flags), msg.Cmd1, msg.Cmd2,
			strings.ToUpper(hex.EncodeToString(msg.UserData[:])))
	case X10Received:
		return fmt.Sprintf("raw=0x%02X flag=0x%02X", msg.RawX10, msg.X10Flag)
	case AllLinkingCompleted:
		return fmt.Sprintf("code=0x%02X group=%d id=%s cat=0x%02X subcat=0x%02X fw=0x%02X",
			msg.LinkCode, msg.Group, msg.ID, msg.Category, msg.Subcategory, msg.Firmware)
	case ButtonEventReport:
		return fmt.Sprintf("event=0x%02X", msg.Event)
	case UserResetDetected:
		return ""
	case AllLinkCleanupFailureReport:
		return fmt.Sprintf("x01=0x%02X group=%d id=%s", msg.X01, msg.Group, msg.ID)
	case AllLinkRecordResponse:
		return fmt.Sprintf("flags=0x%02X group=%d id=%s data=%02X%02X%02X",
			msg.RecordFlags, msg.Group, msg.ID, msg.LinkData[0], msg.LinkData[1], msg.LinkData[2])
	case AllLinkCleanupStatusReport:
		status := "ACK"
		if msg.Status != 0x06 {
			status = "NAK"
		}
		return fmt.Sprintf("status=0x%02X (%s)", msg.Status, status)
	case SendStandardMsg:
		return fmt.Sprintf("to=%s flags=%s cmd1=0x%02X cmd2=0x%02X",
			msg.To, FormatFlags(msg.Flags), msg.Cmd1, msg.Cmd2)
	default:
		return ""
	}
}

// FormatFlags returns the flags byte with its decoded fields
func FormatFlags(f MsgFlags) string {
	length := "std"
	if f.Extended() {
		length = "ext"
	}
	return fmt.Sprintf("0x%02X(%s,%s,hops=%d/%d)", byte(f), f.Type(), length, f.HopsRemaining(), f.MaxHops())
}

// FormatBytes formats raw bytes as space separated hex
func FormatBytes(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
