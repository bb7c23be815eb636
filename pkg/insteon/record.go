// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is a timestamped message as published to event stream clients.
// On the wire it is the CBOR array [time_ms, opcode, payload].
type Record struct {
	_       struct{} `cbor:",toarray"`
	TimeMs  int64
	Opcode  uint8
	Payload []byte
}

// NewRecord captures m as seen at time at
func NewRecord(m Message, at time.Time) Record {
	frame := MustEncode(m)
	return Record{
		TimeMs:  at.UnixMilli(),
		Opcode:  m.Opcode(),
		Payload: frame[2:],
	}
}

// Time returns the capture time
func (r Record) Time() time.Time {
	return time.UnixMilli(r.TimeMs)
}

// Message decodes the record payload through the registry
func (r Record) Message() (Message, error) {
	return Decode(r.Opcode, r.Payload)
}

// MarshalRecord encodes r as CBOR
func MarshalRecord(r Record) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a CBOR record
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if len(data) == 0 {
		return r, fmt.Errorf("empty CBOR payload")
	}
	if err := cbor.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return r, nil
}

type recordJSON struct {
	Time    time.Time `json:"time"`
	Opcode  uint8     `json:"opcode"`
	Type    string    `json:"type"`
	From    string    `json:"from,omitempty"`
	Fields  string    `json:"fields,omitempty"`
	Payload string    `json:"payload"`
}

// MarshalJSON renders the record with its decoded type and source
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Time:    r.Time().UTC(),
		Opcode:  r.Opcode,
		Type:    Name(r.Opcode),
		Payload: strings.ToUpper(hex.EncodeToString(r.Payload)),
	}
	if msg, err := r.Message(); err == nil {
		if from, ok := Source(msg); ok {
			out.From = from.String()
		}
		out.Fields = FormatFields(msg)
	}
	return json.Marshal(out)
}
