// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Statistics tracks decoded traffic and error rates. It is not safe for
// concurrent use.
type Statistics struct {
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`

	// Counters
	TotalFrames    uint64            `json:"total_frames"`
	FramingErrors  uint64            `json:"framing_errors"`
	UnknownOpcodes uint64            `json:"unknown_opcodes"`
	Truncated      uint64            `json:"truncated"`
	NoiseBytes     uint64            `json:"noise_bytes"`
	ByType         map[string]uint64 `json:"by_type"`

	// Rates (calculated)
	FrameRate float64 `json:"frame_rate"` // frames/sec
	ErrorRate float64 `json:"error_rate"` // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByType:         make(map[string]uint64),
	}
}

// Update records a decoded message or a framing error
func (s *Statistics) Update(msg Message, err error) {
	if err != nil {
		s.FramingErrors++
		switch {
		case errors.Is(err, ErrUnknownOpcode):
			s.UnknownOpcodes++
		case errors.Is(err, ErrTruncated):
			s.Truncated++
		}
		s.LastUpdateTime = time.Now()
		return
	}
	if msg == nil {
		return
	}

	s.TotalFrames++
	s.ByType[Name(msg.Opcode())]++
	s.LastUpdateTime = time.Now()
}

// AddNoise records bytes discarded while hunting for a start byte
func (s *Statistics) AddNoise(n int) {
	s.NoiseBytes += uint64(n)
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.FramingErrors) / elapsed
	}
}

// Snapshot returns a copy with rates calculated
func (s *Statistics) Snapshot() Statistics {
	s.CalculateRates()
	out := *s
	out.ByType = make(map[string]uint64, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	return out
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var errorPercent float64
	if total := s.TotalFrames + s.FramingErrors; total > 0 {
		errorPercent = float64(s.FramingErrors) * 100.0 / float64(total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)

	names := make([]string, 0, len(s.ByType))
	for name := range s.ByType {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result += fmt.Sprintf("  %-32s %5d\n", name+":", s.ByType[name])
	}

	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, errorPercent)
		if s.UnknownOpcodes > 0 {
			result += fmt.Sprintf("  Unknown Opcode:   %5d\n", s.UnknownOpcodes)
		}
		if s.Truncated > 0 {
			result += fmt.Sprintf("  Truncated:        %5d\n", s.Truncated)
		}
	}
	if s.NoiseBytes > 0 {
		result += fmt.Sprintf("Noise Bytes:     %8d\n", s.NoiseBytes)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalFrames = 0
	s.FramingErrors = 0
	s.UnknownOpcodes = 0
	s.Truncated = 0
	s.NoiseBytes = 0
	s.ByType = make(map[string]uint64)
	s.FrameRate = 0
	s.ErrorRate = 0
}
