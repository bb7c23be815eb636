// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import "bytes"

// DecoderStats counts what a Decoder has consumed.
type DecoderStats struct {
	Frames        uint64
	NoiseBytes    uint64
	FramingErrors uint64
}

// Decoder turns a PLM byte stream into messages. Bytes are appended with
// Push and messages are taken one at a time with Next. A Decoder is not safe
// for concurrent use; it belongs to the goroutine reading the transport.
type Decoder struct {
	buf   []byte
	stats DecoderStats
	obs   *Statistics
}

// NewDecoder creates a new decoder
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 2*MaxFrameSize)}
}

// Observe records every frame, framing error and noise byte into s.
func (d *Decoder) Observe(s *Statistics) {
	d.obs = s
}

// Push appends bytes read from the transport.
func (d *Decoder) Push(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next returns the next complete message, or (nil, nil) when more bytes are
// needed. A *FrameError is returned for an unknown opcode; the decoder drops
// that start byte and the caller may keep calling Next.
func (d *Decoder) Next() (Message, error) {
	i := bytes.IndexByte(d.buf, StartByte)
	if i < 0 {
		// Nothing here can start a frame.
		d.discardNoise(len(d.buf))
		return nil, nil
	}
	d.discardNoise(i)

	if len(d.buf) < 2 {
		return nil, nil
	}

	opcode := d.buf[1]
	size, ok := Size(opcode)
	if !ok {
		// Drop the start byte only. The opcode byte may itself be a start byte.
		d.consume(1)
		d.stats.FramingErrors++
		err := &FrameError{Kind: UnknownOpcode, Opcode: opcode}
		if d.obs != nil {
			d.obs.Update(nil, err)
		}
		return nil, err
	}

	if len(d.buf) < 2+size {
		return nil, nil
	}

	msg, err := Decode(opcode, d.buf[2:2+size])
	if err != nil {
		panic("insteon: decode of validated frame failed: " + err.Error())
	}
	d.consume(2 + size)
	d.stats.Frames++
	if d.obs != nil {
		d.obs.Update(msg, nil)
	}

	return msg, nil
}

// Drain calls fn for every message or framing error that can be decoded from
// the buffered bytes.
func (d *Decoder) Drain(fn func(Message, error)) {
	for {
		msg, err := d.Next()
		if msg == nil && err == nil {
			return
		}
		fn(msg, err)
	}
}

// Flush reports and clears a partial frame left at the end of a stream.
func (d *Decoder) Flush() error {
	if len(d.buf) == 0 {
		return nil
	}

	i := bytes.IndexByte(d.buf, StartByte)
	if i < 0 {
		d.discardNoise(len(d.buf))
		return nil
	}
	d.discardNoise(i)

	err := &FrameError{Kind: Truncated, Buffered: len(d.buf)}
	if len(d.buf) > 1 {
		err.Opcode = d.buf[1]
	}
	d.buf = d.buf[:0]
	d.stats.FramingErrors++
	if d.obs != nil {
		d.obs.Update(nil, err)
	}
	return err
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Stats returns the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Reset clears the buffer and counters.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.stats = DecoderStats{}
}

func (d *Decoder) discardNoise(n int) {
	if n == 0 {
		return
	}
	d.stats.NoiseBytes += uint64(n)
	if d.obs != nil {
		d.obs.AddNoise(n)
	}
	d.consume(n)
}

func (d *Decoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}
