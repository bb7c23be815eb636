// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the modem connection: one goroutine reads and decodes
// the inbound byte stream onto a bus, and a mutex serializes outbound frames.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/metrics"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// readBufferSize fits a handful of PLM frames per read
const readBufferSize = 256

// Link connects a modem to the inbound message bus.
type Link struct {
	conn    Connection
	inbound *bus.Bus[insteon.Message]
	log     zerolog.Logger

	writeMu sync.Mutex

	statsMu sync.Mutex
	stats   *insteon.Statistics
	decoder *insteon.Decoder

	closeOnce sync.Once
}

// New creates a link over conn publishing decoded messages to inbound.
func New(conn Connection, inbound *bus.Bus[insteon.Message], logger zerolog.Logger) *Link {
	stats := insteon.NewStatistics()
	decoder := insteon.NewDecoder()
	decoder.Observe(stats)

	return &Link{
		conn:    conn,
		inbound: inbound,
		log:     logger,
		stats:   stats,
		decoder: decoder,
	}
}

// Inbound returns the bus that receives decoded messages.
func (l *Link) Inbound() *bus.Bus[insteon.Message] {
	return l.inbound
}

// Run reads the connection until it fails or ctx is done. Framing errors are
// logged and skipped. When Run returns the inbound bus is closed, which ends
// every pending wait.
func (l *Link) Run(ctx context.Context) error {
	defer l.inbound.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			l.handle(buf[:n])
		}

		if err != nil {
			l.flush()
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				l.log.Info().Msg("Connection closed")
				return ErrConnectionClosed
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Link) handle(data []byte) {
	var msgs []insteon.Message

	l.statsMu.Lock()
	l.decoder.Push(data)
	l.decoder.Drain(func(msg insteon.Message, err error) {
		if err != nil {
			l.framingError(err)
			return
		}
		msgs = append(msgs, msg)
	})
	l.statsMu.Unlock()

	for _, msg := range msgs {
		metrics.RecordFrame(insteon.Name(msg.Opcode()))
		l.inbound.Publish(msg)
	}
}

func (l *Link) flush() {
	l.statsMu.Lock()
	err := l.decoder.Flush()
	l.statsMu.Unlock()

	if err != nil {
		l.framingError(err)
	}
}

func (l *Link) framingError(err error) {
	kind := "unknown"
	var fe *insteon.FrameError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}
	metrics.RecordFramingError(kind)
	l.log.Warn().Err(err).Msg("Framing error")
}

// WriteFrame writes one frame and, on serial ports, waits for it to drain.
// Concurrent calls never interleave on the wire.
func (l *Link) WriteFrame(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	start := time.Now()
	err := l.write(frame)
	metrics.RecordWrite(err == nil)
	if err != nil {
		l.log.Error().Err(err).Str("frame", insteon.FormatBytes(frame)).Msg("Write failed")
		return err
	}

	l.log.Trace().
		Str("frame", insteon.FormatBytes(frame)).
		Dur("took", time.Since(start)).
		Msg("Frame written")
	return nil
}

func (l *Link) write(frame []byte) error {
	n, err := l.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write: %w", io.ErrShortWrite)
	}
	if d, ok := l.conn.(Drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("drain: %w", err)
		}
	}
	return nil
}

// Stats returns a snapshot of the decoder statistics.
func (l *Link) Stats() insteon.Statistics {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats.Snapshot()
}

// ResetStats clears the decoder statistics.
func (l *Link) ResetStats() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.Reset()
}

// Close closes the connection. Run returns shortly after.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}
