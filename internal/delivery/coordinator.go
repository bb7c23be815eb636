// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package delivery sends PLM commands and waits for the addressed device to
// answer, retrying a bounded number of times.
//
// The wire protocol carries no request id. A reply is correlated by the
// sending address of an inbound standard or extended message and, unless
// disabled, by its cmd1 echoing the command that was sent. Any number of
// requests may be in flight at once; each has its own bus subscription and
// its own lock.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/metrics"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var (
	// ErrExhausted is returned when every attempt timed out.
	ErrExhausted = errors.New("delivery: no acknowledgment after all attempts")

	// ErrClosed is returned when the inbound bus closes while waiting.
	ErrClosed = errors.New("delivery: inbound stream closed")
)

// Defaults
const (
	DefaultAckTimeout  = time.Second
	DefaultMaxAttempts = 8
)

// FrameWriter writes one complete frame to the modem. Implementations must
// serialize concurrent calls.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Config controls retry behavior.
type Config struct {
	// AckTimeout is how long each attempt waits for a reply.
	AckTimeout time.Duration
	// MaxAttempts is the total number of writes, the first included.
	MaxAttempts int
	// MatchCommand requires the reply cmd1 to echo the sent cmd1.
	MatchCommand bool
}

// DefaultConfig returns the default retry behavior.
func DefaultConfig() Config {
	return Config{
		AckTimeout:   DefaultAckTimeout,
		MaxAttempts:  DefaultMaxAttempts,
		MatchCommand: true,
	}
}

// Receipt describes a completed reliable send.
type Receipt struct {
	RequestID uuid.UUID
	Target    insteon.Address
	Attempts  int
	Elapsed   time.Duration
	// Reply is the inbound message that satisfied the request, if any.
	Reply insteon.Message
}

// Nak reports whether the device answered with a negative acknowledgment.
func (r Receipt) Nak() bool {
	switch m := r.Reply.(type) {
	case insteon.StandardMsg:
		return m.Flags.Type() == insteon.MsgTypeNakDirect
	case insteon.ExtendedMsg:
		return m.Flags.Type() == insteon.MsgTypeNakDirect
	}
	return false
}

// Coordinator tracks reliable sends.
type Coordinator struct {
	cfg     Config
	writer  FrameWriter
	inbound *bus.Bus[insteon.Message]
	log     zerolog.Logger

	mu      sync.RWMutex
	pending map[uuid.UUID]*Request
}

// New creates a coordinator writing through w and reading replies from inbound.
func New(w FrameWriter, inbound *bus.Bus[insteon.Message], cfg Config, logger zerolog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Coordinator{
		cfg:     cfg,
		writer:  w,
		inbound: inbound,
		log:     logger,
		pending: make(map[uuid.UUID]*Request),
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Submit writes cmd and blocks until the target replies, every attempt has
// timed out (ErrExhausted), a write fails or the inbound bus closes
// (ErrClosed).
func (c *Coordinator) Submit(cmd insteon.SendStandardMsg) (Receipt, error) {
	req := newRequest(cmd, c.cfg.MaxAttempts)
	receipt := Receipt{RequestID: req.ID, Target: req.Target}

	// Subscribe before the first write so an immediate reply is not missed.
	sub := c.inbound.Subscribe("delivery:" + req.ID.String())
	defer sub.Close()

	c.add(req)
	defer c.remove(req.ID)

	log := c.log.With().
		Str("request", req.ID.String()).
		Str("device", req.Target.String()).
		Logger()

	for {
		attempt := req.sent()
		receipt.Attempts = attempt
		metrics.RecordDeliveryAttempt()

		if attempt > 1 {
			log.Info().Int("attempt", attempt).Int("max", c.cfg.MaxAttempts).Msg("No acknowledgment, resending")
		}

		if err := c.writer.WriteFrame(req.Frame); err != nil {
			req.finish(StateFailed)
			receipt.Elapsed = time.Since(req.Created)
			metrics.RecordDeliveryResult(StateFailed.String(), receipt.Elapsed)
			log.Error().Err(err).Int("attempt", attempt).Msg("Write failed")
			return receipt, fmt.Errorf("send to %s: %w", req.Target, err)
		}

		reply, err := c.await(sub, req)
		receipt.Elapsed = time.Since(req.Created)

		switch {
		case err == nil:
			req.finish(StateAcked)
			receipt.Reply = reply
			metrics.RecordDeliveryResult(StateAcked.String(), receipt.Elapsed)
			log.Debug().Int("attempts", attempt).Dur("elapsed", receipt.Elapsed).Msg("Acknowledged")
			return receipt, nil

		case errors.Is(err, bus.ErrTimeout):
			if req.exhausted() {
				req.finish(StateExhausted)
				metrics.RecordDeliveryResult(StateExhausted.String(), receipt.Elapsed)
				log.Warn().Int("attempts", attempt).Msg("Retry budget exhausted")
				return receipt, fmt.Errorf("send to %s after %d attempts: %w", req.Target, attempt, ErrExhausted)
			}

		default:
			req.finish(StateFailed)
			metrics.RecordDeliveryResult(StateFailed.String(), receipt.Elapsed)
			return receipt, fmt.Errorf("send to %s: %w", req.Target, ErrClosed)
		}
	}
}

// await blocks until a matching reply arrives or the attempt deadline
// passes. Unrelated traffic does not extend the deadline.
func (c *Coordinator) await(sub *bus.Subscription[insteon.Message], req *Request) (insteon.Message, error) {
	deadline := time.Now().Add(c.cfg.AckTimeout)
	req.awaiting(deadline)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, bus.ErrTimeout
			}
			return nil, err
		}
		if c.matches(req, msg) {
			return msg, nil
		}
	}
}

func (c *Coordinator) matches(req *Request, msg insteon.Message) bool {
	var from insteon.Address
	var cmd1 byte

	switch m := msg.(type) {
	case insteon.StandardMsg:
		from, cmd1 = m.From, m.Cmd1
	case insteon.ExtendedMsg:
		from, cmd1 = m.From, m.Cmd1
	default:
		return false
	}

	if from != req.Target {
		return false
	}
	if c.cfg.MatchCommand && cmd1 != req.Command.Cmd1 {
		return false
	}
	return true
}

func (c *Coordinator) add(req *Request) {
	c.mu.Lock()
	c.pending[req.ID] = req
	n := len(c.pending)
	c.mu.Unlock()
	metrics.SetDeliveryPending(n)
}

func (c *Coordinator) remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()
	metrics.SetDeliveryPending(n)
}

// Pending returns a snapshot of in-flight requests, oldest first.
func (c *Coordinator) Pending() []RequestSnapshot {
	c.mu.RLock()
	reqs := make([]*Request, 0, len(c.pending))
	for _, req := range c.pending {
		reqs = append(reqs, req)
	}
	c.mu.RUnlock()

	out := make([]RequestSnapshot, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
