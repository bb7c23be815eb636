// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// State is the lifecycle position of a pending request.
type State int

const (
	StateSent State = iota
	StateAwaitingAck
	StateAcked
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateAcked:
		return "acked"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAcked || s == StateExhausted || s == StateFailed
}

// Request is one reliable send in flight.
type Request struct {
	ID      uuid.UUID
	Target  insteon.Address
	Command insteon.SendStandardMsg
	Frame   []byte
	Created time.Time

	mu        sync.Mutex
	state     State
	attempts  int
	remaining int
	deadline  time.Time
}

func newRequest(cmd insteon.SendStandardMsg, maxAttempts int) *Request {
	return &Request{
		ID:        uuid.New(),
		Target:    cmd.To,
		Command:   cmd,
		Frame:     insteon.MustEncode(cmd),
		Created:   time.Now(),
		state:     StateSent,
		remaining: maxAttempts,
	}
}

// sent records a write about to happen.
func (r *Request) sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSent
	r.attempts++
	r.remaining--
	return r.attempts
}

func (r *Request) awaiting(deadline time.Time) {
	r.mu.Lock()
	r.state = StateAwaitingAck
	r.deadline = deadline
	r.mu.Unlock()
}

func (r *Request) finish(state State) {
	r.mu.Lock()
	r.state = state
	r.deadline = time.Time{}
	r.mu.Unlock()
}

func (r *Request) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining <= 0
}

// RequestSnapshot is a point-in-time copy of a Request.
type RequestSnapshot struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Cmd1      byte      `json:"cmd1"`
	Cmd2      byte      `json:"cmd2"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Remaining int       `json:"remaining"`
	Deadline  time.Time `json:"deadline"`
	Created   time.Time `json:"created"`
}

// Snapshot copies the request state.
func (r *Request) Snapshot() RequestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RequestSnapshot{
		ID:        r.ID.String(),
		Target:    r.Target.String(),
		Cmd1:      r.Command.Cmd1,
		Cmd2:      r.Command.Cmd2,
		State:     r.state.String(),
		Attempts:  r.attempts,
		Remaining: r.remaining,
		Deadline:  r.deadline,
		Created:   r.Created,
	}
}
