// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomMessage decodes a random payload for a random registered opcode
func randomMessage(rng *rand.Rand) Message {
	ops := Opcodes()
	op := ops[rng.Intn(len(ops))]
	size, _ := Size(op)
	payload := make([]byte, size)
	rng.Read(payload)
	msg, _ := Decode(op, payload)
	return msg
}

// randomNoise returns bytes that never contain a start byte
func randomNoise(rng *rand.Rand, max int) []byte {
	noise := make([]byte, rng.Intn(max+1))
	for i := range noise {
		b := byte(rng.Intn(256))
		if b == StartByte {
			b = 0x00
		}
		noise[i] = b
	}
	return noise
}

// ============================================================
// Fuzz Tests
// ============================================================

// Random data never panics and never grows the buffer beyond one frame.
func TestFuzz_RandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	d := NewDecoder()
	for i := 0; i < rounds; i++ {
		chunk := make([]byte, rng.Intn(64))
		rng.Read(chunk)
		d.Push(chunk)
		d.Drain(func(Message, error) {})

		if d.Buffered() >= MaxFrameSize {
			t.Fatalf("round %d: %d bytes buffered after drain", i, d.Buffered())
		}
	}
	_ = d.Flush()
}

// Messages separated by marker-free noise and split at random points are
// all recovered in order.
func TestFuzz_NoiseAndSplits(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	var want []Message
	var stream []byte
	for i := 0; i < rounds; i++ {
		stream = append(stream, randomNoise(rng, 8)...)
		msg := randomMessage(rng)
		want = append(want, msg)
		stream = append(stream, MustEncode(msg)...)
	}

	d := NewDecoder()
	var got []Message
	for len(stream) > 0 {
		n := 1 + rng.Intn(32)
		if n > len(stream) {
			n = len(stream)
		}
		d.Push(stream[:n])
		stream = stream[n:]
		d.Drain(func(msg Message, err error) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, msg)
		})
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
