// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// mockConn feeds inbound bytes through a pipe and records writes
type mockConn struct {
	rx   *io.PipeReader
	feed *io.PipeWriter

	mu        sync.Mutex
	txLog     [][]byte
	drains    int
	active    int
	maxActive int
	writeErr  error
	short     bool
}

func newMockConn() *mockConn {
	r, w := io.Pipe()
	return &mockConn{rx: r, feed: w}
}

func (c *mockConn) Read(p []byte) (int, error) {
	return c.rx.Read(p)
}

func (c *mockConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	err, short := c.writeErr, c.short
	c.mu.Unlock()

	time.Sleep(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	if err != nil {
		return 0, err
	}
	if short {
		return len(p) - 1, nil
	}
	c.txLog = append(c.txLog, append([]byte(nil), p...))
	return len(p), nil
}

func (c *mockConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	return nil
}

func (c *mockConn) Close() error {
	c.feed.Close()
	return c.rx.Close()
}

func (c *mockConn) GetTxLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.txLog...)
}

func startLink(t *testing.T, conn Connection) (*Link, *bus.Subscription[insteon.Message], chan error, context.CancelFunc) {
	t.Helper()
	inbound := bus.New[insteon.Message](bus.DefaultCapacity)
	sub := inbound.Subscribe("test")
	l := New(conn, inbound, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return l, sub, done, cancel
}

// ============================================================
// Reader Tests
// ============================================================

func TestRun_PublishesInOrder(t *testing.T) {
	conn := newMockConn()
	l, sub, done, cancel := startLink(t, conn)
	defer cancel()

	std := insteon.StandardMsg{From: insteon.Address{0x1A, 0xD0, 0xF4}, Flags: 0x2F, Cmd1: 0x11, Cmd2: 0xFF}
	stream := []byte{0xFF, 0x00}
	stream = append(stream, insteon.MustEncode(std)...)
	stream = append(stream, insteon.StartByte, 0x99)
	stream = append(stream, insteon.MustEncode(insteon.ButtonEventReport{Event: 0x02})...)

	// Split mid-frame to exercise buffering across reads
	go func() {
		conn.feed.Write(stream[:6])
		conn.feed.Write(stream[6:])
	}()

	first, err := sub.RecvTimeout(time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if first != std {
		t.Errorf("first = %+v, want %+v", first, std)
	}
	second, err := sub.RecvTimeout(time.Second)
	if err != nil {
		t.Fatalf("RecvTimeout: %v", err)
	}
	if second != (insteon.ButtonEventReport{Event: 0x02}) {
		t.Errorf("second = %+v", second)
	}

	stats := l.Stats()
	if stats.TotalFrames != 2 || stats.UnknownOpcodes != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// Two leading bytes plus the rejected opcode.
	if stats.NoiseBytes != 3 {
		t.Errorf("NoiseBytes = %d, want 3", stats.NoiseBytes)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_EOFClosesBus(t *testing.T) {
	conn := newMockConn()
	l, sub, done, cancel := startLink(t, conn)
	defer cancel()

	go func() {
		conn.feed.Write([]byte{insteon.StartByte, insteon.OpStandardMsg, 0x1A})
		conn.feed.Close()
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return on EOF")
	}

	if _, err := sub.RecvTimeout(time.Second); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("expected bus closed, got %v", err)
	}
	if !l.Inbound().Closed() {
		t.Error("inbound bus should be closed")
	}
	if stats := l.Stats(); stats.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", stats.Truncated)
	}

	l.ResetStats()
	if stats := l.Stats(); stats.Truncated != 0 {
		t.Error("ResetStats did not clear counters")
	}
}

// ============================================================
// Writer Tests
// ============================================================

func TestWriteFrame_Serialized(t *testing.T) {
	conn := newMockConn()
	l := New(conn, bus.New[insteon.Message](0), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frame := insteon.EncodeSend(insteon.Address{0x1A, 0xD0, byte(i)}, insteon.DefaultSendFlags, insteon.CmdOn, 0xFF)
			if err := l.WriteFrame(frame); err != nil {
				t.Errorf("WriteFrame: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if conn.maxActive != 1 {
		t.Errorf("%d writes overlapped", conn.maxActive)
	}
	if len(conn.GetTxLog()) != 8 || conn.drains != 8 {
		t.Errorf("writes=%d drains=%d, want 8 each", len(conn.GetTxLog()), conn.drains)
	}
	for _, frame := range conn.GetTxLog() {
		if len(frame) != 8 || !bytes.HasPrefix(frame, []byte{0x02, 0x62}) {
			t.Errorf("malformed frame % X", frame)
		}
	}
}

func TestWriteFrame_Errors(t *testing.T) {
	conn := newMockConn()
	l := New(conn, bus.New[insteon.Message](0), zerolog.Nop())
	frame := insteon.EncodeSend(insteon.Address{1, 2, 3}, insteon.DefaultSendFlags, insteon.CmdOn, 0)

	portErr := errors.New("device not configured")
	conn.writeErr = portErr
	if err := l.WriteFrame(frame); !errors.Is(err, portErr) {
		t.Errorf("expected wrapped port error, got %v", err)
	}

	conn.writeErr = nil
	conn.short = true
	if err := l.WriteFrame(frame); !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("expected io.ErrShortWrite, got %v", err)
	}
}

// ============================================================
// WebSocket Transport Tests
// ============================================================

func TestWebSocketConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ws.WriteMessage(websocket.TextMessage, []byte("hello"))
		ws.WriteMessage(websocket.BinaryMessage, []byte{0x02, 0x54, 0x03})

		_, data, err := ws.ReadMessage()
		if err == nil {
			received <- data
		}
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, err := OpenWebSocketConnection(wsURL, "admin", "wrong", false); err == nil {
		t.Error("expected auth failure")
	}

	conn, err := OpenWebSocketConnection(wsURL, "admin", "secret", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	if err != nil || n != 2 || !bytes.Equal(buf, []byte{0x02, 0x54}) {
		t.Fatalf("first read = % X, %v", buf[:n], err)
	}
	n, err = conn.Read(buf)
	if err != nil || n != 1 || buf[0] != 0x03 {
		t.Fatalf("second read = % X, %v", buf[:n], err)
	}

	frame := insteon.EncodeSend(insteon.Address{0x1A, 0xD0, 0xF4}, insteon.DefaultSendFlags, insteon.CmdOn, 0xFF)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, frame) {
			t.Errorf("server received % X", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not receive frame")
	}

	if _, err := conn.Read(buf); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if _, err := conn.Read(buf); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("closed connection should stay closed, got %v", err)
	}
}

func TestOpen_RequiresTransport(t *testing.T) {
	if _, _, err := Open(Options{}); err == nil {
		t.Error("expected error without port or URL")
	}
	if _, err := DialWebSocket("http://example.invalid", "", "", false); err == nil {
		t.Error("expected scheme error")
	}
}
