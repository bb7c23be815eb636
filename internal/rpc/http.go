// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rpc exposes the gateway to remote callers over HTTP and MCP.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/internal/gateway"
	"github.com/Thermoquad/vinsteon/internal/metrics"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// maxBodyBytes bounds request bodies on /v1/send
const maxBodyBytes = 4096

// StatsSource reports decoder statistics, typically a *link.Link.
type StatsSource interface {
	Stats() insteon.Statistics
}

// Server serves the HTTP API.
type Server struct {
	gw       *gateway.Gateway
	stats    StatsSource
	inbound  *bus.Bus[insteon.Message]
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP API over gw.
func NewServer(gw *gateway.Gateway, stats StatsSource, inbound *bus.Bus[insteon.Message], logger zerolog.Logger) *Server {
	return &Server{
		gw:      gw,
		stats:   stats,
		inbound: inbound,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.recordRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/send", s.handleSend)
		r.Post("/send/reliable", s.handleSendReliable)
		r.Get("/pending", s.handlePending)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, path, status, time.Since(start))
	})
}

// SendRequest is the body of /v1/send and /v1/send/reliable. Device takes
// any form ParseAddress accepts; DeviceID is the legacy numeric form.
type SendRequest struct {
	Device   string  `json:"device,omitempty"`
	DeviceID *uint32 `json:"device_id,omitempty"`
	Level    *int    `json:"level"`
}

// Address resolves the target device.
func (req SendRequest) Address() (insteon.Address, error) {
	switch {
	case req.Device != "":
		return insteon.ParseAddress(req.Device)
	case req.DeviceID != nil:
		return insteon.AddressFromUint32(*req.DeviceID), nil
	default:
		return insteon.Address{}, errors.New("device or device_id is required")
	}
}

// SendResponse wraps a gateway acknowledgment.
type SendResponse struct {
	OK bool `json:"ack"`
	gateway.Ack
}

type errorResponse struct {
	OK    bool   `json:"ack"`
	Error string `json:"error"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, s.gw.SendCommand)
}

func (s *Server) handleSendReliable(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, s.gw.SendCommandReliable)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, op func(insteon.Address, int) (gateway.Ack, error)) {
	var req SendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	addr, err := req.Address()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, errors.New("level is required"))
		return
	}

	ack, err := op(addr, *req.Level)
	if err != nil {
		status := StatusFor(err)
		s.log.Warn().Err(err).Str("device", addr.String()).Int("status", status).Msg("Send failed")
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{OK: true, Ack: ack})
}

// StatusFor maps a gateway error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, delivery.ErrExhausted):
		return http.StatusGatewayTimeout
	case errors.Is(err, delivery.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": s.gw.Coordinator().Pending(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decoder": s.stats.Stats(),
		"bus":     s.inbound.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.inbound.Closed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "link down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{OK: false, Error: err.Error()})
}
