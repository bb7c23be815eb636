// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams every inbound message to a WebSocket client as a
// binary CBOR insteon.Record. A slow client loses the oldest messages.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Event stream upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading detects its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("Event stream client connected")

	err = s.inbound.Observe(ctx, "events:"+r.RemoteAddr, func(msg insteon.Message) {
		data, err := insteon.MarshalRecord(insteon.NewRecord(msg, time.Now()))
		if err != nil {
			log.Error().Err(err).Msg("Record encode failed")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			cancel()
		}
	})

	if err == nil {
		// Bus closed: the link is gone
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "link closed"),
			time.Now().Add(time.Second))
	}
	log.Info().Msg("Event stream client disconnected")
}
