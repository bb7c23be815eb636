// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/internal/rpc"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// clientTimeout covers a reliable send that uses every attempt.
const clientTimeout = 30 * time.Second

// apiClient talks to the HTTP API of a running gateway.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: clientTimeout},
	}
}

// statsResponse mirrors GET /v1/stats.
type statsResponse struct {
	Decoder insteon.Statistics `json:"decoder"`
	Bus     bus.Stats          `json:"bus"`
}

// Send turns device on at level, waiting for its acknowledgment when
// reliable is set.
func (c *apiClient) Send(ctx context.Context, device insteon.Address, level int, reliable bool) (rpc.SendResponse, error) {
	path := "/v1/send"
	if reliable {
		path = "/v1/send/reliable"
	}

	body, err := json.Marshal(rpc.SendRequest{Device: device.String(), Level: &level})
	if err != nil {
		return rpc.SendResponse{}, err
	}

	var resp rpc.SendResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return rpc.SendResponse{}, err
	}
	return resp, nil
}

// Stats fetches the decoder and bus counters.
func (c *apiClient) Stats(ctx context.Context) (statsResponse, error) {
	var resp statsResponse
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp)
	return resp, err
}

// Pending lists reliable sends still waiting for an acknowledgment.
func (c *apiClient) Pending(ctx context.Context) ([]delivery.RequestSnapshot, error) {
	var resp struct {
		Pending []delivery.RequestSnapshot `json:"pending"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/pending", nil, &resp)
	return resp.Pending, err
}

// Health reports the gateway link status.
func (c *apiClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp)
	return resp.Status, err
}

// DialEvents opens the /v1/events stream.
func (c *apiClient) DialEvents() (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("event stream %s: %w", url, err)
	}
	return conn, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// readEvent reads the next record from the event stream. A record that
// fails to decode is reported in the event; err is reserved for the stream.
func readEvent(conn *websocket.Conn) (eventMsg, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return eventMsg{}, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		record, err := insteon.UnmarshalRecord(data)
		if err != nil {
			return eventMsg{err: err}, nil
		}
		msg, err := record.Message()
		return eventMsg{record: record, msg: msg, err: err}, nil
	}
}
