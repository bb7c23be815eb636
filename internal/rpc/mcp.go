// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vinsteon/internal/gateway"
	"github.com/Thermoquad/vinsteon/internal/metrics"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// MCPServer exposes the gateway as MCP tools over stdio.
type MCPServer struct {
	Server *server.MCPServer
	gw     *gateway.Gateway
	log    zerolog.Logger
}

// NewMCPServer creates the MCP server and registers its tools.
func NewMCPServer(gw *gateway.Gateway, version string, logger zerolog.Logger) *MCPServer {
	s := &MCPServer{
		Server: server.NewMCPServer("vinsteon", version),
		gw:     gw,
		log:    logger,
	}
	s.registerTools()
	return s
}

// Start serves MCP on stdin/stdout until stdin closes.
func (s *MCPServer) Start() error {
	s.log.Info().Msg("Started stdio MCP server")
	defer s.log.Info().Msg("Shut down stdio MCP server")
	return server.ServeStdio(s.Server)
}

func (s *MCPServer) registerTools() {
	sendTool := mcp.NewTool("send_command",
		mcp.WithDescription("Turn an INSTEON device on at a brightness level without waiting for the device to answer"),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Device address, e.g. 1A.D0.F4"),
		),
		mcp.WithNumber("level",
			mcp.Required(),
			mcp.Description("Brightness level from 0 to 100"),
		),
	)
	s.Server.AddTool(sendTool, s.handleSendCommand)

	reliableTool := mcp.NewTool("send_command_reliable",
		mcp.WithDescription("Turn an INSTEON device on at a brightness level and wait for its acknowledgment, retrying on timeout"),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Device address, e.g. 1A.D0.F4"),
		),
		mcp.WithNumber("level",
			mcp.Required(),
			mcp.Description("Brightness level from 0 to 100"),
		),
	)
	s.Server.AddTool(reliableTool, s.handleSendCommandReliable)

	pendingTool := mcp.NewTool("list_pending",
		mcp.WithDescription("List reliable sends still waiting for an acknowledgment"),
	)
	s.Server.AddTool(pendingTool, s.handleListPending)
}

func (s *MCPServer) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.send(request, "send_command", s.gw.SendCommand)
}

func (s *MCPServer) handleSendCommandReliable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.send(request, "send_command_reliable", s.gw.SendCommandReliable)
}

func (s *MCPServer) send(request mcp.CallToolRequest, tool string, op func(insteon.Address, int) (gateway.Ack, error)) (*mcp.CallToolResult, error) {
	device, err := request.RequireString("device")
	if err != nil {
		metrics.RecordMCPCall(tool, false)
		return mcp.NewToolResultError("device is required and must be a string"), nil
	}
	level, err := request.RequireFloat("level")
	if err != nil || level != math.Trunc(level) {
		metrics.RecordMCPCall(tool, false)
		return mcp.NewToolResultError("level is required and must be a whole number"), nil
	}

	addr, err := insteon.ParseAddress(device)
	if err != nil {
		metrics.RecordMCPCall(tool, false)
		return mcp.NewToolResultError(err.Error()), nil
	}

	ack, err := op(addr, int(level))
	if err != nil {
		metrics.RecordMCPCall(tool, false)
		s.log.Warn().Err(err).Str("tool", tool).Str("device", addr.String()).Msg("Tool call failed")
		return mcp.NewToolResultError(fmt.Sprintf("Error sending command: %v", err)), nil
	}

	metrics.RecordMCPCall(tool, true)
	resultBytes, _ := json.Marshal(SendResponse{OK: true, Ack: ack})
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (s *MCPServer) handleListPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := s.gw.Coordinator().Pending()
	result := map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	}

	metrics.RecordMCPCall("list_pending", true)
	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}
