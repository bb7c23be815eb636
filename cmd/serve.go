// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/internal/bus"
	"github.com/Thermoquad/vinsteon/internal/config"
	"github.com/Thermoquad/vinsteon/internal/delivery"
	"github.com/Thermoquad/vinsteon/internal/discovery"
	"github.com/Thermoquad/vinsteon/internal/gateway"
	"github.com/Thermoquad/vinsteon/internal/link"
	"github.com/Thermoquad/vinsteon/internal/logging"
	"github.com/Thermoquad/vinsteon/internal/metrics"
	"github.com/Thermoquad/vinsteon/internal/mqtt"
	"github.com/Thermoquad/vinsteon/internal/rpc"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var (
	serveListen string
	serveMCP    bool
	serveNoHTTP bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Open the modem link and serve device commands until interrupted.

Every frame the modem sends is decoded and fanned out to the delivery
coordinator, the event stream, the MQTT publisher (if enabled) and the debug
log. Commands arrive over:

  HTTP  POST /v1/send, POST /v1/send/reliable, GET /v1/pending, GET /v1/stats,
        GET /v1/events (WebSocket), GET /metrics, GET /healthz
  MCP   send_command, send_command_reliable, list_pending (stdio, --mcp)

With --mcp, stdout carries the MCP protocol and all logging goes to stderr.
The gateway stops when the modem link closes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides http.listen)")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Serve MCP tools on stdio")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "Disable the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.HTTP.Listen = serveListen
	}
	if serveMCP {
		cfg.MCP.Enabled = true
	}
	if serveNoHTTP {
		cfg.HTTP.Enabled = false
		cfg.MDNS.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogging(cfg)
	metrics.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("connection", connInfo).Msg("Modem link open")

	inbound := bus.New[insteon.Message](cfg.Bus.Capacity)
	lnk := link.New(conn, inbound, logging.Component(logger, "link"))
	coordinator := delivery.New(lnk, inbound, cfg.DeliveryConfig(), logging.Component(logger, "delivery"))
	gw := gateway.New(lnk, coordinator, cfg.SendFlags(), logging.Component(logger, "gateway"))

	// Services report here; a nil error is a clean stop
	errCh := make(chan error, 4)

	go logObserver(ctx, inbound, logging.Component(logger, "observer"))

	if cfg.HTTP.Enabled {
		srv := rpc.NewServer(gw, lnk, inbound, logging.Component(logger, "http"))
		go func() { errCh <- srv.ListenAndServe(ctx, cfg.HTTP.Listen) }()

		if cfg.MDNS.Enabled {
			adv, err := advertise(cfg, logging.Component(logger, "mdns"))
			if err != nil {
				logger.Warn().Err(err).Msg("mDNS advertisement unavailable")
			} else {
				defer adv.Shutdown()
			}
		}
	}

	if cfg.MQTT.Enabled {
		pub := mqtt.New(cfg.MQTTConfig(), logging.Component(logger, "mqtt"))
		if err := pub.Connect(ctx); err != nil {
			lnk.Close()
			return err
		}
		defer pub.Disconnect()
		go func() {
			if err := pub.Run(ctx, inbound); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("MQTT publisher stopped")
			}
		}()
	}

	if cfg.MCP.Enabled {
		mcpSrv := rpc.NewMCPServer(gw, Version, logging.Component(logger, "mcp"))
		go func() { errCh <- mcpSrv.Start() }()
	}

	linkDone := make(chan error, 1)
	go func() { linkDone <- lnk.Run(ctx) }()

	var runErr error
	linkStopped := false
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-linkDone:
		linkStopped = true
		if errors.Is(err, link.ErrConnectionClosed) {
			logger.Warn().Msg("Modem link closed")
		} else {
			runErr = err
		}
	case err := <-errCh:
		runErr = err
	}

	stop()
	if !linkStopped {
		if err := <-linkDone; err != nil && runErr == nil && !errors.Is(err, link.ErrConnectionClosed) {
			runErr = err
		}
	}

	stats := lnk.Stats()
	logger.Info().
		Uint64("frames", stats.TotalFrames).
		Uint64("framing_errors", stats.FramingErrors).
		Uint64("noise_bytes", stats.NoiseBytes).
		Msg("Gateway stopped")

	return runErr
}

// logObserver logs every inbound message at debug level.
func logObserver(ctx context.Context, inbound *bus.Bus[insteon.Message], logger zerolog.Logger) {
	_ = inbound.Observe(ctx, "log", func(msg insteon.Message) {
		logger.Debug().
			Str("type", insteon.Name(msg.Opcode())).
			Str("fields", insteon.FormatFields(msg)).
			Msg("Received")
	})
}

func advertise(cfg config.Config, logger zerolog.Logger) (*discovery.Advertiser, error) {
	dcfg, err := cfg.DiscoveryConfig(Version)
	if err != nil {
		return nil, err
	}
	return discovery.Advertise(dcfg, logger)
}
