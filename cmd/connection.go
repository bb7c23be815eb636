// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/internal/config"
	"github.com/Thermoquad/vinsteon/internal/discovery"
	"github.com/Thermoquad/vinsteon/internal/link"
)

var errNoTransport = errors.New("no connection specified: use --port or --url (or set one in --config)")

// OpenConnection opens the modem transport selected by cfg.
func OpenConnection(cfg config.Config) (link.Connection, string, error) {
	if cfg.Serial.Port == "" && cfg.WebSocket.URL == "" {
		return nil, "", errNoTransport
	}
	return link.Open(cfg.LinkOptions())
}

// Gateway client flags
var (
	serverURL       string
	discoverTimeout time.Duration
)

// addServerFlags registers the flags of commands that talk to a running
// gateway instead of the modem.
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "Gateway base URL (default: mDNS lookup, then the configured http.listen)")
	cmd.Flags().DurationVar(&discoverTimeout, "discover-timeout", 2*time.Second, "mDNS lookup timeout when --server is not set")
}

// resolveServer picks the gateway base URL: --server, then an mDNS answer,
// then the local listen address from the config.
func resolveServer(ctx context.Context, cfg config.Config) (string, error) {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/"), nil
	}

	if svc, err := discovery.First(ctx, cfg.MDNS.Service, discoverTimeout); err == nil {
		return svc.URL(), nil
	}

	if cfg.HTTP.Listen == "" {
		return "", errors.New("no gateway found: use --server")
	}
	listen := cfg.HTTP.Listen
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return fmt.Sprintf("http://%s", listen), nil
}
