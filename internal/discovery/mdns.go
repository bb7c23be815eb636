// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package discovery advertises and finds gateways on the local network with
// mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a lookup when the caller passes zero.
const DefaultTimeout = 3 * time.Second

// Config describes the advertised service.
type Config struct {
	Instance string
	Service  string
	Port     int
	Info     []string
}

// Advertiser answers mDNS queries for one service until shut down.
type Advertiser struct {
	server *mdns.Server
	log    zerolog.Logger
}

// Advertise starts answering queries for cfg.
func Advertise(cfg Config, logger zerolog.Logger) (*Advertiser, error) {
	svc, err := mdns.NewMDNSService(cfg.Instance, cfg.Service, "", "", cfg.Port, nil, cfg.Info)
	if err != nil {
		return nil, fmt.Errorf("mdns service %s: %w", cfg.Service, err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}

	logger.Info().
		Str("instance", cfg.Instance).
		Str("service", cfg.Service).
		Int("port", cfg.Port).
		Msg("Advertising over mDNS")

	return &Advertiser{server: server, log: logger}, nil
}

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	a.log.Info().Msg("Stopped mDNS advertisement")
	return a.server.Shutdown()
}

// Service is one discovered gateway.
type Service struct {
	Name string   `json:"name"`
	Host string   `json:"host"`
	Addr net.IP   `json:"addr"`
	Port int      `json:"port"`
	Info []string `json:"info,omitempty"`
}

// URL is the base HTTP URL of the gateway API.
func (s Service) URL() string {
	return "http://" + net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port))
}

// Lookup queries for service and returns every answer received before
// timeout or ctx is done.
func Lookup(ctx context.Context, service string, timeout time.Duration) ([]Service, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(entries)
		errCh <- mdns.Query(&mdns.QueryParam{
			Service:     service,
			Timeout:     timeout,
			Entries:     entries,
			DisableIPv6: true,
		})
	}()

	var found []Service
	seen := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				if err := <-errCh; err != nil {
					return found, fmt.Errorf("mdns lookup %s: %w", service, err)
				}
				return found, nil
			}
			svc, valid := fromEntry(entry)
			if !valid || seen[svc.Name] {
				continue
			}
			seen[svc.Name] = true
			found = append(found, svc)
		case <-ctx.Done():
			return found, ctx.Err()
		}
	}
}

// First returns the first gateway that answers.
func First(ctx context.Context, service string, timeout time.Duration) (Service, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := Lookup(ctx, service, timeout)
	if len(found) > 0 {
		return found[0], nil
	}
	if err != nil && ctx.Err() == nil {
		return Service{}, err
	}
	return Service{}, fmt.Errorf("no %s service found", service)
}

func fromEntry(entry *mdns.ServiceEntry) (Service, bool) {
	if entry == nil || entry.Port == 0 {
		return Service{}, false
	}
	addr := entry.AddrV4
	if addr == nil {
		addr = entry.AddrV6
	}
	if addr == nil {
		return Service{}, false
	}
	return Service{
		Name: entry.Name,
		Host: entry.Host,
		Addr: addr,
		Port: entry.Port,
		Info: entry.InfoFields,
	}, true
}

// PortFromListen extracts the port of a host:port listen address.
func PortFromListen(listen string) (int, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: invalid port", listen)
	}
	return port, nil
}
