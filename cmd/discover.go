// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/internal/discovery"
)

var (
	discoverWait    int
	discoverService string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find gateways on the local network",
	Long: `Query mDNS for running gateways and list every answer.

A gateway advertises itself when [mdns] enabled = true in its config. The
service type defaults to _vinsteon._tcp.

Exit codes:
  0 - At least one gateway found
  1 - No gateways answered before the timeout
  2 - Query error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverWait, "timeout", 3, "Timeout in seconds for discovery")
	discoverCmd.Flags().StringVar(&discoverService, "service", "", "mDNS service type (default from config)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	service := cfg.MDNS.Service
	if discoverService != "" {
		service = discoverService
	}

	fmt.Printf("vinsteon - Gateway Discovery\n")
	fmt.Printf("Service: %s\n", service)
	fmt.Printf("Timeout: %d seconds\n\n", discoverWait)

	timeout := time.Duration(discoverWait) * time.Second
	found, err := discovery.Lookup(context.Background(), service, timeout)
	if err != nil && len(found) == 0 {
		fmt.Fprintf(os.Stderr, "QUERY FAILED: %v\n", err)
		os.Exit(2)
	}

	for _, svc := range found {
		fmt.Printf("Gateway found:\n")
		fmt.Printf("  Name: %s\n", svc.Name)
		fmt.Printf("  Host: %s\n", svc.Host)
		fmt.Printf("  URL: %s\n", svc.URL())
		if len(svc.Info) > 0 {
			fmt.Printf("  Info: %s\n", strings.Join(svc.Info, ", "))
		}
		fmt.Println()
	}

	// Summary
	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Gateways found: %d\n", len(found))

	if len(found) == 0 {
		fmt.Printf("No gateways discovered. Check that serve is running with mDNS enabled.\n")
		os.Exit(1)
	}

	return nil
}
