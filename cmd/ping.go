// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a running gateway is reachable and its modem link is up",
	Long: `Query the gateway health endpoint and report round-trip time and uptime.

This is useful for verifying:
  - The gateway is reachable (explicit --server, mDNS, or config listen address)
  - The serial link to the PowerLinc Modem is still open
  - The decoder has seen traffic since startup

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Gateway could not be resolved`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	addServerFlags(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	server, err := resolveServer(cmd.Context(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		os.Exit(2)
	}
	client := newAPIClient(server)

	fmt.Printf("Vinsteon - Gateway Ping\n")
	fmt.Printf("Server: %s\n", server)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
		startTime := time.Now()
		status, err := client.Health(ctx)
		rtt := time.Since(startTime)
		if err != nil {
			cancel()
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			stats, statsErr := client.Stats(ctx)
			cancel()
			uptime := "unknown"
			if statsErr == nil && !stats.Decoder.StartTime.IsZero() {
				uptime = formatUptime(uint64(time.Since(stats.Decoder.StartTime).Milliseconds()))
			}
			fmt.Printf("%s, uptime=%s, rtt=%v\n", status, uptime, rtt.Round(time.Millisecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
