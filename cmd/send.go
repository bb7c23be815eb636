// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var (
	sendReliable bool
	sendJSON     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <device> <level>",
	Short: "Turn a device on at a brightness level through a running gateway",
	Long: `Send an ON command to a device through the gateway's HTTP API.

The device is an INSTEON address in any common form (1A.D0.F4, 1A:D0:F4,
1ad0f4) and level is a percentage from 0 to 100.

Without --reliable the command returns once the modem has the frame. With
--reliable the gateway waits for the device to acknowledge, retrying on
timeout, and this command fails if the device never answers.

Examples:
  vinsteon send 1A.D0.F4 100
  vinsteon send 1A.D0.F4 40 --reliable --server http://gateway.local:8470`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	addServerFlags(sendCmd)
	sendCmd.Flags().BoolVarP(&sendReliable, "reliable", "r", false, "Wait for the device to acknowledge")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print the raw JSON response")
}

func runSend(cmd *cobra.Command, args []string) error {
	device, err := insteon.ParseAddress(args[0])
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(args[1])
	if err != nil || !insteon.ValidLevel(level) {
		return fmt.Errorf("level must be a whole number from %d to %d, got %q", insteon.MinLevel, insteon.MaxLevel, args[1])
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	base, err := resolveServer(ctx, cfg)
	if err != nil {
		return err
	}

	resp, err := newAPIClient(base).Send(ctx, device, level, sendReliable)
	if err != nil {
		return err
	}

	if sendJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("OK: %s -> level %d (brightness 0x%02X)\n", resp.Device, resp.Level, resp.Brightness)
	if resp.Reliable {
		status := "acknowledged"
		if resp.Nak {
			status = "NAK"
		}
		fmt.Printf("  %s after %d attempt(s) in %s\n", status, resp.Attempts, resp.Elapsed)
	}
	return nil
}
