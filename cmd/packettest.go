// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid PLM frame",
	Long: `Wait for a valid PLM frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
with a known opcode and a complete payload. Noise and framing errors are
counted but otherwise ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking the modem is attached and talking before running serve.
Pressing the SET button on the modem produces a BUTTON_EVENT_REPORT.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("vinsteon - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid PLM frame...\n\n")

	decoder := insteon.NewDecoder()
	buf := make([]byte, 128)

	// Channel for frame reception
	msgChan := make(chan insteon.Message, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			decoder.Push(buf[:n])
			for {
				msg, decodeErr := decoder.Next()
				if decodeErr != nil {
					// Framing errors are counted in the decoder stats
					continue
				}
				if msg == nil {
					break
				}
				stats := decoder.Stats()
				if stats.NoiseBytes > 0 || stats.FramingErrors > 0 {
					fmt.Printf("(skipped %d noise bytes, %d framing errors before sync)\n",
						stats.NoiseBytes, stats.FramingErrors)
				}
				msgChan <- msg
				return
			}
		}
	}()

	// Wait for frame or timeout
	select {
	case msg := <-msgChan:
		frame := insteon.MustEncode(msg)
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", insteon.Name(msg.Opcode()), msg.Opcode())
		if from, ok := insteon.Source(msg); ok {
			fmt.Printf("  From: %s\n", from)
		}
		fmt.Printf("  Length: %d bytes\n", len(frame))
		fmt.Printf("  Raw: %s\n", insteon.FormatBytes(frame))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
