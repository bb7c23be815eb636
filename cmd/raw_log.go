// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/internal/link"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw modem frames in human-readable format",
	Long: `Continuously decode and display PLM frames as they arrive.

Each frame is shown with a timestamp, its message type and decoded fields.
Framing errors (unknown opcodes, truncated frames) are printed inline and the
decoder keeps going. Use --hex to also show the raw bytes of every frame.

This command reads the modem directly; do not run it alongside serve on the
same port.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Print the raw bytes of each frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("vinsteon - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := insteon.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, link.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				if ferr := decoder.Flush(); ferr != nil {
					fmt.Printf("[ERROR] %v\n", ferr)
				}
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		decoder.Push(buf[:n])
		decoder.Drain(func(msg insteon.Message, err error) {
			printRawFrame(msg, err, time.Now())
		})
	}
}

func printRawFrame(msg insteon.Message, err error, ts time.Time) {
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	fmt.Print(insteon.FormatMessage(msg, ts))
	if rawLogHex {
		fmt.Printf("  Raw: %s\n", insteon.FormatBytes(insteon.MustEncode(msg)))
	}
}
