// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/internal/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports present on this machine.

A PowerLinc Modem on USB usually shows up as /dev/ttyUSB0 on Linux or
/dev/cu.usbserial-* on macOS.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Printf("No serial ports found\n")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
