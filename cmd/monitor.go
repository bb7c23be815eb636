// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch modem traffic through a running gateway",
	Long: `Follow the gateway's event stream and highlight notable traffic.

This command subscribes to /v1/events and tracks:
  - NAK replies and all-link cleanup failures (errors)
  - Button presses, link completions and modem resets (notices)
  - Per-device activity (last message, flags and commands)
  - Gateway decoder counters (framing errors, noise bytes) from /v1/stats

By default, only notable events are displayed. Use --show-all to display
every message.

The stream is lossy: a monitor that falls behind loses the oldest events
rather than slowing the gateway down.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addServerFlags(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just notable ones)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

type severity int

const (
	severityTraffic severity = iota
	severityNotice
	severityError
)

// classifyEvent grades a message for the monitor log.
func classifyEvent(msg insteon.Message) (severity, string) {
	name := insteon.Name(msg.Opcode())

	switch m := msg.(type) {
	case insteon.StandardMsg, insteon.ExtendedMsg:
		from, _ := insteon.Source(m)
		cmd1, cmd2, _ := insteon.Commands(m)
		flags, _ := insteon.Flags(m)
		text := fmt.Sprintf("%s from %s: %s cmd=%02X/%02X", name, from, flags.Type(), cmd1, cmd2)
		switch flags.Type() {
		case insteon.MsgTypeNakDirect, insteon.MsgTypeNakGroupCleanup:
			return severityError, text
		}
		return severityTraffic, text

	case insteon.AllLinkCleanupFailureReport:
		return severityError, fmt.Sprintf("%s: group %d device %s did not answer", name, m.Group, m.ID)

	case insteon.AllLinkCleanupStatusReport:
		if m.Status != 0x06 {
			return severityError, fmt.Sprintf("%s: cleanup NAK (0x%02X)", name, m.Status)
		}
		return severityTraffic, name + ": cleanup done"

	case insteon.ButtonEventReport, insteon.AllLinkingCompleted, insteon.UserResetDetected:
		return severityNotice, fmt.Sprintf("%s %s", name, insteon.FormatFields(msg))

	default:
		return severityTraffic, fmt.Sprintf("%s %s", name, insteon.FormatFields(msg))
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1, got %d", statsInterval)
	}

	base, err := resolveServer(context.Background(), cfg)
	if err != nil {
		return err
	}
	client := newAPIClient(base)

	conn, err := client.DialEvents()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(client, conn)
	}
	return runTextMode(client, conn)
}

// printEvent prints a graded event in highlighted format
func printEvent(record insteon.Record, msg insteon.Message) {
	sev, text := classifyEvent(msg)
	timestamp := record.Time().Format("15:04:05.000")

	switch {
	case sev == severityError:
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %s\n", timestamp, text)
	case sev == severityNotice:
		fmt.Printf("[%s] \033[1;33mNOTICE:\033[0m %s\n", timestamp, text)
	case showAll:
		fmt.Print(insteon.FormatMessage(msg, record.Time()))
	}
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(client *apiClient, conn *websocket.Conn) error {
	m := initialModel(client.base, statsInterval, showAll)
	p := tea.NewProgram(m)

	// Event reader goroutine
	go func() {
		for {
			ev, err := readEvent(conn)
			if err != nil {
				if isStreamClosed(err) {
					p.Send(streamClosedMsg{})
				} else {
					p.Send(streamClosedMsg{err: err})
				}
				return
			}
			p.Send(ev)
		}
	}()

	// Gateway statistics poller
	go func() {
		poll := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stats, err := client.Stats(ctx)
			p.Send(gatewayStatsMsg{stats: stats.Decoder, err: err})
		}
		poll()
		ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			poll()
		}
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(client *apiClient, conn *websocket.Conn) error {
	fmt.Printf("vinsteon - Traffic Monitor\n")
	fmt.Printf("Gateway: %s\n", client.base)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Notable only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := insteon.NewStatistics()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking stream reads
	events := make(chan eventMsg, 10)
	go func() {
		defer close(events)
		for {
			ev, err := readEvent(conn)
			if err != nil {
				if !isStreamClosed(err) {
					fmt.Printf("Stream error: %v\n", err)
				}
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Printf("\nEvent stream closed\n")
				fmt.Print(stats.String())
				return nil
			}
			if ev.err != nil {
				stats.Update(nil, ev.err)
				fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", time.Now().Format("15:04:05.000"), ev.err)
				continue
			}
			stats.Update(ev.msg, nil)
			printEvent(ev.record, ev.msg)

		case <-statsTicker.C:
			// Print statistics
			fmt.Println()
			fmt.Print(stats.String())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if gw, err := client.Stats(ctx); err == nil {
				fmt.Printf("Gateway decoder: %d frames, %d framing errors, %d noise bytes\n",
					gw.Decoder.TotalFrames, gw.Decoder.FramingErrors, gw.Decoder.NoiseBytes)
			}
			cancel()
			fmt.Println()
		}
	}
}

// isStreamClosed reports whether err is the gateway ending the stream.
func isStreamClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
