// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

var controlDevices []string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling INSTEON devices",
	Long: `Control INSTEON devices through a running gateway via an interactive terminal UI.

Devices appear in the list as soon as they send traffic, or up front with
--device. Commands are sent with reliable delivery, so the log shows whether
each device acknowledged.

Features:
  - Device list built from live traffic
  - Brightness level control (0-100) with acknowledgment
  - Statistics tracking
  - Event logging
  - Automatic reconnection to the event stream

Tab switches between the device list, the level input and the buttons. Arrow
keys navigate the device list.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	addServerFlags(controlCmd)
	controlCmd.Flags().StringSliceVarP(&controlDevices, "device", "d", nil, "Device address to list up front (repeatable)")
}

// connectionManager handles event stream lifecycle and reconnection
type connectionManager struct {
	client *apiClient
	conn   *websocket.Conn
	mu     sync.RWMutex
	p      *tea.Program
	done   chan struct{}
}

func (cm *connectionManager) getConn() *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
}

func runControl(cmd *cobra.Command, args []string) error {
	preload := make([]insteon.Address, 0, len(controlDevices))
	for _, raw := range controlDevices {
		addr, err := insteon.ParseAddress(raw)
		if err != nil {
			return err
		}
		preload = append(preload, addr)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base, err := resolveServer(context.Background(), cfg)
	if err != nil {
		return err
	}
	client := newAPIClient(base)

	// Open initial event stream
	conn, err := client.DialEvents()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		client: client,
		conn:   conn,
		done:   make(chan struct{}),
	}

	m := initialControlModel(client, preload)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop()

	_, runErr := p.Run()
	close(cm.done) // Signal goroutines to stop
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// readerLoop handles reading from the stream with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromConnection() {
			cm.p.Send(connectionLostMsg{})

			if !cm.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// readFromConnection reads events until the stream fails.
// Returns true if the stream was lost, false if shutdown requested
func (cm *connectionManager) readFromConnection() bool {
	batchChan := make(chan eventMsg, 100)
	readerDone := make(chan struct{})

	// Reader goroutine - decodes records and sends to batch channel
	go func() {
		defer close(readerDone)
		conn := cm.getConn()
		if conn == nil {
			return
		}
		for {
			ev, err := readEvent(conn)
			if err != nil {
				return
			}
			select {
			case batchChan <- ev:
			default:
			}
		}
	}()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch controlBatchMsg

			drainLoop:
				for {
					select {
					case ev := <-batchChan:
						batch.events = append(batch.events, ev)
					default:
						break drainLoop
					}
				}

				if len(batch.events) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	// Shutdown closes the connection, which ends the reader
	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true // Stream lost
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, err := cm.client.DialEvents()
		if err == nil {
			cm.setConn(conn)
			cm.p.Send(reconnectedMsg{})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
