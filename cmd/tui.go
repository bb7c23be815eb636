// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// deviceActivity is the latest traffic seen from one device
type deviceActivity struct {
	address  insteon.Address
	lastSeen time.Time
	lastType string
	flags    insteon.MsgFlags
	cmd1     byte
	cmd2     byte
	count    uint64
}

// TUI model
type model struct {
	server        string
	statsInterval int
	showAll       bool
	started       time.Time
	stats         *insteon.Statistics // events received on the stream
	gateway       *insteon.Statistics // decoder counters reported by the gateway
	devices       map[insteon.Address]*deviceActivity
	errorLog      []errorLogEntry
	maxLogEntries int
	connected     bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type eventMsg struct {
	record insteon.Record
	msg    insteon.Message
	err    error
}
type gatewayStatsMsg struct {
	stats insteon.Statistics
	err   error
}
type streamClosedMsg struct {
	err error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, unit := range []struct {
		n    uint64
		name string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	} {
		switch {
		case unit.n == 1:
			parts = append(parts, "1 "+unit.name)
		case unit.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", unit.n, unit.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(server string, statsInterval int, showAll bool) model {
	return model{
		server:        server,
		statsInterval: statsInterval,
		showAll:       showAll,
		started:       time.Now(),
		stats:         insteon.NewStatistics(),
		gateway:       insteon.NewStatistics(),
		devices:       make(map[insteon.Address]*deviceActivity),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		connected:     true,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.devices = make(map[insteon.Address]*deviceActivity)
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case gatewayStatsMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Stats request failed: %v", msg.err), true)
		} else {
			stats := msg.stats
			m.gateway = &stats
		}

	case streamClosedMsg:
		m.connected = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Event stream closed: %v", msg.err), true)
		} else {
			m.addLogEntry("Event stream closed by gateway", true)
		}

	case eventMsg:
		m.applyEvent(msg)
	}

	return m, nil
}

// applyEvent folds one stream event into the statistics, the device table
// and the log.
func (m *model) applyEvent(ev eventMsg) {
	if ev.err != nil {
		m.stats.Update(nil, ev.err)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.err), true)
		return
	}

	m.stats.Update(ev.msg, nil)

	if from, ok := insteon.Source(ev.msg); ok {
		dev := m.devices[from]
		if dev == nil {
			dev = &deviceActivity{address: from}
			m.devices[from] = dev
		}
		dev.lastSeen = ev.record.Time()
		dev.lastType = insteon.Name(ev.msg.Opcode())
		dev.count++
		if flags, ok := insteon.Flags(ev.msg); ok {
			dev.flags = flags
			dev.cmd1, dev.cmd2, _ = insteon.Commands(ev.msg)
		}
	}

	sev, text := classifyEvent(ev.msg)
	switch {
	case sev == severityError:
		m.addLogEntry(text, true)
	case sev == severityNotice, m.showAll:
		m.addLogEntry(text, false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// sortedDevices returns devices most recently seen first.
func (m model) sortedDevices() []*deviceActivity {
	out := make([]*deviceActivity, 0, len(m.devices))
	for _, dev := range m.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lastSeen.After(out[j].lastSeen) })
	return out
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("VINSTEON - TRAFFIC MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Gateway: %s | Mode: %s | 'r' reset | 'q' quit",
		m.server, func() string {
			if m.showAll {
				return "All messages"
			}
			return "Notable only"
		}())))
	s.WriteString("\n\n")

	// Stream status
	if m.connected {
		s.WriteString(statsValueStyle.Render("✓ Streaming"))
		s.WriteString(headerStyle.Render(fmt.Sprintf(" for %s", formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	} else {
		s.WriteString(errorStyle.Render("✗ Stream closed"))
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Received:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Devices:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.devices))),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.stats.FrameRate)),
	))

	gwErrors := m.gateway.FramingErrors
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Gateway frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.gateway.TotalFrames)),
		statsLabelStyle.Render("Framing errors:"), func() string {
			if gwErrors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d (unknown %d, truncated %d)", gwErrors, m.gateway.UnknownOpcodes, m.gateway.Truncated))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Noise:"), func() string {
			if m.gateway.NoiseBytes > 0 {
				return warningStyle.Render(fmt.Sprintf("%d bytes", m.gateway.NoiseBytes))
			}
			return statsValueStyle.Render("0 bytes")
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Device table (only shown once traffic arrives)
	if len(m.devices) > 0 {
		s.WriteString(statsLabelStyle.Render("Devices:"))
		s.WriteString("\n")

		deviceContent := strings.Builder{}
		for i, dev := range m.sortedDevices() {
			if i >= 8 {
				deviceContent.WriteString(headerStyle.Render(fmt.Sprintf("  ... and %d more", len(m.devices)-i)))
				break
			}
			deviceContent.WriteString(fmt.Sprintf("%s %s %s\n",
				statsLabelStyle.Render(dev.address.String()),
				statsValueStyle.Render(fmt.Sprintf("%-22s", dev.lastType)),
				headerStyle.Render(fmt.Sprintf("%s cmd=%02X/%02X seen %d× at %s",
					dev.flags.Type(), dev.cmd1, dev.cmd2, dev.count, dev.lastSeen.Format("15:04:05"))),
			))
		}

		s.WriteString(boxStyle.Render(strings.TrimRight(deviceContent.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - min(len(m.devices), 9) // Reserve space for header, stats and devices
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
