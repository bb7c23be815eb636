// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vinsteon/internal/rpc"
	"github.com/Thermoquad/vinsteon/pkg/insteon"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	pendingPollSeconds = 5 // Poll /v1/pending every N seconds
	defaultLevel       = "100"
)

// Focus states
const (
	focusDeviceList = iota
	focusLevelInput
	focusOnButton
	focusOffButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// device is an INSTEON device known to the control panel
type device struct {
	address  insteon.Address
	level    int // last acknowledged level, -1 if unknown
	status   string
	lastSeen time.Time
}

// Implement list.Item interface
func (d device) Title() string       { return "Device " + d.address.String() }
func (d device) Description() string { return d.status }
func (d device) FilterValue() string { return d.address.String() }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	client *apiClient

	// Device tracking
	devices    []device
	deviceList list.Model

	// Monitoring (reused from tui.go patterns)
	stats         *insteon.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	pending       int

	// Control
	levelInput   textinput.Model
	focusedField int
	inFlight     map[insteon.Address]bool

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
	lastPoll       time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	events []eventMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct{}

type sendResultMsg struct {
	device insteon.Address
	level  int
	resp   rpc.SendResponse
	err    error
}

type pendingMsg struct {
	count int
	err   error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(client *apiClient, preload []insteon.Address) controlModel {
	// Initialize text input for the level
	ti := textinput.New()
	ti.Placeholder = defaultLevel
	ti.CharLimit = 3
	ti.Width = 5

	// Initialize device list with empty items
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	m := controlModel{
		client:        client,
		devices:       make([]device, 0, len(preload)),
		deviceList:    deviceList,
		stats:         insteon.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		levelInput:    ti,
		focusedField:  focusDeviceList,
		inFlight:      make(map[insteon.Address]bool),
		width:         80,
		height:        24,
	}
	for _, addr := range preload {
		m.ensureDevice(addr)
	}
	m.updateDeviceList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), pollPendingCmd(m.client))
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func pollPendingCmd(client *apiClient) tea.Cmd {
	if client == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pending, err := client.Pending(ctx)
		return pendingMsg{count: len(pending), err: err}
	}
}

func sendLevelCmd(client *apiClient, addr insteon.Address, level int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		resp, err := client.Send(ctx, addr, level, true)
		return sendResultMsg{device: addr, level: level, resp: resp, err: err}
	}
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		cmds = append(cmds, controlTickCmd())
		if time.Since(m.lastPoll) >= pendingPollSeconds*time.Second {
			m.lastPoll = time.Now()
			cmds = append(cmds, pollPendingCmd(m.client))
		}
		return m, tea.Batch(cmds...)

	case controlBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case pendingMsg:
		if msg.err == nil {
			m.pending = msg.count
		}

	case sendResultMsg:
		m.handleSendResult(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Event stream lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.addLogEntry("Event stream reconnected", false)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusLevelInput {
		m.levelInput, cmd = m.levelInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return *m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return *m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return *m, nil

	case "enter":
		return m.handleEnter()

	case "up", "k", "down", "j":
		if m.focusedField == focusDeviceList {
			m.deviceList, _ = m.deviceList.Update(msg)
			return *m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusLevelInput {
		var cmd tea.Cmd
		m.levelInput, cmd = m.levelInput.Update(msg)
		return *m, cmd
	}

	return *m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return *m, nil
	}

	m.deviceList, _ = m.deviceList.Update(msg)
	return *m, nil
}

func (m *controlModel) cycleFocus(delta int) {
	if m.getSelectedDevice() == nil {
		m.focusedField = focusDeviceList
		return
	}

	const states = focusOffButton + 1
	m.focusedField = (m.focusedField + delta + states) % states

	if m.focusedField == focusLevelInput {
		m.levelInput.Focus()
	} else {
		m.levelInput.Blur()
	}
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	selected := m.getSelectedDevice()
	if selected == nil {
		return *m, nil
	}

	switch m.focusedField {
	case focusLevelInput, focusOnButton:
		level, err := m.parseLevel()
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return *m, nil
		}
		return *m, m.sendLevel(selected.address, level)

	case focusOffButton:
		return *m, m.sendLevel(selected.address, insteon.MinLevel)
	}

	return *m, nil
}

// parseLevel reads the level input, falling back to the placeholder.
func (m *controlModel) parseLevel() (int, error) {
	raw := strings.TrimSpace(m.levelInput.Value())
	if raw == "" {
		raw = m.levelInput.Placeholder
	}

	level, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid level value: %s", raw)
	}
	if !insteon.ValidLevel(level) {
		return 0, fmt.Errorf("level must be between %d and %d", insteon.MinLevel, insteon.MaxLevel)
	}
	return level, nil
}

func (m *controlModel) sendLevel(addr insteon.Address, level int) tea.Cmd {
	if m.inFlight[addr] {
		m.addLogEntry(fmt.Sprintf("%s: command already in flight", addr), true)
		return nil
	}
	m.inFlight[addr] = true
	m.setStatus(addr, fmt.Sprintf("sending level %d...", level))
	m.addLogEntry(fmt.Sprintf("Sending level %d to %s", level, addr), false)
	return sendLevelCmd(m.client, addr, level)
}

func (m *controlModel) handleSendResult(msg sendResultMsg) {
	delete(m.inFlight, msg.device)

	if msg.err != nil {
		m.setStatus(msg.device, "no acknowledgment")
		m.addLogEntry(fmt.Sprintf("%s: %v", msg.device, msg.err), true)
		return
	}

	if msg.resp.Nak {
		m.setStatus(msg.device, fmt.Sprintf("NAK for level %d", msg.level))
		m.addLogEntry(fmt.Sprintf("%s: NAK after %d attempt(s)", msg.device, msg.resp.Attempts), true)
		return
	}

	for i := range m.devices {
		if m.devices[i].address == msg.device {
			m.devices[i].level = msg.level
		}
	}
	m.setStatus(msg.device, fmt.Sprintf("level %d acknowledged", msg.level))
	m.addLogEntry(fmt.Sprintf("%s: level %d acknowledged after %d attempt(s) in %s",
		msg.device, msg.level, msg.resp.Attempts, msg.resp.Elapsed), false)
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("VINSTEON CONTROL"))
	s.WriteString(" ")
	connStatus := ""
	if m.client != nil {
		connStatus = m.client.base
	}
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (devices) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	var devicePanel string
	if len(m.devices) == 0 {
		devicePanel = listStyle.Render(headerStyle.Render("Waiting for traffic..."))
	} else {
		devicePanel = listStyle.Render(m.deviceList.View())
	}

	controlContent := m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle)
	controlPanel := boxStyle.Width(rightWidth).Render(controlContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle lipgloss.Style) string {
	var s strings.Builder

	selected := m.getSelectedDevice()
	if selected == nil {
		s.WriteString(headerStyle.Render("No device selected"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Selected:"), selected.address))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Status:"), statsValueStyle.Render(selected.status)))
	if selected.level >= 0 {
		s.WriteString(fmt.Sprintf("%s %d%% (0x%02X)\n", statsLabelStyle.Render("Level:"),
			selected.level, insteon.BrightnessFromLevel(selected.level)))
	}
	s.WriteString("\n")

	s.WriteString(statsLabelStyle.Render("Level: "))
	if m.focusedField == focusLevelInput {
		s.WriteString(m.levelInput.View())
	} else {
		val := m.levelInput.Value()
		if val == "" {
			val = m.levelInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	for _, btn := range []struct {
		focus int
		text  string
	}{
		{focusOnButton, "[ Set Level ]"},
		{focusOffButton, "[ Off ]"},
	} {
		if m.focusedField == btn.focus {
			s.WriteString(focusedButtonStyle.Render(btn.text))
		} else {
			s.WriteString(buttonStyle.Render(btn.text))
		}
		s.WriteString(" ")
	}

	if m.inFlight[selected.address] {
		s.WriteString("\n\n")
		s.WriteString(headerStyle.Render("Waiting for acknowledgment..."))
	}

	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	m.stats.CalculateRates()

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Received:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Devices:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.devices))),
		statsLabelStyle.Render("Pending:"), func() string {
			if m.pending > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", m.pending))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processEvent(ev eventMsg) {
	if ev.err != nil {
		m.stats.Update(nil, ev.err)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.err), true)
		return
	}

	m.stats.Update(ev.msg, nil)

	from, ok := insteon.Source(ev.msg)
	if !ok {
		if sev, text := classifyEvent(ev.msg); sev != severityTraffic {
			m.addLogEntry(text, sev == severityError)
		}
		return
	}

	isNew := m.ensureDevice(from)
	for i := range m.devices {
		if m.devices[i].address != from {
			continue
		}
		m.devices[i].lastSeen = ev.record.Time()
		if !m.inFlight[from] {
			if flags, ok := insteon.Flags(ev.msg); ok {
				cmd1, cmd2, _ := insteon.Commands(ev.msg)
				m.devices[i].status = fmt.Sprintf("%s %02X/%02X", flags.Type(), cmd1, cmd2)
			} else {
				m.devices[i].status = insteon.Name(ev.msg.Opcode())
			}
		}
	}

	if isNew {
		m.addLogEntry(fmt.Sprintf("Device seen: %s", from), false)
	}
	if sev, text := classifyEvent(ev.msg); sev == severityError {
		m.addLogEntry(text, true)
	}
	m.updateDeviceList()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// ensureDevice adds addr to the device table and reports whether it was new.
func (m *controlModel) ensureDevice(addr insteon.Address) bool {
	for _, d := range m.devices {
		if d.address == addr {
			return false
		}
	}
	m.devices = append(m.devices, device{address: addr, level: -1, status: "idle"})
	return true
}

func (m *controlModel) setStatus(addr insteon.Address, status string) {
	for i := range m.devices {
		if m.devices[i].address == addr {
			m.devices[i].status = status
		}
	}
	m.updateDeviceList()
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) getSelectedDevice() *device {
	if len(m.devices) == 0 {
		return nil
	}

	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.devices) {
		return nil
	}

	return &m.devices[idx]
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.devices))
	for i, d := range m.devices {
		items[i] = d
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(28, listHeight)
}
