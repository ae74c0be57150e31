// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mdptui is a terminal dashboard that polls a broker's admin HTTP
// API and renders its live service/worker tables, so an operator can watch
// a deployment without curling the API by hand.
package mdptui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#50FA7B")).
		Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))
)

// statsResponse mirrors mdp.BrokerStats' JSON shape without importing the
// mdp package, keeping the dashboard usable against any broker that speaks
// the same admin API over the wire.
type statsResponse struct {
	Services           int       `json:"Services"`
	Workers            int       `json:"Workers"`
	Requests           int       `json:"Requests"`
	Responses          int       `json:"Responses"`
	HeartbeatsReceived int       `json:"HeartbeatsReceived"`
	HeartbeatsSent     int       `json:"HeartbeatsSent"`
	StartTime          time.Time `json:"StartTime"`
	LastRequest        time.Time `json:"LastRequest"`
	LastHeartbeat      time.Time `json:"LastHeartbeat"`
}

type snapshotMsg struct {
	stats    statsResponse
	services map[string]int
	workers  map[string]string
	err      error
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor dashboard.
type Model struct {
	addr   string
	client *http.Client

	stats    statsResponse
	services map[string]int
	workers  map[string]string
	err      error

	width, height int
}

// New builds a dashboard model polling the admin API at addr
// (e.g. "http://127.0.0.1:8766").
func New(addr string) Model {
	return Model{
		addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// Run starts the Bubble Tea program and blocks until the user quits.
func Run(addr string) error {
	p := tea.NewProgram(New(addr), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		var stats statsResponse
		if err := m.getJSON("/api/v1/stats", &stats); err != nil {
			return snapshotMsg{err: err}
		}
		var services map[string]int
		if err := m.getJSON("/api/v1/services", &services); err != nil {
			return snapshotMsg{err: err}
		}
		var workers map[string]string
		if err := m.getJSON("/api/v1/workers", &workers); err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{stats: stats, services: services, workers: workers}
	}
}

func (m Model) getJSON(path string, v interface{}) error {
	resp, err := m.client.Get(m.addr + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetch()

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.services = msg.services
			m.workers = msg.workers
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" hermes monitor ") + "  " + helpStyle.Render(m.addr) + "\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("connection error: "+m.err.Error()) + "\n\n")
	} else {
		b.WriteString(okStyle.Render("connected") + "\n\n")
	}

	b.WriteString(panelStyle.Render(m.renderStats()) + "\n\n")
	b.WriteString(panelStyle.Render(m.renderServices()) + "\n\n")
	b.WriteString(panelStyle.Render(m.renderWorkers()) + "\n\n")
	b.WriteString(helpStyle.Render("q to quit · refreshes every " + pollInterval.String()))
	return b.String()
}

func (m Model) renderStats() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Stats") + "\n")
	fmt.Fprintf(&b, "services: %d    workers: %d\n", m.stats.Services, m.stats.Workers)
	fmt.Fprintf(&b, "requests: %d    responses: %d\n", m.stats.Requests, m.stats.Responses)
	fmt.Fprintf(&b, "heartbeats sent: %d    received: %d\n", m.stats.HeartbeatsSent, m.stats.HeartbeatsReceived)
	return b.String()
}

func (m Model) renderServices() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Services") + "\n")
	if len(m.services) == 0 {
		b.WriteString(helpStyle.Render("(none)"))
		return b.String()
	}
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%-24s %d workers\n", name, m.services[name])
	}
	return b.String()
}

func (m Model) renderWorkers() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Workers") + "\n")
	if len(m.workers) == 0 {
		b.WriteString(helpStyle.Render("(none)"))
		return b.String()
	}
	addrs := make([]string, 0, len(m.workers))
	for addr := range m.workers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		fmt.Fprintf(&b, "%-24s %s\n", addr, m.workers[addr])
	}
	return b.String()
}
