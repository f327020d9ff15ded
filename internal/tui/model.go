// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tui is the terminal dashboard behind `portdrop watch`.
package tui

import (
	"context"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"grimm.is/portdrop/internal/ebpf/controlplane"
	"grimm.is/portdrop/internal/ebpf/stats"
	"grimm.is/portdrop/internal/store"
)

// Backend defines the interface for data retrieval and actions.
type Backend interface {
	Stats(ctx context.Context) (controlplane.StatsMessage, error)
	Health(ctx context.Context) (controlplane.HealthMessage, error)
	SetPort(ctx context.Context, port int) (controlplane.PortMessage, error)
	ClearPort(ctx context.Context) error
}

var _ Backend = (*controlplane.Client)(nil)

const (
	requestTimeout = 3 * time.Second
	historyLen     = 40
)

type (
	TickMsg      time.Time
	BackendError struct{ Err error }
	portMsg      controlplane.PortMessage
)

type keyMap struct {
	Refresh key.Binding
	SetPort key.Binding
	Clear   key.Binding
	Quit    key.Binding
	Submit  key.Binding
	Cancel  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.SetPort, k.Clear, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Submit, k.Cancel}}
}

var keys = keyMap{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	SetPort: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "set port")),
	Clear:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear port")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
	Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

// Model is the dashboard state.
type Model struct {
	Backend  Backend
	Interval time.Duration

	Stats       *controlplane.StatsMessage
	Health      *controlplane.HealthMessage
	Rates       stats.Rates
	DropHistory []float64
	LastUpdated time.Time

	ConnectionError string
	Notice          string
	Editing         bool

	Width  int
	Height int

	input textinput.Model
	bar   progress.Model
	help  help.Model
}

// NewModel creates a dashboard polling backend every interval.
func NewModel(backend Backend, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}

	ti := textinput.New()
	ti.Placeholder = "1-65535"
	ti.Prompt = "Port: "
	ti.CharLimit = 5

	return Model{
		Backend:  backend,
		Interval: interval,
		input:    ti,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		help:     help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	return tea.Batch(
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			msg, err := m.Backend.Stats(ctx)
			if err != nil {
				return BackendError{Err: err}
			}
			return msg
		},
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			msg, err := m.Backend.Health(ctx)
			if err != nil {
				return BackendError{Err: err}
			}
			return msg
		},
	)
}

func (m Model) setPort(port int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msg, err := m.Backend.SetPort(ctx, port)
		if err != nil {
			return BackendError{Err: err}
		}
		return portMsg(msg)
	}
}

func (m Model) clearPort() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := m.Backend.ClearPort(ctx); err != nil {
			return BackendError{Err: err}
		}
		return portMsg{}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case controlplane.StatsMessage:
		m.ConnectionError = ""
		m.observe(msg)
		return m, nil

	case controlplane.HealthMessage:
		m.Health = &msg
		return m, nil

	case portMsg:
		if msg.Configured {
			m.Notice = "Filtering TCP port " + strconv.Itoa(msg.Port)
		} else {
			m.Notice = "Port cleared, passing all traffic"
		}
		return m, m.refresh()

	case BackendError:
		m.ConnectionError = msg.Err.Error()
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.Editing {
			return m.updateEditing(msg)
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, keys.Clear):
			return m, m.clearPort()
		case key.Matches(msg, keys.SetPort):
			m.Editing = true
			m.Notice = ""
			m.input.Reset()
			return m, m.input.Focus()
		}
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.Editing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, keys.Submit):
		value := m.input.Value()
		port, err := strconv.Atoi(value)
		if err == nil {
			_, err = store.ValidatePort(port)
		}
		if err != nil {
			m.Notice = "Invalid port number: " + value
			return m, nil
		}
		m.Editing = false
		m.input.Blur()
		return m, m.setPort(port)
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// observe records a new sample and derives rates from the previous one.
func (m *Model) observe(msg controlplane.StatsMessage) {
	if m.Stats != nil {
		m.Rates = stats.Between(
			stats.Sample{Stats: m.Stats.Stats, At: m.Stats.At},
			stats.Sample{Stats: msg.Stats, At: msg.At},
		)
		m.DropHistory = append(m.DropHistory, m.Rates.Dropped)
		if len(m.DropHistory) > historyLen {
			m.DropHistory = m.DropHistory[len(m.DropHistory)-historyLen:]
		}
	}
	m.Stats = &msg
	m.LastUpdated = msg.At
}
