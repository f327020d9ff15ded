// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"grimm.is/portdrop/internal/ebpf/stats"
)

// View renders the dashboard
func (m Model) View() string {
	if m.Stats == nil {
		if m.ConnectionError != "" {
			return m.disconnected()
		}
		return "Connecting to portdrop..."
	}
	s := m.Stats

	// Filter card
	var status string
	switch {
	case m.Health == nil:
		status = StyleSubtitle.Render("UNKNOWN")
	case m.Health.Healthy:
		status = StyleStatusGood.Render("ATTACHED")
	default:
		status = StyleStatusBad.Render("DETACHED")
	}
	iface, mode := "-", "-"
	if m.Health != nil && m.Health.Status != nil {
		iface = m.Health.Status.Interface
		mode = m.Health.Status.Mode
		if d := m.Health.Status.Driver; d != "" {
			mode += " (" + d + ")"
		}
	}
	port := StyleStatusWarn.Render("unset (pass all)")
	if s.Configured {
		port = fmt.Sprintf("%d", s.Port)
	}
	filterCard := StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		StyleTitle.Render("Filter"),
		status,
		fmt.Sprintf("Interface: %s", iface),
		fmt.Sprintf("Mode:      %s", mode),
		fmt.Sprintf("Port:      %s", port),
	))

	// Counters card
	countersCard := StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		StyleTitle.Render("Packets"),
		fmt.Sprintf("Total:   %14s  %s", stats.FormatCount(s.Total), ratef(m.Rates.Total)),
		fmt.Sprintf("TCP:     %14s  %s", stats.FormatCount(s.TCP), ratef(m.Rates.TCP)),
		fmt.Sprintf("Dropped: %14s  %s", stats.FormatCount(s.Dropped), ratef(m.Rates.Dropped)),
		fmt.Sprintf("Passed:  %14s  %s", stats.FormatCount(s.Passed), ratef(m.Rates.Passed)),
	))

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, filterCard, countersCard)

	dropCard := StyleCard.Render(lipgloss.JoinVertical(lipgloss.Left,
		StyleTitle.Render("Drop rate "+s.DropRate),
		m.bar.ViewAs(s.Stats.DropRate()/100),
		StyleSubtitle.Render("drops/s "+sparkline(m.DropHistory)),
	))

	lines := []string{topRow, dropCard}
	if m.Editing {
		lines = append(lines, m.input.View())
	}
	if m.Notice != "" {
		lines = append(lines, StyleStatusWarn.Render(m.Notice))
	}
	if m.ConnectionError != "" {
		lines = append(lines, StyleStatusBad.Render("⚠ "+m.ConnectionError))
	}
	lines = append(lines,
		StyleSubtitle.Render(fmt.Sprintf("Last updated: %s", m.LastUpdated.Local().Format("15:04:05"))),
		m.help.View(keys),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) disconnected() string {
	msg := StyleTitle.Render("⚠ Connection Lost") + "\n\n" +
		lipgloss.NewStyle().Foreground(ColorBad).Render(m.ConnectionError) + "\n\n" +
		lipgloss.NewStyle().Foreground(ColorMuted).Render("Retrying... (Press q to quit)")
	if m.Width == 0 || m.Height == 0 {
		return msg
	}
	return lipgloss.Place(m.Width, m.Height, lipgloss.Center, lipgloss.Center, msg)
}

func ratef(pps float64) string {
	return StyleSubtitle.Render(humanize.FormatFloat("#,###.#", pps) + "/s")
}

func sparkline(data []float64) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{' ', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	max := 0.0
	for _, v := range data {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}

	var sb strings.Builder
	for _, v := range data {
		idx := int((v / max) * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}
