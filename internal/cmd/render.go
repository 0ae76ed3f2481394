package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
)

var (
	borderColor = lipgloss.AdaptiveColor{Light: "#6C6CFF", Dark: "#6C6CFF"}
	okColor     = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#9FF29A"}
	errColor    = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}

	baseCell    = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(12)
	readyStyle  = lipgloss.NewStyle().Foreground(okColor).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(errColor).Bold(true)
)

func renderJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderText formats r for a terminal.
func renderText(r *Report) string {
	status := failStyle.Render("NOT CONFIGURED")
	if r.Ready {
		status = readyStyle.Render("CONFIGURED")
	}

	lines := []string{
		field("device", r.Device),
		field("status", status),
		field("speed", r.Speed),
		field("polls", fmt.Sprint(r.Polls)),
		field("bus", fmt.Sprintf("%d transactions, %d port resets (%d us hold)",
			r.Transfers, r.PortResets, r.ResetHoldUS)),
	}

	if d := r.Descriptor; d != nil {
		lines = append(lines,
			field("usb", d.USB),
			field("ep0", fmt.Sprintf("%d bytes", d.MaxPacketSize0)),
			field("config", fmt.Sprintf("%d bytes, %d mA", d.TotalLength, d.MaxPowerMA)),
		)
	}

	if len(r.Endpoints) > 0 {
		rows := lo.Map(r.Endpoints, func(ep EndpointReport, _ int) []string {
			return []string{ep.Role, ep.Address, fmt.Sprint(ep.MaxPacketSize)}
		})
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
			Headers(headerStyle.Render("endpoint"), headerStyle.Render("address"), headerStyle.Render("max packet")).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 2 {
					return baseCell.Align(lipgloss.Right)
				}
				return baseCell
			})
		lines = append(lines, t.Render())
	}

	for _, frame := range r.Read {
		lines = append(lines, field("read", frame))
	}
	if r.Written > 0 {
		lines = append(lines, field("written", fmt.Sprintf("%d bytes", r.Written)))
		lines = append(lines, field("received", r.Received))
	}
	for _, e := range r.Errors {
		lines = append(lines, field("error", failStyle.Render(e)))
	}

	return strings.Join(lines, "\n")
}
