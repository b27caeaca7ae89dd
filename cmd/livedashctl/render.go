package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-livedash/components/livesync"
)

var statusColors = map[livesync.ConnectionState]string{
	livesync.StateConnected:    "#22c55e",
	livesync.StateConnecting:   "#3b82f6",
	livesync.StateReconnecting: "#f59e0b",
	livesync.StateDisconnected: "#9ca3af",
	livesync.StateFailed:       "#ef4444",
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
)

func badge(state livesync.ConnectionState) string {
	color, ok := statusColors[state]
	if !ok {
		color = "#9ca3af"
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#111827")).
		Background(lipgloss.Color(color)).
		Bold(true).
		Padding(0, 1).
		Render(strings.ToUpper(state.String()))
}

func writeSnapshot(w io.Writer, format string, snap livesync.Snapshot) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		return enc.Encode(snap)
	case "yaml":
		doc, err := snapshotDocument(snap)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("livedashctl: encode yaml: %w", err)
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
		_, err = io.WriteString(w, "---\n")
		return err
	default:
		_, err := io.WriteString(w, formatText(snap))
		return err
	}
}

// snapshotDocument routes the snapshot through its JSON form so YAML output
// uses the same field names.
func snapshotDocument(snap livesync.Snapshot) (map[string]any, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func formatText(snap livesync.Snapshot) string {
	var b strings.Builder
	b.WriteString(badge(snap.ConnectionStatus))
	b.WriteString(" ")
	b.WriteString(labelStyle.Render("source"))
	b.WriteString(" ")
	b.WriteString(valueStyle.Render(string(snap.Source)))
	if snap.Loading {
		b.WriteString(labelStyle.Render(" (loading)"))
	}
	if snap.LastUpdated != nil {
		b.WriteString(labelStyle.Render(" updated "))
		b.WriteString(snap.LastUpdated.Format("15:04:05"))
	}
	b.WriteString("\n")

	if stats := snap.Data.Stats; stats != nil {
		fmt.Fprintf(&b, "  %s %s  %s %s  %s %s  %s %s\n",
			labelStyle.Render("requests"), valueStyle.Render(fmt.Sprintf("%.0f", stats.TotalRequests)),
			labelStyle.Render("models"), valueStyle.Render(fmt.Sprintf("%.0f", stats.ActiveModels)),
			labelStyle.Render("cost"), valueStyle.Render(fmt.Sprintf("$%.2f", stats.MonthlyCost)),
			labelStyle.Render("health"), valueStyle.Render(fmt.Sprintf("%.1f%%", stats.SystemHealth)),
		)
	}
	if len(snap.Data.Performance) > 0 {
		parts := make([]string, len(snap.Data.Performance))
		for i, p := range snap.Data.Performance {
			parts[i] = fmt.Sprintf("%s=%.0f", p.Label(), p.Value)
		}
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("performance"), strings.Join(parts, " "))
	}
	if len(snap.Data.Providers) > 0 {
		providers := append([]livesync.ProviderStatus{}, snap.Data.Providers...)
		sort.SliceStable(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
		for _, p := range providers {
			fmt.Fprintf(&b, "  %-12s %-12s %8s %d models\n", p.Name, p.Status, p.Latency.String(), p.Models)
		}
	}
	if snap.Error != nil {
		fmt.Fprintf(&b, "  %s\n", errorStyle.Render(snap.Error.Error()))
	}
	return b.String()
}
