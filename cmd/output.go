package main

import (
	"cmp"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"calsync/internal/reconciler"
	"calsync/internal/syncer"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	linkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	statusStyles = map[reconciler.Status]lipgloss.Style{
		reconciler.StatusIgnoredManualAddition: lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
		reconciler.StatusNeedsSync:             lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
		reconciler.StatusSynced:                lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		reconciler.StatusIgnoredExplicit:       lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Faint(true),
	}
)

const statusWidth = 24

// printComparisons writes one block per pair: a header, the calendar links
// and one line per merged entry.
func printComparisons(w io.Writer, comparisons []syncer.Comparison) {
	for _, c := range comparisons {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s: %s -> %s",
			c.Pair.Name, cmp.Or(c.SourceSummary, c.Pair.Source), cmp.Or(c.TargetSummary, c.Pair.Target))))
		if c.Err != nil {
			fmt.Fprintln(w, errorStyle.Render(c.Err.Error()))
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, linkStyle.Render(c.SourceLink))
		fmt.Fprintln(w, linkStyle.Render(c.TargetLink))

		for _, e := range c.Entries {
			status := statusStyles[e.Status].Width(statusWidth).Render(e.Status.String())
			fmt.Fprintf(w, "  %s  %s %s\n", e.Date, status, e.Summary)
		}
		fmt.Fprintln(w)
	}
}
