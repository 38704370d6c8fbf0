package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"figmapedia/kbservice/internal/domain"
)

const (
	colorAccent = "39"
	colorGray   = "245"
	colorRed    = "196"
	colorYellow = "220"
)

type styles struct {
	Header  lipgloss.Style
	Title   lipgloss.Style
	Meta    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Panel   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Title:   lipgloss.NewStyle().Bold(true),
		Meta:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorGray)).
			Padding(0, 1),
	}
}

func plainStyles() styles {
	return styles{
		Header:  lipgloss.NewStyle(),
		Title:   lipgloss.NewStyle(),
		Meta:    lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Panel:   lipgloss.NewStyle(),
	}
}

// renderItems writes one line per item followed by its metadata line.
func renderItems(w io.Writer, st styles, items []domain.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, st.Meta.Render("(no results)"))
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "%s  %s\n", st.Title.Render(item.Title), st.Meta.Render(item.ID))
		if meta := itemMeta(item); meta != "" {
			fmt.Fprintf(w, "  %s\n", st.Meta.Render(meta))
		}
	}
}

func itemMeta(item domain.Item) string {
	var parts []string
	if item.Section != "" {
		parts = append(parts, item.Section)
	}
	if len(item.Categories) > 0 {
		parts = append(parts, strings.Join(item.Categories, ", "))
	}
	if item.Author != "" {
		parts = append(parts, item.Author)
	}
	if item.Link != nil && *item.Link != "" {
		parts = append(parts, *item.Link)
	}
	return strings.Join(parts, " · ")
}

func renderSummary(w io.Writer, st styles, summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	fmt.Fprintln(w, st.Panel.Render(summary))
}

func renderSources(w io.Writer, st styles, sources []domain.SourceDiagnostics) {
	if len(sources) == 0 {
		fmt.Fprintln(w, st.Meta.Render("(no source activity yet)"))
		return
	}
	for _, src := range sources {
		status := st.Header.Render("ok")
		if !src.Available {
			status = st.Error.Render("blocked")
		} else if src.FailureCount > 0 {
			status = st.Warning.Render("degraded")
		}
		fmt.Fprintf(w, "%-24s %s  %s\n", src.Name, status,
			st.Meta.Render(fmt.Sprintf("failures=%d items=%d latency=%dms", src.FailureCount, src.LastCount, src.LastLatency)))
		if src.LastError != "" {
			fmt.Fprintf(w, "  %s\n", st.Error.Render(src.LastError))
		}
	}
}
