package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	labelStyle = lipgloss.NewStyle().Width(26)
)

func status(ok bool) string {
	if ok {
		return okStyle.Render("ok")
	}
	return failStyle.Render("unavailable")
}

func row(label string, value any) string {
	return labelStyle.Render(label) + mutedStyle.Render(fmtValue(value))
}
