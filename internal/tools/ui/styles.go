package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	labelStyle   = lipgloss.NewStyle().Faint(true)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	mutedStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
)

func Heading(text string) string { return headingStyle.Render(text) }
func Success(text string) string { return successStyle.Render("✓ " + text) }
func Error(text string) string   { return errorStyle.Render("✗ " + text) }
func Muted(text string) string   { return mutedStyle.Render(text) }

// KV renders one aligned label/value line.
func KV(label, value string) string {
	return fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), valueStyle.Render(value))
}
