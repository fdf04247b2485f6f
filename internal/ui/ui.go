// Package ui holds the terminal styles shared by the fieldsync commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// RenderAccent highlights identifiers and markers in blue.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders success markers in green.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings in yellow.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders failures in bold red.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderFaint renders secondary detail dimmed.
func RenderFaint(s string) string { return faintStyle.Render(s) }

// RenderHeader renders section titles in bold.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderStatus colors an outbox item status: yellow pending, blue
// in_progress, green succeeded, red failed.
func RenderStatus(status string) string {
	switch status {
	case "pending":
		return warnStyle.Render(status)
	case "in_progress":
		return accentStyle.Render(status)
	case "succeeded":
		return passStyle.Render(status)
	case "failed":
		return failStyle.Render(status)
	default:
		return status
	}
}
