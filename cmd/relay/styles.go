package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")) // Pink

	prefixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // Cyan

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Grey

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")) // Red

	checkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")) // Green
)
