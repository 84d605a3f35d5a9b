package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one "label  value" line.
type Field struct {
	Label string
	Value string
}

// RenderFields aligns values on the longest label. Values may already be
// styled; continuation lines are indented to the value column.
func RenderFields(fields []Field) string {
	width := 0
	for _, f := range fields {
		if w := lipgloss.Width(f.Label); w > width {
			width = w
		}
	}

	labelStyle := MutedStyle().Width(width + 2)
	indent := strings.Repeat(" ", width+4)

	var b strings.Builder
	for _, f := range fields {
		value := strings.ReplaceAll(f.Value, "\n", "\n"+indent)
		b.WriteString("  ")
		b.WriteString(labelStyle.Render(f.Label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	return b.String()
}

// Heading renders a section title.
func Heading(title string) string {
	return HeadingStyle().Render(title)
}
