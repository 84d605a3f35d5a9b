package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestRenderFields(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	got := RenderFields([]Field{
		{Label: "Key", Value: "/home/alice/.ssh/cscs-key"},
		{Label: "Expires", Value: "in 23h"},
		{Label: "Hosts", Value: "daint\neiger"},
	})

	want := "" +
		"  Key      /home/alice/.ssh/cscs-key\n" +
		"  Expires  in 23h\n" +
		"  Hosts    daint\n" +
		"           eiger\n"
	assert.Equal(t, want, got)
}

func TestRenderFields_Empty(t *testing.T) {
	assert.Empty(t, RenderFields(nil))
}
