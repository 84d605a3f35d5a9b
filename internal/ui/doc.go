// Package ui provides terminal output for the cscs-keygen CLI.
//
// # Components Overview
//
//	Spinner       - Animated status indicator for a single step
//	Steps         - Runs one spinner per workflow step (fetch, add)
//	Fields        - Aligned "label: value" blocks for status output
//	Confirm       - Yes/no question using Huh forms
//	Password      - Hidden input using Huh forms
//
// # Color Scheme
//
// Colors are defined as ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Successful operations
//	ColorError     (red)    - Failures and errors
//	ColorWarning   (yellow) - Warnings, keys close to expiry
//	ColorInfo      (cyan)   - Informational messages
//	ColorMuted     (gray)   - Secondary text, timing info
//
// ConfigureColors applies the output.color setting. DisableColors switches
// to monochrome output (for the --no-color flag and NO_COLOR).
//
// # Spinner Usage
//
//	s := ui.NewSpinner("Requesting a signed key")
//	s.Start()
//	// ... do work ...
//	s.Success() // or s.Fail() or s.Skip()
//
// When stdout is not a terminal the spinner does not animate and only the
// final line is written.
package ui
