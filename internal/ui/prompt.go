package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by prompts when stdin is not a terminal.
var ErrNotInteractive = errors.New("not running in an interactive terminal")

// Confirm asks a yes/no question. It answers no without a terminal or when
// the user aborts the form.
func Confirm(question string) (bool, error) {
	if !IsTerminal(os.Stdin) {
		return false, nil
	}

	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Password reads a secret without echoing it.
func Password(title string) (string, error) {
	if !IsTerminal(os.Stdin) {
		return "", ErrNotInteractive
	}

	var secret string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Value(&secret),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return secret, nil
}
