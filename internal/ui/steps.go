package ui

import (
	"fmt"
	"sync"
)

// Steps shows one spinner per workflow step. A new Step settles the
// previous one as successful.
type Steps struct {
	mu       sync.Mutex
	current  *Spinner
	output   func(string)
	animated *bool
	quiet    bool
}

// NewSteps returns a step display. Quiet suppresses all output.
func NewSteps(quiet bool) *Steps {
	return &Steps{
		output: func(s string) { fmt.Print(s) },
		quiet:  quiet,
	}
}

// SetOutput redirects spinner output, mostly for tests.
func (p *Steps) SetOutput(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = fn
}

// SetAnimated overrides terminal detection for new spinners.
func (p *Steps) SetAnimated(animated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.animated = &animated
}

// Step starts a spinner for label.
func (p *Steps) Step(label string) {
	p.mu.Lock()
	prev := p.current
	p.current = nil
	p.mu.Unlock()

	if prev != nil {
		prev.Success()
	}
	if p.quiet {
		return
	}

	s := NewSpinner(label)
	p.mu.Lock()
	s.SetOutput(p.output)
	if p.animated != nil {
		s.SetAnimated(*p.animated)
	}
	p.current = s
	p.mu.Unlock()
	s.Start()
}

// Success settles the current step.
func (p *Steps) Success() {
	if s := p.take(); s != nil {
		s.Success()
	}
}

// Fail marks the current step as failed.
func (p *Steps) Fail() {
	if s := p.take(); s != nil {
		s.Fail()
	}
}

func (p *Steps) take() *Spinner {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.current
	p.current = nil
	return s
}
