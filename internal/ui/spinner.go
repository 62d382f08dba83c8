package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SpinnerKind picks the animation for what the user is waiting on.
type SpinnerKind int

const (
	SpinLoading SpinnerKind = iota
	SpinConnecting
	SpinWaiting
)

var spinnerFrames = map[SpinnerKind]struct {
	spinner  spinner.Spinner
	interval time.Duration
}{
	SpinLoading:    {spinner.Dot, 80 * time.Millisecond},
	SpinConnecting: {spinner.Globe, 180 * time.Millisecond},
	SpinWaiting:    {spinner.Points, 100 * time.Millisecond},
}

// Spinner is a blocking-free line spinner for setup steps that run before
// the meeting view takes over the terminal.
type Spinner struct {
	out      io.Writer
	frames   []string
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	exited  chan struct{}
	started bool
	stopped bool
}

// NewSpinner creates a stopped spinner writing to stderr.
func NewSpinner(kind SpinnerKind, message string) *Spinner {
	f := spinnerFrames[kind]
	return &Spinner{
		out:      os.Stderr,
		frames:   f.spinner.Frames,
		interval: f.interval,
		message:  message,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Start begins animating. Later calls do nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.exited)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			s.mu.Unlock()
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.exited
		fmt.Fprint(s.out, "\r\033[K")
	}
}

// Success stops the spinner and prints message as a success.
func (s *Spinner) Success(message string) {
	s.Stop()
	PrintSuccess(message)
}

// Error stops the spinner and prints message as an error.
func (s *Spinner) Error(message string) {
	s.Stop()
	PrintError(message)
}

// SetMessage replaces the text next to the spinner.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunSpinner starts a spinner of kind and returns its stop function.
func RunSpinner(kind SpinnerKind, message string) func() {
	sp := NewSpinner(kind, message)
	sp.Start()
	return sp.Stop
}
