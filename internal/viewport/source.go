package viewport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/brogergvhs/coverd/internal/render"
	"github.com/brogergvhs/coverd/internal/state"
)

// AutoSource reports every observed item as fully visible right away, so
// the loader keeps scrolling until the list runs out.
type AutoSource struct {
	events chan Event
}

func NewAutoSource() *AutoSource {
	return &AutoSource{events: make(chan Event, 1)}
}

func (s *AutoSource) Observe(item render.Item, _ Options) {
	ev := Event{Item: item, Intersecting: true, Ratio: 1}

	// keep only the newest pending event
	select {
	case <-s.events:
	default:
	}
	s.events <- ev
}

func (s *AutoSource) Unobserve(render.Item) {}

func (s *AutoSource) Events() <-chan Event { return s.events }

// PromptOptions are the optional hooks of a PromptSource.
type PromptOptions struct {
	// Status reports the message to show above the next prompt, if any.
	Status func() (string, bool)
	// ToggleTheme flips the grid theme and returns whether it is now dark.
	// The "t" key is only offered when it is set.
	ToggleTheme func() (bool, error)
}

// PromptSource turns terminal input into scroll events: an empty line
// scrolls to the bottom, "p" toggles the panel, "t" the theme and "q"
// quits.
type PromptSource struct {
	in    io.Reader
	out   io.Writer
	panel *state.Flag
	opts  PromptOptions

	mu       sync.Mutex
	observed *render.Item

	once   sync.Once
	events chan Event
	done   chan struct{}
}

func NewPromptSource(in io.Reader, out io.Writer, panel *state.Flag, opts PromptOptions) *PromptSource {
	return &PromptSource{
		in:     in,
		out:    out,
		panel:  panel,
		opts:   opts,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

func (s *PromptSource) Observe(item render.Item, _ Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = &item
}

func (s *PromptSource) Unobserve(item render.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.observed != nil && s.observed.Record.ImageURL == item.Record.ImageURL {
		s.observed = nil
	}
}

func (s *PromptSource) Events() <-chan Event {
	s.once.Do(func() { go s.read() })
	return s.events
}

// Close stops delivering events.
func (s *PromptSource) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *PromptSource) read() {
	defer close(s.events)

	prompt := "[Enter] load more, [p] toggle panel, [q] quit: "
	if s.opts.ToggleTheme != nil {
		prompt = "[Enter] load more, [p] toggle panel, [t] toggle theme, [q] quit: "
	}

	sc := bufio.NewScanner(s.in)
	for {
		if s.opts.Status != nil {
			if msg, ok := s.opts.Status(); ok {
				_, _ = fmt.Fprintf(s.out, "! %s\n", msg)
			}
		}
		_, _ = fmt.Fprint(s.out, prompt)
		if !sc.Scan() {
			return
		}

		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "q", "quit":
			return
		case "p":
			if s.panel.Toggle() {
				_, _ = fmt.Fprintln(s.out, "Panel open, loading paused.")
			} else {
				_, _ = fmt.Fprintln(s.out, "Panel closed.")
			}
			continue
		case "t":
			if s.opts.ToggleTheme == nil {
				continue
			}
			dark, err := s.opts.ToggleTheme()
			switch {
			case err != nil:
				_, _ = fmt.Fprintf(s.out, "Theme change failed: %v\n", err)
			case dark:
				_, _ = fmt.Fprintln(s.out, "Dark theme.")
			default:
				_, _ = fmt.Fprintln(s.out, "Light theme.")
			}
			continue
		case "":
		default:
			continue
		}

		s.mu.Lock()
		obs := s.observed
		s.mu.Unlock()
		if obs == nil {
			continue
		}

		select {
		case s.events <- Event{Item: *obs, Intersecting: true, Ratio: 1}:
		case <-s.done:
			return
		}
	}
}
