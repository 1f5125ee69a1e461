// Package prompt resolves rename dilemmas interactively and styles CLI output.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/pthm/cidl/pkg/migrator"
)

// notRenamed is the option value for "the entity is new".
const notRenamed = -1

// Huh asks on the terminal which removed entity, if any, an added entity
// was renamed from. It implements migrator.DecisionSource.
type Huh struct {
	in         io.Reader
	out        io.Writer
	accessible bool

	// run executes a built form bound to choice; replaced in tests.
	run func(form *huh.Form, choice *int) error
}

// Option configures a Huh prompt.
type Option func(*Huh)

// WithIO sets the terminal streams. Defaults to stdin and stderr.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(h *Huh) {
		h.in = in
		h.out = out
	}
}

// WithAccessible switches to line-based prompts that work without a TTY.
func WithAccessible(accessible bool) Option {
	return func(h *Huh) { h.accessible = accessible }
}

// New creates an interactive decision source.
func New(opts ...Option) *Huh {
	h := &Huh{in: os.Stdin, out: os.Stderr}
	for _, opt := range opts {
		opt(h)
	}
	h.run = func(f *huh.Form, _ *int) error { return f.Run() }
	return h
}

// Decide shows one select with every candidate plus "new". The first
// candidate is preselected.
func (h *Huh) Decide(d migrator.Dilemma) (int, bool, error) {
	choice := 0
	if len(d.Candidates) == 0 {
		choice = notRenamed
	}
	if err := h.run(h.form(d, &choice), &choice); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return 0, false, fmt.Errorf("%w: aborted at %s", migrator.ErrUnresolvedDilemma, d.Label())
		}
		return 0, false, fmt.Errorf("prompting for %s: %w", d.Subject(), err)
	}
	if choice < 0 || choice >= len(d.Candidates) {
		return 0, false, nil
	}
	return choice, true, nil
}

func (h *Huh) form(d migrator.Dilemma, choice *int) *huh.Form {
	sel := huh.NewSelect[int]().
		Title(d.Label()).
		Description(fmt.Sprintf("%s %s has the same content as a removed %s.", d.Kind, d.Subject(), d.Kind)).
		Options(options(d)...).
		Value(choice)

	return huh.NewForm(huh.NewGroup(sel)).
		WithInput(h.in).
		WithOutput(h.out).
		WithAccessible(h.accessible)
}

func options(d migrator.Dilemma) []huh.Option[int] {
	opts := make([]huh.Option[int], 0, len(d.Candidates)+1)
	for i, c := range d.Candidates {
		opts = append(opts, huh.NewOption(fmt.Sprintf("renamed from %s", c), i))
	}
	return append(opts, huh.NewOption(fmt.Sprintf("create %s as new", d.Added), notRenamed))
}
