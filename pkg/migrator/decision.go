package migrator

import (
	"fmt"
	"strings"
	"sync"
)

// EntityKind is the class of entity a dilemma is about.
type EntityKind string

const (
	EntityTable    EntityKind = "table"
	EntityColumn   EntityKind = "column"
	EntityJunction EntityKind = "junction table"
)

// Dilemma asks whether an added entity is a rename of one of several removed
// entities with the same content hash.
type Dilemma struct {
	Kind EntityKind

	// Scope is the owning table for columns, empty otherwise.
	Scope string

	// Added is the new entity's name.
	Added string

	// Candidates are the removed entities it may have been renamed from,
	// in declaration order.
	Candidates []string
}

// Subject names the added entity, qualified by its scope.
func (d Dilemma) Subject() string {
	if d.Scope != "" {
		return d.Scope + "." + d.Added
	}
	return d.Added
}

// Label is a one-line question suitable for a prompt.
func (d Dilemma) Label() string {
	return fmt.Sprintf("Is %s %s a rename of %s?", d.Kind, d.Subject(), strings.Join(d.Candidates, ", "))
}

// DecisionSource resolves rename dilemmas. Decide returns the index of the
// chosen candidate with ok set, or ok false when the added entity is new and
// every candidate stays removed.
//
// Diff calls Decide synchronously and never concurrently. Implementations
// needing a timeout must enforce it themselves and answer "not a rename".
type DecisionSource interface {
	Decide(d Dilemma) (choice int, ok bool, err error)
}

// DecisionFunc adapts a function to DecisionSource.
type DecisionFunc func(d Dilemma) (int, bool, error)

// Decide calls f.
func (f DecisionFunc) Decide(d Dilemma) (int, bool, error) {
	return f(d)
}

// NeverRename treats every ambiguous entity as new.
type NeverRename struct{}

// Decide always answers "not a rename".
func (NeverRename) Decide(Dilemma) (int, bool, error) {
	return 0, false, nil
}

// FailOnDilemma refuses to decide. Use it in batch runs where an ambiguous
// rename must stop the pipeline.
type FailOnDilemma struct{}

// Decide always fails with ErrUnresolvedDilemma.
func (FailOnDilemma) Decide(d Dilemma) (int, bool, error) {
	return 0, false, fmt.Errorf("%w: %s", ErrUnresolvedDilemma, d.Label())
}

// Answer is a scripted response: Choice is used when Rename is set.
type Answer struct {
	Rename bool
	Choice int
}

// Scripted answers dilemmas from a fixed list in order and records every
// dilemma it was asked. It fails once the answers run out.
type Scripted struct {
	mu      sync.Mutex
	answers []Answer
	asked   []Dilemma
}

// NewScripted returns a source that replays answers.
func NewScripted(answers ...Answer) *Scripted {
	return &Scripted{answers: answers}
}

// Decide pops the next answer.
func (s *Scripted) Decide(d Dilemma) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, d)
	if len(s.asked) > len(s.answers) {
		return 0, false, fmt.Errorf("%w: no scripted answer for %s", ErrUnresolvedDilemma, d.Label())
	}
	a := s.answers[len(s.asked)-1]
	return a.Choice, a.Rename, nil
}

// Asked returns the dilemmas seen so far.
func (s *Scripted) Asked() []Dilemma {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dilemma(nil), s.asked...)
}

// RenamePolicy names a non-interactive decision source.
func RenamePolicy(name string) (DecisionSource, error) {
	switch name {
	case "never":
		return NeverRename{}, nil
	case "fail":
		return FailOnDilemma{}, nil
	}
	return nil, fmt.Errorf("unknown rename policy %q (expected never or fail)", name)
}
