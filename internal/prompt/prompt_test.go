package prompt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/cidl/pkg/migrator"
)

func dilemma() migrator.Dilemma {
	return migrator.Dilemma{
		Kind:       migrator.EntityColumn,
		Scope:      "Person",
		Added:      "nickname",
		Candidates: []string{"firstName", "lastName"},
	}
}

func TestOptions(t *testing.T) {
	opts := options(dilemma())
	require.Len(t, opts, 3)

	assert.Equal(t, "renamed from firstName", opts[0].Key)
	assert.Equal(t, 0, opts[0].Value)
	assert.Equal(t, "renamed from lastName", opts[1].Key)
	assert.Equal(t, 1, opts[1].Value)
	assert.Equal(t, "create nickname as new", opts[2].Key)
	assert.Equal(t, notRenamed, opts[2].Value)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		pick    *int
		choice  int
		renamed bool
	}{
		{"default is first candidate", nil, 0, true},
		{"second candidate", intp(1), 1, true},
		{"new entity", intp(notRenamed), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(WithIO(&bytes.Buffer{}, &bytes.Buffer{}))
			var seen *huh.Form
			h.run = func(f *huh.Form, choice *int) error {
				seen = f
				if tt.pick != nil {
					*choice = *tt.pick
				}
				return nil
			}

			choice, ok, err := h.Decide(dilemma())
			require.NoError(t, err)
			assert.NotNil(t, seen)
			assert.Equal(t, tt.renamed, ok)
			assert.Equal(t, tt.choice, choice)
		})
	}
}

func TestDecide_NoCandidates(t *testing.T) {
	h := New()
	h.run = func(*huh.Form, *int) error { return nil }

	_, ok, err := h.Decide(migrator.Dilemma{Kind: migrator.EntityTable, Added: "Cat"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func intp(i int) *int { return &i }

func TestDecide_Aborted(t *testing.T) {
	h := New()
	h.run = func(*huh.Form, *int) error { return huh.ErrUserAborted }

	_, _, err := h.Decide(dilemma())
	require.Error(t, err)
	assert.True(t, migrator.IsUnresolvedDilemmaErr(err))
}

func TestDecide_PromptFailure(t *testing.T) {
	h := New()
	h.run = func(*huh.Form, *int) error { return errors.New("no tty") }

	_, _, err := h.Decide(dilemma())
	require.Error(t, err)
	assert.False(t, migrator.IsUnresolvedDilemmaErr(err))
	assert.Contains(t, err.Error(), "Person.nickname")
}

func TestDecide_SatisfiesDecisionSource(t *testing.T) {
	var _ migrator.DecisionSource = New()
}

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	Printf(&buf, Muted, "%d statements", 3)
	assert.Contains(t, buf.String(), "3 statements")
	assert.Contains(t, OK("done"), "done")
	assert.Contains(t, Heading("Models"), "Models")
}
