package migrator

import "errors"

// Sentinel errors for migration failures. Every failure is terminal: Diff
// returns no statements alongside an error.
var (
	// ErrMigration is returned when a snapshot cannot be migrated: duplicate
	// names, incomplete many-to-many pairs, invalid decisions.
	ErrMigration = errors.New("cidl/migrator: migration failed")

	// ErrHashMismatch is returned when a snapshot's stored hashes disagree
	// with the hashes recomputed from its contents. The snapshot was edited
	// by hand or written by an incompatible version.
	ErrHashMismatch = errors.New("cidl/migrator: snapshot hash mismatch")

	// ErrUnresolvedDilemma is returned by decision sources that refuse to
	// pick between rename candidates.
	ErrUnresolvedDilemma = errors.New("cidl/migrator: unresolved rename dilemma")

	// ErrUnknownDialect is returned for a dialect name other than sqlite or
	// postgres.
	ErrUnknownDialect = errors.New("cidl/migrator: unknown dialect")
)

// IsMigrationErr returns true if err is or wraps ErrMigration.
func IsMigrationErr(err error) bool {
	return errors.Is(err, ErrMigration)
}

// IsHashMismatchErr returns true if err is or wraps ErrHashMismatch.
func IsHashMismatchErr(err error) bool {
	return errors.Is(err, ErrHashMismatch)
}

// IsUnresolvedDilemmaErr returns true if err is or wraps ErrUnresolvedDilemma.
func IsUnresolvedDilemmaErr(err error) bool {
	return errors.Is(err, ErrUnresolvedDilemma)
}
