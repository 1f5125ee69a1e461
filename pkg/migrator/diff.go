// Package migrator turns schema revisions into DDL and applies it.
//
// Diff compares the previous MigrationsAst snapshot with the current one and
// returns an ordered list of statements, safe to run sequentially inside one
// transaction. Renamed tables, columns and junction tables are recognised by
// content hash; when a hash alone cannot pair old and new entities, the
// caller's DecisionSource is asked.
//
// Migrator applies those statements to a database, records each revision in
// the cidl_migrations table and reads the previous snapshot back from it.
// Snapshot files (NNNN_name.sql and NNNN_name.json) are handled by
// WriteMigration and LatestSnapshot for projects that ship migrations as
// files.
package migrator

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pthm/cidl/pkg/parser"
	"github.com/pthm/cidl/pkg/schema"
)

// DiffOptions configures Diff.
type DiffOptions struct {
	// Dialect renders the statements. Defaults to SQLite.
	Dialect Dialect

	// Logger receives one debug event per rename decision.
	// Defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Diff returns the statements that migrate a database from prev to next.
// A nil prev means no previous migration: every table is created.
//
// When prev and next have the same schema hash Diff returns no statements
// without consulting decisions. A nil decisions fails on the first dilemma.
// On error no statements are returned.
func Diff(prev, next *schema.MigrationsAst, decisions DecisionSource, opts DiffOptions) ([]string, error) {
	p, err := BuildPlan(prev, next, decisions, opts)
	if err != nil {
		return nil, err
	}
	d := opts.Dialect
	if d == nil {
		d = SQLite{}
	}
	return p.Statements(d), nil
}

// BuildPlan validates both snapshots and computes the dialect independent
// plan that Diff renders.
func BuildPlan(prev, next *schema.MigrationsAst, decisions DecisionSource, opts DiffOptions) (*Plan, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: no current snapshot", ErrMigration)
	}
	if err := validateSnapshot("current", next); err != nil {
		return nil, err
	}
	if prev != nil {
		if err := validateSnapshot("previous", prev); err != nil {
			return nil, err
		}
		if prev.Hash == next.Hash {
			return &Plan{Old: prev, New: next}, nil
		}
	} else {
		prev = &schema.MigrationsAst{}
	}

	if decisions == nil {
		decisions = FailOnDilemma{}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	pl := &planner{old: prev, new: next, decisions: decisions, log: log}
	return pl.build()
}

func validateSnapshot(label string, ast *schema.MigrationsAst) error {
	if err := ast.VerifyHashes(); err != nil {
		return fmt.Errorf("%w: %s snapshot: %v", ErrHashMismatch, label, err)
	}
	if err := parser.CheckModels(ast.Models); err != nil {
		return fmt.Errorf("%w: %s snapshot: %w", ErrMigration, label, err)
	}
	for _, m := range ast.Models {
		for _, a := range m.Attributes {
			if a.ForeignKey == "" {
				continue
			}
			if _, ok := ast.Model(a.ForeignKey); !ok {
				return fmt.Errorf("%w: %s snapshot: %s.%s references unknown model %s",
					ErrMigration, label, m.Name, a.Name, a.ForeignKey)
			}
		}
	}
	if _, err := schema.Junctions(ast.Models); err != nil {
		return fmt.Errorf("%w: %s snapshot: %v", ErrMigration, label, err)
	}
	return nil
}
