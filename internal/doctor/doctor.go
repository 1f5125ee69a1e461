// Package doctor provides health checks for a cidl project.
//
// The doctor command validates that the schema document, the migration files
// and the database agree with each other: the document parses and analyzes,
// the latest snapshot is intact and matches the document, and the database's
// last revision matches too, with every table and view in place.
//
// Example usage:
//
//	d := doctor.New("cidl.json", "migrations").WithDatabase(db, migrator.SQLite{})
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pthm/cidl/pkg/analyzer"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/parser"
	"github.com/pthm/cidl/pkg/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// Check categories, printed in this order.
const (
	CategorySchema     = "Schema"
	CategoryMigrations = "Migration Files"
	CategoryDatabase   = "Database"
)

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	Category string

	// Name is a short identifier for the check.
	Name string

	Status  Status
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Check returns the first check with the given name.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Print writes the report to the given writer. Symbols are passed through
// style when it is non-nil.
func (r *Report) Print(w io.Writer, verbose bool) {
	r.PrintStyled(w, verbose, nil)
}

// PrintStyled is Print with a styling hook for status symbols.
func (r *Report) PrintStyled(w io.Writer, verbose bool, style func(Status, string) string) {
	if style == nil {
		style = func(_ Status, s string) string { return s }
	}

	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", style(check.Status, check.Status.Symbol()), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks on a cidl project.
type Doctor struct {
	schemaPath    string
	migrationsDir string

	db      *sql.DB
	dialect migrator.Dialect

	// Populated during Run
	ast    *schema.MigrationsAst
}

// New creates a Doctor for a schema document and its migrations directory.
func New(schemaPath, migrationsDir string) *Doctor {
	return &Doctor{
		schemaPath:    schemaPath,
		migrationsDir: migrationsDir,
		dialect:       migrator.SQLite{},
	}
}

// WithDatabase adds the database checks.
func (d *Doctor) WithDatabase(db *sql.DB, dialect migrator.Dialect) *Doctor {
	d.db = db
	if dialect != nil {
		d.dialect = dialect
	}
	return d
}

// Run executes all health checks and returns a report. Problems found are
// reported as checks; an error means the checks themselves could not run.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkSchemaFile(report)
	d.checkMigrationFiles(report)
	if d.db != nil {
		if err := d.checkDatabase(ctx, report); err != nil {
			return nil, fmt.Errorf("checking database: %w", err)
		}
	}

	return report, nil
}

// checkSchemaFile validates the schema document exists, parses and analyzes.
func (d *Doctor) checkSchemaFile(report *Report) {
	if _, err := os.Stat(d.schemaPath); err != nil {
		report.AddCheck(CheckResult{
			Category: CategorySchema,
			Name:     "exists",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Schema file not found at %s", d.schemaPath),
			FixHint:  "Run the front-end compiler to produce cidl.json, or set 'schema' in cidl.yaml",
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: CategorySchema,
		Name:     "exists",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema file exists at %s", d.schemaPath),
	})

	s, err := parser.ParseSchema(d.schemaPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: CategorySchema,
			Name:     "parse",
			Status:   StatusFail,
			Message:  "Schema document is malformed",
			Details:  err.Error(),
			FixHint:  "Regenerate the document with the front-end compiler",
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: CategorySchema,
		Name:     "parse",
		Status:   StatusPass,
		Message: fmt.Sprintf("Schema parses (%d models, %d objects, %d services)",
			len(s.Models), len(s.Poos), len(s.Services)),
	})

	blobs, err := analyzer.Analyze(s)
	if err != nil {
		check := CheckResult{
			Category: CategorySchema,
			Name:     "analyze",
			Status:   StatusFail,
			Message:  "Schema has semantic errors",
			Details:  err.Error(),
		}
		if se, ok := analyzer.AsSemanticError(err); ok {
			check.FixHint = se.Suggestion()
		}
		report.AddCheck(check)
		return
	}

	details := ""
	if blobs.Len() > 0 {
		details = "Blob-bearing: " + strings.Join(blobs.Names(), ", ")
	}
	report.AddCheck(CheckResult{
		Category: CategorySchema,
		Name:     "analyze",
		Status:   StatusPass,
		Message:  "Schema is valid",
		Details:  details,
	})

	d.ast = schema.ToMigrationsAst(s)
}

// checkMigrationFiles validates the latest snapshot and compares it with the
// schema.
func (d *Doctor) checkMigrationFiles(report *Report) {
	files, err := migrator.ListMigrations(d.migrationsDir)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "files",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Cannot read %s", d.migrationsDir),
			Details:  err.Error(),
		})
		return
	}
	if len(files) == 0 {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "files",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("No migrations in %s", d.migrationsDir),
			FixHint:  "Run 'cidl migrate --name init' to write the first migration",
		})
		return
	}

	var missing []string
	for _, f := range files {
		if _, err := os.Stat(f.SQLPath); err != nil {
			missing = append(missing, f.SQLPath)
		}
	}
	if len(missing) > 0 {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "files",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d migration(s) have a snapshot but no SQL file", len(missing)),
			Details:  strings.Join(missing, "\n"),
			FixHint:  "Restore the SQL files from version control",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "files",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d migration(s) in %s", len(files), d.migrationsDir),
		})
	}

	latest := files[len(files)-1]
	ast, err := migrator.ReadSnapshot(latest.SnapshotPath)
	if err == nil {
		err = ast.VerifyHashes()
	}
	if err != nil {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "snapshot",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Latest snapshot %s is corrupt", latest.SnapshotPath),
			Details:  err.Error(),
			FixHint:  "Restore the snapshot from version control; snapshots must not be edited by hand",
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: CategoryMigrations,
		Name:     "snapshot",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Latest snapshot %04d_%s is intact", latest.Seq, latest.Name),
	})

	if d.ast == nil {
		return
	}
	if ast.Hash != d.ast.Hash {
		report.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     "schema_sync",
			Status:   StatusWarn,
			Message:  "Schema has changes not captured in a migration",
			Details:  fmt.Sprintf("Schema hash:   %d\nSnapshot hash: %d", d.ast.Hash, ast.Hash),
			FixHint:  "Run 'cidl migrate --name <change>' to write the next migration",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: CategoryMigrations,
		Name:     "schema_sync",
		Status:   StatusPass,
		Message:  "Schema matches the latest snapshot",
	})
}

// checkDatabase compares the tracking table with the schema and probes every
// table and view of the last applied revision.
func (d *Doctor) checkDatabase(ctx context.Context, report *Report) error {
	m := migrator.NewMigrator(d.db, migrator.WithDialect(d.dialect))
	st, err := m.GetStatus(ctx, d.ast)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		report.AddCheck(CheckResult{
			Category: CategoryDatabase,
			Name:     "tracking",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Cannot read %s", migrator.TrackingTable),
			Details:  err.Error(),
			FixHint:  "Check the database connection; a corrupt snapshot row must be restored from the matching migration file",
		})
		return nil
	}

	if !st.Tracked {
		report.AddCheck(CheckResult{
			Category: CategoryDatabase,
			Name:     "tracking",
			Status:   StatusWarn,
			Message:  "No migration has been applied",
			FixHint:  "Run 'cidl migrate --db' to apply the schema",
		})
		return nil
	}

	report.AddCheck(CheckResult{
		Category: CategoryDatabase,
		Name:     "tracking",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Last revision %q applied at %s", st.Last.Name, st.Last.AppliedAt),
	})

	switch {
	case d.ast == nil:
	case st.UpToDate:
		report.AddCheck(CheckResult{
			Category: CategoryDatabase,
			Name:     "db_sync",
			Status:   StatusPass,
			Message:  "Database is in sync with the schema",
		})
	default:
		report.AddCheck(CheckResult{
			Category: CategoryDatabase,
			Name:     "db_sync",
			Status:   StatusWarn,
			Message:  "Database is behind the schema",
			Details:  fmt.Sprintf("Schema hash:   %d\nDatabase hash: %d", d.ast.Hash, st.Last.SchemaHash),
			FixHint:  "Run 'cidl migrate --db' to apply changes",
		})
	}

	var tables, views []string
	for _, model := range st.Last.Snapshot.Models {
		tables = append(tables, model.Name)
		for _, ds := range model.DataSources {
			views = append(views, migrator.ViewName(model.Name, ds.Name))
		}
	}
	junctions, err := schema.Junctions(st.Last.Snapshot.Models)
	if err == nil {
		for _, j := range junctions {
			tables = append(tables, j.Name)
		}
	}

	if err := d.probe(ctx, report, "tables", "table", tables); err != nil {
		return err
	}
	return d.probe(ctx, report, "views", "view", views)
}

// probe selects zero rows from each relation and reports those that fail.
func (d *Doctor) probe(ctx context.Context, report *Report, name, kind string, relations []string) error {
	if len(relations) == 0 {
		return nil
	}

	var missing []string
	for _, rel := range relations {
		rows, err := d.db.QueryContext(ctx, "SELECT * FROM "+d.dialect.Quote(rel)+" WHERE 1 = 0")
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			missing = append(missing, fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		_ = rows.Close()
	}

	if len(missing) > 0 {
		report.AddCheck(CheckResult{
			Category: CategoryDatabase,
			Name:     name,
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d of %d %ss are missing or unreadable", len(missing), len(relations), kind),
			Details:  strings.Join(missing, "\n"),
			FixHint:  "The database was changed outside cidl; restore it from a backup before migrating again",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: CategoryDatabase,
		Name:     name,
		Status:   StatusPass,
		Message:  fmt.Sprintf("All %d %ss present", len(relations), kind),
	})
	return nil
}
