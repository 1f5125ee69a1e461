package migrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pthm/cidl/pkg/schema"
)

// MigrationFile is one numbered migration on disk: NNNN_name.sql holding the
// statements and NNNN_name.json holding the snapshot they migrate to.
type MigrationFile struct {
	Seq          int
	Name         string
	SQLPath      string
	SnapshotPath string
}

var migrationFileRe = regexp.MustCompile(`^(\d{4,})_(.+)\.json$`)

// ListMigrations returns the migrations in dir ordered by sequence number.
// A missing directory has no migrations.
func ListMigrations(dir string) ([]MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []MigrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		out = append(out, MigrationFile{
			Seq:          seq,
			Name:         m[2],
			SQLPath:      filepath.Join(dir, base+".sql"),
			SnapshotPath: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LatestSnapshot loads the snapshot of the highest numbered migration in dir.
// It returns nil, nil, nil when there is none.
func LatestSnapshot(dir string) (*schema.MigrationsAst, *MigrationFile, error) {
	files, err := ListMigrations(dir)
	if err != nil || len(files) == 0 {
		return nil, nil, err
	}
	latest := files[len(files)-1]
	ast, err := ReadSnapshot(latest.SnapshotPath)
	if err != nil {
		return nil, nil, err
	}
	return ast, &latest, nil
}

// ReadSnapshot decodes a snapshot file.
func ReadSnapshot(path string) (*schema.MigrationsAst, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// DecodeSnapshot decodes snapshot JSON.
func DecodeSnapshot(data []byte) (*schema.MigrationsAst, error) {
	var ast schema.MigrationsAst
	if err := json.Unmarshal(data, &ast); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot: %w", ErrMigration, err)
	}
	return &ast, nil
}

// EncodeSnapshot encodes a snapshot as indented JSON.
func EncodeSnapshot(ast *schema.MigrationsAst) ([]byte, error) {
	data, err := json.MarshalIndent(ast, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeName turns a free-form migration name into a file name fragment.
func SanitizeName(name string) string {
	s := strings.Trim(unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if s == "" {
		return "migration"
	}
	return s
}

// WriteMigration writes the next numbered migration to dir. Both files are
// written to temporary names and renamed into place. The snapshot goes last:
// it is what marks the revision as present.
func WriteMigration(dir, name string, d Dialect, statements []string, ast *schema.MigrationsAst) (*MigrationFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating migrations directory: %w", err)
	}
	files, err := ListMigrations(dir)
	if err != nil {
		return nil, err
	}
	seq := 1
	if len(files) > 0 {
		seq = files[len(files)-1].Seq + 1
	}

	base := fmt.Sprintf("%04d_%s", seq, SanitizeName(name))
	mf := &MigrationFile{
		Seq:          seq,
		Name:         SanitizeName(name),
		SQLPath:      filepath.Join(dir, base+".sql"),
		SnapshotPath: filepath.Join(dir, base+".json"),
	}

	snapshot, err := EncodeSnapshot(ast)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(mf.SQLPath, []byte(FormatSQL(d, ast.Hash, statements))); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(mf.SnapshotPath, snapshot); err != nil {
		_ = os.Remove(mf.SQLPath)
		return nil, err
	}
	return mf, nil
}

// FormatSQL renders statements as a migration script.
func FormatSQL(d Dialect, hash uint64, statements []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- cidl migration\n-- Dialect: %s\n-- Schema hash: %d\n\n", d.Name(), hash)
	if len(statements) == 0 {
		b.WriteString("-- no changes\n")
	}
	for _, s := range statements {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	return b.String()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cidl-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
