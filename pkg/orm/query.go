package orm

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/pthm/cidl/internal/database"
	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/schema"
)

// Querier runs a query. Implemented by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryDataSource reads every root object of a data source from its view
// and materializes it with the data source's include tree.
func QueryDataSource(ctx context.Context, db Querier, d migrator.Dialect, models ModelLookup, model, dataSource string) ([]Object, error) {
	return queryView(ctx, db, d, models, model, dataSource, nil)
}

// GetDataSource is QueryDataSource restricted to the root object with
// primary key id. It returns nil when there is none.
func GetDataSource(ctx context.Context, db Querier, d migrator.Dialect, models ModelLookup, model, dataSource string, id any) (Object, error) {
	objs, err := queryView(ctx, db, d, models, model, dataSource, id)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return objs[0], nil
}

func queryView(ctx context.Context, db Querier, d migrator.Dialect, models ModelLookup, model, dataSource string, id any) ([]Object, error) {
	m, ok := models.Model(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	ds, ok := m.DataSource(dataSource)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownDataSource, model, dataSource)
	}

	pk := d.Quote(m.PrimaryKey.Name)
	query := "SELECT * FROM " + d.Quote(migrator.ViewName(m.Name, ds.Name))
	var args []any
	if id != nil {
		placeholder := "?"
		if d.Name() == "postgres" {
			placeholder = "$1"
		}
		query += " WHERE " + pk + " = " + placeholder
		args = append(args, id)
	}
	query += " ORDER BY " + pk

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", migrator.ViewName(m.Name, ds.Name), err)
	}
	result, err := database.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	return Materialize(m.Name, models, result, ds.Tree)
}

// ParseKey converts a textual primary key to the Go type of model's key
// column, for use as the id of GetDataSource.
func ParseKey(models ModelLookup, model, raw string) (any, error) {
	m, ok := models.Model(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	switch m.PrimaryKey.Type.Root().Kind {
	case schema.KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s.%s must be an integer: %q", m.Name, m.PrimaryKey.Name, raw)
		}
		return n, nil
	case schema.KindReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s.%s must be a number: %q", m.Name, m.PrimaryKey.Name, raw)
		}
		return f, nil
	}
	return raw, nil
}
