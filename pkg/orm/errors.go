package orm

import "errors"

// Sentinel errors for materialization. A failed call returns no objects.
var (
	// ErrUnknownModel is returned when the root model, or the target of an
	// included navigation property, is not in the model metadata.
	ErrUnknownModel = errors.New("cidl/orm: unknown model")

	// ErrUnknownNavigation is returned when an include tree names a
	// navigation property the model does not declare.
	ErrUnknownNavigation = errors.New("cidl/orm: unknown navigation property")

	// ErrUnknownDataSource is returned by QueryDataSource for a data source
	// the model does not declare.
	ErrUnknownDataSource = errors.New("cidl/orm: unknown data source")

	// ErrMissingPrimaryKey is returned when a row has no value for the root
	// model's primary key column.
	ErrMissingPrimaryKey = errors.New("cidl/orm: row has no primary key")
)

// IsUnknownModelErr returns true if err is or wraps ErrUnknownModel.
func IsUnknownModelErr(err error) bool {
	return errors.Is(err, ErrUnknownModel)
}

// IsUnknownNavigationErr returns true if err is or wraps ErrUnknownNavigation.
func IsUnknownNavigationErr(err error) bool {
	return errors.Is(err, ErrUnknownNavigation)
}
