package schema

import "errors"

// ErrMalformedSchema is returned when a schema document or snapshot is
// structurally invalid: bad JSON, unknown type tags, duplicate names.
// Structural errors abort before semantic analysis.
var ErrMalformedSchema = errors.New("cidl/schema: malformed schema")

// IsMalformedSchemaErr returns true if err is or wraps ErrMalformedSchema.
func IsMalformedSchemaErr(err error) bool {
	return errors.Is(err, ErrMalformedSchema)
}
