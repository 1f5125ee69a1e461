package analyzer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSemantic is wrapped by every *SemanticError. Use IsSemanticErr to test
// for any analyzer failure and errors.As to get at the details.
var ErrSemantic = errors.New("cidl/analyzer: semantic error")

// IsSemanticErr returns true if err is or wraps ErrSemantic.
func IsSemanticErr(err error) bool {
	return errors.Is(err, ErrSemantic)
}

// ErrorKind names a semantic violation.
type ErrorKind int

const (
	UnknownModelReference ErrorKind = iota + 1
	NullPrimaryKey
	NullSqlType
	InvalidSqlType
	UnexpectedInject
	MismatchedForeignKeyTypes
	InvalidNavigationPropertyReference
	MismatchedNavigationPropertyTypes
	MissingManyToManyReference
	ExtraneousManyToManyReferences
	UnknownIncludeTreeReference
	UnknownObjectReference
	UnknownInjectReference
	CyclicalDependency
)

type kindInfo struct {
	name        string
	description string
	suggestion  string
}

var kinds = map[ErrorKind]kindInfo{
	UnknownModelReference: {
		"UnknownModelReference",
		"a foreign key or navigation property names a model that does not exist",
		"check the spelling of the referenced model or declare it",
	},
	NullPrimaryKey: {
		"NullPrimaryKey",
		"a primary key cannot be nullable",
		"remove the nullable wrapper from the primary key type",
	},
	NullSqlType: {
		"NullSqlType",
		"an attribute cannot have the bare null type",
		"give the attribute a concrete type, optionally wrapped as nullable",
	},
	InvalidSqlType: {
		"InvalidSqlType",
		"the type cannot be stored in a SQL column",
		"use Integer, Real, Text, Blob, Boolean or DateIso, or model the relation as a navigation property",
	},
	UnexpectedInject: {
		"UnexpectedInject",
		"injected types are only valid as method parameters and service attributes",
		"move the injected dependency to a method parameter",
	},
	MismatchedForeignKeyTypes: {
		"MismatchedForeignKeyTypes",
		"a foreign key's type differs from the referenced model's primary key type",
		"declare the foreign key with the same type as the referenced primary key",
	},
	InvalidNavigationPropertyReference: {
		"InvalidNavigationPropertyReference",
		"a navigation property's reference does not name an attribute",
		"point the reference at a foreign key attribute on the correct model",
	},
	MismatchedNavigationPropertyTypes: {
		"MismatchedNavigationPropertyTypes",
		"a navigation property's reference does not hold a foreign key to the expected model",
		"add the foreign key reference to the attribute, or point it at the right model",
	},
	MissingManyToManyReference: {
		"MissingManyToManyReference",
		"a many-to-many unique id is declared on only one side",
		"declare a reciprocal many-to-many navigation property with the same unique id on the other model",
	},
	ExtraneousManyToManyReferences: {
		"ExtraneousManyToManyReferences",
		"a many-to-many unique id is shared by more than two navigation properties",
		"give each many-to-many relation its own unique id",
	},
	UnknownIncludeTreeReference: {
		"UnknownIncludeTreeReference",
		"an include tree names a navigation property that does not exist",
		"only include navigation properties declared on the model at that depth",
	},
	UnknownObjectReference: {
		"UnknownObjectReference",
		"a type references a model or object that does not exist",
		"declare the referenced model or plain old object",
	},
	UnknownInjectReference: {
		"UnknownInjectReference",
		"an injected dependency is neither a service nor an environment binding",
		"declare the service or add the binding to the environment",
	},
	CyclicalDependency: {
		"CyclicalDependency",
		"the dependency graph contains a cycle",
		"make one of the foreign keys in the cycle nullable, or break the service injection loop",
	},
}

func (k ErrorKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// SemanticError is a named violation found by Analyze. Context identifies the
// offending path (Model.attribute, Service.method) or, for cycles, the cycle
// in traversal order.
type SemanticError struct {
	Kind    ErrorKind
	Context string

	// Cycle lists the members of a CyclicalDependency in traversal order,
	// without repeating the first member.
	Cycle []string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Description(), e.Context)
}

func (e *SemanticError) Unwrap() error {
	return ErrSemantic
}

// Description is the human-readable statement of the violation.
func (e *SemanticError) Description() string {
	return kinds[e.Kind].description
}

// Suggestion is the remediation hint shown to the user.
func (e *SemanticError) Suggestion() string {
	return kinds[e.Kind].suggestion
}

// AsSemanticError unwraps err into a *SemanticError.
func AsSemanticError(err error) (*SemanticError, bool) {
	var se *SemanticError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func semantic(kind ErrorKind, format string, args ...any) *SemanticError {
	return &SemanticError{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

func cyclical(cycle []string) *SemanticError {
	return &SemanticError{
		Kind:    CyclicalDependency,
		Context: formatCycle(cycle),
		Cycle:   append([]string(nil), cycle[:len(cycle)-1]...),
	}
}

// formatCycle joins a closed cycle path.
// Example: "Person → Dog → Person"
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " → ")
}
