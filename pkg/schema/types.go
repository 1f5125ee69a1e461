package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypeKind discriminates the variants of CidlType.
type TypeKind int

const (
	KindVoid TypeKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindBoolean
	KindDateIso
	KindNull
	KindNullable // wraps Inner
	KindInject   // service or environment binding named by Name
	KindObject   // plain old object named by Name
	KindModel    // model named by Name
	KindArray    // wraps Inner
)

var kindNames = map[TypeKind]string{
	KindVoid:     "Void",
	KindInteger:  "Integer",
	KindReal:     "Real",
	KindText:     "Text",
	KindBlob:     "Blob",
	KindBoolean:  "Boolean",
	KindDateIso:  "DateIso",
	KindNull:     "Null",
	KindNullable: "Nullable",
	KindInject:   "Inject",
	KindObject:   "Object",
	KindModel:    "Model",
	KindArray:    "Array",
}

func (k TypeKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// CidlType is the type of an attribute, parameter or return value.
//
// Primitive kinds (Integer through DateIso) are storable in a SQL column.
// Nullable and Array wrap Inner; Inject, Object and Model reference another
// schema entity by Name.
type CidlType struct {
	Kind  TypeKind
	Name  string
	Inner *CidlType
}

// Primitive and unit types.
var (
	Void    = CidlType{Kind: KindVoid}
	Integer = CidlType{Kind: KindInteger}
	Real    = CidlType{Kind: KindReal}
	Text    = CidlType{Kind: KindText}
	Blob    = CidlType{Kind: KindBlob}
	Boolean = CidlType{Kind: KindBoolean}
	DateIso = CidlType{Kind: KindDateIso}
	Null    = CidlType{Kind: KindNull}
)

// NullableOf wraps t as nullable.
func NullableOf(t CidlType) CidlType {
	return CidlType{Kind: KindNullable, Inner: &t}
}

// ArrayOf wraps t as an array.
func ArrayOf(t CidlType) CidlType {
	return CidlType{Kind: KindArray, Inner: &t}
}

// InjectType references an injected service or environment binding.
func InjectType(name string) CidlType {
	return CidlType{Kind: KindInject, Name: name}
}

// ObjectType references a plain old object.
func ObjectType(name string) CidlType {
	return CidlType{Kind: KindObject, Name: name}
}

// ModelType references a model.
func ModelType(name string) CidlType {
	return CidlType{Kind: KindModel, Name: name}
}

// IsPrimitive reports whether the type maps directly to a SQL column type.
func (t CidlType) IsPrimitive() bool {
	return t.Kind >= KindInteger && t.Kind <= KindDateIso
}

// IsNullable reports whether the type is wrapped as nullable.
func (t CidlType) IsNullable() bool {
	return t.Kind == KindNullable
}

// Root strips a single Nullable wrapper.
func (t CidlType) Root() CidlType {
	if t.Kind == KindNullable && t.Inner != nil {
		return *t.Inner
	}
	return t
}

// IsBlob reports whether the root type is Blob.
func (t CidlType) IsBlob() bool {
	return t.Root().Kind == KindBlob
}

// Referenced returns the model or object name this type points at,
// looking through Nullable and Array wrappers.
func (t CidlType) Referenced() (TypeKind, string, bool) {
	switch t.Kind {
	case KindNullable, KindArray:
		if t.Inner == nil {
			return 0, "", false
		}
		return t.Inner.Referenced()
	case KindModel, KindObject:
		return t.Kind, t.Name, true
	}
	return 0, "", false
}

// Equal reports structural equality.
func (t CidlType) Equal(o CidlType) bool {
	return t.String() == o.String()
}

// String renders the canonical form, e.g. "Nullable<Text>" or "Inject<Env>".
// The canonical form is also what the content hasher folds.
func (t CidlType) String() string {
	switch t.Kind {
	case KindNullable, KindArray:
		inner := "?"
		if t.Inner != nil {
			inner = t.Inner.String()
		}
		return fmt.Sprintf("%s<%s>", t.Kind, inner)
	case KindInject, KindObject, KindModel:
		return fmt.Sprintf("%s<%s>", t.Kind, t.Name)
	}
	return t.Kind.String()
}

// MarshalJSON encodes the externally tagged wire form:
// "Integer", {"Nullable":"Text"}, {"Model":"Dog"}.
func (t CidlType) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case KindNullable, KindArray:
		if t.Inner == nil {
			return nil, fmt.Errorf("%w: %s without inner type", ErrMalformedSchema, t.Kind)
		}
		return json.Marshal(map[string]CidlType{t.Kind.String(): *t.Inner})
	case KindInject, KindObject, KindModel:
		return json.Marshal(map[string]string{t.Kind.String(): t.Name})
	}
	if _, ok := kindNames[t.Kind]; !ok {
		return nil, fmt.Errorf("%w: unknown type kind %d", ErrMalformedSchema, int(t.Kind))
	}
	return json.Marshal(t.Kind.String())
}

// UnmarshalJSON decodes the externally tagged wire form.
func (t *CidlType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		kind, ok := unitKind(name)
		if !ok {
			return fmt.Errorf("%w: unknown type %q", ErrMalformedSchema, name)
		}
		*t = CidlType{Kind: kind}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("%w: invalid type: %v", ErrMalformedSchema, err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("%w: type must have exactly one tag, got %d", ErrMalformedSchema, len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "Nullable", "Array":
			var inner CidlType
			if err := inner.UnmarshalJSON(raw); err != nil {
				return err
			}
			if tag == "Nullable" {
				*t = NullableOf(inner)
			} else {
				*t = ArrayOf(inner)
			}
		case "Inject", "Object", "Model":
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return fmt.Errorf("%w: %s expects a name: %v", ErrMalformedSchema, tag, err)
			}
			switch tag {
			case "Inject":
				*t = InjectType(name)
			case "Object":
				*t = ObjectType(name)
			default:
				*t = ModelType(name)
			}
		default:
			return fmt.Errorf("%w: unknown type tag %q", ErrMalformedSchema, tag)
		}
	}
	return nil
}

func unitKind(name string) (TypeKind, bool) {
	for k, n := range kindNames {
		if n != name {
			continue
		}
		switch k {
		case KindNullable, KindArray, KindInject, KindObject, KindModel:
			return 0, false
		}
		return k, true
	}
	return 0, false
}
