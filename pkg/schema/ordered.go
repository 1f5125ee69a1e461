package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// entry is one key/value pair of a JSON object whose key order matters.
type entry[T any] struct {
	Key   string
	Value T
}

// entries decodes a JSON object into a slice, keeping document order and
// rejecting duplicate keys (encoding/json would silently keep the last one).
type entries[T any] []entry[T]

func (e *entries[T]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSchema, err)
	}
	if tok == nil {
		*e = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object, got %v", ErrMalformedSchema, tok)
	}

	seen := make(map[string]bool)
	var out entries[T]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSchema, err)
		}
		key, _ := tok.(string)
		if seen[key] {
			return fmt.Errorf("%w: duplicate key %q", ErrMalformedSchema, key)
		}
		seen[key] = true

		var v T
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, entry[T]{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSchema, err)
	}

	*e = out
	return nil
}

func (e entries[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, en := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(en.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(en.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// named is implemented by entities whose JSON object key duplicates a name field.
type named interface {
	entityName() string
}

// unkey checks that every entry's embedded name agrees with its key, filling
// in empty names from the key via fill.
func unkey[T named](kind string, in entries[T], fill func(*T, string)) ([]T, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]T, 0, len(in))
	for _, en := range in {
		v := en.Value
		switch v.entityName() {
		case "":
			fill(&v, en.Key)
		case en.Key:
		default:
			return nil, fmt.Errorf("%w: %s key %q does not match name %q",
				ErrMalformedSchema, kind, en.Key, v.entityName())
		}
		out = append(out, v)
	}
	return out, nil
}

// keyed is the inverse of unkey.
func keyed[T named](in []T) entries[T] {
	if len(in) == 0 {
		return nil
	}
	out := make(entries[T], len(in))
	for i, v := range in {
		out[i] = entry[T]{Key: v.entityName(), Value: v}
	}
	return out
}
