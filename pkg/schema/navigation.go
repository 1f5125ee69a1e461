package schema

import (
	"encoding/json"
	"fmt"
)

// NavigationKind is the closed set of relationship kinds: OneToOne,
// OneToMany and ManyToMany. Consumers switch on the concrete type.
type NavigationKind interface {
	navigationKind() string
}

// OneToOne navigates through an attribute on the declaring model that holds
// a foreign key to the target model.
type OneToOne struct {
	Reference string `json:"reference"`
}

// OneToMany navigates through an attribute on the target model that holds a
// foreign key back to the declaring model.
type OneToMany struct {
	Reference string `json:"reference"`
}

// ManyToMany navigates through a junction table shared by exactly two
// navigation properties carrying the same UniqueID.
type ManyToMany struct {
	UniqueID string `json:"unique_id"`
}

func (OneToOne) navigationKind() string   { return "OneToOne" }
func (OneToMany) navigationKind() string  { return "OneToMany" }
func (ManyToMany) navigationKind() string { return "ManyToMany" }

// KindName returns the wire tag of a navigation kind.
func KindName(k NavigationKind) string {
	if k == nil {
		return ""
	}
	return k.navigationKind()
}

// IsMany reports whether the kind materializes as an array.
func IsMany(k NavigationKind) bool {
	switch k.(type) {
	case OneToMany, ManyToMany:
		return true
	}
	return false
}

// NavigationProperty is a declared relationship from one model to another.
type NavigationProperty struct {
	Name      string
	ModelName string // target model
	Kind      NavigationKind
	Hash      uint64
}

type navigationWire struct {
	Name      string                     `json:"var_name"`
	ModelName string                     `json:"model_name"`
	Kind      map[string]json.RawMessage `json:"kind"`
	Hash      uint64                     `json:"hash,omitempty"`
}

// MarshalJSON encodes the kind as an externally tagged object.
func (n NavigationProperty) MarshalJSON() ([]byte, error) {
	if n.Kind == nil {
		return nil, fmt.Errorf("%w: navigation property %q has no kind", ErrMalformedSchema, n.Name)
	}
	body, err := json.Marshal(n.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(navigationWire{
		Name:      n.Name,
		ModelName: n.ModelName,
		Kind:      map[string]json.RawMessage{n.Kind.navigationKind(): body},
		Hash:      n.Hash,
	})
}

// UnmarshalJSON decodes {"var_name":..,"model_name":..,"kind":{"OneToMany":{"reference":..}}}.
func (n *NavigationProperty) UnmarshalJSON(data []byte) error {
	var w navigationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: navigation property: %v", ErrMalformedSchema, err)
	}
	if len(w.Kind) != 1 {
		return fmt.Errorf("%w: navigation property %q must have exactly one kind", ErrMalformedSchema, w.Name)
	}

	var kind NavigationKind
	for tag, raw := range w.Kind {
		var err error
		switch tag {
		case "OneToOne":
			var k OneToOne
			err = json.Unmarshal(raw, &k)
			kind = k
		case "OneToMany":
			var k OneToMany
			err = json.Unmarshal(raw, &k)
			kind = k
		case "ManyToMany":
			var k ManyToMany
			err = json.Unmarshal(raw, &k)
			kind = k
		default:
			return fmt.Errorf("%w: navigation property %q has unknown kind %q", ErrMalformedSchema, w.Name, tag)
		}
		if err != nil {
			return fmt.Errorf("%w: navigation property %q: %v", ErrMalformedSchema, w.Name, err)
		}
	}

	*n = NavigationProperty{Name: w.Name, ModelName: w.ModelName, Kind: kind, Hash: w.Hash}
	return nil
}
