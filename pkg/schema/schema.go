// Package schema provides the schema graph shared by every cidl subsystem.
//
// A schema is declared once by application authors and compiled by an external
// front-end into a CIDL document (models, plain old objects, services and the
// environment bindings). This package holds the typed representation of that
// document and the content hashing used to detect change between revisions.
//
// # Package Responsibilities
//
//  1. Schema representation (Schema, Model, Attribute, NavigationProperty)
//  2. Migration projection (MigrationsAst) - the reduced snapshot persisted
//     after each migration and diffed on the next one
//  3. Content hashing (HashModel, HashModels, ...) - order independent
//     structural hashes
//
// # Key Types
//
// Model is a persisted entity with exactly one primary key, ordered attributes
// and navigation properties:
//
//	model Dog
//	  id: Integer (primary key)
//	  name: Text
//	  ownerId: Integer -> Person
//	  owner: OneToOne(ownerId) Person
//
// NavigationProperty carries a NavigationKind, a closed sum type over
// OneToOne, OneToMany and ManyToMany. Consumers switch exhaustively on it.
//
// DataSource names an IncludeTree, the recursive description of which
// navigation properties a query joins.
//
// # Relationship to Other Packages
//
// The schema package performs no validation beyond structure. pkg/parser
// produces a *Schema from a document, pkg/analyzer validates it, pkg/migrator
// diffs MigrationsAst snapshots and pkg/orm materializes query rows with it.
package schema

import (
	"encoding/json"
	"fmt"
)

// CrudKind is a generated CRUD operation enabled for a model.
type CrudKind string

const (
	CrudGet  CrudKind = "GET"
	CrudList CrudKind = "LIST"
	CrudSave CrudKind = "SAVE"
)

// Valid reports whether k is a known CRUD kind.
func (k CrudKind) Valid() bool {
	switch k {
	case CrudGet, CrudList, CrudSave:
		return true
	}
	return false
}

// HttpVerb is the verb a method is routed under.
type HttpVerb string

const (
	HttpGet    HttpVerb = "GET"
	HttpPost   HttpVerb = "POST"
	HttpPut    HttpVerb = "PUT"
	HttpPatch  HttpVerb = "PATCH"
	HttpDelete HttpVerb = "DELETE"
)

// Valid reports whether v is a known verb.
func (v HttpVerb) Valid() bool {
	switch v {
	case HttpGet, HttpPost, HttpPut, HttpPatch, HttpDelete:
		return true
	}
	return false
}

// Schema is the root of a compiled CIDL document.
// Models keep declaration order so generated output is deterministic.
type Schema struct {
	Version     string
	ProjectName string
	Language    string
	Models      []Model
	Poos        []PlainOldObject
	Services    []Service
	Env         *Env
	Hash        uint64
}

// Env describes the environment object and the bindings it exposes
// (databases, buckets, variables) for injection.
type Env struct {
	Name     string   `json:"name"`
	Bindings []string `json:"bindings,omitempty"`
}

// Model is a persisted entity.
type Model struct {
	Name                 string
	PrimaryKey           PrimaryKey
	Attributes           []Attribute
	NavigationProperties []NavigationProperty
	Methods              []Method
	DataSources          []DataSource
	Cruds                []CrudKind
	Hash                 uint64
}

// PrimaryKey is the single, non-nullable key column of a model.
type PrimaryKey struct {
	Name string   `json:"name"`
	Type CidlType `json:"cidl_type"`
}

// Attribute is a scalar column. ForeignKey, when set, names the model whose
// primary key this column references.
type Attribute struct {
	Name       string   `json:"name"`
	Type       CidlType `json:"cidl_type"`
	ForeignKey string   `json:"foreign_key_reference,omitempty"`
}

// NamedType is a parameter or plain-old-object field.
type NamedType struct {
	Name string   `json:"name"`
	Type CidlType `json:"cidl_type"`
}

// Method is a model or service method exposed by the route generator.
type Method struct {
	Name       string      `json:"name"`
	IsStatic   bool        `json:"is_static"`
	HttpVerb   HttpVerb    `json:"http_verb"`
	Parameters []NamedType `json:"parameters,omitempty"`
	ReturnType CidlType    `json:"return_type"`
}

// PlainOldObject is an attribute-only struct with no persistence.
type PlainOldObject struct {
	Name       string      `json:"name"`
	Attributes []NamedType `json:"attributes"`
}

// Service is a stateless set of methods whose attributes are injected.
type Service struct {
	Name       string
	Attributes []ServiceAttribute
	Methods    []Method
}

// ServiceAttribute is an injected dependency: another service or an
// environment binding.
type ServiceAttribute struct {
	Name     string `json:"var_name"`
	Injected string `json:"injected"`
}

func (m Model) entityName() string          { return m.Name }
func (p PlainOldObject) entityName() string { return p.Name }
func (s Service) entityName() string        { return s.Name }
func (m Method) entityName() string         { return m.Name }
func (d DataSource) entityName() string     { return d.Name }

// Model returns the model with the given name.
func (s *Schema) Model(name string) (*Model, bool) {
	for i := range s.Models {
		if s.Models[i].Name == name {
			return &s.Models[i], true
		}
	}
	return nil, false
}

// Poo returns the plain old object with the given name.
func (s *Schema) Poo(name string) (*PlainOldObject, bool) {
	for i := range s.Poos {
		if s.Poos[i].Name == name {
			return &s.Poos[i], true
		}
	}
	return nil, false
}

// Service returns the service with the given name.
func (s *Schema) Service(name string) (*Service, bool) {
	for i := range s.Services {
		if s.Services[i].Name == name {
			return &s.Services[i], true
		}
	}
	return nil, false
}

// Attribute returns the attribute with the given name.
func (m *Model) Attribute(name string) (*Attribute, bool) {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i], true
		}
	}
	return nil, false
}

// Navigation returns the navigation property with the given name.
func (m *Model) Navigation(name string) (*NavigationProperty, bool) {
	for i := range m.NavigationProperties {
		if m.NavigationProperties[i].Name == name {
			return &m.NavigationProperties[i], true
		}
	}
	return nil, false
}

// DataSource returns the data source with the given name.
func (m *Model) DataSource(name string) (*DataSource, bool) {
	for i := range m.DataSources {
		if m.DataSources[i].Name == name {
			return &m.DataSources[i], true
		}
	}
	return nil, false
}

type schemaWire struct {
	Version     string                  `json:"version"`
	ProjectName string                  `json:"project_name"`
	Language    string                  `json:"language,omitempty"`
	Models      entries[Model]          `json:"models"`
	Poos        entries[PlainOldObject] `json:"poos,omitempty"`
	Services    entries[Service]        `json:"services,omitempty"`
	Env         *Env                    `json:"env,omitempty"`
	Hash        uint64                  `json:"hash,omitempty"`
}

// MarshalJSON encodes models, objects and services as objects keyed by name,
// in declaration order.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(schemaWire{
		Version:     s.Version,
		ProjectName: s.ProjectName,
		Language:    s.Language,
		Models:      keyed(s.Models),
		Poos:        keyed(s.Poos),
		Services:    keyed(s.Services),
		Env:         s.Env,
		Hash:        s.Hash,
	})
}

// UnmarshalJSON decodes a CIDL document, preserving key order.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var w schemaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return wrapMalformed(err)
	}
	models, err := unkey("model", w.Models, func(m *Model, k string) { m.Name = k })
	if err != nil {
		return err
	}
	poos, err := unkey("object", w.Poos, func(p *PlainOldObject, k string) { p.Name = k })
	if err != nil {
		return err
	}
	services, err := unkey("service", w.Services, func(sv *Service, k string) { sv.Name = k })
	if err != nil {
		return err
	}
	*s = Schema{
		Version:     w.Version,
		ProjectName: w.ProjectName,
		Language:    w.Language,
		Models:      models,
		Poos:        poos,
		Services:    services,
		Env:         w.Env,
		Hash:        w.Hash,
	}
	return nil
}

type modelWire struct {
	Name                 string               `json:"name"`
	PrimaryKey           *PrimaryKey          `json:"primary_key"`
	Attributes           []Attribute          `json:"attributes"`
	NavigationProperties []NavigationProperty `json:"navigation_properties"`
	Methods              entries[Method]      `json:"methods,omitempty"`
	DataSources          entries[DataSource]  `json:"data_sources,omitempty"`
	Cruds                []CrudKind           `json:"cruds,omitempty"`
	Hash                 uint64               `json:"hash,omitempty"`
}

func (m Model) MarshalJSON() ([]byte, error) {
	pk := m.PrimaryKey
	return json.Marshal(modelWire{
		Name:                 m.Name,
		PrimaryKey:           &pk,
		Attributes:           nonNil(m.Attributes),
		NavigationProperties: nonNil(m.NavigationProperties),
		Methods:              keyed(m.Methods),
		DataSources:          keyed(m.DataSources),
		Cruds:                m.Cruds,
		Hash:                 m.Hash,
	})
}

func (m *Model) UnmarshalJSON(data []byte) error {
	var w modelWire
	if err := json.Unmarshal(data, &w); err != nil {
		return wrapMalformed(err)
	}
	if w.PrimaryKey == nil {
		return fmt.Errorf("%w: model %q has no primary key", ErrMalformedSchema, w.Name)
	}
	methods, err := unkey("method", w.Methods, func(x *Method, k string) { x.Name = k })
	if err != nil {
		return err
	}
	sources, err := unkey("data source", w.DataSources, func(x *DataSource, k string) { x.Name = k })
	if err != nil {
		return err
	}
	*m = Model{
		Name:                 w.Name,
		PrimaryKey:           *w.PrimaryKey,
		Attributes:           w.Attributes,
		NavigationProperties: w.NavigationProperties,
		Methods:              methods,
		DataSources:          sources,
		Cruds:                w.Cruds,
		Hash:                 w.Hash,
	}
	return nil
}

type serviceWire struct {
	Name       string             `json:"name"`
	Attributes []ServiceAttribute `json:"attributes"`
	Methods    entries[Method]    `json:"methods,omitempty"`
}

func (s Service) MarshalJSON() ([]byte, error) {
	return json.Marshal(serviceWire{
		Name:       s.Name,
		Attributes: nonNil(s.Attributes),
		Methods:    keyed(s.Methods),
	})
}

func (s *Service) UnmarshalJSON(data []byte) error {
	var w serviceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return wrapMalformed(err)
	}
	methods, err := unkey("method", w.Methods, func(x *Method, k string) { x.Name = k })
	if err != nil {
		return err
	}
	*s = Service{Name: w.Name, Attributes: w.Attributes, Methods: methods}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func wrapMalformed(err error) error {
	if IsMalformedSchemaErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedSchema, err)
}
