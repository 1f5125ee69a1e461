// Package parser loads CIDL documents for cidl.
//
// The front-end that extracts models and services from annotated source
// files writes a CIDL document (normally cidl.json). This package reads that
// document into a *schema.Schema, rejects structural errors, and fills in the
// content hashes.
//
// # Basic Usage
//
// Parse a schema file:
//
//	s, err := parser.ParseSchema("cidl.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse schema from a string:
//
//	s, err := parser.ParseSchemaString(content)
//
// # Formats
//
// JSON documents keep model declaration order. YAML documents are accepted
// for hand-written fixtures; they are converted to JSON with sigs.k8s.io/yaml,
// which orders object keys alphabetically, so model order follows names.
//
// Parsing never performs semantic validation. Run analyzer.Analyze on the
// result before migrating or generating code.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/pthm/cidl/pkg/schema"
)

// ParseSchema reads a CIDL document from path. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func ParseSchema(path string) (*schema.Schema, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(content)
	}
	return parseJSON(content)
}

// ParseSchemaString parses a CIDL document, sniffing JSON by a leading brace.
func ParseSchemaString(content string) (*schema.Schema, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return parseJSON(trimmed)
	}
	return parseYAML(trimmed)
}

func parseYAML(content []byte) (*schema.Schema, error) {
	doc, err := yaml.YAMLToJSON(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrMalformedSchema, err)
	}
	return parseJSON(doc)
}

func parseJSON(content []byte) (*schema.Schema, error) {
	var s schema.Schema
	if err := json.Unmarshal(content, &s); err != nil {
		if schema.IsMalformedSchemaErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", schema.ErrMalformedSchema, err)
	}

	if err := CheckStructure(&s); err != nil {
		return nil, err
	}

	s.Rehash()
	return &s, nil
}

// CheckStructure rejects documents that decode but cannot be a schema:
// empty or duplicate names, unknown CRUD kinds or HTTP verbs.
func CheckStructure(s *schema.Schema) error {
	if err := CheckModels(s.Models); err != nil {
		return err
	}

	for _, m := range s.Models {
		for _, c := range m.Cruds {
			if !c.Valid() {
				return malformed("model %s: unknown CRUD kind %q", m.Name, c)
			}
		}
		if err := checkMethods(m.Name, m.Methods); err != nil {
			return err
		}
	}

	objects := newNameSet("object")
	for _, p := range s.Poos {
		if err := objects.add(p.Name); err != nil {
			return err
		}
		fields := newNameSet("attribute of " + p.Name)
		for _, a := range p.Attributes {
			if err := fields.add(a.Name); err != nil {
				return err
			}
		}
	}

	services := newNameSet("service")
	for _, sv := range s.Services {
		if err := services.add(sv.Name); err != nil {
			return err
		}
		attrs := newNameSet("attribute of " + sv.Name)
		for _, a := range sv.Attributes {
			if err := attrs.add(a.Name); err != nil {
				return err
			}
			if a.Injected == "" {
				return malformed("service %s: attribute %s injects nothing", sv.Name, a.Name)
			}
		}
		if err := checkMethods(sv.Name, sv.Methods); err != nil {
			return err
		}
	}
	return nil
}

// CheckModels is the structural check shared by documents and migration
// snapshots: unique model names, and unique column and navigation names
// within each model.
func CheckModels(models []schema.Model) error {
	names := newNameSet("model")
	for _, m := range models {
		if err := names.add(m.Name); err != nil {
			return err
		}
		if m.PrimaryKey.Name == "" {
			return malformed("model %s: primary key has no name", m.Name)
		}

		fields := newNameSet("field of " + m.Name)
		if err := fields.add(m.PrimaryKey.Name); err != nil {
			return err
		}
		for _, a := range m.Attributes {
			if err := fields.add(a.Name); err != nil {
				return err
			}
		}
		for _, n := range m.NavigationProperties {
			if err := fields.add(n.Name); err != nil {
				return err
			}
			if n.Kind == nil {
				return malformed("model %s: navigation property %s has no kind", m.Name, n.Name)
			}
		}

		sources := newNameSet("data source of " + m.Name)
		for _, ds := range m.DataSources {
			if err := sources.add(ds.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkMethods(owner string, methods []schema.Method) error {
	names := newNameSet("method of " + owner)
	for _, m := range methods {
		if err := names.add(m.Name); err != nil {
			return err
		}
		if !m.HttpVerb.Valid() {
			return malformed("%s.%s: unknown HTTP verb %q", owner, m.Name, m.HttpVerb)
		}
		params := newNameSet("parameter of " + owner + "." + m.Name)
		for _, p := range m.Parameters {
			if err := params.add(p.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

type nameSet struct {
	kind string
	seen map[string]bool
}

func newNameSet(kind string) *nameSet {
	return &nameSet{kind: kind, seen: make(map[string]bool)}
}

func (n *nameSet) add(name string) error {
	if name == "" {
		return malformed("%s has an empty name", n.kind)
	}
	if n.seen[name] {
		return malformed("duplicate %s %q", n.kind, name)
	}
	n.seen[name] = true
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", schema.ErrMalformedSchema, fmt.Sprintf(format, args...))
}
