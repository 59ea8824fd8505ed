// Package openapi merges OpenAPI YAML fragments into a single document.
package openapi

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a decoded YAML mapping
type Document map[string]any

var (
	// ErrDuplicateOperation is returned when two fragments define the same
	// path and method.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrConflict is returned when two fragments set different values at
	// the same key.
	ErrConflict = errors.New("conflicting value")

	// ErrNoFragments is returned when there is nothing to combine
	ErrNoFragments = errors.New("no fragments")
)

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// header keys owned by the first fragment
var firstWins = map[string]bool{"openapi": true, "info": true}

// Parse decodes one YAML fragment. An empty fragment yields an empty
// document.
func Parse(data []byte) (Document, error) {
	// yaml.v3 reuses the target's map type for nested mappings, so decode
	// into a plain map and name only the top level.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}
	if raw == nil {
		return Document{}, nil
	}
	return Document(raw), nil
}

// LoadFile reads and parses a fragment from disk
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Combine deep-merges fragments in order. openapi and info come from the
// first fragment that has them. Lists are concatenated.
func Combine(fragments ...Document) (Document, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}

	out := Document{}
	for i, frag := range fragments {
		for key, value := range frag {
			if firstWins[key] {
				if _, ok := out[key]; !ok {
					out[key] = value
				}
				continue
			}
			if key == "paths" {
				if err := mergePaths(out, value); err != nil {
					return nil, fmt.Errorf("fragment %d: %w", i+1, err)
				}
				continue
			}
			merged, err := merge(out[key], value, key)
			if err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i+1, err)
			}
			out[key] = merged
		}
	}
	return out, nil
}

func mergePaths(out Document, value any) error {
	incoming, ok := asMap(value)
	if !ok {
		return fmt.Errorf("%w at paths: expected a mapping", ErrConflict)
	}
	paths, _ := asMap(out["paths"])
	if paths == nil {
		paths = map[string]any{}
		out["paths"] = paths
	}

	for path, item := range incoming {
		ops, ok := asMap(item)
		if !ok {
			return fmt.Errorf("%w at paths.%s: expected a mapping", ErrConflict, path)
		}
		existing, _ := asMap(paths[path])
		if existing == nil {
			existing = map[string]any{}
			paths[path] = existing
		}
		for key, op := range ops {
			if _, dup := existing[key]; dup && httpMethods[strings.ToLower(key)] {
				return fmt.Errorf("%w: %s %s", ErrDuplicateOperation, strings.ToUpper(key), path)
			}
			merged, err := merge(existing[key], op, "paths."+path+"."+key)
			if err != nil {
				return err
			}
			existing[key] = merged
		}
	}
	return nil
}

func merge(dst, src any, at string) (any, error) {
	if dst == nil {
		return src, nil
	}
	if s, ok := asMap(src); ok {
		d, ok := asMap(dst)
		if !ok {
			return nil, fmt.Errorf("%w at %s: mapping vs %T", ErrConflict, at, dst)
		}
		for k, v := range s {
			merged, err := merge(d[k], v, at+"."+k)
			if err != nil {
				return nil, err
			}
			d[k] = merged
		}
		return d, nil
	}
	switch s := src.(type) {
	case []any:
		d, ok := dst.([]any)
		if !ok {
			return nil, fmt.Errorf("%w at %s: list vs %T", ErrConflict, at, dst)
		}
		for _, v := range s {
			if !containsValue(d, v) {
				d = append(d, v)
			}
		}
		return d, nil
	default:
		if !reflect.DeepEqual(dst, src) {
			return nil, fmt.Errorf("%w at %s: %v vs %v", ErrConflict, at, dst, src)
		}
		return dst, nil
	}
}

// asMap accepts both Document and plain mappings
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// CombineFiles loads each path and returns the merged document as YAML
func CombineFiles(paths []string) ([]byte, error) {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	combined, err := Combine(docs...)
	if err != nil {
		return nil, err
	}
	return Marshal(combined)
}

// Marshal encodes a document as YAML with two-space indentation
func Marshal(doc Document) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
