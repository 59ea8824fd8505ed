package openapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instancesFragment = `
openapi: 3.0.3
info:
  title: Marketplace API
  version: "0"
tags:
  - name: instances
paths:
  /instances/:
    get:
      summary: List instances
  /instances/{id}/:
    parameters:
      - name: id
        in: path
    get:
      summary: Show instance
components:
  schemas:
    Instance:
      type: object
`

const offersFragment = `
openapi: 3.1.0
info:
  title: Ignored
tags:
  - name: offers
  - name: instances
paths:
  /bundles/:
    get:
      summary: Search offers
  /instances/{id}/:
    delete:
      summary: Destroy instance
components:
  schemas:
    Offer:
      type: object
    Instance:
      type: object
`

func mustParse(t *testing.T, s string) Document {
	t.Helper()
	doc, err := Parse([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestCombine_MergesFragments(t *testing.T) {
	doc, err := Combine(mustParse(t, instancesFragment), mustParse(t, offersFragment))
	require.NoError(t, err)

	assert.Equal(t, "3.0.3", doc["openapi"])
	info := doc["info"].(map[string]any)
	assert.Equal(t, "Marketplace API", info["title"])

	paths := doc["paths"].(map[string]any)
	assert.Len(t, paths, 3)
	item := paths["/instances/{id}/"].(map[string]any)
	assert.Contains(t, item, "get")
	assert.Contains(t, item, "delete")
	assert.Contains(t, item, "parameters")

	schemas := doc["components"].(map[string]any)["schemas"].(map[string]any)
	assert.Len(t, schemas, 2)

	tags := doc["tags"].([]any)
	assert.Len(t, tags, 2, "identical list entries are kept once")
}

func TestParse_NestedMappingsArePlain(t *testing.T) {
	doc := mustParse(t, "openapi: 3.0.0\npaths:\n  /a:\n    get: {}")
	assert.IsType(t, map[string]any{}, doc["paths"])

	combined, err := Combine(doc, mustParse(t, "paths:\n  /b:\n    get: {}"))
	require.NoError(t, err)
	paths := combined["paths"].(map[string]any)
	assert.Contains(t, paths, "/a")
	assert.Contains(t, paths, "/b")
}

func TestCombine_AcceptsNestedDocuments(t *testing.T) {
	a := Document{"paths": Document{"/a": Document{"get": Document{}}}}
	b := Document{"paths": map[string]any{"/a": map[string]any{"post": map[string]any{}}}}

	combined, err := Combine(a, b)
	require.NoError(t, err)
	item, ok := asMap(combined["paths"].(map[string]any)["/a"])
	require.True(t, ok)
	assert.Contains(t, item, "get")
	assert.Contains(t, item, "post")
}

func TestCombine_DuplicateOperation(t *testing.T) {
	dup := `
paths:
  /instances/:
    get:
      summary: Again
`
	_, err := Combine(mustParse(t, instancesFragment), mustParse(t, dup))
	require.ErrorIs(t, err, ErrDuplicateOperation)
	assert.Contains(t, err.Error(), "GET /instances/")
	assert.Contains(t, err.Error(), "fragment 2")
}

func TestCombine_Conflict(t *testing.T) {
	other := `
components:
  schemas:
    Instance:
      type: array
`
	_, err := Combine(mustParse(t, instancesFragment), mustParse(t, other))
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "components.schemas.Instance.type")
}

func TestCombine_NoFragments(t *testing.T) {
	_, err := Combine()
	assert.ErrorIs(t, err, ErrNoFragments)
}

func TestParse(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, doc)

	_, err = Parse([]byte("paths: [unclosed"))
	assert.Error(t, err)
}

func TestCombineFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte(instancesFragment), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(offersFragment), 0o644))

	out, err := CombineFiles([]string{a, b})
	require.NoError(t, err)

	doc := mustParse(t, string(out))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/bundles/")

	_, err = CombineFiles([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}
