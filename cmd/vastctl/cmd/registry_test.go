package cmd

import (
	"bytes"
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LeavesAreComplete(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range registry {
		path := c.path()
		assert.False(t, seen[path], "%q registered twice", path)
		seen[path] = true

		assert.NotNil(t, c.run, "%q has no handler", path)
		assert.NotEmpty(t, c.short, "%q has no short help", path)
		if c.noun != "" {
			assert.NotEmpty(t, verbShort[c.verb], "verb group %q has no description", c.verb)
		}
	}
}

func TestBuildTree_FreshPerRoot(t *testing.T) {
	a := NewRootCmd()
	b := NewRootCmd()

	findA, _, err := a.Find([]string{"show", "instances"})
	require.NoError(t, err)
	findB, _, err := b.Find([]string{"show", "instances"})
	require.NoError(t, err)
	assert.NotSame(t, findA, findB)

	require.NoError(t, findA.Flags().Set("quiet", "true"))
	quiet, _ := findB.Flags().GetBool("quiet")
	assert.False(t, quiet, "flag state leaked between trees")
}

func TestBuildTree_BareVerbWithNouns(t *testing.T) {
	root := NewRootCmd()

	self, _, err := root.Find([]string{"update"})
	require.NoError(t, err)
	assert.Equal(t, "update", self.Name())
	assert.True(t, self.Runnable())

	inst, _, err := root.Find([]string{"update", "instance"})
	require.NoError(t, err)
	assert.Equal(t, "instance", inst.Name())
	assert.Equal(t, self, inst.Parent())
}

func TestHelp_EveryCommand(t *testing.T) {
	isolate(t)
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		if c.Hidden {
			return
		}
		if c.Runnable() {
			assert.NotEmpty(t, c.Short, "%q has no short help", c.CommandPath())
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(NewRootCmd())

	var out bytes.Buffer
	err := Execute(context.Background(), []string{"show", "--help"}, &out, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "instances")
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	err := Execute(context.Background(), []string{"frobnicate"}, &out, &out)
	assert.Error(t, err)
}

// sourceFiles parses the non-test Go files of this package
func sourceFiles(t *testing.T) (*token.FileSet, map[string]*ast.File) {
	t.Helper()
	names, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	files := map[string]*ast.File{}
	for _, name := range names {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		f, err := parser.ParseFile(fset, name, src, 0)
		require.NoError(t, err)
		files[name] = f
	}
	return fset, files
}

// Handlers return errors; only main decides the exit code.
func TestNoExitOutsideMain(t *testing.T) {
	fset, files := sourceFiles(t)
	for _, f := range files {
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
				if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "os" && sel.Sel.Name == "Exit" {
					t.Errorf("%s: os.Exit in command code", fset.Position(call.Pos()))
				}
			}
			return true
		})
	}
}

// Epoch values are printed through output converters so every table
// renders them the same way.
func TestNoTimeLayoutFormatting(t *testing.T) {
	fset, files := sourceFiles(t)
	for _, f := range files {
		ast.Inspect(f, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || len(call.Args) != 1 {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "Format" {
				return true
			}
			switch arg := call.Args[0].(type) {
			case *ast.SelectorExpr:
				if pkg, ok := arg.X.(*ast.Ident); ok && pkg.Name == "time" {
					t.Errorf("%s: time layout %s formatted directly", fset.Position(call.Pos()), arg.Sel.Name)
				}
			case *ast.BasicLit:
				if arg.Kind == token.STRING {
					if s, err := strconv.Unquote(arg.Value); err == nil && strings.Contains(s, "2006") {
						t.Errorf("%s: time layout %q formatted directly", fset.Position(call.Pos()), s)
					}
				}
			}
			return true
		})
	}
}

// Every write to stdout either goes through output.JSON or sits where
// raw mode cannot reach it: inside an `if !rc.raw` branch, or after an
// `if rc.raw { ... return }` in the same function.
func TestHandlersHonorRaw(t *testing.T) {
	fset, files := sourceFiles(t)
	writes := 0
	for _, f := range files {
		var stack []ast.Node
		ast.Inspect(f, func(n ast.Node) bool {
			if n == nil {
				stack = stack[:len(stack)-1]
				return true
			}
			stack = append(stack, n)

			call, ok := n.(*ast.CallExpr)
			if !ok || !writesStdout(call) || isJSONOutput(call) {
				return true
			}
			writes++
			if !rawGuarded(stack, call) {
				t.Errorf("%s: stdout written without a raw-mode guard", fset.Position(call.Pos()))
			}
			return true
		})
	}
	assert.Greater(t, writes, 5, "no stdout writes found; the lint is not looking at handler code")
}

func writesStdout(call *ast.CallExpr) bool {
	for _, arg := range call.Args {
		sel, ok := arg.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "out" {
			continue
		}
		if id, ok := sel.X.(*ast.Ident); ok && id.Name == "rc" {
			return true
		}
	}
	return false
}

func isJSONOutput(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "output" && sel.Sel.Name == "JSON"
}

// rawCheck reports whether e tests rc.raw, and whether that test is negated
func rawCheck(e ast.Expr) (found, negated bool) {
	ast.Inspect(e, func(n ast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *ast.UnaryExpr:
			if x.Op == token.NOT && isRawSelector(x.X) {
				found, negated = true, true
				return false
			}
		case *ast.SelectorExpr:
			if isRawSelector(x) {
				found = true
				return false
			}
		}
		return true
	})
	return found, negated
}

func isRawSelector(e ast.Expr) bool {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "raw" {
		return false
	}
	id, ok := sel.X.(*ast.Ident)
	return ok && id.Name == "rc"
}

func rawGuarded(stack []ast.Node, call *ast.CallExpr) bool {
	for i := len(stack) - 2; i >= 0; i-- {
		switch node := stack[i].(type) {
		case *ast.IfStmt:
			if found, negated := rawCheck(node.Cond); found && negated && contains(node.Body, call) {
				return true
			}
		case *ast.FuncLit:
			return returnsEarlyOnRaw(node.Body, call.Pos())
		case *ast.FuncDecl:
			return returnsEarlyOnRaw(node.Body, call.Pos())
		}
	}
	return false
}

// returnsEarlyOnRaw reports whether body has a top-level `if rc.raw`
// ending in a return before pos.
func returnsEarlyOnRaw(body *ast.BlockStmt, pos token.Pos) bool {
	for _, stmt := range body.List {
		if stmt.Pos() >= pos {
			return false
		}
		ifs, ok := stmt.(*ast.IfStmt)
		if !ok || len(ifs.Body.List) == 0 {
			continue
		}
		if found, negated := rawCheck(ifs.Cond); !found || negated {
			continue
		}
		if _, ok := ifs.Body.List[len(ifs.Body.List)-1].(*ast.ReturnStmt); ok {
			return true
		}
	}
	return false
}

func contains(outer ast.Node, inner ast.Node) bool {
	return outer.Pos() <= inner.Pos() && inner.End() <= outer.End()
}
