package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/internal/logging"
	"github.com/vastctl/vastctl/internal/output"
	"github.com/vastctl/vastctl/pkg/vast"
)

// runContext is what a handler sees of the invocation
type runContext struct {
	ctx    context.Context
	app    *app
	flags  *pflag.FlagSet
	out    io.Writer
	errOut io.Writer
	raw    bool
}

func (rc *runContext) client() *vast.Client {
	return rc.app.sdk()
}

// render prints rows as a table, or as JSON in raw mode
func (rc *runContext) render(rows []vast.Record, columns []output.Column) error {
	if rc.raw {
		return output.JSON(rc.out, rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(rc.out, "No results.")
		return err
	}
	return output.Table(rc.out, columns, rows)
}

// detail prints one record as key/value lines using the columns' headers
// and converters, or as JSON in raw mode. With no columns every field is
// printed.
func (rc *runContext) detail(rec vast.Record, columns []output.Column) error {
	if rc.raw {
		return output.JSON(rc.out, rec)
	}
	if len(columns) == 0 {
		return output.KeyValue(rc.out, rec, nil)
	}
	view := make(vast.Record, len(columns))
	keys := make([]string, 0, len(columns))
	for _, col := range columns {
		name := col.Header
		if name == "" {
			name = col.Key
		}
		view[name] = col.Cell(rec)
		keys = append(keys, name)
	}
	return output.KeyValue(rc.out, view, keys)
}

// done reports a mutation: the server's reply in raw mode, msg otherwise
func (rc *runContext) done(rec vast.Record, format string, args ...any) error {
	if rc.raw {
		if rec == nil {
			rec = vast.Record{"success": true}
		}
		return output.JSON(rc.out, rec)
	}
	msg := fmt.Sprintf(format, args...)
	if m := rec.String("msg"); m != "" && !strings.EqualFold(m, msg) {
		msg += ": " + m
	}
	_, err := fmt.Fprintln(rc.out, msg)
	return err
}

// text prints a plain value, wrapped as {key: value} in raw mode
func (rc *runContext) text(key, value string) error {
	if rc.raw {
		return output.JSON(rc.out, vast.Record{key: value})
	}
	_, err := fmt.Fprintln(rc.out, strings.TrimRight(value, "\n"))
	return err
}

func (rc *runContext) str(name string) string {
	v, _ := rc.flags.GetString(name)
	return v
}

func (rc *runContext) integer(name string) int {
	v, _ := rc.flags.GetInt(name)
	return v
}

func (rc *runContext) float(name string) float64 {
	v, _ := rc.flags.GetFloat64(name)
	return v
}

func (rc *runContext) boolean(name string) bool {
	v, _ := rc.flags.GetBool(name)
	return v
}

func (rc *runContext) list(name string) []string {
	v, _ := rc.flags.GetStringArray(name)
	return v
}

func (rc *runContext) changed(name string) bool {
	return rc.flags.Changed(name)
}

// parseID parses a positive integer argument
func parseID(s, what string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "C.")
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, &vast.ValidationError{Field: what, Message: fmt.Sprintf("%q is not a positive integer", s)}
	}
	return id, nil
}

func parseIDs(args []string, what string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		// accept "1,2,3" as well as "1 2 3"
		for _, part := range strings.Split(a, ",") {
			if part == "" {
				continue
			}
			id, err := parseID(part, what)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, &vast.ValidationError{Field: what, Message: "at least one is required"}
	}
	return ids, nil
}

func parseAmount(s, what string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
	if err != nil {
		return 0, &vast.ValidationError{Field: what, Message: fmt.Sprintf("%q is not a number", s)}
	}
	return f, nil
}

// parseEnv turns KEY=VALUE pairs into a map
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, &vast.ValidationError{Field: "env", Message: fmt.Sprintf("%q is not KEY=VALUE", p)}
		}
		env[k] = v
	}
	return env, nil
}

// readArg returns the contents of the file at s when it exists, else s
func readArg(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	info, err := os.Stat(s)
	if err != nil || info.IsDir() {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// forEach applies fn to every id and reports each outcome. Failures do
// not stop the loop; they are returned together.
func (rc *runContext) forEach(ids []int, verb string, fn func(int) (vast.Record, error)) error {
	results := make([]vast.Record, 0, len(ids))
	var failed []string
	for _, id := range ids {
		rec, err := fn(id)
		row := vast.Record{"id": id, "success": err == nil}
		if err != nil {
			row["error"] = err.Error()
			failed = append(failed, fmt.Sprintf("%d: %v", id, err))
		} else if rec != nil {
			if m := rec.String("msg"); m != "" {
				row["msg"] = m
			}
		}
		results = append(results, row)
		if !rc.raw {
			if err != nil {
				fmt.Fprintf(rc.errOut, "failed to %s %d: %v\n", verb, id, err)
			} else {
				fmt.Fprintf(rc.out, "%s %d: ok\n", verb, id)
			}
		}
	}
	if rc.raw {
		if err := output.JSON(rc.out, results); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d failed to %s: %s", len(failed), len(ids), verb, strings.Join(failed, "; "))
	}
	return nil
}

// logAudit records an operation that spends money or destroys data
func logAudit(rc *runContext, op string, attrs ...any) {
	logging.Audit(rc.ctx, op, attrs...)
}
