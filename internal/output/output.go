// Package output renders API records as aligned tables, key/value detail
// views or indented JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Missing is printed for absent or null values.
const Missing = "-"

const columnGap = "  "

// Column describes one table column.
type Column struct {
	Key    string                       // record field
	Header string                       // defaults to Key
	Format string                       // fmt verb applied after Conv, e.g. "%.2f"
	Conv   func(v any) any              // optional transform, e.g. MB to GB
	Left   bool                         // left-align instead of right-align
	Max    int                          // truncate cells wider than this, 0 for no limit
	Value  func(row map[string]any) any // computes the cell instead of reading Key
}

func (c Column) header() string {
	if c.Header != "" {
		return c.Header
	}
	return c.Key
}

// Cell formats the column's value for row.
func (c Column) Cell(row map[string]any) string {
	var v any
	var ok bool
	if c.Value != nil {
		v = c.Value(row)
		ok = v != nil
	} else {
		v, ok = row[c.Key]
	}
	if !ok || v == nil {
		return Missing
	}
	if c.Conv != nil {
		v = c.Conv(v)
		if v == nil {
			return Missing
		}
	}
	s := formatValue(v, c.Format)
	if c.Max > 0 && runewidth.StringWidth(s) > c.Max {
		s = runewidth.Truncate(s, c.Max, "…")
	}
	return s
}

// Table writes a header line and one line per row, each cell padded to
// its column's widest display width.
func Table[R ~map[string]any](w io.Writer, columns []Column, rows []R) error {
	cells := make([][]string, len(rows)+1)
	widths := make([]int, len(columns))

	cells[0] = make([]string, len(columns))
	for i, col := range columns {
		cells[0][i] = col.header()
		widths[i] = runewidth.StringWidth(cells[0][i])
	}
	for r, row := range rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			line[i] = col.Cell(row)
			if cw := runewidth.StringWidth(line[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
		cells[r+1] = line
	}

	var b strings.Builder
	for _, line := range cells {
		b.Reset()
		for i, cell := range line {
			if i > 0 {
				b.WriteString(columnGap)
			}
			last := i == len(line)-1
			switch {
			case columns[i].Left && last:
				b.WriteString(cell)
			case columns[i].Left:
				b.WriteString(runewidth.FillRight(cell, widths[i]))
			default:
				b.WriteString(runewidth.FillLeft(cell, widths[i]))
			}
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// JSON pretty prints v with two-space indentation.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// KeyValue prints a single record as aligned "key: value" lines. With no
// keys every field is printed in sorted order.
func KeyValue[R ~map[string]any](w io.Writer, rec R, keys []string) error {
	if len(keys) == 0 {
		keys = make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	width := 0
	for _, k := range keys {
		if kw := runewidth.StringWidth(k); kw > width {
			width = kw
		}
	}
	for _, k := range keys {
		v, ok := rec[k]
		s := Missing
		if ok && v != nil {
			s = formatValue(v, "")
		}
		if _, err := fmt.Fprintf(w, "%s  %s\n", runewidth.FillRight(k+":", width+1), s); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any, format string) string {
	if format != "" {
		// numeric formats only apply to numbers; strings pass through
		if n, ok := toFloat(v); ok {
			if strings.HasSuffix(format, "d") {
				return fmt.Sprintf(format, int64(n))
			}
			return fmt.Sprintf(format, n)
		}
		if strings.HasSuffix(format, "s") || strings.HasSuffix(format, "v") {
			return fmt.Sprintf(format, v)
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []any, map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// Scale returns a converter that multiplies numeric values by f.
func Scale(f float64) func(any) any {
	return func(v any) any {
		n, ok := toFloat(v)
		if !ok {
			return v
		}
		return n * f
	}
}

// MBToGB converts megabytes to gigabytes.
func MBToGB(v any) any {
	n, ok := toFloat(v)
	if !ok {
		return v
	}
	return n / 1000
}

// Percent turns a 0..1 ratio into a percentage.
var Percent = Scale(100)

// Epoch converts unix seconds to a local "2006-01-02 15:04" timestamp.
// Zero stays missing.
func Epoch(v any) any {
	n, ok := toFloat(v)
	if !ok || n == 0 {
		return nil
	}
	return time.Unix(int64(n), 0).Local().Format("2006-01-02 15:04")
}

// Date converts unix seconds to a local date.
func Date(v any) any {
	n, ok := toFloat(v)
	if !ok || n == 0 {
		return nil
	}
	return time.Unix(int64(n), 0).Local().Format("2006-01-02")
}

// Age converts a unix start time to hours elapsed since then.
func Age(now time.Time) func(any) any {
	return func(v any) any {
		n, ok := toFloat(v)
		if !ok || n == 0 {
			return nil
		}
		return now.Sub(time.Unix(int64(n), 0)).Hours()
	}
}
