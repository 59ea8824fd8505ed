package mockvast

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// search keys that are options rather than field filters
var searchOptionKeys = map[string]bool{
	"type":              true,
	"order":             true,
	"limit":             true,
	"allocated_storage": true,
}

// searchDoc is the decoded q parameter of a bundle search
type searchDoc struct {
	filters map[string]map[string]any
	order   [][]string
	limit   int
}

func parseSearch(raw string) (searchDoc, error) {
	doc := searchDoc{filters: map[string]map[string]any{}}
	if raw == "" {
		return doc, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return doc, fmt.Errorf("invalid q: %w", err)
	}
	for name, value := range fields {
		switch name {
		case "order":
			if err := json.Unmarshal(value, &doc.order); err != nil {
				return doc, fmt.Errorf("invalid order: %w", err)
			}
		case "limit":
			if err := json.Unmarshal(value, &doc.limit); err != nil {
				return doc, fmt.Errorf("invalid limit: %w", err)
			}
		default:
			if searchOptionKeys[name] {
				continue
			}
			var ops map[string]any
			if err := json.Unmarshal(value, &ops); err != nil {
				return doc, fmt.Errorf("invalid filter for %s: %w", name, err)
			}
			doc.filters[name] = ops
		}
	}
	return doc, nil
}

// apply filters, sorts and truncates rows
func (d searchDoc) apply(rows []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		ok, err := d.matches(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}

	for i := len(d.order) - 1; i >= 0; i-- {
		clause := d.order[i]
		if len(clause) == 0 {
			continue
		}
		field := clause[0]
		desc := len(clause) > 1 && clause[1] == "desc"
		sort.SliceStable(out, func(a, b int) bool {
			if desc {
				return less(out[b][field], out[a][field])
			}
			return less(out[a][field], out[b][field])
		})
	}

	if d.limit > 0 && len(out) > d.limit {
		out = out[:d.limit]
	}
	return out, nil
}

func (d searchDoc) matches(row map[string]any) (bool, error) {
	for field, ops := range d.filters {
		got, present := row[field]
		for op, want := range ops {
			if !present {
				// unknown fields never match, like the real search
				return false, nil
			}
			ok, err := compare(op, got, want)
			if err != nil {
				return false, fmt.Errorf("%s: %w", field, err)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func compare(op string, got, want any) (bool, error) {
	switch op {
	case "eq":
		return equal(got, want), nil
	case "neq":
		return !equal(got, want), nil
	case "gt", "gte", "lt", "lte":
		g, okG := number(got)
		w, okW := number(want)
		if !okG || !okW {
			return false, fmt.Errorf("operator %s needs numbers", op)
		}
		switch op {
		case "gt":
			return g > w, nil
		case "gte":
			return g >= w, nil
		case "lt":
			return g < w, nil
		default:
			return g <= w, nil
		}
	case "in", "notin":
		list, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("operator %s needs a list", op)
		}
		found := false
		for _, v := range list {
			if equal(got, v) {
				found = true
				break
			}
		}
		return found == (op == "in"), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func less(a, b any) bool {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x < y
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// toRow flattens a struct into its JSON object form
func toRow(v any) map[string]any {
	data, _ := json.Marshal(v)
	var row map[string]any
	_ = json.Unmarshal(data, &row)
	return row
}
