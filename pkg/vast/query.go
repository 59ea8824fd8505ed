package vast

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Query is the JSON filter document sent to search endpoints:
// field -> operator -> value.
type Query map[string]map[string]any

var clausePattern = regexp.MustCompile(`([a-zA-Z0-9_]+)( *[=><!]+| +(?:[lg]te?|nin|neq|eq|not ?eq|not ?in|in) )?( *)(\[[^\]]+\]|"[^"]+"|[^ ]+)?( *)`)

var operatorNames = map[string]string{
	">=":     "gte",
	">":      "gt",
	"gt":     "gt",
	"gte":    "gte",
	"<=":     "lte",
	"<":      "lt",
	"lt":     "lt",
	"lte":    "lte",
	"!=":     "neq",
	"==":     "eq",
	"=":      "eq",
	"eq":     "eq",
	"neq":    "neq",
	"noteq":  "neq",
	"not eq": "neq",
	"notin":  "notin",
	"not in": "notin",
	"nin":    "notin",
	"in":     "in",
}

var fieldAliases = map[string]string{
	"cuda_vers":      "cuda_max_good",
	"display_active": "gpu_display_active",
	"reliability":    "reliability2",
	"dlperf_usd":     "dlperf_per_dphtotal",
	"dph":            "dph_total",
	"flops_usd":      "flops_per_dphtotal",
}

// Fields given in user-friendly units and scaled before sending.
var fieldMultipliers = map[string]float64{
	"cpu_ram":  1000,
	"gpu_ram":  1000,
	"duration": 24 * 60 * 60,
}

// OfferFields lists the fields the offer search endpoint understands.
var OfferFields = fieldSet(
	"bw_nvlink", "compute_cap", "cpu_arch", "cpu_cores", "cpu_cores_effective",
	"cpu_ghz", "cpu_ram", "cuda_max_good", "datacenter", "direct_port_count",
	"disk_bw", "disk_space", "dlperf", "dlperf_per_dphtotal", "dph_total",
	"driver_version", "duration", "external", "flops_per_dphtotal",
	"geolocation", "gpu_arch", "gpu_display_active", "gpu_frac", "gpu_mem_bw",
	"gpu_name", "gpu_ram", "gpu_total_ram", "has_avx", "host_id", "id",
	"inet_down", "inet_down_cost", "inet_up", "inet_up_cost", "machine_id",
	"min_bid", "mobo_name", "num_gpus", "pci_gen", "pcie_bw", "reliability2",
	"rentable", "rented", "static_ip", "storage_cost", "total_flops",
	"ubuntu_version", "verification", "verified", "vms_enabled",
)

// DefaultOfferQuery is applied to offer searches unless disabled.
func DefaultOfferQuery() Query {
	return Query{
		"verified": {"eq": true},
		"external": {"eq": false},
		"rentable": {"eq": true},
		"rented":   {"eq": false},
	}
}

func fieldSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// ParseQuery parses clauses like `gpu_name=RTX_4090 num_gpus>=2` into q.
// A nil q starts an empty query. known, when non-nil, is used to warn about
// unrecognized fields; they are still sent.
func ParseQuery(input string, q Query, known map[string]bool) (Query, error) {
	if q == nil {
		q = Query{}
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return q, nil
	}

	for _, m := range clausePattern.FindAllStringSubmatch(input, -1) {
		field, op, value := m[1], strings.TrimSpace(m[2]), strings.Trim(m[4], ",[]")

		if alias, ok := fieldAliases[field]; ok {
			field = alias
		}
		if field == "" {
			return nil, &ValidationError{Field: "query", Message: fmt.Sprintf("field cannot be blank in %q", m[0])}
		}
		if known != nil && !known[field] {
			slog.Warn("unrecognized search field, sending anyway", "field", field)
		}

		opName, ok := operatorNames[op]
		if !ok {
			return nil, &ValidationError{Field: "query", Message: fmt.Sprintf("unknown operator %q for %s (did you forget to quote your query?)", op, field)}
		}
		if value == "" {
			return nil, &ValidationError{Field: "query", Message: fmt.Sprintf("value cannot be blank for %s (did you forget to quote your query?)", field)}
		}

		if value == "?" || value == "*" || value == "any" {
			if opName != "eq" {
				return nil, &ValidationError{Field: "query", Message: "wildcard only makes sense with equals"}
			}
			delete(q, field)
			continue
		}

		v, err := convertValue(field, opName, value)
		if err != nil {
			return nil, err
		}
		if q[field] == nil {
			q[field] = map[string]any{}
		}
		q[field][opName] = v
	}

	return q, nil
}

func convertValue(field, op, value string) (any, error) {
	if op == "in" || op == "notin" {
		var items []any
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			items = append(items, scalar(field, strings.ReplaceAll(part, "_", " ")))
		}
		if len(items) == 0 {
			return nil, &ValidationError{Field: "query", Message: fmt.Sprintf("empty list for %s", field)}
		}
		return items, nil
	}

	if mult, ok := fieldMultipliers[field]; ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &ValidationError{Field: field, Message: fmt.Sprintf("expected a number, got %q", value)}
		}
		return f * mult, nil
	}

	value = strings.Trim(strings.ReplaceAll(value, "_", " "), `"`)
	return scalar(field, value), nil
}

func scalar(field, value string) any {
	switch value {
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "None", "null":
		return nil
	}
	// gpu_name and similar are matched as text even when they look numeric
	if field == "gpu_name" || field == "cpu_name" || field == "geolocation" || field == "driver_version" {
		return value
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ParseOrder turns `score-,num_gpus` into [[field, direction]] pairs. A
// trailing '-' sorts descending.
func ParseOrder(spec string) [][]string {
	var order [][]string
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		dir := "asc"
		if strings.HasSuffix(name, "-") {
			dir = "desc"
			name = strings.TrimSuffix(name, "-")
		} else {
			name = strings.TrimSuffix(name, "+")
		}
		if alias, ok := fieldAliases[name]; ok {
			name = alias
		}
		order = append(order, []string{name, dir})
	}
	return order
}
