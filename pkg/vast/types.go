package vast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Record is a JSON object returned by the API. The server owns the schema,
// so most responses are carried through untyped.
type Record map[string]any

// String returns the field formatted as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric field, accepting numbers encoded as strings.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Int returns a numeric field truncated to int.
func (r Record) Int(key string) int {
	return int(r.Float(key))
}

// Bool returns a boolean field.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Decode converts the record into a typed view.
func (r Record) Decode(out any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Instance is a typed view of the instance fields the CLI reads directly.
type Instance struct {
	ID             int     `json:"id"`
	MachineID      int     `json:"machine_id"`
	HostID         int     `json:"host_id"`
	Label          string  `json:"label"`
	ActualStatus   string  `json:"actual_status"`
	IntendedStatus string  `json:"intended_status"`
	CurState       string  `json:"cur_state"`
	StatusMsg      string  `json:"status_msg"`
	SSHHost        string  `json:"ssh_host"`
	SSHPort        int     `json:"ssh_port"`
	PublicIP       string  `json:"public_ipaddr"`
	GPUName        string  `json:"gpu_name"`
	NumGPUs        int     `json:"num_gpus"`
	DphTotal       float64 `json:"dph_total"`
	StartDate      float64 `json:"start_date"`
	ImageUUID      string  `json:"image_uuid"`
	ImageRuntype   string  `json:"image_runtype"`

	Ports map[string][]PortBinding `json:"ports"`
}

// PortBinding maps a container port to a host port.
type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// Running reports whether the instance is up.
func (i Instance) Running() bool {
	return i.ActualStatus == "running"
}

// StartedAt converts the epoch start date.
func (i Instance) StartedAt() time.Time {
	if i.StartDate == 0 {
		return time.Time{}
	}
	return time.Unix(int64(i.StartDate), 0)
}

// Offer is a typed view of a search result.
type Offer struct {
	ID          int     `json:"id"`
	AskID       int     `json:"ask_contract_id"`
	MachineID   int     `json:"machine_id"`
	HostID      int     `json:"host_id"`
	GPUName     string  `json:"gpu_name"`
	NumGPUs     int     `json:"num_gpus"`
	GPURam      float64 `json:"gpu_ram"`
	DphTotal    float64 `json:"dph_total"`
	MinBid      float64 `json:"min_bid"`
	Reliability float64 `json:"reliability2"`
	Geolocation string  `json:"geolocation"`
	Rentable    bool    `json:"rentable"`
	Rented      bool    `json:"rented"`
	Verified    bool    `json:"verified"`
}

// SuccessResponse is the common envelope for mutating endpoints.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s SuccessResponse) err(op string) error {
	if s.Success {
		return nil
	}
	msg := s.Msg
	if msg == "" {
		msg = s.Error
	}
	if msg == "" {
		msg = "server reported failure"
	}
	return fmt.Errorf("%s: %s", op, msg)
}

// records decodes a list stored under key in an envelope object, or a bare
// list when key is empty.
func records(data json.RawMessage, key string) ([]Record, error) {
	if key == "" || isJSONArray(data) {
		var out []Record
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return out, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, ok := env[key]
	if !ok || string(raw) == "null" {
		return []Record{}, nil
	}
	var out []Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrDecode, key, err)
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values, key string) ([]Record, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, query, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []Record{}, nil
	}
	return records(raw, key)
}

func (c *Client) record(ctx context.Context, path string, query url.Values) (Record, error) {
	var rec Record
	if err := c.get(ctx, path, query, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// mutate sends a write request and returns the response object. A
// success=false envelope becomes an error.
func (c *Client) mutate(ctx context.Context, method, path string, body any, op string) (Record, error) {
	var raw json.RawMessage
	if err := c.send(ctx, request{method: method, path: path, body: body}, &raw); err != nil {
		return nil, err
	}
	rec, err := asRecord(raw)
	if err != nil {
		return nil, err
	}
	if v, ok := rec["success"].(bool); ok && !v {
		var s SuccessResponse
		_ = rec.Decode(&s)
		return rec, s.err(op)
	}
	return rec, nil
}

// asRecord wraps non-object responses under "result" so callers always get
// an object back.
func asRecord(raw json.RawMessage) (Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Record{"success": true}, nil
	}
	if trimmed[0] == '{' {
		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return rec, nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Record{"result": v}, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func idPath(format string, id int) string {
	return fmt.Sprintf(format, id)
}
