package vast

import (
	"context"
	"net/http"
)

// EndpointRequest configures a serverless endpoint's autoscaler.
type EndpointRequest struct {
	ClientID    string  `json:"client_id"`
	Name        string  `json:"endpoint_name,omitempty"`
	MinLoad     float64 `json:"min_load" validate:"gte=0"`
	TargetUtil  float64 `json:"target_util" validate:"gt=0,lte=1"`
	ColdMult    float64 `json:"cold_mult" validate:"gte=1"`
	ColdWorkers int     `json:"cold_workers" validate:"gte=0"`
	MaxWorkers  int     `json:"max_workers" validate:"gt=0"`
	State       string  `json:"endpoint_state,omitempty" validate:"omitempty,oneof=active suspended stopped"`
}

// DefaultEndpointRequest carries the server-side defaults.
func DefaultEndpointRequest() EndpointRequest {
	return EndpointRequest{
		ClientID:    "me",
		MinLoad:     0,
		TargetUtil:  0.9,
		ColdMult:    2.5,
		ColdWorkers: 5,
		MaxWorkers:  20,
	}
}

// Endpoints lists serverless endpoints.
func (c *Client) Endpoints(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/endptjobs/", nil, "results")
}

// CreateEndpoint creates an endpoint group.
func (c *Client) CreateEndpoint(ctx context.Context, req EndpointRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.ClientID = "me"
	return c.mutate(ctx, http.MethodPost, "/endptjobs/", req, "create endpoint")
}

// UpdateEndpoint replaces an endpoint's autoscaler settings.
func (c *Client) UpdateEndpoint(ctx context.Context, id int, req EndpointRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.ClientID = "me"
	return c.mutate(ctx, http.MethodPut, idPath("/endptjobs/%d/", id), req, "update endpoint")
}

// DeleteEndpoint deletes an endpoint and its worker groups.
func (c *Client) DeleteEndpoint(ctx context.Context, id int) (Record, error) {
	body := map[string]any{"client_id": "me", "endptjob_id": id}
	return c.mutate(ctx, http.MethodDelete, idPath("/endptjobs/%d/", id), body, "delete endpoint")
}

// WorkergroupRequest configures a worker group (autojob).
type WorkergroupRequest struct {
	ClientID     string  `json:"client_id"`
	EndpointName string  `json:"endpoint_name,omitempty"`
	EndpointID   int     `json:"endpoint_id,omitempty"`
	TemplateHash string  `json:"template_hash,omitempty"`
	TemplateID   int     `json:"template_id,omitempty"`
	SearchParams string  `json:"search_params,omitempty"`
	LaunchArgs   string  `json:"launch_args,omitempty"`
	GPURam       float64 `json:"gpu_ram,omitempty" validate:"gte=0"`
	TestWorkers  int     `json:"test_workers" validate:"gte=0"`
	ColdWorkers  int     `json:"cold_workers" validate:"gte=0"`
	MinLoad      float64 `json:"min_load" validate:"gte=0"`
	TargetUtil   float64 `json:"target_util" validate:"gt=0,lte=1"`
	ColdMult     float64 `json:"cold_mult" validate:"gte=1"`
}

// DefaultWorkergroupRequest carries the server-side defaults.
func DefaultWorkergroupRequest() WorkergroupRequest {
	return WorkergroupRequest{
		ClientID:    "me",
		TestWorkers: 3,
		ColdWorkers: 3,
		TargetUtil:  0.9,
		ColdMult:    2.5,
	}
}

// Workergroups lists worker groups.
func (c *Client) Workergroups(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/autojobs/", nil, "results")
}

// CreateWorkergroup attaches a worker group to an endpoint.
func (c *Client) CreateWorkergroup(ctx context.Context, req WorkergroupRequest) (Record, error) {
	if req.TemplateHash == "" && req.TemplateID == 0 && req.LaunchArgs == "" {
		return nil, &ValidationError{Field: "workergroup", Message: "a template hash, template id or launch args is required"}
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.ClientID = "me"
	return c.mutate(ctx, http.MethodPost, "/autojobs/", req, "create workergroup")
}

// UpdateWorkergroup replaces a worker group's settings.
func (c *Client) UpdateWorkergroup(ctx context.Context, id int, req WorkergroupRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.ClientID = "me"
	return c.mutate(ctx, http.MethodPut, idPath("/autojobs/%d/", id), req, "update workergroup")
}

// DeleteWorkergroup deletes a worker group.
func (c *Client) DeleteWorkergroup(ctx context.Context, id int) (Record, error) {
	body := map[string]any{"client_id": "me", "autojob_id": id}
	return c.mutate(ctx, http.MethodDelete, idPath("/autojobs/%d/", id), body, "delete workergroup")
}

// EndpointLogs fetches autoscaler logs for an endpoint by name.
func (c *Client) EndpointLogs(ctx context.Context, name string, tail int) (Record, error) {
	if name == "" {
		return nil, &ValidationError{Field: "endpoint", Message: "name is required"}
	}
	body := map[string]any{"endpoint": name, "api_key": c.apiKey}
	if tail > 0 {
		body["tail"] = tail
	}
	return c.serverless(ctx, "/get_endpoint_logs/", body)
}

// WorkergroupLogs fetches autoscaler logs for a worker group.
func (c *Client) WorkergroupLogs(ctx context.Context, id, tail int) (Record, error) {
	body := map[string]any{"id": id, "api_key": c.apiKey}
	if tail > 0 {
		body["tail"] = tail
	}
	return c.serverless(ctx, "/get_autogroup_logs/", body)
}

func (c *Client) serverless(ctx context.Context, path string, body any) (Record, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	var rec Record
	r := request{method: http.MethodPost, path: c.serverlessURL + path, body: body, absolute: true}
	if err := c.send(ctx, r, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
