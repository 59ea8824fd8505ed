package vast

import (
	"context"
	"net/http"
	"testing"
)

func TestEndpoints_Requests(t *testing.T) {
	endpoint := DefaultEndpointRequest()
	endpoint.Name = "llama"
	endpoint.ClientID = "someone-else"

	group := DefaultWorkergroupRequest()
	group.EndpointName = "llama"
	group.TemplateHash = "4e17788f"
	group.SearchParams = "gpu_ram>=23"

	runCalls(t, []apiCall{
		{
			name:  "list endpoints",
			reply: `{"success": true, "results": [{"id": 1, "endpoint_name": "llama"}]}`,
			do: func(ctx context.Context, c *Client) error {
				rows, err := c.Endpoints(ctx)
				if err == nil && (len(rows) != 1 || rows[0].String("endpoint_name") != "llama") {
					t.Errorf("unexpected rows %v", rows)
				}
				return err
			},
			method: http.MethodGet, path: "/api/v0/endptjobs/",
		},
		{
			name:   "create endpoint",
			do:     func(ctx context.Context, c *Client) error { _, err := c.CreateEndpoint(ctx, endpoint); return err },
			method: http.MethodPost, path: "/api/v0/endptjobs/",
			body: map[string]any{
				"client_id":     "me",
				"endpoint_name": "llama",
				"target_util":   0.9,
				"cold_mult":     2.5,
				"max_workers":   20.0,
			},
		},
		{
			name: "update endpoint",
			do: func(ctx context.Context, c *Client) error {
				r := endpoint
				r.State = "suspended"
				_, err := c.UpdateEndpoint(ctx, 7, r)
				return err
			},
			method: http.MethodPut, path: "/api/v0/endptjobs/7/",
			body: map[string]any{"endpoint_state": "suspended", "client_id": "me"},
		},
		{
			name:   "delete endpoint",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DeleteEndpoint(ctx, 7); return err },
			method: http.MethodDelete, path: "/api/v0/endptjobs/7/",
			body: map[string]any{"endptjob_id": 7.0},
		},
		{
			name:   "list workergroups",
			reply:  `{"results": []}`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.Workergroups(ctx); return err },
			method: http.MethodGet, path: "/api/v0/autojobs/",
		},
		{
			name:   "create workergroup",
			do:     func(ctx context.Context, c *Client) error { _, err := c.CreateWorkergroup(ctx, group); return err },
			method: http.MethodPost, path: "/api/v0/autojobs/",
			body: map[string]any{
				"endpoint_name": "llama",
				"template_hash": "4e17788f",
				"search_params": "gpu_ram>=23",
				"test_workers":  3.0,
			},
		},
		{
			name:   "update workergroup",
			do:     func(ctx context.Context, c *Client) error { _, err := c.UpdateWorkergroup(ctx, 9, group); return err },
			method: http.MethodPut, path: "/api/v0/autojobs/9/",
			body: map[string]any{"template_hash": "4e17788f"},
		},
		{
			name:   "delete workergroup",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DeleteWorkergroup(ctx, 9); return err },
			method: http.MethodDelete, path: "/api/v0/autojobs/9/",
			body: map[string]any{"autojob_id": 9.0},
		},
		{
			name:   "workergroup logs",
			reply:  `{"info0": "scaling"}`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.WorkergroupLogs(ctx, 9, 50); return err },
			method: http.MethodPost, path: "/get_autogroup_logs/",
			body: map[string]any{"id": 9.0, "tail": 50.0, "api_key": "test-key"},
		},
	})
}

func TestEndpoints_Validation(t *testing.T) {
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		r := DefaultEndpointRequest()
		r.TargetUtil = 0
		_, err := c.CreateEndpoint(ctx, r)
		return err
	})
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		r := DefaultEndpointRequest()
		r.State = "paused"
		_, err := c.UpdateEndpoint(ctx, 1, r)
		return err
	})
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.CreateWorkergroup(ctx, DefaultWorkergroupRequest())
		return err
	})
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.EndpointLogs(ctx, "", 0)
		return err
	})
}
