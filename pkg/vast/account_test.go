package vast

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Requests(t *testing.T) {
	runCalls(t, []apiCall{
		{
			name: "set user",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.SetUser(ctx, Record{"billaddress_country": "DE"})
				return err
			},
			method: http.MethodPut, path: "/api/v0/users/",
			body: map[string]any{"billaddress_country": "DE"},
		},
		{
			name:   "api keys",
			reply:  `{"apikeys": [{"id": 3, "name": "ci"}]}`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.APIKeys(ctx); return err },
			method: http.MethodGet, path: "/api/v0/auth/apikeys/",
		},
		{
			name:  "api key",
			reply: `{"id": 3, "name": "ci"}`,
			do: func(ctx context.Context, c *Client) error {
				rec, err := c.APIKey(ctx, 3)
				if err == nil && rec.String("name") != "ci" {
					t.Errorf("unexpected key %v", rec)
				}
				return err
			},
			method: http.MethodGet, path: "/api/v0/auth/apikeys/3/",
		},
		{
			name: "create api key",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.CreateAPIKey(ctx, CreateAPIKeyRequest{Name: "ci", Permissions: Record{"api": map[string]any{}}})
				return err
			},
			method: http.MethodPost, path: "/api/v0/auth/apikeys/",
			body: map[string]any{"name": "ci", "permissions": map[string]any{"api": map[string]any{}}, "key_params": nil},
		},
		{
			name:   "delete api key",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DeleteAPIKey(ctx, 3); return err },
			method: http.MethodDelete, path: "/api/v0/auth/apikeys/3/",
		},
		{
			name:   "reset api key",
			do:     func(ctx context.Context, c *Client) error { _, err := c.ResetAPIKey(ctx); return err },
			method: http.MethodPut, path: "/api/v0/commands/reset_apikey/",
			body: map[string]any{"client_id": "me"},
		},
		{
			name:   "ssh keys",
			reply:  `[{"id": 1, "public_key": "ssh-ed25519 AAAA"}]`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.SSHKeys(ctx); return err },
			method: http.MethodGet, path: "/api/v0/ssh/",
		},
		{
			name: "update ssh key",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.UpdateSSHKey(ctx, 1, "ssh-ed25519 BBBB")
				return err
			},
			method: http.MethodPut, path: "/api/v0/ssh/1/",
			body: map[string]any{"id": 1.0, "ssh_key": "ssh-ed25519 BBBB"},
		},
		{
			name:   "delete env var",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DeleteEnvVar(ctx, "HF_TOKEN"); return err },
			method: http.MethodDelete, path: "/api/v0/secrets/",
			body: map[string]any{"key": "HF_TOKEN"},
		},
		{
			name: "create subaccount",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.CreateSubaccount(ctx, CreateSubaccountRequest{Email: "kid@example.com", Username: "kid", Password: "hunter22", ParentID: "someone"})
				return err
			},
			method: http.MethodPost, path: "/api/v0/users/",
			body: map[string]any{"email": "kid@example.com", "parent_id": "me", "host_only": false},
		},
		{
			name:   "scheduled jobs",
			reply:  `[]`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.ScheduledJobs(ctx); return err },
			method: http.MethodGet, path: "/api/v0/commands/schedule_job/",
		},
		{
			name:   "delete scheduled job",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DeleteScheduledJob(ctx, 12); return err },
			method: http.MethodDelete, path: "/api/v0/commands/schedule_job/12/",
		},
		{
			name: "transfer credit",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.TransferCredit(ctx, "team@example.com", 25)
				return err
			},
			method: http.MethodPut, path: "/api/v0/commands/transfer_credit/",
			body: map[string]any{"sender": "me", "recipient": "team@example.com", "amount": 25.0},
		},
		{
			name:  "earnings",
			reply: `{"summary": {"total_gpu": 1.5}, "per_machine": []}`,
			do: func(ctx context.Context, c *Client) error {
				_, err := c.Earnings(ctx, 20454, 20484, 101)
				return err
			},
			method: http.MethodGet, path: "/api/v0/users/me/machine-earnings",
			query: url.Values{"owner": {"me"}, "sday": {"20454"}, "eday": {"20484"}, "machid": {"101"}},
		},
		{
			name:   "deposit",
			reply:  `{"refundable_deposit": 1.25}`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.Deposit(ctx, 5); return err },
			method: http.MethodGet, path: "/api/v0/instances/balance/5/",
		},
	})
}

func TestInvoices_RangeAndCurrent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/users/me/invoices", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1767225600", q.Get("sdate"))
		assert.Empty(t, q.Get("edate"))
		assert.Equal(t, "true", q.Get("inc_charges"))
		w.Write([]byte(`{"invoices": [{"id": 1, "amount": 10}], "current": {"charges": 2.5, "credit": 7}}`))
	})

	rows, current, err := c.Invoices(context.Background(), InvoiceRange{Start: 1767225600, Charge: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 2.5, current.Float("charges"))
}

func TestInvoices_EmptyIsNotNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	rows, _, err := c.Invoices(context.Background(), InvoiceRange{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestAccount_Validation(t *testing.T) {
	rejectsLocally(t, func(ctx context.Context, c *Client) error { _, err := c.SetUser(ctx, nil); return err })
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.CreateAPIKey(ctx, CreateAPIKeyRequest{})
		return err
	})
	rejectsLocally(t, func(ctx context.Context, c *Client) error { _, err := c.CreateSSHKey(ctx, ""); return err })
	rejectsLocally(t, func(ctx context.Context, c *Client) error { _, err := c.TransferCredit(ctx, "x", 0); return err })
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.CreateSubaccount(ctx, CreateSubaccountRequest{Email: "not-an-email", Username: "u", Password: "longenough"})
		return err
	})
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.CreateSubaccount(ctx, CreateSubaccountRequest{Email: "a@b.co", Username: "u", Password: "short"})
		return err
	})
}
