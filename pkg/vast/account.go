package vast

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// CurrentUser returns the account the API key belongs to.
func (c *Client) CurrentUser(ctx context.Context) (Record, error) {
	return c.record(ctx, "/users/current", url.Values{"owner": {"me"}})
}

// SetUser updates account settings with the given fields.
func (c *Client) SetUser(ctx context.Context, fields Record) (Record, error) {
	if len(fields) == 0 {
		return nil, &ValidationError{Field: "user settings", Message: "no fields to update"}
	}
	return c.mutate(ctx, http.MethodPut, "/users/", fields, "set user")
}

// APIKeys lists the account's API keys.
func (c *Client) APIKeys(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/auth/apikeys/", nil, "apikeys")
}

// APIKey returns one API key record.
func (c *Client) APIKey(ctx context.Context, id int) (Record, error) {
	return c.record(ctx, idPath("/auth/apikeys/%d/", id), nil)
}

// CreateAPIKeyRequest describes a new scoped key.
type CreateAPIKeyRequest struct {
	Name        string `json:"name" validate:"required"`
	Permissions Record `json:"permissions,omitempty"`
	KeyParams   Record `json:"key_params,omitempty"`
}

// CreateAPIKey creates a new API key.
func (c *Client) CreateAPIKey(ctx context.Context, req CreateAPIKeyRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPost, "/auth/apikeys/", req, "create api key")
}

// DeleteAPIKey revokes a key.
func (c *Client) DeleteAPIKey(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/auth/apikeys/%d/", id), nil, "delete api key")
}

// ResetAPIKey invalidates the current key and issues a new one.
func (c *Client) ResetAPIKey(ctx context.Context) (Record, error) {
	return c.mutate(ctx, http.MethodPut, "/commands/reset_apikey/", map[string]string{"client_id": "me"}, "reset api key")
}

// SSHKeys lists keys attached to the account.
func (c *Client) SSHKeys(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/ssh/", nil, "")
}

// CreateSSHKey adds a public key to the account.
func (c *Client) CreateSSHKey(ctx context.Context, key string) (Record, error) {
	if key == "" {
		return nil, &ValidationError{Field: "ssh key", Message: "cannot be empty"}
	}
	return c.mutate(ctx, http.MethodPost, "/ssh/", map[string]string{"ssh_key": key}, "create ssh key")
}

// UpdateSSHKey replaces the key material of an account key.
func (c *Client) UpdateSSHKey(ctx context.Context, id int, key string) (Record, error) {
	if key == "" {
		return nil, &ValidationError{Field: "ssh key", Message: "cannot be empty"}
	}
	body := map[string]any{"id": id, "ssh_key": key}
	return c.mutate(ctx, http.MethodPut, idPath("/ssh/%d/", id), body, "update ssh key")
}

// DeleteSSHKey removes an account key.
func (c *Client) DeleteSSHKey(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/ssh/%d/", id), nil, "delete ssh key")
}

// EnvVars returns account-level environment variables as name/value rows
// sorted by name.
func (c *Client) EnvVars(ctx context.Context) ([]Record, error) {
	var resp struct {
		Secrets map[string]string `json:"secrets"`
	}
	if err := c.get(ctx, "/secrets/", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Secrets))
	for k := range resp.Secrets {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]Record, 0, len(names))
	for _, k := range names {
		out = append(out, Record{"name": k, "value": resp.Secrets[k]})
	}
	return out, nil
}

// CreateEnvVar adds an environment variable injected into new instances.
func (c *Client) CreateEnvVar(ctx context.Context, name, value string) (Record, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	return c.mutate(ctx, http.MethodPost, "/secrets/", map[string]string{"key": name, "value": value}, "create env var")
}

// UpdateEnvVar changes the value of an existing variable.
func (c *Client) UpdateEnvVar(ctx context.Context, name, value string) (Record, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	return c.mutate(ctx, http.MethodPut, "/secrets/", map[string]string{"key": name, "value": value}, "update env var")
}

// DeleteEnvVar removes a variable.
func (c *Client) DeleteEnvVar(ctx context.Context, name string) (Record, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	return c.mutate(ctx, http.MethodDelete, "/secrets/", map[string]string{"key": name}, "delete env var")
}

// IPAddrs lists the IP addresses the account has logged in from.
func (c *Client) IPAddrs(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/users/me/ipaddrs", url.Values{"owner": {"me"}}, "results")
}

// AuditLogs lists account audit events.
func (c *Client) AuditLogs(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/audit_logs/", nil, "")
}

// Subaccounts lists accounts owned by the caller.
func (c *Client) Subaccounts(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/subaccounts", url.Values{"owner": {"me"}}, "users")
}

// CreateSubaccountRequest describes a new child account.
type CreateSubaccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	HostOnly bool   `json:"host_only"`
	ParentID string `json:"parent_id"`
}

// CreateSubaccount creates a child account billed to the caller.
func (c *Client) CreateSubaccount(ctx context.Context, req CreateSubaccountRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.ParentID = "me"
	return c.mutate(ctx, http.MethodPost, "/users/", req, "create subaccount")
}

// ScheduledJobs lists recurring jobs.
func (c *Client) ScheduledJobs(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/commands/schedule_job/", nil, "")
}

// DeleteScheduledJob removes a recurring job.
func (c *Client) DeleteScheduledJob(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/commands/schedule_job/%d/", id), nil, "delete scheduled job")
}

// TransferCredit moves account credit to another user.
func (c *Client) TransferCredit(ctx context.Context, recipient string, amount float64) (Record, error) {
	if recipient == "" {
		return nil, &ValidationError{Field: "recipient", Message: "cannot be empty"}
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	body := map[string]any{"sender": "me", "recipient": recipient, "amount": amount}
	return c.mutate(ctx, http.MethodPut, "/commands/transfer_credit/", body, "transfer credit")
}

// InvoiceRange bounds invoice and earnings queries. Zero values are omitted.
type InvoiceRange struct {
	Start  int64
	End    int64
	Charge bool
}

// Invoices returns invoice rows and the current balance summary.
func (c *Client) Invoices(ctx context.Context, r InvoiceRange) ([]Record, Record, error) {
	q := url.Values{"owner": {"me"}}
	if r.Start > 0 {
		q.Set("sdate", fmt.Sprint(r.Start))
	}
	if r.End > 0 {
		q.Set("edate", fmt.Sprint(r.End))
	}
	if r.Charge {
		q.Set("inc_charges", "true")
	}
	var resp struct {
		Invoices []Record `json:"invoices"`
		Current  Record   `json:"current"`
	}
	if err := c.get(ctx, "/users/me/invoices", q, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Invoices == nil {
		resp.Invoices = []Record{}
	}
	return resp.Invoices, resp.Current, nil
}

// Earnings returns host earnings between two day offsets since epoch.
func (c *Client) Earnings(ctx context.Context, startDay, endDay, machineID int) (Record, error) {
	q := url.Values{"owner": {"me"}}
	if startDay > 0 {
		q.Set("sday", fmt.Sprint(startDay))
	}
	if endDay > 0 {
		q.Set("eday", fmt.Sprint(endDay))
	}
	if machineID > 0 {
		q.Set("machid", fmt.Sprint(machineID))
	}
	return c.record(ctx, "/users/me/machine-earnings", q)
}

// Deposit returns the reserve balance of an instance.
func (c *Client) Deposit(ctx context.Context, id int) (Record, error) {
	return c.record(ctx, idPath("/instances/balance/%d/", id), nil)
}
