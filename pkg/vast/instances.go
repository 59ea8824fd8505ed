package vast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CreateInstanceRequest is the body of PUT /asks/{offer}/.
type CreateInstanceRequest struct {
	ClientID      string            `json:"client_id"`
	Image         string            `json:"image,omitempty" validate:"required_without=TemplateHash"`
	TemplateHash  string            `json:"template_hash_id,omitempty"`
	Disk          float64           `json:"disk" validate:"gt=0"`
	Price         float64           `json:"price,omitempty" validate:"gte=0"`
	Label         string            `json:"label,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	OnStart       string            `json:"onstart,omitempty"`
	Args          []string          `json:"args,omitempty"`
	RunType       string            `json:"runtype,omitempty" validate:"omitempty,oneof=ssh jupyter args ssh_direct ssh_proxy jupyter_direct jupyter_proxy"`
	ImageLogin    string            `json:"image_login,omitempty"`
	UseJupyterLab bool              `json:"use_jupyter_lab,omitempty"`
	JupyterDir    string            `json:"jupyter_dir,omitempty"`
	PythonUTF8    bool              `json:"python_utf8,omitempty"`
	LangUTF8      bool              `json:"lang_utf8,omitempty"`
	Force         bool              `json:"force,omitempty"`
	CancelUnavail bool              `json:"cancel_unavail,omitempty"`
	ExtraEnvFlags string            `json:"extra,omitempty"`
}

// CreateInstanceResponse is the response from creating an instance
type CreateInstanceResponse struct {
	Success     bool   `json:"success"`
	NewContract int    `json:"new_contract"`
	Error       string `json:"error,omitempty"`
	Msg         string `json:"msg,omitempty"`
}

// UpdateInstanceRequest swaps the template, image or startup settings of a
// running instance.
type UpdateInstanceRequest struct {
	ID           int               `json:"id"`
	TemplateID   int               `json:"template_id,omitempty"`
	TemplateHash string            `json:"template_hash_id,omitempty"`
	Image        string            `json:"image,omitempty"`
	Args         string            `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	OnStart      string            `json:"onstart,omitempty"`
}

// LogsRequest selects which logs request_logs should collect.
type LogsRequest struct {
	Tail       string `json:"tail,omitempty"`
	Filter     string `json:"filter,omitempty"`
	DaemonLogs string `json:"daemon_logs,omitempty"`
}

// ListInstances returns the caller's instances.
func (c *Client) ListInstances(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/instances/", url.Values{"owner": {"me"}}, "instances")
}

// GetInstance returns one instance.
func (c *Client) GetInstance(ctx context.Context, id int) (Record, error) {
	var env struct {
		Instances json.RawMessage `json:"instances"`
	}
	if err := c.get(ctx, idPath("/instances/%d/", id), url.Values{"owner": {"me"}}, &env); err != nil {
		return nil, err
	}
	if len(env.Instances) == 0 || string(env.Instances) == "null" {
		return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	if isJSONArray(env.Instances) {
		recs, err := records(env.Instances, "")
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, fmt.Errorf("instance %d: %w", id, ErrNotFound)
		}
		return recs[0], nil
	}
	var rec Record
	if err := json.Unmarshal(env.Instances, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return rec, nil
}

// Instance fetches one instance as a typed view.
func (c *Client) Instance(ctx context.Context, id int) (Instance, error) {
	rec, err := c.GetInstance(ctx, id)
	if err != nil {
		return Instance{}, err
	}
	var inst Instance
	if err := rec.Decode(&inst); err != nil {
		return Instance{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return inst, nil
}

// CreateInstance rents offerID.
func (c *Client) CreateInstance(ctx context.Context, offerID int, req CreateInstanceRequest) (*CreateInstanceResponse, error) {
	if offerID <= 0 {
		return nil, &ValidationError{Field: "offer id", Message: "must be a positive integer"}
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	if req.ClientID == "" {
		req.ClientID = "me"
	}

	var resp CreateInstanceResponse
	if err := c.put(ctx, idPath("/asks/%d/", offerID), req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Msg
		if msg == "" {
			msg = resp.Error
		}
		return &resp, fmt.Errorf("create instance on offer %d: %s", offerID, msg)
	}
	return &resp, nil
}

// DestroyInstance tears down an instance. Billing stops immediately.
func (c *Client) DestroyInstance(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/instances/%d/", id), map[string]any{}, "destroy instance")
}

// StartInstance asks the host to start a stopped instance.
func (c *Client) StartInstance(ctx context.Context, id int) (Record, error) {
	return c.setState(ctx, id, "running")
}

// StopInstance stops an instance; storage charges continue.
func (c *Client) StopInstance(ctx context.Context, id int) (Record, error) {
	return c.setState(ctx, id, "stopped")
}

func (c *Client) setState(ctx context.Context, id int, state string) (Record, error) {
	return c.mutate(ctx, http.MethodPut, idPath("/instances/%d/", id), map[string]string{"state": state}, "set state "+state)
}

// RebootInstance restarts the container without losing the GPU.
func (c *Client) RebootInstance(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodPut, idPath("/instances/reboot/%d/", id), map[string]any{}, "reboot instance")
}

// RecycleInstance destroys and recreates the container from a fresh image pull.
func (c *Client) RecycleInstance(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodPut, idPath("/instances/recycle/%d/", id), map[string]any{}, "recycle instance")
}

// LabelInstance sets the label.
func (c *Client) LabelInstance(ctx context.Context, id int, label string) (Record, error) {
	return c.mutate(ctx, http.MethodPut, idPath("/instances/%d/", id), map[string]string{"label": label}, "label instance")
}

// ChangeBid changes the bid price of an interruptible instance.
func (c *Client) ChangeBid(ctx context.Context, id int, price float64) (Record, error) {
	if price <= 0 {
		return nil, &ValidationError{Field: "price", Message: "must be greater than 0"}
	}
	body := map[string]any{"client_id": "me", "price": price}
	return c.mutate(ctx, http.MethodPut, idPath("/instances/bid_price/%d/", id), body, "change bid")
}

// PrepayInstance deposits credit against a reserved instance.
func (c *Client) PrepayInstance(ctx context.Context, id int, amount float64) (Record, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	return c.mutate(ctx, http.MethodPut, idPath("/instances/prepay/%d/", id), map[string]any{"amount": amount}, "prepay instance")
}

// UpdateInstance applies a new template or image to an instance.
func (c *Client) UpdateInstance(ctx context.Context, req UpdateInstanceRequest) (Record, error) {
	if req.ID <= 0 {
		return nil, &ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return c.mutate(ctx, http.MethodPut, idPath("/instances/update_template/%d/", req.ID), req, "update instance")
}

// AttachSSH adds a public key to an instance.
func (c *Client) AttachSSH(ctx context.Context, id int, key string) (Record, error) {
	if !strings.HasPrefix(strings.TrimSpace(key), "ssh-") && !strings.HasPrefix(strings.TrimSpace(key), "ecdsa-") {
		return nil, &ValidationError{Field: "ssh key", Message: "expected an OpenSSH public key"}
	}
	return c.mutate(ctx, http.MethodPost, idPath("/instances/%d/ssh/", id), map[string]string{"ssh_key": key}, "attach ssh key")
}

// DetachSSH removes a key from an instance.
func (c *Client) DetachSSH(ctx context.Context, id int, keyID string) (Record, error) {
	path := fmt.Sprintf("/instances/%d/ssh/%s/", id, url.PathEscape(keyID))
	return c.mutate(ctx, http.MethodDelete, path, nil, "detach ssh key")
}

// Execute runs a limited command (ls, rm, du, ...) inside the container and
// returns its output.
func (c *Client) Execute(ctx context.Context, id int, command string, poll PollOptions) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", &ValidationError{Field: "command", Message: "cannot be empty"}
	}
	rec, err := c.mutate(ctx, http.MethodPut, idPath("/instances/command/%d/", id), map[string]string{"command": command}, "execute")
	if err != nil {
		return "", err
	}
	return c.fetchResult(ctx, rec, poll)
}

// Logs requests container logs and waits for them to be uploaded.
func (c *Client) Logs(ctx context.Context, id int, req LogsRequest, poll PollOptions) (string, error) {
	rec, err := c.mutate(ctx, http.MethodPut, idPath("/instances/request_logs/%d/", id), req, "request logs")
	if err != nil {
		return "", err
	}
	return c.fetchResult(ctx, rec, poll)
}

// PollOptions bounds how long result uploads are awaited.
type PollOptions struct {
	Attempts int
	Interval time.Duration
}

// DefaultPoll matches how long log uploads typically take.
var DefaultPoll = PollOptions{Attempts: 30, Interval: 300 * time.Millisecond}

// fetchResult downloads the object at result_url once the host has
// uploaded it.
func (c *Client) fetchResult(ctx context.Context, rec Record, poll PollOptions) (string, error) {
	resultURL := rec.String("result_url")
	if resultURL == "" {
		if out := rec.String("result"); out != "" {
			return out, nil
		}
		return "", fmt.Errorf("%w: response has no result_url", ErrDecode)
	}
	if poll.Attempts <= 0 {
		poll = DefaultPoll
	}

	var lastErr error
	for i := 0; i < poll.Attempts; i++ {
		if i > 0 {
			t := time.NewTimer(poll.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		body, status, err := c.download(ctx, resultURL)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusOK {
			return body, nil
		}
		lastErr = fmt.Errorf("result not ready (HTTP %d)", status)
	}
	return "", fmt.Errorf("waiting for result: %w", lastErr)
}

func (c *Client) download(ctx context.Context, u string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}

// SSHURL builds ssh://user@host:port for an instance, preferring a direct
// port mapping over the proxy.
func (c *Client) SSHURL(ctx context.Context, id int) (string, error) {
	host, port, err := c.SSHEndpoint(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ssh://root@%s:%d", host, port), nil
}

// SCPURL builds scp://user@host:port for an instance.
func (c *Client) SCPURL(ctx context.Context, id int) (string, error) {
	host, port, err := c.SSHEndpoint(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scp://root@%s:%d", host, port), nil
}

// SSHEndpoint resolves the host and port sshd is reachable on.
func (c *Client) SSHEndpoint(ctx context.Context, id int) (string, int, error) {
	inst, err := c.Instance(ctx, id)
	if err != nil {
		return "", 0, err
	}
	return inst.SSHAddress()
}

// SSHAddress returns the direct mapping of container port 22 when the
// instance has a public IP, else the proxy host.
func (i Instance) SSHAddress() (string, int, error) {
	if i.PublicIP != "" {
		if bindings := i.Ports["22/tcp"]; len(bindings) > 0 {
			if port, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				return i.PublicIP, port, nil
			}
		}
	}
	if i.SSHHost == "" || i.SSHPort == 0 {
		return "", 0, fmt.Errorf("instance %d has no ssh endpoint yet (status %q)", i.ID, i.ActualStatus)
	}
	// the proxy listens one port above the advertised one
	return i.SSHHost, i.SSHPort + 1, nil
}

// WaitForStatus polls until the instance reports status or ctx expires.
func (c *Client) WaitForStatus(ctx context.Context, id int, status string, interval time.Duration) (Instance, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		inst, err := c.Instance(ctx, id)
		if err != nil && !IsRetryable(err) {
			return Instance{}, err
		}
		if err == nil && inst.ActualStatus == status {
			return inst, nil
		}
		select {
		case <-ctx.Done():
			return inst, fmt.Errorf("waiting for instance %d to be %s (last %q): %w", id, status, inst.ActualStatus, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CopyRequest moves data between two instances through the API.
type CopyRequest struct {
	SrcID   int    `json:"src_id" validate:"gt=0"`
	DstID   int    `json:"dst_id" validate:"gt=0"`
	SrcPath string `json:"src_path" validate:"required"`
	DstPath string `json:"dst_path" validate:"required"`
}

// CopyDirect starts an instance to instance copy.
func (c *Client) CopyDirect(ctx context.Context, req CopyRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	body := map[string]any{
		"client_id": "me",
		"src_id":    req.SrcID,
		"dst_id":    req.DstID,
		"src_path":  req.SrcPath,
		"dst_path":  req.DstPath,
	}
	return c.mutate(ctx, http.MethodPut, "/commands/copy_direct/", body, "copy")
}

// CancelCopy aborts a pending copy into dst.
func (c *Client) CancelCopy(ctx context.Context, dstID int) (Record, error) {
	body := map[string]any{"client_id": "me", "dst_id": dstID}
	return c.mutate(ctx, http.MethodDelete, "/commands/copy_direct/", body, "cancel copy")
}

// CancelSync aborts a pending cloud sync into dst.
func (c *Client) CancelSync(ctx context.Context, dstID int) (Record, error) {
	body := map[string]any{"client_id": "me", "dst_id": dstID}
	return c.mutate(ctx, http.MethodDelete, "/commands/rclone/", body, "cancel sync")
}

// CloudCopyRequest copies between an instance and a connected cloud bucket.
type CloudCopyRequest struct {
	InstanceID   int      `json:"instance_id" validate:"gt=0"`
	Src          string   `json:"src" validate:"required"`
	Dst          string   `json:"dst" validate:"required"`
	ConnectionID string   `json:"selected" validate:"required"`
	Transfer     string   `json:"transfer" validate:"oneof='Instance To Cloud' 'Cloud To Instance'"`
	Flags        []string `json:"flags,omitempty"`
}

// CloudCopy starts an rclone transfer.
func (c *Client) CloudCopy(ctx context.Context, req CloudCopyRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	body := map[string]any{
		"command":     "cloud_copy",
		"instance_id": req.InstanceID,
		"src":         req.Src,
		"dst":         req.Dst,
		"selected":    req.ConnectionID,
		"transfer":    req.Transfer,
		"flags":       req.Flags,
	}
	return c.mutate(ctx, http.MethodPost, "/commands/rclone/", body, "cloud copy")
}

// Connections lists cloud storage integrations.
func (c *Client) Connections(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/users/cloud_integrations/", nil, "")
}
