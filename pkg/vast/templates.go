package vast

import (
	"context"
	"net/http"
)

// TemplateRequest creates or updates a template. HashID is only used on
// update.
type TemplateRequest struct {
	HashID          string  `json:"hash_id,omitempty"`
	Name            string  `json:"name" validate:"required"`
	Image           string  `json:"image" validate:"required"`
	Tag             string  `json:"tag,omitempty"`
	Env             string  `json:"env,omitempty"`
	OnStart         string  `json:"onstart,omitempty"`
	RunType         string  `json:"runtype,omitempty" validate:"omitempty,oneof=ssh jupyter args"`
	SSHDirect       bool    `json:"ssh_direct,omitempty"`
	JupyterDirect   bool    `json:"jup_direct,omitempty"`
	UseJupyterLab   bool    `json:"use_jupyter_lab,omitempty"`
	SearchParams    string  `json:"extra_filters,omitempty"`
	DiskSpace       float64 `json:"recommended_disk_space,omitempty" validate:"gte=0"`
	Readme          string  `json:"readme,omitempty"`
	Description     string  `json:"desc,omitempty"`
	Private         bool    `json:"private,omitempty"`
	DockerLoginRepo string  `json:"docker_login_repo,omitempty"`
}

// CreateTemplate stores a new template.
func (c *Client) CreateTemplate(ctx context.Context, req TemplateRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	req.HashID = ""
	return c.mutate(ctx, http.MethodPost, "/template/", req, "create template")
}

// UpdateTemplate replaces the template identified by req.HashID.
func (c *Client) UpdateTemplate(ctx context.Context, req TemplateRequest) (Record, error) {
	if req.HashID == "" {
		return nil, &ValidationError{Field: "hash_id", Message: "is required"}
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPut, "/template/", req, "update template")
}

// DeleteTemplate removes a template by numeric id or hash id.
func (c *Client) DeleteTemplate(ctx context.Context, id int, hashID string) (Record, error) {
	body := map[string]any{}
	switch {
	case id > 0:
		body["template_id"] = id
	case hashID != "":
		body["hash_id"] = hashID
	default:
		return nil, &ValidationError{Field: "template", Message: "an id or hash id is required"}
	}
	return c.mutate(ctx, http.MethodDelete, "/template/", body, "delete template")
}
