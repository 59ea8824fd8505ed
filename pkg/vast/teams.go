package vast

import (
	"context"
	"net/http"
	"net/url"
)

// CreateTeam converts the account into a team owner.
func (c *Client) CreateTeam(ctx context.Context, name string) (Record, error) {
	if name == "" {
		return nil, &ValidationError{Field: "team name", Message: "cannot be empty"}
	}
	return c.mutate(ctx, http.MethodPost, "/team/", map[string]string{"team_name": name}, "create team")
}

// DestroyTeam deletes the caller's team.
func (c *Client) DestroyTeam(ctx context.Context) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, "/team/", nil, "destroy team")
}

// TeamMembers lists members of the team.
func (c *Client) TeamMembers(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/team/members/", nil, "")
}

// InviteMember emails an invitation with the given role.
func (c *Client) InviteMember(ctx context.Context, email, role string) (Record, error) {
	if email == "" || role == "" {
		return nil, &ValidationError{Field: "invite", Message: "email and role are required"}
	}
	q := url.Values{"email": {email}, "role": {role}}
	var raw Record
	if err := c.send(ctx, request{method: http.MethodPost, path: "/team/invite/", query: q}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = Record{"success": true}
	}
	return raw, nil
}

// RemoveMember removes a member from the team.
func (c *Client) RemoveMember(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/team/members/%d/", id), nil, "remove member")
}

// TeamRoles lists roles with their permissions.
func (c *Client) TeamRoles(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/team/roles-full/", nil, "")
}

// TeamRole returns a single role by name.
func (c *Client) TeamRole(ctx context.Context, name string) (Record, error) {
	return c.record(ctx, "/team/roles/"+url.PathEscape(name)+"/", nil)
}

// TeamRoleRequest creates or updates a role.
type TeamRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Permissions Record `json:"permissions" validate:"required"`
}

// CreateTeamRole adds a role.
func (c *Client) CreateTeamRole(ctx context.Context, req TeamRoleRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPost, "/team/roles/", req, "create team role")
}

// UpdateTeamRole replaces a role's name and permissions.
func (c *Client) UpdateTeamRole(ctx context.Context, id int, req TeamRoleRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPut, idPath("/team/roles/%d/", id), req, "update team role")
}

// RemoveTeamRole deletes a role by name.
func (c *Client) RemoveTeamRole(ctx context.Context, name string) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, "/team/roles/"+url.PathEscape(name)+"/", nil, "remove team role")
}
