package vast

import (
	"context"
	"net/http"
	"net/url"
	"testing"
)

func TestTeams_Requests(t *testing.T) {
	perms := Record{"api": map[string]any{"instance_read": map[string]any{}}}

	runCalls(t, []apiCall{
		{
			name:   "create team",
			do:     func(ctx context.Context, c *Client) error { _, err := c.CreateTeam(ctx, "ml"); return err },
			method: http.MethodPost, path: "/api/v0/team/",
			body: map[string]any{"team_name": "ml"},
		},
		{
			name:   "destroy team",
			do:     func(ctx context.Context, c *Client) error { _, err := c.DestroyTeam(ctx); return err },
			method: http.MethodDelete, path: "/api/v0/team/",
		},
		{
			name:  "members",
			reply: `[{"id": 1, "email": "a@example.com"}]`,
			do: func(ctx context.Context, c *Client) error {
				rows, err := c.TeamMembers(ctx)
				if err == nil && len(rows) != 1 {
					t.Errorf("got %d members", len(rows))
				}
				return err
			},
			method: http.MethodGet, path: "/api/v0/team/members/",
		},
		{
			name:  "invite",
			reply: " ",
			do: func(ctx context.Context, c *Client) error {
				rec, err := c.InviteMember(ctx, "dev@example.com", "member")
				if err == nil && !rec.Bool("success") {
					t.Errorf("empty reply should read as success, got %v", rec)
				}
				return err
			},
			method: http.MethodPost, path: "/api/v0/team/invite/",
			query: url.Values{"email": {"dev@example.com"}, "role": {"member"}},
		},
		{
			name:   "remove member",
			do:     func(ctx context.Context, c *Client) error { _, err := c.RemoveMember(ctx, 4); return err },
			method: http.MethodDelete, path: "/api/v0/team/members/4/",
		},
		{
			name:   "roles",
			reply:  `[]`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.TeamRoles(ctx); return err },
			method: http.MethodGet, path: "/api/v0/team/roles-full/",
		},
		{
			name:   "role by name",
			reply:  `{"name": "ops", "permissions": {}}`,
			do:     func(ctx context.Context, c *Client) error { _, err := c.TeamRole(ctx, "ops team"); return err },
			method: http.MethodGet, path: "/api/v0/team/roles/ops team/",
		},
		{
			name: "create role",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.CreateTeamRole(ctx, TeamRoleRequest{Name: "ops", Permissions: perms})
				return err
			},
			method: http.MethodPost, path: "/api/v0/team/roles/",
			body: map[string]any{"name": "ops", "permissions": map[string]any(perms)},
		},
		{
			name: "update role",
			do: func(ctx context.Context, c *Client) error {
				_, err := c.UpdateTeamRole(ctx, 3, TeamRoleRequest{Name: "ops2", Permissions: perms})
				return err
			},
			method: http.MethodPut, path: "/api/v0/team/roles/3/",
			body: map[string]any{"name": "ops2"},
		},
		{
			name:   "remove role",
			do:     func(ctx context.Context, c *Client) error { _, err := c.RemoveTeamRole(ctx, "ops"); return err },
			method: http.MethodDelete, path: "/api/v0/team/roles/ops/",
		},
	})
}

func TestTeams_Validation(t *testing.T) {
	rejectsLocally(t, func(ctx context.Context, c *Client) error { _, err := c.CreateTeam(ctx, ""); return err })
	rejectsLocally(t, func(ctx context.Context, c *Client) error { _, err := c.InviteMember(ctx, "a@b.c", ""); return err })
	rejectsLocally(t, func(ctx context.Context, c *Client) error {
		_, err := c.CreateTeamRole(ctx, TeamRoleRequest{Name: "ops"})
		return err
	})
}
