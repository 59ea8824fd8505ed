package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "create",
			noun:  "team",
			short: "Create a team owned by this account",
			flags: func(fs *pflag.FlagSet) {
				fs.String("name", "", "Team name (required)")
			},
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().CreateTeam(rc.ctx, rc.str("name"))
				if err != nil {
					return err
				}
				return rc.done(rec, "created team %s", rc.str("name"))
			},
		},
		command{
			verb:  "destroy",
			noun:  "team",
			short: "Delete your team",
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().DestroyTeam(rc.ctx)
				if err != nil {
					return err
				}
				logAudit(rc, "destroy team")
				return rc.done(rec, "team destroyed")
			},
		},
		listCommand("members", "List team members", (*vast.Client).TeamMembers, memberColumns),
		command{
			verb:    "invite",
			noun:    "member",
			short:   "Invite a user to the team",
			example: "  vastctl invite member --email dev@example.com --role member",
			flags: func(fs *pflag.FlagSet) {
				fs.String("email", "", "Email to invite (required)")
				fs.String("role", "", "Role name (required)")
			},
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().InviteMember(rc.ctx, rc.str("email"), rc.str("role"))
				if err != nil {
					return err
				}
				return rc.done(rec, "invited %s as %s", rc.str("email"), rc.str("role"))
			},
		},
		command{
			verb:  "remove",
			noun:  "member",
			use:   "<id>",
			short: "Remove a team member",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "member id")
				if err != nil {
					return err
				}
				rec, err := rc.client().RemoveMember(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "removed member %d", id)
			},
		},
		listCommand("team-roles", "List team roles", (*vast.Client).TeamRoles, roleColumns),
		command{
			verb:  "show",
			noun:  "team-role",
			use:   "<name>",
			short: "Show a team role's permissions",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				rec, err := rc.client().TeamRole(rc.ctx, args[0])
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
		command{
			verb:    "create",
			noun:    "team-role",
			short:   "Create a team role",
			example: `  vastctl create team-role --name ops --permissions '{"api":{"instance_read":{}}}'`,
			flags:   roleFlags,
			run: func(rc *runContext, _ []string) error {
				req, err := roleRequest(rc)
				if err != nil {
					return err
				}
				rec, err := rc.client().CreateTeamRole(rc.ctx, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "created role %s", req.Name)
			},
		},
		command{
			verb:  "update",
			noun:  "team-role",
			use:   "<id>",
			short: "Replace a team role",
			args:  cobra.ExactArgs(1),
			flags: roleFlags,
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "role id")
				if err != nil {
					return err
				}
				req, err := roleRequest(rc)
				if err != nil {
					return err
				}
				rec, err := rc.client().UpdateTeamRole(rc.ctx, id, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "updated role %d", id)
			},
		},
		command{
			verb:  "remove",
			noun:  "team-role",
			use:   "<name>",
			short: "Delete a team role",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				rec, err := rc.client().RemoveTeamRole(rc.ctx, args[0])
				if err != nil {
					return err
				}
				return rc.done(rec, "removed role %s", args[0])
			},
		},
	)
}

func roleFlags(fs *pflag.FlagSet) {
	fs.String("name", "", "Role name (required)")
	fs.String("permissions", "", "Permissions JSON, inline or a file path (required)")
}

func roleRequest(rc *runContext) (vast.TeamRoleRequest, error) {
	perms, err := jsonArg(rc.str("permissions"), "permissions")
	if err != nil {
		return vast.TeamRoleRequest{}, err
	}
	return vast.TeamRoleRequest{Name: rc.str("name"), Permissions: perms}, nil
}
