package cmd

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/internal/config"
	"github.com/vastctl/vastctl/internal/output"
	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "show",
			noun:  "user",
			short: "Show your account",
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().CurrentUser(rc.ctx)
				if err != nil {
					return err
				}
				// the key is never echoed back
				delete(rec, "api_key")
				return rc.detail(rec, userColumns)
			},
		},
		command{
			verb:    "set",
			noun:    "user",
			short:   "Update account settings",
			example: "  vastctl set user --field ssh_key=\"$(cat ~/.ssh/id_ed25519.pub)\" --field billaddress_country=DE",
			flags: func(fs *pflag.FlagSet) {
				fs.StringArray("field", nil, "Setting NAME=VALUE (repeatable)")
			},
			run: func(rc *runContext, _ []string) error {
				pairs, err := parseEnv(rc.list("field"))
				if err != nil {
					return err
				}
				if len(pairs) == 0 {
					return &vast.ValidationError{Field: "field", Message: "at least one is required"}
				}
				fields := make(vast.Record, len(pairs))
				for k, v := range pairs {
					fields[k] = jsonScalar(v)
				}
				rec, err := rc.client().SetUser(rc.ctx, fields)
				if err != nil {
					return err
				}
				return rc.done(rec, "updated %d account settings", len(fields))
			},
		},
		command{
			verb:  "set",
			noun:  "api-key",
			use:   "<key>",
			short: "Save an API key for later commands",
			long:  "Save the key to the key file (mode 0600). The file is read when neither --api-key nor VAST_API_KEY is set.",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				path, err := config.SaveAPIKey(args[0])
				if err != nil {
					return err
				}
				return rc.done(vast.Record{"success": true, "path": path}, "API key saved to %s", path)
			},
		},
		command{
			verb:  "show",
			noun:  "api-keys",
			short: "List API keys",
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().APIKeys(rc.ctx)
				if err != nil {
					return err
				}
				return rc.render(rows, apiKeyColumns)
			},
		},
		command{
			verb:  "show",
			noun:  "api-key",
			use:   "<id>",
			short: "Show one API key",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "api key id")
				if err != nil {
					return err
				}
				rec, err := rc.client().APIKey(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
		command{
			verb:  "create",
			noun:  "api-key",
			short: "Create an API key",
			example: `  vastctl create api-key --name ci
  vastctl create api-key --name readonly --permissions perms.json`,
			flags: func(fs *pflag.FlagSet) {
				fs.String("name", "", "Key name (required)")
				fs.String("permissions", "", "Permissions JSON, inline or a file path")
				fs.String("key-params", "", "Constraints JSON, inline or a file path")
			},
			run: func(rc *runContext, _ []string) error {
				perms, err := jsonArg(rc.str("permissions"), "permissions")
				if err != nil {
					return err
				}
				params, err := jsonArg(rc.str("key-params"), "key-params")
				if err != nil {
					return err
				}
				rec, err := rc.client().CreateAPIKey(rc.ctx, vast.CreateAPIKeyRequest{
					Name:        rc.str("name"),
					Permissions: perms,
					KeyParams:   params,
				})
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
		command{
			verb:  "delete",
			noun:  "api-key",
			use:   "<id>",
			short: "Delete an API key",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "api key id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DeleteAPIKey(rc.ctx, id)
				if err != nil {
					return err
				}
				logAudit(rc, "delete api key", "key_id", id)
				return rc.done(rec, "deleted API key %d", id)
			},
		},
		command{
			verb:  "reset",
			noun:  "api-key",
			short: "Replace your API key; the old one stops working",
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().ResetAPIKey(rc.ctx)
				if err != nil {
					return err
				}
				logAudit(rc, "reset api key")
				return rc.done(rec, "API key reset; run 'vastctl set api-key' with the new key")
			},
		},
		command{
			verb:  "show",
			noun:  "ssh-keys",
			short: "List account ssh keys",
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().SSHKeys(rc.ctx)
				if err != nil {
					return err
				}
				return rc.render(rows, sshKeyColumns)
			},
		},
		command{
			verb:    "create",
			noun:    "ssh-key",
			use:     "<public_key>",
			short:   "Add an ssh key to the account",
			long:    "Add an OpenSSH public key, given inline or as a path to a .pub file. New instances get every account key.",
			example: "  vastctl create ssh-key ~/.ssh/id_ed25519.pub",
			args:    cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				key, err := readArg(args[0])
				if err != nil {
					return err
				}
				rec, err := rc.client().CreateSSHKey(rc.ctx, key)
				if err != nil {
					return err
				}
				return rc.done(rec, "ssh key added")
			},
		},
		command{
			verb:  "update",
			noun:  "ssh-key",
			use:   "<id> <public_key>",
			short: "Replace an account ssh key",
			args:  cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "ssh key id")
				if err != nil {
					return err
				}
				key, err := readArg(args[1])
				if err != nil {
					return err
				}
				rec, err := rc.client().UpdateSSHKey(rc.ctx, id, key)
				if err != nil {
					return err
				}
				return rc.done(rec, "ssh key %d updated", id)
			},
		},
		command{
			verb:  "delete",
			noun:  "ssh-key",
			use:   "<id>",
			short: "Remove an account ssh key",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "ssh key id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DeleteSSHKey(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "ssh key %d deleted", id)
			},
		},
		command{
			verb:  "show",
			noun:  "env-vars",
			short: "List account environment variables",
			flags: func(fs *pflag.FlagSet) {
				fs.BoolP("show-values", "s", false, "Print values instead of masking them")
			},
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().EnvVars(rc.ctx)
				if err != nil {
					return err
				}
				if !rc.boolean("show-values") {
					for _, r := range rows {
						r["value"] = "*****"
					}
				}
				return rc.render(rows, envVarColumns)
			},
		},
		envVarCommand("create", "Add an account environment variable", (*vast.Client).CreateEnvVar),
		envVarCommand("update", "Change an account environment variable", (*vast.Client).UpdateEnvVar),
		command{
			verb:  "delete",
			noun:  "env-var",
			use:   "<name>",
			short: "Remove an account environment variable",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				rec, err := rc.client().DeleteEnvVar(rc.ctx, args[0])
				if err != nil {
					return err
				}
				return rc.done(rec, "deleted %s", args[0])
			},
		},
		listCommand("ipaddrs", "List IP addresses used by the account", (*vast.Client).IPAddrs, ipAddrColumns),
		listCommand("audit-logs", "List recent account activity", (*vast.Client).AuditLogs, auditLogColumns),
		listCommand("subaccounts", "List subaccounts", (*vast.Client).Subaccounts, subaccountColumns),
		command{
			verb:  "create",
			noun:  "subaccount",
			short: "Create a subaccount billed to this account",
			flags: func(fs *pflag.FlagSet) {
				fs.String("email", "", "Email (required)")
				fs.String("username", "", "Username (required)")
				fs.String("password", "", "Password, at least 8 characters (required)")
				fs.Bool("host-only", false, "Restrict the subaccount to hosting")
			},
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().CreateSubaccount(rc.ctx, vast.CreateSubaccountRequest{
					Email:    rc.str("email"),
					Username: rc.str("username"),
					Password: rc.str("password"),
					HostOnly: rc.boolean("host-only"),
					ParentID: "me",
				})
				if err != nil {
					return err
				}
				return rc.done(rec, "created subaccount %s", rc.str("username"))
			},
		},
		listCommand("scheduled-jobs", "List scheduled jobs", (*vast.Client).ScheduledJobs, scheduledJobColumns),
		command{
			verb:  "delete",
			noun:  "scheduled-job",
			use:   "<id>",
			short: "Delete a scheduled job",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "job id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DeleteScheduledJob(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "deleted scheduled job %d", id)
			},
		},
	)
}

// listCommand registers "show <noun>" for an endpoint with no parameters.
func listCommand(noun, short string, fetch func(*vast.Client, context.Context) ([]vast.Record, error), columns []output.Column) command {
	return command{
		verb:  "show",
		noun:  noun,
		short: short,
		run: func(rc *runContext, _ []string) error {
			rows, err := fetch(rc.client(), rc.ctx)
			if err != nil {
				return err
			}
			return rc.render(rows, columns)
		},
	}
}

func envVarCommand(verb, short string, fn func(*vast.Client, context.Context, string, string) (vast.Record, error)) command {
	return command{
		verb:  verb,
		noun:  "env-var",
		use:   "<name> <value>",
		short: short,
		args:  cobra.ExactArgs(2),
		run: func(rc *runContext, args []string) error {
			rec, err := fn(rc.client(), rc.ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return rc.done(rec, "%sd %s", verb, args[0])
		},
	}
}

// jsonArg decodes a JSON object given inline or as a file path
func jsonArg(s, what string) (vast.Record, error) {
	if s == "" {
		return nil, nil
	}
	data, err := readArg(s)
	if err != nil {
		return nil, err
	}
	var rec vast.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, &vast.ValidationError{Field: what, Message: "expected a JSON object: " + err.Error()}
	}
	return rec, nil
}

// jsonScalar keeps numbers and booleans typed when sending settings
func jsonScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
