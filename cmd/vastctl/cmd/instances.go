package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:    "show",
			noun:    "instances",
			short:   "List your instances",
			example: "  vastctl show instances --raw",
			flags: func(fs *pflag.FlagSet) {
				fs.BoolP("quiet", "q", false, "Print only instance IDs")
			},
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().ListInstances(rc.ctx)
				if err != nil {
					return err
				}
				if rc.boolean("quiet") && !rc.raw {
					for _, r := range rows {
						fmt.Fprintln(rc.out, r.Int("id"))
					}
					return nil
				}
				return rc.render(rows, instanceColumns(rc.app.now()))
			},
		},
		command{
			verb:  "show",
			noun:  "instance",
			use:   "<id>",
			short: "Show one instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().GetInstance(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.detail(rec, instanceColumns(rc.app.now()))
			},
		},
		command{
			verb:  "create",
			noun:  "instance",
			use:   "<offer_id>",
			short: "Rent an offer",
			long: `Rent the offer with the given ID (from 'search offers') and start a
container on it. Either --image or --template is required.`,
			example: `  vastctl create instance 5001 --image pytorch/pytorch --disk 40 --ssh --direct
  vastctl create instance 5001 --template 4e17788f74f075dd9aab7d0d4427968f
  vastctl create instance 5001 --image nginx --args -- -g 'daemon off;'`,
			args:  cobra.MinimumNArgs(1),
			flags: createFlags,
			run:   runCreateInstance,
		},
		command{
			verb:  "destroy",
			noun:  "instance",
			use:   "<id>",
			short: "Destroy an instance; billing stops and data is lost",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DestroyInstance(rc.ctx, id)
				if err != nil {
					return err
				}
				logAudit(rc, "destroy instance", "instance_id", id)
				return rc.done(rec, "destroying instance %d", id)
			},
		},
		instanceBatch("destroy", "Destroy several instances", func(rc *runContext) func(int) (vast.Record, error) {
			return func(id int) (vast.Record, error) {
				rec, err := rc.client().DestroyInstance(rc.ctx, id)
				if err == nil {
					logAudit(rc, "destroy instance", "instance_id", id)
				}
				return rec, err
			}
		}),
		instanceAction("start", "Start a stopped instance", (*vast.Client).StartInstance),
		instanceBatch("start", "Start several instances", func(rc *runContext) func(int) (vast.Record, error) {
			return func(id int) (vast.Record, error) { return rc.client().StartInstance(rc.ctx, id) }
		}),
		instanceAction("stop", "Stop an instance; storage is still billed", (*vast.Client).StopInstance),
		instanceBatch("stop", "Stop several instances", func(rc *runContext) func(int) (vast.Record, error) {
			return func(id int) (vast.Record, error) { return rc.client().StopInstance(rc.ctx, id) }
		}),
		instanceAction("reboot", "Restart the container without losing the GPU", (*vast.Client).RebootInstance),
		instanceAction("recycle", "Recreate the container from a fresh image pull", (*vast.Client).RecycleInstance),
		command{
			verb:  "label",
			noun:  "instance",
			use:   "<id> <label>",
			short: "Set an instance's label",
			args:  cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().LabelInstance(rc.ctx, id, args[1])
				if err != nil {
					return err
				}
				return rc.done(rec, "labeled instance %d %q", id, args[1])
			},
		},
		command{
			verb:  "change",
			noun:  "bid",
			use:   "<id>",
			short: "Change the bid price of an interruptible instance",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Float64("price", 0, "New bid in $/hour (required)")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				price := rc.float("price")
				rec, err := rc.client().ChangeBid(rc.ctx, id, price)
				if err != nil {
					return err
				}
				return rc.done(rec, "bid on instance %d set to $%.4f/hr", id, price)
			},
		},
		command{
			verb:  "prepay",
			noun:  "instance",
			use:   "<id> <amount>",
			short: "Deposit credit against a reserved instance",
			args:  cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				amount, err := parseAmount(args[1], "amount")
				if err != nil {
					return err
				}
				rec, err := rc.client().PrepayInstance(rc.ctx, id, amount)
				if err != nil {
					return err
				}
				return rc.done(rec, "prepaid $%.2f on instance %d", amount, id)
			},
		},
		command{
			verb:  "update",
			noun:  "instance",
			use:   "<id>",
			short: "Apply a new template, image or startup settings",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Int("template-id", 0, "Template ID")
				fs.String("template", "", "Template hash")
				fs.String("image", "", "Docker image")
				fs.String("args", "", "Container arguments")
				fs.StringArrayP("env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
				fs.String("onstart", "", "Startup script, or a file containing it")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				env, err := parseEnv(rc.list("env"))
				if err != nil {
					return err
				}
				onstart, err := readArg(rc.str("onstart"))
				if err != nil {
					return err
				}
				rec, err := rc.client().UpdateInstance(rc.ctx, vast.UpdateInstanceRequest{
					ID:           id,
					TemplateID:   rc.integer("template-id"),
					TemplateHash: rc.str("template"),
					Image:        rc.str("image"),
					Args:         rc.str("args"),
					Env:          env,
					OnStart:      onstart,
				})
				if err != nil {
					return err
				}
				return rc.done(rec, "updating instance %d", id)
			},
		},
		command{
			verb:    "execute",
			use:     "<id> <command...>",
			short:   "Run a limited command (ls, rm, du) inside an instance",
			example: "  vastctl execute 1234 'ls -l /root'",
			args:    cobra.MinimumNArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				out, err := rc.client().Execute(rc.ctx, id, strings.Join(args[1:], " "), vast.DefaultPoll)
				if err != nil {
					return err
				}
				return rc.text("output", out)
			},
		},
		command{
			verb:  "logs",
			use:   "<id>",
			short: "Fetch an instance's container logs",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.String("tail", "", "Only the last N lines")
				fs.String("filter", "", "Only lines matching this grep pattern")
				fs.Bool("daemon-logs", false, "Fetch host daemon logs instead of container logs")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				req := vast.LogsRequest{Tail: rc.str("tail"), Filter: rc.str("filter")}
				if rc.boolean("daemon-logs") {
					req.DaemonLogs = "true"
				}
				out, err := rc.client().Logs(rc.ctx, id, req, vast.DefaultPoll)
				if err != nil {
					return err
				}
				return rc.text("logs", out)
			},
		},
		command{
			verb:  "ssh-url",
			use:   "<id>",
			short: "Print the ssh:// URL of an instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				u, err := rc.client().SSHURL(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.text("url", u)
			},
		},
		command{
			verb:  "scp-url",
			use:   "<id>",
			short: "Print the scp:// URL of an instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				u, err := rc.client().SCPURL(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.text("url", u)
			},
		},
		command{
			verb:    "attach",
			noun:    "ssh",
			use:     "<id> <public_key>",
			short:   "Add a public key to an instance",
			long:    "Add an OpenSSH public key, given inline or as a path to a .pub file.",
			example: "  vastctl attach ssh 1234 ~/.ssh/id_ed25519.pub",
			args:    cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				key, err := readArg(args[1])
				if err != nil {
					return err
				}
				rec, err := rc.client().AttachSSH(rc.ctx, id, key)
				if err != nil {
					return err
				}
				return rc.done(rec, "attached ssh key to instance %d", id)
			},
		},
		command{
			verb:  "detach",
			noun:  "ssh",
			use:   "<id> <key_id>",
			short: "Remove a key from an instance",
			args:  cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DetachSSH(rc.ctx, id, args[1])
				if err != nil {
					return err
				}
				return rc.done(rec, "detached ssh key %s from instance %d", args[1], id)
			},
		},
	)
}

// instanceAction registers "<verb> instance <id>" for a single-id mutation.
func instanceAction(verb, short string, fn func(*vast.Client, context.Context, int) (vast.Record, error)) command {
	return command{
		verb:  verb,
		noun:  "instance",
		use:   "<id>",
		short: short,
		args:  cobra.ExactArgs(1),
		run: func(rc *runContext, args []string) error {
			id, err := parseID(args[0], "instance id")
			if err != nil {
				return err
			}
			rec, err := fn(rc.client(), rc.ctx, id)
			if err != nil {
				return err
			}
			return rc.done(rec, "%s instance %d: ok", verb, id)
		},
	}
}

// instanceBatch registers "<verb> instances <ids..>". Every id is attempted.
func instanceBatch(verb, short string, op func(*runContext) func(int) (vast.Record, error)) command {
	return command{
		verb:    verb,
		noun:    "instances",
		use:     "<id> [id...]",
		short:   short,
		example: fmt.Sprintf("  vastctl %s instances 1234 1235 1236", verb),
		args:    cobra.MinimumNArgs(1),
		run: func(rc *runContext, args []string) error {
			ids, err := parseIDs(args, "instance id")
			if err != nil {
				return err
			}
			return rc.forEach(ids, verb, op(rc))
		},
	}
}

// createFlags declares the container settings shared by create and launch.
func createFlags(fs *pflag.FlagSet) {
	fs.String("image", "", "Docker image")
	fs.String("template", "", "Template hash to create from")
	fs.String("login", "", "Registry login: '-u user -p token registry'")
	fs.Float64("disk", 10, "Disk in GB")
	fs.Float64("price", 0, "Bid in $/hour for an interruptible instance")
	fs.String("label", "", "Instance label")
	fs.StringArrayP("env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	fs.String("env-flags", "", "Extra docker flags, e.g. '-p 8080:8080'")
	fs.String("onstart", "", "Startup script, or a file containing it")
	fs.Bool("ssh", false, "Launch with ssh access")
	fs.Bool("jupyter", false, "Launch with jupyter")
	fs.Bool("direct", false, "Use direct connections instead of the proxy")
	fs.Bool("args", false, "Run the image entrypoint with the remaining arguments")
	fs.Bool("jupyter-lab", false, "Use JupyterLab instead of notebook")
	fs.String("jupyter-dir", "", "Directory jupyter serves")
	fs.Bool("force", false, "Skip sanity checks on the offer")
	fs.Bool("cancel-unavail", false, "Fail instead of waiting when the offer is unavailable")
}

// runType maps the --ssh/--jupyter/--direct/--args switches to a runtype.
// With none given the container is reachable over the ssh proxy.
func runType(rc *runContext) (string, error) {
	sshOn, jupyter, direct, argsOn := rc.boolean("ssh"), rc.boolean("jupyter"), rc.boolean("direct"), rc.boolean("args")
	switch {
	case argsOn && (sshOn || jupyter):
		return "", &vast.ValidationError{Field: "args", Message: "cannot be combined with --ssh or --jupyter"}
	case argsOn:
		return "args", nil
	case jupyter && direct:
		return "jupyter_direct", nil
	case jupyter:
		return "jupyter_proxy", nil
	case direct:
		return "ssh_direct", nil
	default:
		return "ssh_proxy", nil
	}
}

func createRequest(rc *runContext) (vast.CreateInstanceRequest, error) {
	env, err := parseEnv(rc.list("env"))
	if err != nil {
		return vast.CreateInstanceRequest{}, err
	}
	onstart, err := readArg(rc.str("onstart"))
	if err != nil {
		return vast.CreateInstanceRequest{}, err
	}
	rt, err := runType(rc)
	if err != nil {
		return vast.CreateInstanceRequest{}, err
	}
	return vast.CreateInstanceRequest{
		Image:         rc.str("image"),
		TemplateHash:  rc.str("template"),
		ImageLogin:    rc.str("login"),
		Disk:          rc.float("disk"),
		Price:         rc.float("price"),
		Label:         rc.str("label"),
		Env:           env,
		ExtraEnvFlags: rc.str("env-flags"),
		OnStart:       onstart,
		RunType:       rt,
		UseJupyterLab: rc.boolean("jupyter-lab"),
		JupyterDir:    rc.str("jupyter-dir"),
		Force:         rc.boolean("force"),
		CancelUnavail: rc.boolean("cancel-unavail"),
	}, nil
}

func runCreateInstance(rc *runContext, args []string) error {
	offerID, err := parseID(args[0], "offer id")
	if err != nil {
		return err
	}
	req, err := createRequest(rc)
	if err != nil {
		return err
	}
	if req.RunType == "args" {
		req.Args = args[1:]
	} else if len(args) > 1 {
		return &vast.ValidationError{Field: "args", Message: "extra arguments need --args"}
	}
	resp, err := rc.client().CreateInstance(rc.ctx, offerID, req)
	if err != nil {
		return err
	}
	return created(rc, offerID, resp)
}

func created(rc *runContext, offerID int, resp *vast.CreateInstanceResponse) error {
	logAudit(rc, "create instance", "offer_id", offerID, "instance_id", resp.NewContract)
	return rc.done(vast.Record{"success": resp.Success, "new_contract": resp.NewContract},
		"started instance %d on offer %d", resp.NewContract, offerID)
}
