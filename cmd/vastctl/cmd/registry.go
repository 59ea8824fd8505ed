package cmd

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// command declares one leaf of the CLI. Leaves with a noun hang under a
// verb group ("show instances"); leaves without one sit at the top level
// ("logs <id>").
type command struct {
	verb    string
	noun    string
	use     string // positional args shown in usage, e.g. "<id>"
	aliases []string
	short   string
	long    string
	example string
	args    cobra.PositionalArgs
	flags   func(*pflag.FlagSet)
	run     func(*runContext, []string) error
}

func (c command) path() string {
	if c.noun == "" {
		return c.verb
	}
	return c.verb + " " + c.noun
}

func (c command) usage() string {
	name := c.noun
	if name == "" {
		name = c.verb
	}
	if c.use == "" {
		return name
	}
	return name + " " + c.use
}

var registry []command

func register(cmds ...command) {
	registry = append(registry, cmds...)
}

// verbShort describes the verb groups
var verbShort = map[string]string{
	"attach":    "Attach resources to instances",
	"cancel":    "Cancel running transfers and maintenance",
	"change":    "Change instance bids",
	"cleanup":   "Clean up machines",
	"cloud":     "Copy between instances and cloud storage",
	"config":    "Inspect CLI configuration",
	"create":    "Create resources",
	"defrag":    "Defragment machine offers",
	"delete":    "Delete resources",
	"destroy":   "Destroy resources",
	"detach":    "Detach resources from instances",
	"get":       "Fetch logs",
	"invite":    "Invite team members",
	"label":     "Label instances",
	"launch":    "Search and rent in one step",
	"list":      "List machines for rent",
	"prepay":    "Prepay instances",
	"reboot":    "Reboot instances",
	"recycle":   "Recycle instances",
	"remove":    "Remove resources",
	"reset":     "Reset credentials",
	"schedule":  "Schedule machine maintenance",
	"search":    "Search offers, templates, benchmarks and invoices",
	"self-test": "Rent, inspect and destroy machines to verify them",
	"set":       "Set account and machine settings",
	"show":      "Show resources",
	"start":     "Start instances",
	"stop":      "Stop instances",
	"transfer":  "Transfer account credit",
	"unlist":    "Unlist machines",
	"update":    "Update resources",
}

// buildTree attaches every registered command to root. Each call builds
// fresh cobra commands, so trees never share flag state.
func buildTree(root *cobra.Command, a *app) {
	groups := map[string]*cobra.Command{}

	cmds := make([]command, len(registry))
	copy(cmds, registry)
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].path() < cmds[j].path() })

	// sorting puts a bare verb ahead of its nouns, so "update" is created as
	// a runnable leaf before "update instance" is added beneath it
	for _, c := range cmds {
		leaf := a.leaf(c)
		if c.noun == "" {
			groups[c.verb] = leaf
			root.AddCommand(leaf)
			continue
		}

		group, ok := groups[c.verb]
		if !ok {
			group = &cobra.Command{
				Use:   c.verb,
				Short: verbShort[c.verb],
			}
			groups[c.verb] = group
			root.AddCommand(group)
		}
		group.AddCommand(leaf)
	}
}

func (a *app) leaf(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     c.usage(),
		Aliases: c.aliases,
		Short:   c.short,
		Long:    strings.TrimSpace(c.long),
		Example: strings.TrimRight(c.example, "\n"),
		Args:    c.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.newRunContext(cmd, c.path())
			if err != nil {
				return err
			}
			return a.finish(c.run(rc, args))
		},
	}
	if cmd.Args == nil {
		cmd.Args = cobra.NoArgs
	}
	if c.flags != nil {
		c.flags(cmd.Flags())
	}
	return cmd
}
