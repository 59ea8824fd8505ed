package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "show",
			noun:  "machines",
			short: "List machines you host",
			flags: func(fs *pflag.FlagSet) {
				fs.BoolP("quiet", "q", false, "Print only machine IDs")
			},
			run: func(rc *runContext, _ []string) error {
				rows, err := rc.client().Machines(rc.ctx)
				if err != nil {
					return err
				}
				if rc.boolean("quiet") && !rc.raw {
					for _, r := range rows {
						fmt.Fprintln(rc.out, r.Int("id"))
					}
					return nil
				}
				return rc.render(rows, machineColumns)
			},
		},
		command{
			verb:  "show",
			noun:  "machine",
			use:   "<id>",
			short: "Show one hosted machine",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				rec, err := rc.client().Machine(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.detail(rec, machineColumns)
			},
		},
		command{
			verb:    "list",
			noun:    "machine",
			use:     "<id>",
			short:   "Offer a machine for rent",
			example: "  vastctl list machine 101 --price-gpu 0.45 --price-disk 0.15 --end-date 2026-12-31",
			args:    cobra.ExactArgs(1),
			flags:   listFlags,
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				req, err := listRequest(rc, id)
				if err != nil {
					return err
				}
				rec, err := rc.client().ListMachine(rc.ctx, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "listed machine %d at $%.4f/gpu/hr", id, req.PriceGPU)
			},
		},
		command{
			verb:  "list",
			noun:  "machines",
			use:   "<id> [id...]",
			short: "Offer several machines for rent with the same prices",
			args:  cobra.MinimumNArgs(1),
			flags: listFlags,
			run: func(rc *runContext, args []string) error {
				ids, err := parseIDs(args, "machine id")
				if err != nil {
					return err
				}
				// validate once before touching any machine
				if _, err := listRequest(rc, ids[0]); err != nil {
					return err
				}
				return rc.forEach(ids, "list", func(id int) (vast.Record, error) {
					req, _ := listRequest(rc, id)
					return rc.client().ListMachine(rc.ctx, req)
				})
			},
		},
		machineAction("unlist", "machine", "Stop offering a machine for rent", (*vast.Client).UnlistMachine),
		machineAction("delete", "machine", "Remove a machine with no active contracts", (*vast.Client).DeleteMachine),
		command{
			verb:  "set",
			noun:  "min-bid",
			use:   "<machine_id>",
			short: "Set the minimum price for interruptible rentals",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Float64("price", 0, "Minimum bid in $/gpu/hour")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				rec, err := rc.client().SetMinBid(rc.ctx, id, rc.float("price"))
				if err != nil {
					return err
				}
				return rc.done(rec, "min bid on machine %d set to $%.4f", id, rc.float("price"))
			},
		},
		command{
			verb:  "set",
			noun:  "defjob",
			use:   "<machine_id>",
			short: "Run a default job on idle GPUs",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Float64("price-gpu", 0, "Price per GPU hour")
				fs.Float64("price-inetu", 0, "Price per GB uploaded")
				fs.Float64("price-inetd", 0, "Price per GB downloaded")
				fs.String("image", "", "Docker image (required)")
				fs.StringArray("args", nil, "Image arguments (repeatable)")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				rec, err := rc.client().SetDefjob(rc.ctx, vast.DefjobRequest{
					MachineID:   id,
					PriceGPU:    rc.float("price-gpu"),
					PriceInetUp: rc.float("price-inetu"),
					PriceInetDn: rc.float("price-inetd"),
					Image:       rc.str("image"),
					Args:        rc.list("args"),
				})
				if err != nil {
					return err
				}
				return rc.done(rec, "default job set on machine %d", id)
			},
		},
		machineAction("remove", "defjob", "Remove the default job", (*vast.Client).RemoveDefjob),
		command{
			verb:    "schedule",
			noun:    "maint",
			use:     "<machine_id>",
			short:   "Announce a maintenance window to renters",
			example: "  vastctl schedule maint 101 --sdate 2026-11-02 --duration 4 --category gpu",
			args:    cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.String("sdate", "", "Start, YYYY-MM-DD or unix seconds (required)")
				fs.Float64("duration", 0, "Length in hours (required)")
				fs.String("category", "other", "power, internet, disk, gpu, software or other")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				start, err := parseDate(rc.str("sdate"), "sdate")
				if err != nil {
					return err
				}
				rec, err := rc.client().ScheduleMaint(rc.ctx, vast.MaintenanceRequest{
					MachineID: id,
					StartDate: epochSeconds(start),
					Duration:  rc.float("duration"),
					Category:  rc.str("category"),
				})
				if err != nil {
					return err
				}
				return rc.done(rec, "maintenance scheduled on machine %d", id)
			},
		},
		machineAction("cancel", "maint", "Cancel scheduled maintenance", (*vast.Client).CancelMaint),
		command{
			verb:  "show",
			noun:  "maints",
			short: "List scheduled maintenance windows",
			flags: func(fs *pflag.FlagSet) {
				fs.IntSlice("ids", nil, "Only these machines")
			},
			run: func(rc *runContext, _ []string) error {
				ids, _ := rc.flags.GetIntSlice("ids")
				rows, err := rc.client().Maintenances(rc.ctx, ids)
				if err != nil {
					return err
				}
				return rc.render(rows, maintenanceColumns)
			},
		},
		machineAction("cleanup", "machine", "Remove expired storage contracts", (*vast.Client).CleanupMachine),
		command{
			verb:  "defrag",
			noun:  "machines",
			use:   "<id> [id...]",
			short: "Repack GPU assignments so larger offers open up",
			args:  cobra.MinimumNArgs(1),
			run: func(rc *runContext, args []string) error {
				ids, err := parseIDs(args, "machine id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DefragMachines(rc.ctx, ids)
				if err != nil {
					return err
				}
				return rc.done(rec, "defragmented %d machines", len(ids))
			},
		},
		command{
			verb:  "reports",
			use:   "<machine_id>",
			short: "List renter reports filed against a machine",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "machine id")
				if err != nil {
					return err
				}
				rows, err := rc.client().Reports(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.render(rows, reportColumns)
			},
		},
	)
}

// machineAction registers "<verb> <noun> <machine_id>" for a single-id mutation.
func machineAction(verb, noun, short string, fn func(*vast.Client, context.Context, int) (vast.Record, error)) command {
	return command{
		verb:  verb,
		noun:  noun,
		use:   "<machine_id>",
		short: short,
		args:  cobra.ExactArgs(1),
		run: func(rc *runContext, args []string) error {
			id, err := parseID(args[0], "machine id")
			if err != nil {
				return err
			}
			rec, err := fn(rc.client(), rc.ctx, id)
			if err != nil {
				return err
			}
			return rc.done(rec, "%s %s %d: ok", verb, noun, id)
		},
	}
}

func listFlags(fs *pflag.FlagSet) {
	fs.Float64P("price-gpu", "g", 0, "Price per GPU hour")
	fs.Float64P("price-disk", "s", 0, "Price per GB of disk per month")
	fs.Float64P("price-inetu", "u", 0, "Price per GB uploaded")
	fs.Float64P("price-inetd", "d", 0, "Price per GB downloaded")
	fs.IntP("min-chunk", "m", 0, "Smallest number of GPUs rented together")
	fs.StringP("end-date", "e", "", "Offer end, YYYY-MM-DD or unix seconds")
	fs.Float64P("discount-rate", "r", 0, "Maximum prepay discount, 0 to 1")
	fs.Duration("duration", 0, "Reserved contract length, e.g. 720h")
	fs.Int("vol-size", 0, "Disk GB offered as volumes")
	fs.Float64("vol-price", 0, "Price per GB of volume per month")
}

func listRequest(rc *runContext, id int) (vast.ListMachineRequest, error) {
	end, err := parseDate(rc.str("end-date"), "end-date")
	if err != nil {
		return vast.ListMachineRequest{}, err
	}
	dur, _ := rc.flags.GetDuration("duration")
	req := vast.ListMachineRequest{
		MachineID:    id,
		PriceGPU:     rc.float("price-gpu"),
		PriceDisk:    rc.float("price-disk"),
		PriceInetUp:  rc.float("price-inetu"),
		PriceInetDn:  rc.float("price-inetd"),
		MinChunk:     rc.integer("min-chunk"),
		EndDate:      epochSeconds(end),
		DiscountRate: rc.float("discount-rate"),
		Duration:     int64(dur.Seconds()),
		VolumeSize:   rc.integer("vol-size"),
		VolumePrice:  rc.float("vol-price"),
	}
	return req, rc.client().Validate(req)
}
