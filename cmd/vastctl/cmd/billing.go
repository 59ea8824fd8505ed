package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:    "show",
			noun:    "invoices",
			short:   "Show invoices and the current balance",
			example: "  vastctl show invoices --start 2026-01-01 --end 2026-02-01 --charges",
			flags: func(fs *pflag.FlagSet) {
				fs.StringP("start", "s", "", "Start date, YYYY-MM-DD or unix seconds")
				fs.StringP("end", "e", "", "End date, YYYY-MM-DD or unix seconds")
				fs.BoolP("charges", "c", false, "Include charges, not just payments")
			},
			run: func(rc *runContext, _ []string) error {
				start, err := parseDate(rc.str("start"), "start")
				if err != nil {
					return err
				}
				end, err := parseDate(rc.str("end"), "end")
				if err != nil {
					return err
				}
				rows, current, err := rc.client().Invoices(rc.ctx, vast.InvoiceRange{
					Start:  epochSeconds(start),
					End:    epochSeconds(end),
					Charge: rc.boolean("charges"),
				})
				if err != nil {
					return err
				}
				if rc.raw {
					return rc.detail(vast.Record{"invoices": rows, "current": current}, nil)
				}
				if err := rc.render(rows, invoiceColumns); err != nil {
					return err
				}
				if len(current) > 0 {
					fmt.Fprintf(rc.out, "\nCurrent: charges $%.2f, credit $%.2f\n", current.Float("charges"), current.Float("credit"))
				}
				return nil
			},
		},
		command{
			verb:  "show",
			noun:  "earnings",
			short: "Show hosting earnings",
			flags: func(fs *pflag.FlagSet) {
				fs.StringP("start", "s", "", "Start date, YYYY-MM-DD or unix seconds")
				fs.StringP("end", "e", "", "End date, YYYY-MM-DD or unix seconds")
				fs.IntP("machine", "m", 0, "Only this machine")
			},
			run: func(rc *runContext, _ []string) error {
				start, err := parseDate(rc.str("start"), "start")
				if err != nil {
					return err
				}
				end, err := parseDate(rc.str("end"), "end")
				if err != nil {
					return err
				}
				rec, err := rc.client().Earnings(rc.ctx, dayNumber(start), dayNumber(end), rc.integer("machine"))
				if err != nil {
					return err
				}
				if rc.raw {
					return rc.detail(rec, nil)
				}
				var earnings struct {
					PerMachine []vast.Record `json:"per_machine"`
					Summary    vast.Record   `json:"summary"`
				}
				if err := rec.Decode(&earnings); err != nil {
					return fmt.Errorf("%w: %v", vast.ErrDecode, err)
				}
				if err := rc.render(earnings.PerMachine, earningsColumns); err != nil {
					return err
				}
				if len(earnings.Summary) > 0 {
					fmt.Fprintln(rc.out)
					return rc.detail(earnings.Summary, nil)
				}
				return nil
			},
		},
		command{
			verb:  "show",
			noun:  "deposit",
			use:   "<instance_id>",
			short: "Show the reserve deposit of an instance",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "instance id")
				if err != nil {
					return err
				}
				rec, err := rc.client().Deposit(rc.ctx, id)
				if err != nil {
					return err
				}
				rec["instance_id"] = id
				return rc.detail(rec, depositColumns)
			},
		},
		command{
			verb:    "transfer",
			noun:    "credit",
			use:     "<recipient> <amount>",
			short:   "Send account credit to another user by email or id",
			example: "  vastctl transfer credit team@example.com 25",
			args:    cobra.ExactArgs(2),
			run: func(rc *runContext, args []string) error {
				amount, err := parseAmount(args[1], "amount")
				if err != nil {
					return err
				}
				rec, err := rc.client().TransferCredit(rc.ctx, args[0], amount)
				if err != nil {
					return err
				}
				logAudit(rc, "transfer credit", "recipient", args[0], "amount", amount)
				return rc.done(rec, "sent $%.2f to %s", amount, args[0])
			},
		},
	)
}

// parseDate accepts YYYY-MM-DD (UTC) or unix seconds. Empty is the zero time.
func parseDate(s, what string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, &vast.ValidationError{Field: what, Message: fmt.Sprintf("%q is not YYYY-MM-DD or unix seconds", s)}
}

func epochSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// dayNumber counts days since the unix epoch; zero time maps to 0
func dayNumber(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(t.Unix() / 86400)
}
