package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

const searchHelp = `Query syntax is a space separated list of "field op value" clauses.

Operators: = == eq, != neq noteq, > gt, >= gte, < lt, <= lte, in, notin nin
Values:    numbers, true/false, None, [a,b] lists for in/notin. Underscores
           in a value become spaces, so RTX_4090 matches "RTX 4090".
Wildcards: field=any (or * or ?) removes a default filter.

gpu_ram and cpu_ram are given in GB; duration is given in days.`

func init() {
	register(
		command{
			verb:  "search",
			noun:  "offers",
			use:   "[query...]",
			short: "Search rentable GPU offers",
			long: `Search offers on the marketplace. Unless --no-default is given the
query starts from verified=true external=false rentable=true rented=false.

` + searchHelp,
			example: `  vastctl search offers 'gpu_name=RTX_4090 num_gpus>=2'
  vastctl search offers 'reliability>0.99 dph<1' --order dph_total --limit 10
  vastctl search offers 'verified=any' --type bid`,
			args: cobra.ArbitraryArgs,
			flags: func(fs *pflag.FlagSet) {
				searchFlags(fs)
				fs.String("type", vast.OfferOnDemand, "Offer type: on-demand, bid or reserved")
				fs.Float64("storage", 5, "Disk in GB used to price the offers")
			},
			run: runSearchOffers,
		},
		command{
			verb:    "search",
			noun:    "templates",
			use:     "[query...]",
			short:   "Search instance templates",
			long:    "Search public and owned templates.\n\n" + searchHelp,
			example: `  vastctl search templates 'name=pytorch'`,
			args:    cobra.ArbitraryArgs,
			run: func(rc *runContext, args []string) error {
				q, err := vast.ParseQuery(strings.Join(args, " "), nil, nil)
				if err != nil {
					return err
				}
				rows, err := rc.client().SearchTemplates(rc.ctx, q)
				if err != nil {
					return err
				}
				return rc.render(rows, templateColumns)
			},
		},
		command{
			verb:  "search",
			noun:  "benchmarks",
			use:   "[query...]",
			short: "Search machine benchmark results",
			long:  "Search published benchmark results.\n\n" + searchHelp,
			args:  cobra.ArbitraryArgs,
			run: func(rc *runContext, args []string) error {
				q, err := vast.ParseQuery(strings.Join(args, " "), nil, nil)
				if err != nil {
					return err
				}
				rows, err := rc.client().SearchBenchmarks(rc.ctx, q)
				if err != nil {
					return err
				}
				return rc.render(rows, benchmarkColumns)
			},
		},
		command{
			verb:  "search",
			noun:  "invoices",
			use:   "[query...]",
			short: "Search invoices",
			long:  "Search account invoices.\n\n" + searchHelp,
			args:  cobra.ArbitraryArgs,
			run: func(rc *runContext, args []string) error {
				q, err := vast.ParseQuery(strings.Join(args, " "), nil, nil)
				if err != nil {
					return err
				}
				rows, err := rc.client().SearchInvoices(rc.ctx, q)
				if err != nil {
					return err
				}
				return rc.render(rows, invoiceColumns)
			},
		},
		command{
			verb:  "launch",
			noun:  "instance",
			short: "Rent the best offer matching GPU, count and region",
			long: `Search offers with the given GPU model, GPU count and region, then rent
the first result in --order.`,
			example: `  vastctl launch instance -g RTX_4090 -n 2 --image pytorch/pytorch --disk 40
  vastctl launch instance -g H100_SXM -n 8 -r North_America --image vllm/vllm-openai`,
			flags: func(fs *pflag.FlagSet) {
				fs.StringP("gpu-name", "g", "", "GPU model, underscores for spaces (required)")
				fs.IntP("num-gpus", "n", 1, "Number of GPUs")
				fs.StringP("region", "r", "", "Geolocation, or comma separated list of country codes")
				fs.String("order", "score-", "Ranking of candidate offers; '-' suffix sorts descending")
				fs.String("query", "", "Extra search clauses")
				createFlags(fs)
			},
			run: runLaunchInstance,
		},
	)
}

func searchFlags(fs *pflag.FlagSet) {
	fs.StringP("order", "o", "score-", "Comma separated sort fields; '-' suffix sorts descending")
	fs.Int("limit", 0, "Maximum number of results")
	fs.BoolP("no-default", "n", false, "Do not apply the default offer filters")
}

func offerQuery(rc *runContext, input string) (vast.Query, error) {
	var base vast.Query
	if !rc.boolean("no-default") {
		base = vast.DefaultOfferQuery()
	}
	return vast.ParseQuery(input, base, vast.OfferFields)
}

func runSearchOffers(rc *runContext, args []string) error {
	q, err := offerQuery(rc, strings.Join(args, " "))
	if err != nil {
		return err
	}
	rows, err := rc.client().SearchOffers(rc.ctx, q, vast.SearchOptions{
		Type:    rc.str("type"),
		Order:   vast.ParseOrder(rc.str("order")),
		Limit:   rc.integer("limit"),
		Storage: rc.float("storage"),
	})
	if err != nil {
		return err
	}
	return rc.render(rows, offerColumns)
}

func runLaunchInstance(rc *runContext, _ []string) error {
	gpu := rc.str("gpu-name")
	if gpu == "" {
		return &vast.ValidationError{Field: "gpu-name", Message: "is required"}
	}
	n := rc.integer("num-gpus")
	if n <= 0 {
		return &vast.ValidationError{Field: "num-gpus", Message: "must be positive"}
	}

	clauses := []string{fmt.Sprintf("gpu_name=%s", gpu), fmt.Sprintf("num_gpus=%d", n)}
	if region := rc.str("region"); region != "" {
		if strings.Contains(region, ",") {
			clauses = append(clauses, fmt.Sprintf("geolocation in [%s]", region))
		} else {
			clauses = append(clauses, fmt.Sprintf("geolocation=%s", region))
		}
	}
	if extra := rc.str("query"); extra != "" {
		clauses = append(clauses, extra)
	}
	q, err := vast.ParseQuery(strings.Join(clauses, " "), vast.DefaultOfferQuery(), vast.OfferFields)
	if err != nil {
		return err
	}

	req, err := createRequest(rc)
	if err != nil {
		return err
	}
	if err := rc.client().Validate(req); err != nil {
		return err
	}

	offers, err := rc.client().SearchOffers(rc.ctx, q, vast.SearchOptions{
		Order:   vast.ParseOrder(rc.str("order")),
		Storage: req.Disk,
	})
	if err != nil {
		return err
	}
	if len(offers) == 0 {
		return fmt.Errorf("no offers match gpu_name=%s num_gpus=%d", gpu, n)
	}
	offerID := offers[0].Int("id")
	rc.app.logger.Info("launching on offer", "offer_id", offerID, "dph_total", offers[0].Float("dph_total"))

	resp, err := rc.client().CreateInstance(rc.ctx, offerID, req)
	if err != nil {
		return err
	}
	return created(rc, offerID, resp)
}
