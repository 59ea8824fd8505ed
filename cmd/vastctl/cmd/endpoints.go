package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		listCommand("endpoints", "List serverless endpoints", (*vast.Client).Endpoints, endpointColumns),
		command{
			verb:    "create",
			noun:    "endpoint",
			short:   "Create a serverless endpoint",
			example: "  vastctl create endpoint --name llama --max-workers 10",
			flags:   endpointFlags,
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().CreateEndpoint(rc.ctx, endpointRequest(rc))
				if err != nil {
					return err
				}
				return rc.done(rec, "created endpoint %s", rc.str("name"))
			},
		},
		command{
			verb:  "update",
			noun:  "endpoint",
			use:   "<id>",
			short: "Change an endpoint's autoscaler settings",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				endpointFlags(fs)
				fs.String("state", "", "active, suspended or stopped")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "endpoint id")
				if err != nil {
					return err
				}
				req := endpointRequest(rc)
				req.State = rc.str("state")
				rec, err := rc.client().UpdateEndpoint(rc.ctx, id, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "updated endpoint %d", id)
			},
		},
		command{
			verb:  "delete",
			noun:  "endpoint",
			use:   "<id>",
			short: "Delete an endpoint and its worker groups",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "endpoint id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DeleteEndpoint(rc.ctx, id)
				if err != nil {
					return err
				}
				logAudit(rc, "delete endpoint", "endpoint_id", id)
				return rc.done(rec, "deleted endpoint %d", id)
			},
		},
		listCommand("workergroups", "List worker groups", (*vast.Client).Workergroups, workergroupColumns),
		command{
			verb:    "create",
			noun:    "workergroup",
			short:   "Attach a worker group to an endpoint",
			example: `  vastctl create workergroup --endpoint-name llama --template 4e17788f74f075dd9aab7d0d4427968f --search "gpu_ram>=23"`,
			flags:   workergroupFlags,
			run: func(rc *runContext, _ []string) error {
				req, err := workergroupRequest(rc)
				if err != nil {
					return err
				}
				rec, err := rc.client().CreateWorkergroup(rc.ctx, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "created workergroup")
			},
		},
		command{
			verb:  "update",
			noun:  "workergroup",
			use:   "<id>",
			short: "Change a worker group's settings",
			args:  cobra.ExactArgs(1),
			flags: workergroupFlags,
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "workergroup id")
				if err != nil {
					return err
				}
				req, err := workergroupRequest(rc)
				if err != nil {
					return err
				}
				rec, err := rc.client().UpdateWorkergroup(rc.ctx, id, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "updated workergroup %d", id)
			},
		},
		command{
			verb:  "delete",
			noun:  "workergroup",
			use:   "<id>",
			short: "Delete a worker group",
			args:  cobra.ExactArgs(1),
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "workergroup id")
				if err != nil {
					return err
				}
				rec, err := rc.client().DeleteWorkergroup(rc.ctx, id)
				if err != nil {
					return err
				}
				return rc.done(rec, "deleted workergroup %d", id)
			},
		},
		command{
			verb:  "get",
			noun:  "endpt-logs",
			use:   "<name>",
			short: "Fetch autoscaler logs for an endpoint",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Int("tail", 0, "Only the last N lines")
			},
			run: func(rc *runContext, args []string) error {
				rec, err := rc.client().EndpointLogs(rc.ctx, args[0], rc.integer("tail"))
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
		command{
			verb:  "get",
			noun:  "wrkgrp-logs",
			use:   "<id>",
			short: "Fetch autoscaler logs for a worker group",
			args:  cobra.ExactArgs(1),
			flags: func(fs *pflag.FlagSet) {
				fs.Int("tail", 0, "Only the last N lines")
			},
			run: func(rc *runContext, args []string) error {
				id, err := parseID(args[0], "workergroup id")
				if err != nil {
					return err
				}
				rec, err := rc.client().WorkergroupLogs(rc.ctx, id, rc.integer("tail"))
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
	)
}

func endpointFlags(fs *pflag.FlagSet) {
	d := vast.DefaultEndpointRequest()
	fs.String("name", "", "Endpoint name")
	fs.Float64("min-load", d.MinLoad, "Minimum load the endpoint keeps capacity for")
	fs.Float64("target-util", d.TargetUtil, "Target utilization, 0 to 1")
	fs.Float64("cold-mult", d.ColdMult, "Cold capacity as a multiple of current load")
	fs.Int("cold-workers", d.ColdWorkers, "Minimum stopped workers kept ready")
	fs.Int("max-workers", d.MaxWorkers, "Maximum workers")
}

func endpointRequest(rc *runContext) vast.EndpointRequest {
	return vast.EndpointRequest{
		ClientID:    "me",
		Name:        rc.str("name"),
		MinLoad:     rc.float("min-load"),
		TargetUtil:  rc.float("target-util"),
		ColdMult:    rc.float("cold-mult"),
		ColdWorkers: rc.integer("cold-workers"),
		MaxWorkers:  rc.integer("max-workers"),
	}
}

func workergroupFlags(fs *pflag.FlagSet) {
	d := vast.DefaultWorkergroupRequest()
	fs.String("endpoint-name", "", "Endpoint to attach to")
	fs.Int("endpoint-id", 0, "Endpoint ID to attach to")
	fs.String("template", "", "Template hash")
	fs.Int("template-id", 0, "Template ID")
	fs.String("search", "", "Offer query for workers")
	fs.String("launch-args", "", "Create-instance arguments when no template is given")
	fs.Float64("gpu-ram", 0, "GPU RAM in GB the model needs")
	fs.Int("test-workers", d.TestWorkers, "Workers started to measure performance")
	fs.Int("cold-workers", d.ColdWorkers, "Minimum stopped workers kept ready")
	fs.Float64("min-load", d.MinLoad, "Minimum load")
	fs.Float64("target-util", d.TargetUtil, "Target utilization, 0 to 1")
	fs.Float64("cold-mult", d.ColdMult, "Cold capacity as a multiple of current load")
}

func workergroupRequest(rc *runContext) (vast.WorkergroupRequest, error) {
	search := rc.str("search")
	if search != "" {
		if _, err := vast.ParseQuery(search, nil, vast.OfferFields); err != nil {
			return vast.WorkergroupRequest{}, err
		}
	}
	return vast.WorkergroupRequest{
		ClientID:     "me",
		EndpointName: rc.str("endpoint-name"),
		EndpointID:   rc.integer("endpoint-id"),
		TemplateHash: rc.str("template"),
		TemplateID:   rc.integer("template-id"),
		SearchParams: search,
		LaunchArgs:   rc.str("launch-args"),
		GPURam:       rc.float("gpu-ram"),
		TestWorkers:  rc.integer("test-workers"),
		ColdWorkers:  rc.integer("cold-workers"),
		MinLoad:      rc.float("min-load"),
		TargetUtil:   rc.float("target-util"),
		ColdMult:     rc.float("cold-mult"),
	}, nil
}
