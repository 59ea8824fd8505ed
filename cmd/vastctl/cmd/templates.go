package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/pkg/vast"
)

func init() {
	register(
		command{
			verb:  "create",
			noun:  "template",
			short: "Create an instance template",
			example: `  vastctl create template --name "tgi llama" --image ghcr.io/huggingface/text-generation-inference \
      --env "-p 3000:3000 -e MODEL_ID=meta-llama/Llama-3.1-8B" --search "gpu_ram>=23 num_gpus=1" --disk 40 --ssh --direct`,
			flags: templateFlags,
			run: func(rc *runContext, _ []string) error {
				req, err := templateRequest(rc)
				if err != nil {
					return err
				}
				rec, err := rc.client().CreateTemplate(rc.ctx, req)
				if err != nil {
					return err
				}
				return rc.detail(rec, nil)
			},
		},
		command{
			verb:  "update",
			noun:  "template",
			use:   "<hash_id>",
			short: "Replace a template",
			args:  cobra.ExactArgs(1),
			flags: templateFlags,
			run: func(rc *runContext, args []string) error {
				req, err := templateRequest(rc)
				if err != nil {
					return err
				}
				req.HashID = args[0]
				rec, err := rc.client().UpdateTemplate(rc.ctx, req)
				if err != nil {
					return err
				}
				return rc.done(rec, "updated template %s", args[0])
			},
		},
		command{
			verb:  "delete",
			noun:  "template",
			short: "Delete a template by --id or --hash",
			flags: func(fs *pflag.FlagSet) {
				fs.Int("id", 0, "Template ID")
				fs.String("hash", "", "Template hash ID")
			},
			run: func(rc *runContext, _ []string) error {
				rec, err := rc.client().DeleteTemplate(rc.ctx, rc.integer("id"), rc.str("hash"))
				if err != nil {
					return err
				}
				return rc.done(rec, "template deleted")
			},
		},
	)
}

func templateFlags(fs *pflag.FlagSet) {
	fs.String("name", "", "Template name (required)")
	fs.String("image", "", "Docker image (required)")
	fs.String("image-tag", "", "Image tag")
	fs.String("env", "", "Docker options, e.g. '-e TZ=UTC -p 8080:8080'")
	fs.String("onstart", "", "Startup script, or a file containing it")
	fs.String("search", "", "Default offer query for this template")
	fs.Float64("disk", 0, "Recommended disk in GB")
	fs.Bool("ssh", false, "Launch with ssh")
	fs.Bool("jupyter", false, "Launch with jupyter")
	fs.Bool("direct", false, "Use direct connections")
	fs.Bool("jupyter-lab", false, "Use JupyterLab")
	fs.String("readme", "", "Readme text, or a file containing it")
	fs.String("desc", "", "Short description")
	fs.Bool("public", false, "Make the template visible to everyone")
	fs.String("login", "", "Registry for docker login")
}

func templateRequest(rc *runContext) (vast.TemplateRequest, error) {
	onstart, err := readArg(rc.str("onstart"))
	if err != nil {
		return vast.TemplateRequest{}, err
	}
	readme, err := readArg(rc.str("readme"))
	if err != nil {
		return vast.TemplateRequest{}, err
	}
	search := rc.str("search")
	if search != "" {
		// reject bad queries before they are stored
		if _, err := vast.ParseQuery(search, nil, vast.OfferFields); err != nil {
			return vast.TemplateRequest{}, err
		}
	}

	runtype := "args"
	switch {
	case rc.boolean("jupyter"):
		runtype = "jupyter"
	case rc.boolean("ssh"):
		runtype = "ssh"
	}
	direct := rc.boolean("direct")
	return vast.TemplateRequest{
		Name:            rc.str("name"),
		Image:           rc.str("image"),
		Tag:             rc.str("image-tag"),
		Env:             rc.str("env"),
		OnStart:         onstart,
		RunType:         runtype,
		SSHDirect:       direct && runtype == "ssh",
		JupyterDirect:   direct && runtype == "jupyter",
		UseJupyterLab:   rc.boolean("jupyter-lab"),
		SearchParams:    strings.TrimSpace(search),
		DiskSpace:       rc.float("disk"),
		Readme:          readme,
		Description:     rc.str("desc"),
		Private:         !rc.boolean("public"),
		DockerLoginRepo: rc.str("login"),
	}, nil
}
