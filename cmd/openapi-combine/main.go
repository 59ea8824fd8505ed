// Command openapi-combine merges OpenAPI YAML fragments into one document.
//
//	openapi-combine -o api.yaml specs/*.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vastctl/vastctl/internal/openapi"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:           "openapi-combine <fragment.yaml>...",
		Short:         "Merge OpenAPI YAML fragments",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := openapi.CombineFiles(args)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the combined document here instead of stdout")
	return cmd
}
