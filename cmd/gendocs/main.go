// Command gendocs writes a markdown page per vastctl command:
//
//	go run ./cmd/gendocs -o docs/cli
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra/doc"
	"github.com/spf13/pflag"

	"github.com/vastctl/vastctl/cmd/vastctl/cmd"
)

func main() {
	dir := pflag.StringP("output", "o", "docs/cli", "Directory for the generated pages")
	pflag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	root := cmd.NewRootCmd()
	root.DisableAutoGenTag = true
	if err := doc.GenMarkdownTree(root, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote command reference to %s\n", *dir)
}
