package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soloader/internal/adapters"
	"soloader/internal/core"
)

type depsOptions struct {
	Bundle string
	Abi    string
}

func newDepsCommand() *cobra.Command {
	opts := depsOptions{}
	cmd := &cobra.Command{
		Use:   "deps <library>",
		Short: "List the libraries a shared object directly requires",
		Long: "Reads the minimal binary header of a shared object, either a plain file\n" +
			"or an entry addressed inside a bundle with --bundle/--abi, and prints the\n" +
			"names it directly requires.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "Read the library out of this bundle archive")
	cmd.Flags().StringVar(&opts.Abi, "abi", "", "ABI directory inside the bundle")
	return cmd
}

func runDeps(cmd *cobra.Command, library string, opts depsOptions) error {
	deps, err := extractDeps(library, opts)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		fmt.Fprintln(cmd.OutOrStdout(), dep)
	}
	return nil
}

func extractDeps(library string, opts depsOptions) ([]string, error) {
	if opts.Bundle != "" {
		bundle := adapters.NewArchiveBundle(opts.Bundle)
		entry, err := bundle.OpenEntry(opts.Abi, library)
		if err != nil {
			return nil, err
		}
		defer entry.Close()
		return core.ExtractDependencies(entry)
	}

	f, err := os.Open(library)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return core.ExtractDependencies(f)
}
