package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"soloader/internal/adapters"
)

type inspectOptions struct {
	Abi      string
	Manifest string
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <bundle>",
		Short: "List the library entries of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.Abi, "abi", "", "ABI directory inside the bundle")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "Side-channel manifest file to cross-check")
	_ = viper.BindPFlag("abi", cmd.Flags().Lookup("abi"))
	_ = viper.BindPFlag("manifest", cmd.Flags().Lookup("manifest"))
	return cmd
}

func runInspect(cmd *cobra.Command, bundlePath string, opts inspectOptions) error {
	abi := resolveString(cmd, opts.Abi, "abi", "abi")
	manifestPath := resolveString(cmd, opts.Manifest, "manifest", "manifest")

	bundle := adapters.NewArchiveBundle(bundlePath)
	names, err := bundle.Entries(abi)
	if err != nil {
		return err
	}
	for _, name := range names {
		entryPath, err := bundle.EntryPath(abi, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), entryPath)
	}

	if manifestPath == "" {
		return nil
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	manifest, err := adapters.ParseManifest(cmd.Context(), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "manifest: arch=%s libs=%d\n", manifest.Arch, len(manifest.Names))
	for _, name := range manifest.Names {
		lib, _ := manifest.Lookup(name)
		if lib.DepsKnown {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s deps=%v\n", name, lib.Deps)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s deps=dynamic\n", name)
		}
	}
	return nil
}
