package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"soloader/internal/app"
	"soloader/internal/types"
)

type loadOptions struct {
	Arch           string
	BasePackage    string
	AssetsDir      string
	Splits         []string
	SplitPaths     map[string]string
	CacheDir       string
	BackupBundle   string
	BackupCacheDir string
	Lazy           bool
	ThreadPolicy   string
}

func newLoadCommand() *cobra.Command {
	opts := loadOptions{}
	cmd := &cobra.Command{
		Use:   "load <library>",
		Short: "Resolve and load a library through the configured sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.Arch, "arch", "", "ABI tag to serve")
	cmd.Flags().StringVar(&opts.BasePackage, "base-package", "", "Application base package path")
	cmd.Flags().StringVar(&opts.AssetsDir, "assets", "", "Side-channel assets directory")
	cmd.Flags().StringSliceVar(&opts.Splits, "split", nil, "Split name(s) to serve directly, in priority order")
	cmd.Flags().StringToStringVar(&opts.SplitPaths, "split-path", nil, "Split name to bundle path mapping")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Unpack cache directory")
	cmd.Flags().StringVar(&opts.BackupBundle, "backup-bundle", "", "Backup bundle path")
	cmd.Flags().StringVar(&opts.BackupCacheDir, "backup-cache-dir", "", "Backup unpack cache directory")
	cmd.Flags().BoolVar(&opts.Lazy, "lazy", false, "Request lazy symbol binding")
	cmd.Flags().StringVar(&opts.ThreadPolicy, "thread-policy", "", "Advisory thread policy token")

	_ = viper.BindPFlag("arch", cmd.Flags().Lookup("arch"))
	_ = viper.BindPFlag("base_package", cmd.Flags().Lookup("base-package"))
	_ = viper.BindPFlag("assets", cmd.Flags().Lookup("assets"))
	_ = viper.BindPFlag("splits", cmd.Flags().Lookup("split"))
	_ = viper.BindPFlag("split_paths", cmd.Flags().Lookup("split-path"))
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("backup_bundle", cmd.Flags().Lookup("backup-bundle"))
	_ = viper.BindPFlag("backup_cache_dir", cmd.Flags().Lookup("backup-cache-dir"))
	_ = viper.BindPFlag("lazy", cmd.Flags().Lookup("lazy"))
	_ = viper.BindPFlag("thread_policy", cmd.Flags().Lookup("thread-policy"))

	return cmd
}

// loadConfig merges flag values with their viper-bound counterparts
// (environment, config file); a flag set on the command line wins.
func loadConfig(cmd *cobra.Command, opts loadOptions) app.Config {
	return app.Config{
		Arch:           resolveString(cmd, opts.Arch, "arch", "arch"),
		BasePackage:    resolveString(cmd, opts.BasePackage, "base_package", "base-package"),
		SplitPaths:     resolveStringMap(cmd, opts.SplitPaths, "split_paths", "split-path"),
		AssetsDir:      resolveString(cmd, opts.AssetsDir, "assets", "assets"),
		Splits:         resolveStrings(cmd, opts.Splits, "splits", "split"),
		CacheDir:       resolveString(cmd, opts.CacheDir, "cache_dir", "cache-dir"),
		BackupBundle:   resolveString(cmd, opts.BackupBundle, "backup_bundle", "backup-bundle"),
		BackupCacheDir: resolveString(cmd, opts.BackupCacheDir, "backup_cache_dir", "backup-cache-dir"),
	}
}

func runLoad(cmd *cobra.Command, library string, opts loadOptions) error {
	ctx := cmd.Context()
	service := app.NewService(ctx, loadConfig(cmd, opts))
	if err := service.Prepare(ctx); err != nil {
		return err
	}

	flags := types.LoadFlagNone
	if resolveBool(cmd, opts.Lazy, "lazy", "lazy") {
		flags |= types.LoadFlagLazy
	}
	policy := types.ThreadPolicy(resolveString(cmd, opts.ThreadPolicy, "thread_policy", "thread-policy"))
	if err := service.Load(ctx, library, flags, policy); err != nil {
		return err
	}

	path, err := service.LibraryPath(library)
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %s from %s\n", library, path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", library)
	}
	return nil
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringSlice(key)
}

func resolveStringMap(cmd *cobra.Command, values map[string]string, key string, flagName string) map[string]string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringMapString(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringMapString(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
