package app

import (
	"context"

	assert "github.com/ZanzyTHEbar/assert-lib"

	"soloader/internal/adapters"
	"soloader/internal/core"
	"soloader/internal/policies"
	"soloader/internal/ports"
	"soloader/internal/types"
)

// Config describes one process-wide loader setup, constructed once at
// initialization and immutable afterward.
type Config struct {
	// Arch is the ABI tag selecting which library variants to serve.
	Arch string
	// BasePackage is the application's root package file path.
	BasePackage string
	// SplitPaths maps split names to their bundle paths.
	SplitPaths map[string]string
	// AssetsDir holds side-channel assets, including split manifests.
	AssetsDir string
	// Splits lists the split names served directly from their bundles,
	// in priority order.
	Splits []string
	// CacheDir enables an unpack-cache source over the base package
	// when non-empty.
	CacheDir string
	// BackupBundle and BackupCacheDir enable a backup unpack-cache
	// source when both are non-empty.
	BackupBundle   string
	BackupCacheDir string
}

// Service owns the orchestrator and its collaborators for the lifetime
// of the process.
type Service struct {
	Loader   *core.LoaderCore
	AppInfo  ports.AppInfoPort
	Registry *core.Registry
}

// NewService wires sources and the recovery chain from config using the
// default platform adapters.
func NewService(ctx context.Context, cfg Config) *Service {
	return NewServiceWith(ctx, cfg, adapters.NewDlopenLoaderAdapter())
}

// NewServiceWith is NewService with an explicit platform loader, which
// is what hosts with their own loading entry point (and tests) use.
func NewServiceWith(ctx context.Context, cfg Config, nativeLoader ports.NativeLoaderPort) *Service {
	assert.NotEmpty(ctx, cfg.Arch, "config arch must be set")

	appInfo := adapters.NewStaticAppInfoAdapter(cfg.BasePackage, cfg.SplitPaths)
	assets := adapters.NewDirAssetsAdapter(cfg.AssetsDir)
	registry := core.NewRegistry()

	var sources []ports.SourcePort
	for _, split := range cfg.Splits {
		sources = append(sources, adapters.NewDirectSplitSource(split, appInfo, assets, nativeLoader, registry))
	}
	if cfg.CacheDir != "" {
		bundle := adapters.NewSplitBundle("base", appInfo)
		sources = append(sources, adapters.NewUnpackingSource(bundle, cfg.Arch, cfg.CacheDir, nativeLoader, registry))
	}
	if cfg.BackupBundle != "" && cfg.BackupCacheDir != "" {
		bundle := adapters.NewArchiveBundle(cfg.BackupBundle)
		sources = append(sources, adapters.NewBackupUnpackingSource(bundle, cfg.Arch, cfg.BackupCacheDir, nativeLoader, registry))
	}

	recovery := []ports.RecoveryPort{
		policies.NewBasePackagePolicy(appInfo, policies.NewPathHistory(0)),
		policies.NewReunpackPolicy(),
	}

	return &Service{
		Loader:   core.NewLoaderCore(sources, recovery, registry),
		AppInfo:  appInfo,
		Registry: registry,
	}
}

// Prepare prepares every configured source.
func (s *Service) Prepare(ctx context.Context) error {
	return s.Loader.Prepare(ctx, false)
}

// Load resolves and loads name through the configured sources.
func (s *Service) Load(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	return s.Loader.Load(ctx, name, flags, policy)
}

// LibraryPath reports where name would be loaded from.
func (s *Service) LibraryPath(name string) (string, error) {
	return s.Loader.LibraryPath(name)
}
