package adapters

import (
	"context"
	"io"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"soloader/internal/core"
	"soloader/internal/ports"
	"soloader/internal/types"
)

const manifestAssetSuffix = ".soloader-manifest"

// DirectSplitSource serves libraries straight out of a split bundle
// without unpacking them. Its manifest comes from the platform's
// bundled-resource side channel; library bytes are read through the
// archive entry accessor.
type DirectSplitSource struct {
	splitName string
	bundle    Bundle
	assets    ports.AssetsPort
	loader    ports.NativeLoaderPort
	registry  *core.Registry

	mu       sync.Mutex
	manifest *types.SourceManifest
}

func NewDirectSplitSource(splitName string, appInfo ports.AppInfoPort, assets ports.AssetsPort, loader ports.NativeLoaderPort, registry *core.Registry) *DirectSplitSource {
	return &DirectSplitSource{
		splitName: splitName,
		bundle:    NewSplitBundle(splitName, appInfo),
		assets:    assets,
		loader:    loader,
		registry:  registry,
	}
}

func (s *DirectSplitSource) Name() string {
	return "DirectSplitSource(" + s.splitName + ")"
}

// Prepare reads the split's manifest from the assets side channel.
// Repeated preparation without forceRefresh is a no-op; with
// forceRefresh the new manifest atomically replaces the old one.
func (s *DirectSplitSource) Prepare(ctx context.Context, forceRefresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil && !forceRefresh {
		return nil
	}

	rc, err := s.assets.OpenAsset(s.splitName + manifestAssetSuffix)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read manifest asset for split " + s.splitName).
			WithCause(err)
	}
	manifest, err := ParseManifest(ctx, data)
	if err != nil {
		return err
	}

	s.manifest = manifest
	log.Ctx(ctx).Debug().
		Str("source", s.Name()).
		Str("arch", manifest.Arch).
		Int("libs", len(manifest.Names)).
		Msg("prepared")
	return nil
}

func (s *DirectSplitSource) snapshot(op string) (*types.SourceManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return nil, types.NewStateError(s.Name(), op)
	}
	return s.manifest, nil
}

// State reports the source lifecycle phase.
func (s *DirectSplitSource) State() types.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return types.SourceStateUnprepared
	}
	return types.SourceStatePrepared
}

func (s *DirectSplitSource) LoadLibrary(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) (types.LoadResult, error) {
	manifest, err := s.snapshot("loadLibrary")
	if err != nil {
		return "", err
	}
	lib, ok := manifest.Lookup(name)
	if !ok {
		return types.LoadResultNotFound, nil
	}

	visiting := map[string]struct{}{name: {}}
	if err := s.walker(manifest, name).loadWithDeps(ctx, lib, flags, policy, visiting); err != nil {
		return "", err
	}
	return types.LoadResultLoaded, nil
}

func (s *DirectSplitSource) walker(manifest *types.SourceManifest, owner string) depWalker {
	return depWalker{
		sourceName: s.Name(),
		owner:      owner,
		registry:   s.registry,
		resolve:    manifest.Lookup,
		discover: func(ctx context.Context, name string) ([]string, error) {
			return s.discoverDependencies(manifest.Arch, name)
		},
		load: func(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
			path, err := s.bundle.EntryPath(manifest.Arch, name)
			if err != nil {
				return err
			}
			return invokeLoader(ctx, s.loader, name, path, flags, policy)
		},
	}
}

// discoverDependencies parses the library's binary header directly out
// of the archive entry, without extracting the file.
func (s *DirectSplitSource) discoverDependencies(arch, name string) ([]string, error) {
	entry, err := s.bundle.OpenEntry(arch, name)
	if err != nil {
		return nil, err
	}
	defer entry.Close()
	return core.ExtractDependencies(entry)
}

func (s *DirectSplitSource) LibraryPath(name string) (string, bool, error) {
	manifest, err := s.snapshot("getLibraryPath")
	if err != nil {
		return "", false, err
	}
	if _, ok := manifest.Lookup(name); !ok {
		return "", false, nil
	}
	path, err := s.bundle.EntryPath(manifest.Arch, name)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (s *DirectSplitSource) LibraryDependencies(ctx context.Context, name string) ([]string, bool, error) {
	manifest, err := s.snapshot("getLibraryDependencies")
	if err != nil {
		return nil, false, err
	}
	lib, ok := manifest.Lookup(name)
	if !ok {
		return nil, false, nil
	}
	if lib.DepsKnown {
		return append([]string(nil), lib.Deps...), true, nil
	}
	deps, err := s.discoverDependencies(manifest.Arch, name)
	if err != nil {
		return nil, false, err
	}
	return deps, true, nil
}

func (s *DirectSplitSource) Abis() ([]string, error) {
	manifest, err := s.snapshot("getSoSourceAbis")
	if err != nil {
		return nil, err
	}
	return []string{manifest.Arch}, nil
}

// invokeLoader maps a platform rejection into a LoadFailure carrying
// the failing library name.
func invokeLoader(ctx context.Context, loader ports.NativeLoaderPort, name, path string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	err := loader.Load(ctx, path, flags, policy)
	if err == nil {
		return nil
	}
	if failure, ok := types.AsLoadFailure(err); ok {
		if failure.SoName != "" {
			return failure
		}
		// Annotate a copy: the port may hand out a shared error value.
		named := *failure
		named.SoName = name
		return &named
	}
	return types.NewLoadFailure(name, types.FailureDependencyUnsatisfied,
		"platform loader rejected "+path, err)
}
