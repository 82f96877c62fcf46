package adapters

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"soloader/internal/core"
	"soloader/internal/ports"
	"soloader/internal/types"
)

const (
	cacheStateFile = ".soloader-state"
	cacheLockFile  = ".soloader-lock"
)

// cacheState is what UnpackingSource remembers about the last
// extraction: which entries it wrote and the content hash of each. A
// hash mismatch on the next preparation forces that entry to be
// re-extracted.
type cacheState struct {
	Arch    string       `yaml:"arch"`
	Entries []cacheEntry `yaml:"entries"`
}

type cacheEntry struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// UnpackingSource materializes a bundle's libraries into a local cache
// directory and serves them as plain files. Preparation is guarded by
// an advisory lock on the cache directory so concurrent processes do
// not interleave extraction.
type UnpackingSource struct {
	bundle   Bundle
	abi      string
	cacheDir string
	backup   bool
	loader   ports.NativeLoaderPort
	registry *core.Registry

	mu       sync.Mutex
	manifest *types.SourceManifest
}

func NewUnpackingSource(bundle Bundle, abi, cacheDir string, loader ports.NativeLoaderPort, registry *core.Registry) *UnpackingSource {
	return &UnpackingSource{
		bundle:   bundle,
		abi:      abi,
		cacheDir: cacheDir,
		loader:   loader,
		registry: registry,
	}
}

// NewBackupUnpackingSource builds an unpack-cache source flagged as
// backup: the last-resort origin used when the primary bundle is
// corrupted. The reunpack recovery policy leaves it alone.
func NewBackupUnpackingSource(bundle Bundle, abi, cacheDir string, loader ports.NativeLoaderPort, registry *core.Registry) *UnpackingSource {
	s := NewUnpackingSource(bundle, abi, cacheDir, loader, registry)
	s.backup = true
	return s
}

func (s *UnpackingSource) IsBackup() bool { return s.backup }

func (s *UnpackingSource) Name() string {
	if s.backup {
		return "BackupUnpackingSource(" + s.cacheDir + ")"
	}
	return "UnpackingSource(" + s.cacheDir + ")"
}

// Prepare extracts out-of-date entries into the cache directory and
// rebuilds the manifest. Without forceRefresh an existing manifest
// makes it a no-op; with forceRefresh every entry is re-extracted and
// the manifest atomically replaced.
func (s *UnpackingSource) Prepare(ctx context.Context, forceRefresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil && !forceRefresh {
		return nil
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache directory " + s.cacheDir).
			WithCause(err)
	}
	release, err := lockDir(s.cacheDir)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to lock cache directory " + s.cacheDir).
			WithCause(err)
	}
	defer release()

	names, err := s.bundle.Entries(s.abi)
	if err != nil {
		return err
	}

	previous := s.readState()
	state := cacheState{Arch: s.abi}
	for _, name := range names {
		hash, err := s.hashEntry(name)
		if err != nil {
			return err
		}
		if forceRefresh || s.needsExtraction(previous, name, hash) {
			if err := s.extractEntry(ctx, name); err != nil {
				return err
			}
		}
		state.Entries = append(state.Entries, cacheEntry{Name: name, Hash: hash})
	}

	s.removeStale(ctx, names)
	if err := s.writeState(state); err != nil {
		return err
	}

	libs := make([]types.LibraryDescriptor, 0, len(names))
	for _, name := range names {
		libs = append(libs, types.LibraryDescriptor{Name: name})
	}
	manifest, err := types.NewSourceManifest(s.abi, libs)
	if err != nil {
		return err
	}

	s.manifest = manifest
	log.Ctx(ctx).Debug().
		Str("source", s.Name()).
		Int("libs", len(names)).
		Bool("force_refresh", forceRefresh).
		Msg("prepared")
	return nil
}

func (s *UnpackingSource) hashEntry(name string) (string, error) {
	stream, err := s.bundle.OpenEntryStream(s.abi, name)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, stream); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to hash bundle entry " + name).
			WithCause(err)
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func (s *UnpackingSource) needsExtraction(previous cacheState, name, hash string) bool {
	if _, err := os.Stat(filepath.Join(s.cacheDir, name)); err != nil {
		return true
	}
	for _, entry := range previous.Entries {
		if entry.Name == name {
			return entry.Hash != hash
		}
	}
	return true
}

// extractEntry copies one entry out of the bundle, writing to a
// temporary file first so a crash mid-copy never leaves a truncated
// library behind under its final name.
func (s *UnpackingSource) extractEntry(ctx context.Context, name string) error {
	stream, err := s.bundle.OpenEntryStream(s.abi, name)
	if err != nil {
		return err
	}
	defer stream.Close()

	target := filepath.Join(s.cacheDir, name)
	tmp, err := os.CreateTemp(s.cacheDir, name+".tmp*")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create temp file for " + name).
			WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, stream); err != nil {
		tmp.Close()
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to extract " + name).
			WithCause(err)
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to mark " + name + " executable").
			WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to flush " + name).
			WithCause(err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to move " + name + " into cache").
			WithCause(err)
	}

	log.Ctx(ctx).Debug().Str("source", s.Name()).Str("lib", name).Msg("extracted")
	return nil
}

func (s *UnpackingSource) removeStale(ctx context.Context, names []string) {
	expected := make(map[string]struct{}, len(names))
	for _, name := range names {
		expected[name] = struct{}{}
	}
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == cacheStateFile || name == cacheLockFile {
			continue
		}
		if _, ok := expected[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.cacheDir, name)); err == nil {
			log.Ctx(ctx).Debug().Str("source", s.Name()).Str("file", name).Msg("removed stale cache file")
		}
	}
}

func (s *UnpackingSource) readState() cacheState {
	var state cacheState
	data, err := os.ReadFile(filepath.Join(s.cacheDir, cacheStateFile))
	if err != nil {
		return state
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		// A corrupt state file just means everything gets re-extracted.
		return cacheState{}
	}
	return state
}

func (s *UnpackingSource) writeState(state cacheState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode cache state").
			WithCause(err)
	}
	path := filepath.Join(s.cacheDir, cacheStateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write cache state").
			WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to commit cache state").
			WithCause(err)
	}
	return nil
}

func (s *UnpackingSource) snapshot(op string) (*types.SourceManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return nil, types.NewStateError(s.Name(), op)
	}
	return s.manifest, nil
}

// State reports the source lifecycle phase.
func (s *UnpackingSource) State() types.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return types.SourceStateUnprepared
	}
	return types.SourceStatePrepared
}

func (s *UnpackingSource) LoadLibrary(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) (types.LoadResult, error) {
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

func (s *UnpackingSource) walker(manifest *types.SourceManifest, owner string) depWalker {
	return depWalker{
		sourceName: s.Name(),
		owner:      owner,
		registry:   s.registry,
		resolve:    manifest.Lookup,
		discover: func(ctx context.Context, name string) ([]string, error) {
			return s.discoverDependencies(name)
		},
		load: func(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
			return invokeLoader(ctx, s.loader, name, filepath.Join(s.cacheDir, name), flags, policy)
		},
	}
}

// discoverDependencies parses the unpacked library file's header.
func (s *UnpackingSource) discoverDependencies(name string) ([]string, error) {
	f, err := os.Open(filepath.Join(s.cacheDir, name))
	if err != nil {
		return nil, types.NewLoadFailure(name, types.FailureLibraryAbsent,
			"unpacked library missing from cache", err)
	}
	defer f.Close()
	return core.ExtractDependencies(f)
}

func (s *UnpackingSource) LibraryPath(name string) (string, bool, error) {
	manifest, err := s.snapshot("getLibraryPath")
	if err != nil {
		return "", false, err
	}
	if _, ok := manifest.Lookup(name); !ok {
		return "", false, nil
	}
	return filepath.Join(s.cacheDir, name), true, nil
}

func (s *UnpackingSource) LibraryDependencies(ctx context.Context, name string) ([]string, bool, error) {
	manifest, err := s.snapshot("getLibraryDependencies")
	if err != nil {
		return nil, false, err
	}
	if _, ok := manifest.Lookup(name); !ok {
		return nil, false, nil
	}
	deps, err := s.discoverDependencies(name)
	if err != nil {
		return nil, false, err
	}
	return deps, true, nil
}

func (s *UnpackingSource) Abis() ([]string, error) {
	manifest, err := s.snapshot("getSoSourceAbis")
	if err != nil {
		return nil, err
	}
	return []string{manifest.Arch}, nil
}
