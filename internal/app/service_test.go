package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"soloader/internal/app"
	"soloader/internal/types"
	"soloader/tests/testutil"
)

const testArch = "arm64-v8a"

// fakeLoader stands in for the platform loader. Failures are scripted
// per library base name; every accepted path is recorded.
type fakeLoader struct {
	mu       sync.Mutex
	paths    []string
	fail     map[string]error
	failOnce map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{fail: map[string]error{}, failOnce: map[string]error{}}
}

func (l *fakeLoader) Load(ctx context.Context, path string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)

	name := path
	if idx := strings.LastIndex(name, "!/"); idx >= 0 {
		name = name[idx+2:]
	}
	name = filepath.Base(name)
	if err, ok := l.failOnce[name]; ok {
		delete(l.failOnce, name)
		return err
	}
	return l.fail[name]
}

func (l *fakeLoader) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// serviceFixture wires a service over a base package containing
// libbase.so and a split "feature" containing libsplit.so. The base
// package is served through an unpack cache, the split directly from
// its bundle.
type serviceFixture struct {
	svc      *app.Service
	loader   *fakeLoader
	basePath string
	cacheDir string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dir := t.TempDir()

	basePath := filepath.Join(dir, "base.apk")
	testutil.WriteBundleCompressed(t, basePath, testArch, map[string][]byte{
		"libbase.so": testutil.BuildELF(t, testutil.ELFSpec{}),
	}, true)

	splitPath := filepath.Join(dir, "split_feature.apk")
	testutil.WriteBundle(t, splitPath, testArch, map[string][]byte{
		"libsplit.so": testutil.BuildELF(t, testutil.ELFSpec{}),
	})

	assetsDir := filepath.Join(dir, "assets")
	testutil.WriteManifestAsset(t, assetsDir, "feature",
		"arch: "+testArch+"\n"+
			"libs:\n"+
			"  - name: libsplit.so\n")

	loader := newFakeLoader()
	cacheDir := filepath.Join(dir, "cache")
	svc := app.NewServiceWith(t.Context(), app.Config{
		Arch:        testArch,
		BasePackage: basePath,
		SplitPaths:  map[string]string{"feature": splitPath},
		AssetsDir:   assetsDir,
		Splits:      []string{"feature"},
		CacheDir:    cacheDir,
	}, loader)

	return &serviceFixture{svc: svc, loader: loader, basePath: basePath, cacheDir: cacheDir}
}

func TestServiceWiresConfiguredSources(t *testing.T) {
	dir := t.TempDir()
	backupPath := filepath.Join(dir, "backup.apk")
	testutil.WriteBundle(t, backupPath, testArch, map[string][]byte{
		"libbase.so": testutil.BuildELF(t, testutil.ELFSpec{}),
	})

	svc := app.NewServiceWith(t.Context(), app.Config{
		Arch:           testArch,
		BasePackage:    filepath.Join(dir, "base.apk"),
		Splits:         []string{"feature"},
		CacheDir:       filepath.Join(dir, "cache"),
		BackupBundle:   backupPath,
		BackupCacheDir: filepath.Join(dir, "backup-cache"),
	}, newFakeLoader())

	require.Len(t, svc.Loader.Sources, 3)
	require.Len(t, svc.Loader.Recovery, 2)
}

func TestServiceLoadsAcrossSources(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))

	require.NoError(t, fx.svc.Load(t.Context(), "libsplit.so", types.LoadFlagNone, ""))
	require.NoError(t, fx.svc.Load(t.Context(), "libbase.so", types.LoadFlagNone, ""))

	calls := fx.loader.calls()
	require.Len(t, calls, 2)
	require.True(t, strings.HasSuffix(calls[0], "!/lib/"+testArch+"/libsplit.so"),
		"split library should load straight out of its bundle, got %s", calls[0])
	require.Equal(t, filepath.Join(fx.cacheDir, "libbase.so"), calls[1])
}

func TestServiceLoadIsIdempotent(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))

	require.NoError(t, fx.svc.Load(t.Context(), "libbase.so", types.LoadFlagNone, ""))
	require.NoError(t, fx.svc.Load(t.Context(), "libbase.so", types.LoadFlagNone, ""))
	require.Len(t, fx.loader.calls(), 1)
}

func TestServiceAbsentEverywhere(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))

	err := fx.svc.Load(t.Context(), "libmissing.so", types.LoadFlagNone, "")
	failure, ok := types.AsLoadFailure(err)
	require.True(t, ok)
	require.Equal(t, types.FailureLibraryAbsent, failure.Kind)
	require.Empty(t, fx.loader.calls())
}

// A transient platform rejection on an unpacked library is repaired by
// the re-unpack strategy and retried once, so the caller sees success
// after exactly two platform invocations.
func TestServiceRecoversByReunpacking(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))

	fx.loader.failOnce["libbase.so"] = types.NewLoadFailure("libbase.so",
		types.FailureDependencyUnsatisfied, "bad extraction", nil)

	require.NoError(t, fx.svc.Load(t.Context(), "libbase.so", types.LoadFlagNone, ""))

	calls := fx.loader.calls()
	require.Len(t, calls, 2)
	require.Equal(t, calls[0], calls[1], "retry must target the same source path")
}

// When the application's base package disappears underneath the loader,
// the failure surfaces as the distinguished missing-base-package error
// instead of the raw load failure, and no retry happens.
func TestServiceSurfacesMissingBasePackage(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))
	require.NoError(t, os.Remove(fx.basePath))

	fx.loader.fail["libbase.so"] = types.NewLoadFailure("libbase.so",
		types.FailureDependencyUnsatisfied, "bad extraction", nil)

	err := fx.svc.Load(t.Context(), "libbase.so", types.LoadFlagNone, "")
	require.True(t, types.IsBasePackageMissing(err), "got %v", err)
	require.Len(t, fx.loader.calls(), 1)
}

func TestServiceLibraryPath(t *testing.T) {
	fx := newServiceFixture(t)
	require.NoError(t, fx.svc.Prepare(t.Context()))

	path, err := fx.svc.LibraryPath("libbase.so")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(fx.cacheDir, "libbase.so"), path)

	_, err = fx.svc.LibraryPath("libmissing.so")
	require.Error(t, err)
}
