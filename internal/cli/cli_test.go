package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soloader/internal/types"
	"soloader/tests/testutil"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range []string{"deps", "inspect", "load"} {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestDepsCommandFlags(t *testing.T) {
	cmd := newDepsCommand()
	assert.NotNil(t, cmd.Flags().Lookup("bundle"))
	assert.NotNil(t, cmd.Flags().Lookup("abi"))
}

func TestLoadCommandFlags(t *testing.T) {
	cmd := newLoadCommand()
	flags := []string{
		"arch", "base-package", "assets", "split", "split-path",
		"cache-dir", "backup-bundle", "backup-cache-dir",
		"lazy", "thread-policy",
	}
	for _, name := range flags {
		flag := cmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "missing flag: %s", name)
	}
}

// ---------- Command execution tests ----------

func TestDepsCommandPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libfoo.so")
	image := testutil.BuildELF(t, testutil.ELFSpec{Needed: []string{"libbar.so", "libc.so"}})
	require.NoError(t, os.WriteFile(path, image, 0o644))

	out := &bytes.Buffer{}
	cmd := newDepsCommand()
	cmd.SetOut(out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, []string{"libbar.so", "libc.so"},
		strings.Fields(out.String()))
}

func TestDepsCommandBundleEntry(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "base.apk")
	testutil.WriteBundle(t, bundlePath, "arm64-v8a", map[string][]byte{
		"libfoo.so": testutil.BuildELF(t, testutil.ELFSpec{Needed: []string{"libbar.so"}}),
	})

	out := &bytes.Buffer{}
	cmd := newDepsCommand()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"libfoo.so", "--bundle", bundlePath, "--abi", "arm64-v8a"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "libbar.so\n", out.String())
}

func TestInspectCommandListsEntries(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "base.apk")
	testutil.WriteBundle(t, bundlePath, "arm64-v8a", map[string][]byte{
		"libfoo.so": testutil.BuildELF(t, testutil.ELFSpec{}),
		"libbar.so": testutil.BuildELF(t, testutil.ELFSpec{}),
	})

	out := &bytes.Buffer{}
	cmd := newInspectCommand()
	cmd.SetOut(out)
	cmd.SetArgs([]string{bundlePath, "--abi", "arm64-v8a"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, []string{
		bundlePath + "!/lib/arm64-v8a/libbar.so",
		bundlePath + "!/lib/arm64-v8a/libfoo.so",
	}, strings.Fields(out.String()))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "missing base package",
			err:      types.NewBasePackageMissing("/data/base.apk", "no base package paths observed"),
			expected: 6,
		},
		{
			name:     "library absent",
			err:      types.NewLibraryAbsent("libmissing.so"),
			expected: 4,
		},
		{
			name:     "dependency unsatisfied",
			err:      types.NewLoadFailure("libfoo.so", types.FailureDependencyUnsatisfied, "rejected", nil),
			expected: 5,
		},
		{
			name:     "source state error",
			err:      types.NewStateError("DirectSplitSource(feature)", "loadLibrary"),
			expected: 3,
		},
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "duplicate entry",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("dup"),
			expected: 2,
		},
		{
			name: "failed precondition",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("no base package configured"),
			expected: 3,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("unknown split"),
			expected: 4,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStrings(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		values   []string
		expected []string
	}{
		{
			name:     "nil cmd with values returns values",
			cmd:      nil,
			values:   []string{"a", "b"},
			expected: []string{"a", "b"},
		},
		{
			name:     "nil cmd empty returns nil",
			cmd:      nil,
			values:   nil,
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStrings(tt.cmd, tt.values, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStringMap(t *testing.T) {
	values := map[string]string{"feature": "/bundles/split_feature.apk"}
	got := resolveStringMap(nil, values, "test_key", "test-flag")
	assert.Equal(t, values, got)
}

func TestResolveBool(t *testing.T) {
	got := resolveBool(nil, true, "test_key", "test-flag")
	assert.True(t, got)

	got = resolveBool(nil, false, "test_key", "test-flag")
	assert.False(t, got)
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")
}

func TestFlagChangedAfterSet(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

// ---------- Settings merge tests ----------

func TestLoadConfigMergesViperValues(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("arch", "arm64-v8a")
	viper.Set("base_package", "/bundles/base.apk")
	viper.Set("splits", []string{"feature"})
	viper.Set("split_paths", map[string]string{"feature": "/bundles/split_feature.apk"})
	viper.Set("cache_dir", "/cache/soloader")
	viper.Set("backup_bundle", "/bundles/backup.apk")
	viper.Set("backup_cache_dir", "/cache/soloader-backup")

	cmd := newLoadCommand()
	cfg := loadConfig(cmd, loadOptions{})

	assert.Equal(t, "arm64-v8a", cfg.Arch)
	assert.Equal(t, "/bundles/base.apk", cfg.BasePackage)
	assert.Equal(t, []string{"feature"}, cfg.Splits)
	assert.Equal(t, map[string]string{"feature": "/bundles/split_feature.apk"}, cfg.SplitPaths)
	assert.Equal(t, "/cache/soloader", cfg.CacheDir)
	assert.Equal(t, "/bundles/backup.apk", cfg.BackupBundle)
	assert.Equal(t, "/cache/soloader-backup", cfg.BackupCacheDir)
}

func TestLoadConfigFlagWinsOverViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("arch", "x86_64")

	cmd := newLoadCommand()
	require.NoError(t, cmd.Flags().Set("arch", "arm64-v8a"))
	cfg := loadConfig(cmd, loadOptions{Arch: "arm64-v8a"})
	assert.Equal(t, "arm64-v8a", cfg.Arch)
}

func TestInspectCommandReadsBoundSettings(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "base.apk")
	testutil.WriteBundle(t, bundlePath, "arm64-v8a", map[string][]byte{
		"libfoo.so": testutil.BuildELF(t, testutil.ELFSpec{}),
	})
	viper.Set("abi", "arm64-v8a")

	out := &bytes.Buffer{}
	cmd := newInspectCommand()
	cmd.SetOut(out)
	cmd.SetArgs([]string{bundlePath})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, []string{
		bundlePath + "!/lib/arm64-v8a/libfoo.so",
	}, strings.Fields(out.String()))
}
