package policies_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"soloader/internal/adapters"
	"soloader/internal/policies"
	"soloader/internal/types"
)

func TestBasePackagePolicyDeclinesWhenPackageExists(t *testing.T) {
	base := filepath.Join(t.TempDir(), "base.apk")
	require.NoError(t, os.WriteFile(base, []byte("pk"), 0o644))

	policy := policies.NewBasePackagePolicy(
		adapters.NewStaticAppInfoAdapter(base, nil), policies.NewPathHistory(0))

	recovered, err := policy.Recover(t.Context(), depFailure(), nil)
	require.NoError(t, err)
	require.False(t, recovered, "an intact base package defers to the next strategy")
}

func TestBasePackagePolicyRaisesDistinguishedFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.apk")
	history := policies.NewPathHistory(0)
	history.Record("/old/install/base.apk")

	policy := policies.NewBasePackagePolicy(
		adapters.NewStaticAppInfoAdapter(missing, nil), history)

	recovered, err := policy.Recover(t.Context(), depFailure(), nil)
	require.False(t, recovered)
	require.True(t, types.IsBasePackageMissing(err))
	require.Contains(t, err.Error(), missing)
	require.Contains(t, err.Error(), "/old/install/base.apk", "history must be part of the report")
}

func TestBasePackagePolicySwallowsResolutionErrors(t *testing.T) {
	policy := policies.NewBasePackagePolicy(
		adapters.NewStaticAppInfoAdapter("", nil), nil)

	recovered, err := policy.Recover(t.Context(), depFailure(), nil)
	require.NoError(t, err)
	require.False(t, recovered)
}

func TestPathHistoryRing(t *testing.T) {
	history := policies.NewPathHistory(2)
	require.Equal(t, "no base package paths observed", history.Report())

	history.Record("/a")
	history.Record("/a")
	history.Record("/b")
	history.Record("/c")
	require.Equal(t, "observed paths: /b, /c", history.Report())
}
