package policies_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"soloader/internal/policies"
	"soloader/internal/ports"
	"soloader/internal/types"
)

// fakeUnpackingSource counts forced re-preparations.
type fakeUnpackingSource struct {
	ports.SourcePort
	name         string
	backup       bool
	prepareErr   error
	forcedCalls  int
	unforcedCall int
}

func (s *fakeUnpackingSource) Prepare(ctx context.Context, forceRefresh bool) error {
	if forceRefresh {
		s.forcedCalls++
	} else {
		s.unforcedCall++
	}
	return s.prepareErr
}

func (s *fakeUnpackingSource) Name() string   { return s.name }
func (s *fakeUnpackingSource) IsBackup() bool { return s.backup }

// fakePlainSource is a non-unpacking source; reunpack must skip it.
type fakePlainSource struct {
	ports.SourcePort
	prepares int
}

func (s *fakePlainSource) Prepare(ctx context.Context, forceRefresh bool) error {
	s.prepares++
	return nil
}

func (s *fakePlainSource) Name() string { return "plain" }

func depFailure() *types.LoadFailure {
	return types.NewLoadFailure("libfoo.so", types.FailureDependencyUnsatisfied, "unsatisfied", nil)
}

func TestReunpackForcesOnlyNonBackupUnpackingSources(t *testing.T) {
	regular := &fakeUnpackingSource{name: "regular"}
	backup := &fakeUnpackingSource{name: "backup", backup: true}
	plain := &fakePlainSource{}
	policy := policies.NewReunpackPolicy()

	recovered, err := policy.Recover(t.Context(), depFailure(),
		[]ports.SourcePort{plain, regular, backup})
	require.NoError(t, err)
	require.True(t, recovered)

	require.Equal(t, 1, regular.forcedCalls)
	require.Zero(t, regular.unforcedCall, "re-preparation must be forced")
	require.Zero(t, backup.forcedCalls, "backup sources are left alone")
	require.Zero(t, plain.prepares, "non-unpacking sources are skipped")
}

func TestReunpackDeclinesForAbsentLibrary(t *testing.T) {
	regular := &fakeUnpackingSource{name: "regular"}
	policy := policies.NewReunpackPolicy()

	absent := types.NewLibraryAbsent("libfoo.so")
	recovered, err := policy.Recover(t.Context(), absent, []ports.SourcePort{regular})
	require.NoError(t, err)
	require.False(t, recovered)
	require.Zero(t, regular.forcedCalls)
}

func TestReunpackSwallowsPrepareErrors(t *testing.T) {
	failing := &fakeUnpackingSource{name: "failing", prepareErr: errors.New("disk full")}
	policy := policies.NewReunpackPolicy()

	recovered, err := policy.Recover(t.Context(), depFailure(), []ports.SourcePort{failing})
	require.NoError(t, err, "internal errors must not escape recovery")
	require.False(t, recovered, "a failed re-preparation reports no recovery")
}

func TestReunpackWithNoUnpackingSources(t *testing.T) {
	policy := policies.NewReunpackPolicy()

	recovered, err := policy.Recover(t.Context(), depFailure(), []ports.SourcePort{&fakePlainSource{}})
	require.NoError(t, err)
	require.True(t, recovered, "nothing to reunpack still permits a retry")
}
