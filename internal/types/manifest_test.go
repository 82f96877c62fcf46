package types_test

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/require"

	"soloader/internal/types"
)

func TestNewSourceManifestPreservesOrder(t *testing.T) {
	m, err := types.NewSourceManifest("arm64-v8a", []types.LibraryDescriptor{
		{Name: "libb.so"},
		{Name: "liba.so", DepsKnown: true, Deps: []string{"libb.so"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"libb.so", "liba.so"}, m.Names)

	lib, ok := m.Lookup("liba.so")
	require.True(t, ok)
	require.True(t, lib.DepsKnown)
	require.Equal(t, []string{"libb.so"}, lib.Deps)

	_, ok = m.Lookup("libmissing.so")
	require.False(t, ok)
}

func TestNewSourceManifestRejectsEmptyArch(t *testing.T) {
	_, err := types.NewSourceManifest("", nil)
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestNewSourceManifestRejectsEmptyName(t *testing.T) {
	_, err := types.NewSourceManifest("arm64-v8a", []types.LibraryDescriptor{{Name: ""}})
	require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestNewSourceManifestRejectsDuplicateNames(t *testing.T) {
	_, err := types.NewSourceManifest("arm64-v8a", []types.LibraryDescriptor{
		{Name: "liba.so"},
		{Name: "liba.so"},
	})
	require.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
}
