package ports

import (
	"context"
	"io"

	"soloader/internal/types"
)

// AppInfoPort resolves platform-provided installation paths. Resolution
// re-reads platform state on every call: the backing paths may change
// while the process is running (e.g. after an in-place update).
type AppInfoPort interface {
	// BasePackagePath returns the application's root package file path.
	BasePackagePath() (string, error)
	// SplitPath resolves a split name to the backing bundle path. The
	// name "base" resolves to the base package.
	SplitPath(splitName string) (string, error)
}

// AssetsPort opens bundled side-channel resources by name, mirroring
// the platform's asset collaborator. Split sources read their manifest
// through it.
type AssetsPort interface {
	OpenAsset(name string) (io.ReadCloser, error)
}

// NativeLoaderPort invokes the platform's dynamic loader by absolute
// path. The thread policy token is advisory and passed through
// unchanged. A rejection comes back as *types.LoadFailure.
type NativeLoaderPort interface {
	Load(ctx context.Context, path string, flags types.LoadFlags, policy types.ThreadPolicy) error
}
