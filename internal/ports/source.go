package ports

import (
	"context"

	"soloader/internal/types"
)

// SourcePort is the common contract of every library origin. A source
// transitions Unprepared -> Prepared via Prepare; all manifest-dependent
// operations return *types.StateError while Unprepared.
//
// Marking the requested library name in the shared load registry is the
// orchestrator's job; a source only registers the dependencies it loads
// on the way.
type SourcePort interface {
	// Prepare builds the source manifest. Without forceRefresh it is a
	// no-op once a manifest exists; with forceRefresh it re-derives all
	// state, atomically replacing the previous manifest.
	Prepare(ctx context.Context, forceRefresh bool) error

	// LoadLibrary resolves and loads name through this source.
	// LoadResultNotFound (with a nil error and no side effects) means
	// the source does not contain the library. Dependencies of a
	// library whose descriptor has DepsKnown=false are discovered
	// through the binary header extractor and loaded through this same
	// source before the library itself.
	LoadLibrary(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) (types.LoadResult, error)

	// LibraryPath returns the loadable path for name, or ok=false when
	// the manifest does not contain it.
	LibraryPath(name string) (path string, ok bool, err error)

	// LibraryDependencies returns the ordered dependency names for
	// name, or ok=false when the manifest does not contain it.
	LibraryDependencies(ctx context.Context, name string) (deps []string, ok bool, err error)

	// Abis returns the ABI tags this source serves.
	Abis() ([]string, error)

	// Name identifies the source in logs and diagnostics.
	Name() string
}

// UnpackingSourcePort marks sources that materialize libraries into a
// local cache and can therefore be re-unpacked by recovery. Backup
// sources are skipped by the reunpack policy.
type UnpackingSourcePort interface {
	SourcePort
	IsBackup() bool
}

// RecoveryPort is one strategy in the recovery chain. It inspects a
// load failure and the configured sources and either repairs state
// (recovered=true, meaning a retry is worth attempting) or declines.
// Internal strategy errors must be swallowed and reported as
// recovered=false; a non-nil err is reserved for distinguished fatal
// classifications such as *types.BasePackageMissingError.
type RecoveryPort interface {
	Recover(ctx context.Context, failure *types.LoadFailure, sources []SourcePort) (recovered bool, err error)
}
