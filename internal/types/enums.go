package types

// LoadResult is the outcome a source reports for a load request.
// NotFound means the source does not contain the library; it is never
// an error and the orchestrator simply moves on to the next source.
type LoadResult string

const (
	LoadResultLoaded   LoadResult = "loaded"
	LoadResultNotFound LoadResult = "not-found"
)

// FailureKind classifies a platform load rejection.
type FailureKind string

const (
	// FailureDependencyUnsatisfied means the library exists but the
	// platform loader could not satisfy it. Recovery may help.
	FailureDependencyUnsatisfied FailureKind = "dependency-unsatisfied"
	// FailureLibraryAbsent means the library file itself is missing,
	// either from one source or from every configured source. Recovery
	// is never attempted for this kind.
	FailureLibraryAbsent FailureKind = "library-absent"
)

// SourceState tracks the two-state lifecycle of a library source.
type SourceState string

const (
	SourceStateUnprepared SourceState = "unprepared"
	SourceStatePrepared   SourceState = "prepared"
)

// LoadFlags are passed through to the platform loader.
type LoadFlags int

const (
	LoadFlagNone LoadFlags = 0
	// LoadFlagLazy requests lazy symbol binding.
	LoadFlagLazy LoadFlags = 1 << 0
	// LoadFlagLocal requests that symbols not be made available to
	// subsequently loaded libraries.
	LoadFlagLocal LoadFlags = 1 << 1
)

// ThreadPolicy is an advisory token handed to the platform loader
// unchanged. The core never inspects it.
type ThreadPolicy string
