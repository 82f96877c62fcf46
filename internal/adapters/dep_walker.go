package adapters

import (
	"context"

	"github.com/rs/zerolog/log"

	"soloader/internal/core"
	"soloader/internal/types"
)

// depWalker runs the recursive dependency-resolution loop shared by all
// source variants: resolve a library's dependencies (declared or
// discovered), load every unloaded one through the same source, then
// load the library itself. Dependencies absent from the manifest are
// assumed to be system libraries and left to the platform loader.
type depWalker struct {
	sourceName string
	// owner identifies the top-level request in the registry, so waits
	// that would close a cycle of concurrent requests are detected.
	owner    string
	registry *core.Registry

	// resolve looks a name up in the source manifest.
	resolve func(name string) (types.LibraryDescriptor, bool)
	// discover extracts dependency names from the library's binary
	// header through this source's byte accessor.
	discover func(ctx context.Context, name string) ([]string, error)
	// load invokes the platform loader on the library's resolved path.
	load func(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error
}

// loadWithDeps loads lib after its dependency closure. visiting holds
// the names on the current resolution stack; a dependency cycle is
// broken by skipping names already being resolved, never treated as an
// error.
func (w depWalker) loadWithDeps(ctx context.Context, lib types.LibraryDescriptor, flags types.LoadFlags, policy types.ThreadPolicy, visiting map[string]struct{}) error {
	deps := lib.Deps
	if !lib.DepsKnown {
		discovered, err := w.discover(ctx, lib.Name)
		if err != nil {
			// An already classified failure (e.g. the library file gone
			// from the cache) keeps its kind; only unclassified parse
			// errors get wrapped here.
			if failure, ok := types.AsLoadFailure(err); ok {
				return failure
			}
			return types.NewLoadFailure(lib.Name, types.FailureDependencyUnsatisfied,
				"dependency discovery failed", err)
		}
		deps = discovered
	}

	for _, dep := range deps {
		if _, onStack := visiting[dep]; onStack {
			continue
		}
		depLib, ok := w.resolve(dep)
		if !ok {
			log.Ctx(ctx).Debug().
				Str("source", w.sourceName).
				Str("lib", lib.Name).
				Str("dep", dep).
				Msg("dependency not in manifest, deferring to platform loader")
			continue
		}
		if err := w.loadDependency(ctx, depLib, flags, policy, visiting); err != nil {
			return err
		}
	}

	return w.load(ctx, lib.Name, flags, policy)
}

func (w depWalker) loadDependency(ctx context.Context, dep types.LibraryDescriptor, flags types.LoadFlags, policy types.ThreadPolicy, visiting map[string]struct{}) error {
	for {
		acquired, done := w.registry.Begin(dep.Name, w.owner)
		if acquired {
			break
		}
		if done == nil {
			return nil
		}
		if w.registry.BeginWait(w.owner, dep.Name) {
			// Another request holds this dependency and is (transitively)
			// waiting on something this request holds. Blocking would
			// deadlock; leave the name to that request and to the
			// platform loader's own resolution.
			log.Ctx(ctx).Debug().
				Str("source", w.sourceName).
				Str("dep", dep.Name).
				Msg("dependency held by a concurrent request cycle, deferring")
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			w.registry.EndWait(w.owner)
			return ctx.Err()
		}
		w.registry.EndWait(w.owner)
	}

	visiting[dep.Name] = struct{}{}
	err := w.loadWithDeps(ctx, dep, flags, policy, visiting)
	delete(visiting, dep.Name)
	if err != nil {
		w.registry.Abort(dep.Name)
		return err
	}
	w.registry.Commit(dep.Name)
	return nil
}
