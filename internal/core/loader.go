package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"soloader/internal/ports"
	"soloader/internal/types"
)

// LoaderCore walks the configured sources in priority order for each
// requested library, and runs the recovery chain when a source reports
// a real load failure. Concurrent requests for the same name collapse
// into a single platform-load attempt whose outcome all callers share.
type LoaderCore struct {
	Sources  []ports.SourcePort
	Recovery []ports.RecoveryPort

	registry *Registry
	flight   singleflight.Group
}

func NewLoaderCore(sources []ports.SourcePort, recovery []ports.RecoveryPort, registry *Registry) *LoaderCore {
	return &LoaderCore{
		Sources:  sources,
		Recovery: recovery,
		registry: registry,
	}
}

// Prepare prepares every configured source in order.
func (o *LoaderCore) Prepare(ctx context.Context, forceRefresh bool) error {
	for _, src := range o.Sources {
		if err := src.Prepare(ctx, forceRefresh); err != nil {
			return err
		}
	}
	return nil
}

// Load resolves and loads name, dependencies first. Loading an already
// loaded name is a no-op. The caller receives either success or a
// single classified failure after the full source-and-recovery walk.
func (o *LoaderCore) Load(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	_, err, _ := o.flight.Do(name, func() (any, error) {
		return nil, o.loadOnce(ctx, name, flags, policy)
	})
	return err
}

func (o *LoaderCore) loadOnce(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	for {
		// The requested name doubles as the owner token for everything
		// this request loads on the way.
		acquired, done := o.registry.Begin(name, name)
		if acquired {
			break
		}
		if done == nil {
			log.Ctx(ctx).Debug().Str("lib", name).Msg("already loaded")
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := o.walkSources(ctx, name, flags, policy); err != nil {
		o.registry.Abort(name)
		return err
	}
	o.registry.Commit(name)
	return nil
}

func (o *LoaderCore) walkSources(ctx context.Context, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	for _, src := range o.Sources {
		result, err := src.LoadLibrary(ctx, name, flags, policy)
		if err != nil {
			failure, ok := types.AsLoadFailure(err)
			if !ok {
				// State errors and other programming-error classes fail
				// fast; recovery never sees them.
				return err
			}
			return o.recoverAndRetry(ctx, src, failure, err, name, flags, policy)
		}
		if result == types.LoadResultLoaded {
			log.Ctx(ctx).Debug().Str("lib", name).Str("source", src.Name()).Msg("loaded")
			return nil
		}
	}
	// Every source reported NotFound. Nothing a recovery strategy could
	// repair would help, so recovery is not attempted.
	return types.NewLibraryAbsent(name)
}

func (o *LoaderCore) recoverAndRetry(ctx context.Context, src ports.SourcePort, failure *types.LoadFailure, original error, name string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	log.Ctx(ctx).Warn().
		Str("lib", name).
		Str("source", src.Name()).
		Str("kind", string(failure.Kind)).
		Msg("load failed, running recovery chain")

	recovered, err := o.runRecovery(ctx, failure)
	if err != nil {
		return err
	}
	if !recovered {
		return original
	}

	// One retry against the same source; a second failure propagates.
	result, err := src.LoadLibrary(ctx, name, flags, policy)
	if err != nil {
		return err
	}
	if result == types.LoadResultLoaded {
		log.Ctx(ctx).Info().Str("lib", name).Str("source", src.Name()).Msg("loaded after recovery")
		return nil
	}
	return original
}

// runRecovery walks the chain until a strategy reports recovered or the
// chain is exhausted. A strategy's own panic is contained and treated
// as no recovery: a misbehaving strategy must never crash the host.
func (o *LoaderCore) runRecovery(ctx context.Context, failure *types.LoadFailure) (bool, error) {
	for _, strategy := range o.Recovery {
		recovered, err := o.attemptRecovery(ctx, strategy, failure)
		if err != nil {
			return false, err
		}
		if recovered {
			return true, nil
		}
	}
	return false, nil
}

func (o *LoaderCore) attemptRecovery(ctx context.Context, strategy ports.RecoveryPort, failure *types.LoadFailure) (recovered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Str("lib", failure.SoName).
				Interface("panic", r).
				Msg("recovery strategy panicked, treating as no recovery")
			recovered, err = false, nil
		}
	}()
	return strategy.Recover(ctx, failure, o.Sources)
}

// LibraryPath queries the configured sources in priority order for the
// loadable path of name.
func (o *LoaderCore) LibraryPath(name string) (string, error) {
	for _, src := range o.Sources {
		path, ok, err := src.LibraryPath(name)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not present in any configured source", name)
}
