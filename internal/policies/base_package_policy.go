package policies

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"soloader/internal/ports"
	"soloader/internal/types"
)

// BasePackagePolicy detects the case where the application's base
// package has vanished from storage. Nothing can be repaired then; the
// failure is re-raised as the distinguished BasePackageMissing
// classification so callers can track it separately. When the package
// still exists the policy declines and the chain moves on.
type BasePackagePolicy struct {
	appInfo ports.AppInfoPort
	history *PathHistory
}

func NewBasePackagePolicy(appInfo ports.AppInfoPort, history *PathHistory) BasePackagePolicy {
	if history == nil {
		history = NewPathHistory(0)
	}
	return BasePackagePolicy{appInfo: appInfo, history: history}
}

func (p BasePackagePolicy) Recover(ctx context.Context, failure *types.LoadFailure, sources []ports.SourcePort) (bool, error) {
	path, err := p.appInfo.BasePackagePath()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("could not resolve base package path")
		return false, nil
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return false, types.NewBasePackageMissing(path, p.history.Report())
		}
		log.Ctx(ctx).Error().Err(statErr).Str("path", path).Msg("could not stat base package")
		return false, nil
	}

	p.history.Record(path)
	log.Ctx(ctx).Warn().Str("path", path).Msg("base package exists, deferring to next strategy")
	return false, nil
}
