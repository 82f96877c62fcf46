package policies

import (
	"context"

	"github.com/rs/zerolog/log"

	"soloader/internal/ports"
	"soloader/internal/types"
)

// ReunpackPolicy handles failures to load a corrupted library by
// forcing every non-backup unpack-cache source to re-extract its
// contents. Backup sources are left alone; they are the fallback the
// retry is supposed to reach intact.
type ReunpackPolicy struct{}

func NewReunpackPolicy() ReunpackPolicy {
	return ReunpackPolicy{}
}

func (p ReunpackPolicy) Recover(ctx context.Context, failure *types.LoadFailure, sources []ports.SourcePort) (bool, error) {
	if failure.Kind == types.FailureLibraryAbsent {
		// The file is gone, not corrupted; re-extraction cannot help.
		return false, nil
	}

	log.Ctx(ctx).Warn().
		Str("lib", failure.SoName).
		Msg("reunpacking non-backup unpack-cache sources")

	for _, src := range sources {
		unpacking, ok := src.(ports.UnpackingSourcePort)
		if !ok || unpacking.IsBackup() {
			continue
		}
		if err := unpacking.Prepare(ctx, true); err != nil {
			// A failed re-preparation must not crash the host in a new
			// way; report the whole attempt as unrecovered instead of
			// leaving it partially applied.
			log.Ctx(ctx).Error().
				Err(err).
				Str("lib", failure.SoName).
				Str("source", unpacking.Name()).
				Msg("reunpack failed")
			return false, nil
		}
	}
	return true, nil
}
