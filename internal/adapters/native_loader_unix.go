//go:build linux || darwin

package adapters

import (
	"context"
	"strings"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog/log"

	"soloader/internal/types"
)

// DlopenLoaderAdapter is the default platform loader: dlopen by
// absolute path through purego, no cgo.
type DlopenLoaderAdapter struct{}

func NewDlopenLoaderAdapter() DlopenLoaderAdapter {
	return DlopenLoaderAdapter{}
}

func (a DlopenLoaderAdapter) Load(ctx context.Context, path string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	mode := purego.RTLD_NOW | purego.RTLD_GLOBAL
	if flags&types.LoadFlagLazy != 0 {
		mode = purego.RTLD_LAZY | purego.RTLD_GLOBAL
	}
	if flags&types.LoadFlagLocal != 0 {
		mode &^= purego.RTLD_GLOBAL
		mode |= purego.RTLD_LOCAL
	}

	log.Ctx(ctx).Debug().
		Str("path", path).
		Str("thread_policy", string(policy)).
		Msg("dlopen")

	if _, err := purego.Dlopen(path, mode); err != nil {
		return types.NewLoadFailure("", classifyDlopenError(err), "dlopen rejected "+path, err)
	}
	return nil
}

// classifyDlopenError separates "the file itself is gone" from every
// other rejection, which the recovery chain treats as a corrupted or
// unsatisfiable library.
func classifyDlopenError(err error) types.FailureKind {
	msg := err.Error()
	if strings.Contains(msg, "No such file") || strings.Contains(msg, "cannot open shared object file") {
		return types.FailureLibraryAbsent
	}
	return types.FailureDependencyUnsatisfied
}
