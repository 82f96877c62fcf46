//go:build !linux && !darwin

package adapters

import (
	"context"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"soloader/internal/types"
)

// DlopenLoaderAdapter is unavailable off linux/darwin; hosts there must
// supply their own NativeLoaderPort.
type DlopenLoaderAdapter struct{}

func NewDlopenLoaderAdapter() DlopenLoaderAdapter {
	return DlopenLoaderAdapter{}
}

func (a DlopenLoaderAdapter) Load(ctx context.Context, path string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("dlopen loader not supported on this platform")
}
