package adapters

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// StaticAppInfoAdapter backs the app-info port with an explicit base
// package path and a split-name to path table, the way a host front end
// would hand them over at initialization. Lookups go back to the table
// on every call, so swapping the table contents between constructions
// models platform state changing underneath the loader.
type StaticAppInfoAdapter struct {
	base   string
	splits map[string]string
}

func NewStaticAppInfoAdapter(basePath string, splits map[string]string) StaticAppInfoAdapter {
	return StaticAppInfoAdapter{base: basePath, splits: splits}
}

func (a StaticAppInfoAdapter) BasePackagePath() (string, error) {
	if a.base == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no base package path configured")
	}
	return a.base, nil
}

func (a StaticAppInfoAdapter) SplitPath(splitName string) (string, error) {
	if splitName == "base" {
		return a.BasePackagePath()
	}
	if path, ok := a.splits[splitName]; ok {
		return path, nil
	}
	return "", errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("no such split: " + splitName)
}

// DirAssetsAdapter serves side-channel assets from a directory,
// standing in for the platform's bundled-resource collaborator.
type DirAssetsAdapter struct {
	root string
}

func NewDirAssetsAdapter(root string) DirAssetsAdapter {
	return DirAssetsAdapter{root: root}
}

func (a DirAssetsAdapter) OpenAsset(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(a.root, filepath.Clean(name)))
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("asset not found: " + name).
			WithCause(err)
	}
	return f, nil
}
