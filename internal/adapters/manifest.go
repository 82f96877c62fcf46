package adapters

import (
	"bytes"
	"context"
	"errors"
	"io"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"gopkg.in/yaml.v3"

	"soloader/internal/types"
)

// manifestDoc is the on-disk form of a source manifest side channel. An
// entry either declares its dependencies (deps, possibly empty via
// deps_known: true) or leaves them to be discovered by parsing the
// library's binary header.
type manifestDoc struct {
	Arch string             `yaml:"arch"`
	Libs []manifestLibEntry `yaml:"libs"`
}

type manifestLibEntry struct {
	Name      string   `yaml:"name"`
	DepsKnown *bool    `yaml:"deps_known,omitempty"`
	Deps      []string `yaml:"deps,omitempty"`
}

// ParseManifest decodes a side-channel manifest into an immutable
// SourceManifest. Malformed input is fatal for the owning source's
// preparation.
func ParseManifest(ctx context.Context, data []byte) (*types.SourceManifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc manifestDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, types.NewMalformedManifest("failed to parse manifest yaml", err)
	}
	if err := dec.Decode(&manifestDoc{}); !errors.Is(err, io.EOF) {
		return nil, types.NewMalformedManifest("trailing documents in manifest", nil)
	}

	assert.NotEmpty(ctx, doc.Arch, "manifest arch must be set")

	libs := make([]types.LibraryDescriptor, 0, len(doc.Libs))
	for _, entry := range doc.Libs {
		depsKnown := entry.Deps != nil
		if entry.DepsKnown != nil {
			depsKnown = *entry.DepsKnown
		}
		libs = append(libs, types.LibraryDescriptor{
			Name:      entry.Name,
			DepsKnown: depsKnown,
			Deps:      entry.Deps,
		})
	}

	manifest, err := types.NewSourceManifest(doc.Arch, libs)
	if err != nil {
		return nil, types.NewMalformedManifest("invalid manifest contents", err)
	}
	return manifest, nil
}
