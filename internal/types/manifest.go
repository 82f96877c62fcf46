package types

import (
	"github.com/ZanzyTHEbar/errbuilder-go"
)

// LibraryDescriptor describes one library within a source manifest.
// When DepsKnown is false the dependency list must be discovered by
// parsing the library's binary header; when true, Deps is authoritative.
type LibraryDescriptor struct {
	Name      string
	DepsKnown bool
	Deps      []string
}

// SourceManifest is the parsed, immutable description of one origin's
// contents. Names preserves manifest order for diagnostics; Libs is the
// primary lookup index.
type SourceManifest struct {
	Arch  string
	Names []string
	Libs  map[string]LibraryDescriptor
}

// NewSourceManifest builds a manifest from an ordered descriptor list,
// enforcing the manifest invariants: a non-empty architecture tag and
// unique library names.
func NewSourceManifest(arch string, libs []LibraryDescriptor) (*SourceManifest, error) {
	if arch == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("manifest architecture must not be empty")
	}
	m := &SourceManifest{
		Arch: arch,
		Libs: make(map[string]LibraryDescriptor, len(libs)),
	}
	for _, lib := range libs {
		if lib.Name == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("manifest library name must not be empty")
		}
		if _, exists := m.Libs[lib.Name]; exists {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("duplicate library name in manifest: " + lib.Name)
		}
		m.Names = append(m.Names, lib.Name)
		m.Libs[lib.Name] = lib
	}
	return m, nil
}

// Lookup returns the descriptor for name, reporting whether the
// manifest contains it.
func (m *SourceManifest) Lookup(name string) (LibraryDescriptor, bool) {
	lib, ok := m.Libs[name]
	return lib, ok
}
