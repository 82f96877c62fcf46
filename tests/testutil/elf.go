// Package testutil provides shared fixture builders used across the
// unit test packages: minimal synthetic shared-object images and
// zip-backed bundles to put them in.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ELFSpec describes a synthetic shared-object image.
type ELFSpec struct {
	Class32   bool
	BigEndian bool
	Needed    []string
}

// BuildELF produces a minimal but well-formed shared-object image: an
// ELF header, one PT_LOAD segment covering the whole file, a PT_DYNAMIC
// segment with the requested DT_NEEDED entries, and the dynamic string
// table. Virtual addresses equal file offsets so the extractor's
// address translation is exercised on the identity mapping.
func BuildELF(t *testing.T, spec ELFSpec) []byte {
	t.Helper()
	if spec.Class32 {
		return buildELF32(spec)
	}
	return buildELF64(spec)
}

func byteOrder(spec ELFSpec) binary.ByteOrder {
	if spec.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func buildStrtab(needed []string) (strtab []byte, offsets []uint64) {
	strtab = []byte{0}
	for _, name := range needed {
		offsets = append(offsets, uint64(len(strtab)))
		strtab = append(strtab, name...)
		strtab = append(strtab, 0)
	}
	return strtab, offsets
}

func buildELF64(spec ELFSpec) []byte {
	order := byteOrder(spec)
	strtab, offsets := buildStrtab(spec.Needed)

	const ehSize = 64
	const phEntSize = 56
	phOff := uint64(ehSize)
	dynOff := phOff + 2*phEntSize
	dynSize := uint64(len(spec.Needed)+3) * 16
	strtabOff := dynOff + dynSize
	total := strtabOff + uint64(len(strtab))

	buf := &bytes.Buffer{}

	// ELF header
	ident := make([]byte, 16)
	copy(ident, "\x7fELF")
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // ELFDATA2LSB
	if spec.BigEndian {
		ident[5] = 2
	}
	ident[6] = 1
	buf.Write(ident)
	binary.Write(buf, order, uint16(3))        // e_type ET_DYN
	binary.Write(buf, order, uint16(0xB7))     // e_machine aarch64
	binary.Write(buf, order, uint32(1))        // e_version
	binary.Write(buf, order, uint64(0))        // e_entry
	binary.Write(buf, order, phOff)            // e_phoff
	binary.Write(buf, order, uint64(0))        // e_shoff
	binary.Write(buf, order, uint32(0))        // e_flags
	binary.Write(buf, order, uint16(ehSize))   // e_ehsize
	binary.Write(buf, order, uint16(phEntSize))
	binary.Write(buf, order, uint16(2)) // e_phnum
	binary.Write(buf, order, uint16(0)) // e_shentsize
	binary.Write(buf, order, uint16(0)) // e_shnum
	binary.Write(buf, order, uint16(0)) // e_shstrndx

	// PT_LOAD covering the whole file
	binary.Write(buf, order, uint32(1)) // p_type
	binary.Write(buf, order, uint32(4)) // p_flags R
	binary.Write(buf, order, uint64(0)) // p_offset
	binary.Write(buf, order, uint64(0)) // p_vaddr
	binary.Write(buf, order, uint64(0)) // p_paddr
	binary.Write(buf, order, total)     // p_filesz
	binary.Write(buf, order, total)     // p_memsz
	binary.Write(buf, order, uint64(0x1000))

	// PT_DYNAMIC
	binary.Write(buf, order, uint32(2)) // p_type
	binary.Write(buf, order, uint32(4))
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynSize)
	binary.Write(buf, order, dynSize)
	binary.Write(buf, order, uint64(8))

	// dynamic section
	for _, off := range offsets {
		binary.Write(buf, order, uint64(1)) // DT_NEEDED
		binary.Write(buf, order, off)
	}
	binary.Write(buf, order, uint64(5)) // DT_STRTAB
	binary.Write(buf, order, strtabOff)
	binary.Write(buf, order, uint64(10)) // DT_STRSZ
	binary.Write(buf, order, uint64(len(strtab)))
	binary.Write(buf, order, uint64(0)) // DT_NULL
	binary.Write(buf, order, uint64(0))

	buf.Write(strtab)
	return buf.Bytes()
}

func buildELF32(spec ELFSpec) []byte {
	order := byteOrder(spec)
	strtab, offsets := buildStrtab(spec.Needed)

	const ehSize = 52
	const phEntSize = 32
	phOff := uint32(ehSize)
	dynOff := phOff + 2*phEntSize
	dynSize := uint32(len(spec.Needed)+3) * 8
	strtabOff := dynOff + dynSize
	total := strtabOff + uint32(len(strtab))

	buf := &bytes.Buffer{}

	ident := make([]byte, 16)
	copy(ident, "\x7fELF")
	ident[4] = 1 // ELFCLASS32
	ident[5] = 1
	if spec.BigEndian {
		ident[5] = 2
	}
	ident[6] = 1
	buf.Write(ident)
	binary.Write(buf, order, uint16(3))    // e_type
	binary.Write(buf, order, uint16(0x28)) // e_machine arm
	binary.Write(buf, order, uint32(1))
	binary.Write(buf, order, uint32(0)) // e_entry
	binary.Write(buf, order, phOff)
	binary.Write(buf, order, uint32(0)) // e_shoff
	binary.Write(buf, order, uint32(0)) // e_flags
	binary.Write(buf, order, uint16(ehSize))
	binary.Write(buf, order, uint16(phEntSize))
	binary.Write(buf, order, uint16(2))
	binary.Write(buf, order, uint16(0))
	binary.Write(buf, order, uint16(0))
	binary.Write(buf, order, uint16(0))

	// PT_LOAD
	binary.Write(buf, order, uint32(1))
	binary.Write(buf, order, uint32(0)) // p_offset
	binary.Write(buf, order, uint32(0)) // p_vaddr
	binary.Write(buf, order, uint32(0)) // p_paddr
	binary.Write(buf, order, total)     // p_filesz
	binary.Write(buf, order, total)     // p_memsz
	binary.Write(buf, order, uint32(4)) // p_flags
	binary.Write(buf, order, uint32(0x1000))

	// PT_DYNAMIC
	binary.Write(buf, order, uint32(2))
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynOff)
	binary.Write(buf, order, dynSize)
	binary.Write(buf, order, dynSize)
	binary.Write(buf, order, uint32(4))
	binary.Write(buf, order, uint32(4))

	for _, off := range offsets {
		binary.Write(buf, order, uint32(1))
		binary.Write(buf, order, uint32(off))
	}
	binary.Write(buf, order, uint32(5))
	binary.Write(buf, order, strtabOff)
	binary.Write(buf, order, uint32(10))
	binary.Write(buf, order, uint32(len(strtab)))
	binary.Write(buf, order, uint32(0))
	binary.Write(buf, order, uint32(0))

	buf.Write(strtab)
	return buf.Bytes()
}

// WriteBundle creates a zip bundle at path with the given libraries
// stored (uncompressed) under lib/<abi>/.
func WriteBundle(t *testing.T, path, abi string, libs map[string][]byte) {
	t.Helper()
	WriteBundleCompressed(t, path, abi, libs, false)
}

// WriteBundleCompressed is WriteBundle with a choice of entry method.
func WriteBundleCompressed(t *testing.T, path, abi string, libs map[string][]byte, deflate bool) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range libs {
		method := zip.Store
		if deflate {
			method = zip.Deflate
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   "lib/" + abi + "/" + name,
			Method: method,
		})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

// WriteManifestAsset writes a split manifest side channel into an
// assets directory.
func WriteManifestAsset(t *testing.T, assetsDir, splitName, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))
	path := filepath.Join(assetsDir, splitName+".soloader-manifest")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
