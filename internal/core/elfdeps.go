package core

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"soloader/internal/types"
)

// The extractor reads just enough of a shared-object image to list its
// DT_NEEDED entries: the identification bytes, the program-header
// table, the PT_DYNAMIC segment and the dynamic string table. It never
// needs the whole image in memory and is re-invocable on the same
// reader.

const (
	maxProgramHeaders = 4096
	maxDynamicEntries = 1 << 16
	maxSoNameLength   = 4096
)

type loadSegment struct {
	vaddr  uint64
	offset uint64
	filesz uint64
}

// ExtractDependencies returns the ordered list of library names the
// image at r directly requires. Inconsistent magic bytes, class width
// or header tables yield a malformed-image error; callers may treat
// that as a reason to skip dependency prefetching rather than as fatal.
func ExtractDependencies(r io.ReaderAt) ([]string, error) {
	var ident [elf.EI_NIDENT]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return nil, types.NewMalformedImage("image too short for identification bytes")
	}
	if string(ident[:4]) != elf.ELFMAG {
		return nil, types.NewMalformedImage("bad magic bytes")
	}

	class := elf.Class(ident[elf.EI_CLASS])
	if class != elf.ELFCLASS32 && class != elf.ELFCLASS64 {
		return nil, types.NewMalformedImage(fmt.Sprintf("unknown class %d", ident[elf.EI_CLASS]))
	}

	var order binary.ByteOrder
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, types.NewMalformedImage(fmt.Sprintf("unknown data encoding %d", ident[elf.EI_DATA]))
	}

	phoff, phentsize, phnum, err := readHeader(r, class, order)
	if err != nil {
		return nil, err
	}

	loads, dynOff, dynSize, err := readProgramHeaders(r, class, order, phoff, phentsize, phnum)
	if err != nil {
		return nil, err
	}
	if dynSize == 0 {
		// Static image, nothing to depend on.
		return nil, nil
	}

	needed, strtabAddr, strsz, err := readDynamic(r, class, order, dynOff, dynSize)
	if err != nil {
		return nil, err
	}
	if len(needed) == 0 {
		return nil, nil
	}
	if strtabAddr == 0 {
		return nil, types.NewMalformedImage("dynamic section has DT_NEEDED but no DT_STRTAB")
	}

	strtabOff, ok := translateAddr(loads, strtabAddr)
	if !ok {
		return nil, types.NewMalformedImage("DT_STRTAB address outside every loadable segment")
	}

	names := make([]string, 0, len(needed))
	for _, off := range needed {
		if strsz > 0 && off >= strsz {
			return nil, types.NewMalformedImage("DT_NEEDED offset beyond string table")
		}
		name, err := readCString(r, int64(strtabOff+off))
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func readHeader(r io.ReaderAt, class elf.Class, order binary.ByteOrder) (phoff uint64, phentsize, phnum int, err error) {
	if class == elf.ELFCLASS64 {
		var buf [48]byte
		if _, err := r.ReadAt(buf[:], int64(elf.EI_NIDENT)); err != nil {
			return 0, 0, 0, types.NewMalformedImage("image too short for header")
		}
		phoff = order.Uint64(buf[16:24])
		phentsize = int(order.Uint16(buf[38:40]))
		phnum = int(order.Uint16(buf[40:42]))
		if phentsize < 56 {
			return 0, 0, 0, types.NewMalformedImage("program header entry size too small")
		}
	} else {
		var buf [36]byte
		if _, err := r.ReadAt(buf[:], int64(elf.EI_NIDENT)); err != nil {
			return 0, 0, 0, types.NewMalformedImage("image too short for header")
		}
		phoff = uint64(order.Uint32(buf[12:16]))
		phentsize = int(order.Uint16(buf[26:28]))
		phnum = int(order.Uint16(buf[28:30]))
		if phentsize < 32 {
			return 0, 0, 0, types.NewMalformedImage("program header entry size too small")
		}
	}
	if phoff == 0 || phnum == 0 {
		return 0, 0, 0, types.NewMalformedImage("missing program header table")
	}
	if phnum > maxProgramHeaders {
		return 0, 0, 0, types.NewMalformedImage("implausible program header count")
	}
	return phoff, phentsize, phnum, nil
}

func readProgramHeaders(r io.ReaderAt, class elf.Class, order binary.ByteOrder, phoff uint64, phentsize, phnum int) (loads []loadSegment, dynOff, dynSize uint64, err error) {
	buf := make([]byte, phentsize)
	for i := 0; i < phnum; i++ {
		at := int64(phoff) + int64(i)*int64(phentsize)
		if _, err := r.ReadAt(buf, at); err != nil {
			return nil, 0, 0, types.NewMalformedImage("truncated program header table")
		}

		var ptype elf.ProgType
		var offset, vaddr, filesz uint64
		if class == elf.ELFCLASS64 {
			ptype = elf.ProgType(order.Uint32(buf[0:4]))
			offset = order.Uint64(buf[8:16])
			vaddr = order.Uint64(buf[16:24])
			filesz = order.Uint64(buf[32:40])
		} else {
			ptype = elf.ProgType(order.Uint32(buf[0:4]))
			offset = uint64(order.Uint32(buf[4:8]))
			vaddr = uint64(order.Uint32(buf[8:12]))
			filesz = uint64(order.Uint32(buf[16:20]))
		}

		switch ptype {
		case elf.PT_LOAD:
			loads = append(loads, loadSegment{vaddr: vaddr, offset: offset, filesz: filesz})
		case elf.PT_DYNAMIC:
			if dynSize == 0 {
				dynOff, dynSize = offset, filesz
			}
		}
	}
	return loads, dynOff, dynSize, nil
}

func readDynamic(r io.ReaderAt, class elf.Class, order binary.ByteOrder, dynOff, dynSize uint64) (needed []uint64, strtabAddr, strsz uint64, err error) {
	entsize := uint64(16)
	if class == elf.ELFCLASS32 {
		entsize = 8
	}
	count := dynSize / entsize
	if count > maxDynamicEntries {
		return nil, 0, 0, types.NewMalformedImage("implausible dynamic section size")
	}

	buf := make([]byte, entsize)
	for i := uint64(0); i < count; i++ {
		if _, err := r.ReadAt(buf, int64(dynOff+i*entsize)); err != nil {
			return nil, 0, 0, types.NewMalformedImage("truncated dynamic section")
		}

		var tag int64
		var val uint64
		if class == elf.ELFCLASS64 {
			tag = int64(order.Uint64(buf[0:8]))
			val = order.Uint64(buf[8:16])
		} else {
			tag = int64(int32(order.Uint32(buf[0:4])))
			val = uint64(order.Uint32(buf[4:8]))
		}

		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			return needed, strtabAddr, strsz, nil
		case elf.DT_NEEDED:
			needed = append(needed, val)
		case elf.DT_STRTAB:
			strtabAddr = val
		case elf.DT_STRSZ:
			strsz = val
		}
	}
	return needed, strtabAddr, strsz, nil
}

// translateAddr maps a virtual address to a file offset through the
// loadable segment containing it.
func translateAddr(loads []loadSegment, addr uint64) (uint64, bool) {
	for _, seg := range loads {
		if addr >= seg.vaddr && addr < seg.vaddr+seg.filesz {
			return addr - seg.vaddr + seg.offset, true
		}
	}
	return 0, false
}

func readCString(r io.ReaderAt, at int64) (string, error) {
	var name []byte
	buf := make([]byte, 64)
	for len(name) < maxSoNameLength {
		n, err := r.ReadAt(buf, at+int64(len(name)))
		if n == 0 && err != nil {
			return "", types.NewMalformedImage("truncated dynamic string table")
		}
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return string(append(name, buf[:i]...)), nil
			}
		}
		name = append(name, buf[:n]...)
		if err != nil {
			return "", types.NewMalformedImage("unterminated string in dynamic string table")
		}
	}
	return "", types.NewMalformedImage("implausibly long library name")
}
