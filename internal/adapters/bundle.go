package adapters

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"soloader/internal/ports"
)

// A Bundle addresses one logical library container: a zip-like archive
// holding entries under lib/<abi>/<name>. Resolution of the backing
// path is the only thing the two variants differ in.
type Bundle interface {
	// Path resolves the bundle's filesystem path.
	Path() (string, error)
	// EntryPath is the stable diagnostic form <path>!/lib/<abi>/<name>.
	EntryPath(abi, name string) (string, error)
	// OpenEntry returns a seekable byte view over exactly one entry,
	// suitable for the dependency extractor. The returned reader owns
	// any archive handle opened to satisfy the request.
	OpenEntry(abi, name string) (*EntryReader, error)
	// OpenEntryStream returns the entry's content as a stream for
	// copying out during extraction. Closing the stream releases the
	// archive handle.
	OpenEntryStream(abi, name string) (io.ReadCloser, error)
	// Entries lists the library names present under lib/<abi>/.
	Entries(abi string) ([]string, error)
}

func libEntryName(abi, name string) string {
	return path.Join("lib", abi, name)
}

// EntryReader is an owned, scope-bound view over one archive entry.
// Close releases the underlying archive handle; it is safe to call on
// every exit path, including after an extractor failure.
type EntryReader struct {
	ra     io.ReaderAt
	size   int64
	closer io.Closer
	closed bool
}

func (e *EntryReader) ReadAt(p []byte, off int64) (int, error) {
	if e.closed {
		return 0, os.ErrClosed
	}
	return e.ra.ReadAt(p, off)
}

// Size returns the uncompressed entry size in bytes.
func (e *EntryReader) Size() int64 { return e.size }

func (e *EntryReader) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// entryStream closes the archive handle together with the entry stream,
// so a single Close from the caller releases everything.
type entryStream struct {
	rc io.ReadCloser
	f  *os.File
}

func (s *entryStream) Read(p []byte) (int, error) { return s.rc.Read(p) }

func (s *entryStream) Close() error {
	err := s.rc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func openArchive(bundlePath string) (*os.File, *zip.Reader, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("failed to open bundle " + bundlePath).
			WithCause(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stat bundle " + bundlePath).
			WithCause(err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("bundle is not a readable archive: " + bundlePath).
			WithCause(err)
	}
	return f, zr, nil
}

func findEntry(zr *zip.Reader, entryName string) (*zip.File, bool) {
	for _, file := range zr.File {
		if file.Name == entryName {
			return file, true
		}
	}
	return nil, false
}

func openEntry(bundlePath, entryName string) (*EntryReader, error) {
	f, zr, err := openArchive(bundlePath)
	if err != nil {
		return nil, err
	}

	entry, ok := findEntry(zr, entryName)
	if !ok {
		f.Close()
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("entry %s not found in %s", entryName, bundlePath))
	}

	size := int64(entry.UncompressedSize64)
	if entry.Method == zip.Store {
		offset, err := entry.DataOffset()
		if err != nil {
			f.Close()
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to locate stored entry data").
				WithCause(err)
		}
		return &EntryReader{
			ra:     io.NewSectionReader(f, offset, size),
			size:   size,
			closer: f,
		}, nil
	}

	// Compressed entries cannot be addressed randomly in place; inflate
	// into memory and release the archive handle immediately.
	rc, err := entry.Open()
	if err != nil {
		f.Close()
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open compressed entry " + entryName).
			WithCause(err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, size+1))
	rc.Close()
	f.Close()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to inflate entry " + entryName).
			WithCause(err)
	}
	return &EntryReader{ra: bytes.NewReader(data), size: int64(len(data))}, nil
}

func openEntryStream(bundlePath, entryName string) (io.ReadCloser, error) {
	f, zr, err := openArchive(bundlePath)
	if err != nil {
		return nil, err
	}
	entry, ok := findEntry(zr, entryName)
	if !ok {
		f.Close()
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("entry %s not found in %s", entryName, bundlePath))
	}
	rc, err := entry.Open()
	if err != nil {
		f.Close()
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open entry " + entryName).
			WithCause(err)
	}
	return &entryStream{rc: rc, f: f}, nil
}

func listEntries(bundlePath, abi string) ([]string, error) {
	f, zr, err := openArchive(bundlePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	prefix := libEntryName(abi, "") + "/"
	var names []string
	for _, file := range zr.File {
		if !strings.HasPrefix(file.Name, prefix) || file.FileInfo().IsDir() {
			continue
		}
		rest := strings.TrimPrefix(file.Name, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

// SplitBundle resolves its backing path from platform state on every
// call; the path may change across calls if the platform state changes.
type SplitBundle struct {
	splitName string
	appInfo   ports.AppInfoPort
}

func NewSplitBundle(splitName string, appInfo ports.AppInfoPort) SplitBundle {
	return SplitBundle{splitName: splitName, appInfo: appInfo}
}

func (b SplitBundle) Path() (string, error) {
	return b.appInfo.SplitPath(b.splitName)
}

func (b SplitBundle) EntryPath(abi, name string) (string, error) {
	p, err := b.Path()
	if err != nil {
		return "", err
	}
	return p + "!/" + libEntryName(abi, name), nil
}

func (b SplitBundle) OpenEntry(abi, name string) (*EntryReader, error) {
	p, err := b.Path()
	if err != nil {
		return nil, err
	}
	return openEntry(p, libEntryName(abi, name))
}

func (b SplitBundle) OpenEntryStream(abi, name string) (io.ReadCloser, error) {
	p, err := b.Path()
	if err != nil {
		return nil, err
	}
	return openEntryStream(p, libEntryName(abi, name))
}

func (b SplitBundle) Entries(abi string) ([]string, error) {
	p, err := b.Path()
	if err != nil {
		return nil, err
	}
	return listEntries(p, abi)
}

func (b SplitBundle) String() string { return "split:" + b.splitName }

// ArchiveBundle is a bundle with a fixed path captured at construction,
// stable for the object's lifetime.
type ArchiveBundle struct {
	path string
}

func NewArchiveBundle(path string) ArchiveBundle {
	return ArchiveBundle{path: path}
}

func (b ArchiveBundle) Path() (string, error) { return b.path, nil }

func (b ArchiveBundle) EntryPath(abi, name string) (string, error) {
	return b.path + "!/" + libEntryName(abi, name), nil
}

func (b ArchiveBundle) OpenEntry(abi, name string) (*EntryReader, error) {
	return openEntry(b.path, libEntryName(abi, name))
}

func (b ArchiveBundle) OpenEntryStream(abi, name string) (io.ReadCloser, error) {
	return openEntryStream(b.path, libEntryName(abi, name))
}

func (b ArchiveBundle) Entries(abi string) ([]string, error) {
	return listEntries(b.path, abi)
}

func (b ArchiveBundle) String() string { return "archive:" + b.path }
