// Package index implements random-access lookup into the package
// index: a (optionally gzipped) tar archive whose entries are keyed by
// repository-relative path. A Reader is built once per successfully
// verified index artifact and swapped in atomically by the repository
// facade.
//
// Built on stdlib archive/tar and compress/gzip. No third-party
// library in the retrieved pack offers offset-indexed random access
// into a tar stream by path; see DESIGN.md for the libraries
// considered and why they don't fit.
package index

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Entry is one package's metadata as recorded in the index: its header
// and the bytes of its corresponding targets document.
type Entry struct {
	Path string
	Size int64
	Data []byte
}

// Reader supports random-access lookup of index entries by path and
// sequential reads at a previously-discovered offset, per the "lazy
// tar evaluation" design note.
type Reader interface {
	// Lookup returns the offset of path's entry within the archive,
	// or ok=false if the index has no such entry.
	Lookup(path string) (offset int64, ok bool)
	// ReadAt returns the header and content bytes of the entry whose
	// Lookup-returned offset is given.
	ReadAt(offset int64) (Entry, error)
}

// tarReader is the in-memory Reader implementation: the decompressed
// archive is scanned once at construction time to build a path->offset
// index, then entries are read back out of the buffered content.
type tarReader struct {
	raw     []byte
	offsets map[string]int64
}

// NewReader builds a Reader over the index artifact's raw bytes. gzip
// decompresses data first if it looks like a gzip stream (identified
// by the standard magic bytes), otherwise treats it as a plain tar.
func NewReader(data []byte) (Reader, error) {
	raw := data
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("index: invalid gzip stream: %w", err)
		}
		defer gz.Close()
		decompressed, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("index: decompressing: %w", err)
		}
		raw = decompressed
	}

	offsets := map[string]int64{}
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index: scanning tar entries: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		pos, err := currentPosition(raw, hdr.Name)
		if err != nil {
			return nil, err
		}
		offsets[hdr.Name] = pos
	}
	return &tarReader{raw: raw, offsets: offsets}, nil
}

// currentPosition locates the byte offset of name's header block
// within raw by re-scanning up to and including that entry. Scanning
// twice per entry during construction keeps this package free of
// reflection into archive/tar's unexported reader state, at the cost
// of O(n^2) index construction; the package index is rebuilt rarely
// (once per snapshot change) and is expected to hold at most a few
// thousand entries, so this is not on a hot path.
func currentPosition(raw []byte, name string) (int64, error) {
	tr := tar.NewReader(bytes.NewReader(raw))
	counted := int64(0)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return 0, fmt.Errorf("index: entry %s vanished during scan", name)
		}
		if err != nil {
			return 0, err
		}
		start := counted
		consumed, err := io.Copy(io.Discard, tr)
		if err != nil {
			return 0, err
		}
		counted += headerSize + paddedSize(consumed)
		if hdr.Name == name {
			return start, nil
		}
	}
}

const headerSize = 512

func paddedSize(n int64) int64 {
	const blockSize = 512
	if n%blockSize == 0 {
		return n
	}
	return n + (blockSize - n%blockSize)
}

// Lookup returns the byte offset of path's entry, if present.
func (r *tarReader) Lookup(path string) (int64, bool) {
	off, ok := r.offsets[path]
	return off, ok
}

// ReadAt decodes the tar entry starting at offset.
func (r *tarReader) ReadAt(offset int64) (Entry, error) {
	if offset < 0 || offset >= int64(len(r.raw)) {
		return Entry{}, fmt.Errorf("index: offset %d out of range", offset)
	}
	tr := tar.NewReader(bytes.NewReader(r.raw[offset:]))
	hdr, err := tr.Next()
	if err != nil {
		return Entry{}, fmt.Errorf("index: reading entry at offset %d: %w", offset, err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return Entry{}, fmt.Errorf("index: reading entry content: %w", err)
	}
	return Entry{Path: hdr.Name, Size: hdr.Size, Data: data}, nil
}
