// Package apkzip gives byte-preserving access to a zip-format application
// package: named-entry extraction, and a rebuild of the archive with one
// entry's payload replaced while every other entry's local record is copied
// through verbatim.
package apkzip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

var (
	// ErrCorruptArchive is returned when the central directory cannot be
	// reconciled with the archive bytes.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrEntryNotFound is returned when a named entry is missing from the
	// archive.
	ErrEntryNotFound = errors.New("entry not found")
)

// Archive is a loaded package. Entries are read once at load; Replace
// marks at most one payload for substitution and Bytes performs the single
// rebuild.
type Archive struct {
	reader   *zip.Reader
	replaced map[string][]byte
}

// Open parses the archive's central directory.
func Open(data []byte) (*Archive, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("apkzip: %v: %w", err, ErrCorruptArchive)
	}
	return &Archive{
		reader:   r,
		replaced: map[string][]byte{},
	}, nil
}

func (a *Archive) find(name string) (*zip.File, error) {
	for _, f := range a.reader.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("apkzip: no entry %q in archive: %w", name, ErrEntryNotFound)
}

// ReadEntry returns the decompressed payload of a named entry.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f, err := a.find(name)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("apkzip: failed to open entry %q: %v: %w", name, err, ErrCorruptArchive)
	}
	defer func() {
		_ = rc.Close()
	}()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("apkzip: failed to read entry %q: %v: %w", name, err, ErrCorruptArchive)
	}
	return payload, nil
}

// Replace marks the named entry's payload for substitution in the next
// Bytes call. The entry must exist.
func (a *Archive) Replace(name string, payload []byte) error {
	if _, err := a.find(name); err != nil {
		return err
	}
	a.replaced[name] = payload
	return nil
}

// Bytes serializes the archive: entries in original order, then a freshly
// computed central directory. Untouched entries are raw-copied, compressed
// bytes and all; only their directory offsets move. A replaced entry that
// was stored deflated is recompressed at the maximum deflate level, a
// stored one stays stored, and any other method falls back to stored —
// a fixed policy, so patching the same input repeatedly is byte-identical.
func (a *Archive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range a.reader.File {
		payload, ok := a.replaced[f.Name]
		if !ok {
			if err := w.Copy(f); err != nil {
				return nil, fmt.Errorf("apkzip: failed to copy entry %q: %v: %w", f.Name, err, ErrCorruptArchive)
			}
			continue
		}
		if err := writeReplaced(w, f, payload); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apkzip: failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeReplaced(w *zip.Writer, f *zip.File, payload []byte) error {
	fh := f.FileHeader
	fh.CRC32 = crc32.ChecksumIEEE(payload)
	fh.UncompressedSize64 = uint64(len(payload))

	var raw []byte
	switch fh.Method {
	case zip.Deflate:
		var err error
		raw, err = deflate(payload)
		if err != nil {
			return fmt.Errorf("apkzip: failed to compress entry %q: %w", f.Name, err)
		}
	case zip.Store:
		raw = payload
	default:
		fh.Method = zip.Store
		raw = payload
	}
	fh.CompressedSize64 = uint64(len(raw))

	ew, err := w.CreateRaw(&fh)
	if err != nil {
		return fmt.Errorf("apkzip: failed to create entry %q: %w", f.Name, err)
	}
	if _, err := ew.Write(raw); err != nil {
		return fmt.Errorf("apkzip: failed to write entry %q: %w", f.Name, err)
	}
	return nil
}

func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
