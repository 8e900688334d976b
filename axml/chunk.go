package axml

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Chunk type codes from the Android resource format
// (frameworks/base/libs/androidfw/include/androidfw/ResourceTypes.h).
const (
	TypeStringPool     uint16 = 0x0001
	TypeXMLDocument    uint16 = 0x0003
	TypeStartNamespace uint16 = 0x0100
	TypeEndNamespace   uint16 = 0x0101
	TypeStartElement   uint16 = 0x0102
	TypeEndElement     uint16 = 0x0103
	TypeCData          uint16 = 0x0104
	TypeResourceMap    uint16 = 0x0180
)

// chunkHeaderLen is the size of the common chunk header: type (u16),
// header size (u16) and total chunk size (u32), all little-endian.
const chunkHeaderLen = 8

// ErrMalformedChunk is returned when a chunk header is inconsistent with
// the buffer it lives in.
var ErrMalformedChunk = errors.New("malformed chunk")

// ChunkRef is a typed view over one chunk in the document buffer. It
// carries no payload of its own; Offset and Size address the backing
// buffer directly.
type ChunkRef struct {
	Type       uint16
	HeaderSize uint16
	Offset     int
	Size       int
}

// End returns the offset right after this chunk.
func (c ChunkRef) End() int {
	return c.Offset + c.Size
}

// Document is the parsed chunk stream of a compiled manifest: the
// file-level header chunk plus its children in stream order. The chunk
// list is flat, traversal is purely sequential and no tree is built.
type Document struct {
	data   []byte
	Header ChunkRef
	Chunks []ChunkRef
}

// IsDocument reports whether data starts with a compiled-XML header chunk.
func IsDocument(data []byte) bool {
	if len(data) < chunkHeaderLen {
		return false
	}
	return binary.LittleEndian.Uint16(data[0:2]) == TypeXMLDocument &&
		binary.LittleEndian.Uint16(data[2:4]) == chunkHeaderLen
}

// ParseDocument walks the chunk stream of a compiled manifest. The
// file-level chunk must declare exactly the buffer's length, and every
// child chunk must fit the region declared by its predecessor's size.
func ParseDocument(data []byte) (*Document, error) {
	hdr, err := readChunkHeader(data, 0, len(data))
	if err != nil {
		return nil, err
	}
	if hdr.Type != TypeXMLDocument {
		return nil, fmt.Errorf("axml: unexpected document chunk type 0x%04X: %w", hdr.Type, ErrMalformedChunk)
	}
	if int(hdr.HeaderSize) != chunkHeaderLen {
		return nil, fmt.Errorf("axml: document header size %d, want %d: %w", hdr.HeaderSize, chunkHeaderLen, ErrMalformedChunk)
	}
	if hdr.Size != len(data) {
		return nil, fmt.Errorf("axml: document declares %d bytes, buffer holds %d: %w", hdr.Size, len(data), ErrMalformedChunk)
	}

	chunks, err := ParseChunks(data, chunkHeaderLen, hdr.Size)
	if err != nil {
		return nil, err
	}

	return &Document{
		data:   data,
		Header: hdr,
		Chunks: chunks,
	}, nil
}

// ParseChunks walks the chunk sequence in data[offset:end]. The walk is
// forward-only and restartable: any previously recorded chunk offset is a
// valid starting point.
func ParseChunks(data []byte, offset, end int) ([]ChunkRef, error) {
	var chunks []ChunkRef
	for offset < end {
		ref, err := readChunkHeader(data, offset, end)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ref)
		offset = ref.End()
	}
	return chunks, nil
}

func readChunkHeader(data []byte, offset, end int) (ChunkRef, error) {
	if offset+chunkHeaderLen > end {
		return ChunkRef{}, fmt.Errorf("axml: chunk header truncated at offset %d: %w", offset, ErrMalformedChunk)
	}
	ref := ChunkRef{
		Type:       binary.LittleEndian.Uint16(data[offset : offset+2]),
		HeaderSize: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		Offset:     offset,
		Size:       int(binary.LittleEndian.Uint32(data[offset+4 : offset+8])),
	}
	if ref.Size < chunkHeaderLen || ref.Size < int(ref.HeaderSize) {
		return ChunkRef{}, fmt.Errorf("axml: chunk type 0x%04X at offset %d declares impossible size %d: %w", ref.Type, offset, ref.Size, ErrMalformedChunk)
	}
	if ref.End() > end {
		return ChunkRef{}, fmt.Errorf("axml: chunk type 0x%04X at offset %d (size %d) runs past offset %d: %w", ref.Type, offset, ref.Size, end, ErrMalformedChunk)
	}
	return ref, nil
}

// ChunkData returns the raw bytes of one chunk, header included, as a view
// into the document buffer.
func (d *Document) ChunkData(c ChunkRef) []byte {
	return d.data[c.Offset:c.End()]
}

// findOne returns the single chunk of the given type, failing when the
// stream carries none or more than one.
func (d *Document) findOne(chunkType uint16) (ChunkRef, error) {
	found := ChunkRef{Offset: -1}
	for _, c := range d.Chunks {
		if c.Type != chunkType {
			continue
		}
		if found.Offset >= 0 {
			return ChunkRef{}, fmt.Errorf("axml: more than one chunk of type 0x%04X (offsets %d and %d): %w", chunkType, found.Offset, c.Offset, ErrMalformedChunk)
		}
		found = c
	}
	if found.Offset < 0 {
		return ChunkRef{}, fmt.Errorf("axml: no chunk of type 0x%04X in document: %w", chunkType, ErrMalformedChunk)
	}
	return found, nil
}

// resourceMap decodes the resource-id map chunk, if present. The map is a
// plain array of u32 resource ids parallel to the string pool's leading
// indices. A missing map is not an error; the returned slice is empty.
func (d *Document) resourceMap() ([]uint32, error) {
	var ref ChunkRef
	seen := false
	for _, c := range d.Chunks {
		if c.Type != TypeResourceMap {
			continue
		}
		if seen {
			return nil, fmt.Errorf("axml: more than one resource map chunk: %w", ErrMalformedChunk)
		}
		ref = c
		seen = true
	}
	if !seen {
		return nil, nil
	}
	raw := d.ChunkData(ref)[ref.HeaderSize:]
	ids := make([]uint32, len(raw)/4)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return ids, nil
}

// rootElement returns the first element-start chunk of the document.
func (d *Document) rootElement() (ChunkRef, error) {
	for _, c := range d.Chunks {
		if c.Type == TypeStartElement {
			return c, nil
		}
	}
	return ChunkRef{}, fmt.Errorf("axml: no element chunk in document: %w", ErrMalformedChunk)
}
