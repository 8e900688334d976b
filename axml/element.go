package axml

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Attribute record layout inside an element-start chunk: namespace ref,
// name ref and raw-value ref (u32 each), then the typed value (size u16,
// res0 u8, type u8, data u32). The array is contiguous with a fixed
// 20-byte stride.
const (
	attrLen         = 20
	attrDataOffset  = 16
	typeIntBoolean  = 0x12
	nilReference    = 0xFFFFFFFF
	elementExtLen   = 20
	minElementChunk = chunkHeaderLen + 8 // common header + line number + comment
)

// ErrUnexpectedAttributeType is returned when the target attribute exists
// but does not carry a boolean-encoded value.
var ErrUnexpectedAttributeType = errors.New("unexpected attribute type")

// Attribute is one decoded record of an element's attribute array.
type Attribute struct {
	Namespace uint32
	Name      uint32
	RawValue  uint32
	Size      uint16
	Res0      uint8
	DataType  uint8
	Data      uint32
}

// Element decodes an element-start chunk far enough to address its
// attribute array. Offsets are relative to the chunk start.
type Element struct {
	ref  ChunkRef
	data []byte

	NamespaceRef   uint32
	NameRef        uint32
	AttributeStart int
	AttributeCount int
}

// ParseElement decodes the fixed part of an element-start chunk and
// validates the attribute array's stride and bounds.
func ParseElement(doc *Document, ref ChunkRef) (*Element, error) {
	if ref.Type != TypeStartElement {
		return nil, fmt.Errorf("axml: chunk at offset %d is type 0x%04X, not an element start: %w", ref.Offset, ref.Type, ErrMalformedChunk)
	}
	if int(ref.HeaderSize) < minElementChunk {
		return nil, fmt.Errorf("axml: element at offset %d has header size %d, want at least %d: %w", ref.Offset, ref.HeaderSize, minElementChunk, ErrMalformedChunk)
	}
	data := doc.ChunkData(ref)
	ext := int(ref.HeaderSize)
	if ext+elementExtLen > ref.Size {
		return nil, fmt.Errorf("axml: element at offset %d too small for attribute header: %w", ref.Offset, ErrMalformedChunk)
	}

	e := &Element{
		ref:            ref,
		data:           data,
		NamespaceRef:   binary.LittleEndian.Uint32(data[ext : ext+4]),
		NameRef:        binary.LittleEndian.Uint32(data[ext+4 : ext+8]),
		AttributeStart: ext + int(binary.LittleEndian.Uint16(data[ext+8:ext+10])),
		AttributeCount: int(binary.LittleEndian.Uint16(data[ext+12 : ext+14])),
	}

	if stride := binary.LittleEndian.Uint16(data[ext+10 : ext+12]); stride != attrLen {
		return nil, fmt.Errorf("axml: element at offset %d declares attribute stride %d, want %d: %w", ref.Offset, stride, attrLen, ErrMalformedChunk)
	}
	if e.AttributeStart+e.AttributeCount*attrLen > ref.Size {
		return nil, fmt.Errorf("axml: element at offset %d declares %d attributes past its end: %w", ref.Offset, e.AttributeCount, ErrMalformedChunk)
	}
	return e, nil
}

// attrOffset returns the chunk-relative offset of attribute i.
func (e *Element) attrOffset(i int) int {
	return e.AttributeStart + i*attrLen
}

// Attribute decodes record i of the attribute array.
func (e *Element) Attribute(i int) Attribute {
	off := e.attrOffset(i)
	rec := e.data[off : off+attrLen]
	return Attribute{
		Namespace: binary.LittleEndian.Uint32(rec[0:4]),
		Name:      binary.LittleEndian.Uint32(rec[4:8]),
		RawValue:  binary.LittleEndian.Uint32(rec[8:12]),
		Size:      binary.LittleEndian.Uint16(rec[12:14]),
		Res0:      rec[14],
		DataType:  rec[15],
		Data:      binary.LittleEndian.Uint32(rec[16:20]),
	}
}

// DataOffset returns the document-absolute offset of attribute i's 4-byte
// data field.
func (e *Element) DataOffset(i int) int {
	return e.ref.Offset + e.attrOffset(i) + attrDataOffset
}

// InsertBoolean builds a copy of the element chunk with a new boolean
// attribute record appended to the attribute array: no namespace, the
// given name reference, type boolean-integer and all-ones or all-zeros
// data. The attribute count and the chunk's declared size grow
// accordingly. It returns the new chunk bytes and the size delta.
func (e *Element) InsertBoolean(nameIndex uint32, value bool) ([]byte, int) {
	record := make([]byte, 0, attrLen)
	record = appendU32(record, nilReference) // namespace
	record = appendU32(record, nameIndex)
	record = appendU32(record, nilReference) // no raw string value
	record = appendU16(record, 8)            // typed value size
	record = append(record, 0, typeIntBoolean)
	record = appendU32(record, boolData(value))

	insertAt := e.attrOffset(e.AttributeCount)
	ext := int(e.ref.HeaderSize)

	out := make([]byte, 0, e.ref.Size+attrLen)
	out = append(out, e.data[:insertAt]...)
	out = append(out, record...)
	out = append(out, e.data[insertAt:]...)
	binary.LittleEndian.PutUint32(out[4:8], uint32(e.ref.Size+attrLen))
	binary.LittleEndian.PutUint16(out[ext+12:ext+14], uint16(e.AttributeCount+1))
	return out, attrLen
}

// boolData is the boolean wire encoding: all-ones for true, all-zeros for
// false.
func boolData(value bool) uint32 {
	if value {
		return nilReference
	}
	return 0
}
