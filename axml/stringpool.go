package axml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// String pool header: common chunk header followed by string count, style
// count, flags, strings start and styles start (u32 each).
const stringPoolHeaderLen = chunkHeaderLen + 5*4

const utf8Flag = 1 << 8

// ErrEncodingUnsupported is returned when the pool's character width
// cannot represent a string that needs to be appended.
var ErrEncodingUnsupported = errors.New("string pool encoding unsupported")

// StringPool decodes the indexed string table chunk. All fields address
// the chunk's own byte range; string offsets in the index table are
// relative to StringsStart.
type StringPool struct {
	ref  ChunkRef
	data []byte

	StringCount  int
	StyleCount   int
	Flags        uint32
	StringsStart int
	StylesStart  int
}

// ParseStringPool decodes the pool chunk's header and validates that its
// index tables and data regions fit the chunk.
func ParseStringPool(doc *Document) (*StringPool, error) {
	ref, err := doc.findOne(TypeStringPool)
	if err != nil {
		return nil, err
	}
	data := doc.ChunkData(ref)
	if int(ref.HeaderSize) < stringPoolHeaderLen {
		return nil, fmt.Errorf("axml: string pool header size %d, want at least %d: %w", ref.HeaderSize, stringPoolHeaderLen, ErrMalformedChunk)
	}

	p := &StringPool{
		ref:          ref,
		data:         data,
		StringCount:  int(binary.LittleEndian.Uint32(data[8:12])),
		StyleCount:   int(binary.LittleEndian.Uint32(data[12:16])),
		Flags:        binary.LittleEndian.Uint32(data[16:20]),
		StringsStart: int(binary.LittleEndian.Uint32(data[20:24])),
		StylesStart:  int(binary.LittleEndian.Uint32(data[24:28])),
	}

	tablesEnd := int(ref.HeaderSize) + 4*(p.StringCount+p.StyleCount)
	if tablesEnd > ref.Size || p.StringsStart < tablesEnd || p.StringsStart > ref.Size {
		return nil, fmt.Errorf("axml: string pool at offset %d has inconsistent layout (count %d, strings start %d, size %d): %w",
			ref.Offset, p.StringCount, p.StringsStart, ref.Size, ErrMalformedChunk)
	}
	if p.StyleCount > 0 && (p.StylesStart < p.StringsStart || p.StylesStart > ref.Size) {
		return nil, fmt.Errorf("axml: string pool at offset %d has inconsistent styles start %d: %w", ref.Offset, p.StylesStart, ErrMalformedChunk)
	}
	return p, nil
}

// IsUTF8 reports whether the pool stores strings as UTF-8 rather than
// UTF-16 code units.
func (p *StringPool) IsUTF8() bool {
	return p.Flags&utf8Flag != 0
}

// stringsEnd is the offset right after the string data region, within the
// chunk.
func (p *StringPool) stringsEnd() int {
	if p.StyleCount > 0 {
		return p.StylesStart
	}
	return p.ref.Size
}

// String decodes the pool entry at the given index.
func (p *StringPool) String(i int) (string, error) {
	if i < 0 || i >= p.StringCount {
		return "", fmt.Errorf("axml: string index %d out of range (pool holds %d)", i, p.StringCount)
	}
	entry := int(p.ref.HeaderSize) + 4*i
	rel := int(binary.LittleEndian.Uint32(p.data[entry : entry+4]))
	off := p.StringsStart + rel
	if off < p.StringsStart || off >= p.stringsEnd() {
		return "", fmt.Errorf("axml: string %d offset %d outside string data region: %w", i, off, ErrMalformedChunk)
	}
	if p.IsUTF8() {
		return p.decodeUTF8At(off)
	}
	return p.decodeUTF16At(off)
}

// IndexOf resolves a literal to its pool index. Entries that fail to
// decode are skipped; a malformed entry elsewhere in the pool must not
// mask a valid match.
func (p *StringPool) IndexOf(s string) (int, bool) {
	for i := 0; i < p.StringCount; i++ {
		v, err := p.String(i)
		if err == nil && v == s {
			return i, true
		}
	}
	return 0, false
}

// Append builds a copy of the pool chunk with the literal appended as the
// last entry. Existing entries keep their indices and bytes; only the
// header counts, the strings/styles start fields and the index table grow.
// It returns the new chunk bytes, the new entry's index and the chunk's
// size delta.
func (p *StringPool) Append(s string) ([]byte, int, int, error) {
	encoded, err := p.encode(s)
	if err != nil {
		return nil, 0, 0, err
	}
	// String offsets stay 4-byte aligned, as aapt emits them.
	for len(encoded)%4 != 0 {
		encoded = append(encoded, 0)
	}

	delta := 4 + len(encoded)
	newStylesStart := p.StylesStart
	if p.StyleCount > 0 {
		newStylesStart += delta
	}

	hdrSize := int(p.ref.HeaderSize)
	stringTable := p.data[hdrSize : hdrSize+4*p.StringCount]
	styleTable := p.data[hdrSize+4*p.StringCount : hdrSize+4*(p.StringCount+p.StyleCount)]
	headerPad := p.data[hdrSize+4*(p.StringCount+p.StyleCount) : p.StringsStart]
	strings := p.data[p.StringsStart:p.stringsEnd()]
	styles := p.data[p.stringsEnd():]

	out := make([]byte, 0, p.ref.Size+delta)
	out = appendU16(out, p.ref.Type)
	out = appendU16(out, p.ref.HeaderSize)
	out = appendU32(out, uint32(p.ref.Size+delta))
	out = appendU32(out, uint32(p.StringCount+1))
	out = appendU32(out, uint32(p.StyleCount))
	out = appendU32(out, p.Flags)
	out = appendU32(out, uint32(p.StringsStart+4))
	out = appendU32(out, uint32(newStylesStart))
	out = append(out, stringTable...)
	out = appendU32(out, uint32(len(strings))) // new entry, placed after all current data
	out = append(out, styleTable...)
	out = append(out, headerPad...)
	out = append(out, strings...)
	out = append(out, encoded...)
	out = append(out, styles...)

	return out, p.StringCount, delta, nil
}

// encode produces the pool's on-disk representation of s: length prefix,
// character data, NUL terminator, in the pool's declared width. Only the
// short length form is emitted; longer strings would need the
// high-bit-extended form and never occur for the literals this tool
// appends.
func (p *StringPool) encode(s string) ([]byte, error) {
	if p.IsUTF8() {
		units := len(utf16.Encode([]rune(s)))
		if units > 0x7F || len(s) > 0x7F {
			return nil, fmt.Errorf("axml: string %q too long for short UTF-8 pool entry: %w", s, ErrEncodingUnsupported)
		}
		out := make([]byte, 0, 2+len(s)+1)
		out = append(out, byte(units), byte(len(s)))
		out = append(out, s...)
		return append(out, 0), nil
	}
	units := utf16.Encode([]rune(s))
	if len(units) > 0x7FFF {
		return nil, fmt.Errorf("axml: string %q too long for short UTF-16 pool entry: %w", s, ErrEncodingUnsupported)
	}
	out := make([]byte, 0, 2+2*len(units)+2)
	out = appendU16(out, uint16(len(units)))
	for _, u := range units {
		out = appendU16(out, u)
	}
	return append(out, 0, 0), nil
}

func (p *StringPool) decodeUTF8At(off int) (string, error) {
	end := p.stringsEnd()
	// Two length prefixes: UTF-16 unit count, then UTF-8 byte count.
	_, n1, err := decodeLen8(p.data, off, end)
	if err != nil {
		return "", err
	}
	byteLen, n2, err := decodeLen8(p.data, off+n1, end)
	if err != nil {
		return "", err
	}
	start := off + n1 + n2
	if start+byteLen+1 > end {
		return "", fmt.Errorf("axml: UTF-8 string at offset %d runs past string data region: %w", off, ErrMalformedChunk)
	}
	if p.data[start+byteLen] != 0 {
		return "", fmt.Errorf("axml: UTF-8 string at offset %d not NUL terminated: %w", off, ErrMalformedChunk)
	}
	return string(p.data[start : start+byteLen]), nil
}

func (p *StringPool) decodeUTF16At(off int) (string, error) {
	end := p.stringsEnd()
	unitLen, n, err := decodeLen16(p.data, off, end)
	if err != nil {
		return "", err
	}
	start := off + n
	byteLen := 2 * unitLen
	if start+byteLen+2 > end {
		return "", fmt.Errorf("axml: UTF-16 string at offset %d runs past string data region: %w", off, ErrMalformedChunk)
	}
	if p.data[start+byteLen] != 0 || p.data[start+byteLen+1] != 0 {
		return "", fmt.Errorf("axml: UTF-16 string at offset %d not NUL terminated: %w", off, ErrMalformedChunk)
	}
	units := make([]uint16, unitLen)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(p.data[start+2*i : start+2*i+2])
	}
	return string(utf16.Decode(units)), nil
}

// decodeLen8 reads a UTF-8 pool length prefix: one byte, or two with the
// high bit of the first extending the range.
func decodeLen8(data []byte, off, end int) (int, int, error) {
	if off+1 > end {
		return 0, 0, fmt.Errorf("axml: string length truncated at offset %d: %w", off, ErrMalformedChunk)
	}
	l := int(data[off])
	if l&0x80 == 0 {
		return l, 1, nil
	}
	if off+2 > end {
		return 0, 0, fmt.Errorf("axml: string length truncated at offset %d: %w", off, ErrMalformedChunk)
	}
	return (l&0x7F)<<8 | int(data[off+1]), 2, nil
}

// decodeLen16 reads a UTF-16 pool length prefix: one u16, or two with the
// high bit of the first extending the range.
func decodeLen16(data []byte, off, end int) (int, int, error) {
	if off+2 > end {
		return 0, 0, fmt.Errorf("axml: string length truncated at offset %d: %w", off, ErrMalformedChunk)
	}
	l := int(binary.LittleEndian.Uint16(data[off : off+2]))
	if l&0x8000 == 0 {
		return l, 2, nil
	}
	if off+4 > end {
		return 0, 0, fmt.Errorf("axml: string length truncated at offset %d: %w", off, ErrMalformedChunk)
	}
	return (l&0x7FFF)<<16 | int(binary.LittleEndian.Uint16(data[off+2:off+4])), 4, nil
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
