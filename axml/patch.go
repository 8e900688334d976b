package axml

import (
	"fmt"
	"sort"
)

// AttrName is the attribute this package patches.
const AttrName = "debuggable"

// debuggableResID is the platform resource id of android:debuggable.
// When the document carries a resource map, an attribute whose name index
// resolves to this id is the target even if the pool spells the name
// differently.
const debuggableResID = 0x0101000F

// spliceOp is one buffer edit: remove bytes at offset, insert others in
// their place. A pure overwrite removes and inserts the same count; a pure
// insertion removes zero. Both patch paths go through the same splice
// application so there is exactly one piece of buffer surgery.
type spliceOp struct {
	offset int
	remove int
	insert []byte
}

func applySplices(buf []byte, ops []spliceOp) []byte {
	sort.Slice(ops, func(i, j int) bool { return ops[i].offset < ops[j].offset })
	grow := 0
	for _, op := range ops {
		grow += len(op.insert) - op.remove
	}
	out := make([]byte, 0, len(buf)+grow)
	pos := 0
	for _, op := range ops {
		out = append(out, buf[pos:op.offset]...)
		out = append(out, op.insert...)
		pos = op.offset + op.remove
	}
	return append(out, buf[pos:]...)
}

func overwriteU32(offset int, v uint32) spliceOp {
	return spliceOp{offset: offset, remove: 4, insert: appendU32(nil, v)}
}

func replaceChunk(ref ChunkRef, newChunk []byte) spliceOp {
	return spliceOp{offset: ref.Offset, remove: ref.Size, insert: newChunk}
}

// SetDebuggable returns a copy of the compiled manifest with the
// debuggable attribute of the root element set to the given value.
//
// When the attribute already exists its 4-byte data field is overwritten
// in place and the output length equals the input length. When it is
// absent, the literal is appended to the string pool if needed, a new
// attribute record is appended to the root element's attribute array, and
// the size delta is propagated to the element chunk, the pool chunk and
// the document header, which are the only chunks whose declared sizes
// cover the insertion points. The patched buffer is re-walked before it is
// returned; no output is produced from an inconsistent patch.
func SetDebuggable(manifest []byte, value bool) ([]byte, error) {
	doc, err := ParseDocument(manifest)
	if err != nil {
		return nil, err
	}
	pool, err := ParseStringPool(doc)
	if err != nil {
		return nil, err
	}
	resIDs, err := doc.resourceMap()
	if err != nil {
		return nil, err
	}
	rootRef, err := doc.rootElement()
	if err != nil {
		return nil, err
	}
	elem, err := ParseElement(doc, rootRef)
	if err != nil {
		return nil, err
	}

	nameIndex, nameKnown := pool.IndexOf(AttrName)

	if i, ok := locateAttribute(elem, resIDs, uint32(nameIndex), nameKnown); ok {
		attr := elem.Attribute(i)
		if attr.DataType != typeIntBoolean {
			return nil, fmt.Errorf("axml: attribute %q on root element has type 0x%02X, not boolean: %w", AttrName, attr.DataType, ErrUnexpectedAttributeType)
		}
		out := applySplices(manifest, []spliceOp{overwriteU32(elem.DataOffset(i), boolData(value))})
		if err := verifyPatched(out, value); err != nil {
			return nil, err
		}
		return out, nil
	}

	var ops []spliceOp
	delta := 0
	if !nameKnown {
		newPool, idx, poolDelta, err := pool.Append(AttrName)
		if err != nil {
			return nil, err
		}
		nameIndex = idx
		delta += poolDelta
		ops = append(ops, replaceChunk(pool.ref, newPool))
	}
	newElem, elemDelta := elem.InsertBoolean(uint32(nameIndex), value)
	delta += elemDelta
	ops = append(ops,
		replaceChunk(rootRef, newElem),
		overwriteU32(4, uint32(doc.Header.Size+delta)))

	out := applySplices(manifest, ops)
	if err := verifyPatched(out, value); err != nil {
		return nil, err
	}
	return out, nil
}

// locateAttribute scans the element's attribute records for the target:
// a name reference equal to the resolved pool index, or one whose
// resource-map entry is the debuggable resource id.
func locateAttribute(elem *Element, resIDs []uint32, nameIndex uint32, nameKnown bool) (int, bool) {
	for i := 0; i < elem.AttributeCount; i++ {
		attr := elem.Attribute(i)
		if nameKnown && attr.Name == nameIndex {
			return i, true
		}
		if int(attr.Name) < len(resIDs) && resIDs[attr.Name] == debuggableResID {
			return i, true
		}
	}
	return 0, false
}

// verifyPatched re-walks the patched buffer and confirms the structure is
// consistent and the attribute carries the requested value. Walking
// re-checks every declared chunk size against the buffer, including the
// document header against the actual output length.
func verifyPatched(out []byte, value bool) error {
	doc, err := ParseDocument(out)
	if err != nil {
		return fmt.Errorf("axml: patched manifest failed consistency re-walk: %w", err)
	}
	pool, err := ParseStringPool(doc)
	if err != nil {
		return fmt.Errorf("axml: patched manifest failed consistency re-walk: %w", err)
	}
	rootRef, err := doc.rootElement()
	if err != nil {
		return fmt.Errorf("axml: patched manifest failed consistency re-walk: %w", err)
	}
	elem, err := ParseElement(doc, rootRef)
	if err != nil {
		return fmt.Errorf("axml: patched manifest failed consistency re-walk: %w", err)
	}
	resIDs, err := doc.resourceMap()
	if err != nil {
		return fmt.Errorf("axml: patched manifest failed consistency re-walk: %w", err)
	}
	nameIndex, nameKnown := pool.IndexOf(AttrName)
	i, ok := locateAttribute(elem, resIDs, uint32(nameIndex), nameKnown)
	if !ok {
		return fmt.Errorf("axml: patched manifest has no %q attribute on the root element", AttrName)
	}
	if got := elem.Attribute(i); got.Data != boolData(value) {
		return fmt.Errorf("axml: patched manifest has %q data 0x%08X, want 0x%08X", AttrName, got.Data, boolData(value))
	}
	return nil
}

// RootAttributeCount reports the attribute count of the root element. It
// re-walks the buffer from scratch, so callers can compare counts across a
// patch without holding on to parsed state.
func RootAttributeCount(manifest []byte) (int, error) {
	doc, err := ParseDocument(manifest)
	if err != nil {
		return 0, err
	}
	rootRef, err := doc.rootElement()
	if err != nil {
		return 0, err
	}
	elem, err := ParseElement(doc, rootRef)
	if err != nil {
		return 0, err
	}
	return elem.AttributeCount, nil
}
