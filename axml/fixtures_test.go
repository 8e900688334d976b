package axml

// In-memory builders for compiled-manifest fixtures. Only ASCII literals
// are used, so the UTF-16 encoder can map bytes to code units directly.

func encodeTestString(utf8Pool bool, s string) []byte {
	if utf8Pool {
		return append(append([]byte{byte(len(s)), byte(len(s))}, s...), 0)
	}
	out := appendU16(nil, uint16(len(s)))
	for _, r := range s {
		out = appendU16(out, uint16(r))
	}
	return append(out, 0, 0)
}

func buildStringPool(utf8Pool bool, strs []string) []byte {
	var offsets []int
	var data []byte
	for _, s := range strs {
		offsets = append(offsets, len(data))
		data = append(data, encodeTestString(utf8Pool, s)...)
	}
	for len(data)%4 != 0 {
		data = append(data, 0)
	}

	stringsStart := stringPoolHeaderLen + 4*len(strs)
	var flags uint32
	if utf8Pool {
		flags = utf8Flag
	}

	out := appendU16(nil, TypeStringPool)
	out = appendU16(out, stringPoolHeaderLen)
	out = appendU32(out, uint32(stringsStart+len(data)))
	out = appendU32(out, uint32(len(strs)))
	out = appendU32(out, 0) // style count
	out = appendU32(out, flags)
	out = appendU32(out, uint32(stringsStart))
	out = appendU32(out, 0) // styles start
	for _, off := range offsets {
		out = appendU32(out, uint32(off))
	}
	return append(out, data...)
}

func buildResourceMap(ids []uint32) []byte {
	out := appendU16(nil, TypeResourceMap)
	out = appendU16(out, chunkHeaderLen)
	out = appendU32(out, uint32(chunkHeaderLen+4*len(ids)))
	for _, id := range ids {
		out = appendU32(out, id)
	}
	return out
}

type testAttr struct {
	ns, name, raw uint32
	dataType      uint8
	data          uint32
}

func boolTestAttr(name uint32, value bool) testAttr {
	return testAttr{ns: nilReference, name: name, raw: nilReference, dataType: typeIntBoolean, data: boolData(value)}
}

func buildElement(name uint32, attrs []testAttr) []byte {
	size := 16 + elementExtLen + attrLen*len(attrs)
	out := appendU16(nil, TypeStartElement)
	out = appendU16(out, 16)
	out = appendU32(out, uint32(size))
	out = appendU32(out, 1)            // line number
	out = appendU32(out, nilReference) // comment
	out = appendU32(out, nilReference) // namespace
	out = appendU32(out, name)
	out = appendU16(out, elementExtLen) // attribute start
	out = appendU16(out, attrLen)       // attribute stride
	out = appendU16(out, uint16(len(attrs)))
	out = appendU16(out, 0) // id index
	out = appendU16(out, 0) // class index
	out = appendU16(out, 0) // style index
	for _, a := range attrs {
		out = appendU32(out, a.ns)
		out = appendU32(out, a.name)
		out = appendU32(out, a.raw)
		out = appendU16(out, 8)
		out = append(out, 0, a.dataType)
		out = appendU32(out, a.data)
	}
	return out
}

func buildEndElement(name uint32) []byte {
	out := appendU16(nil, TypeEndElement)
	out = appendU16(out, 16)
	out = appendU32(out, 24)
	out = appendU32(out, 1)
	out = appendU32(out, nilReference)
	out = appendU32(out, nilReference)
	return appendU32(out, name)
}

func buildDocument(chunks ...[]byte) []byte {
	size := chunkHeaderLen
	for _, c := range chunks {
		size += len(c)
	}
	out := appendU16(nil, TypeXMLDocument)
	out = appendU16(out, chunkHeaderLen)
	out = appendU32(out, uint32(size))
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// buildManifest assembles a minimal document: string pool, optional
// resource map, one root element with the given attributes, and its end
// chunk. The root element's name references pool index 0.
func buildManifest(utf8Pool bool, strs []string, resIDs []uint32, attrs []testAttr) []byte {
	chunks := [][]byte{buildStringPool(utf8Pool, strs)}
	if resIDs != nil {
		chunks = append(chunks, buildResourceMap(resIDs))
	}
	chunks = append(chunks, buildElement(0, attrs), buildEndElement(0))
	return buildDocument(chunks...)
}
