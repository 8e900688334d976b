package main

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/bitrise-steplib/steps-make-debuggable/apkzip"
	"github.com/bitrise-steplib/steps-make-debuggable/axml"
	"github.com/stretchr/testify/require"
)

func w16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func w32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// buildTestManifest assembles a minimal compiled manifest: a UTF-8 string
// pool holding "manifest" and "debuggable", a root element carrying one
// boolean debuggable attribute with the given value, and the end chunk.
func buildTestManifest(debuggable bool) []byte {
	encode := func(s string) []byte {
		return append(append([]byte{byte(len(s)), byte(len(s))}, s...), 0)
	}
	strData := append(encode("manifest"), encode("debuggable")...)
	for len(strData)%4 != 0 {
		strData = append(strData, 0)
	}

	pool := w16(nil, 0x0001) // string pool chunk
	pool = w16(pool, 28)
	pool = w32(pool, uint32(28+2*4+len(strData)))
	pool = w32(pool, 2)      // string count
	pool = w32(pool, 0)      // style count
	pool = w32(pool, 1<<8)   // UTF-8 flag
	pool = w32(pool, 28+2*4) // strings start
	pool = w32(pool, 0)      // styles start
	pool = w32(pool, 0)
	pool = w32(pool, uint32(len(encode("manifest"))))
	pool = append(pool, strData...)

	var data uint32
	if debuggable {
		data = 0xFFFFFFFF
	}
	elem := w16(nil, 0x0102) // element start chunk
	elem = w16(elem, 16)
	elem = w32(elem, 16+20+20)
	elem = w32(elem, 1)          // line number
	elem = w32(elem, 0xFFFFFFFF) // comment
	elem = w32(elem, 0xFFFFFFFF) // namespace
	elem = w32(elem, 0)          // name: "manifest"
	elem = w16(elem, 20)         // attribute start
	elem = w16(elem, 20)         // attribute stride
	elem = w16(elem, 1)          // attribute count
	elem = w16(elem, 0)
	elem = w16(elem, 0)
	elem = w16(elem, 0)
	elem = w32(elem, 0xFFFFFFFF) // attr namespace
	elem = w32(elem, 1)          // attr name: "debuggable"
	elem = w32(elem, 0xFFFFFFFF) // no raw value
	elem = w16(elem, 8)
	elem = append(elem, 0, 0x12) // boolean type
	elem = w32(elem, data)

	end := w16(nil, 0x0103) // element end chunk
	end = w16(end, 16)
	end = w32(end, 24)
	end = w32(end, 1)
	end = w32(end, 0xFFFFFFFF)
	end = w32(end, 0xFFFFFFFF)
	end = w32(end, 0)

	body := append(append(pool, elem...), end...)
	doc := w16(nil, 0x0003)
	doc = w16(doc, 8)
	doc = w32(doc, uint32(8+len(body)))
	return append(doc, body...)
}

func buildTestPackage(t *testing.T, manifest []byte) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	ew, err := w.CreateHeader(&zip.FileHeader{Name: manifestEntryName, Method: zip.Deflate})
	require.NoError(t, err)
	_, err = ew.Write(manifest)
	require.NoError(t, err)

	ew, err = w.CreateHeader(&zip.FileHeader{Name: "classes.dex", Method: zip.Deflate})
	require.NoError(t, err)
	_, err = ew.Write(bytes.Repeat([]byte("dex"), 256))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestIsZipPackage(t *testing.T) {
	pkg := buildTestPackage(t, buildTestManifest(false))
	require.True(t, isZipPackage(pkg))

	manifest := buildTestManifest(false)
	require.False(t, isZipPackage(manifest))
	require.True(t, axml.IsDocument(manifest))
}

func TestPatchPackage(t *testing.T) {
	manifest := buildTestManifest(false)
	pkg := buildTestPackage(t, manifest)

	patched, err := patchPackage(pkg, true)
	require.NoError(t, err)

	archive, err := apkzip.Open(patched)
	require.NoError(t, err)

	t.Log("manifest entry is patched in place")
	{
		got, err := archive.ReadEntry(manifestEntryName)
		require.NoError(t, err)
		require.Equal(t, len(manifest), len(got), "present attribute must patch with zero size delta")
		require.NotEqual(t, manifest, got)
		require.Equal(t, buildTestManifest(true), got)
	}

	t.Log("unrelated entries pass through byte-identical")
	{
		got, err := archive.ReadEntry("classes.dex")
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte("dex"), 256), got)
	}

	t.Log("patching the patched package is byte-identical")
	{
		again, err := patchPackage(patched, true)
		require.NoError(t, err)
		require.Equal(t, patched, again)
	}
}

func TestPatchPackageWithoutManifestEntry(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	ew, err := w.CreateHeader(&zip.FileHeader{Name: "classes.dex", Method: zip.Store})
	require.NoError(t, err)
	_, err = io.WriteString(ew, "dex")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = patchPackage(buf.Bytes(), true)
	require.ErrorIs(t, err, apkzip.ErrEntryNotFound)
}
