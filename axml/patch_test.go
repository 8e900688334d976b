package axml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func diffOffsets(a, b []byte) []int {
	var diffs []int
	for i := range a {
		if a[i] != b[i] {
			diffs = append(diffs, i)
		}
	}
	return diffs
}

func TestSetDebuggableOverwritesInPlace(t *testing.T) {
	manifest := buildManifest(true, []string{"manifest", "debuggable", "package", "demo"}, nil, []testAttr{
		{ns: nilReference, name: 2, raw: 3, dataType: 0x03, data: 3},
		boolTestAttr(1, false),
	})

	out, err := SetDebuggable(manifest, true)
	require.NoError(t, err)
	require.Equal(t, len(manifest), len(out), "overwrite path must not change the length")

	diffs := diffOffsets(manifest, out)
	require.Len(t, diffs, 4, "only the attribute's data word may change")
	for i := 1; i < len(diffs); i++ {
		require.Equal(t, diffs[0]+i, diffs[i], "changed bytes must be contiguous")
	}
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, out[diffs[0]:diffs[0]+4])
}

func TestSetDebuggableToFalse(t *testing.T) {
	manifest := buildManifest(false, []string{"manifest", "debuggable"}, nil, []testAttr{boolTestAttr(1, true)})

	out, err := SetDebuggable(manifest, false)
	require.NoError(t, err)
	require.Equal(t, len(manifest), len(out))

	diffs := diffOffsets(manifest, out)
	require.Len(t, diffs, 4)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, out[diffs[0]:diffs[0]+4])
}

func TestSetDebuggableIsIdempotent(t *testing.T) {
	t.Log("already true, overwrite path")
	{
		manifest := buildManifest(true, []string{"manifest", "debuggable"}, nil, []testAttr{boolTestAttr(1, true)})
		once, err := SetDebuggable(manifest, true)
		require.NoError(t, err)
		require.Equal(t, manifest, once)

		twice, err := SetDebuggable(once, true)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}

	t.Log("insert path, then overwrite path")
	{
		manifest := buildManifest(true, []string{"manifest", "package"}, nil, nil)
		once, err := SetDebuggable(manifest, true)
		require.NoError(t, err)

		twice, err := SetDebuggable(once, true)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}
}

func TestSetDebuggableInsertsAttribute(t *testing.T) {
	for _, utf8Pool := range []bool{true, false} {
		strs := []string{"manifest", "package", "demo"}
		manifest := buildManifest(utf8Pool, strs, nil, []testAttr{
			{ns: nilReference, name: 1, raw: 2, dataType: 0x03, data: 2},
		})

		before, err := RootAttributeCount(manifest)
		require.NoError(t, err)

		out, err := SetDebuggable(manifest, true)
		require.NoError(t, err)

		// one new pool slot plus the encoded literal, plus one attribute record
		encoded := 4 + 13
		if !utf8Pool {
			encoded = 4 + 24
		}
		for encoded%4 != 0 {
			encoded++
		}
		require.Equal(t, len(manifest)+encoded+attrLen, len(out))

		after, err := RootAttributeCount(out)
		require.NoError(t, err)
		require.Equal(t, before+1, after)

		doc, err := ParseDocument(out)
		require.NoError(t, err)
		pool, err := ParseStringPool(doc)
		require.NoError(t, err)
		idx, ok := pool.IndexOf(AttrName)
		require.True(t, ok)
		require.Equal(t, len(strs), idx, "literal must be appended at the pool end")
	}
}

func TestSetDebuggableInsertReusesExistingLiteral(t *testing.T) {
	// "debuggable" sits in the pool but no attribute references it
	manifest := buildManifest(true, []string{"manifest", "debuggable", "package"}, nil, nil)

	out, err := SetDebuggable(manifest, true)
	require.NoError(t, err)
	require.Equal(t, len(manifest)+attrLen, len(out), "only the attribute record is inserted")

	count, err := RootAttributeCount(out)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSetDebuggableMatchesByResourceID(t *testing.T) {
	// The pool spells the attribute name differently, but the resource map
	// resolves its name index to the debuggable resource id.
	manifest := buildManifest(true, []string{"dbg", "manifest"}, []uint32{debuggableResID}, []testAttr{
		boolTestAttr(0, false),
	})

	out, err := SetDebuggable(manifest, true)
	require.NoError(t, err)
	require.Equal(t, len(manifest), len(out), "resource-id match must take the overwrite path")

	diffs := diffOffsets(manifest, out)
	require.Len(t, diffs, 4)
}

func TestSetDebuggableRejectsNonBooleanAttribute(t *testing.T) {
	manifest := buildManifest(true, []string{"manifest", "debuggable", "yes"}, nil, []testAttr{
		{ns: nilReference, name: 1, raw: 2, dataType: 0x03, data: 2}, // string-typed
	})

	_, err := SetDebuggable(manifest, true)
	require.ErrorIs(t, err, ErrUnexpectedAttributeType)
}

func TestSetDebuggableRejectsTruncatedManifest(t *testing.T) {
	manifest := buildManifest(true, []string{"manifest", "debuggable"}, nil, []testAttr{boolTestAttr(1, false)})
	truncated := manifest[:len(manifest)-8]

	out, err := SetDebuggable(truncated, true)
	require.ErrorIs(t, err, ErrMalformedChunk)
	require.Nil(t, out, "no output may be produced from a malformed input")
}
