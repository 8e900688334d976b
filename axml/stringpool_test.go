package axml

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func parsePool(t *testing.T, manifest []byte) *StringPool {
	doc, err := ParseDocument(manifest)
	require.NoError(t, err)
	pool, err := ParseStringPool(doc)
	require.NoError(t, err)
	return pool
}

func TestStringPoolDecode(t *testing.T) {
	strs := []string{"manifest", "package", "versionCode"}

	t.Log("UTF-8 pool")
	{
		pool := parsePool(t, buildManifest(true, strs, nil, nil))
		require.True(t, pool.IsUTF8())
		require.Equal(t, len(strs), pool.StringCount)
		for i, want := range strs {
			got, err := pool.String(i)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	}

	t.Log("UTF-16 pool")
	{
		pool := parsePool(t, buildManifest(false, strs, nil, nil))
		require.False(t, pool.IsUTF8())
		for i, want := range strs {
			got, err := pool.String(i)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	}

	t.Log("index out of range")
	{
		pool := parsePool(t, buildManifest(true, strs, nil, nil))
		_, err := pool.String(len(strs))
		require.Error(t, err)
	}
}

func TestStringPoolIndexOf(t *testing.T) {
	pool := parsePool(t, buildManifest(true, []string{"manifest", "debuggable"}, nil, nil))

	idx, ok := pool.IndexOf("debuggable")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, ok = pool.IndexOf("versionName")
	require.False(t, ok)
}

func TestStringPoolAppend(t *testing.T) {
	for _, utf8Pool := range []bool{true, false} {
		strs := []string{"manifest", "package"}
		manifest := buildManifest(utf8Pool, strs, nil, nil)
		pool := parsePool(t, manifest)

		newChunk, idx, delta, err := pool.Append("debuggable")
		require.NoError(t, err)
		require.Equal(t, len(strs), idx, "new entry must take the next index")
		require.Equal(t, pool.ref.Size+delta, len(newChunk))
		require.Equal(t, 0, delta%4, "pool must stay 4-byte aligned")

		// splice the grown pool into the document and re-walk it
		patched := applySplices(manifest, []spliceOp{
			replaceChunk(pool.ref, newChunk),
			overwriteU32(4, uint32(len(manifest)+delta)),
		})
		grown := parsePool(t, patched)

		require.Equal(t, len(strs)+1, grown.StringCount)
		for i, want := range strs {
			got, err := grown.String(i)
			require.NoError(t, err)
			require.Equal(t, want, got, "existing entries must keep index and value")
		}
		got, err := grown.String(idx)
		require.NoError(t, err)
		require.Equal(t, "debuggable", got)
	}
}
