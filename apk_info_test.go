package main

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestUnmarshal(t *testing.T) {
	const content = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.demo">
	<application android:debuggable="true" android:extractNativeLibs="false">
	</application>
</manifest>`

	var parsed manifest
	require.NoError(t, xml.Unmarshal([]byte(content), &parsed))
	require.True(t, parsed.Application.Debuggable)
	require.False(t, parsed.Application.ExtractNativeLibs)
}

func TestManifestUnmarshalDefaults(t *testing.T) {
	const content = `<manifest><application></application></manifest>`

	var parsed manifest
	require.NoError(t, xml.Unmarshal([]byte(content), &parsed))
	require.False(t, parsed.Application.Debuggable)
	require.False(t, parsed.Application.ExtractNativeLibs)
}
