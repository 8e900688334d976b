package main

import (
	"bytes"
	"fmt"

	"github.com/bitrise-steplib/steps-make-debuggable/apkzip"
	"github.com/bitrise-steplib/steps-make-debuggable/axml"
)

const manifestEntryName = "AndroidManifest.xml"

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

func isZipPackage(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// patchPackage rebuilds the package with the debuggable attribute of its
// manifest entry set. Every other entry passes through byte-identical.
func patchPackage(data []byte, debuggable bool) ([]byte, error) {
	archive, err := apkzip.Open(data)
	if err != nil {
		return nil, err
	}

	manifest, err := archive.ReadEntry(manifestEntryName)
	if err != nil {
		return nil, err
	}

	patched, err := axml.SetDebuggable(manifest, debuggable)
	if err != nil {
		return nil, fmt.Errorf("failed to patch %s: %w", manifestEntryName, err)
	}

	if err := archive.Replace(manifestEntryName, patched); err != nil {
		return nil, err
	}
	return archive.Bytes()
}
