package main

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/avast/apkparser"
)

type manifest struct {
	XMLName     xml.Name `xml:"manifest"`
	Application application
}

type application struct {
	XMLName           xml.Name `xml:"application"`
	ExtractNativeLibs bool     `xml:"extractNativeLibs,attr"` // defaults to false
	Debuggable        bool     `xml:"debuggable,attr"`        // defaults to false
}

func parseAPKManifest(apkPath string) (manifest, error) {
	var manifestContent bytes.Buffer
	enc := xml.NewEncoder(&manifestContent)
	enc.Indent("", "\t")

	zipErr, resErr, manErr := apkparser.ParseApk(apkPath, enc)
	if zipErr != nil {
		return manifest{}, fmt.Errorf("failed to unzip the APK: %s", zipErr)
	}
	if resErr != nil {
		return manifest{}, fmt.Errorf("failed to parse resources: %s", resErr)
	}
	if manErr != nil {
		return manifest{}, fmt.Errorf("failed to parse AndroidManifest.xml: %s", manErr)
	}

	var parsed manifest
	if err := xml.Unmarshal(manifestContent.Bytes(), &parsed); err != nil {
		return manifest{}, fmt.Errorf("failed to unmarshal AndroidManifest.xml: %s", err)
	}
	return parsed, nil
}

func parseAPKextractNativeLibs(apkPath string) (bool, error) {
	parsed, err := parseAPKManifest(apkPath)
	if err != nil {
		return false, err
	}
	return parsed.Application.ExtractNativeLibs, nil
}

func parseAPKdebuggable(apkPath string) (bool, error) {
	parsed, err := parseAPKManifest(apkPath)
	if err != nil {
		return false, err
	}
	return parsed.Application.Debuggable, nil
}
