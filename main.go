package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-steputils/stepconf"
	"github.com/bitrise-io/go-steputils/tools"
	"github.com/bitrise-io/go-utils/command"
	"github.com/bitrise-io/go-utils/errorutil"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-steplib/steps-make-debuggable/axml"
	"github.com/bitrise-steplib/steps-make-debuggable/keystore"
	"github.com/bitrise-tools/go-android/sdk"
)

var signingFileExts = []string{".mf", ".rsa", ".dsa", ".ec", ".sf"}

// -----------------------
// --- Models
// -----------------------

type configs struct {
	AndroidApp         string `env:"android_app,required"`
	Debuggable         string `env:"debuggable,opt[true,false]"`
	OutputName         string `env:"output_name"`
	KeystoreURL        string `env:"keystore_url"`
	KeystorePassword   string `env:"keystore_password"`
	KeystoreAlias      string `env:"keystore_alias"`
	PrivateKeyPassword string `env:"private_key_password"`

	VerboseLog   bool   `env:"verbose_log,opt[true,false]"`
	PageAlign    string `env:"page_align,opt[automatic,true,false]"`
	SignerScheme string `env:"signer_scheme,opt[automatic,v2,v3,v4]"`
	SignerTool   string `env:"signer_tool,opt[automatic,apksigner,jarsigner]"`
}

type codeSignerTool string

const (
	apksignerSignerTool codeSignerTool = "apksigner"
	jarsignerSignerTool codeSignerTool = "jarsigner"
	automaticSignerTool codeSignerTool = "automatic"
)

type pageAlignStatus int

const (
	pageAlignInvalid pageAlignStatus = iota + 1
	pageAlignAuto
	pageAlignYes
	pageAlignNo
)

func parsePageAlign(s string) pageAlignStatus {
	switch s {
	case "automatic":
		return pageAlignAuto
	case "true":
		return pageAlignYes
	case "false":
		return pageAlignNo
	default:
		return pageAlignInvalid
	}
}

// artifact is one loaded input: a zip-format package or a raw compiled
// manifest, classified by content rather than extension.
type artifact struct {
	path      string
	data      []byte
	isPackage bool
}

// signingTools bundles everything the package path needs beyond the patch
// itself: the temp workspace, the Android build tools and the keystore.
type signingTools struct {
	tmpDir         string
	aapt           string
	zipalign       string
	apkSigner      SignatureConfiguration
	keystoreHelper keystore.Helper
}

func splitElements(list []string, sep string) (s []string) {
	for _, e := range list {
		s = append(s, strings.Split(e, sep)...)
	}
	return
}

func parseAppList(list string) (apps []string) {
	list = strings.TrimSpace(list)
	if len(list) == 0 {
		return nil
	}

	s := []string{list}
	for _, sep := range []string{"\n", `\n`, "|"} {
		s = splitElements(s, sep)
	}

	for _, app := range s {
		app = strings.TrimSpace(app)
		if len(app) > 0 {
			apps = append(apps, app)
		}
	}
	return
}

// -----------------------
// --- Functions
// -----------------------

func download(url, pth string) error {
	out, err := os.Create(pth)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warnf("Failed to close file: %s, error: %s", out, err)
		}
	}()

	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("Failed to close response body, error: %s", err)
		}
	}()

	_, err = io.Copy(out, resp.Body)
	return err
}

func listFilesInBuildArtifact(aapt, pth string) ([]string, error) {
	cmdSlice := []string{aapt, "list", pth}
	out, err := keystore.ExecuteForOutput(cmdSlice)
	if err != nil {
		return []string{}, err
	}

	return strings.Split(out, "\n"), nil
}

func filterMETAFiles(fileList []string) []string {
	metaFiles := []string{}
	for _, file := range fileList {
		if strings.HasPrefix(file, "META-INF/") {
			metaFiles = append(metaFiles, file)
		}
	}
	return metaFiles
}

func filterSigningFiles(fileList []string) []string {
	var signingFiles []string
	for _, file := range fileList {
		ext := filepath.Ext(file)
		for _, signExt := range signingFileExts {
			if strings.EqualFold(ext, signExt) {
				signingFiles = append(signingFiles, file)
			}
		}
	}
	return signingFiles
}

func removeFilesFromBuildArtifact(aapt, pth string, files []string) error {
	cmdSlice := append([]string{aapt, "remove", pth}, files...)

	prinatableCmd := command.PrintableCommandArgs(false, cmdSlice)
	log.Printf("=> %s", prinatableCmd)

	out, err := keystore.ExecuteForOutput(cmdSlice)
	if err != nil && errorutil.IsExitStatusError(err) {
		return errors.New(out)
	}
	return err
}

func isBuildArtifactSigned(aapt, pth string) (bool, error) {
	filesInBuildArtifact, err := listFilesInBuildArtifact(aapt, pth)
	if err != nil {
		return false, err
	}

	metaFiles := filterMETAFiles(filesInBuildArtifact)

	for _, metaFile := range metaFiles {
		ext := filepath.Ext(metaFile)
		if strings.EqualFold(ext, ".dsa") || strings.EqualFold(ext, ".rsa") {
			return true, nil
		}
	}
	return false, nil
}

func unsignBuildArtifact(aapt, pth string) error {
	filesInBuildArtifact, err := listFilesInBuildArtifact(aapt, pth)
	if err != nil {
		return err
	}

	metaFiles := filterMETAFiles(filesInBuildArtifact)
	signingFiles := filterSigningFiles(metaFiles)

	if len(signingFiles) == 0 {
		log.Printf("Build Artifact is not signed")
		return nil
	}

	return removeFilesFromBuildArtifact(aapt, pth, signingFiles)
}

func prettyBuildArtifactBasename(buildArtifactPth string) string {
	buildArtifactBasenameWithExt := path.Base(buildArtifactPth)
	buildArtifactExt := filepath.Ext(buildArtifactBasenameWithExt)
	buildArtifactBasename := strings.TrimSuffix(buildArtifactBasenameWithExt, buildArtifactExt)
	buildArtifactBasename = strings.TrimSuffix(buildArtifactBasename, "-unsigned")
	return buildArtifactBasename
}

func manifestOutputPath(manifestPth, outputName string) string {
	if outputName != "" {
		return filepath.Join(path.Dir(manifestPth), outputName+".xml")
	}
	return filepath.Join(path.Dir(manifestPth), prettyBuildArtifactBasename(manifestPth)+"-debuggable.xml")
}

func failf(format string, v ...interface{}) {
	log.Errorf(format, v...)
	os.Exit(1)
}

func validate(cfg configs) error {
	buildArtifactPaths := parseAppList(cfg.AndroidApp)
	if len(buildArtifactPaths) == 0 {
		return fmt.Errorf("no build artifact path provided")
	}
	for _, buildArtifactPath := range buildArtifactPaths {
		if exist, err := pathutil.IsPathExists(buildArtifactPath); err != nil {
			return fmt.Errorf("failed to check if BuildArtifactPath exist at: %s, error: %s", buildArtifactPath, err)
		} else if !exist {
			return fmt.Errorf("BuildArtifactPath not exist at: %s", buildArtifactPath)
		}
	}
	return nil
}

func loadArtifacts(paths []string) ([]artifact, error) {
	artifacts := make([]artifact, 0, len(paths))
	for _, pth := range paths {
		data, err := os.ReadFile(pth)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s, error: %s", pth, err)
		}

		switch {
		case isZipPackage(data):
			artifacts = append(artifacts, artifact{path: pth, data: data, isPackage: true})
		case axml.IsDocument(data):
			artifacts = append(artifacts, artifact{path: pth, data: data, isPackage: false})
		default:
			return nil, fmt.Errorf("%s is neither a zip-format package nor a compiled manifest", pth)
		}
	}
	return artifacts, nil
}

func hasPackage(artifacts []artifact) bool {
	for _, art := range artifacts {
		if art.isPackage {
			return true
		}
	}
	return false
}

func prepareSigningTools(cfg configs) (signingTools, error) {
	if cfg.KeystoreURL == "" || cfg.KeystorePassword == "" || cfg.KeystoreAlias == "" {
		return signingTools{}, fmt.Errorf("keystore_url, keystore_password and keystore_alias are required when a package input is provided")
	}

	tmpDir, err := pathutil.NormalizedOSTempDirPath("bitrise-make-debuggable")
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to create tmp dir: %s", err)
	}

	keystorePath := ""
	if strings.HasPrefix(cfg.KeystoreURL, "file://") {
		pth := strings.TrimPrefix(cfg.KeystoreURL, "file://")
		keystorePath, err = pathutil.AbsPath(pth)
		if err != nil {
			return signingTools{}, fmt.Errorf("failed to expand path (%s): %s", pth, err)
		}
	} else {
		log.Infof("Download keystore")
		keystorePath = path.Join(tmpDir, "keystore.jks")
		if err := download(cfg.KeystoreURL, keystorePath); err != nil {
			return signingTools{}, fmt.Errorf("failed to download keystore: %s", err)
		}
	}
	log.Printf("using keystore at: %s", keystorePath)

	keystoreHelper, err := keystore.NewHelper(keystorePath, cfg.KeystorePassword, cfg.KeystoreAlias)
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to create keystore helper: %s", err)
	}

	androidHome := os.Getenv("ANDROID_HOME")
	log.Printf("android_home: %s", androidHome)

	androidSDK, err := sdk.New(androidHome)
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to create SDK model: %s", err)
	}

	aapt, err := androidSDK.LatestBuildToolPath("aapt")
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to find AAPT path: %s", err)
	}
	log.Printf("aapt: %s", aapt)

	zipalign, err := androidSDK.LatestBuildToolPath("zipalign")
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to find zipalign path: %s", err)
	}
	log.Printf("zipalign: %s", zipalign)

	apkSigner, err := NewKeystoreSignatureConfiguration(keystorePath, cfg.KeystorePassword, cfg.KeystoreAlias, cfg.PrivateKeyPassword, cfg.SignerScheme)
	if err != nil {
		return signingTools{}, fmt.Errorf("failed to create signature configuration: %s", err)
	}

	return signingTools{
		tmpDir:         tmpDir,
		aapt:           aapt,
		zipalign:       zipalign,
		apkSigner:      apkSigner,
		keystoreHelper: keystoreHelper,
	}, nil
}

// -----------------------
// --- Main
// -----------------------
func main() {
	var cfg configs
	if err := stepconf.Parse(&cfg); err != nil {
		failf("Process config: failed to parse input: %s", err)
	}
	pageAlignConfig := parsePageAlign(cfg.PageAlign)

	stepconf.Print(cfg)
	log.SetEnableDebugLog(cfg.VerboseLog)
	fmt.Println()

	if err := validate(cfg); err != nil {
		failf("Process config: failed to validate input: %s", err)
	}
	debuggable := cfg.Debuggable == "true"

	artifacts, err := loadArtifacts(parseAppList(cfg.AndroidApp))
	if err != nil {
		failf("Run: %s", err)
	}

	var signing signingTools
	if hasPackage(artifacts) {
		signing, err = prepareSigningTools(cfg)
		if err != nil {
			failf("Run: %s", err)
		}
	}
	// ---

	fmt.Println()
	log.Infof("Patching %d Build Artifacts", len(artifacts))

	if len(artifacts) > 1 && cfg.OutputName != "" {
		log.Warnf("output_name is set and more than one artifact found, disabling artifact renaming as it would result in overwriting exported artifacts")
		fmt.Println()
		cfg.OutputName = ""
	}

	signedAPKPaths := make([]string, 0)
	for i, art := range artifacts {
		log.Donef("%d/%d patching %s", i+1, len(artifacts), art.path)
		fmt.Println()

		if !art.isPackage {
			patched, err := axml.SetDebuggable(art.data, debuggable)
			if err != nil {
				failf("Run: failed to patch manifest (%s): %s", art.path, err)
			}
			outPth := manifestOutputPath(art.path, cfg.OutputName)
			if err := os.WriteFile(outPth, patched, 0644); err != nil {
				failf("Run: failed to write patched manifest: %s", err)
			}
			log.Donef("Patched manifest is now available at: %s", outPth)
			fmt.Println()
			continue
		}

		fullPath := patchAndSignPackage(art, signing, cfg, pageAlignConfig, debuggable)
		signedAPKPaths = append(signedAPKPaths, fullPath)
		fmt.Println()
		// ---
	}

	if len(signedAPKPaths) > 0 {
		exportAPK(signedAPKPaths, strings.Join(signedAPKPaths, "|"))
	} else {
		log.Debugf("No Signed APK was exported - skip BITRISE_SIGNED_APK_PATH Environment Variable export")
		log.Debugf("No Signed APK was exported - skip BITRISE_SIGNED_APK_PATH_LIST Environment Variable export")
	}
}

func patchAndSignPackage(art artifact, signing signingTools, cfg configs, pageAlignConfig pageAlignStatus, debuggable bool) string {
	artifactExt := path.Ext(art.path)
	buildArtifactDir := path.Dir(art.path)
	buildArtifactBasename := prettyBuildArtifactBasename(art.path)

	log.Infof("Patch %s", manifestEntryName)
	patched, err := patchPackage(art.data, debuggable)
	if err != nil {
		failf("Run: failed to patch package: %s", err)
	}

	unsignedBuildArtifactPth := filepath.Join(signing.tmpDir, "unsigned"+artifactExt)
	if err := os.WriteFile(unsignedBuildArtifactPth, patched, 0600); err != nil {
		failf("Run: failed to write patched package: %s", err)
	}
	fmt.Println()

	signerTool := cfg.SignerTool
	if signerTool == string(automaticSignerTool) {
		signerTool = string(apksignerSignerTool)
	}

	if signerTool == string(jarsignerSignerTool) {
		isSigned, err := isBuildArtifactSigned(signing.aapt, unsignedBuildArtifactPth)
		if err != nil {
			failf("Run: failed to check if build artifact is signed: %s", err)
		}

		if isSigned {
			log.Printf("Signature file (DSA or RSA) found in META-INF, unsigning the build artifact...")
			if err := unsignBuildArtifact(signing.aapt, unsignedBuildArtifactPth); err != nil {
				failf("Run: failed to un-sign Build Artifact: %s", err)
			}
			fmt.Println()
		} else {
			log.Printf("No signature file (DSA or RSA) found in META-INF, skipping build artifact unsign...")
			fmt.Println()
		}
	} else {
		log.Printf("Skipping removal of existing signature as apksigner can re-sign already signed apk.")
	}

	var fullPath string
	if signerTool == string(apksignerSignerTool) {
		fullPath = signAPK(signing.zipalign, unsignedBuildArtifactPth, buildArtifactDir, buildArtifactBasename, artifactExt, cfg.OutputName, signing.apkSigner, pageAlignConfig)
	} else {
		fullPath = signJarSigner(signing.zipalign, signing.tmpDir, unsignedBuildArtifactPth, buildArtifactDir, buildArtifactBasename, artifactExt, cfg.PrivateKeyPassword, cfg.OutputName, signing.keystoreHelper, pageAlignConfig)
	}

	if state, err := parseAPKdebuggable(fullPath); err != nil {
		log.Warnf("Failed to read back debuggable state of %s: %s", fullPath, err)
	} else {
		log.Printf("debuggable state of %s: %t", path.Base(fullPath), state)
	}

	return fullPath
}

func signJarSigner(zipalign, tmpDir string, unsignedBuildArtifactPth string, buildArtifactDir string, buildArtifactBasename string, artifactExt string, privateKeyPassword string, outputName string, keystoreHelper keystore.Helper, pageAlignConfig pageAlignStatus) string {
	unalignedBuildArtifactPth := filepath.Join(tmpDir, "unaligned"+artifactExt)
	log.Infof("Sign Build Artifact with Jarsigner: %s", unsignedBuildArtifactPth)
	if err := keystoreHelper.SignBuildArtifact(unsignedBuildArtifactPth, unalignedBuildArtifactPth, privateKeyPassword); err != nil {
		failf("Run: failed to sign Build Artifact: %s", err)
	}
	fmt.Println()

	log.Infof("Verify Build Artifact")
	if err := keystoreHelper.VerifyBuildArtifact(unalignedBuildArtifactPth); err != nil {
		failf("Run: failed to verify Build Artifact: %s", err)
	}
	fmt.Println()

	fullPath, err := zipAlignArtifact(zipalign, unalignedBuildArtifactPth, buildArtifactDir, buildArtifactBasename, artifactExt, "signed", outputName, pageAlignConfig)
	if err != nil {
		failf("Run: failed to zipalign Build Artifact: %s", err)
	}

	return fullPath
}

func signAPK(zipalign, unsignedBuildArtifactPth, buildArtifactDir, buildArtifactBasename, artifactExt, outputName string, apkSigner SignatureConfiguration, pageAlignConfig pageAlignStatus) string {
	alignedPath, err := zipAlignArtifact(zipalign, unsignedBuildArtifactPth, buildArtifactDir, buildArtifactBasename, artifactExt, "aligned", "", pageAlignConfig)
	if err != nil {
		failf("Run: failed to zipalign Build Artifact: %s", err)
	}

	signedArtifactName := fmt.Sprintf("%s-debuggable-signed%s", buildArtifactBasename, artifactExt)
	if artifactName := fmt.Sprintf("%s%s", outputName, artifactExt); outputName != "" {
		log.Printf("- Exporting (%s) as: %s", signedArtifactName, artifactName)
		signedArtifactName = artifactName
	}
	fullPath := filepath.Join(buildArtifactDir, signedArtifactName)

	fmt.Println()
	log.Infof("Sign Build Artifact with APKSigner: %s", alignedPath)
	err = apkSigner.SignBuildArtifact(alignedPath, fullPath)
	if err != nil {
		failf("Run: failed to sign build artifact: %s", err)
	}

	fmt.Println()
	log.Infof("Verify Build Artifact")
	err = apkSigner.VerifyBuildArtifact(fullPath)
	if err != nil {
		failf("Run: failed to verify build artifact: %s", err)
	}

	return fullPath
}

func exportAPK(signedAPKPaths []string, joinedAPKOutputPaths string) {
	if err := tools.ExportEnvironmentWithEnvman("BITRISE_SIGNED_APK_PATH", signedAPKPaths[len(signedAPKPaths)-1]); err != nil {
		log.Warnf("Failed to export APK (%s) error: %s", signedAPKPaths[len(signedAPKPaths)-1], err)
	} else {
		log.Donef("The Signed APK path is now available in the Environment Variable: BITRISE_SIGNED_APK_PATH (value: %s)", signedAPKPaths[len(signedAPKPaths)-1])
	}

	if err := tools.ExportEnvironmentWithEnvman("BITRISE_SIGNED_APK_PATH_LIST", joinedAPKOutputPaths); err != nil {
		log.Warnf("Failed to export APK list (%s), error: %s", joinedAPKOutputPaths, err)
	} else {
		log.Donef("The Signed APK path list is now available in the Environment Variable: BITRISE_SIGNED_APK_PATH_LIST (value: %s)", joinedAPKOutputPaths)
	}

	if err := tools.ExportEnvironmentWithEnvman("BITRISE_APK_PATH", joinedAPKOutputPaths); err != nil {
		log.Warnf("Failed to export APK list (%s), error: %s", joinedAPKOutputPaths, err)
	} else {
		log.Donef("The Signed APK path is now available in the Environment Variable: BITRISE_APK_PATH (value: %s)", joinedAPKOutputPaths)
	}
}
