package main

import (
	"fmt"
	"os"

	"github.com/bitrise-tools/go-android/sdk"
)

// KeystoreSignatureConfiguration ...
type KeystoreSignatureConfiguration struct {
	keystorePth      string
	keystorePassword string
	aliasPassword    string
	alias            string
}

// SignatureConfiguration ...
type SignatureConfiguration struct {
	apkSigner             string
	signerScheme          string
	keystoreConfiguration *KeystoreSignatureConfiguration
}

func buildAPKSignerPath() (string, error) {
	androidHome := os.Getenv("ANDROID_HOME")
	androidSDK, err := sdk.New(androidHome)
	if err != nil {
		return "", fmt.Errorf("failed to create sdk model, error: %s", err)
	}

	signer, err := androidSDK.LatestBuildToolPath("apksigner")
	if err != nil {
		return "", fmt.Errorf("failed to find apksigner path, error: %s", err)
	}

	return signer, nil
}

// NewKeystoreSignatureConfiguration ...
func NewKeystoreSignatureConfiguration(keystore string, keystorePassword string, alias string, aliasPassword string, signerScheme string) (SignatureConfiguration, error) {
	apkSigner, err := buildAPKSignerPath()
	if err != nil {
		return SignatureConfiguration{}, err
	}

	keystoreConfig := KeystoreSignatureConfiguration{
		keystorePth:      keystore,
		keystorePassword: keystorePassword,
		alias:            alias,
		aliasPassword:    aliasPassword,
	}

	return SignatureConfiguration{
		apkSigner:             apkSigner,
		signerScheme:          signerScheme,
		keystoreConfiguration: &keystoreConfig,
	}, nil
}
