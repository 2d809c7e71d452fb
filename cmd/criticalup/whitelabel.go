package main

import (
	"encoding/json"
	"os"

	"github.com/skade/criticalup/config"
	"github.com/skade/criticalup/trust"
)

// Environment overrides for rebranded or test deployments.
const (
	envDownloadServerURL = "CRITICALUP_DOWNLOAD_SERVER_URL"
	envTrustRoot         = "CRITICALUP_TRUST_ROOT"
)

const defaultDownloadServerURL = "https://criticalup-downloads.ferrocene.dev"

// defaultTrustRoot is the production trust root baked into this build.
const defaultTrustRoot = `{
	"role": "root",
	"algorithm": "ecdsa-p256-sha256-asn1-spki-der",
	"expiry": null,
	"public": "MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE+S7QgNLkBo2VEMdZXowZUFmvQJMm6qoQtC33hvDB95HpjPXd50eBEUnEuVRye5qC84K7ZHpoAXWf5BzmcFtvVg=="
}`

func whitelabel() config.Whitelabel {
	serverURL := defaultDownloadServerURL
	if url := os.Getenv(envDownloadServerURL); url != "" {
		serverURL = url
	}

	trustRootJSON := defaultTrustRoot
	if override := os.Getenv(envTrustRoot); override != "" {
		trustRootJSON = override
	}
	var trustRoot trust.PublicKey
	if err := json.Unmarshal([]byte(trustRootJSON), &trustRoot); err != nil {
		// The baked-in key always parses; only an override can fail, and a
		// broken root is caught again when the keychain is built.
		trustRoot = trust.PublicKey{}
	}

	return config.Whitelabel{
		Name:              "criticalup",
		HTTPUserAgent:     "criticalup",
		DownloadServerURL: serverURL,
		TrustRoot:         &trustRoot,
	}
}
