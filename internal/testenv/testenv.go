// Package testenv provides shared helpers for tests: ephemeral key sets,
// pre-populated keychains and a mock download server.
package testenv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skade/criticalup/config"
	"github.com/skade/criticalup/state"
	"github.com/skade/criticalup/trust"
)

// Sample token data served by the mock download server.
const (
	SampleToken         = "criticalup-token-deadbeef"
	SampleTokenName     = "production"
	SampleTokenCustomer = "Sample Customer"
	SampleTokenExpiry   = "2030-01-01T00:00:00Z"
)

// Keys is a full set of ephemeral signing keys: the chain anchored at
// TrustRoot that a client should end up trusting, plus an alternate chain
// anchored at a foreign trust root that it must never admit.
type Keys struct {
	TrustRoot *trust.EphemeralKeyPair
	Root      *trust.EphemeralKeyPair
	Packages  *trust.EphemeralKeyPair
	Releases  *trust.EphemeralKeyPair
	Redirects *trust.EphemeralKeyPair

	AlternateTrustRoot *trust.EphemeralKeyPair
	AlternateRoot      *trust.EphemeralKeyPair
	AlternatePackages  *trust.EphemeralKeyPair
}

// NewKeys generates a fresh key set.
func NewKeys(t *testing.T) *Keys {
	t.Helper()

	generate := func(role trust.KeyRole) *trust.EphemeralKeyPair {
		key, err := trust.GenerateEphemeralKeyPair(
			trust.KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer, role, nil)
		require.NoError(t, err)
		return key
	}

	return &Keys{
		TrustRoot: generate(trust.KeyRoleRoot),
		Root:      generate(trust.KeyRoleRoot),
		Packages:  generate(trust.KeyRolePackages),
		Releases:  generate(trust.KeyRoleReleases),
		Redirects: generate(trust.KeyRoleRedirects),

		AlternateTrustRoot: generate(trust.KeyRoleRoot),
		AlternateRoot:      generate(trust.KeyRoleRoot),
		AlternatePackages:  generate(trust.KeyRolePackages),
	}
}

// SignKey wraps the public half of key in a manifest entry signed by signer.
func SignKey(t *testing.T, signer trust.KeyPair, key *trust.EphemeralKeyPair) *trust.SignedPayload[trust.PublicKey] {
	t.Helper()

	entry, err := trust.NewSignedPayload(key.Public())
	require.NoError(t, err)
	require.NoError(t, entry.AddSignature(signer))
	return entry
}

// KeysManifest builds the manifest the mock server serves: the main chain
// (Root signed by TrustRoot, role keys signed by Root) interleaved with the
// alternate chain, which is signed by a trust root the client does not have.
func (k *Keys) KeysManifest(t *testing.T) *trust.KeysManifest {
	t.Helper()

	return &trust.KeysManifest{
		Version: trust.ManifestVersion,
		Keys: []*trust.SignedPayload[trust.PublicKey]{
			SignKey(t, k.TrustRoot, k.Root),
			SignKey(t, k.AlternateTrustRoot, k.AlternateRoot),
			SignKey(t, k.Root, k.Packages),
			SignKey(t, k.AlternateRoot, k.AlternatePackages),
			SignKey(t, k.Root, k.Releases),
			SignKey(t, k.Root, k.Redirects),
		},
	}
}

// Keychain builds a keychain trusting the whole main chain.
func (k *Keys) Keychain(t *testing.T) *trust.Keychain {
	t.Helper()

	keychain, err := trust.NewKeychain(k.TrustRoot.Public())
	require.NoError(t, err)
	for _, key := range []*trust.EphemeralKeyPair{k.Root, k.Packages, k.Releases, k.Redirects} {
		require.NoError(t, keychain.Load(SignKey(t, k.TrustRoot, key)))
	}
	return keychain
}

// NewConfig builds a configuration rooted in a temp directory, pointing at
// serverURL and trusting the key set's trust root.
func NewConfig(t *testing.T, keys *Keys, serverURL string) *config.Config {
	t.Helper()

	root := t.TempDir()
	return &config.Config{
		Whitelabel: config.Whitelabel{
			Name:              "criticalup",
			HTTPUserAgent:     "criticalup-tests",
			DownloadServerURL: serverURL,
			TrustRoot:         keys.TrustRoot.Public(),
			TestMode:          true,
		},
		Paths: config.Paths{
			RootDir:          root,
			StateFile:        filepath.Join(root, "state.json"),
			ProxiesDir:       filepath.Join(root, "proxy"),
			InstallationsDir: filepath.Join(root, "toolchains"),
			CacheDir:         filepath.Join(root, "cache"),
		},
	}
}

// NewState builds a state with the sample token configured.
func NewState(t *testing.T, cfg *config.Config) *state.State {
	t.Helper()

	st, err := state.Load(cfg.Paths.StateFile)
	require.NoError(t, err)
	token := state.SealToken(SampleToken)
	st.SetAuthenticationToken(&token)
	return st
}

// DownloadServer is a mock download server implementing the /v1 surface.
type DownloadServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  int
	keys      *trust.KeysManifest
	releases  map[string]*trust.ReleaseManifest
	artifacts map[string][]byte
}

// NewDownloadServer starts a mock server serving the given keys manifest.
// It shuts down when the test finishes.
func NewDownloadServer(t *testing.T, keys *trust.KeysManifest) *DownloadServer {
	t.Helper()

	ds := &DownloadServer{
		keys:      keys,
		releases:  map[string]*trust.ReleaseManifest{},
		artifacts: map[string][]byte{},
	}
	ds.Server = httptest.NewServer(http.HandlerFunc(ds.handle))
	t.Cleanup(ds.Close)
	return ds
}

// AddRelease serves a release manifest for the product release.
func (ds *DownloadServer) AddRelease(product, release string, manifest *trust.ReleaseManifest) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.releases[product+"/"+release] = manifest
}

// AddArtifact serves artifact bytes for the package download endpoint.
func (ds *DownloadServer) AddArtifact(product, release, pkg string, format trust.ArtifactFormat, content []byte) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.artifacts[product+"/"+release+"/"+pkg+"/"+string(format)] = content
}

// RequestsServed returns how many requests reached the server.
func (ds *DownloadServer) RequestsServed() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.requests
}

func (ds *DownloadServer) handle(w http.ResponseWriter, r *http.Request) {
	ds.mu.Lock()
	ds.requests++
	ds.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/keys":
		// The keys endpoint requires no authentication.
		ds.writeJSON(w, ds.keys)

	case r.URL.Path == "/v1/tokens/current":
		if !ds.authorized(w, r) {
			return
		}
		ds.writeJSON(w, map[string]any{
			"name":              SampleTokenName,
			"organization-name": SampleTokenCustomer,
			"expires-at":        SampleTokenExpiry,
		})

	case strings.HasPrefix(r.URL.Path, "/v1/releases/"):
		if !ds.authorized(w, r) {
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/releases/"), "/")

		ds.mu.Lock()
		defer ds.mu.Unlock()
		switch {
		case len(parts) == 2:
			if manifest, ok := ds.releases[parts[0]+"/"+parts[1]]; ok {
				ds.writeJSON(w, manifest)
				return
			}
			http.Error(w, "not found", http.StatusNotFound)
		case len(parts) == 5 && parts[2] == "download":
			if content, ok := ds.artifacts[parts[0]+"/"+parts[1]+"/"+parts[3]+"/"+parts[4]]; ok {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(content)
				return
			}
			http.Error(w, "not found", http.StatusNotFound)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (ds *DownloadServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+SampleToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (ds *DownloadServer) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	encoded, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(encoded)
}
