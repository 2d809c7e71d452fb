// Package state persists the local installation state: the authentication
// token for the download server and the bookkeeping of what is installed.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FormatVersion is the state file format written by this build. Files with a
// different version are rejected rather than guessed at.
const FormatVersion = 1

// DockerSecretPath is where the authentication token is mounted when running
// inside a container.
const DockerSecretPath = "/run/secrets/CRITICALUP_TOKEN"

// Sentinel errors for state handling.
var (
	// ErrCorruptStateFile is returned when the state file exists but cannot
	// be parsed.
	ErrCorruptStateFile = errors.New("state: corrupt state file")

	// ErrUnsupportedFormatVersion is returned when the state file was
	// written by an incompatible version.
	ErrUnsupportedFormatVersion = errors.New("state: unsupported state file format version")

	// ErrUnknownInstallation is returned when an installation id is not
	// recorded in the state.
	ErrUnknownInstallation = errors.New("state: unknown installation")
)

// AuthenticationToken seals the download server secret. Its String and
// GoString forms are redacted so the secret cannot leak through logging or
// error formatting; only Unseal exposes it, at the call sites that actually
// put it on the wire.
type AuthenticationToken struct {
	inner string
}

// SealToken wraps a raw secret.
func SealToken(secret string) AuthenticationToken {
	return AuthenticationToken{inner: secret}
}

// Unseal returns the raw secret.
func (t AuthenticationToken) Unseal() string {
	return t.inner
}

func (t AuthenticationToken) String() string {
	return "<authentication token>"
}

func (t AuthenticationToken) GoString() string {
	return t.String()
}

// MarshalJSON writes the raw secret; the state file is the one place it is
// allowed to rest.
func (t AuthenticationToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.inner)
}

// UnmarshalJSON reads the raw secret.
func (t *AuthenticationToken) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &t.inner)
}

// Installation records what one installed toolchain contributed to the local
// environment.
type Installation struct {
	// BinaryProxies maps proxy binary names to the installed binaries they
	// dispatch to.
	BinaryProxies map[string]string `json:"binary_proxies"`

	// Manifests lists the project manifests that requested this
	// installation.
	Manifests []string `json:"manifests"`
}

type stateData struct {
	Version             int                     `json:"version"`
	AuthenticationToken *AuthenticationToken    `json:"authentication_token"`
	Installations       map[string]Installation `json:"installations"`
}

// State is the in-memory view of the state file. Mutations only touch disk
// when Persist is called; persistence is atomic (temp file plus rename).
//
// State is safe for concurrent use.
type State struct {
	path string

	mu   sync.Mutex
	data stateData
}

// Load reads the state file at path. A missing file yields a fresh empty
// state; an unreadable or unparsable one is an error, so a corrupt file
// surfaces instead of being silently replaced.
func Load(path string) (*State, error) {
	s := &State{
		path: path,
		data: stateData{
			Version:       FormatVersion,
			Installations: map[string]Installation{},
		},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var data stateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStateFile, err)
	}
	if data.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormatVersion, data.Version)
	}
	if data.Installations == nil {
		data.Installations = map[string]Installation{}
	}

	s.data = data
	return s, nil
}

// Persist writes the state file atomically, creating parent directories as
// needed. The file is only readable by the owner since it holds the sealed
// token.
func (s *State) Persist() error {
	s.mu.Lock()
	encoded, err := json.MarshalIndent(&s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// AuthenticationToken returns the token to authenticate with. Inside a
// container the Docker secret takes precedence over the state file, so
// mounted credentials work without an auth command. Returns nil when no
// token is configured.
func (s *State) AuthenticationToken(dockerSecretPath string) *AuthenticationToken {
	if dockerSecretPath != "" {
		if raw, err := os.ReadFile(dockerSecretPath); err == nil {
			token := SealToken(string(raw))
			return &token
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.AuthenticationToken
}

// SetAuthenticationToken replaces the stored token. Passing nil removes it.
func (s *State) SetAuthenticationToken(token *AuthenticationToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AuthenticationToken = token
}

// Installation returns the recorded installation with the given id.
func (s *State) Installation(id string) (Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	installation, ok := s.data.Installations[id]
	if !ok {
		return Installation{}, fmt.Errorf("%w: %s", ErrUnknownInstallation, id)
	}
	return installation, nil
}

// AddInstallation records an installation, replacing any previous record
// with the same id.
func (s *State) AddInstallation(id string, installation Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Installations[id] = installation
}

// RemoveInstallation drops the record of an installation.
func (s *State) RemoveInstallation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Installations, id)
}

// InstallationIDs returns the ids of all recorded installations.
func (s *State) InstallationIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data.Installations))
	for id := range s.data.Installations {
		ids = append(ids, id)
	}
	return ids
}
