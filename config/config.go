// Package config assembles the whitelabel identity of the product with the
// filesystem layout derived from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skade/criticalup/trust"
)

// EnvRoot overrides the root directory all local files live under.
const EnvRoot = "CRITICALUP_ROOT"

// ErrNoRootDirectory is returned when no root directory could be determined
// from the environment or the platform directories.
var ErrNoRootDirectory = errors.New("config: could not determine the root directory")

// Whitelabel is the compile-time identity of the product: its name, the
// download server it talks to and the trust root its keychains are anchored
// at. Rebranded distributions swap this value and nothing else.
type Whitelabel struct {
	// Name is the product name, used for directory names.
	Name string

	// HTTPUserAgent is sent on every download server request.
	HTTPUserAgent string

	// DownloadServerURL is the base URL of the download server, without a
	// trailing slash.
	DownloadServerURL string

	// TrustRoot is the unconditionally trusted public key keychains are
	// bootstrapped with.
	TrustRoot *trust.PublicKey

	// TestMode disables environment detection (the container token secret)
	// so the test suite is isolated from the machine it runs on.
	TestMode bool
}

// Paths is the local filesystem layout.
type Paths struct {
	// RootDir is the directory everything else lives under.
	RootDir string

	// StateFile holds persistent state (auth token, installations).
	StateFile string

	// ProxiesDir holds the binary proxies dispatched by the run command.
	ProxiesDir string

	// InstallationsDir holds one subdirectory per installation.
	InstallationsDir string

	// CacheDir holds the content-addressed download cache.
	CacheDir string
}

// Config pairs a whitelabel with its derived paths.
type Config struct {
	Whitelabel Whitelabel
	Paths      Paths
}

// Load derives the filesystem layout for the given whitelabel. The root
// directory comes from the EnvRoot environment variable when set, and from
// the platform user config directory otherwise. The cache always lives under
// the platform user cache directory unless EnvRoot is set.
func Load(whitelabel Whitelabel) (*Config, error) {
	root := os.Getenv(EnvRoot)
	cache := ""

	if root == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoRootDirectory, err)
		}
		root = filepath.Join(configDir, whitelabel.Name)

		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoRootDirectory, err)
		}
		cache = filepath.Join(cacheDir, whitelabel.Name)
	} else {
		cache = filepath.Join(root, "cache")
	}

	return &Config{
		Whitelabel: whitelabel,
		Paths: Paths{
			RootDir:          root,
			StateFile:        filepath.Join(root, "state.json"),
			ProxiesDir:       filepath.Join(root, "proxy"),
			InstallationsDir: filepath.Join(root, "toolchains"),
			CacheDir:         cache,
		},
	}, nil
}
