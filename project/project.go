// Package project loads the criticalup.toml project manifest declaring which
// products and packages a project needs.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ManifestName is the file name looked up during discovery.
const ManifestName = "criticalup.toml"

// ManifestVersion is the manifest format this build understands.
const ManifestVersion = 1

// Sentinel errors for manifest handling.
var (
	// ErrManifestNotFound is returned when no manifest exists at the given
	// path or in any parent of the starting directory.
	ErrManifestNotFound = errors.New("project: manifest not found")

	// ErrInvalidManifest is returned when the manifest cannot be parsed.
	ErrInvalidManifest = errors.New("project: invalid manifest")

	// ErrUnsupportedManifestVersion is returned when the manifest declares a
	// version this build does not understand.
	ErrUnsupportedManifestVersion = errors.New("project: unsupported manifest version")
)

// Manifest is a parsed project manifest.
type Manifest struct {
	ManifestVersion int                `toml:"manifest-version"`
	Products        map[string]Product `toml:"products"`

	// Path is where the manifest was loaded from. Not part of the file.
	Path string `toml:"-"`
}

// Product is one product requested by a project: the release to install and
// the packages wanted from it.
type Product struct {
	Release  string   `toml:"release"`
	Packages []string `toml:"packages"`
}

// InstallationID derives a stable identifier for the installation a product
// resolves to. Two products requesting the same release and package set (in
// any order) share an installation.
func (p Product) InstallationID(name string) string {
	packages := append([]string(nil), p.Packages...)
	sort.Strings(packages)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", name, p.Release, strings.Join(packages, "\x00"))
	return hex.EncodeToString(h.Sum(nil))
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := toml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if manifest.ManifestVersion != ManifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedManifestVersion, manifest.ManifestVersion)
	}

	manifest.Path = path
	return &manifest, nil
}

// Discover locates the manifest. With an explicit path it is used as-is;
// otherwise the walk starts at start (the working directory when empty) and
// climbs parent directories until a manifest is found.
func Discover(explicit, start string) (*Manifest, error) {
	if explicit != "" {
		return Load(explicit)
	}

	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w: searched %s and its parents", ErrManifestNotFound, start)
		}
		dir = parent
	}
}

// DiscoverCanonical discovers the manifest and returns its canonical path,
// with symlinks resolved. Binary proxies use this path to find the project
// they run within.
func DiscoverCanonical(explicit, start string) (string, error) {
	manifest, err := Discover(explicit, start)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(manifest.Path)
}
