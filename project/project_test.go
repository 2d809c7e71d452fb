package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
manifest-version = 1

[products.ferrocene]
release = "stable-25.08.0"
packages = ["rustc-x86_64-unknown-linux-gnu", "rust-std-x86_64-unknown-linux-gnu"]
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, t.TempDir(), sampleManifest)

	manifest, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ManifestVersion, manifest.ManifestVersion)
	assert.Equal(t, path, manifest.Path)

	product, ok := manifest.Products["ferrocene"]
	require.True(t, ok)
	assert.Equal(t, "stable-25.08.0", product.Release)
	assert.Len(t, product.Packages, 2)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
		wantErr  error
	}{
		{
			name:     "not toml",
			contents: "this is { not toml",
			wantErr:  ErrInvalidManifest,
		},
		{
			name:     "unsupported version",
			contents: "manifest-version = 99",
			wantErr:  ErrUnsupportedManifestVersion,
		},
		{
			name:     "missing version",
			contents: "[products.ferrocene]\nrelease = \"x\"",
			wantErr:  ErrUnsupportedManifestVersion,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeManifest(t, t.TempDir(), tt.contents)
			_, err := Load(path)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), ManifestName))
	require.ErrorIs(t, err, ErrManifestNotFound)
}

func TestDiscoverWalksParents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeManifest(t, root, sampleManifest)

	nested := filepath.Join(root, "src", "deeply", "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	manifest, err := Discover("", nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ManifestName), manifest.Path)
}

func TestDiscoverNotFound(t *testing.T) {
	t.Parallel()

	_, err := Discover("", t.TempDir())
	require.ErrorIs(t, err, ErrManifestNotFound)
}

func TestDiscoverExplicitPathWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	explicit := filepath.Join(dir, "elsewhere.toml")
	require.NoError(t, os.WriteFile(explicit, []byte(sampleManifest), 0o644))

	manifest, err := Discover(explicit, dir)
	require.NoError(t, err)
	assert.Equal(t, explicit, manifest.Path)
}

func TestInstallationID(t *testing.T) {
	t.Parallel()

	a := Product{Release: "stable-25.08.0", Packages: []string{"rustc", "rust-std"}}
	b := Product{Release: "stable-25.08.0", Packages: []string{"rust-std", "rustc"}}
	c := Product{Release: "stable-25.09.0", Packages: []string{"rustc", "rust-std"}}

	// Package order doesn't matter; everything else does.
	assert.Equal(t, a.InstallationID("ferrocene"), b.InstallationID("ferrocene"))
	assert.NotEqual(t, a.InstallationID("ferrocene"), c.InstallationID("ferrocene"))
	assert.NotEqual(t, a.InstallationID("ferrocene"), a.InstallationID("other"))
}

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()

	path := filepath.Join(dir, ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
