package trust

import "github.com/opencontainers/go-digest"

// ManifestVersion is the current version of the manifest wire formats.
const ManifestVersion = 1

// KeysManifest is the response of the download server's keys endpoint: the
// set of signed key manifest entries a keychain can be bootstrapped from.
// Each entry is individually signed and individually admissible.
type KeysManifest struct {
	Version int                         `json:"version"`
	Keys    []*SignedPayload[PublicKey] `json:"keys"`
}

// ArtifactFormat is the archive format of a release artifact.
type ArtifactFormat string

// Supported artifact formats.
const (
	ArtifactFormatTarZst ArtifactFormat = "tar.zst"
	ArtifactFormatTarGz  ArtifactFormat = "tar.gz"
)

// ReleaseManifest wraps a signed [Release].
type ReleaseManifest struct {
	Version int                     `json:"version"`
	Signed  *SignedPayload[Release] `json:"signed"`
}

// Release describes one release of a product: the packages it consists of
// and the artifacts they can be downloaded as.
type Release struct {
	Product  string           `json:"product"`
	Release  string           `json:"release"`
	Commit   string           `json:"commit"`
	Packages []ReleasePackage `json:"packages"`
}

// SignedByRole implements [Signable].
func (Release) SignedByRole() KeyRole {
	return KeyRoleReleases
}

// ReleasePackage is one installable package within a release.
type ReleasePackage struct {
	Package      string            `json:"package"`
	Artifacts    []ReleaseArtifact `json:"artifacts"`
	Dependencies []string          `json:"dependencies"`
}

// ReleaseArtifact is one downloadable archive of a package. The digest is
// checked against the downloaded bytes before anything else touches them.
type ReleaseArtifact struct {
	Format ArtifactFormat `json:"format"`
	Size   int64          `json:"size"`
	Digest digest.Digest  `json:"digest"`
}

// PackageManifest wraps a signed [Package].
type PackageManifest struct {
	Version int                     `json:"version"`
	Signed  *SignedPayload[Package] `json:"signed"`
}

// Package describes the contents of one installed package: the files it
// ships, their modes and digests, and the prefixes it manages.
type Package struct {
	Product         string        `json:"product"`
	Package         string        `json:"package"`
	Commit          string        `json:"commit"`
	ManagedPrefixes []string      `json:"managed_prefixes"`
	Files           []PackageFile `json:"files"`
}

// SignedByRole implements [Signable].
func (Package) SignedByRole() KeyRole {
	return KeyRolePackages
}

// PackageFile is one file within a package.
type PackageFile struct {
	Path       string        `json:"path"`
	PosixMode  uint32        `json:"posix_mode"`
	Digest     digest.Digest `json:"digest"`
	NeedsProxy bool          `json:"needs_proxy"`
}

// Redirect points a download at its actual location while pinning the
// expected content digest.
type Redirect struct {
	To     string        `json:"to"`
	Digest digest.Digest `json:"digest"`
}

// SignedByRole implements [Signable].
func (Redirect) SignedByRole() KeyRole {
	return KeyRoleRedirects
}
