package installer

import "errors"

// Sentinel errors for installation.
var (
	// ErrUnknownPackage is returned when a project requests a package the
	// release does not contain.
	ErrUnknownPackage = errors.New("installer: package not part of the release")

	// ErrNoSupportedArtifact is returned when a package has no artifact in
	// a format this build can extract.
	ErrNoSupportedArtifact = errors.New("installer: no supported artifact format")

	// ErrUnsafeArchivePath is returned when an archive entry would escape
	// the installation directory.
	ErrUnsafeArchivePath = errors.New("installer: unsafe path in archive")

	// ErrUnsupportedArchiveEntry is returned when an archive contains an
	// entry type other than plain files and directories.
	ErrUnsupportedArchiveEntry = errors.New("installer: unsupported entry in archive")

	// ErrFileDigestMismatch is returned when an installed file does not
	// match the digest pinned in its package manifest.
	ErrFileDigestMismatch = errors.New("installer: installed file digest mismatch")

	// ErrMissingFile is returned when a package manifest lists a file the
	// archive did not contain.
	ErrMissingFile = errors.New("installer: file listed in package manifest missing from archive")
)
