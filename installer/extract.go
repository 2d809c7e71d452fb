package installer

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/skade/criticalup/trust"
)

// packageManifestName is the file inside an artifact carrying the signed
// package manifest.
const packageManifestName = "criticaltrust.json"

// extractArtifact unpacks a downloaded artifact into dest and returns the
// signed package manifest found inside it, if any. The manifest is returned
// unverified; the caller decides what to trust.
//
// Entries are confined to dest: absolute paths, parent traversal and entry
// types other than files and directories are rejected.
func extractArtifact(archive []byte, format trust.ArtifactFormat, dest string) (*trust.PackageManifest, error) {
	var reader io.Reader
	switch format {
	case trust.ArtifactFormatTarZst:
		zr, err := zstd.NewReader(bytes.NewReader(archive))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr

	case trust.ArtifactFormatTarGz:
		gr, err := gzip.NewReader(bytes.NewReader(archive))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		reader = gr

	default:
		return nil, fmt.Errorf("%w: %s", ErrNoSupportedArtifact, format)
	}

	var manifest *trust.PackageManifest

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return manifest, nil
		}
		if err != nil {
			return nil, err
		}

		name, err := safeRelativePath(header.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dest, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}

		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			if name == packageManifestName {
				manifest = new(trust.PackageManifest)
				if err := json.Unmarshal(content, manifest); err != nil {
					return nil, err
				}
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			mode := os.FileMode(header.Mode).Perm()
			if err := os.WriteFile(target, content, mode); err != nil {
				return nil, err
			}
			// WriteFile honors the umask; the manifest mode is authoritative.
			if err := os.Chmod(target, mode); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedArchiveEntry, header.Name)
		}
	}
}

// safeRelativePath normalizes an archive entry name and rejects anything
// that would resolve outside the extraction directory.
func safeRelativePath(name string) (string, error) {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchivePath, name)
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchivePath, name)
	}
	return cleaned, nil
}
