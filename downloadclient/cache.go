package downloadclient

import (
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// DiskCache is a content-addressed artifact cache. Entries are keyed by
// their digest and sharded over subdirectories to keep directory sizes
// manageable. Writes go through a temp file plus rename, so a crashed write
// never leaves a partial entry behind.
//
// Only digest-verified content may be stored: a cache hit is trusted without
// re-downloading.
type DiskCache struct {
	dir string
}

// NewDiskCache creates a cache rooted at dir, creating it if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Get retrieves the cached content for a digest.
func (c *DiskCache) Get(dgst digest.Digest) ([]byte, bool) {
	if dgst.Validate() != nil {
		return nil, false
	}
	content, err := os.ReadFile(c.path(dgst))
	if err != nil {
		return nil, false
	}
	return content, true
}

// Put stores content under its digest. Storing an already-present digest is
// a no-op.
func (c *DiskCache) Put(dgst digest.Digest, content []byte) error {
	if err := dgst.Validate(); err != nil {
		return err
	}

	finalPath := c.path(dgst)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (c *DiskCache) path(dgst digest.Digest) string {
	encoded := dgst.Encoded()
	return filepath.Join(c.dir, dgst.Algorithm().String(), encoded[:2], encoded)
}
