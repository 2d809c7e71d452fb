// Package installer performs verified installations: it fetches signed
// release manifests, downloads package artifacts, verifies every digest in
// the chain and populates the installation and proxy directories.
package installer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/skade/criticalup/config"
	"github.com/skade/criticalup/project"
	"github.com/skade/criticalup/state"
	"github.com/skade/criticalup/trust"
)

// DownloadClient is the subset of the download client the installer needs.
type DownloadClient interface {
	ReleaseManifest(ctx context.Context, product, release string) (*trust.ReleaseManifest, error)
	DownloadPackage(ctx context.Context, release *trust.Release, pkg string, format trust.ArtifactFormat) ([]byte, error)
}

// supportedFormats is the preference order for artifact formats.
var supportedFormats = []trust.ArtifactFormat{
	trust.ArtifactFormatTarZst,
	trust.ArtifactFormatTarGz,
}

// Installer installs the products a project manifest requests.
type Installer struct {
	client      DownloadClient
	keychain    *trust.Keychain
	paths       config.Paths
	state       *state.State
	logger      *slog.Logger
	concurrency int
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets a logger for the installer.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithConcurrency bounds how many package downloads run at once.
func WithConcurrency(n int) Option {
	return func(i *Installer) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// New creates an installer downloading through client and verifying against
// keychain.
func New(client DownloadClient, keychain *trust.Keychain, paths config.Paths, st *state.State, opts ...Option) *Installer {
	i := &Installer{
		client:      client,
		keychain:    keychain,
		paths:       paths,
		state:       st,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install installs every product the manifest requests and persists the
// resulting state.
func (i *Installer) Install(ctx context.Context, manifest *project.Manifest) error {
	names := make([]string, 0, len(manifest.Products))
	for name := range manifest.Products {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := i.installProduct(ctx, name, manifest.Products[name], manifest.Path); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return i.state.Persist()
}

func (i *Installer) installProduct(ctx context.Context, name string, product project.Product, manifestPath string) error {
	id := product.InstallationID(name)
	i.logger.Debug("installing product",
		"product", name, "release", product.Release, "installation", id)

	releaseManifest, err := i.client.ReleaseManifest(ctx, name, product.Release)
	if err != nil {
		return err
	}
	release, err := releaseManifest.Signed.IntoVerified(i.keychain)
	if err != nil {
		return err
	}

	packages, err := resolvePackages(&release, product.Packages)
	if err != nil {
		return err
	}

	installDir := filepath.Join(i.paths.InstallationsDir, id)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return err
	}

	var mu sync.Mutex
	proxies := map[string]string{}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(i.concurrency)
	for _, pkg := range packages {
		pkg := pkg
		group.Go(func() error {
			binaries, err := i.installPackage(groupCtx, &release, pkg, installDir)
			if err != nil {
				return fmt.Errorf("package %s: %w", pkg, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for proxy, target := range binaries {
				proxies[proxy] = target
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if err := i.createProxies(proxies); err != nil {
		return err
	}
	i.state.AddInstallation(id, state.Installation{
		BinaryProxies: proxies,
		Manifests:     []string{manifestPath},
	})
	return nil
}

// installPackage downloads, extracts and verifies one package, returning the
// proxy binaries it contributes (proxy name to installed path).
func (i *Installer) installPackage(ctx context.Context, release *trust.Release, pkg, installDir string) (map[string]string, error) {
	format, err := pickFormat(release, pkg)
	if err != nil {
		return nil, err
	}

	archive, err := i.client.DownloadPackage(ctx, release, pkg, format)
	if err != nil {
		return nil, err
	}

	manifest, err := extractArtifact(archive, format, installDir)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		i.logger.Debug("package ships no package manifest", "package", pkg)
		return nil, nil
	}

	// The package manifest is only trusted once its signature checks out
	// against the keychain; then every listed file is enforced.
	verified, err := manifest.Signed.IntoVerified(i.keychain)
	if err != nil {
		return nil, err
	}
	return i.enforcePackage(&verified, installDir)
}

// enforcePackage checks the digest and mode of every file the verified
// package manifest lists and collects its proxy binaries.
func (i *Installer) enforcePackage(pkg *trust.Package, installDir string) (map[string]string, error) {
	proxies := map[string]string{}
	for _, file := range pkg.Files {
		name, err := safeRelativePath(file.Path)
		if err != nil {
			return nil, err
		}
		installed := filepath.Join(installDir, name)

		content, err := os.ReadFile(installed)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrMissingFile, file.Path)
			}
			return nil, err
		}
		if digest.FromBytes(content) != file.Digest {
			return nil, fmt.Errorf("%w: %s", ErrFileDigestMismatch, file.Path)
		}
		if err := os.Chmod(installed, os.FileMode(file.PosixMode).Perm()); err != nil {
			return nil, err
		}

		if file.NeedsProxy {
			proxies[filepath.Base(name)] = installed
		}
	}
	return proxies, nil
}

// createProxies links proxy names in the proxies directory to the installed
// binaries they dispatch to.
func (i *Installer) createProxies(proxies map[string]string) error {
	if len(proxies) == 0 {
		return nil
	}
	if err := os.MkdirAll(i.paths.ProxiesDir, 0o755); err != nil {
		return err
	}
	for name, target := range proxies {
		link := filepath.Join(i.paths.ProxiesDir, name)
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(target, link); err != nil {
			return err
		}
		i.logger.Debug("created binary proxy", "name", name, "target", target)
	}
	return nil
}

// resolvePackages expands the requested package names with their transitive
// dependencies, deduplicated and sorted.
func resolvePackages(release *trust.Release, requested []string) ([]string, error) {
	byName := make(map[string]*trust.ReleasePackage, len(release.Packages))
	for idx := range release.Packages {
		byName[release.Packages[idx].Package] = &release.Packages[idx]
	}

	seen := map[string]bool{}
	queue := append([]string(nil), requested...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}

		pkg, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
		}
		seen[name] = true
		queue = append(queue, pkg.Dependencies...)
	}

	resolved := make([]string, 0, len(seen))
	for name := range seen {
		resolved = append(resolved, name)
	}
	sort.Strings(resolved)
	return resolved, nil
}

// pickFormat returns the preferred supported artifact format the package is
// available in.
func pickFormat(release *trust.Release, pkg string) (trust.ArtifactFormat, error) {
	for _, p := range release.Packages {
		if p.Package != pkg {
			continue
		}
		for _, format := range supportedFormats {
			for _, artifact := range p.Artifacts {
				if artifact.Format == format {
					return format, nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoSupportedArtifact, pkg)
}
