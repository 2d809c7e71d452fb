// Package downloadclient talks to the download server: it fetches key and
// release manifests and package artifacts, authenticating with the bearer
// token from the local state.
//
// The client produces raw bytes and populates keychains; verifying payloads
// is the trust package's job and happens in the caller.
package downloadclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http/httpguts"

	"github.com/skade/criticalup/config"
	"github.com/skade/criticalup/state"
	"github.com/skade/criticalup/trust"
)

// Client is a download server client. Transient network failures are retried
// with backoff; all other error handling is mapped onto the package's
// sentinel errors.
type Client struct {
	baseURL          string
	userAgent        string
	http             *http.Client
	state            *state.State
	trustRoot        *trust.PublicKey
	logger           *slog.Logger
	cache            *DiskCache
	dockerSecretPath string
}

// TokenData is the metadata the server reports about the current token.
type TokenData struct {
	Name             string  `json:"name"`
	OrganizationName string  `json:"organization-name"`
	ExpiresAt        *string `json:"expires-at"`
}

// New creates a client for the download server named by the whitelabel
// configuration, authenticating with the token stored in st.
func New(cfg *config.Config, st *state.State, opts ...Option) (*Client, error) {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil

	c := &Client{
		baseURL:          strings.TrimSuffix(cfg.Whitelabel.DownloadServerURL, "/"),
		userAgent:        cfg.Whitelabel.HTTPUserAgent,
		http:             retry.StandardClient(),
		state:            st,
		trustRoot:        cfg.Whitelabel.TrustRoot,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		dockerSecretPath: defaultDockerSecretPath(cfg.Whitelabel.TestMode),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CurrentTokenData fetches the metadata of the configured token.
func (c *Client) CurrentTokenData(ctx context.Context) (*TokenData, error) {
	var data TokenData
	if err := c.getJSON(ctx, "/v1/tokens/current", true, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Keys builds a keychain anchored at the whitelabel trust root and populated
// from the server's keys manifest.
//
// Admission is best-effort: entries that fail to verify are skipped with a
// warning instead of aborting the bootstrap, since the server may also serve
// keys belonging to a different trust root or using algorithms this build
// does not support.
func (c *Client) Keys(ctx context.Context) (*trust.Keychain, error) {
	keychain, err := trust.NewKeychain(c.trustRoot)
	if err != nil {
		return nil, err
	}

	var manifest trust.KeysManifest
	if err := c.getJSON(ctx, "/v1/keys", false, &manifest); err != nil {
		return nil, err
	}

	for i, key := range manifest.Keys {
		if err := keychain.Load(key); err != nil {
			c.logger.Warn("skipping key manifest entry", "index", i, "error", err)
		}
	}
	return keychain, nil
}

// ReleaseManifest fetches the release manifest for a product release. The
// returned manifest is unverified; callers extract its contents through the
// keychain.
func (c *Client) ReleaseManifest(ctx context.Context, product, release string) (*trust.ReleaseManifest, error) {
	var manifest trust.ReleaseManifest
	path := fmt.Sprintf("/v1/releases/%s/%s", product, release)
	if err := c.getJSON(ctx, path, true, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// DownloadPackage downloads one package artifact of a verified release and
// checks the bytes against the digest pinned in the release manifest before
// returning them. Verified artifacts are served from and stored into the
// content-addressed download cache when one is configured.
func (c *Client) DownloadPackage(ctx context.Context, release *trust.Release, pkg string, format trust.ArtifactFormat) ([]byte, error) {
	artifact, err := findArtifact(release, pkg, format)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if content, ok := c.cache.Get(artifact.Digest); ok {
			c.logger.Debug("artifact served from download cache",
				"package", pkg, "digest", artifact.Digest)
			return content, nil
		}
	}

	path := fmt.Sprintf("/v1/releases/%s/%s/download/%s/%s",
		release.Product, release.Release, pkg, format)
	resp, err := c.do(ctx, path, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("downloadclient: %s: %w", c.baseURL+path, err)
	}

	if int64(len(content)) != artifact.Size {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrDigestMismatch, artifact.Size, len(content))
	}
	verifier := artifact.Digest.Verifier()
	if _, err := verifier.Write(content); err != nil {
		return nil, err
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, artifact.Digest)
	}

	if c.cache != nil {
		if err := c.cache.Put(artifact.Digest, content); err != nil {
			c.logger.Warn("failed to cache downloaded artifact",
				"digest", artifact.Digest, "error", err)
		}
	}
	return content, nil
}

func findArtifact(release *trust.Release, pkg string, format trust.ArtifactFormat) (*trust.ReleaseArtifact, error) {
	for _, p := range release.Packages {
		if p.Package != pkg {
			continue
		}
		for i := range p.Artifacts {
			if p.Artifacts[i].Format == format {
				return &p.Artifacts[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownArtifact, pkg, format)
}

func (c *Client) getJSON(ctx context.Context, path string, auth bool, out any) error {
	resp, err := c.do(ctx, path, auth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("downloadclient: %s: %w", c.baseURL+path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, c.baseURL+path, err)
	}
	return nil
}

// do sends an authenticated or anonymous GET and maps non-200 statuses onto
// the sentinel errors. The caller owns the response body on success.
func (c *Client) do(ctx context.Context, path string, auth bool) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	if auth {
		token := c.state.AuthenticationToken(c.dockerSecretPath)
		if token == nil {
			return nil, fmt.Errorf("%w: %s: no token configured", ErrAuthenticationFailed, url)
		}
		// A token with bytes not representable in an HTTP header is treated
		// as authentication failure without sending the request: the server
		// could not validate it either.
		value := "Bearer " + token.Unseal()
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: %s: token not representable in a header", ErrAuthenticationFailed, url)
		}
		req.Header.Set("Authorization", value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloadclient: %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadRequest:
		err = ErrBadRequest
	case http.StatusForbidden:
		err = ErrAuthenticationFailed
	case http.StatusNotFound:
		err = ErrNotFound
	case http.StatusTooManyRequests:
		err = ErrRateLimited
	default:
		if resp.StatusCode >= 500 {
			err = fmt.Errorf("%w (%s)", ErrServer, resp.Status)
		} else {
			err = fmt.Errorf("%w (%s)", ErrUnexpectedStatus, resp.Status)
		}
	}
	return nil, fmt.Errorf("%s: %w", url, err)
}

// defaultDockerSecretPath enables the container token fallback when running
// inside a container. Test mode turns the detection off so a test process in
// a container never reads real mounted secrets.
func defaultDockerSecretPath(testMode bool) string {
	if testMode {
		return ""
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return state.DockerSecretPath
	}
	return ""
}
