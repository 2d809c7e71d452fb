package downloadclient

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the underlying HTTP client. The default client
// retries transient failures with backoff; replacing it also replaces that
// policy.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.http = client
		return nil
	}
}

// WithLogger sets a logger for the client.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithUserAgent overrides the User-Agent taken from the whitelabel
// configuration.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithDownloadCacheDir enables the content-addressed download cache in the
// given directory. Artifacts are stored after their digest has been verified
// and served from disk on later downloads.
func WithDownloadCacheDir(dir string) Option {
	return func(c *Client) error {
		cache, err := NewDiskCache(dir)
		if err != nil {
			return err
		}
		c.cache = cache
		return nil
	}
}

// WithDockerSecretPath overrides the path the containerized token secret is
// read from. An empty path disables the container fallback.
func WithDockerSecretPath(path string) Option {
	return func(c *Client) error {
		c.dockerSecretPath = path
		return nil
	}
}
