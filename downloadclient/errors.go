package downloadclient

import "errors"

// Sentinel errors for download server interactions. HTTP status codes are
// mapped onto these so callers never branch on raw status codes.
var (
	// ErrBadRequest is returned when the server rejects a request as
	// malformed (HTTP 400).
	ErrBadRequest = errors.New("downloadclient: bad request")

	// ErrAuthenticationFailed is returned when no usable token is
	// configured or the server rejects it (HTTP 403).
	ErrAuthenticationFailed = errors.New("downloadclient: authentication failed")

	// ErrNotFound is returned when the requested resource does not exist
	// (HTTP 404).
	ErrNotFound = errors.New("downloadclient: not found")

	// ErrRateLimited is returned when the server throttles the client
	// (HTTP 429).
	ErrRateLimited = errors.New("downloadclient: rate limited")

	// ErrServer is returned on server-side failures (HTTP 5xx).
	ErrServer = errors.New("downloadclient: internal server error")

	// ErrUnexpectedStatus is returned for status codes outside the known
	// taxonomy.
	ErrUnexpectedStatus = errors.New("downloadclient: unexpected response status")

	// ErrUnexpectedResponse is returned when a response body cannot be
	// decoded.
	ErrUnexpectedResponse = errors.New("downloadclient: unexpected response data")

	// ErrUnknownArtifact is returned when a release has no artifact for the
	// requested package and format.
	ErrUnknownArtifact = errors.New("downloadclient: no artifact for package and format")

	// ErrDigestMismatch is returned when downloaded bytes do not match the
	// digest pinned in the release manifest.
	ErrDigestMismatch = errors.New("downloadclient: artifact digest mismatch")
)
