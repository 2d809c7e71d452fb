package trust

import "errors"

// Sentinel errors for signature verification and key handling.
var (
	// ErrVerificationFailed is returned when no attached signature resolves to
	// a trusted, role-correct, unexpired, cryptographically valid key.
	//
	// The error is deliberately uninformative: a missing key, an untrusted
	// key, a wrong role, an expired key and a tampered signature all collapse
	// into this one outcome so callers (and attackers) cannot tell which
	// defense rejected a signature.
	ErrVerificationFailed = errors.New("trust: signature verification failed")

	// ErrSerialization is returned when a value cannot be encoded into the
	// canonical byte form of a signed payload.
	ErrSerialization = errors.New("trust: payload serialization failed")

	// ErrDeserialization is returned when the canonical bytes of a payload
	// are malformed. It can only occur after verification has succeeded;
	// unverified bytes are never parsed.
	ErrDeserialization = errors.New("trust: payload deserialization failed")

	// ErrUnsupportedAlgorithm is returned when a key declares an algorithm
	// this build does not implement.
	ErrUnsupportedAlgorithm = errors.New("trust: unsupported key algorithm")

	// ErrInvalidKey is returned when key bytes cannot be parsed for the
	// declared algorithm.
	ErrInvalidKey = errors.New("trust: invalid key")
)
