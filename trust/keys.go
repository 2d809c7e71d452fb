package trust

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// PayloadBytes is the canonical serialized form of a value, the exact bytes
// signatures are computed over.
type PayloadBytes []byte

// SignatureBytes is an encoded signature produced by a key pair.
type SignatureBytes []byte

// PublicKeyBytes is the encoded form of a public key (SPKI DER for ECDSA,
// raw key bytes for Ed25519).
type PublicKeyBytes []byte

// KeyID identifies a public key by the SHA-256 digest of its encoded bytes.
// It is derived, never stored independently of the key it identifies, and is
// comparable so it can serve as a map key.
type KeyID [sha256.Size]byte

// String returns the standard base64 encoding of the identifier.
func (id KeyID) String() string {
	return base64.StdEncoding.EncodeToString(id[:])
}

// MarshalJSON encodes the identifier as a base64 string.
func (id KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the identifier from a base64 string.
func (id *KeyID) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid key id: %w", err)
	}
	if len(decoded) != sha256.Size {
		return fmt.Errorf("invalid key id: expected %d bytes, got %d", sha256.Size, len(decoded))
	}
	copy(id[:], decoded)
	return nil
}

// KeyRole designates which category of payload a key may sign.
// A key has exactly one role.
type KeyRole string

// Recognized key roles. Role names outside this set survive serialization
// round-trips but never verify anything.
const (
	KeyRoleRoot      KeyRole = "root"
	KeyRolePackages  KeyRole = "packages"
	KeyRoleReleases  KeyRole = "releases"
	KeyRoleRedirects KeyRole = "redirects"
)

func (r KeyRole) known() bool {
	switch r {
	case KeyRoleRoot, KeyRolePackages, KeyRoleReleases, KeyRoleRedirects:
		return true
	}
	return false
}

// KeyAlgorithm tags the signature scheme and encoding a key uses.
type KeyAlgorithm string

// Supported key algorithms.
const (
	// KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer is ECDSA over the P-256 curve
	// with SHA-256 digests, ASN.1-encoded signatures and SPKI DER key
	// encoding. This is the primary wire algorithm.
	KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer KeyAlgorithm = "ecdsa-p256-sha256-asn1-spki-der"

	// KeyAlgorithmEd25519 is Ed25519 with raw 32-byte key encoding.
	KeyAlgorithmEd25519 KeyAlgorithm = "ed25519"
)

// PublicKey is the public half of a signing key, carrying the role it is
// authorized for, its algorithm tag, an optional expiry and the encoded key
// bytes. It is immutable once constructed.
//
// A PublicKey is its own [KeysRepository] resolving only itself, which is
// convenient for bootstrap and tests.
type PublicKey struct {
	Role      KeyRole        `json:"role"`
	Algorithm KeyAlgorithm   `json:"algorithm"`
	Expiry    *time.Time     `json:"expiry"`
	Public    PublicKeyBytes `json:"public"`
}

// CalculateID derives the key identifier from the encoded key bytes.
func (k *PublicKey) CalculateID() KeyID {
	return KeyID(sha256.Sum256(k.Public))
}

// Verify checks that signature is a valid signature of data made by this key,
// and that the key is authorized to act as role and has not expired.
//
// The three policy checks (role match, expiry, cryptographic validity) are
// collapsed into the single [ErrVerificationFailed] outcome. Non-policy
// defects (an unsupported algorithm tag, key bytes that fail to parse) are
// surfaced as distinct errors instead.
func (k *PublicKey) Verify(role KeyRole, data PayloadBytes, signature SignatureBytes) error {
	verify, err := k.verifier()
	if err != nil {
		return err
	}
	if !role.known() || role != k.Role {
		return ErrVerificationFailed
	}
	if k.Expiry != nil && !time.Now().Before(*k.Expiry) {
		return ErrVerificationFailed
	}
	if !verify(data, signature) {
		return ErrVerificationFailed
	}
	return nil
}

// Get implements [KeysRepository] over this single key.
func (k *PublicKey) Get(id KeyID) *PublicKey {
	if id == k.CalculateID() {
		return k
	}
	return nil
}

// SignedByRole implements [Signable]: new public keys may only be minted by
// root-role keys.
func (PublicKey) SignedByRole() KeyRole {
	return KeyRoleRoot
}

// verifier parses the encoded key bytes and returns the raw cryptographic
// verification function for the key's algorithm.
func (k *PublicKey) verifier() (func(data PayloadBytes, signature SignatureBytes) bool, error) {
	switch k.Algorithm {
	case KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer:
		parsed, err := x509.ParsePKIXPublicKey(k.Public)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		key, ok := parsed.(*ecdsa.PublicKey)
		if !ok || key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: not an ECDSA P-256 key", ErrInvalidKey)
		}
		return func(data PayloadBytes, signature SignatureBytes) bool {
			digest := sha256.Sum256(data)
			return ecdsa.VerifyASN1(key, digest[:], signature)
		}, nil

	case KeyAlgorithmEd25519:
		if len(k.Public) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: expected %d byte ed25519 key, got %d",
				ErrInvalidKey, ed25519.PublicKeySize, len(k.Public))
		}
		key := ed25519.PublicKey(bytes.Clone(k.Public))
		return func(data PayloadBytes, signature SignatureBytes) bool {
			return ed25519.Verify(key, data, signature)
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, k.Algorithm)
	}
}

// KeyPair is the signing capability: access to the public half plus the
// ability to sign arbitrary bytes with the private half. Signatures need not
// be reproducible, only verifiable against the same key's public half.
type KeyPair interface {
	Public() *PublicKey
	Sign(data PayloadBytes) (SignatureBytes, error)
}

// EphemeralKeyPair is an in-memory key pair whose private half never leaves
// the process. It is used to mint trust roots and signing keys in tests and
// bootstrap tooling.
type EphemeralKeyPair struct {
	public *PublicKey
	sign   func(data PayloadBytes) (SignatureBytes, error)
}

// GenerateEphemeralKeyPair creates a fresh key pair for the given algorithm,
// role and optional expiry.
func GenerateEphemeralKeyPair(algorithm KeyAlgorithm, role KeyRole, expiry *time.Time) (*EphemeralKeyPair, error) {
	switch algorithm {
	case KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer:
		private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		encoded, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
		if err != nil {
			return nil, err
		}
		return &EphemeralKeyPair{
			public: &PublicKey{
				Role:      role,
				Algorithm: algorithm,
				Expiry:    expiry,
				Public:    encoded,
			},
			sign: func(data PayloadBytes) (SignatureBytes, error) {
				digest := sha256.Sum256(data)
				return ecdsa.SignASN1(rand.Reader, private, digest[:])
			},
		}, nil

	case KeyAlgorithmEd25519:
		public, private, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &EphemeralKeyPair{
			public: &PublicKey{
				Role:      role,
				Algorithm: algorithm,
				Expiry:    expiry,
				Public:    PublicKeyBytes(public),
			},
			sign: func(data PayloadBytes) (SignatureBytes, error) {
				return ed25519.Sign(private, data), nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// Public returns the public half of the key pair.
func (k *EphemeralKeyPair) Public() *PublicKey {
	return k.public
}

// Sign signs data with the private half.
func (k *EphemeralKeyPair) Sign(data PayloadBytes) (SignatureBytes, error) {
	return k.sign(data)
}
