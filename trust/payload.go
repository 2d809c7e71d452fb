package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Signable marks a type as eligible for wrapping in a [SignedPayload] and
// fixes which key role is authorized to sign it.
type Signable interface {
	SignedByRole() KeyRole
}

// KeysRepository resolves a key identifier to a public key. It is implemented
// by a single [PublicKey] (bootstrap, tests) and by [Keychain].
type KeysRepository interface {
	// Get returns the key with the given identifier, or nil if the
	// repository does not know it.
	Get(id KeyID) *PublicKey
}

// Signature is a detached signature over a payload's canonical bytes. It
// identifies the producing key by its identifier without embedding the key.
type Signature struct {
	KeySHA256 KeyID          `json:"key_sha256"`
	Signature SignatureBytes `json:"signature"`
}

// SignedPayload wraps the canonical serialized form of a value together with
// the signatures covering it. The wrapped value cannot be accessed until a
// signature verifies against a key from a trusted repository, so unverified
// bytes are never deserialized.
//
// The canonical bytes are fixed at construction and never change. The first
// successful verification is memoized for the life of the object: concurrent
// callers block on a single in-flight verification and all observe its
// outcome. Failed verifications are not memoized and may be re-attempted.
// The memoized value is not part of the serialized form; deserializing a
// payload always yields an unverified one.
type SignedPayload[T Signable] struct {
	mu         sync.Mutex
	signatures []Signature
	signed     []byte
	verified   *T
}

type signedPayloadWire struct {
	Signatures []Signature `json:"signatures"`
	Signed     string      `json:"signed"`
}

// NewSignedPayload creates an unsigned payload from value, fixing its
// canonical byte form. This is the only place encoding happens; call
// [SignedPayload.AddSignature] to attach signatures.
func NewSignedPayload[T Signable](value *T) (*SignedPayload[T], error) {
	signed, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &SignedPayload[T]{signed: signed}, nil
}

// AddSignature signs the canonical bytes with keypair and appends the
// resulting signature. It may be called multiple times with different keys
// to multi-sign a payload.
func (p *SignedPayload[T]) AddSignature(keypair KeyPair) error {
	signature, err := keypair.Sign(p.signed)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signatures = append(p.signatures, Signature{
		KeySHA256: keypair.Public().CalculateID(),
		Signature: signature,
	})
	return nil
}

// GetVerified verifies the attached signatures against keys and returns the
// deserialized value once one of them checks out.
//
// Verification and deserialization run at most once: the result of the first
// successful call is cached and returned by every later call without
// re-verifying, even against a different repository.
func (p *SignedPayload[T]) GetVerified(keys KeysRepository) (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified == nil {
		value, err := verifySignature[T](keys, p.signatures, p.signed)
		if err != nil {
			return nil, err
		}
		p.verified = value
	}
	return p.verified, nil
}

// IntoVerified consumes the payload and returns the deserialized value. If a
// previous [SignedPayload.GetVerified] call already verified it, the cached
// value is returned without re-verification; otherwise the signatures are
// verified against keys first. The payload must not be used afterwards.
func (p *SignedPayload[T]) IntoVerified(keys KeysRepository) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified != nil {
		return *p.verified, nil
	}
	value, err := verifySignature[T](keys, p.signatures, p.signed)
	if err != nil {
		var zero T
		return zero, err
	}
	return *value, nil
}

// MarshalJSON encodes the signatures and canonical bytes. The verification
// cache is never serialized.
func (p *SignedPayload[T]) MarshalJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	signatures := p.signatures
	if signatures == nil {
		signatures = []Signature{}
	}
	return json.Marshal(signedPayloadWire{
		Signatures: signatures,
		Signed:     string(p.signed),
	})
}

// UnmarshalJSON decodes a payload from its serialized form. The result is
// always unverified, whatever the state of the payload it was serialized
// from.
func (p *SignedPayload[T]) UnmarshalJSON(data []byte) error {
	var wire signedPayloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signatures = wire.Signatures
	p.signed = []byte(wire.Signed)
	p.verified = nil
	return nil
}

// verifySignature tries each signature in stored order until one verifies,
// then deserializes the canonical bytes. One valid, correctly scoped,
// unexpired, trusted signature suffices regardless of how many other
// signatures are missing, untrusted, wrong-role, expired or corrupted, and
// regardless of order.
func verifySignature[T Signable](keys KeysRepository, signatures []Signature, signed []byte) (*T, error) {
	var zero T
	role := zero.SignedByRole()

	for _, signature := range signatures {
		key := keys.Get(signature.KeySHA256)
		if key == nil {
			// A signature from a key we don't know is not an error: another
			// signature may still verify.
			continue
		}

		if err := key.Verify(role, signed, signature.Signature); err != nil {
			if errors.Is(err, ErrVerificationFailed) {
				continue
			}
			// Unsupported algorithms and unparseable keys are defects, not
			// policy outcomes. Surface them instead of trying further.
			return nil, err
		}

		// Deserialization happens strictly after a signature verified, so
		// attacker-controlled bytes are never parsed.
		value := new(T)
		if err := json.Unmarshal(signed, value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
		}
		return value, nil
	}

	return nil, ErrVerificationFailed
}
