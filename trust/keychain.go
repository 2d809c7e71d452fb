package trust

import "sync"

// Keychain is a [KeysRepository] anchored at a single unconditionally trusted
// root public key. Additional keys are admitted only through [Keychain.Load],
// which verifies the signed manifest carrying them against the keys already
// trusted, so every trusted key is reachable by a chain of valid signatures
// back to the trust root.
//
// The trusted set grows monotonically and never shrinks. Each keychain owns
// its set: keys trusted by one keychain are invisible to another unless
// explicitly loaded into it.
//
// Load verifies against the current trusted set and takes the write lock
// only to insert; Get takes a read lock and is safe against a concurrent
// Load.
type Keychain struct {
	mu   sync.RWMutex
	keys map[KeyID]*PublicKey
}

// NewKeychain creates a keychain whose trusted set contains exactly
// trustRoot. It rejects a root whose algorithm is unsupported or whose key
// bytes do not parse, so a broken root surfaces at bootstrap rather than as
// verification failures later.
func NewKeychain(trustRoot *PublicKey) (*Keychain, error) {
	if _, err := trustRoot.verifier(); err != nil {
		return nil, err
	}
	return &Keychain{
		keys: map[KeyID]*PublicKey{
			trustRoot.CalculateID(): trustRoot,
		},
	}, nil
}

// Load verifies a signed key manifest entry against the keychain's current
// trusted set and, on success, admits the contained key. Only root-role keys
// may mint new trusted keys: the manifest entry must carry a signature from
// a trusted root-role key.
//
// On failure the trusted set is unchanged. Callers bootstrapping from a
// whole keys manifest may deliberately ignore per-entry failures (keys
// belonging to a foreign trust root, unsupported algorithms); that
// best-effort tolerance is the caller's policy, not the keychain's.
func (k *Keychain) Load(signed *SignedPayload[PublicKey]) error {
	// Verification takes the payload's own lock and reads the trusted set
	// through Get; the write lock is only held for the insertion. Holding it
	// across the verification would deadlock against a concurrent GetVerified
	// on the same payload, which locks in the opposite order.
	key, err := signed.GetVerified(k)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key.CalculateID()] = key
	return nil
}

// Get returns the trusted key with the given identifier, or nil if the
// keychain does not trust it. It implements [KeysRepository].
func (k *Keychain) Get(id KeyID) *PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[id]
}
