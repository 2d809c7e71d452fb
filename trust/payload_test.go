package trust

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleData = `{"answer":42}`

type testData struct {
	Answer int `json:"answer"`
}

func (testData) SignedByRole() KeyRole {
	return KeyRolePackages
}

func TestVerifyNoSignatures(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	assertVerifyFail(t, env, nil)
}

func TestVerifyOneValidSignature(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)
	assertVerifyPass(t, env, []KeyPair{key})
}

func TestVerifyMultipleValidSignatures(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key1 := env.createKey(KeyRolePackages)
	key2 := env.createKey(KeyRolePackages)

	assertVerifyPass(t, env, []KeyPair{key1, key2})
	assertVerifyPass(t, env, []KeyPair{key2, key1})
}

func TestVerifyWithInvalidKeyRole(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRoleRedirects)
	assertVerifyFail(t, env, []KeyPair{key})
}

func TestVerifyWithInvalidAndValidKeyRoles(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	valid := env.createKey(KeyRolePackages)
	invalid := env.createKey(KeyRoleRedirects)

	assertVerifyPass(t, env, []KeyPair{valid, invalid})
	assertVerifyPass(t, env, []KeyPair{invalid, valid})
}

func TestVerifyWithUntrustedKey(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	untrusted := env.createUntrustedKey(KeyRolePackages)
	assertVerifyFail(t, env, []KeyPair{untrusted})
}

func TestVerifyWithTrustedAndUntrustedKeys(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	trusted := env.createKey(KeyRolePackages)
	untrusted := env.createUntrustedKey(KeyRolePackages)

	assertVerifyPass(t, env, []KeyPair{trusted, untrusted})
	assertVerifyPass(t, env, []KeyPair{untrusted, trusted})
}

func TestVerifyWithSubsetOfTrustedKeys(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	used := env.createKey(KeyRolePackages)
	env.createKey(KeyRolePackages) // trusted but unused

	assertVerifyPass(t, env, []KeyPair{used})
}

func TestVerifyWithExpiredKey(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	expired := env.createKeyWithExpiry(KeyRolePackages, -time.Hour)
	assertVerifyFail(t, env, []KeyPair{expired})
}

func TestVerifyWithNotExpiredKey(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	notExpired := env.createKeyWithExpiry(KeyRolePackages, time.Hour)
	assertVerifyPass(t, env, []KeyPair{notExpired})
}

func TestVerifyWithExpiredAndNotExpiredKeys(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	expired := env.createKeyWithExpiry(KeyRolePackages, -time.Hour)
	notExpired := env.createKeyWithExpiry(KeyRolePackages, time.Hour)

	assertVerifyPass(t, env, []KeyPair{expired, notExpired})
	assertVerifyPass(t, env, []KeyPair{notExpired, expired})
}

func TestVerifyWithBadSignature(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	bad := &badKeyPair{env.createKey(KeyRolePackages)}
	assertVerifyFail(t, env, []KeyPair{bad})
}

func TestVerifyWithBadAndGoodSignature(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	bad := &badKeyPair{env.createKey(KeyRolePackages)}
	good := env.createKey(KeyRolePackages)

	assertVerifyPass(t, env, []KeyPair{bad, good})
	assertVerifyPass(t, env, []KeyPair{good, bad})
}

func TestVerifyCaching(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)
	payload := preparePayload(t, []KeyPair{key}, sampleData)

	value, err := payload.GetVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, value.Answer)

	// Without caching this would fail: the fresh environment's keychain
	// trusts none of the signing keys. The cached result is returned and no
	// verification happens.
	again, err := payload.GetVerified(newTestEnvironment(t).keychain)
	require.NoError(t, err)
	assert.Same(t, value, again)

	// IntoVerified also serves the cached value.
	consumed, err := payload.IntoVerified(newTestEnvironment(t).keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, consumed.Answer)
}

func TestVerifyConcurrentCallersConverge(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)
	payload := preparePayload(t, []KeyPair{key}, sampleData)

	const callers = 16
	results := make([]*testData, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := payload.GetVerified(env.keychain)
			assert.NoError(t, err)
			results[i] = value
		}()
	}
	wg.Wait()

	for _, value := range results {
		require.NotNil(t, value)
		assert.Same(t, results[0], value)
	}
}

func TestVerifyDeserializationFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)

	payload := preparePayload(t, []KeyPair{key}, `{"answer": 42`)
	_, err := payload.GetVerified(env.keychain)
	require.ErrorIs(t, err, ErrDeserialization)
	assert.NotErrorIs(t, err, ErrVerificationFailed)

	payload = preparePayload(t, []KeyPair{key}, `{"answer": 42`)
	_, err = payload.IntoVerified(env.keychain)
	require.ErrorIs(t, err, ErrDeserialization)
}

func TestVerifyFailureNotCached(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)
	payload := preparePayload(t, []KeyPair{key}, sampleData)

	// Fails against an empty environment, then succeeds against the real
	// one: failed verifications may be re-attempted.
	_, err := payload.GetVerified(newTestEnvironment(t).keychain)
	require.ErrorIs(t, err, ErrVerificationFailed)

	value, err := payload.GetVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, value.Answer)
}

func TestVerifyUnsupportedAlgorithmAborts(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	good := env.createKey(KeyRolePackages)

	unsupported := &PublicKey{
		Role:      KeyRolePackages,
		Algorithm: "post-quantum-xyzzy",
		Public:    PublicKeyBytes("opaque"),
	}
	repo := staticRepository{
		unsupported.CalculateID():   unsupported,
		good.Public().CalculateID(): good.Public(),
	}

	// The unsupported key aborts the whole attempt even though a valid
	// signature follows: defects are surfaced, not absorbed.
	payload := preparePayload(t, []KeyPair{&stubKeyPair{unsupported}, good}, sampleData)
	_, err := payload.GetVerified(repo)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnvironment(t)
	key := env.createKey(KeyRolePackages)

	payload, err := NewSignedPayload(&testData{Answer: 42})
	require.NoError(t, err)
	require.NoError(t, payload.AddSignature(key))

	// Verify the original, populating the cache.
	value, err := payload.GetVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, value.Answer)

	serialized, err := json.Marshal(payload)
	require.NoError(t, err)

	// The cache is not part of the serialized form: the round-tripped
	// payload fails against an empty keychain and verifies against the
	// real one.
	var restored SignedPayload[testData]
	require.NoError(t, json.Unmarshal(serialized, &restored))

	_, err = restored.GetVerified(newTestEnvironment(t).keychain)
	require.ErrorIs(t, err, ErrVerificationFailed)

	restoredValue, err := restored.GetVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, restoredValue.Answer)
}

func TestNewPayloadSerializationFailed(t *testing.T) {
	t.Parallel()

	_, err := NewSignedPayload(&unencodable{})
	require.ErrorIs(t, err, ErrSerialization)
}

// TestVerifyDeserialized pins the wire format against vectors produced by an
// independent implementation: a trust root, a packages key admitted through
// the keychain, and a payload signed by that key.
func TestVerifyDeserialized(t *testing.T) {
	t.Parallel()

	var root PublicKey
	require.NoError(t, json.Unmarshal([]byte(`{
		"role": "root",
		"algorithm": "ecdsa-p256-sha256-asn1-spki-der",
		"expiry": null,
		"public": "MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE+S7QgNLkBo2VEMdZXowZUFmvQJMm6qoQtC33hvDB95HpjPXd50eBEUnEuVRye5qC84K7ZHpoAXWf5BzmcFtvVg=="
	}`), &root))

	keychain, err := NewKeychain(&root)
	require.NoError(t, err)

	var entry SignedPayload[PublicKey]
	require.NoError(t, json.Unmarshal([]byte(`{
		"signatures": [
			{
				"key_sha256": "oWLXbXl20A0Z5MNOcEC4vNjHxT3IHAo9ExDYMAyHatU=",
				"signature": "MEUCIQDY3xkoVYowUQBSnHddpWVdlG9FufeucTasX9YJNOzPsQIgRj99gqJioVB6TLa9gdmPezFG68CC+tAkqGA9GwfVurs="
			}
		],
		"signed": "{\"role\":\"packages\",\"algorithm\":\"ecdsa-p256-sha256-asn1-spki-der\",\"expiry\":null,\"public\":\"MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAExmWCqNu5ClVwVgoMYU/cRUTTohljVT5yJy5InJPzXaXRQS7zT5WaTUxzJQqfDc7+nUgEZ6Z6XbxzG72yffrckA==\"}"
	}`), &entry))
	require.NoError(t, keychain.Load(&entry))

	var payload SignedPayload[testData]
	require.NoError(t, json.Unmarshal([]byte(`{
		"signatures": [
			{
				"key_sha256": "xzcGUBKHYDGbucyvirl6dhsDXPCxQR/4/PRKiL9Qz2A=",
				"signature": "MEYCIQCToeOQpzoZxYSBaBcb1Ko+NFtr4/fmLwaTrrvuWagzQgIhAO8AvDZHk+osFj0Wag5MU9CzQeXgCi4Cr8FCk4KhKVX6"
			}
		],
		"signed": "{\"answer\":42}"
	}`), &payload))

	value, err := payload.GetVerified(keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, value.Answer)
}

// --- helpers ---

type testEnvironment struct {
	t        *testing.T
	root     *EphemeralKeyPair
	keychain *Keychain
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()

	root, err := GenerateEphemeralKeyPair(KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer, KeyRoleRoot, nil)
	require.NoError(t, err)
	keychain, err := NewKeychain(root.Public())
	require.NoError(t, err)

	return &testEnvironment{t: t, root: root, keychain: keychain}
}

// createKey generates a key with the given role and admits it into the
// environment's keychain through a manifest entry signed by the root.
func (e *testEnvironment) createKey(role KeyRole) *EphemeralKeyPair {
	return e.createKeyExpiringAt(role, nil)
}

func (e *testEnvironment) createKeyWithExpiry(role KeyRole, in time.Duration) *EphemeralKeyPair {
	expiry := time.Now().Add(in)
	return e.createKeyExpiringAt(role, &expiry)
}

func (e *testEnvironment) createKeyExpiringAt(role KeyRole, expiry *time.Time) *EphemeralKeyPair {
	e.t.Helper()

	key, err := GenerateEphemeralKeyPair(KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer, role, expiry)
	require.NoError(e.t, err)

	entry, err := NewSignedPayload(key.Public())
	require.NoError(e.t, err)
	require.NoError(e.t, entry.AddSignature(e.root))
	require.NoError(e.t, e.keychain.Load(entry))

	return key
}

func (e *testEnvironment) createUntrustedKey(role KeyRole) *EphemeralKeyPair {
	e.t.Helper()

	key, err := GenerateEphemeralKeyPair(KeyAlgorithmEcdsaP256SHA256Asn1SpkiDer, role, nil)
	require.NoError(e.t, err)
	return key
}

func assertVerifyPass(t *testing.T, env *testEnvironment, keys []KeyPair) {
	t.Helper()

	getPayload := preparePayload(t, keys, sampleData)
	value, err := getPayload.GetVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, value.Answer)

	// A separate payload avoids hitting the first one's cache.
	intoPayload := preparePayload(t, keys, sampleData)
	consumed, err := intoPayload.IntoVerified(env.keychain)
	require.NoError(t, err)
	assert.Equal(t, 42, consumed.Answer)
}

func assertVerifyFail(t *testing.T, env *testEnvironment, keys []KeyPair) {
	t.Helper()

	getPayload := preparePayload(t, keys, sampleData)
	_, err := getPayload.GetVerified(env.keychain)
	require.ErrorIs(t, err, ErrVerificationFailed)

	intoPayload := preparePayload(t, keys, sampleData)
	_, err = intoPayload.IntoVerified(env.keychain)
	require.ErrorIs(t, err, ErrVerificationFailed)
}

// preparePayload builds a payload over the exact given canonical string,
// signed by every key in order.
func preparePayload(t *testing.T, keys []KeyPair, data string) *SignedPayload[testData] {
	t.Helper()

	signatures := make([]Signature, 0, len(keys))
	for _, key := range keys {
		signature, err := key.Sign(PayloadBytes(data))
		require.NoError(t, err)
		signatures = append(signatures, Signature{
			KeySHA256: key.Public().CalculateID(),
			Signature: signature,
		})
	}

	wire, err := json.Marshal(signedPayloadWire{Signatures: signatures, Signed: data})
	require.NoError(t, err)

	payload := new(SignedPayload[testData])
	require.NoError(t, json.Unmarshal(wire, payload))
	return payload
}

type staticRepository map[KeyID]*PublicKey

func (r staticRepository) Get(id KeyID) *PublicKey {
	return r[id]
}

// badKeyPair produces signatures that can never verify.
type badKeyPair struct {
	inner *EphemeralKeyPair
}

func (k *badKeyPair) Public() *PublicKey {
	return k.inner.Public()
}

func (k *badKeyPair) Sign(data PayloadBytes) (SignatureBytes, error) {
	signature, err := k.inner.Sign(data)
	if err != nil {
		return nil, err
	}
	broken := make(SignatureBytes, len(signature))
	for i, b := range signature {
		broken[i] = b + 1
	}
	return broken, nil
}

// stubKeyPair pairs a public key with garbage signatures, for keys whose
// algorithm cannot actually sign.
type stubKeyPair struct {
	public *PublicKey
}

func (k *stubKeyPair) Public() *PublicKey {
	return k.public
}

func (k *stubKeyPair) Sign(PayloadBytes) (SignatureBytes, error) {
	return SignatureBytes("not a signature"), nil
}

type unencodable struct{}

func (unencodable) SignedByRole() KeyRole {
	return KeyRolePackages
}

func (unencodable) MarshalJSON() ([]byte, error) {
	return nil, assert.AnError
}
