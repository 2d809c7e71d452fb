// Package trust implements the root-of-trust protocol used to verify
// toolchain artifacts before they are parsed.
//
// The central type is [SignedPayload], a container pairing the canonical
// serialized form of a value with a list of detached signatures. The value
// inside a payload cannot be accessed until at least one signature verifies
// against a trusted key, so unverified bytes are never deserialized.
//
// Trusted keys are supplied by a [KeysRepository]. For simple cases a single
// [PublicKey] acts as its own repository; real deployments use a [Keychain],
// which is anchored at a root public key and admits additional keys only
// after verifying the signed manifests that carry them.
//
// This package performs no I/O. Fetching manifests and artifacts is the job
// of collaborators such as the download client; they hand fully materialized
// bytes to this package for verification.
package trust
