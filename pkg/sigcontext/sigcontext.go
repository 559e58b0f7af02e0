// Package sigcontext implements Wildland's identity and cryptography
// layer: keypair generation, detached signatures, and per-recipient
// asymmetric encryption of symmetric keys.
//
// Each identity holds two keypairs under a single fingerprint — an
// Ed25519 signing keypair and a Curve25519 key-agreement keypair — so
// that one fingerprint can both sign manifests and receive encrypted
// ones, matching the single "pubkey" concept spec.md's object model
// expects. Encryption wraps a per-manifest secretbox key with
// nacl/box for each recipient, the concrete form of the
// X25519/XSalsa20-Poly1305-equivalent construction spec.md names.
package sigcontext

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

const (
	signPublicSize = ed25519.PublicKeySize
	signSecretSize = ed25519.PrivateKeySize
	boxKeySize     = 32
	nonceSize      = 24

	pubBlobSize = signPublicSize + boxKeySize
	secBlobSize = signSecretSize + boxKeySize
)

// Fingerprint uniquely identifies a signing key, hex-encoded and
// prefixed with "0x" per spec.md §3.
type Fingerprint string

// KeyPair holds a generated identity's public and secret material.
type KeyPair struct {
	Fingerprint Fingerprint
	PublicKey   []byte // pubBlobSize bytes: ed25519 pub || box pub
	SecretKey   []byte // secBlobSize bytes: ed25519 priv || box priv
}

// dummyPrefix marks fingerprints produced in dummy mode, so dummy and
// real material can never cross-verify.
const dummyPrefix = "0xdm"

// SigContext is the signing/verification/encryption context for one
// process. It holds a local keystore directory and an in-memory cache
// of loaded secret keys.
type SigContext struct {
	keyDir string
	dummy  bool
	keys   map[Fingerprint]*KeyPair
}

// New creates a SigContext backed by keyDir. If dummy is true, all
// cryptographic operations become identity transforms for testing —
// this must be opt-in via configuration.
func New(keyDir string, dummy bool) *SigContext {
	return &SigContext{keyDir: keyDir, dummy: dummy, keys: make(map[Fingerprint]*KeyPair)}
}

// Generate creates a new identity, persists its key files under keyDir
// (secret file mode 0600, directory mode 0700), and loads it into the
// in-memory cache.
func (sc *SigContext) Generate() (*KeyPair, error) {
	if sc.dummy {
		return sc.generateDummy()
	}

	signPub, signSec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	boxPub, boxSec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating box key: %w", err)
	}

	pub := make([]byte, 0, pubBlobSize)
	pub = append(pub, signPub...)
	pub = append(pub, boxPub[:]...)

	sec := make([]byte, 0, secBlobSize)
	sec = append(sec, signSec...)
	sec = append(sec, boxSec[:]...)

	fpr := fingerprintOf(pub)
	kp := &KeyPair{Fingerprint: fpr, PublicKey: pub, SecretKey: sec}

	if err := sc.save(kp); err != nil {
		return nil, err
	}
	sc.keys[fpr] = kp
	return kp, nil
}

func (sc *SigContext) generateDummy() (*KeyPair, error) {
	seed := make([]byte, 8)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	fpr := Fingerprint(dummyPrefix + hex.EncodeToString(seed))
	pub := append([]byte{}, seed...)
	sec := append([]byte{}, seed...)
	kp := &KeyPair{Fingerprint: fpr, PublicKey: pub, SecretKey: sec}
	if err := sc.save(kp); err != nil {
		return nil, err
	}
	sc.keys[fpr] = kp
	return kp, nil
}

func fingerprintOf(pub []byte) Fingerprint {
	sum := sha256.Sum256(pub)
	return Fingerprint("0x" + hex.EncodeToString(sum[:20]))
}

// FingerprintOf derives the fingerprint a public key blob would have,
// without requiring it to be loaded into any SigContext. The resolver
// uses this to check that a bridge's declared pubkey actually matches
// the fingerprint the target user's own manifest claims.
func FingerprintOf(pub []byte) Fingerprint {
	return fingerprintOf(pub)
}

func (sc *SigContext) save(kp *KeyPair) error {
	if err := os.MkdirAll(sc.keyDir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	pubPath := sc.pubPath(kp.Fingerprint)
	secPath := sc.secPath(kp.Fingerprint)

	if err := os.WriteFile(pubPath, kp.PublicKey, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	secFile, err := os.OpenFile(secPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening secret key file: %w", err)
	}
	defer secFile.Close()
	if _, err := secFile.Write(kp.SecretKey); err != nil {
		return fmt.Errorf("writing secret key: %w", err)
	}
	return nil
}

func (sc *SigContext) pubPath(fpr Fingerprint) string {
	return filepath.Join(sc.keyDir, string(fpr)+".pub")
}

func (sc *SigContext) secPath(fpr Fingerprint) string {
	return filepath.Join(sc.keyDir, string(fpr)+".sec")
}

// LoadSecretKey loads a previously generated identity's secret key
// from disk into the in-memory cache, so this context can sign,
// decrypt, or act as that owner.
func (sc *SigContext) LoadSecretKey(fpr Fingerprint) (*KeyPair, error) {
	if kp, ok := sc.keys[fpr]; ok {
		return kp, nil
	}
	pub, err := os.ReadFile(sc.pubPath(fpr))
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrKeyMissing, "reading public key for %s", fpr)
	}
	sec, err := os.ReadFile(sc.secPath(fpr))
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrKeyMissing, "reading secret key for %s", fpr)
	}
	kp := &KeyPair{Fingerprint: fpr, PublicKey: pub, SecretKey: sec}
	sc.keys[fpr] = kp
	return kp, nil
}

// LoadPublicKey loads a bare public key, without requiring the
// secret key to be present locally — used to verify signatures from
// other users whose containers this context does not own.
func (sc *SigContext) LoadPublicKey(fpr Fingerprint) ([]byte, error) {
	if kp, ok := sc.keys[fpr]; ok {
		return kp.PublicKey, nil
	}
	pub, err := os.ReadFile(sc.pubPath(fpr))
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrKeyMissing, "reading public key for %s", fpr)
	}
	return pub, nil
}

// HasSecretKey reports whether this context can sign/decrypt as fpr.
func (sc *SigContext) HasSecretKey(fpr Fingerprint) bool {
	if _, ok := sc.keys[fpr]; ok {
		return true
	}
	_, err := os.Stat(sc.secPath(fpr))
	return err == nil
}

// OwnedFingerprints returns every fingerprint whose secret key this
// context has access to, used by ManifestCodec to try decryption
// against all locally available keys.
func (sc *SigContext) OwnedFingerprints() ([]Fingerprint, error) {
	entries, err := os.ReadDir(sc.keyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Fingerprint
	for _, e := range entries {
		name := e.Name()
		const suffix = ".sec"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			out = append(out, Fingerprint(name[:len(name)-len(suffix)]))
		}
	}
	return out, nil
}

// Sign produces a detached signature over data using the secret key
// for fpr, which must already be loaded.
func (sc *SigContext) Sign(fpr Fingerprint, data []byte) ([]byte, error) {
	if sc.dummy {
		return sc.signDummy(fpr, data)
	}
	kp, ok := sc.keys[fpr]
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrKeyMissing, "no secret key loaded for %s", fpr)
	}
	signSec := ed25519.PrivateKey(kp.SecretKey[:signSecretSize])
	return ed25519.Sign(signSec, data), nil
}

func (sc *SigContext) signDummy(fpr Fingerprint, data []byte) ([]byte, error) {
	if !isDummyFingerprint(fpr) {
		return nil, wlerr.Wrap(wlerr.ErrUntrusted, "dummy context cannot sign for real fingerprint %s", fpr)
	}
	sum := sha256.Sum256(append([]byte(fpr), data...))
	return sum[:], nil
}

// Verify checks a detached signature over data against pub (either a
// cached fingerprint's public key, or a raw public key blob passed
// in directly for bootstrap cases like self-signed user manifests).
func (sc *SigContext) Verify(fpr Fingerprint, pub []byte, data []byte, sig []byte) error {
	if sc.dummy {
		return sc.verifyDummy(fpr, data, sig)
	}
	if pub == nil {
		var err error
		pub, err = sc.LoadPublicKey(fpr)
		if err != nil {
			return err
		}
	}
	if len(pub) < signPublicSize {
		return wlerr.Wrap(wlerr.ErrSignature, "public key for %s is too short", fpr)
	}
	signPub := ed25519.PublicKey(pub[:signPublicSize])
	if !ed25519.Verify(signPub, data, sig) {
		return wlerr.Wrap(wlerr.ErrSignature, "signature verification failed for %s", fpr)
	}
	return nil
}

func (sc *SigContext) verifyDummy(fpr Fingerprint, data, sig []byte) error {
	if !isDummyFingerprint(fpr) {
		return wlerr.Wrap(wlerr.ErrUntrusted, "dummy context cannot verify real fingerprint %s", fpr)
	}
	sum := sha256.Sum256(append([]byte(fpr), data...))
	if !hmacEqual(sum[:], sig) {
		return wlerr.Wrap(wlerr.ErrSignature, "dummy signature mismatch for %s", fpr)
	}
	return nil
}

func isDummyFingerprint(fpr Fingerprint) bool {
	return len(fpr) >= len(dummyPrefix) && string(fpr[:len(dummyPrefix)]) == dummyPrefix
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// EncryptedPayload is the wire shape for a symmetric-encrypted body
// plus its per-recipient wrapped keys, matching spec.md §3's
// encrypted:{encrypted-data, encrypted-keys[]} wrapper.
type EncryptedPayload struct {
	Data []byte
	Keys []WrappedKey
}

// WrappedKey is one recipient's asymmetrically-wrapped copy of the
// symmetric key used to encrypt Data.
type WrappedKey struct {
	RecipientPubkey []byte
	Wrapped         []byte // ephemeral box pubkey || nonce || sealed symmetric key
}

// Encrypt encrypts cleartext once with a fresh symmetric key, then
// wraps that key once per recipient public key.
func (sc *SigContext) Encrypt(cleartext []byte, recipients [][]byte) (*EncryptedPayload, error) {
	if sc.dummy {
		return &EncryptedPayload{Data: append([]byte{}, cleartext...)}, nil
	}
	if len(recipients) == 0 {
		return nil, errors.New("encrypt requires at least one recipient")
	}

	var symKey [boxKeySize]byte
	if _, err := rand.Read(symKey[:]); err != nil {
		return nil, fmt.Errorf("generating symmetric key: %w", err)
	}
	var dataNonce [nonceSize]byte
	if _, err := rand.Read(dataNonce[:]); err != nil {
		return nil, fmt.Errorf("generating data nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, cleartext, &dataNonce, &symKey)
	data := append(dataNonce[:], sealed...)

	keys := make([]WrappedKey, 0, len(recipients))
	for _, recipientPub := range recipients {
		if len(recipientPub) < pubBlobSize {
			return nil, fmt.Errorf("recipient public key too short")
		}
		var recipientBoxPub [boxKeySize]byte
		copy(recipientBoxPub[:], recipientPub[signPublicSize:pubBlobSize])

		ephPub, ephSec, err := box.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating ephemeral key: %w", err)
		}
		var wrapNonce [nonceSize]byte
		if _, err := rand.Read(wrapNonce[:]); err != nil {
			return nil, fmt.Errorf("generating wrap nonce: %w", err)
		}
		sealedKey := box.Seal(nil, symKey[:], &wrapNonce, &recipientBoxPub, ephSec)

		wrapped := make([]byte, 0, len(ephPub)+nonceSize+len(sealedKey))
		wrapped = append(wrapped, ephPub[:]...)
		wrapped = append(wrapped, wrapNonce[:]...)
		wrapped = append(wrapped, sealedKey...)

		keys = append(keys, WrappedKey{RecipientPubkey: recipientPub, Wrapped: wrapped})
	}

	return &EncryptedPayload{Data: data, Keys: keys}, nil
}

// Decrypt attempts to unwrap the symmetric key with the box half of
// ownSecretBlob (a full secret key blob) and, on success, decrypts
// Data. In dummy mode it returns Data unchanged, and refuses with
// ErrUntrusted a payload carrying wrapped keys, which only real
// encryption produces.
func (sc *SigContext) Decrypt(payload *EncryptedPayload, ownSecretBlob []byte) ([]byte, error) {
	if sc.dummy {
		if len(payload.Keys) > 0 {
			return nil, wlerr.Wrap(wlerr.ErrUntrusted, "dummy context cannot decrypt a payload with real wrapped keys")
		}
		return payload.Data, nil
	}
	if len(ownSecretBlob) < secBlobSize {
		return nil, fmt.Errorf("secret key blob too short")
	}
	var ownBoxSec [boxKeySize]byte
	copy(ownBoxSec[:], ownSecretBlob[signSecretSize:secBlobSize])

	for _, wk := range payload.Keys {
		if len(wk.Wrapped) < boxKeySize+nonceSize {
			continue
		}
		var ephPub [boxKeySize]byte
		copy(ephPub[:], wk.Wrapped[:boxKeySize])
		var wrapNonce [nonceSize]byte
		copy(wrapNonce[:], wk.Wrapped[boxKeySize:boxKeySize+nonceSize])
		sealedKey := wk.Wrapped[boxKeySize+nonceSize:]

		symKeyBytes, ok := box.Open(nil, sealedKey, &wrapNonce, &ephPub, &ownBoxSec)
		if !ok || len(symKeyBytes) != boxKeySize {
			continue
		}
		var symKey [boxKeySize]byte
		copy(symKey[:], symKeyBytes)

		if len(payload.Data) < nonceSize {
			return nil, wlerr.Wrap(wlerr.ErrDecrypt, "encrypted data too short")
		}
		var dataNonce [nonceSize]byte
		copy(dataNonce[:], payload.Data[:nonceSize])
		cleartext, ok := secretbox.Open(nil, payload.Data[nonceSize:], &dataNonce, &symKey)
		if !ok {
			return nil, wlerr.Wrap(wlerr.ErrDecrypt, "secretbox open failed")
		}
		return cleartext, nil
	}
	return nil, wlerr.Wrap(wlerr.ErrDecrypt, "no recipient key matched local secret key")
}
