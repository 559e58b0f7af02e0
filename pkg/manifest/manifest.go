// Package manifest implements Wildland's ManifestCodec: canonical
// serialization, signature framing, schema-version negotiation, and
// transparent decrypt-on-load, per spec.md §4.2.
package manifest

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// CurrentVersion is the only schema version this codec accepts.
// spec.md §9: "An unknown version MUST be rejected, never silently
// upgraded."
const CurrentVersion = "1"

// Manifest is a loaded, verified, and (if needed) decrypted manifest.
// Fields mirrors the generic field map the original Python
// implementation keeps alongside typed wrapper objects — pkg/wlobject
// re-reads Fields to build its typed views.
type Manifest struct {
	Header Header
	Fields map[string]interface{}

	// signedBody is the exact bytes the signature was computed over
	// (the possibly-still-encrypted body), kept for round-trip tests
	// and for ToBytes.
	signedBody []byte
}

// FromFields signs and serializes fields, producing an unencrypted
// manifest. owner must match fields' own "owner" key (invariant 1).
func FromFields(owner sigcontext.Fingerprint, fields *OrderedMap, sc *sigcontext.SigContext) (*Manifest, error) {
	body, err := CanonicalYAML(fields)
	if err != nil {
		return nil, err
	}
	return signBody(owner, body, fields.ToGenericMap(), sc)
}

// FromFieldsEncrypted signs and serializes fields after encrypting
// the body for recipients. access:[{user:"*"}] (an empty recipients
// list) forbids encryption per spec.md invariant 5.
func FromFieldsEncrypted(owner sigcontext.Fingerprint, fields *OrderedMap, recipients [][]byte, sc *sigcontext.SigContext) (*Manifest, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("cannot encrypt manifest with no recipients (use access:[{user:\"*\"}] for public manifests)")
	}
	cleartext, err := CanonicalYAML(fields)
	if err != nil {
		return nil, err
	}
	payload, err := sc.Encrypt(cleartext, recipients)
	if err != nil {
		return nil, fmt.Errorf("encrypting manifest body: %w", err)
	}
	wrapper := encryptedWrapper(payload)
	body, err := yaml.Marshal(wrapper)
	if err != nil {
		return nil, fmt.Errorf("marshaling encrypted wrapper: %w", err)
	}
	return signBody(owner, body, fields.ToGenericMap(), sc)
}

func signBody(owner sigcontext.Fingerprint, body []byte, plainFields map[string]interface{}, sc *sigcontext.SigContext) (*Manifest, error) {
	sig, err := sc.Sign(owner, body)
	if err != nil {
		return nil, fmt.Errorf("signing manifest body: %w", err)
	}
	return &Manifest{
		Header:     Header{Fingerprint: owner, Signature: sig},
		Fields:     plainFields,
		signedBody: body,
	}, nil
}

// LoadOptions controls verification behavior for FromBytes.
type LoadOptions struct {
	// SelfSigned skips the "owner's key must already be known"
	// requirement, for bootstrapping a freshly generated user.
	SelfSigned bool
	// TrustedPubkey, if non-nil, is used for signature verification
	// instead of consulting the SigContext's keystore — used by the
	// resolver when verifying a bridge's target against a pubkey
	// supplied out of band.
	TrustedPubkey []byte
}

// FromBytes parses, verifies, and (if encrypted) decrypts a manifest,
// matching the original implementation's verify-then-decrypt order:
// the signature covers whatever bytes were actually written to disk,
// encrypted or not.
func FromBytes(data []byte, sc *sigcontext.SigContext, opts LoadOptions) (*Manifest, error) {
	headerData, body, err := splitEnvelope(data)
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "%v", err)
	}
	header, err := decodeHeader(headerData)
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "%v", err)
	}

	if opts.SelfSigned && opts.TrustedPubkey == nil {
		pub, pubErr := sc.LoadPublicKey(header.Fingerprint)
		if pubErr == nil {
			opts.TrustedPubkey = pub
		}
	}
	if !opts.SelfSigned || opts.TrustedPubkey != nil {
		pub := opts.TrustedPubkey
		if pub == nil {
			pub, err = sc.LoadPublicKey(header.Fingerprint)
			if err != nil {
				return nil, err
			}
		}
		if err := sc.Verify(header.Fingerprint, pub, body, header.Signature); err != nil {
			return nil, err
		}
	}

	cleartext, err := decryptIfNeeded(body, sc)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := yaml.Unmarshal(cleartext, &fields); err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "parsing manifest body: %v", err)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	if v, ok := fields["version"]; ok {
		if toStr(v) != CurrentVersion {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "unsupported manifest version %v", v)
		}
	}

	ownerField, _ := fields["owner"]
	if toStr(ownerField) != "" && sigcontext.Fingerprint(toStr(ownerField)) != header.Fingerprint {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "owner field %v does not match header fingerprint %s", ownerField, header.Fingerprint)
	}

	return &Manifest{Header: *header, Fields: fields, signedBody: body}, nil
}

func toStr(v interface{}) string {
	s, _ := v.(string)
	return s
}

// encryptedWrapperWire is the YAML shape of the encrypted body, per
// spec.md §3.
type encryptedWrapperWire struct {
	Encrypted encryptedDataWire `yaml:"encrypted"`
}

type encryptedDataWire struct {
	EncryptedData string             `yaml:"encrypted-data"`
	EncryptedKeys []encryptedKeyWire `yaml:"encrypted-keys"`
}

type encryptedKeyWire struct {
	Pubkey  string `yaml:"pubkey"`
	Wrapped string `yaml:"wrapped"`
}

func encryptedWrapper(payload *sigcontext.EncryptedPayload) encryptedWrapperWire {
	keys := make([]encryptedKeyWire, len(payload.Keys))
	for i, k := range payload.Keys {
		keys[i] = encryptedKeyWire{
			Pubkey:  base64.StdEncoding.EncodeToString(k.RecipientPubkey),
			Wrapped: base64.StdEncoding.EncodeToString(k.Wrapped),
		}
	}
	return encryptedWrapperWire{Encrypted: encryptedDataWire{
		EncryptedData: base64.StdEncoding.EncodeToString(payload.Data),
		EncryptedKeys: keys,
	}}
}

// decryptIfNeeded inspects body for the encrypted:{...} wrapper and,
// if present, tries every locally available secret key in turn,
// failing with wlerr.ErrDecrypt if none of them can decrypt it.
func decryptIfNeeded(body []byte, sc *sigcontext.SigContext) ([]byte, error) {
	var probe map[string]interface{}
	if err := yaml.Unmarshal(body, &probe); err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "parsing manifest body: %v", err)
	}
	raw, ok := probe["encrypted"]
	if !ok {
		return body, nil
	}
	if len(probe) != 1 {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "encrypted body must contain only the 'encrypted' key")
	}

	var wrapper encryptedWrapperWire
	if err := yaml.Unmarshal(body, &wrapper); err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "parsing encrypted wrapper: %v", err)
	}
	_ = raw

	data, err := base64.StdEncoding.DecodeString(wrapper.Encrypted.EncryptedData)
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "decoding encrypted-data: %v", err)
	}
	payload := &sigcontext.EncryptedPayload{Data: data}
	for _, k := range wrapper.Encrypted.EncryptedKeys {
		pub, err := base64.StdEncoding.DecodeString(k.Pubkey)
		if err != nil {
			continue
		}
		wrapped, err := base64.StdEncoding.DecodeString(k.Wrapped)
		if err != nil {
			continue
		}
		payload.Keys = append(payload.Keys, sigcontext.WrappedKey{RecipientPubkey: pub, Wrapped: wrapped})
	}

	owned, err := sc.OwnedFingerprints()
	if err != nil {
		return nil, err
	}
	for _, fpr := range owned {
		kp, err := sc.LoadSecretKey(fpr)
		if err != nil {
			continue
		}
		cleartext, err := sc.Decrypt(payload, kp.SecretKey)
		if err == nil {
			return cleartext, nil
		}
	}
	return nil, wlerr.Wrap(wlerr.ErrDecrypt, "no locally available secret key can decrypt this manifest")
}

// ToBytes re-serializes the manifest's envelope: header, separator,
// and the exact signed body bytes.
func (m *Manifest) ToBytes() []byte {
	out := append([]byte{}, encodeHeader(&m.Header)...)
	out = append(out, headerSeparator...)
	out = append(out, m.signedBody...)
	return out
}
