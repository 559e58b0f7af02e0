// Package wlobject provides strongly-typed views over validated
// manifests: User, Container, Storage, Bridge, and Link, plus the
// access-list and invariant logic spec.md §4.3 assigns to ObjectModel.
package wlobject

import (
	"fmt"

	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// PublicAccessUser is the wildcard access subject meaning "everyone,
// unencrypted", per spec.md §3.
const PublicAccessUser = "*"

// AccessEntry is one entry of a manifest's access list: either a bare
// user fingerprint, or a user-path Wildland URL that the resolver
// expands to a set of fingerprints.
type AccessEntry struct {
	User     string // fingerprint, or "*" for PublicAccessUser
	UserPath string // wildland: URL, mutually exclusive with User
}

// IsPublic reports whether this entry is the public wildcard.
func (a AccessEntry) IsPublic() bool {
	return a.User == PublicAccessUser
}

// ParseAccessList converts a manifest's raw "access" field (a list of
// {user: ...} / {user-path: ...} maps) into AccessEntry values.
func ParseAccessList(raw interface{}) ([]AccessEntry, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "access list must be a list")
	}
	out := make([]AccessEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "access entry must be a mapping")
		}
		var entry AccessEntry
		if u, ok := m["user"]; ok {
			entry.User, _ = u.(string)
		}
		if up, ok := m["user-path"]; ok {
			entry.UserPath, _ = up.(string)
		}
		if entry.User == "" && entry.UserPath == "" {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "access entry must set 'user' or 'user-path'")
		}
		out = append(out, entry)
	}
	return out, nil
}

// ValidateAccessList enforces invariant 5: access:[{user:"*"}] forbids
// encryption, so a manifest cannot claim to be both public and
// encrypted.
func ValidateAccessList(entries []AccessEntry, encrypted bool) error {
	hasPublic := false
	for _, e := range entries {
		if e.IsPublic() {
			hasPublic = true
		}
	}
	if hasPublic {
		if len(entries) != 1 {
			return wlerr.Wrap(wlerr.ErrSchema, "public access entry '*' must be the only access entry")
		}
		if encrypted {
			return wlerr.Wrap(wlerr.ErrSchema, "a manifest with access:[{user:\"*\"}] cannot be encrypted")
		}
	}
	return nil
}

// AccessEntriesToYAML converts AccessEntry values back to the raw
// list-of-mappings shape for serialization.
func AccessEntriesToYAML(entries []AccessEntry) []interface{} {
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		m := map[string]interface{}{}
		if e.User != "" {
			m["user"] = e.User
		}
		if e.UserPath != "" {
			m["user-path"] = e.UserPath
		}
		out[i] = m
	}
	return out
}

// RecipientFingerprints resolves an access list down to the set of
// fingerprints that should receive a wrapped encryption key directly
// (user-path entries need PubkeyResolver to expand into fingerprints
// first — see EffectivePubkeys).
func RecipientFingerprints(entries []AccessEntry) ([]sigcontext.Fingerprint, error) {
	out := make([]sigcontext.Fingerprint, 0, len(entries))
	for _, e := range entries {
		if e.IsPublic() {
			return nil, fmt.Errorf("cannot resolve recipients for public access list")
		}
		if e.User != "" {
			out = append(out, sigcontext.Fingerprint(e.User))
		}
	}
	return out, nil
}
