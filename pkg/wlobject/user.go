package wlobject

import (
	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// MaxMemberDepth bounds the recursive EffectivePubkeys walk through a
// user's "members" list, per spec.md §9's cycle-safety requirement for
// any manifest-graph traversal.
const MaxMemberDepth = 8

// User is a typed view of a user manifest: identity, the paths it
// claims, where to find its containers, and any other users it has
// delegated signing authority to via "members".
type User struct {
	Owner            sigcontext.Fingerprint
	Paths            []string
	Pubkeys          [][]byte
	ManifestsCatalog []CatalogEntry
	Members          []AccessEntry
}

// UserFromFields builds a User from a manifest's generic field map.
func UserFromFields(owner sigcontext.Fingerprint, fields map[string]interface{}) (*User, error) {
	u := &User{Owner: owner}
	u.Paths = toStringSlice(fields["paths"])

	if raw, ok := fields["pubkeys"]; ok {
		items, ok := raw.([]interface{})
		if !ok {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "user 'pubkeys' must be a list")
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, wlerr.Wrap(wlerr.ErrSchema, "user pubkey entry must be a string")
			}
			u.Pubkeys = append(u.Pubkeys, []byte(s))
		}
	}

	catalog, err := parseCatalogEntries(fields["manifests-catalog"])
	if err != nil {
		return nil, err
	}
	u.ManifestsCatalog = catalog

	members, err := ParseAccessList(fields["members"])
	if err != nil {
		return nil, err
	}
	u.Members = members

	return u, nil
}

func (u *User) toFields() map[string]interface{} {
	out := map[string]interface{}{
		"object": "user",
		"owner":  string(u.Owner),
		"paths":  u.Paths,
	}
	if len(u.ManifestsCatalog) > 0 {
		out["manifests-catalog"] = catalogEntriesToFields(u.ManifestsCatalog)
	}
	if len(u.Members) > 0 {
		out["members"] = AccessEntriesToYAML(u.Members)
	}
	return out
}

// UserLoader resolves a user fingerprint to its User view, letting
// EffectivePubkeys walk "members" without pkg/wlobject depending on
// pkg/resolver.
type UserLoader interface {
	LoadUser(fingerprint sigcontext.Fingerprint) (*User, error)
}

// EffectivePubkeys returns u's own public keys plus, recursively, the
// public keys of every user listed in "members", up to MaxMemberDepth
// hops. A member cycle terminates the walk rather than looping
// forever; it does not error, since the keys collected before the
// cycle was detected are still valid answers.
func (u *User) EffectivePubkeys(loader UserLoader) [][]byte {
	visited := map[sigcontext.Fingerprint]bool{u.Owner: true}
	keys := append([][]byte{}, u.Pubkeys...)
	u.collectMemberPubkeys(loader, visited, &keys, 0)
	return keys
}

func (u *User) collectMemberPubkeys(loader UserLoader, visited map[sigcontext.Fingerprint]bool, keys *[][]byte, depth int) {
	if depth >= MaxMemberDepth {
		return
	}
	for _, m := range u.Members {
		if m.User == "" || m.IsPublic() {
			continue
		}
		fpr := sigcontext.Fingerprint(m.User)
		if visited[fpr] {
			continue
		}
		visited[fpr] = true
		member, err := loader.LoadUser(fpr)
		if err != nil {
			continue
		}
		*keys = append(*keys, member.Pubkeys...)
		member.collectMemberPubkeys(loader, visited, keys, depth+1)
	}
}
