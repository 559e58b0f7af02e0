// Package resolver implements Wildland's URL resolver: parsing the
// wildland: URL grammar and walking bridges and manifest catalogs down
// to a concrete container, per spec.md §4.4.
package resolver

import (
	"strings"

	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

const urlPrefix = "wildland:"

// WildlandPath is a parsed wildland:<owner-prefix>?:<segment>(:<segment>)+:
// URL.
type WildlandPath struct {
	Raw         string
	OwnerPrefix string
	Parts       []string
}

// ParseWildlandPath parses raw into a WildlandPath, rejecting anything
// that does not match the grammar: at least three colon-delimited
// parts, every path segment absolute.
func ParseWildlandPath(raw string) (*WildlandPath, error) {
	if !strings.HasPrefix(raw, urlPrefix) {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "wildland URL must start with %q", urlPrefix)
	}
	rest := raw[len(urlPrefix):]
	if !strings.HasSuffix(rest, ":") {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "wildland URL must end with ':'")
	}
	rest = rest[:len(rest)-1]

	fields := strings.Split(rest, ":")
	if len(fields) < 2 {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "wildland URL requires an owner prefix and at least one path segment")
	}
	owner := fields[0]
	segments := fields[1:]
	for _, s := range segments {
		if s == "" || !strings.HasPrefix(s, "/") {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "wildland URL segment %q must be an absolute path", s)
		}
	}
	return &WildlandPath{Raw: raw, OwnerPrefix: owner, Parts: segments}, nil
}

// ResolveOwnerPrefix interprets a parsed URL's owner prefix: empty
// (use defaultOwner), an "@alias" looked up in aliases, a bare
// fingerprint, or "<fpr>@https://..." carrying a bootstrap location
// hint for when the owner's manifest is not yet known locally.
func ResolveOwnerPrefix(prefix string, aliases map[string]string, defaultOwner sigcontext.Fingerprint) (owner sigcontext.Fingerprint, bootstrapHint string, err error) {
	if prefix == "" {
		if defaultOwner == "" {
			return "", "", wlerr.Wrap(wlerr.ErrSchema, "empty owner prefix with no default owner configured")
		}
		return defaultOwner, "", nil
	}
	if idx := strings.Index(prefix, "@http"); idx >= 0 {
		return sigcontext.Fingerprint(prefix[:idx]), prefix[idx+1:], nil
	}
	if strings.HasPrefix(prefix, "@") {
		resolved, ok := aliases[prefix]
		if !ok {
			return "", "", wlerr.Wrap(wlerr.ErrSchema, "unknown alias %q", prefix)
		}
		return sigcontext.Fingerprint(resolved), "", nil
	}
	return sigcontext.Fingerprint(prefix), "", nil
}
