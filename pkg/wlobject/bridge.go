package wlobject

import (
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// bridgePlaceholderNamespace is an arbitrary fixed UUID namespace used
// to generate a deterministic placeholder-container UUID per target
// user, so re-resolving the same bridge always remounts the same
// placeholder rather than a fresh one each time.
var bridgePlaceholderNamespace = uuid.MustParse("4a9a69d0-6f32-4ab5-8d4e-c198bf582554")

// Bridge is a typed view of a bridge manifest: a pointer from one
// user's namespace into another user's forest, per spec.md §3/§4.4.
type Bridge struct {
	Owner  sigcontext.Fingerprint
	User   CatalogEntry
	Pubkey []byte
	Paths  []string
	UserID sigcontext.Fingerprint
}

// BridgeFromFields builds a Bridge from a manifest's generic field
// map. The target user's fingerprint is derived from the bundled
// pubkey blob rather than trusted from any field the manifest body
// declares directly.
func BridgeFromFields(owner sigcontext.Fingerprint, fields map[string]interface{}) (*Bridge, error) {
	b := &Bridge{Owner: owner}
	b.Paths = toStringSlice(fields["paths"])

	userRaw, ok := fields["user"]
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "bridge manifest missing 'user'")
	}
	entry, err := parseCatalogEntry(userRaw)
	if err != nil {
		return nil, err
	}
	b.User = entry

	pub, _ := fields["pubkey"].(string)
	if pub == "" {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "bridge manifest missing 'pubkey'")
	}
	b.Pubkey = []byte(pub)
	b.UserID = sigcontext.FingerprintOf(b.Pubkey)

	return b, nil
}

// CreateSafeBridgePaths rewrites a bridge's target-facing paths into
// an obscure /forests/<user-id>-<flattened-path> form so a malicious
// forest's self-declared paths can never collide with paths the local
// user already trusts, matching the original implementation's
// create_safe_bridge_paths.
func CreateSafeBridgePaths(userID sigcontext.Fingerprint, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		trimmed := strings.TrimPrefix(p, "/")
		flattened := strings.ReplaceAll(trimmed, "/", "_")
		out[i] = "/forests/" + string(userID) + "-" + flattened
	}
	return out
}

// ToPlaceholderContainer builds the synthetic container mounted in
// place of a bridge's target before the target's real containers have
// been resolved, so the forest root exists the instant the bridge is
// mounted.
func (b *Bridge) ToPlaceholderContainer() *Container {
	id := uuid.NewSHA1(bridgePlaceholderNamespace, []byte(b.UserID)).String()
	storage := &Storage{
		Owner:     string(b.Owner),
		Type:      "static",
		BackendID: id,
		Primary:   true,
		Params: map[string]interface{}{
			"content": map[string]interface{}{
				"WILDLAND-FOREST.txt": "This directory holds the forest of user " + string(b.UserID) + ".\n",
			},
		},
	}
	return &Container{
		Owner:    string(b.UserID),
		Paths:    []string{path.Join("/.uuid", id), "/"},
		Storages: []*Storage{storage},
	}
}
