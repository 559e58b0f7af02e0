package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wildland-go/wildland/pkg/manifest"
	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// MaxResolveDepth bounds the number of bridge/catalog hops a single
// resolution may take, matching the cycle-safety budget spec.md §9
// assigns to every manifest-graph traversal.
const MaxResolveDepth = 8

// ManifestFetcher retrieves the raw bytes of a manifest addressed by a
// fetchable URL (http(s):// or a nested wildland: URL), the role
// Search.read_from_url plays in the original implementation.
type ManifestFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ManifestScanner searches a storage for sub-manifests matching a
// Wildland path segment, the role storage_find_manifests plays in the
// original implementation. pkg/storagebackend implements this without
// resolver importing it directly, avoiding an import cycle.
type ManifestScanner interface {
	FindManifests(ctx context.Context, storage *wlobject.Storage, part string) ([][]byte, error)
	ReadLink(ctx context.Context, link *wlobject.Link) ([]byte, error)
}

// step is one resolved hop of a Wildland path: the owner whose
// signature the current container must carry, the container itself,
// and, if this hop crossed into another user's namespace via a
// bridge, that user.
type step struct {
	owner     sigcontext.Fingerprint
	container *wlobject.Container
	user      *wlobject.User
}

type catalogItem struct {
	container *wlobject.Container
}

// Resolver walks Wildland URLs through local manifests, bridges, and
// catalogs down to a concrete container, per spec.md §4.4.
type Resolver struct {
	sc           *sigcontext.SigContext
	fetcher      ManifestFetcher
	scanner      ManifestScanner
	aliases      map[string]string
	defaultOwner sigcontext.Fingerprint

	mu              sync.RWMutex
	localContainers []*wlobject.Container
	localBridges    []*wlobject.Bridge
	localUsers      map[sigcontext.Fingerprint]*wlobject.User

	sg           singleflight.Group
	catalogMu    sync.Mutex
	catalogCache map[sigcontext.Fingerprint][]catalogItem
}

// New builds a Resolver. aliases maps "@name" to a fingerprint string,
// mirroring spec.md §4.8's config "aliases" map.
func New(sc *sigcontext.SigContext, fetcher ManifestFetcher, scanner ManifestScanner, aliases map[string]string, defaultOwner sigcontext.Fingerprint) *Resolver {
	return &Resolver{
		sc:           sc,
		fetcher:      fetcher,
		scanner:      scanner,
		aliases:      aliases,
		defaultOwner: defaultOwner,
		localUsers:   make(map[sigcontext.Fingerprint]*wlobject.User),
		catalogCache: make(map[sigcontext.Fingerprint][]catalogItem),
	}
}

// AddLocalUser registers a user manifest this process already trusts
// (typically the process's own identity, or a pinned peer).
func (r *Resolver) AddLocalUser(u *wlobject.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localUsers[u.Owner] = u
}

// AddLocalContainer registers a container manifest found on disk
// without needing a catalog fetch to discover it.
func (r *Resolver) AddLocalContainer(c *wlobject.Container) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localContainers = append(r.localContainers, c)
}

// AddLocalBridge registers a bridge manifest found on disk.
func (r *Resolver) AddLocalBridge(b *wlobject.Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localBridges = append(r.localBridges, b)
}

// LoadUser implements wlobject.UserLoader for User.EffectivePubkeys,
// using whatever local users and catalog entries this resolver has
// already pulled in.
func (r *Resolver) LoadUser(fpr sigcontext.Fingerprint) (*wlobject.User, error) {
	r.mu.RLock()
	if u, ok := r.localUsers[fpr]; ok {
		r.mu.RUnlock()
		return u, nil
	}
	r.mu.RUnlock()
	return nil, wlerr.Wrap(wlerr.ErrNotFound, "user %s not locally known", fpr)
}

// ResolveContainer walks wp to the first container that matches every
// path segment, trying local manifests before falling back to catalog
// and bridge traversal, matching Search._resolve_all's "first result
// wins" semantics.
func (r *Resolver) ResolveContainer(ctx context.Context, wp *WildlandPath) (*wlobject.Container, error) {
	owner, _, err := ResolveOwnerPrefix(wp.OwnerPrefix, r.aliases, r.defaultOwner)
	if err != nil {
		return nil, err
	}

	first, err := r.resolveFirst(ctx, wp, owner)
	if err != nil {
		return nil, err
	}
	for _, st := range first {
		final, err := r.resolveRest(ctx, wp, st, 1, 1)
		if err == nil {
			return final.container, nil
		}
	}
	return nil, wlerr.Wrap(wlerr.ErrNotFound, "no container found for %s", wp.Raw)
}

func (r *Resolver) resolveFirst(ctx context.Context, wp *WildlandPath, owner sigcontext.Fingerprint) ([]step, error) {
	steps := r.resolveLocal(wp.Parts[0], owner)

	r.mu.RLock()
	user, hasUser := r.localUsers[owner]
	r.mu.RUnlock()
	if hasUser {
		userSteps, err := r.userStep(ctx, user)
		if err != nil {
			return steps, nil
		}
		for _, us := range userSteps {
			next, err := r.resolveNext(ctx, wp, us, 0, 1)
			if err != nil {
				continue
			}
			steps = append(steps, next...)
		}
	}
	if len(steps) == 0 {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "no local container or bridge matched %s for owner %s", wp.Parts[0], owner)
	}
	return steps, nil
}

func (r *Resolver) resolveLocal(part string, owner sigcontext.Fingerprint) []step {
	r.mu.RLock()
	var out []step
	for _, c := range r.localContainers {
		if c.Owner != string(owner) {
			continue
		}
		if containsPath(c.MountPaths(), part) {
			out = append(out, step{owner: owner, container: c})
		}
	}
	var bridges []*wlobject.Bridge
	for _, b := range r.localBridges {
		if b.Owner == owner && containsPath(b.Paths, part) {
			bridges = append(bridges, b)
		}
	}
	r.mu.RUnlock()

	// followBridge registers the target user via AddLocalUser, which
	// takes r.mu for writing, so it runs after the read lock is released.
	for _, b := range bridges {
		targetSteps, err := r.followBridge(context.Background(), b)
		if err == nil {
			out = append(out, targetSteps...)
		}
	}
	return out
}

func (r *Resolver) resolveRest(ctx context.Context, wp *WildlandPath, st step, i, depth int) (step, error) {
	if depth > MaxResolveDepth {
		return step{}, wlerr.Wrap(wlerr.ErrCycle, "exceeded maximum resolve depth %d resolving %s", MaxResolveDepth, wp.Raw)
	}
	if i == len(wp.Parts) {
		return st, nil
	}
	nexts, err := r.resolveNext(ctx, wp, st, i, depth)
	if err != nil {
		return step{}, err
	}
	for _, n := range nexts {
		final, err := r.resolveRest(ctx, wp, n, i+1, depth+1)
		if err == nil {
			return final, nil
		}
	}
	return step{}, wlerr.Wrap(wlerr.ErrNotFound, "no match for segment %q in %s", wp.Parts[i], wp.Raw)
}

func (r *Resolver) resolveNext(ctx context.Context, wp *WildlandPath, st step, i, depth int) ([]step, error) {
	part := wp.Parts[i]

	out := r.resolveLocal(part, st.owner)

	if st.container == nil {
		if len(out) == 0 {
			return nil, wlerr.Wrap(wlerr.ErrNotFound, "no container to search for %q", part)
		}
		return out, nil
	}

	for _, storage := range st.container.Storages {
		candidates, err := r.scanner.FindManifests(ctx, storage, part)
		if err != nil {
			continue
		}
		for _, data := range candidates {
			opts := manifest.LoadOptions{}
			if storage.Trusted {
				opts.SelfSigned = true
			}
			m, err := manifest.FromBytes(data, r.sc, opts)
			if err != nil {
				continue
			}
			kind, _ := m.Fields["object"].(string)
			switch kind {
			case "container":
				c, err := wlobject.ContainerFromFields(m.Fields)
				if err != nil || c.Owner != string(st.owner) {
					continue
				}
				if !containsPath(c.MountPaths(), part) {
					continue
				}
				out = append(out, step{owner: st.owner, container: c})
			case "bridge":
				b, err := wlobject.BridgeFromFields(st.owner, m.Fields)
				if err != nil || !containsPath(b.Paths, part) {
					continue
				}
				targetSteps, err := r.followBridge(ctx, b)
				if err == nil {
					out = append(out, targetSteps...)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "no match for segment %q", part)
	}
	return out, nil
}

// followBridge fetches the target user's manifest, verifies it really
// matches the fingerprint the bridge vouches for, and returns the
// steps rooted at that user's own containers.
func (r *Resolver) followBridge(ctx context.Context, b *wlobject.Bridge) ([]step, error) {
	if b.User.URL == "" {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "bridge %v has no fetchable user location", b.Paths)
	}
	data, err := r.fetcher.Fetch(ctx, b.User.URL)
	if err != nil {
		return nil, wlerr.Wrap(wlerr.ErrNetwork, "fetching bridge target %s: %v", b.User.URL, err)
	}
	expected := sigcontext.FingerprintOf(b.Pubkey)
	m, err := manifest.FromBytes(data, r.sc, manifest.LoadOptions{SelfSigned: true, TrustedPubkey: b.Pubkey})
	if err != nil {
		return nil, err
	}
	if m.Header.Fingerprint != expected {
		return nil, wlerr.Wrap(wlerr.ErrUntrusted, "bridge target fingerprint %s does not match declared pubkey", m.Header.Fingerprint)
	}
	user, err := wlobject.UserFromFields(expected, m.Fields)
	if err != nil {
		return nil, err
	}
	r.AddLocalUser(user)
	return r.userStep(ctx, user)
}

// userStep loads every container named in a user's manifests-catalog,
// caching the decoded set per owner so repeated resolutions (and
// concurrent ones, via singleflight) do not refetch the same catalog.
func (r *Resolver) userStep(ctx context.Context, u *wlobject.User) ([]step, error) {
	items, err := r.loadCatalog(ctx, u)
	if err != nil {
		return nil, err
	}
	var out []step
	for _, item := range items {
		if item.container != nil && item.container.Owner == string(u.Owner) {
			out = append(out, step{owner: u.Owner, container: item.container, user: u})
		}
	}
	if len(out) == 0 {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "user %s's catalog has no usable containers", u.Owner)
	}
	return out, nil
}

func (r *Resolver) loadCatalog(ctx context.Context, u *wlobject.User) ([]catalogItem, error) {
	r.catalogMu.Lock()
	if items, ok := r.catalogCache[u.Owner]; ok {
		r.catalogMu.Unlock()
		return items, nil
	}
	r.catalogMu.Unlock()

	v, err, _ := r.sg.Do(string(u.Owner), func() (interface{}, error) {
		var items []catalogItem
		for _, entry := range u.ManifestsCatalog {
			data, err := r.fetchCatalogEntry(ctx, entry)
			if err != nil {
				continue
			}
			m, err := manifest.FromBytes(data, r.sc, manifest.LoadOptions{SelfSigned: true})
			if err != nil {
				continue
			}
			kind, _ := m.Fields["object"].(string)
			if kind == "container" {
				if c, err := wlobject.ContainerFromFields(m.Fields); err == nil {
					items = append(items, catalogItem{container: c})
				}
			}
		}
		r.catalogMu.Lock()
		r.catalogCache[u.Owner] = items
		r.catalogMu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalogItem), nil
}

func (r *Resolver) fetchCatalogEntry(ctx context.Context, entry wlobject.CatalogEntry) ([]byte, error) {
	if entry.Link != nil {
		return r.scanner.ReadLink(ctx, entry.Link)
	}
	return r.fetcher.Fetch(ctx, entry.URL)
}

func containsPath(paths []string, part string) bool {
	for _, p := range paths {
		if p == part {
			return true
		}
	}
	return false
}
