package wlobject

import (
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// Container is a typed view of a container manifest: the set of
// Wildland paths it claims, and the storages that can serve its data,
// per spec.md §3/§4.3.
type Container struct {
	Owner      string
	Paths      []string
	Title      string
	Categories []string
	Storages   []*Storage
	Access     []AccessEntry

	expandedPaths []string
}

// ContainerFromFields builds a Container from a manifest's generic
// field map, parsing any inline storages found under "storages".
func ContainerFromFields(fields map[string]interface{}) (*Container, error) {
	c := &Container{}
	c.Owner, _ = fields["owner"].(string)
	c.Paths = toStringSlice(fields["paths"])
	c.Title, _ = fields["title"].(string)
	c.Categories = toStringSlice(fields["categories"])

	access, err := ParseAccessList(fields["access"])
	if err != nil {
		return nil, err
	}
	c.Access = access

	if raw, ok := fields["storages"]; ok {
		items, ok := raw.([]interface{})
		if !ok {
			return nil, wlerr.Wrap(wlerr.ErrSchema, "container 'storages' must be a list")
		}
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, wlerr.Wrap(wlerr.ErrSchema, "inline storage must be a mapping")
			}
			st, err := StorageFromFields(m)
			if err != nil {
				return nil, err
			}
			c.Storages = append(c.Storages, st)
		}
	}
	if err := ValidateStoragePrimary(c.Storages); err != nil {
		return nil, err
	}
	return c, nil
}

func toStringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// EnsureUUID returns this container's stable identity path component,
// creating a fresh /.uuid/<uuid> path as the first path if none is
// present yet.
func (c *Container) EnsureUUID() string {
	for _, p := range c.Paths {
		if dir := path.Dir(p); dir == "/.uuid" {
			return path.Base(p)
		}
	}
	id := uuid.New().String()
	c.Paths = append([]string{"/.uuid/" + id}, c.Paths...)
	c.expandedPaths = nil
	return id
}

// MountPaths returns the container's declared paths plus the
// title/categories permutation expansion: for every category the
// container lists, "<category>/<title>", and for every ordered pair of
// distinct categories, "<category1>/<category2 without its leading
// slash>/<title>".
// Grounded on the original implementation's expanded_paths property.
func (c *Container) MountPaths() []string {
	if c.expandedPaths != nil {
		return c.expandedPaths
	}
	paths := append([]string{}, c.Paths...)
	if c.Title != "" {
		for _, cat := range c.Categories {
			paths = append(paths, path.Join(cat, c.Title))
		}
		for i, p1 := range c.Categories {
			for j, p2 := range c.Categories {
				if i == j {
					continue
				}
				rel := strings.TrimPrefix(p2, "/")
				paths = append(paths, path.Join(p1, rel, c.Title))
			}
		}
	}
	c.expandedPaths = paths
	return paths
}

// PrimaryStorage returns the storage marked primary:true, or the first
// storage if none is, matching the fallback-to-first read semantics
// MountCore uses when serving a container's data.
func (c *Container) PrimaryStorage() *Storage {
	for _, s := range c.Storages {
		if s.Primary {
			return s
		}
	}
	if len(c.Storages) > 0 {
		return c.Storages[0]
	}
	return nil
}

// AccessSubjects returns the fingerprints (and whether the public
// wildcard is present) that may read this container's data, for use
// by the resolver's bridge-trust checks.
func (c *Container) AccessSubjects() (fingerprints []string, public bool) {
	for _, e := range c.Access {
		if e.IsPublic() {
			return nil, true
		}
		if e.User != "" {
			fingerprints = append(fingerprints, e.User)
		}
	}
	return fingerprints, false
}
