package wlobject

import "github.com/wildland-go/wildland/pkg/wlerr"

// Link is an indirection to a manifest living inside a storage rather
// than at a fetchable URL, per spec.md §3.
type Link struct {
	Storage *Storage
	File    string
}

func parseLink(raw map[string]interface{}) (*Link, error) {
	storageRaw, ok := raw["storage"]
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "link missing 'storage'")
	}
	storageMap, ok := storageRaw.(map[string]interface{})
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "link 'storage' must be a mapping (inline)")
	}
	storage, err := StorageFromFields(storageMap)
	if err != nil {
		return nil, err
	}
	file, _ := raw["file"].(string)
	if file == "" {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "link missing 'file'")
	}
	return &Link{Storage: storage, File: file}, nil
}

func (l *Link) toFields() map[string]interface{} {
	return map[string]interface{}{
		"storage": l.Storage.toFields(),
		"file":    l.File,
	}
}

// CatalogEntry is one entry of a user's manifests-catalog[] or a
// bridge's "user" field: either a fetchable Wildland/container URL or
// an inline Link pointing into a storage.
type CatalogEntry struct {
	URL  string
	Link *Link
}

func parseCatalogEntry(raw interface{}) (CatalogEntry, error) {
	switch v := raw.(type) {
	case string:
		return CatalogEntry{URL: v}, nil
	case map[string]interface{}:
		link, err := parseLink(v)
		if err != nil {
			return CatalogEntry{}, err
		}
		return CatalogEntry{Link: link}, nil
	default:
		return CatalogEntry{}, wlerr.Wrap(wlerr.ErrSchema, "catalog entry must be a URL string or an inline link")
	}
}

func (c CatalogEntry) toFields() interface{} {
	if c.Link != nil {
		return c.Link.toFields()
	}
	return c.URL
}

func parseCatalogEntries(raw interface{}) ([]CatalogEntry, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "catalog field must be a list")
	}
	out := make([]CatalogEntry, 0, len(items))
	for _, item := range items {
		entry, err := parseCatalogEntry(item)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func catalogEntriesToFields(entries []CatalogEntry) []interface{} {
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = e.toFields()
	}
	return out
}
