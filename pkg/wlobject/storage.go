package wlobject

import (
	"github.com/google/uuid"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// Storage is a typed view of a storage manifest: how to reach the
// backend holding a container's data, per spec.md §3/§4.3.
type Storage struct {
	Owner           string
	Type            string
	ContainerPath   string // the container path this storage belongs under, e.g. /.uuid/<uuid>
	BackendID       string
	ReadOnly        bool
	Trusted         bool
	Primary         bool
	ManifestPattern map[string]interface{}
	WatcherInterval int
	Access          []AccessEntry

	// Params holds backend-type-specific fields (e.g. "path" for
	// local, "url"/"credentials" for remote backends) that
	// pkg/storagebackend interprets per Type.
	Params map[string]interface{}
}

var storageKnownFields = map[string]bool{
	"object": true, "owner": true, "type": true, "container-path": true,
	"backend-id": true, "read-only": true, "trusted": true, "primary": true,
	"manifest-pattern": true, "watcher-interval": true, "access": true,
	"version": true,
}

// StorageFromFields builds a Storage from a manifest's generic field
// map, whether that map came from a top-level storage manifest or an
// inline storage embedded in a container's "storages" list or a link.
func StorageFromFields(fields map[string]interface{}) (*Storage, error) {
	s := &Storage{
		Params: map[string]interface{}{},
	}
	s.Owner, _ = fields["owner"].(string)
	s.Type, _ = fields["type"].(string)
	if s.Type == "" {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "storage manifest missing 'type'")
	}
	s.ContainerPath, _ = fields["container-path"].(string)
	s.BackendID, _ = fields["backend-id"].(string)
	if s.BackendID == "" {
		s.BackendID = uuid.New().String()
	}
	if ro, ok := fields["read-only"].(bool); ok {
		s.ReadOnly = ro
	}
	if tr, ok := fields["trusted"].(bool); ok {
		s.Trusted = tr
	}
	if pr, ok := fields["primary"].(bool); ok {
		s.Primary = pr
	}
	if mp, ok := fields["manifest-pattern"].(map[string]interface{}); ok {
		s.ManifestPattern = mp
	}
	if wi, ok := fields["watcher-interval"]; ok {
		switch v := wi.(type) {
		case int:
			s.WatcherInterval = v
		case float64:
			s.WatcherInterval = int(v)
		}
	}
	access, err := ParseAccessList(fields["access"])
	if err != nil {
		return nil, err
	}
	s.Access = access

	for k, v := range fields {
		if !storageKnownFields[k] {
			s.Params[k] = v
		}
	}
	return s, nil
}

func (s *Storage) toFields() map[string]interface{} {
	out := map[string]interface{}{
		"object":     "storage",
		"owner":      s.Owner,
		"type":       s.Type,
		"backend-id": s.BackendID,
	}
	if s.ContainerPath != "" {
		out["container-path"] = s.ContainerPath
	}
	if s.ReadOnly {
		out["read-only"] = true
	}
	if s.Trusted {
		out["trusted"] = true
	}
	if s.Primary {
		out["primary"] = true
	}
	if s.ManifestPattern != nil {
		out["manifest-pattern"] = s.ManifestPattern
	}
	if s.WatcherInterval != 0 {
		out["watcher-interval"] = s.WatcherInterval
	}
	if len(s.Access) > 0 {
		out["access"] = AccessEntriesToYAML(s.Access)
	}
	for k, v := range s.Params {
		out[k] = v
	}
	return out
}

// ValidateStoragePrimary enforces invariant 4 / spec.md Open Question
// (b), resolved as: a container may declare at most one storage with
// primary:true. More than one is a schema error at load time rather
// than a silent "last one wins".
func ValidateStoragePrimary(storages []*Storage) error {
	count := 0
	for _, s := range storages {
		if s.Primary {
			count++
		}
	}
	if count > 1 {
		return wlerr.Wrap(wlerr.ErrSchema, "container declares %d storages with primary:true, at most one is allowed", count)
	}
	return nil
}
