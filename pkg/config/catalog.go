package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// ObjectType names one of the manifest directories a Catalog manages,
// matching spec.md §3's core object kinds.
type ObjectType string

const (
	ObjectTypeUser      ObjectType = "user"
	ObjectTypeContainer ObjectType = "container"
	ObjectTypeStorage   ObjectType = "storage"
	ObjectTypeBridge    ObjectType = "bridge"
)

// Catalog is the on-disk local manifest store: per-type directories
// holding "<name>.<object-type>.yaml" files, written atomically.
type Catalog struct {
	dirs map[ObjectType]string
}

// NewCatalog builds a Catalog from cfg's per-type directory settings.
func NewCatalog(cfg *Config) *Catalog {
	return &Catalog{dirs: map[ObjectType]string{
		ObjectTypeUser:      cfg.UserDir,
		ObjectTypeContainer: cfg.ContainerDir,
		ObjectTypeStorage:   cfg.StorageDir,
		ObjectTypeBridge:    cfg.BridgeDir,
	}}
}

// Dir returns the directory a given object type's manifests live in.
func (c *Catalog) Dir(t ObjectType) (string, error) {
	dir, ok := c.dirs[t]
	if !ok || dir == "" {
		return "", wlerr.Wrap(wlerr.ErrSchema, "no directory configured for object type %q", t)
	}
	return dir, nil
}

// Path returns the on-disk path for name's manifest of type t.
func (c *Catalog) Path(t ObjectType, name string) (string, error) {
	dir, err := c.Dir(t)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+"."+string(t)+".yaml"), nil
}

// Write atomically stores data as name's manifest of type t,
// write-temp-then-rename per spec.md §4.8's atomicity requirement.
func (c *Catalog) Write(t ObjectType, name string, data []byte) error {
	p, err := c.Path(t, name)
	if err != nil {
		return err
	}
	return atomicWrite(p, data)
}

// Read loads name's manifest of type t.
func (c *Catalog) Read(t ObjectType, name string) ([]byte, error) {
	p, err := c.Path(t, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wlerr.Wrap(wlerr.ErrNotFound, "no %s manifest named %q", t, name)
		}
		return nil, wlerr.Wrap(wlerr.ErrBackendIO, "reading %s: %v", p, err)
	}
	return data, nil
}

// Delete removes name's manifest of type t.
func (c *Catalog) Delete(t ObjectType, name string) error {
	p, err := c.Path(t, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return wlerr.Wrap(wlerr.ErrNotFound, "no %s manifest named %q", t, name)
		}
		return wlerr.Wrap(wlerr.ErrBackendIO, "removing %s: %v", p, err)
	}
	return nil
}

// List returns the names of every manifest of type t currently on disk.
func (c *Catalog) List(t ObjectType) ([]string, error) {
	dir, err := c.Dir(t)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wlerr.Wrap(wlerr.ErrBackendIO, "listing %s: %v", dir, err)
	}
	suffix := "." + string(t) + ".yaml"
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	return names, nil
}
