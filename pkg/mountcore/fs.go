package mountcore

import (
	"context"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// attrTimeout is how long the kernel may cache an entry's attributes
// before re-asking, matching the teacher's 1-second Getattr/Lookup
// caching window.
const attrTimeout = 1 * time.Second

// DirNode is the single fs.Inode type used for every directory in the
// tree, including the root; it derives its own Wildland path from its
// position via fs.Path rather than storing it, the same self-location
// idiom the teacher's CollectiveFS uses.
type DirNode struct {
	fs.Inode
	core *Core
}

var _ fs.NodeGetattrer = (*DirNode)(nil)
var _ fs.NodeReaddirer = (*DirNode)(nil)
var _ fs.NodeLookuper = (*DirNode)(nil)
var _ fs.NodeCreater = (*DirNode)(nil)
var _ fs.NodeMkdirer = (*DirNode)(nil)
var _ fs.NodeRmdirer = (*DirNode)(nil)
var _ fs.NodeUnlinker = (*DirNode)(nil)

// NewFilesystem builds the root DirNode for a FUSE mount driven by
// core.
func NewFilesystem(core *Core) *DirNode {
	return &DirNode{core: core}
}

func (n *DirNode) selfPath() string {
	p := n.Path(n.Root())
	if p == "" {
		return "/"
	}
	return "/" + p
}

func (n *DirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.core.Stat(ctx, n.selfPath())
	if err != nil {
		return wlerr.Errno(err)
	}
	fillDirAttr(&out.Attr, info)
	out.SetTimeout(attrTimeout)
	return 0
}

func (n *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.core.Readdir(ctx, n.selfPath())
	if err != nil {
		return nil, wlerr.Errno(err)
	}
	fuseEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(0644)
		if e.IsDir {
			mode = syscall.S_IFDIR | 0755
		} else {
			mode |= syscall.S_IFREG
		}
		fuseEntries = append(fuseEntries, fuse.DirEntry{Mode: mode, Name: e.Name})
	}
	return fs.NewListDirStream(fuseEntries), 0
}

func (n *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.selfPath(), name)
	info, err := n.core.Stat(ctx, childPath)
	if err != nil {
		return nil, wlerr.Errno(err)
	}

	var child *fs.Inode
	if info.IsDir {
		child = n.NewInode(ctx, &DirNode{core: n.core}, fs.StableAttr{Mode: syscall.S_IFDIR})
		fillDirAttr(&out.Attr, info)
	} else {
		child = n.NewInode(ctx, &FileNode{core: n.core, path: childPath}, fs.StableAttr{Mode: syscall.S_IFREG})
		fillFileAttr(&out.Attr, info)
	}
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	return child, 0
}

func (n *DirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := path.Join(n.selfPath(), name)
	if err := n.core.Create(ctx, childPath); err != nil {
		return nil, nil, 0, wlerr.Errno(err)
	}
	child := n.NewInode(ctx, &FileNode{core: n.core, path: childPath}, fs.StableAttr{Mode: syscall.S_IFREG})
	out.Attr.Mode = syscall.S_IFREG | 0644
	now := uint64(time.Now().Unix())
	out.Attr.Mtime, out.Attr.Atime, out.Attr.Ctime = now, now, now
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	return child, nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *DirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.selfPath(), name)
	if err := n.core.Mkdir(ctx, childPath); err != nil {
		return nil, wlerr.Errno(err)
	}
	child := n.NewInode(ctx, &DirNode{core: n.core}, fs.StableAttr{Mode: syscall.S_IFDIR})
	out.Attr.Mode = syscall.S_IFDIR | 0755
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
	return child, 0
}

func (n *DirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return wlerr.Errno(n.core.Rmdir(ctx, path.Join(n.selfPath(), name)))
}

func (n *DirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return wlerr.Errno(n.core.Unlink(ctx, path.Join(n.selfPath(), name)))
}

// FileNode is the fs.Inode type for an individual file, carrying its
// own path explicitly since it has no children to derive it from.
type FileNode struct {
	fs.Inode
	core *Core
	path string
}

var _ fs.NodeGetattrer = (*FileNode)(nil)
var _ fs.NodeOpener = (*FileNode)(nil)
var _ fs.NodeReader = (*FileNode)(nil)
var _ fs.NodeWriter = (*FileNode)(nil)
var _ fs.NodeSetattrer = (*FileNode)(nil)

func (n *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.core.Stat(ctx, n.path)
	if err != nil {
		return wlerr.Errno(err)
	}
	fillFileAttr(&out.Attr, info)
	out.SetTimeout(attrTimeout)
	return 0
}

func (n *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.core.Truncate(ctx, n.path, int64(size)); err != nil {
			return wlerr.Errno(err)
		}
	}
	info, err := n.core.Stat(ctx, n.path)
	if err != nil {
		return wlerr.Errno(err)
	}
	fillFileAttr(&out.Attr, info)
	return 0
}

func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *FileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.core.Read(ctx, n.path, off, len(dest))
	if err != nil {
		return nil, wlerr.Errno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *FileNode) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.core.Write(ctx, n.path, data, off)
	if err != nil {
		return 0, wlerr.Errno(err)
	}
	return uint32(written), 0
}

func fillDirAttr(attr *fuse.Attr, info storagebackend.FileInfo) {
	attr.Mode = syscall.S_IFDIR | 0755
	attr.Nlink = 1
	setTimes(attr, info)
}

func fillFileAttr(attr *fuse.Attr, info storagebackend.FileInfo) {
	attr.Mode = syscall.S_IFREG | 0644
	attr.Size = uint64(info.Size)
	attr.Nlink = 1
	setTimes(attr, info)
}

func setTimes(attr *fuse.Attr, info storagebackend.FileInfo) {
	t := info.ModTime
	if t.IsZero() {
		t = time.Now()
	}
	ts := uint64(t.Unix())
	attr.Mtime, attr.Atime, attr.Ctime = ts, ts, ts
}
