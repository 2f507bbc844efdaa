package introspect

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fileNode is a single node's rendered state, served as a plain
// read-only text file.
type fileNode struct {
	fs.Inode
	content string
}

var _ = (fs.NodeOpener)((*fileNode)(nil))
var _ = (fs.NodeReader)((*fileNode)(nil))
var _ = (fs.NodeGetattrer)((*fileNode)(nil))

// Open always succeeds; there is no file handle state to track for a
// read-only, pre-rendered buffer.
func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Read serves a slice of the pre-rendered content at the requested
// offset, the same direct-buffer pattern as the teacher's
// IssueFileNode.Read.
func (n *fileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(n.content)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := int(off) + len(dest)
	if end > len(n.content) {
		end = len(n.content)
	}
	return fuse.ReadResultData([]byte(n.content[off:end])), fs.OK
}

// Getattr reports the file as a small read-only regular file sized to
// its rendered content.
func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0o444
	out.Size = uint64(len(n.content))
	return fs.OK
}
