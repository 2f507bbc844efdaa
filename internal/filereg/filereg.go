// Package filereg implements the file registry: path interning, cached
// stat/signature state, and the signer strategy attached to each file.
//
// Grounded on src/files.c (GetFile, FileStat, FileSignature) from
// original_source/, restructured around the teacher's sharded-state
// idiom (internal/cache.Cache uses one sync.RWMutex over a map), but
// spreads files across a fixed array of 64 shard mutexes keyed by path
// hash. Files in different shards never contend; files that share a
// shard do, and Signature holds the shard lock while hashing.
package filereg

import (
	"hash/maphash"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tundra-build/tundra/internal/arena"
	"github.com/tundra-build/tundra/internal/signature"
)

// Mode selects how GetFile treats the path argument, mirroring the
// COPY_STRING / BORROW_STRING distinction in src/files.c.
type Mode int

const (
	// CopyString sanitizes and interns the path into the registry's
	// arena. Use this for caller-owned strings of unknown lifetime.
	CopyString Mode = iota
	// BorrowString skips sanitization and storage; the caller
	// guarantees the string outlives the registry.
	BorrowString
)

// Stat is a filesystem snapshot as seen by the OS facade.
type Stat struct {
	Exists  bool
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// StatFunc asks the OS facade for the current Stat of a path. A
// failure is reported by returning Stat{} (Exists=false) and a non-nil
// error; StatOf discards the error and caches the empty Stat. A
// missing file yields an empty Stat, not an error.
type StatFunc func(path string) (Stat, error)

// File is an interned path plus its cached, lazily-computed state.
type File struct {
	Path   string
	hash   uint64
	shard  *sync.Mutex
	statOK bool
	stat   Stat
	sigOK  bool
	sig    signature.Digest
	signer signature.Signer

	// producer is the node that outputs this file, set once during
	// authoring. It is declared as `any` to avoid an import cycle with
	// internal/graph; callers type-assert to their own Node type.
	producer any

	// RelCacheIndex caches the relation-cache bucket this file's
	// implicit-dependency lookups land in, avoiding a second hash
	// computation per scan.
	RelCacheIndex uint64
}

// Producer returns the node that produces this file, or nil if none
// has been set.
func (f *File) Producer() any { return f.producer }

// SetProducer records the node that produces this file. The engine's
// graph-wiring phase calls this exactly once per output file; a second
// call on a file that already has a producer is a single-producer
// violation and the caller is expected to reject
// it before calling SetProducer again.
func (f *File) SetProducer(node any) { f.producer = node }

const shardCount = 64 // power of two

// Registry interns paths and shards their per-file locks across a
// fixed-size mutex array.
type Registry struct {
	mu      sync.Mutex // covers table insert/lookup only
	table   map[string]*File
	strings arena.StringPool
	shards  [shardCount]sync.Mutex
	seed    maphash.Seed

	// DefaultSigner governs newly-interned files; per-output overrides
	// are applied by the caller via File.SetSigner.
	DefaultSigner signature.Signer
	Stat          StatFunc
}

// New returns an empty Registry. statFn supplies OS-level stat results;
// defaultSigner governs files that are never given an explicit signer.
func New(statFn StatFunc, defaultSigner signature.Signer) *Registry {
	return &Registry{
		table:         make(map[string]*File),
		seed:          maphash.MakeSeed(),
		DefaultSigner: defaultSigner,
		Stat:          statFn,
	}
}

// GetFile returns the interned File for path, creating it on first
// lookup. With CopyString the path is sanitized first (see Sanitize);
// with BorrowString it is used verbatim and never copied into the
// arena, so the caller must keep it alive for the registry's lifetime.
func (r *Registry) GetFile(path string, mode Mode) *File {
	if mode == CopyString {
		path = Sanitize(path)
	}

	r.mu.Lock()
	if f, ok := r.table[path]; ok {
		r.mu.Unlock()
		return f
	}
	stored := path
	if mode == CopyString {
		stored = r.strings.Intern(path)
	}
	h := maphash.String(r.seed, stored)
	f := &File{
		Path:   stored,
		hash:   h,
		shard:  &r.shards[h%shardCount],
		signer: r.DefaultSigner,
	}
	r.table[stored] = f
	r.mu.Unlock()
	return f
}

// Lookup returns the already-interned File for path without creating
// one, reporting whether it existed.
func (r *Registry) Lookup(path string) (*File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.table[Sanitize(path)]
	return f, ok
}

// Len reports how many distinct files have been interned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// ParentDir derives the parent of f by trimming its last path
// separator, returning (nil, false) for root directories.
func (r *Registry) ParentDir(f *File) (*File, bool) {
	p := f.Path
	for len(p) > 0 && p[len(p)-1] != '/' {
		p = p[:len(p)-1]
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil, false
	}
	return r.GetFile(p, CopyString), true
}

// SetSigner overrides the signer used for f, e.g. per-output strategy
// selection.
func (f *File) SetSigner(s signature.Signer) {
	f.shard.Lock()
	defer f.shard.Unlock()
	f.signer = s
	f.sigOK = false
}

// Touch invalidates both the stat and signature caches, called after
// the producer writes or deletes f.
func (f *File) Touch() {
	f.shard.Lock()
	defer f.shard.Unlock()
	f.statOK = false
	f.sigOK = false
}

// StatOf returns the cached Stat for f, populating it on first access
// or after Touch. statFn supplies a fresh value on a cache miss.
func (f *File) StatOf(statFn StatFunc) Stat {
	f.shard.Lock()
	defer f.shard.Unlock()
	if f.statOK {
		return f.stat
	}
	st, err := statFn(f.Path)
	if err != nil {
		st = Stat{}
	}
	f.stat = st
	f.statOK = true
	return st
}

// Signature returns f's Digest, computing it via the assigned Signer
// on a cache miss. dryRun short-circuits to the zero digest without
// invoking the Signer. A signing failure is logged as a warning and
// yields the zero digest.
func (f *File) Signature(dryRun bool) signature.Digest {
	f.shard.Lock()
	defer f.shard.Unlock()
	if dryRun {
		return signature.Zero
	}
	if f.sigOK {
		return f.sig
	}
	d, err := f.signer.Fn(f.Path)
	if err != nil {
		log.Printf("[sign] warning: %v", err)
		d = signature.Zero
	}
	f.sig = d
	f.sigOK = true
	return d
}

// Signer reports the Signer currently assigned to f.
func (f *File) Signer() signature.Signer {
	f.shard.Lock()
	defer f.shard.Unlock()
	return f.signer
}

// Sanitize normalizes a path the way src/files.c's SanitizePath does:
// split on separators, drop "." segments, collapse ".." against prior
// non-".." segments (retaining unresolved leading ".." tokens), and
// rejoin with "/". The result never grows beyond len(path).
func Sanitize(path string) string {
	if path == "" {
		return path
	}
	absolute := strings.HasPrefix(path, "/")
	raw := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })

	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		switch seg {
		case "", ".":
			continue
		case "..":
			if n := len(out); n > 0 && out[n-1] != ".." {
				out = out[:n-1]
			} else if !absolute {
				out = append(out, "..")
			}
			// An absolute path's ".." above root is dropped silently,
			// matching the original's clamping behavior.
		default:
			out = append(out, seg)
		}
	}

	joined := strings.Join(out, "/")
	if absolute {
		return "/" + joined
	}
	if joined == "" {
		return "."
	}
	return joined
}
