// Package arena implements a paged, append-only allocator for the
// engine's node and file metadata.
//
// The C original (src/bin_alloc.c) is a bump-pointer allocator over
// fixed-size pages with a secondary size-class allocator for small
// structured allocations, freed only at engine teardown. Go has no
// manual memory management to replicate, so the arena here keeps the
// part of the design that is still useful in a garbage-collected
// language: stable, never-moving storage addressed by a 32-bit index
// rather than a pointer. In this module only StringPool is in use, for
// path interning in internal/filereg; graph Nodes and registry Files
// reference each other through ordinary Go pointers.
package arena

// pageSize is the number of elements carved per page. Growth appends a
// new page rather than reallocating previous ones, so indices and any
// slice aliasing a page stay valid for the arena's entire lifetime.
const pageSize = 4096

// Index addresses a single element inside a Pool. The zero Index is
// never allocated, so it can double as a "none" sentinel.
type Index uint32

// Pool is a bump-pointer allocator for values of type T. It has no
// internal locking and is not safe for concurrent use.
type Pool[T any] struct {
	pages [][]T
}

// NewPool returns an empty Pool. The zero value is also usable.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Alloc carves a new zero-valued T out of the arena and returns its
// stable Index.
func (p *Pool[T]) Alloc() Index {
	if len(p.pages) == 0 || len(p.pages[len(p.pages)-1]) == cap(p.pages[len(p.pages)-1]) {
		p.pages = append(p.pages, make([]T, 0, pageSize))
	}
	last := len(p.pages) - 1
	p.pages[last] = append(p.pages[last], *new(T))
	idx := Index(last*pageSize + len(p.pages[last]) - 1)
	return idx + 1 // reserve 0 as "none"
}

// Len reports how many elements have been allocated.
func (p *Pool[T]) Len() int {
	if len(p.pages) == 0 {
		return 0
	}
	return (len(p.pages)-1)*pageSize + len(p.pages[len(p.pages)-1])
}

// Get returns a pointer to the element at idx. The pointer remains
// valid for the lifetime of the Pool since pages are never reallocated.
func (p *Pool[T]) Get(idx Index) *T {
	if idx == 0 {
		panic("arena: Get called with the zero (none) index")
	}
	i := int(idx) - 1
	return &p.pages[i/pageSize][i%pageSize]
}

// Valid reports whether idx addresses a live element of this Pool.
func (p *Pool[T]) Valid(idx Index) bool {
	if idx == 0 {
		return false
	}
	return int(idx) <= p.Len()
}

// All iterates every allocated element in allocation order, stopping
// early if yield returns false.
func (p *Pool[T]) All(yield func(Index, *T) bool) {
	n := p.Len()
	for i := 0; i < n; i++ {
		idx := Index(i + 1)
		if !yield(idx, p.Get(idx)) {
			return
		}
	}
}

// StringPool interns strings into a single growing-page arena. Intern
// converts the stored bytes to a string, which allocates a separate
// copy per call; the returned string does not alias the page. It backs
// file-path interning in internal/filereg.
type StringPool struct {
	pages [][]byte
}

// Intern copies s into the arena and returns the stored copy. The
// returned string shares no storage with s, but is never copied again
// within this pool's lifetime.
func (sp *StringPool) Intern(s string) string {
	const stringPageSize = 64 * 1024
	if len(sp.pages) == 0 || cap(sp.pages[len(sp.pages)-1])-len(sp.pages[len(sp.pages)-1]) < len(s) {
		pageCap := stringPageSize
		if len(s) > pageCap {
			pageCap = len(s)
		}
		sp.pages = append(sp.pages, make([]byte, 0, pageCap))
	}
	last := len(sp.pages) - 1
	start := len(sp.pages[last])
	sp.pages[last] = append(sp.pages[last], s...)
	return string(sp.pages[last][start : start+len(s)])
}
