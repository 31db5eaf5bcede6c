// Package hostfs exports a subtree of the host file system over the
// 9P2000.L engine: interned path objects, shared open-file contexts,
// export-table authorization, and one handler per protocol operation.
package hostfs

import (
	"fmt"
	"strings"
	"sync"
)

// A Path is an interned, reference-counted absolute host path.
// Exactly one Path exists per string within a server; the pool's map
// enforces it. A Path owns the list of IOCtx objects currently open
// against it, and lives until its refcount (fids plus attached
// ioctxs) reaches zero.
//
// Lock order: pool.mu > Path.mu > ioCtx.mu. The refcount is guarded
// by pool.mu so eviction and a racing create cannot disagree.
type Path struct {
	mu   sync.Mutex
	s    string
	refs int    // guarded by the owning pool's mu
	io   *ioCtx // list head; guarded by mu
}

// S returns the path string.
func (p *Path) S() string { return p.s }

type pathPool struct {
	mu sync.Mutex
	m  map[string]*Path
}

func newPathPool() *pathPool {
	return &pathPool{m: make(map[string]*Path)}
}

// create interns s, which must be clean and absolute. An existing
// Path is revived with an extra reference; the temporary string is
// discarded.
func (pp *pathPool) create(s string) *Path {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if p, ok := pp.m[s]; ok {
		p.refs++
		return p
	}
	p := &Path{s: s, refs: 1}
	pp.m[s] = p
	return p
}

// append interns parent/name.
func (pp *pathPool) append(parent *Path, name string) *Path {
	if parent.s == "/" {
		return pp.create("/" + name)
	}
	return pp.create(parent.s + "/" + name)
}

func (pp *pathPool) incref(p *Path) {
	pp.mu.Lock()
	p.refs++
	pp.mu.Unlock()
}

// decref drops one reference, evicting the Path from the pool when
// the last one goes. The ioctx list is necessarily empty then: every
// attached ioctx holds a reference.
func (pp *pathPool) decref(p *Path) {
	pp.mu.Lock()
	p.refs--
	if p.refs == 0 {
		delete(pp.m, p.s)
	}
	pp.mu.Unlock()
}

// dump renders the pool for the ctl files file, one line per path:
// "refcount shared unique path".
func (pp *pathPool) dump() string {
	pp.mu.Lock()
	paths := make([]*Path, 0, len(pp.m))
	for _, p := range pp.m {
		paths = append(paths, p)
	}
	pp.mu.Unlock()

	var b strings.Builder
	for _, p := range paths {
		p.mu.Lock()
		unique, shared := 0, 0
		for io := p.io; io != nil; io = io.next {
			unique++
			shared += io.refCount()
		}
		refs := p.refs // stale read; introspection only
		fmt.Fprintf(&b, "%d %d %d %s\n", refs, shared, unique, p.s)
		p.mu.Unlock()
	}
	return b.String()
}
