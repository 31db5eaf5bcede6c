package ninep

import (
	"sync"

	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/internal/util"
	"aqwari.net/net/ninep/proto"
)

// Fid flag bits.
const (
	// FidRO marks a fid attached through a read-only export; write
	// class operations on it fail with EROFS.
	FidRO uint32 = 1 << 0

	// FidZombie marks a fid whose Tclunk or Tremove was interrupted
	// by a signalled flush; the fid survives so the client can retry.
	FidZombie uint32 = 1 << 1
)

// A Fid is a per-connection handle the client binds to a file. It is
// reference counted: the pool holds one reference for the table
// entry, and each in-flight request holds another for the duration of
// its dispatch.
type Fid struct {
	util.RefCount
	Conn  *Conn
	ID    uint32
	Type  uint8 // qid type bits of the bound file
	User  *User
	Aname string
	Flags uint32

	// Aux belongs to the backend serving this fid.
	Aux interface{}

	backend Backend
	tpool   *ThreadPool

	next, prev *Fid
}

// IsAuth reports whether the fid is an authentication channel.
func (f *Fid) IsAuth() bool { return f.Type&proto.QTAUTH != 0 }

// Backend returns the backend bound at attach time (nil before
// attach).
func (f *Fid) Backend() Backend { return f.backend }

// Srv returns the server owning the fid's connection.
func (f *Fid) Srv() *Server { return f.Conn.srv }

// fidHashSize is the bucket count of the per-connection fid table.
const fidHashSize = 64

// A fidpool is the per-connection fid table: chained hash with
// move-to-front on lookup, so the handful of hot fids stay at the
// head of their buckets.
type fidpool struct {
	mu     sync.Mutex
	bucket [fidHashSize]*Fid
	count  int
}

func newFidpool() *fidpool { return new(fidpool) }

func (fp *fidpool) lookup(id uint32) *Fid {
	h := id % fidHashSize
	for f := fp.bucket[h]; f != nil; f = f.next {
		if f.ID != id {
			continue
		}
		if f != fp.bucket[h] {
			// move to front
			if f.next != nil {
				f.next.prev = f.prev
			}
			f.prev.next = f.next
			f.prev = nil
			f.next = fp.bucket[h]
			fp.bucket[h].prev = f
			fp.bucket[h] = f
		}
		return f
	}
	return nil
}

// Find returns the live fid with the given id, taking a reference for
// the caller, or nil.
func (fp *fidpool) find(id uint32) *Fid {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	f := fp.lookup(id)
	if f == nil {
		return nil
	}
	f.IncRef()
	return f
}

// Create installs a new fid under id. The returned fid carries two
// references: the table's and the caller's. If id is already bound,
// create fails with EEXIST unless the server runs with LooseFid, in
// which case the stale entry is reused as-is.
func (fp *fidpool) create(conn *Conn, id uint32) (*Fid, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if f := fp.lookup(id); f != nil {
		if conn.srv.Flags&LooseFid != 0 {
			conn.srv.Log.WithField("fid", id).Warn("9p: reusing live fid for buggy client")
			f.IncRef()
			return f, nil
		}
		return nil, unix.EEXIST
	}
	f := &Fid{Conn: conn, ID: id}
	f.IncRef() // table reference
	f.IncRef() // caller reference
	h := id % fidHashSize
	f.next = fp.bucket[h]
	if f.next != nil {
		f.next.prev = f
	}
	fp.bucket[h] = f
	fp.count++
	return f, nil
}

// install links an already-built fid (a completed walk clone) into
// the table, taking the table's reference. Fails with EEXIST if the
// id was bound while the walk was in flight.
func (fp *fidpool) install(f *Fid) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.lookup(f.ID) != nil {
		return unix.EEXIST
	}
	f.IncRef()
	h := f.ID % fidHashSize
	f.next = fp.bucket[h]
	if f.next != nil {
		f.next.prev = f
	}
	fp.bucket[h] = f
	fp.count++
	return nil
}

func (fp *fidpool) unlink(f *Fid) {
	h := f.ID % fidHashSize
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		fp.bucket[h] = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	f.next, f.prev = nil, nil
	fp.count--
}

// size reports the number of live fids.
func (fp *fidpool) size() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.count
}

// destroy tears down every remaining fid (connection shutdown or
// Tversion reset).
func (fp *fidpool) destroy() {
	fp.mu.Lock()
	var doomed []*Fid
	for i := range fp.bucket {
		for f := fp.bucket[i]; f != nil; f = f.next {
			doomed = append(doomed, f)
		}
		fp.bucket[i] = nil
	}
	fp.count = 0
	fp.mu.Unlock()

	for _, f := range doomed {
		f.next, f.prev = nil, nil
		if f.DecRef() {
			// A worker still holds the fid; it will finish the final
			// release when its request completes.
			continue
		}
		f.release()
	}
}

// clunk removes the fid from the table and drops the table's
// reference. Callers still holding their own reference release it
// separately.
func (f *Fid) clunk() {
	fp := f.Conn.fids
	fp.mu.Lock()
	// Guard against a racing clunk: only unlink once.
	linked := f.prev != nil || f.next != nil || fp.bucket[f.ID%fidHashSize] == f
	if linked {
		fp.unlink(f)
	}
	fp.mu.Unlock()
	if linked {
		f.decref()
	}
}

func (f *Fid) decref() {
	if f.DecRef() {
		return
	}
	f.release()
}

// release runs the backend destroy hook and frees identity
// references. It is called exactly once, when the last reference
// drops.
func (f *Fid) release() {
	srv := f.Conn.srv
	if f.IsAuth() {
		if srv.Auth != nil {
			srv.Auth.Clunk(f)
		}
	} else if f.backend != nil {
		f.backend.FidDestroy(f)
	}
	if f.User != nil {
		f.User.DecRef()
		f.User = nil
	}
	if f.tpool != nil {
		f.tpool.decref()
		f.tpool = nil
	}
}
