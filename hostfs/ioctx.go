package hostfs

import (
	"sync"

	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/proto"
)

// An ioCtx is the server-side open file: host fd, the qid taken at
// open, optional directory stream, optional read-only mapping, and
// BSD-flock state. Read-only fids on the same file, by the same user,
// with SHAREFD in effect share one ioCtx (same fd, same mapping);
// everything else gets its own.
type ioCtx struct {
	mu   sync.Mutex
	refs int

	fd    int
	qid   proto.Qid
	flags uint32 // host open flags
	user  *ninep.User

	dir      *dirReader
	mmap     []byte
	lockType int // unix.LOCK_UN / LOCK_SH / LOCK_EX
	iounit   uint32

	next, prev *ioCtx
}

func (io *ioCtx) incref() *ioCtx {
	io.mu.Lock()
	io.refs++
	io.mu.Unlock()
	return io
}

func (io *ioCtx) decref() int {
	io.mu.Lock()
	io.refs--
	n := io.refs
	io.mu.Unlock()
	return n
}

func (io *ioCtx) refCount() int {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.refs
}

// ioctxOpen opens (or joins) the file behind aux.path. Sharing
// applies only to read-only opens of regular files by the same uid
// with the same flags, on fids whose export carries SHAREFD.
func (fs *FS) ioctxOpen(fid *ninep.Fid, aux *fidAux, flags uint32, mode uint32) error {
	sharable := aux.flags&auxShareFD != 0 && flags&unix.O_ACCMODE == unix.O_RDONLY

	p := aux.path
	p.mu.Lock()
	defer p.mu.Unlock()

	if sharable {
		for io := p.io; io != nil; io = io.next {
			if io.qid.Type != proto.QTFILE {
				continue
			}
			if io.flags != flags {
				continue
			}
			if io.user.UID != fid.User.UID {
				continue
			}
			aux.ioctx = io.incref()
			return nil
		}
	}

	fd, err := unix.Open(p.s, int(flags), mode)
	if err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return err
	}
	io := &ioCtx{
		refs:     1,
		fd:       fd,
		flags:    flags,
		lockType: unix.LOCK_UN,
		qid:      statQid(&st),
	}
	fid.User.IncRef()
	io.user = fid.User

	if sharable && st.Mode&unix.S_IFMT == unix.S_IFREG && fs.cfg.MaxMmap > 0 && st.Size > 0 {
		// mmap is strictly a pread optimization; failure is non-fatal
		n := st.Size
		if n > int64(fs.cfg.MaxMmap) {
			n = int64(fs.cfg.MaxMmap)
		}
		if m, err := unix.Mmap(fd, 0, int(n), unix.PROT_READ, unix.MAP_PRIVATE); err == nil {
			io.mmap = m
		} else {
			fs.log.WithError(err).Warnf("mmap %s", p.s)
		}
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		io.dir = newDirReader(fd)
	}

	// link onto the path's ioctx list; the ioctx holds a path ref
	io.next = p.io
	if p.io != nil {
		p.io.prev = io
	}
	p.io = io
	fs.paths.incref(p)

	aux.ioctx = io
	return nil
}

// ioctxClose releases the fid's open context, closing the fd when the
// last sharer leaves.
func (fs *FS) ioctxClose(aux *fidAux) error {
	io := aux.ioctx
	if io == nil {
		return nil
	}
	aux.ioctx = nil

	p := aux.path
	p.mu.Lock()
	last := io.decref() == 0
	if last {
		if io.prev != nil {
			io.prev.next = io.next
		} else {
			p.io = io.next
		}
		if io.next != nil {
			io.next.prev = io.prev
		}
		io.next, io.prev = nil, nil
	}
	p.mu.Unlock()

	if !last {
		return nil
	}
	if io.mmap != nil {
		if err := unix.Munmap(io.mmap); err != nil {
			fs.log.WithError(err).Warnf("munmap %s", p.s)
		}
		io.mmap = nil
	}
	err := unix.Close(io.fd)
	io.fd = -1
	io.user.DecRef()
	io.user = nil
	fs.paths.decref(p)
	return err
}

// pread prefers the mapping when the request fits under it.
func (io *ioCtx) pread(buf []byte, offset uint64) (int, error) {
	if io.mmap != nil && offset+uint64(len(buf)) <= uint64(len(io.mmap)) {
		return copy(buf, io.mmap[offset:]), nil
	}
	n, err := unix.Pread(io.fd, buf, int64(offset))
	if n < 0 {
		n = 0
	}
	return n, err
}

func (io *ioCtx) pwrite(data []byte, offset uint64) (int, error) {
	n, err := unix.Pwrite(io.fd, data, int64(offset))
	if n < 0 {
		n = 0
	}
	return n, err
}

func (io *ioCtx) fsync(datasync uint32) error {
	if datasync != 0 {
		return unix.Fdatasync(io.fd)
	}
	return unix.Fsync(io.fd)
}

// flock applies a whole-file advisory lock and tracks the state for
// getlock queries.
func (io *ioCtx) flock(op int) error {
	if err := unix.Flock(io.fd, op); err != nil {
		return err
	}
	switch {
	case op&unix.LOCK_UN != 0:
		io.lockType = unix.LOCK_UN
	case op&unix.LOCK_SH != 0:
		io.lockType = unix.LOCK_SH
	case op&unix.LOCK_EX != 0:
		io.lockType = unix.LOCK_EX
	}
	return nil
}

// testFlock probes whether a lock of the given type could be taken,
// returning LOCK_UN if so and LOCK_EX otherwise. Probing takes and
// releases a non-blocking lock, so it is inherently racy; getlock is
// advisory anyway.
func (io *ioCtx) testFlock(typ int) int {
	switch typ {
	case unix.LOCK_SH:
		if io.lockType != unix.LOCK_UN {
			// we already hold it; sharing is fine
			return unix.LOCK_UN
		}
		if unix.Flock(io.fd, unix.LOCK_SH|unix.LOCK_NB) == nil {
			unix.Flock(io.fd, unix.LOCK_UN)
			return unix.LOCK_UN
		}
		return unix.LOCK_EX
	case unix.LOCK_EX:
		switch io.lockType {
		case unix.LOCK_EX:
			return unix.LOCK_UN
		case unix.LOCK_SH:
			// Upgrading would risk losing the shared lock; claim it
			// is available rather than try.
			return unix.LOCK_UN
		}
		if unix.Flock(io.fd, unix.LOCK_EX|unix.LOCK_NB) == nil {
			unix.Flock(io.fd, unix.LOCK_UN)
			return unix.LOCK_UN
		}
		return unix.LOCK_EX
	}
	return unix.LOCK_UN
}

// statQid derives a 9P qid from host stat info. The path is the
// inode number; v9fs maps it back with an offset.
func statQid(st *unix.Stat_t) proto.Qid {
	var q proto.Qid
	q.Path = st.Ino
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		q.Type |= proto.QTDIR
	case unix.S_IFLNK:
		q.Type |= proto.QTSYMLINK
	}
	return q
}
