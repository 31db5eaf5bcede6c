package hostfs

import (
	"golang.org/x/sys/unix"
)

// xattrSizeMax mirrors the Linux XATTR_SIZE_MAX constant (linux/limits.h),
// which golang.org/x/sys/unix does not expose.
const xattrSizeMax = 65536

// An xattrBuf is the in-memory view an xattr-mode fid reads and
// writes. Reads serve a buffer fetched at Txattrwalk time; writes
// fill a buffer of the size declared by Txattrcreate, committed with
// lsetxattr when the fid is clunked (or lremovexattr if the declared
// size is zero).
type xattrBuf struct {
	name     string
	buf      []byte
	set      bool   // created by Txattrcreate: commit on clunk
	setFlags uint32 // XATTR_CREATE / XATTR_REPLACE passthrough
}

// xattrOpen loads the named attribute (or, for the empty name, the
// attribute list) of the file at path.
func xattrOpen(path, name string) (*xattrBuf, error) {
	x := &xattrBuf{name: name}
	var (
		sz  int
		err error
	)
	if name != "" {
		sz, err = unix.Lgetxattr(path, name, nil)
	} else {
		sz, err = unix.Llistxattr(path, nil)
	}
	if err != nil {
		return nil, err
	}
	x.buf = make([]byte, sz)
	if sz > 0 {
		if name != "" {
			sz, err = unix.Lgetxattr(path, name, x.buf)
		} else {
			sz, err = unix.Llistxattr(path, x.buf)
		}
		if err != nil {
			return nil, err
		}
		x.buf = x.buf[:sz]
	}
	return x, nil
}

// xattrCreate sets up the write-mode buffer.
func xattrCreate(name string, size uint64, setFlags uint32) (*xattrBuf, error) {
	if size > xattrSizeMax {
		return nil, unix.ENOSPC
	}
	return &xattrBuf{
		name:     name,
		buf:      make([]byte, size),
		set:      true,
		setFlags: setFlags,
	}, nil
}

func (x *xattrBuf) pread(buf []byte, offset uint64) int {
	if offset >= uint64(len(x.buf)) {
		return 0
	}
	return copy(buf, x.buf[offset:])
}

func (x *xattrBuf) pwrite(data []byte, offset uint64) (int, error) {
	if !x.set {
		return 0, unix.EINVAL
	}
	if offset+uint64(len(data)) > uint64(len(x.buf)) {
		return 0, unix.EINVAL
	}
	copy(x.buf[offset:], data)
	return len(data), nil
}

// commit applies the buffered attribute at clunk time.
func (x *xattrBuf) commit(path string) error {
	if !x.set {
		return nil
	}
	if len(x.buf) > 0 {
		return unix.Lsetxattr(path, x.name, x.buf, int(x.setFlags))
	}
	return unix.Lremovexattr(path, x.name)
}
