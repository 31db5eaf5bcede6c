package ninep

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Handlers report failure as ordinary errors; the dispatch layer
// turns them into Rlerror replies carrying a Linux errno. Errno digs
// the most specific errno out of an error chain, so handlers can
// return the error from a failed syscall (or an *os.PathError
// wrapping one) unchanged.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, fs.ErrPermission):
		return unix.EPERM
	case errors.Is(err, fs.ErrExist):
		return unix.EEXIST
	case errors.Is(err, fs.ErrClosed):
		return unix.EBADF
	}
	return unix.EIO
}

// eproto is the errno sent for malformed frames and unknown ops.
var eproto = unix.EPROTO

// Common fid-misuse errors shared by the engine and its backends.
var (
	ErrUnknownFid = unix.EIO   // operation names a fid the connection never created
	ErrFidInUse   = unix.EIO   // Tattach/Twalk newfid collides with a live fid
	ErrBadUseFid  = unix.EBADF // fid is the wrong kind for the operation
	ErrNotOpen    = unix.EBADF // I/O on a fid with no open context
)
