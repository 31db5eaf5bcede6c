package ninep

import (
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/internal/fsid"
)

// setfsid makes the worker thread wear the request's fs identity:
// fsgid first, then the supplementary groups, then fsuid, then the
// capability bracket. Current identity is cached per worker so a run
// of requests from one user costs no syscalls.
//
// The supplementary-group switch must be the raw per-thread syscall;
// the libc wrapper broadcasts setgroups to every thread.
func (w *worker) setfsid(req *Req) error {
	if !fsid.Supported() {
		return unix.EOPNOTSUPP
	}
	u := req.Fid.User
	srv := w.tp.srv

	if w.fsgid != u.GID {
		prev := fsid.SetFsgid(int(u.GID))
		if w.fsgid != noIdentity && uint32(prev) != w.fsgid {
			w.fsgid = noIdentity
			srv.Log.Errorf("9p: setfsgid(%d) for %s failed", u.GID, u.Uname)
			return unix.EPERM
		}
		w.fsgid = u.GID
	}
	// Supplementary groups don't matter for root.
	if u.UID != 0 && w.sguid != u.UID {
		groups := make([]uint32, 0, len(u.SG)+1)
		groups = append(groups, u.GID)
		groups = append(groups, u.SG...)
		if err := fsid.SetGroups(groups); err != nil {
			w.sguid = noIdentity
			srv.Log.Errorf("9p: setgroups for %s failed: %v", u.Uname, err)
			return unix.EPERM
		}
		w.sguid = u.UID
	}
	if w.fsuid != u.UID {
		prev := fsid.SetFsuid(int(u.UID))
		if w.fsuid != noIdentity && uint32(prev) != w.fsuid {
			w.fsuid = noIdentity
			srv.Log.Errorf("9p: setfsuid(%d) for %s failed", u.UID, u.Uname)
			return unix.EPERM
		}
		w.fsuid = u.UID
	}

	wantDac := false
	if srv.Flags&DacBypass != 0 && u.UID != 0 {
		if authuid, ok := req.Conn.AuthUser(); ok && authuid == 0 {
			// the client proved it is root; it has done its own DAC
			wantDac = true
		}
	}
	if wantDac != w.dac {
		if err := fsid.SetDacBypass(wantDac); err != nil {
			srv.Log.Errorf("9p: capset failed: %v", err)
			return unix.EPERM
		}
		w.dac = wantDac
	}
	return nil
}
