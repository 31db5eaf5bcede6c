package hostfs

import (
	"aqwari.net/net/ninep"
)

// Per-fid aux flag bits.
const (
	auxMountpt uint32 = 1 << 0 // fid crossed a mount point; stats are synthesized
	auxShareFD uint32 = 1 << 1 // export allows ioctx sharing
	auxXattr   uint32 = 1 << 2 // fid is in xattr mode
)

// fidAux is the hostfs state hung off every fid: the interned path,
// the open context if any, and the xattr buffer if the fid was
// diverted by Txattrwalk/Txattrcreate.
type fidAux struct {
	path  *Path
	ioctx *ioCtx
	xattr *xattrBuf
	flags uint32
}

func aux(fid *ninep.Fid) *fidAux {
	return fid.Aux.(*fidAux)
}

// fidAlloc binds a freshly attached fid to an interned path.
func (fs *FS) fidAlloc(fid *ninep.Fid, path string) *fidAux {
	a := &fidAux{path: fs.paths.create(path)}
	fid.Aux = a
	return a
}

// fidClone initializes a walk clone: the path gains a reference, the
// open context and xattr buffer are deliberately not inherited.
func (fs *FS) fidClone(newfid, fid *ninep.Fid) *fidAux {
	old := aux(fid)
	a := &fidAux{path: old.path, flags: old.flags &^ auxXattr}
	fs.paths.incref(a.path)
	newfid.Aux = a
	return a
}

// FidDestroy releases everything the aux owns. An open ioctx is
// closed (errors go to the log; the client is already gone or does
// not care), the path reference dropped.
func (fs *FS) FidDestroy(fid *ninep.Fid) {
	if fid.Aux == nil {
		return
	}
	a := aux(fid)
	if a.ioctx != nil {
		if err := fs.ioctxClose(a); err != nil {
			fs.log.WithError(err).Warnf("close %s", a.path.s)
		}
	}
	a.xattr = nil
	if a.path != nil {
		fs.paths.decref(a.path)
		a.path = nil
	}
	fid.Aux = nil
}
