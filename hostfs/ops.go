package hostfs

import (
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/proto"
)

// v9fsMagic is the f_type reported by statfs unless passthru is
// configured, matching what the kernel client expects of a 9P mount.
const v9fsMagic = 0x01021997

// openFlagMap translates the wire open-flag bits (which are the x86
// Linux values, fixed by the protocol) to this host's open(2) bits.
var openFlagMap = [...]struct {
	host int
	wire uint32
}{
	{unix.O_CREAT, proto.OlCreate},
	{unix.O_EXCL, proto.OlExcl},
	{unix.O_NOCTTY, proto.OlNoctty},
	{unix.O_TRUNC, proto.OlTrunc},
	{unix.O_APPEND, proto.OlAppend},
	{unix.O_NONBLOCK, proto.OlNonblock},
	{unix.O_DSYNC, proto.OlDsync},
	{unix.O_ASYNC, proto.OlFasync},
	{unix.O_DIRECT, proto.OlDirect},
	{unix.O_LARGEFILE, proto.OlLargefile},
	{unix.O_DIRECTORY, proto.OlDirectory},
	{unix.O_NOFOLLOW, proto.OlNofollow},
	{unix.O_NOATIME, proto.OlNoatime},
	{unix.O_CLOEXEC, proto.OlCloexec},
	{unix.O_SYNC, proto.OlSync},
}

func remapOflags(flags uint32) uint32 {
	rflags := flags & proto.OlAccmode
	for _, m := range openFlagMap {
		if flags&m.wire != 0 {
			rflags |= uint32(m.host)
		}
	}
	return rflags
}

// Attach authorizes aname against the export table and binds the root
// fid.
func (fs *FS) Attach(fid, afid *ninep.Fid, aname string) (*proto.Fcall, error) {
	if !canonical(aname) {
		return nil, unix.EPERM
	}
	xflags, err := fs.matchExports(aname, fid.Conn.ClientID(), fid.User)
	if err != nil {
		return nil, err
	}
	a := fs.fidAlloc(fid, aname)
	if xflags&ExportRO != 0 {
		fid.Flags |= ninep.FidRO
	}
	if xflags&ExportShareFD != 0 {
		a.flags |= auxShareFD
	}
	// OK to follow symlinks; a regular file or block device may be
	// exported, not only directories.
	var st unix.Stat_t
	if err := unix.Stat(a.path.s, &st); err != nil {
		fs.FidDestroy(fid)
		return nil, err
	}
	return proto.NewRattach(statQid(&st)), nil
}

func (fs *FS) Clone(fid, newfid *ninep.Fid) error {
	fs.fidClone(newfid, fid)
	return nil
}

// statMnt stats a mount point the way it would look without the
// mount: st_dev from the parent directory, st_ino from the parent's
// directory entry.
func statMnt(path string, st *unix.Stat_t) error {
	if err := unix.Stat(path, st); err != nil {
		return err
	}
	parent := path + "/.."
	var pst unix.Stat_t
	if err := unix.Stat(parent, &pst); err != nil {
		return err
	}
	fd, err := unix.Open(parent, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	name := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		name = path[i+1:]
	}
	dr := newDirReader(fd)
	for {
		ent, err := dr.next()
		if err == io.EOF {
			return unix.ENOENT
		}
		if err != nil {
			return err
		}
		if ent.name == name {
			st.Dev = pst.Dev
			st.Ino = ent.ino
			return nil
		}
	}
}

// Walk advances the fid one component, noticing mount-point crossings
// by the st_dev change between parent and child.
func (fs *FS) Walk(fid *ninep.Fid, wname string, wqid *proto.Qid) error {
	a := aux(fid)
	if a.flags&auxMountpt != 0 {
		return unix.ENOENT
	}
	if wname == "" || strings.ContainsRune(wname, '/') {
		return unix.EINVAL
	}
	npath := fs.paths.append(a.path, wname)
	var st, pst unix.Stat_t
	if err := unix.Lstat(npath.s, &st); err != nil {
		fs.paths.decref(npath)
		return err
	}
	if err := unix.Stat(a.path.s, &pst); err != nil {
		fs.paths.decref(npath)
		return err
	}
	if st.Dev != pst.Dev {
		if err := statMnt(npath.s, &st); err != nil {
			fs.paths.decref(npath)
			return err
		}
		a.flags |= auxMountpt
	}
	fs.paths.decref(a.path)
	a.path = npath
	*wqid = statQid(&st)
	return nil
}

func (fs *FS) Read(fid *ninep.Fid, offset uint64, count uint32, req *ninep.Req) (*proto.Fcall, error) {
	a := aux(fid)
	if a.flags&auxXattr != 0 {
		rc := proto.AllocRread(count)
		n := a.xattr.pread(rc.Data, offset)
		rc.SetReadCount(uint32(n))
		return rc, nil
	}
	if a.ioctx == nil {
		return nil, ninep.ErrNotOpen
	}
	if a.ioctx.dir != nil {
		return nil, unix.EISDIR
	}
	rc := proto.AllocRread(count)
	n, err := a.ioctx.pread(rc.Data, offset)
	if err != nil {
		return nil, err
	}
	rc.SetReadCount(uint32(n))
	return rc, nil
}

func (fs *FS) Write(fid *ninep.Fid, offset uint64, data []byte, req *ninep.Req) (*proto.Fcall, error) {
	a := aux(fid)
	if a.flags&auxXattr != 0 {
		n, err := a.xattr.pwrite(data, offset)
		if err != nil {
			return nil, err
		}
		return proto.NewRwrite(uint32(n)), nil
	}
	if a.ioctx == nil {
		return nil, ninep.ErrNotOpen
	}
	if a.ioctx.dir != nil {
		return nil, unix.EISDIR
	}
	n, err := a.ioctx.pwrite(data, offset)
	if err != nil {
		return nil, err
	}
	return proto.NewRwrite(uint32(n)), nil
}

func (fs *FS) Clunk(fid *ninep.Fid) (*proto.Fcall, error) {
	a := aux(fid)
	if a.flags&auxXattr != 0 {
		x := a.xattr
		a.xattr = nil
		a.flags &^= auxXattr
		if x != nil {
			if err := x.commit(a.path.s); err != nil {
				return nil, err
			}
		}
	} else if a.ioctx != nil {
		if err := fs.ioctxClose(a); err != nil {
			return nil, err
		}
	}
	return proto.NewRclunk(), nil
}

func (fs *FS) Remove(fid *ninep.Fid) (*proto.Fcall, error) {
	a := aux(fid)
	if err := os.Remove(a.path.s); err != nil {
		return nil, err
	}
	return proto.NewRremove(), nil
}

func (fs *FS) Statfs(fid *ninep.Fid) (*proto.Fcall, error) {
	a := aux(fid)
	var sb unix.Statfs_t
	if err := unix.Statfs(a.path.s, &sb); err != nil {
		return nil, err
	}
	typ := uint32(v9fsMagic)
	if fs.cfg.StatfsPassthru {
		typ = uint32(sb.Type)
	}
	fsid := uint64(uint32(sb.Fsid.Val[0])) | uint64(uint32(sb.Fsid.Val[1]))<<32
	return proto.NewRstatfs(typ, uint32(sb.Bsize), sb.Blocks, sb.Bfree, sb.Bavail,
		sb.Files, sb.Ffree, fsid, uint32(sb.Namelen)), nil
}

func (fs *FS) Lopen(fid *ninep.Fid, flags uint32) (*proto.Fcall, error) {
	a := aux(fid)
	flags = remapOflags(flags)
	if flags&unix.O_DIRECT != 0 {
		return nil, unix.EINVAL // O_DIRECT through the page cache is a lie
	}
	// lopen never creates; let a stray O_CREAT fail with ENOENT
	flags &^= unix.O_CREAT
	if a.ioctx != nil {
		return nil, unix.EINVAL
	}
	if fid.Flags&ninep.FidRO != 0 && flags&unix.O_ACCMODE != unix.O_RDONLY {
		return nil, unix.EROFS
	}
	if err := fs.ioctxOpen(fid, a, flags, 0); err != nil {
		return nil, err
	}
	return proto.NewRlopen(a.ioctx.qid, a.ioctx.iounit), nil
}

func (fs *FS) Lcreate(fid *ninep.Fid, name string, flags, mode, gid uint32) (*proto.Fcall, error) {
	a := aux(fid)
	flags = remapOflags(flags)
	if flags&unix.O_DIRECT != 0 {
		return nil, unix.EINVAL
	}
	flags |= unix.O_CREAT
	if a.ioctx != nil {
		return nil, unix.EINVAL
	}
	opath := a.path
	a.path = fs.paths.append(opath, name)
	if err := fs.ioctxOpen(fid, a, flags, mode); err != nil {
		fs.paths.decref(a.path)
		a.path = opath
		return nil, err
	}
	fs.paths.decref(opath)
	return proto.NewRlcreate(a.ioctx.qid, a.ioctx.iounit), nil
}

func (fs *FS) Symlink(fid *ninep.Fid, name, target string, gid uint32) (*proto.Fcall, error) {
	a := aux(fid)
	npath := fs.paths.append(a.path, name)
	defer fs.paths.decref(npath)
	var st unix.Stat_t
	if err := unix.Symlink(target, npath.s); err != nil {
		return nil, err
	}
	if err := unix.Lstat(npath.s, &st); err != nil {
		return nil, err
	}
	return proto.NewRsymlink(statQid(&st)), nil
}

func (fs *FS) Mknod(fid *ninep.Fid, name string, mode, major, minor, gid uint32) (*proto.Fcall, error) {
	a := aux(fid)
	npath := fs.paths.append(a.path, name)
	defer fs.paths.decref(npath)
	var st unix.Stat_t
	if err := unix.Mknod(npath.s, mode, int(unix.Mkdev(major, minor))); err != nil {
		return nil, err
	}
	if err := unix.Lstat(npath.s, &st); err != nil {
		return nil, err
	}
	return proto.NewRmknod(statQid(&st)), nil
}

func (fs *FS) Rename(fid, dfid *ninep.Fid, name string) (*proto.Fcall, error) {
	a, d := aux(fid), aux(dfid)
	npath := fs.paths.append(d.path, name)
	if err := unix.Rename(a.path.s, npath.s); err != nil {
		fs.paths.decref(npath)
		return nil, err
	}
	fs.paths.decref(a.path)
	a.path = npath
	return proto.NewRrename(), nil
}

func (fs *FS) Readlink(fid *ninep.Fid) (*proto.Fcall, error) {
	a := aux(fid)
	buf := make([]byte, unix.PathMax+1)
	n, err := unix.Readlink(a.path.s, buf)
	if err != nil {
		return nil, err
	}
	return proto.NewRreadlink(string(buf[:n])), nil
}

// stat prefers the open fd over the (possibly renamed-away) path.
func (a *fidAux) stat(st *unix.Stat_t) error {
	if a.ioctx != nil {
		return unix.Fstat(a.ioctx.fd, st)
	}
	return unix.Lstat(a.path.s, st)
}

func (fs *FS) Getattr(fid *ninep.Fid, requestMask uint64) (*proto.Fcall, error) {
	a := aux(fid)
	var st unix.Stat_t
	if a.flags&auxMountpt != 0 {
		if err := statMnt(a.path.s, &st); err != nil {
			return nil, err
		}
	} else if err := a.stat(&st); err != nil {
		return nil, err
	}
	return proto.NewRgetattr(proto.Attr{
		Valid:     requestMask,
		Qid:       statQid(&st),
		Mode:      st.Mode,
		UID:       st.Uid,
		GID:       st.Gid,
		Nlink:     uint64(st.Nlink),
		Rdev:      uint64(st.Rdev),
		Size:      uint64(st.Size),
		Blksize:   uint64(st.Blksize),
		Blocks:    uint64(st.Blocks),
		AtimeSec:  uint64(st.Atim.Sec),
		AtimeNsec: uint64(st.Atim.Nsec),
		MtimeSec:  uint64(st.Mtim.Sec),
		MtimeNsec: uint64(st.Mtim.Nsec),
		CtimeSec:  uint64(st.Ctim.Sec),
		CtimeNsec: uint64(st.Ctim.Nsec),
		// btime, gen and data version are not ours to know
	}), nil
}

func (fs *FS) Setattr(fid *ninep.Fid, valid uint32, attr ninep.SetAttr) (*proto.Fcall, error) {
	a := aux(fid)
	ctimeUpdated := false

	if valid&proto.SetattrMode != 0 {
		// chmod derefs symlinks, as the protocol expects
		var err error
		if a.ioctx != nil {
			err = unix.Fchmod(a.ioctx.fd, attr.Mode)
		} else {
			err = unix.Chmod(a.path.s, attr.Mode)
		}
		if err != nil {
			return nil, err
		}
		ctimeUpdated = true
	}
	if valid&(proto.SetattrUID|proto.SetattrGID) != 0 {
		uid, gid := -1, -1
		if valid&proto.SetattrUID != 0 {
			uid = int(attr.UID)
		}
		if valid&proto.SetattrGID != 0 {
			gid = int(attr.GID)
		}
		if err := unix.Lchown(a.path.s, uid, gid); err != nil {
			return nil, err
		}
		ctimeUpdated = true
	}
	if valid&proto.SetattrSize != 0 {
		var err error
		if a.ioctx != nil {
			err = unix.Ftruncate(a.ioctx.fd, int64(attr.Size))
		} else {
			err = unix.Truncate(a.path.s, int64(attr.Size))
		}
		if err != nil {
			return nil, err
		}
		ctimeUpdated = true
	}
	if valid&(proto.SetattrAtime|proto.SetattrMtime) != 0 {
		ts := [2]unix.Timespec{
			{Nsec: unix.UTIME_OMIT},
			{Nsec: unix.UTIME_OMIT},
		}
		if valid&proto.SetattrAtime != 0 {
			if valid&proto.SetattrAtimeSet != 0 {
				ts[0] = unix.Timespec{Sec: int64(attr.AtimeSec), Nsec: int64(attr.AtimeNsec)}
			} else {
				ts[0] = unix.Timespec{Nsec: unix.UTIME_NOW}
			}
		}
		if valid&proto.SetattrMtime != 0 {
			if valid&proto.SetattrMtimeSet != 0 {
				ts[1] = unix.Timespec{Sec: int64(attr.MtimeSec), Nsec: int64(attr.MtimeNsec)}
			} else {
				ts[1] = unix.Timespec{Nsec: unix.UTIME_NOW}
			}
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, a.path.s, ts[:], unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return nil, err
		}
		ctimeUpdated = true
	}
	if valid&proto.SetattrCtime != 0 && !ctimeUpdated {
		// a do-nothing chown bumps ctime
		if err := unix.Lchown(a.path.s, -1, -1); err != nil {
			return nil, err
		}
	}
	return proto.NewRsetattr(), nil
}

func (fs *FS) Xattrwalk(fid, attrfid *ninep.Fid, name string) (*proto.Fcall, error) {
	a := aux(fid)
	na := fs.fidClone(attrfid, fid)
	x, err := xattrOpen(a.path.s, name)
	if err != nil {
		return nil, err
	}
	na.xattr = x
	na.flags |= auxXattr
	return proto.NewRxattrwalk(uint64(len(x.buf))), nil
}

func (fs *FS) Xattrcreate(fid *ninep.Fid, name string, size uint64, flags uint32) (*proto.Fcall, error) {
	a := aux(fid)
	if a.flags&auxXattr != 0 || a.ioctx != nil {
		return nil, unix.EINVAL
	}
	x, err := xattrCreate(name, size, flags)
	if err != nil {
		return nil, err
	}
	a.xattr = x
	a.flags |= auxXattr
	return proto.NewRxattrcreate(), nil
}

func (fs *FS) Readdir(fid *ninep.Fid, offset uint64, count uint32, req *ninep.Req) (*proto.Fcall, error) {
	a := aux(fid)
	if a.ioctx == nil || a.ioctx.dir == nil {
		return nil, ninep.ErrNotOpen
	}
	dir := a.ioctx.dir
	var err error
	if offset == 0 {
		err = dir.rewind()
	} else {
		err = dir.seek(offset)
	}
	if err != nil {
		return nil, err
	}

	rc := proto.AllocRreaddir(count)
	n := 0
	for {
		ent, err := dir.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if a.flags&auxMountpt != 0 && ent.name != "." && ent.name != ".." {
			// entries beyond . and .. belong to the mounted-over tree
			continue
		}
		var qid proto.Qid
		typ := ent.typ
		if typ == unix.DT_UNKNOWN {
			var st unix.Stat_t
			if err := unix.Lstat(a.path.s+"/"+ent.name, &st); err != nil {
				return nil, err
			}
			qid = statQid(&st)
			typ = uint8(st.Mode >> 12)
		} else {
			qid.Path = ent.ino
			if typ == unix.DT_DIR {
				qid.Type |= proto.QTDIR
			}
			if typ == unix.DT_LNK {
				qid.Type |= proto.QTSYMLINK
			}
		}
		m := proto.SerializeDirent(qid, ent.off, typ, ent.name, rc.Data[n:])
		if m == 0 {
			break
		}
		n += m
	}
	rc.FinalizeReaddir(uint32(n))
	return rc, nil
}

func (fs *FS) Fsync(fid *ninep.Fid, datasync uint32) (*proto.Fcall, error) {
	a := aux(fid)
	if a.ioctx == nil {
		return nil, ninep.ErrNotOpen
	}
	if err := a.ioctx.fsync(datasync); err != nil {
		return nil, err
	}
	return proto.NewRfsync(), nil
}

// Lock serves advisory locks with open-file-description record locks,
// falling back to whole-file flock where the kernel predates OFD.
//
// Range locks served to multiple client nodes can deadlock: the
// server cannot see lock waits inside the kernel of one client, and
// flock-based fallback collapses all ranges to the whole file. Only
// whole-file advisory locking is dependable across nodes.
func (fs *FS) Lock(fid *ninep.Fid, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error) {
	a := aux(fid)
	if flags&^proto.LockFlagBlock != 0 {
		return nil, unix.EINVAL
	}
	if a.ioctx == nil {
		return nil, ninep.ErrNotOpen
	}

	var ltype int16
	switch typ {
	case proto.LockTypeUnlck:
		ltype = unix.F_UNLCK
	case proto.LockTypeRdlck:
		ltype = unix.F_RDLCK
	case proto.LockTypeWrlck:
		ltype = unix.F_WRLCK
	default:
		return nil, unix.EINVAL
	}
	fl := unix.Flock_t{
		Type:   ltype,
		Whence: io.SeekStart,
		Start:  int64(start),
		Len:    int64(length),
	}
	status := proto.LockError
	err := unix.FcntlFlock(uintptr(a.ioctx.fd), unix.F_OFD_SETLK, &fl)
	switch {
	case err == nil:
		status = proto.LockSuccess
	case err == unix.EAGAIN || err == unix.EACCES:
		status = proto.LockBlocked
	case err == unix.EINVAL:
		return fs.flockLock(a, typ)
	default:
		return nil, err
	}
	return proto.NewRlock(status), nil
}

func (fs *FS) flockLock(a *fidAux, typ uint8) (*proto.Fcall, error) {
	var op int
	switch typ {
	case proto.LockTypeUnlck:
		op = unix.LOCK_UN
	case proto.LockTypeRdlck:
		op = unix.LOCK_SH | unix.LOCK_NB
	case proto.LockTypeWrlck:
		op = unix.LOCK_EX | unix.LOCK_NB
	}
	status := proto.LockError
	err := a.ioctx.flock(op)
	switch {
	case err == nil:
		status = proto.LockSuccess
	case err == unix.EWOULDBLOCK:
		status = proto.LockBlocked
	default:
		return nil, err
	}
	return proto.NewRlock(status), nil
}

func (fs *FS) Getlock(fid *ninep.Fid, typ uint8, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error) {
	a := aux(fid)
	if a.ioctx == nil {
		return nil, ninep.ErrNotOpen
	}
	// Select the probe type first, then one fcntl call.
	var ltype int16
	switch typ {
	case proto.LockTypeRdlck:
		ltype = unix.F_RDLCK
	case proto.LockTypeWrlck:
		ltype = unix.F_WRLCK
	default:
		return nil, unix.EINVAL
	}
	fl := unix.Flock_t{
		Type:   ltype,
		Whence: io.SeekStart,
		Start:  int64(start),
		Len:    int64(length),
	}
	err := unix.FcntlFlock(uintptr(a.ioctx.fd), unix.F_OFD_GETLK, &fl)
	if err == unix.EINVAL {
		// pre-OFD kernel: probe with flock, whole file only
		want := unix.LOCK_SH
		if typ == proto.LockTypeWrlck {
			want = unix.LOCK_EX
		}
		got := a.ioctx.testFlock(want)
		if got == unix.LOCK_UN {
			typ = proto.LockTypeUnlck
		} else {
			typ = proto.LockTypeWrlck
		}
		return proto.NewRgetlock(typ, start, length, procID, clientID), nil
	}
	if err != nil {
		return nil, err
	}
	if fl.Type == unix.F_UNLCK {
		typ = proto.LockTypeUnlck
	}
	return proto.NewRgetlock(typ, uint64(fl.Start), uint64(fl.Len), uint32(fl.Pid), clientID), nil
}

func (fs *FS) Link(dfid, fid *ninep.Fid, name string) (*proto.Fcall, error) {
	a, d := aux(fid), aux(dfid)
	npath := fs.paths.append(d.path, name)
	defer fs.paths.decref(npath)
	if err := unix.Link(a.path.s, npath.s); err != nil {
		return nil, err
	}
	return proto.NewRlink(), nil
}

func (fs *FS) Mkdir(dfid *ninep.Fid, name string, mode, gid uint32) (*proto.Fcall, error) {
	d := aux(dfid)
	npath := fs.paths.append(d.path, name)
	defer fs.paths.decref(npath)
	var st unix.Stat_t
	if err := unix.Mkdir(npath.s, mode); err != nil {
		return nil, err
	}
	if err := unix.Lstat(npath.s, &st); err != nil {
		return nil, err
	}
	return proto.NewRmkdir(statQid(&st)), nil
}

func (fs *FS) Renameat(olddir *ninep.Fid, oldname string, newdir *ninep.Fid, newname string) (*proto.Fcall, error) {
	od, nd := aux(olddir), aux(newdir)
	opath := fs.paths.append(od.path, oldname)
	npath := fs.paths.append(nd.path, newname)
	defer fs.paths.decref(opath)
	defer fs.paths.decref(npath)
	if err := unix.Rename(opath.s, npath.s); err != nil {
		return nil, err
	}
	return proto.NewRrenameat(), nil
}

func (fs *FS) Unlinkat(dir *ninep.Fid, name string, flags uint32) (*proto.Fcall, error) {
	d := aux(dir)
	npath := fs.paths.append(d.path, name)
	defer fs.paths.decref(npath)
	var err error
	if flags&proto.AtRemovedir != 0 {
		err = unix.Rmdir(npath.s)
	} else {
		err = unix.Unlink(npath.s)
	}
	if err != nil {
		return nil, err
	}
	return proto.NewRunlinkat(), nil
}
