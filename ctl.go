package ninep

import (
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/proto"
)

// The ctl tree is a synthetic file system attached at aname "ctl",
// used for operational introspection. Files either carry a getter
// that regenerates their contents on every open, or are one of the
// special zero/null benchmark files. Qids carry the TMP bit and a
// monotonically assigned path.

// Ctl file behavior flags.
const (
	CtlZeroSrc    uint32 = 1 << 0 // reads return zeroes, forever
	CtlSink       uint32 = 1 << 1 // writes vanish, reads see EOF
	CtlDelay100ms uint32 = 1 << 2 // each I/O is delayed 100ms
)

// A CtlGetter produces the contents of a ctl file at open time. The
// name argument is the file's own name, so one getter can serve
// several files.
type CtlGetter func(name string) (string, error)

// A CtlWriter accepts data written to a ctl file.
type CtlWriter func(name string, data []byte) error

type ctlFile struct {
	name  string
	qid   proto.Qid
	get   CtlGetter
	put   CtlWriter
	flags uint32
}

type ctlTree struct {
	mu       sync.Mutex
	rootQid  proto.Qid
	files    []*ctlFile // registration order; readdir serves this
	nextPath uint64
}

func newCtlTree() *ctlTree {
	t := &ctlTree{nextPath: 1}
	t.rootQid = proto.Qid{Type: proto.QTDIR | proto.QTTMP, Path: t.nextPath}
	t.nextPath++
	return t
}

// CtlAddFile registers a synthetic file in the ctl tree. Either
// getter may be nil; flags select the special zero/null behaviors.
// Registering a name twice replaces the earlier file.
func (srv *Server) CtlAddFile(name string, get CtlGetter, put CtlWriter, flags uint32) {
	srv.init()
	srv.ctl.add(name, get, put, flags)
}

func (t *ctlTree) add(name string, get CtlGetter, put CtlWriter, flags uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, f := range t.files {
		if f.name == name {
			t.files[i] = &ctlFile{name: name, qid: f.qid, get: get, put: put, flags: flags}
			return
		}
	}
	t.files = append(t.files, &ctlFile{
		name:  name,
		qid:   proto.Qid{Type: proto.QTTMP, Path: t.nextPath},
		get:   get,
		put:   put,
		flags: flags,
	})
	t.nextPath++
}

// CtlProcGetter forwards a dotted ctl name to the corresponding
// /proc file: "net.rpc.nfs" reads /proc/net/rpc/nfs.
func CtlProcGetter(name string) (string, error) {
	path := "/proc/" + strings.ReplaceAll(name, ".", "/")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (srv *Server) registerCtlDefaults() {
	srv.ctl.add("version", func(string) (string, error) {
		return Version + "\n", nil
	}, nil, 0)
	srv.ctl.add("date", func(string) (string, error) {
		return time.Now().Format(time.UnixDate) + "\n", nil
	}, nil, 0)
	srv.ctl.add("connections", func(string) (string, error) {
		return srv.describeConns(), nil
	}, nil, 0)
	srv.ctl.add("tpools", func(string) (string, error) {
		return srv.describeTpools(), nil
	}, nil, 0)
	srv.ctl.add("usercache", func(string) (string, error) {
		return srv.users.dump(), nil
	}, func(string, []byte) error {
		srv.users.flush()
		return nil
	}, 0)
	srv.ctl.add("zero", nil, nil, CtlZeroSrc)
	srv.ctl.add("null", nil, nil, CtlSink)
	srv.ctl.add("zero100", nil, nil, CtlZeroSrc|CtlDelay100ms)
	srv.ctl.add("null100", nil, nil, CtlSink|CtlDelay100ms)
	srv.ctl.add("meminfo", CtlProcGetter, nil, 0)
	srv.ctl.add("net.rpc.nfs", CtlProcGetter, nil, 0)
}

func (t *ctlTree) find(name string) *ctlFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		if f.name == name {
			return f
		}
	}
	return nil
}

// ctlAux hangs off every fid attached to the ctl tree. file is nil at
// the root; data is the snapshot taken when a getter file is opened.
type ctlAux struct {
	file *ctlFile
	open bool
	data []byte
}

// Backend implementation. The ctl tree ignores identity: everything
// here is world-readable process state.

func (t *ctlTree) Attach(fid, afid *Fid, aname string) (*proto.Fcall, error) {
	fid.Aux = &ctlAux{}
	return proto.NewRattach(t.rootQid), nil
}

func (t *ctlTree) Clone(fid, newfid *Fid) error {
	a := fid.Aux.(*ctlAux)
	newfid.Aux = &ctlAux{file: a.file}
	return nil
}

func (t *ctlTree) Walk(fid *Fid, wname string, wqid *proto.Qid) error {
	a := fid.Aux.(*ctlAux)
	if a.file != nil {
		if wname == ".." {
			a.file = nil
			*wqid = t.rootQid
			return nil
		}
		return unix.ENOTDIR
	}
	if wname == "." || wname == ".." {
		*wqid = t.rootQid
		return nil
	}
	f := t.find(wname) // case-sensitive exact match
	if f == nil {
		return unix.ENOENT
	}
	a.file = f
	*wqid = f.qid
	return nil
}

func (t *ctlTree) Lopen(fid *Fid, flags uint32) (*proto.Fcall, error) {
	a := fid.Aux.(*ctlAux)
	if a.open {
		return nil, unix.EINVAL
	}
	qid := t.rootQid
	if a.file != nil {
		qid = a.file.qid
		if a.file.get != nil {
			s, err := a.file.get(a.file.name)
			if err != nil {
				return nil, err
			}
			a.data = []byte(s)
		}
	}
	a.open = true
	return proto.NewRlopen(qid, 0), nil
}

func (t *ctlTree) Read(fid *Fid, offset uint64, count uint32, req *Req) (*proto.Fcall, error) {
	a := fid.Aux.(*ctlAux)
	if !a.open || a.file == nil {
		return nil, ErrNotOpen
	}
	f := a.file
	if f.flags&CtlDelay100ms != 0 {
		time.Sleep(100 * time.Millisecond)
	}
	rc := proto.AllocRread(count)
	switch {
	case f.flags&CtlZeroSrc != 0:
		for i := range rc.Data {
			rc.Data[i] = 0
		}
		rc.SetReadCount(count)
	case f.flags&CtlSink != 0:
		rc.SetReadCount(0)
	default:
		n := 0
		if offset < uint64(len(a.data)) {
			n = copy(rc.Data, a.data[offset:])
		}
		rc.SetReadCount(uint32(n))
	}
	return rc, nil
}

func (t *ctlTree) Write(fid *Fid, offset uint64, data []byte, req *Req) (*proto.Fcall, error) {
	a := fid.Aux.(*ctlAux)
	if !a.open || a.file == nil {
		return nil, ErrNotOpen
	}
	f := a.file
	if f.flags&CtlDelay100ms != 0 {
		time.Sleep(100 * time.Millisecond)
	}
	if f.flags&CtlSink != 0 {
		return proto.NewRwrite(uint32(len(data))), nil
	}
	if f.put == nil {
		return nil, unix.EPERM
	}
	if err := f.put(f.name, data); err != nil {
		return nil, err
	}
	return proto.NewRwrite(uint32(len(data))), nil
}

func (t *ctlTree) Clunk(fid *Fid) (*proto.Fcall, error) {
	return proto.NewRclunk(), nil
}

func (t *ctlTree) Remove(fid *Fid) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Getattr(fid *Fid, requestMask uint64) (*proto.Fcall, error) {
	a := fid.Aux.(*ctlAux)
	attr := proto.Attr{Valid: proto.GetattrBasic, Nlink: 1}
	if a.file == nil {
		attr.Qid = t.rootQid
		attr.Mode = unix.S_IFDIR | 0o555
	} else {
		attr.Qid = a.file.qid
		attr.Mode = unix.S_IFREG | 0o444
		if a.file.put != nil || a.file.flags&CtlSink != 0 {
			attr.Mode = unix.S_IFREG | 0o666
		}
		attr.Size = uint64(len(a.data))
	}
	now := time.Now()
	attr.AtimeSec, attr.AtimeNsec = uint64(now.Unix()), uint64(now.Nanosecond())
	attr.MtimeSec, attr.MtimeNsec = attr.AtimeSec, attr.AtimeNsec
	attr.CtimeSec, attr.CtimeNsec = attr.AtimeSec, attr.AtimeNsec
	return proto.NewRgetattr(attr), nil
}

func (t *ctlTree) Setattr(fid *Fid, valid uint32, attr SetAttr) (*proto.Fcall, error) {
	// exists so clients can chmod/utimes the sink files; nothing to do
	return proto.NewRsetattr(), nil
}

// Readdir serializes the registered files with a one-based cursor:
// the cookie stored with entry i resumes the listing at entry i+1.
func (t *ctlTree) Readdir(fid *Fid, offset uint64, count uint32, req *Req) (*proto.Fcall, error) {
	a := fid.Aux.(*ctlAux)
	if !a.open || a.file != nil {
		return nil, ErrNotOpen
	}
	t.mu.Lock()
	files := append([]*ctlFile(nil), t.files...)
	t.mu.Unlock()

	rc := proto.AllocRreaddir(count)
	n := 0
	for i := int(offset); i < len(files); i++ {
		f := files[i]
		m := proto.SerializeDirent(f.qid, uint64(i+1), unix.DT_REG, f.name, rc.Data[n:])
		if m == 0 {
			break
		}
		n += m
	}
	rc.FinalizeReaddir(uint32(n))
	return rc, nil
}

func (t *ctlTree) Statfs(fid *Fid) (*proto.Fcall, error) { return nil, unix.EPERM }

func (t *ctlTree) Lcreate(fid *Fid, name string, flags, mode, gid uint32) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Symlink(fid *Fid, name, target string, gid uint32) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Mknod(fid *Fid, name string, mode, major, minor, gid uint32) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Rename(fid, dfid *Fid, name string) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Readlink(fid *Fid) (*proto.Fcall, error) { return nil, unix.EINVAL }

func (t *ctlTree) Xattrwalk(fid, attrfid *Fid, name string) (*proto.Fcall, error) {
	return nil, unix.EOPNOTSUPP
}

func (t *ctlTree) Xattrcreate(fid *Fid, name string, size uint64, flags uint32) (*proto.Fcall, error) {
	return nil, unix.EOPNOTSUPP
}

func (t *ctlTree) Fsync(fid *Fid, datasync uint32) (*proto.Fcall, error) {
	return proto.NewRfsync(), nil
}

func (t *ctlTree) Lock(fid *Fid, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error) {
	return nil, unix.EOPNOTSUPP
}

func (t *ctlTree) Getlock(fid *Fid, typ uint8, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error) {
	return nil, unix.EOPNOTSUPP
}

func (t *ctlTree) Link(dfid, fid *Fid, name string) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Mkdir(dfid *Fid, name string, mode, gid uint32) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Renameat(olddir *Fid, oldname string, newdir *Fid, newname string) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) Unlinkat(dir *Fid, name string, flags uint32) (*proto.Fcall, error) {
	return nil, unix.EPERM
}

func (t *ctlTree) FidDestroy(fid *Fid) {}
