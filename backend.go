package ninep

import "aqwari.net/net/ninep/proto"

// SetAttr carries the writable attributes of a Tsetattr request; the
// valid bitmask says which fields (and which time semantics) apply.
type SetAttr struct {
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      uint64
	AtimeSec  uint64
	AtimeNsec uint64
	MtimeSec  uint64
	MtimeNsec uint64
}

// A Backend serves the file tree behind one attach point. The engine
// owns fids, tags, flush and identity; the backend owns everything
// that touches actual files. Methods that return a reply Fcall may
// instead return an error, which the dispatch layer converts to
// Rlerror with the errno chosen by Errno.
//
// Walk is called once per path component: the engine drives the
// clone-then-step loop and assembles Rwalk, so backends never see
// more than one name at a time.
type Backend interface {
	Attach(fid, afid *Fid, aname string) (*proto.Fcall, error)
	Clone(fid, newfid *Fid) error
	Walk(fid *Fid, wname string, wqid *proto.Qid) error

	Read(fid *Fid, offset uint64, count uint32, req *Req) (*proto.Fcall, error)
	Write(fid *Fid, offset uint64, data []byte, req *Req) (*proto.Fcall, error)
	Clunk(fid *Fid) (*proto.Fcall, error)
	Remove(fid *Fid) (*proto.Fcall, error)

	Statfs(fid *Fid) (*proto.Fcall, error)
	Lopen(fid *Fid, flags uint32) (*proto.Fcall, error)
	Lcreate(fid *Fid, name string, flags, mode, gid uint32) (*proto.Fcall, error)
	Symlink(fid *Fid, name, target string, gid uint32) (*proto.Fcall, error)
	Mknod(fid *Fid, name string, mode, major, minor, gid uint32) (*proto.Fcall, error)
	Rename(fid, dfid *Fid, name string) (*proto.Fcall, error)
	Readlink(fid *Fid) (*proto.Fcall, error)
	Getattr(fid *Fid, requestMask uint64) (*proto.Fcall, error)
	Setattr(fid *Fid, valid uint32, attr SetAttr) (*proto.Fcall, error)
	Xattrwalk(fid, attrfid *Fid, name string) (*proto.Fcall, error)
	Xattrcreate(fid *Fid, name string, size uint64, flags uint32) (*proto.Fcall, error)
	Readdir(fid *Fid, offset uint64, count uint32, req *Req) (*proto.Fcall, error)
	Fsync(fid *Fid, datasync uint32) (*proto.Fcall, error)
	Lock(fid *Fid, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error)
	Getlock(fid *Fid, typ uint8, start, length uint64, procID uint32, clientID string) (*proto.Fcall, error)
	Link(dfid, fid *Fid, name string) (*proto.Fcall, error)
	Mkdir(dfid *Fid, name string, mode, gid uint32) (*proto.Fcall, error)
	Renameat(olddir *Fid, oldname string, newdir *Fid, newname string) (*proto.Fcall, error)
	Unlinkat(dir *Fid, name string, flags uint32) (*proto.Fcall, error)

	// FidDestroy releases backend state hung off a dying fid. It runs
	// with the fid pool lock not held and must not fail.
	FidDestroy(fid *Fid)
}

// UserRemapper is implemented by backends that rewrite the attaching
// user before identity is assumed (the allsquash option).
type UserRemapper interface {
	RemapUser(fid *Fid) error
}

// An AuthModule carries out the authentication conversation on an
// afid. MUNGE or any other credential scheme plugs in here; the
// engine only routes messages.
type AuthModule interface {
	// Start begins authentication on afid and returns the auth
	// file's qid. Returning an error refuses authentication.
	Start(afid *Fid, aname string) (proto.Qid, error)

	// Read and Write move the credential conversation.
	Read(afid *Fid, offset uint64, count uint32) ([]byte, error)
	Write(afid *Fid, offset uint64, data []byte) (uint32, error)

	// Check decides whether afid's completed conversation authorizes
	// user to attach to aname.
	Check(fid, afid *Fid, aname string) error

	// Clunk releases per-afid state.
	Clunk(afid *Fid)
}
