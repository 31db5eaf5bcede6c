package ninep

import (
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/proto"
)

// process runs one request: assume identity, dispatch to the engine
// handler for the type, account stats. It executes on a worker with
// no locks held.
func (srv *Server) process(req *Req, tp *ThreadPool) (rc *proto.Fcall, err error) {
	tc := req.Tcall

	if srv.Flags&SetFsID != 0 && req.Fid != nil && req.Fid.User != nil && !req.Fid.IsAuth() {
		if err := req.worker.setfsid(req); err != nil {
			tp.account(tc.Type, nil)
			return nil, err
		}
	}

	switch tc.Type {
	case proto.Tversion:
		rc, err = srv.version(req, tc)
	case proto.Tauth:
		rc, err = srv.auth(req, tc)
	case proto.Tattach:
		rc, err = srv.attach(req, tc)
	case proto.Twalk:
		rc, err = srv.walk(req, tc)
	case proto.Tread:
		rc, err = srv.read(req, tc)
	case proto.Twrite:
		rc, err = srv.write(req, tc)
	case proto.Tclunk:
		rc, err = srv.clunk(req, tc)
	case proto.Tremove:
		rc, err = srv.remove(req, tc)
	case proto.Tstatfs:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Statfs(f)
		})
	case proto.Tlopen:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Lopen(f, tc.Flags)
		})
	case proto.Tlcreate:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Lcreate(f, tc.Name, tc.Flags, tc.Mode, tc.GID)
		})
	case proto.Tsymlink:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Symlink(f, tc.Name, tc.Target, tc.GID)
		})
	case proto.Tmknod:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Mknod(f, tc.Name, tc.Mode, tc.Major, tc.Minor, tc.GID)
		})
	case proto.Trename:
		rc, err = srv.rename(req, tc)
	case proto.Treadlink:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Readlink(f)
		})
	case proto.Tgetattr:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Getattr(f, tc.RequestMask)
		})
	case proto.Tsetattr:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Setattr(f, tc.SetValid, SetAttr{
				Mode: tc.Mode, UID: tc.UID, GID: tc.GID, Size: tc.Length,
				AtimeSec: tc.AtimeSec, AtimeNsec: tc.AtimeNsec,
				MtimeSec: tc.MtimeSec, MtimeNsec: tc.MtimeNsec,
			})
		})
	case proto.Txattrwalk:
		rc, err = srv.xattrwalk(req, tc)
	case proto.Txattrcreate:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Xattrcreate(f, tc.Name, tc.Length, tc.Flags)
		})
	case proto.Treaddir:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Readdir(f, tc.Offset, tc.Count, req)
		})
	case proto.Tfsync:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Fsync(f, tc.Datasync)
		})
	case proto.Tlock:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Lock(f, tc.LockType, tc.Flags, tc.Start, tc.Length, tc.ProcID, tc.ClientID)
		})
	case proto.Tgetlock:
		rc, err = srv.withFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Getlock(f, tc.LockType, tc.Start, tc.Length, tc.ProcID, tc.ClientID)
		})
	case proto.Tlink:
		rc, err = srv.link(req, tc)
	case proto.Tmkdir:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Mkdir(f, tc.Name, tc.Mode, tc.GID)
		})
	case proto.Trenameat:
		rc, err = srv.renameat(req, tc)
	case proto.Tunlinkat:
		rc, err = srv.withWritableFid(req, func(f *Fid) (*proto.Fcall, error) {
			return f.backend.Unlinkat(f, tc.Name, tc.Flags)
		})
	default:
		// unreachable: the codec rejects unknown types
		rc, err = nil, eproto
	}

	tp.account(tc.Type, rc)
	return rc, err
}

// postProcess reconciles flush-interrupted side effects and sends the
// reply or the Rlerror.
func (srv *Server) postProcess(req *Req, rc *proto.Fcall, err error) {
	tc := req.Tcall

	if Errno(err) == unix.EINTR && req.flushed() {
		// A signal-driven flush interrupted the handler: fix up fid
		// accounting and suppress the reply.
		switch tc.Type {
		case proto.Tclunk, proto.Tremove:
			// Keep the fid so the client can retry.
			if req.Fid != nil {
				req.Fid.Flags |= FidZombie
			}
		case proto.Twalk:
			// the walk ran on a scratch fid that its error path
			// already released; nothing to reconcile
		}
		req.discard()
	}

	// Tclunk and Tremove drop the fid before the reply goes out, or
	// the client could reuse the id while we still hold it.
	if req.Fid != nil {
		req.Fid.decref()
		req.Fid = nil
	}

	if err != nil {
		req.respond(proto.NewRlerror(uint32(Errno(err))))
		return
	}
	if rc != nil {
		req.respond(rc)
		return
	}
	// nil, nil: the handler explicitly suppressed the reply
	req.discard()
}

// flushed reports whether a Tflush is chained on the request.
func (req *Req) flushed() bool {
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.flushq != nil
}

// withFid runs fn on the request's resolved fid, translating the
// "never heard of that fid" case.
func (srv *Server) withFid(req *Req, fn func(*Fid) (*proto.Fcall, error)) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.backend == nil {
		return nil, ErrBadUseFid
	}
	return fn(f)
}

// withWritableFid additionally refuses mutation through read-only
// exports.
func (srv *Server) withWritableFid(req *Req, fn func(*Fid) (*proto.Fcall, error)) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.backend == nil {
		return nil, ErrBadUseFid
	}
	if f.Flags&FidRO != 0 {
		return nil, unix.EROFS
	}
	return fn(f)
}
