package ninep

import (
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/proto"
)

// VersionString is the only protocol this server speaks. Clients
// offering anything else get the protocol-defined "unknown" response
// and are expected to go away.
const VersionString = "9P2000.L"

func (srv *Server) version(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	if tc.Version != VersionString {
		return proto.NewRversion(tc.Msize, "unknown"), nil
	}
	msize := tc.Msize
	if msize > srv.Msize {
		msize = srv.Msize
	}
	if msize < proto.MinMsize {
		return nil, eproto
	}
	// A version request resets the connection: all fids clunked, all
	// other outstanding requests for the connection discarded.
	req.Conn.reset(msize)
	return proto.NewRversion(msize, VersionString), nil
}

func (srv *Server) auth(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	afid := req.Fid
	if afid == nil {
		return nil, ErrFidInUse
	}
	if srv.Auth == nil {
		return nil, unix.EOPNOTSUPP
	}
	user, err := srv.attachUser(tc.Uname, tc.Nuname)
	if err != nil {
		return nil, err
	}
	user.IncRef()
	afid.User = user
	afid.Type |= proto.QTAUTH

	aqid, err := srv.Auth.Start(afid, tc.Aname)
	if err != nil {
		afid.clunk()
		return nil, err
	}
	aqid.Type |= proto.QTAUTH
	return proto.NewRauth(aqid), nil
}

// authRequired applies the server policy for one attach.
func (srv *Server) authRequired(uname string, nuname uint32, aname string) bool {
	if srv.Flags&AuthConn == 0 {
		return false
	}
	if srv.AuthRequired != nil {
		return srv.AuthRequired(uname, nuname, aname)
	}
	return true
}

func (srv *Server) attach(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	fid := req.Fid
	if fid == nil {
		return nil, ErrFidInUse
	}
	fail := func(err error) (*proto.Fcall, error) {
		fid.clunk()
		return nil, err
	}

	var afid *Fid
	if tc.Afid != proto.NoFid {
		afid = req.Conn.fids.find(tc.Afid)
		if afid == nil {
			return fail(ErrUnknownFid)
		}
		defer afid.decref()
		if !afid.IsAuth() {
			return fail(ErrBadUseFid)
		}
	}

	user, err := srv.attachUser(tc.Uname, tc.Nuname)
	if err != nil {
		return fail(err)
	}
	user.IncRef()
	fid.User = user

	if srv.authRequired(tc.Uname, tc.Nuname, tc.Aname) {
		if afid == nil || srv.Auth == nil {
			return fail(unix.EPERM)
		}
		if err := srv.Auth.Check(fid, afid, tc.Aname); err != nil {
			return fail(unix.EPERM)
		}
		req.Conn.SetAuthUser(afid.User.UID)
	}

	backend := srv.Backend
	if tc.Aname == "ctl" {
		backend = srv.ctl
	}
	if backend == nil {
		return fail(unix.EPERM)
	}
	fid.backend = backend

	if remap, ok := backend.(UserRemapper); ok {
		if err := remap.RemapUser(fid); err != nil {
			return fail(err)
		}
	}

	rc, err := backend.Attach(fid, afid, tc.Aname)
	if err != nil {
		srv.Log.WithError(err).WithFields(map[string]interface{}{
			"user": fid.User.Uname, "client": req.Conn.clientID, "aname": tc.Aname,
		}).Error("9p: attach failed")
		return fail(err)
	}
	fid.Type = rc.Qid.Type
	return rc, nil
}

func (srv *Server) walk(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	fid := req.Fid
	if fid == nil {
		return nil, ErrUnknownFid
	}
	if fid.backend == nil || fid.IsAuth() {
		return nil, ErrBadUseFid
	}
	if len(tc.Wname) > 0 && fid.Type&proto.QTDIR == 0 {
		return nil, unix.ENOTDIR
	}

	// Walk on a scratch clone, whether or not the walk is
	// destructive: a partial walk must leave the original fid alone
	// and must not install newfid.
	if tc.Newfid != tc.Fid {
		if f := req.Conn.fids.find(tc.Newfid); f != nil {
			f.decref()
			return nil, ErrFidInUse
		}
	}
	scratch := &Fid{
		Conn:  fid.Conn,
		ID:    tc.Newfid,
		Type:  fid.Type,
		Aname: fid.Aname,
		Flags: fid.Flags,

		backend: fid.backend,
	}
	scratch.IncRef()
	if err := fid.backend.Clone(fid, scratch); err != nil {
		scratch.decref()
		return nil, err
	}
	fid.User.IncRef()
	scratch.User = fid.User

	wqids := make([]proto.Qid, 0, len(tc.Wname))
	var werr error
	for _, name := range tc.Wname {
		var q proto.Qid
		if werr = fid.backend.Walk(scratch, name, &q); werr != nil {
			break
		}
		scratch.Type = q.Type
		wqids = append(wqids, q)
	}

	if len(wqids) < len(tc.Wname) {
		scratch.decref()
		if len(wqids) == 0 {
			return nil, werr
		}
		return proto.NewRwalk(wqids), nil
	}

	if tc.Newfid == tc.Fid {
		// destructive walk: swap the walked state into the original
		// fid and let the scratch fid take the old state down with it
		fid.Aux, scratch.Aux = scratch.Aux, fid.Aux
		fid.Type, scratch.Type = scratch.Type, fid.Type
		fid.Flags, scratch.Flags = scratch.Flags, fid.Flags
		scratch.decref()
	} else {
		if fid.tpool != nil {
			srv.mu.Lock()
			fid.tpool.incref()
			srv.mu.Unlock()
			scratch.tpool = fid.tpool
		}
		if err := req.Conn.fids.install(scratch); err != nil {
			scratch.decref()
			return nil, err
		}
		scratch.decref() // installation keeps the table reference
	}
	return proto.NewRwalk(wqids), nil
}

func (srv *Server) read(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	count := tc.Count
	if max := req.Conn.Msize() - uint32(11); count > max {
		count = max
	}
	if f.IsAuth() {
		if srv.Auth == nil {
			return nil, ErrBadUseFid
		}
		data, err := srv.Auth.Read(f, tc.Offset, count)
		if err != nil {
			return nil, err
		}
		return proto.NewRread(data), nil
	}
	if f.backend == nil {
		return nil, ErrBadUseFid
	}
	return f.backend.Read(f, tc.Offset, count, req)
}

func (srv *Server) write(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.IsAuth() {
		if srv.Auth == nil {
			return nil, ErrBadUseFid
		}
		n, err := srv.Auth.Write(f, tc.Offset, tc.Data)
		if err != nil {
			return nil, err
		}
		return proto.NewRwrite(n), nil
	}
	if f.backend == nil {
		return nil, ErrBadUseFid
	}
	if f.Flags&FidRO != 0 {
		return nil, unix.EROFS
	}
	return f.backend.Write(f, tc.Offset, tc.Data, req)
}

func (srv *Server) clunk(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.IsAuth() {
		f.clunk()
		return proto.NewRclunk(), nil
	}
	if f.backend == nil {
		return nil, ErrBadUseFid
	}
	rc, err := f.backend.Clunk(f)
	if err != nil {
		return nil, err
	}
	f.clunk()
	return rc, nil
}

func (srv *Server) remove(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.backend == nil || f.IsAuth() {
		return nil, ErrBadUseFid
	}
	if f.Flags&FidRO != 0 {
		return nil, unix.EROFS
	}
	rc, err := f.backend.Remove(f)
	if err != nil {
		return nil, err
	}
	f.clunk()
	return rc, nil
}

func (srv *Server) rename(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
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
	d := req.Conn.fids.find(tc.Dfid)
	if d == nil {
		return nil, ErrUnknownFid
	}
	defer d.decref()
	return f.backend.Rename(f, d, tc.Name)
}

func (srv *Server) link(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	d := req.Fid // Tlink routes by dfid
	if d == nil {
		return nil, ErrUnknownFid
	}
	if d.backend == nil {
		return nil, ErrBadUseFid
	}
	if d.Flags&FidRO != 0 {
		return nil, unix.EROFS
	}
	f := req.Conn.fids.find(tc.Fid)
	if f == nil {
		return nil, ErrUnknownFid
	}
	defer f.decref()
	return d.backend.Link(d, f, tc.Name)
}

func (srv *Server) renameat(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	olddir := req.Fid
	if olddir == nil {
		return nil, ErrUnknownFid
	}
	if olddir.backend == nil {
		return nil, ErrBadUseFid
	}
	if olddir.Flags&FidRO != 0 {
		return nil, unix.EROFS
	}
	newdir := req.Conn.fids.find(tc.Dfid)
	if newdir == nil {
		return nil, ErrUnknownFid
	}
	defer newdir.decref()
	return olddir.backend.Renameat(olddir, tc.Name, newdir, tc.Newname)
}

func (srv *Server) xattrwalk(req *Req, tc *proto.Fcall) (*proto.Fcall, error) {
	f := req.Fid
	if f == nil {
		return nil, ErrUnknownFid
	}
	if f.backend == nil || f.IsAuth() {
		return nil, ErrBadUseFid
	}
	attrfid, err := req.Conn.fids.create(req.Conn, tc.Afid)
	if err != nil {
		return nil, err
	}
	attrfid.Aname = f.Aname
	attrfid.Type = f.Type
	attrfid.Flags = f.Flags
	attrfid.backend = f.backend
	f.User.IncRef()
	attrfid.User = f.User
	if f.tpool != nil {
		srv.mu.Lock()
		f.tpool.incref()
		srv.mu.Unlock()
		attrfid.tpool = f.tpool
	}
	rc, err := f.backend.Xattrwalk(f, attrfid, tc.Name)
	if err != nil {
		attrfid.clunk()
		attrfid.decref()
		return nil, err
	}
	attrfid.decref() // keep only the table reference
	return rc, nil
}
