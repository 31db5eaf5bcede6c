package proto

// An unpacker reads wire fields out of a packet body, remembering the
// first out-of-bounds access instead of panicking. Callers check err
// once at the end.
type unpacker struct {
	b   []byte
	off int
	err error
}

func (u *unpacker) fail() {
	if u.err == nil {
		u.err = errOverSize
	}
}

func (u *unpacker) u8() uint8 {
	if u.off+1 > len(u.b) {
		u.fail()
		return 0
	}
	v := u.b[u.off]
	u.off++
	return v
}

func (u *unpacker) u16() uint16 {
	if u.off+2 > len(u.b) {
		u.fail()
		return 0
	}
	v := guint16(u.b[u.off:])
	u.off += 2
	return v
}

func (u *unpacker) u32() uint32 {
	if u.off+4 > len(u.b) {
		u.fail()
		return 0
	}
	v := guint32(u.b[u.off:])
	u.off += 4
	return v
}

func (u *unpacker) u64() uint64 {
	if u.off+8 > len(u.b) {
		u.fail()
		return 0
	}
	v := guint64(u.b[u.off:])
	u.off += 8
	return v
}

func (u *unpacker) str() string {
	n := int(u.u16())
	if u.off+n > len(u.b) {
		u.fail()
		return ""
	}
	s := string(u.b[u.off : u.off+n])
	u.off += n
	return s
}

func (u *unpacker) qid() Qid {
	return Qid{Type: u.u8(), Version: u.u32(), Path: u.u64()}
}

// view returns n raw bytes without copying.
func (u *unpacker) view(n int) []byte {
	if n < 0 || u.off+n > len(u.b) {
		u.fail()
		return nil
	}
	b := u.b[u.off : u.off+n]
	u.off += n
	return b
}

func (u *unpacker) done() error {
	if u.err != nil {
		return u.err
	}
	if u.off != len(u.b) {
		return errUnderSize
	}
	return nil
}

func legacyType(t uint8) bool {
	switch t {
	case 106, 107: // Terror/Rerror
		return true
	case 112, 113, 114, 115: // Topen/Ropen/Tcreate/Rcreate
		return true
	case 124, 125, 126, 127: // Tstat/Rstat/Twstat/Rwstat
		return true
	case Tlerror:
		return true
	}
	return false
}

// PeekSize reads the frame length out of the first four bytes of a
// packet, so transports can tell how much more to read.
func PeekSize(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return guint32(b)
}

// Deserialize validates and decodes one framed 9P2000.L message. The
// returned Fcall aliases pkt (Data fields point into it). Errors
// satisfy IsProtocolError.
func Deserialize(pkt []byte) (*Fcall, error) {
	if len(pkt) < minMsgSize {
		return nil, errShortMsg
	}
	size := guint32(pkt[0:4])
	if int(size) != len(pkt) {
		return nil, errSizeMismatch
	}
	typ := pkt[4]
	if legacyType(typ) {
		return nil, errLegacyMsgType
	}
	min, ok := minSizeLUT[typ]
	if !ok {
		return nil, errInvalidMsgType
	}
	if size < min {
		return nil, errShortMsg
	}

	fc := &Fcall{
		Pkt:  pkt,
		Size: size,
		Type: typ,
		Tag:  guint16(pkt[5:7]),
	}
	u := &unpacker{b: pkt, off: headerLen}

	switch typ {
	case Rlerror:
		fc.Ecode = u.u32()
	case Tversion, Rversion:
		fc.Msize = u.u32()
		fc.Version = u.str()
		if len(fc.Version) > MaxVersionLen {
			return nil, errLongVersion
		}
	case Tauth:
		fc.Afid = u.u32()
		fc.Uname = u.str()
		fc.Aname = u.str()
		fc.Nuname = u.u32()
		if len(fc.Uname) > MaxUidLen {
			return nil, errLongUsername
		}
		if len(fc.Aname) > MaxAttachLen {
			return nil, errLongAname
		}
	case Tattach:
		fc.Fid = u.u32()
		fc.Afid = u.u32()
		fc.Uname = u.str()
		fc.Aname = u.str()
		fc.Nuname = u.u32()
		if len(fc.Uname) > MaxUidLen {
			return nil, errLongUsername
		}
		if len(fc.Aname) > MaxAttachLen {
			return nil, errLongAname
		}
	case Rauth, Rattach:
		fc.Qid = u.qid()
	case Tflush:
		fc.Oldtag = u.u16()
	case Rflush, Rclunk, Rremove, Rrename, Rsetattr, Rxattrcreate,
		Rfsync, Rlink, Rrenameat, Runlinkat:
		// empty body
	case Twalk:
		fc.Fid = u.u32()
		fc.Newfid = u.u32()
		nwname := int(u.u16())
		if nwname > MaxWElem {
			return nil, errMaxWElem
		}
		fc.Wname = make([]string, 0, nwname)
		for i := 0; i < nwname; i++ {
			w := u.str()
			if len(w) > MaxFilenameLen {
				return nil, errLongFilename
			}
			fc.Wname = append(fc.Wname, w)
		}
	case Rwalk:
		nwqid := int(u.u16())
		if nwqid > MaxWElem {
			return nil, errMaxWElem
		}
		fc.Wqid = make([]Qid, 0, nwqid)
		for i := 0; i < nwqid; i++ {
			fc.Wqid = append(fc.Wqid, u.qid())
		}
	case Tread:
		fc.Fid = u.u32()
		fc.Offset = u.u64()
		fc.Count = u.u32()
	case Rread, Rreaddir:
		fc.Count = u.u32()
		fc.Data = u.view(int(fc.Count))
	case Twrite:
		fc.Fid = u.u32()
		fc.Offset = u.u64()
		fc.Count = u.u32()
		fc.Data = u.view(int(fc.Count))
	case Rwrite:
		fc.Count = u.u32()
	case Tclunk, Tremove, Tstatfs, Treadlink:
		fc.Fid = u.u32()
	case Rstatfs:
		fc.FsType = u.u32()
		fc.Bsize = u.u32()
		fc.Blocks = u.u64()
		fc.Bfree = u.u64()
		fc.Bavail = u.u64()
		fc.Files = u.u64()
		fc.Ffree = u.u64()
		fc.Fsid = u.u64()
		fc.Namelen = u.u32()
	case Tlopen:
		fc.Fid = u.u32()
		fc.Flags = u.u32()
	case Rlopen, Rlcreate:
		fc.Qid = u.qid()
		fc.Iounit = u.u32()
	case Tlcreate:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Flags = u.u32()
		fc.Mode = u.u32()
		fc.GID = u.u32()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Tsymlink:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Target = u.str()
		fc.GID = u.u32()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Rsymlink, Rmknod, Rmkdir:
		fc.Qid = u.qid()
	case Tmknod:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Mode = u.u32()
		fc.Major = u.u32()
		fc.Minor = u.u32()
		fc.GID = u.u32()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Trename:
		fc.Fid = u.u32()
		fc.Dfid = u.u32()
		fc.Name = u.str()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Rreadlink:
		fc.Target = u.str()
	case Tgetattr:
		fc.Fid = u.u32()
		fc.RequestMask = u.u64()
	case Rgetattr:
		fc.Valid = u.u64()
		fc.Qid = u.qid()
		fc.Mode = u.u32()
		fc.UID = u.u32()
		fc.GID = u.u32()
		fc.Nlink = u.u64()
		fc.Rdev = u.u64()
		fc.Length = u.u64()
		fc.Blksize = u.u64()
		fc.Blocks = u.u64()
		fc.AtimeSec = u.u64()
		fc.AtimeNsec = u.u64()
		fc.MtimeSec = u.u64()
		fc.MtimeNsec = u.u64()
		fc.CtimeSec = u.u64()
		fc.CtimeNsec = u.u64()
		fc.BtimeSec = u.u64()
		fc.BtimeNsec = u.u64()
		fc.Gen = u.u64()
		fc.DataVersion = u.u64()
	case Tsetattr:
		fc.Fid = u.u32()
		fc.SetValid = u.u32()
		fc.Mode = u.u32()
		fc.UID = u.u32()
		fc.GID = u.u32()
		fc.Length = u.u64()
		fc.AtimeSec = u.u64()
		fc.AtimeNsec = u.u64()
		fc.MtimeSec = u.u64()
		fc.MtimeNsec = u.u64()
	case Txattrwalk:
		fc.Fid = u.u32()
		fc.Afid = u.u32()
		fc.Name = u.str()
	case Rxattrwalk:
		fc.Length = u.u64()
	case Txattrcreate:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Length = u.u64()
		fc.Flags = u.u32()
	case Treaddir:
		fc.Fid = u.u32()
		fc.Offset = u.u64()
		fc.Count = u.u32()
	case Tfsync:
		fc.Fid = u.u32()
		fc.Datasync = u.u32()
	case Tlock:
		fc.Fid = u.u32()
		fc.LockType = u.u8()
		fc.Flags = u.u32()
		fc.Start = u.u64()
		fc.Length = u.u64()
		fc.ProcID = u.u32()
		fc.ClientID = u.str()
	case Rlock:
		fc.Status = u.u8()
	case Tgetlock:
		fc.Fid = u.u32()
		fc.LockType = u.u8()
		fc.Start = u.u64()
		fc.Length = u.u64()
		fc.ProcID = u.u32()
		fc.ClientID = u.str()
	case Rgetlock:
		fc.LockType = u.u8()
		fc.Start = u.u64()
		fc.Length = u.u64()
		fc.ProcID = u.u32()
		fc.ClientID = u.str()
	case Tlink:
		fc.Dfid = u.u32()
		fc.Fid = u.u32()
		fc.Name = u.str()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Tmkdir:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Mode = u.u32()
		fc.GID = u.u32()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Trenameat:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Dfid = u.u32()
		fc.Newname = u.str()
		if len(fc.Name) > MaxFilenameLen || len(fc.Newname) > MaxFilenameLen {
			return nil, errLongFilename
		}
	case Tunlinkat:
		fc.Fid = u.u32()
		fc.Name = u.str()
		fc.Flags = u.u32()
		if len(fc.Name) > MaxFilenameLen {
			return nil, errLongFilename
		}
	default:
		return nil, errInvalidMsgType
	}

	if err := u.done(); err != nil {
		return nil, err
	}
	return fc, nil
}
