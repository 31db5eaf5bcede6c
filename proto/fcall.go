package proto

import (
	"encoding/binary"
	"fmt"
)

// Shorthand for wire integers.
var (
	guint16 = binary.LittleEndian.Uint16
	guint32 = binary.LittleEndian.Uint32
	guint64 = binary.LittleEndian.Uint64
)

// An Fcall is one 9P2000.L message, decoded. Pkt always holds the
// complete framed packet; the remaining fields are the union of every
// message's payload, with only those named by the message's type
// meaningful. Constructing an Fcall through the New* functions fills
// both representations.
type Fcall struct {
	Pkt []byte

	Size uint32
	Type uint8
	Tag  uint16

	Fid    uint32
	Afid   uint32
	Newfid uint32
	Dfid   uint32

	Msize   uint32
	Version string
	Uname   string
	Aname   string
	Nuname  uint32

	Qid  Qid
	Wqid []Qid

	Wname []string

	Oldtag uint16
	Ecode  uint32

	Offset uint64
	Count  uint32
	Data   []byte // view into Pkt for Twrite/Rread/Rreaddir

	// statfs
	FsType  uint32
	Bsize   uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Fsid    uint64
	Namelen uint32

	Flags  uint32
	Mode   uint32
	UID    uint32
	GID    uint32
	Iounit uint32

	Name    string
	Newname string
	Target  string
	Major   uint32
	Minor   uint32

	// getattr/setattr
	RequestMask uint64
	Valid       uint64
	SetValid    uint32
	Nlink       uint64
	Rdev        uint64
	Length      uint64 // file or attribute size
	Blksize     uint64
	AtimeSec    uint64
	AtimeNsec   uint64
	MtimeSec    uint64
	MtimeNsec   uint64
	CtimeSec    uint64
	CtimeNsec   uint64
	BtimeSec    uint64
	BtimeNsec   uint64
	Gen         uint64
	DataVersion uint64

	Datasync uint32

	LockType uint8
	Start    uint64
	ProcID   uint32
	ClientID string
	Status   uint8
}

// SetTag stamps the transaction tag into both the decoded field and
// the framed packet.
func (fc *Fcall) SetTag(tag uint16) {
	fc.Tag = tag
	binary.LittleEndian.PutUint16(fc.Pkt[5:7], tag)
}

func (fc *Fcall) String() string {
	s := TypeName(fc.Type)
	switch fc.Type {
	case Rlerror:
		return fmt.Sprintf("%s ecode=%d", s, fc.Ecode)
	case Tversion, Rversion:
		return fmt.Sprintf("%s msize=%d version=%q", s, fc.Msize, fc.Version)
	case Tauth:
		return fmt.Sprintf("%s afid=%d uname=%q aname=%q n_uname=%d",
			s, fc.Afid, fc.Uname, fc.Aname, fc.Nuname)
	case Tattach:
		return fmt.Sprintf("%s fid=%d afid=%d uname=%q aname=%q n_uname=%d",
			s, fc.Fid, fc.Afid, fc.Uname, fc.Aname, fc.Nuname)
	case Rauth, Rattach, Rsymlink, Rmknod, Rmkdir:
		return fmt.Sprintf("%s qid=%v", s, fc.Qid)
	case Tflush:
		return fmt.Sprintf("%s oldtag=%d", s, fc.Oldtag)
	case Twalk:
		return fmt.Sprintf("%s fid=%d newfid=%d wname=%q", s, fc.Fid, fc.Newfid, fc.Wname)
	case Rwalk:
		return fmt.Sprintf("%s nwqid=%d", s, len(fc.Wqid))
	case Tread, Treaddir:
		return fmt.Sprintf("%s fid=%d offset=%d count=%d", s, fc.Fid, fc.Offset, fc.Count)
	case Rread, Rreaddir, Rwrite:
		return fmt.Sprintf("%s count=%d", s, fc.Count)
	case Twrite:
		return fmt.Sprintf("%s fid=%d offset=%d count=%d", s, fc.Fid, fc.Offset, fc.Count)
	case Tlopen:
		return fmt.Sprintf("%s fid=%d flags=%#x", s, fc.Fid, fc.Flags)
	case Rlopen, Rlcreate:
		return fmt.Sprintf("%s qid=%v iounit=%d", s, fc.Qid, fc.Iounit)
	case Tlcreate:
		return fmt.Sprintf("%s fid=%d name=%q flags=%#x mode=%#o gid=%d",
			s, fc.Fid, fc.Name, fc.Flags, fc.Mode, fc.GID)
	case Tlock:
		return fmt.Sprintf("%s fid=%d type=%d flags=%#x start=%d length=%d",
			s, fc.Fid, fc.LockType, fc.Flags, fc.Start, fc.Length)
	case Rlock:
		return fmt.Sprintf("%s status=%d", s, fc.Status)
	case Tclunk, Tremove, Tstatfs, Treadlink, Tfsync:
		return fmt.Sprintf("%s fid=%d", s, fc.Fid)
	}
	return s
}

// A packer writes wire fields into a preallocated packet. Running
// past the end of the buffer indicates a size computation bug in this
// package and panics.
type packer struct {
	b   []byte
	off int
}

func (p *packer) u8(v uint8) {
	p.b[p.off] = v
	p.off++
}

func (p *packer) u16(v uint16) {
	binary.LittleEndian.PutUint16(p.b[p.off:], v)
	p.off += 2
}

func (p *packer) u32(v uint32) {
	binary.LittleEndian.PutUint32(p.b[p.off:], v)
	p.off += 4
}

func (p *packer) u64(v uint64) {
	binary.LittleEndian.PutUint64(p.b[p.off:], v)
	p.off += 8
}

func (p *packer) str(s string) {
	p.u16(uint16(len(s)))
	copy(p.b[p.off:], s)
	p.off += len(s)
}

func (p *packer) qid(q Qid) {
	p.u8(q.Type)
	p.u32(q.Version)
	p.u64(q.Path)
}

// newFcall allocates a framed packet of the given total size and
// writes the header. The tag starts as NoTag; the connection stamps
// the real tag just before transmit.
func newFcall(size uint32, typ uint8) (*Fcall, *packer) {
	fc := &Fcall{
		Pkt:  make([]byte, size),
		Size: size,
		Type: typ,
		Tag:  NoTag,
	}
	p := &packer{b: fc.Pkt}
	p.u32(size)
	p.u8(typ)
	p.u16(NoTag)
	return fc, p
}

func strsize(ss ...string) uint32 {
	var n uint32
	for _, s := range ss {
		n += 2 + uint32(len(s))
	}
	return n
}

func truncstr(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// NewTversion and the other New* constructors below mirror the full
// message set in §6 of the protocol; each builds a ready-to-send
// packet.

func NewTversion(msize uint32, version string) *Fcall {
	version = truncstr(version, MaxVersionLen)
	fc, p := newFcall(minSizeLUT[Tversion]+uint32(len(version)), Tversion)
	p.u32(msize)
	p.str(version)
	fc.Msize = msize
	fc.Version = version
	return fc
}

func NewRversion(msize uint32, version string) *Fcall {
	version = truncstr(version, MaxVersionLen)
	fc, p := newFcall(minSizeLUT[Rversion]+uint32(len(version)), Rversion)
	p.u32(msize)
	p.str(version)
	fc.Msize = msize
	fc.Version = version
	return fc
}

func NewTauth(afid uint32, uname, aname string, nuname uint32) *Fcall {
	uname = truncstr(uname, MaxUidLen)
	aname = truncstr(aname, MaxAttachLen)
	fc, p := newFcall(minSizeLUT[Tauth]+strsize(uname, aname)-4, Tauth)
	p.u32(afid)
	p.str(uname)
	p.str(aname)
	p.u32(nuname)
	fc.Afid = afid
	fc.Uname = uname
	fc.Aname = aname
	fc.Nuname = nuname
	return fc
}

func NewRauth(aqid Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rauth], Rauth)
	p.qid(aqid)
	fc.Qid = aqid
	return fc
}

func NewTattach(fid, afid uint32, uname, aname string, nuname uint32) *Fcall {
	uname = truncstr(uname, MaxUidLen)
	aname = truncstr(aname, MaxAttachLen)
	fc, p := newFcall(minSizeLUT[Tattach]+strsize(uname, aname)-4, Tattach)
	p.u32(fid)
	p.u32(afid)
	p.str(uname)
	p.str(aname)
	p.u32(nuname)
	fc.Fid = fid
	fc.Afid = afid
	fc.Uname = uname
	fc.Aname = aname
	fc.Nuname = nuname
	return fc
}

func NewRattach(qid Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rattach], Rattach)
	p.qid(qid)
	fc.Qid = qid
	return fc
}

func NewRlerror(ecode uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rlerror], Rlerror)
	p.u32(ecode)
	fc.Ecode = ecode
	return fc
}

func NewTflush(oldtag uint16) *Fcall {
	fc, p := newFcall(minSizeLUT[Tflush], Tflush)
	p.u16(oldtag)
	fc.Oldtag = oldtag
	return fc
}

func NewRflush() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rflush], Rflush)
	return fc
}

func NewTwalk(fid, newfid uint32, wname []string) *Fcall {
	size := minSizeLUT[Twalk]
	for _, w := range wname {
		size += 2 + uint32(len(w))
	}
	fc, p := newFcall(size, Twalk)
	p.u32(fid)
	p.u32(newfid)
	p.u16(uint16(len(wname)))
	for _, w := range wname {
		p.str(w)
	}
	fc.Fid = fid
	fc.Newfid = newfid
	fc.Wname = wname
	return fc
}

func NewRwalk(wqid []Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rwalk]+uint32(len(wqid))*QidLen, Rwalk)
	p.u16(uint16(len(wqid)))
	for _, q := range wqid {
		p.qid(q)
	}
	fc.Wqid = wqid
	return fc
}

func NewTread(fid uint32, offset uint64, count uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tread], Tread)
	p.u32(fid)
	p.u64(offset)
	p.u32(count)
	fc.Fid = fid
	fc.Offset = offset
	fc.Count = count
	return fc
}

// AllocRread reserves an Rread whose Data slice has room for count
// bytes. The handler fills Data and calls SetReadCount with the
// actual byte count, avoiding a copy of the payload.
func AllocRread(count uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rread]+count, Rread)
	p.u32(count)
	fc.Count = count
	fc.Data = fc.Pkt[headerLen+4:]
	return fc
}

func NewRread(data []byte) *Fcall {
	fc := AllocRread(uint32(len(data)))
	copy(fc.Data, data)
	return fc
}

// SetReadCount trims an Rread (or Rreaddir) to the n bytes actually
// produced.
func (fc *Fcall) SetReadCount(n uint32) {
	size := minSizeLUT[Rread] + n
	fc.Size = size
	fc.Count = n
	binary.LittleEndian.PutUint32(fc.Pkt[0:4], size)
	binary.LittleEndian.PutUint32(fc.Pkt[headerLen:], n)
	fc.Pkt = fc.Pkt[:size]
	fc.Data = fc.Pkt[headerLen+4:]
}

func NewTwrite(fid uint32, offset uint64, data []byte) *Fcall {
	fc, p := newFcall(minSizeLUT[Twrite]+uint32(len(data)), Twrite)
	p.u32(fid)
	p.u64(offset)
	p.u32(uint32(len(data)))
	copy(fc.Pkt[p.off:], data)
	fc.Fid = fid
	fc.Offset = offset
	fc.Count = uint32(len(data))
	fc.Data = fc.Pkt[p.off : p.off+len(data)]
	return fc
}

func NewRwrite(count uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rwrite], Rwrite)
	p.u32(count)
	fc.Count = count
	return fc
}

func NewTclunk(fid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tclunk], Tclunk)
	p.u32(fid)
	fc.Fid = fid
	return fc
}

func NewRclunk() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rclunk], Rclunk)
	return fc
}

func NewTremove(fid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tremove], Tremove)
	p.u32(fid)
	fc.Fid = fid
	return fc
}

func NewRremove() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rremove], Rremove)
	return fc
}

func NewTstatfs(fid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tstatfs], Tstatfs)
	p.u32(fid)
	fc.Fid = fid
	return fc
}

func NewRstatfs(typ, bsize uint32, blocks, bfree, bavail, files, ffree, fsid uint64, namelen uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rstatfs], Rstatfs)
	p.u32(typ)
	p.u32(bsize)
	p.u64(blocks)
	p.u64(bfree)
	p.u64(bavail)
	p.u64(files)
	p.u64(ffree)
	p.u64(fsid)
	p.u32(namelen)
	fc.FsType = typ
	fc.Bsize = bsize
	fc.Blocks = blocks
	fc.Bfree = bfree
	fc.Bavail = bavail
	fc.Files = files
	fc.Ffree = ffree
	fc.Fsid = fsid
	fc.Namelen = namelen
	return fc
}

func NewTlopen(fid, flags uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tlopen], Tlopen)
	p.u32(fid)
	p.u32(flags)
	fc.Fid = fid
	fc.Flags = flags
	return fc
}

func NewRlopen(qid Qid, iounit uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rlopen], Rlopen)
	p.qid(qid)
	p.u32(iounit)
	fc.Qid = qid
	fc.Iounit = iounit
	return fc
}

func NewTlcreate(fid uint32, name string, flags, mode, gid uint32) *Fcall {
	name = truncstr(name, MaxFilenameLen)
	fc, p := newFcall(minSizeLUT[Tlcreate]+uint32(len(name)), Tlcreate)
	p.u32(fid)
	p.str(name)
	p.u32(flags)
	p.u32(mode)
	p.u32(gid)
	fc.Fid = fid
	fc.Name = name
	fc.Flags = flags
	fc.Mode = mode
	fc.GID = gid
	return fc
}

func NewRlcreate(qid Qid, iounit uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rlcreate], Rlcreate)
	p.qid(qid)
	p.u32(iounit)
	fc.Qid = qid
	fc.Iounit = iounit
	return fc
}

func NewTsymlink(fid uint32, name, target string, gid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tsymlink]+uint32(len(name)+len(target)), Tsymlink)
	p.u32(fid)
	p.str(name)
	p.str(target)
	p.u32(gid)
	fc.Fid = fid
	fc.Name = name
	fc.Target = target
	fc.GID = gid
	return fc
}

func NewRsymlink(qid Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rsymlink], Rsymlink)
	p.qid(qid)
	fc.Qid = qid
	return fc
}

func NewTmknod(fid uint32, name string, mode, major, minor, gid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tmknod]+uint32(len(name)), Tmknod)
	p.u32(fid)
	p.str(name)
	p.u32(mode)
	p.u32(major)
	p.u32(minor)
	p.u32(gid)
	fc.Fid = fid
	fc.Name = name
	fc.Mode = mode
	fc.Major = major
	fc.Minor = minor
	fc.GID = gid
	return fc
}

func NewRmknod(qid Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rmknod], Rmknod)
	p.qid(qid)
	fc.Qid = qid
	return fc
}

func NewTrename(fid, dfid uint32, name string) *Fcall {
	fc, p := newFcall(minSizeLUT[Trename]+uint32(len(name)), Trename)
	p.u32(fid)
	p.u32(dfid)
	p.str(name)
	fc.Fid = fid
	fc.Dfid = dfid
	fc.Name = name
	return fc
}

func NewRrename() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rrename], Rrename)
	return fc
}

func NewTreadlink(fid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Treadlink], Treadlink)
	p.u32(fid)
	fc.Fid = fid
	return fc
}

func NewRreadlink(target string) *Fcall {
	fc, p := newFcall(minSizeLUT[Rreadlink]+uint32(len(target)), Rreadlink)
	p.str(target)
	fc.Target = target
	return fc
}

func NewTgetattr(fid uint32, requestMask uint64) *Fcall {
	fc, p := newFcall(minSizeLUT[Tgetattr], Tgetattr)
	p.u32(fid)
	p.u64(requestMask)
	fc.Fid = fid
	fc.RequestMask = requestMask
	return fc
}

// Rgetattr carries the full statx-like attribute set; valid flags
// which fields the server vouches for.
type Attr struct {
	Valid       uint64
	Qid         Qid
	Mode        uint32
	UID         uint32
	GID         uint32
	Nlink       uint64
	Rdev        uint64
	Size        uint64
	Blksize     uint64
	Blocks      uint64
	AtimeSec    uint64
	AtimeNsec   uint64
	MtimeSec    uint64
	MtimeNsec   uint64
	CtimeSec    uint64
	CtimeNsec   uint64
	BtimeSec    uint64
	BtimeNsec   uint64
	Gen         uint64
	DataVersion uint64
}

func NewRgetattr(a Attr) *Fcall {
	fc, p := newFcall(minSizeLUT[Rgetattr], Rgetattr)
	p.u64(a.Valid)
	p.qid(a.Qid)
	p.u32(a.Mode)
	p.u32(a.UID)
	p.u32(a.GID)
	p.u64(a.Nlink)
	p.u64(a.Rdev)
	p.u64(a.Size)
	p.u64(a.Blksize)
	p.u64(a.Blocks)
	p.u64(a.AtimeSec)
	p.u64(a.AtimeNsec)
	p.u64(a.MtimeSec)
	p.u64(a.MtimeNsec)
	p.u64(a.CtimeSec)
	p.u64(a.CtimeNsec)
	p.u64(a.BtimeSec)
	p.u64(a.BtimeNsec)
	p.u64(a.Gen)
	p.u64(a.DataVersion)
	fc.Valid = a.Valid
	fc.Qid = a.Qid
	fc.Mode = a.Mode
	fc.UID = a.UID
	fc.GID = a.GID
	fc.Nlink = a.Nlink
	fc.Rdev = a.Rdev
	fc.Length = a.Size
	fc.Blksize = a.Blksize
	fc.Blocks = a.Blocks
	fc.AtimeSec, fc.AtimeNsec = a.AtimeSec, a.AtimeNsec
	fc.MtimeSec, fc.MtimeNsec = a.MtimeSec, a.MtimeNsec
	fc.CtimeSec, fc.CtimeNsec = a.CtimeSec, a.CtimeNsec
	fc.BtimeSec, fc.BtimeNsec = a.BtimeSec, a.BtimeNsec
	fc.Gen = a.Gen
	fc.DataVersion = a.DataVersion
	return fc
}

func NewTsetattr(fid, valid, mode, uid, gid uint32, size, atimeSec, atimeNsec, mtimeSec, mtimeNsec uint64) *Fcall {
	fc, p := newFcall(minSizeLUT[Tsetattr], Tsetattr)
	p.u32(fid)
	p.u32(valid)
	p.u32(mode)
	p.u32(uid)
	p.u32(gid)
	p.u64(size)
	p.u64(atimeSec)
	p.u64(atimeNsec)
	p.u64(mtimeSec)
	p.u64(mtimeNsec)
	fc.Fid = fid
	fc.SetValid = valid
	fc.Mode = mode
	fc.UID = uid
	fc.GID = gid
	fc.Length = size
	fc.AtimeSec, fc.AtimeNsec = atimeSec, atimeNsec
	fc.MtimeSec, fc.MtimeNsec = mtimeSec, mtimeNsec
	return fc
}

func NewRsetattr() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rsetattr], Rsetattr)
	return fc
}

func NewTxattrwalk(fid, attrfid uint32, name string) *Fcall {
	fc, p := newFcall(minSizeLUT[Txattrwalk]+uint32(len(name)), Txattrwalk)
	p.u32(fid)
	p.u32(attrfid)
	p.str(name)
	fc.Fid = fid
	fc.Afid = attrfid
	fc.Name = name
	return fc
}

func NewRxattrwalk(size uint64) *Fcall {
	fc, p := newFcall(minSizeLUT[Rxattrwalk], Rxattrwalk)
	p.u64(size)
	fc.Length = size
	return fc
}

func NewTxattrcreate(fid uint32, name string, size uint64, flag uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Txattrcreate]+uint32(len(name)), Txattrcreate)
	p.u32(fid)
	p.str(name)
	p.u64(size)
	p.u32(flag)
	fc.Fid = fid
	fc.Name = name
	fc.Length = size
	fc.Flags = flag
	return fc
}

func NewRxattrcreate() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rxattrcreate], Rxattrcreate)
	return fc
}

func NewTreaddir(fid uint32, offset uint64, count uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Treaddir], Treaddir)
	p.u32(fid)
	p.u64(offset)
	p.u32(count)
	fc.Fid = fid
	fc.Offset = offset
	fc.Count = count
	return fc
}

// AllocRreaddir reserves an Rreaddir with room for count bytes of
// dirent data; the handler streams entries into Data and calls
// FinalizeReaddir with the bytes actually used.
func AllocRreaddir(count uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Rreaddir]+count, Rreaddir)
	p.u32(count)
	fc.Count = count
	fc.Data = fc.Pkt[headerLen+4:]
	return fc
}

// FinalizeReaddir trims an Rreaddir to the n bytes of dirent data
// actually produced.
func (fc *Fcall) FinalizeReaddir(n uint32) {
	size := minSizeLUT[Rreaddir] + n
	fc.Size = size
	fc.Count = n
	binary.LittleEndian.PutUint32(fc.Pkt[0:4], size)
	binary.LittleEndian.PutUint32(fc.Pkt[headerLen:], n)
	fc.Pkt = fc.Pkt[:size]
	fc.Data = fc.Pkt[headerLen+4:]
}

func NewTfsync(fid, datasync uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tfsync], Tfsync)
	p.u32(fid)
	p.u32(datasync)
	fc.Fid = fid
	fc.Datasync = datasync
	return fc
}

func NewRfsync() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rfsync], Rfsync)
	return fc
}

func NewTlock(fid uint32, typ uint8, flags uint32, start, length uint64, procID uint32, clientID string) *Fcall {
	fc, p := newFcall(minSizeLUT[Tlock]+uint32(len(clientID)), Tlock)
	p.u32(fid)
	p.u8(typ)
	p.u32(flags)
	p.u64(start)
	p.u64(length)
	p.u32(procID)
	p.str(clientID)
	fc.Fid = fid
	fc.LockType = typ
	fc.Flags = flags
	fc.Start = start
	fc.Length = length
	fc.ProcID = procID
	fc.ClientID = clientID
	return fc
}

func NewRlock(status uint8) *Fcall {
	fc, p := newFcall(minSizeLUT[Rlock], Rlock)
	p.u8(status)
	fc.Status = status
	return fc
}

func NewTgetlock(fid uint32, typ uint8, start, length uint64, procID uint32, clientID string) *Fcall {
	fc, p := newFcall(minSizeLUT[Tgetlock]+uint32(len(clientID)), Tgetlock)
	p.u32(fid)
	p.u8(typ)
	p.u64(start)
	p.u64(length)
	p.u32(procID)
	p.str(clientID)
	fc.Fid = fid
	fc.LockType = typ
	fc.Start = start
	fc.Length = length
	fc.ProcID = procID
	fc.ClientID = clientID
	return fc
}

func NewRgetlock(typ uint8, start, length uint64, procID uint32, clientID string) *Fcall {
	fc, p := newFcall(minSizeLUT[Rgetlock]+uint32(len(clientID)), Rgetlock)
	p.u8(typ)
	p.u64(start)
	p.u64(length)
	p.u32(procID)
	p.str(clientID)
	fc.LockType = typ
	fc.Start = start
	fc.Length = length
	fc.ProcID = procID
	fc.ClientID = clientID
	return fc
}

func NewTlink(dfid, fid uint32, name string) *Fcall {
	fc, p := newFcall(minSizeLUT[Tlink]+uint32(len(name)), Tlink)
	p.u32(dfid)
	p.u32(fid)
	p.str(name)
	fc.Dfid = dfid
	fc.Fid = fid
	fc.Name = name
	return fc
}

func NewRlink() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rlink], Rlink)
	return fc
}

func NewTmkdir(dfid uint32, name string, mode, gid uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tmkdir]+uint32(len(name)), Tmkdir)
	p.u32(dfid)
	p.str(name)
	p.u32(mode)
	p.u32(gid)
	fc.Fid = dfid
	fc.Name = name
	fc.Mode = mode
	fc.GID = gid
	return fc
}

func NewRmkdir(qid Qid) *Fcall {
	fc, p := newFcall(minSizeLUT[Rmkdir], Rmkdir)
	p.qid(qid)
	fc.Qid = qid
	return fc
}

func NewTrenameat(olddirfid uint32, oldname string, newdirfid uint32, newname string) *Fcall {
	fc, p := newFcall(minSizeLUT[Trenameat]+uint32(len(oldname)+len(newname)), Trenameat)
	p.u32(olddirfid)
	p.str(oldname)
	p.u32(newdirfid)
	p.str(newname)
	fc.Fid = olddirfid
	fc.Name = oldname
	fc.Dfid = newdirfid
	fc.Newname = newname
	return fc
}

func NewRrenameat() *Fcall {
	fc, _ := newFcall(minSizeLUT[Rrenameat], Rrenameat)
	return fc
}

func NewTunlinkat(dirfid uint32, name string, flags uint32) *Fcall {
	fc, p := newFcall(minSizeLUT[Tunlinkat]+uint32(len(name)), Tunlinkat)
	p.u32(dirfid)
	p.str(name)
	p.u32(flags)
	fc.Fid = dirfid
	fc.Name = name
	fc.Flags = flags
	return fc
}

func NewRunlinkat() *Fcall {
	fc, _ := newFcall(minSizeLUT[Runlinkat], Runlinkat)
	return fc
}
