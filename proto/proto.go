// Package proto implements the wire format of the 9P2000.L protocol,
// the Linux dialect of 9P spoken by the v9fs kernel client, as
// described in https://github.com/chaos/diod/blob/master/protocol.md
//
// Every message on the wire is size[4] type[1] tag[2] body, with all
// integers little-endian. Strings are a 2-byte length followed by that
// many bytes, with no NUL terminator. A qid is 13 bytes: type[1]
// version[4] path[8].
//
// The package keeps messages as a decoded Fcall alongside the framed
// packet bytes. Constructors (NewRlerror, NewRversion, ...) build the
// packet immediately; Deserialize validates and decodes a packet
// received from the network.
package proto

import "fmt"

// 9P2000.L message type codes. The lerror/statfs range and everything
// from Tlopen up is specific to the .L dialect; the 100s range is the
// framing set shared with legacy 9P2000. Legacy operations that .L
// replaces (Topen, Tcreate, Tstat, Twstat, Rerror) are not recognized
// by this package.
const (
	Tlerror      = 6 // illegal; lerror has no T form
	Rlerror      = 7
	Tstatfs      = 8
	Rstatfs      = 9
	Tlopen       = 12
	Rlopen       = 13
	Tlcreate     = 14
	Rlcreate     = 15
	Tsymlink     = 16
	Rsymlink     = 17
	Tmknod       = 18
	Rmknod       = 19
	Trename      = 20
	Rrename      = 21
	Treadlink    = 22
	Rreadlink    = 23
	Tgetattr     = 24
	Rgetattr     = 25
	Tsetattr     = 26
	Rsetattr     = 27
	Txattrwalk   = 30
	Rxattrwalk   = 31
	Txattrcreate = 32
	Rxattrcreate = 33
	Treaddir     = 40
	Rreaddir     = 41
	Tfsync       = 50
	Rfsync       = 51
	Tlock        = 52
	Rlock        = 53
	Tgetlock     = 54
	Rgetlock     = 55
	Tlink        = 70
	Rlink        = 71
	Tmkdir       = 72
	Rmkdir       = 73
	Trenameat    = 74
	Rrenameat    = 75
	Tunlinkat    = 76
	Runlinkat    = 77
	Tversion     = 100
	Rversion     = 101
	Tauth        = 102
	Rauth        = 103
	Tattach      = 104
	Rattach      = 105
	Tflush       = 108
	Rflush       = 109
	Twalk        = 110
	Rwalk        = 111
	Tread        = 116
	Rread        = 117
	Twrite       = 118
	Rwrite       = 119
	Tclunk       = 120
	Rclunk       = 121
	Tremove      = 122
	Rremove      = 123
)

// Sentinel values.
const (
	NoTag    uint16 = 0xffff     // tag of Tversion
	NoFid    uint32 = 0xffffffff // "no fid supplied" (e.g. afid on unauthenticated attach)
	NoNuname uint32 = 0xffffffff // "uname supplied by name, not by uid"
)

// MaxWElem is the maximum number of path components in a single Twalk
// request, and of qids in an Rwalk response.
const MaxWElem = 16

// Qid type bits.
const (
	QTDIR     uint8 = 0x80
	QTAPPEND  uint8 = 0x40
	QTEXCL    uint8 = 0x20
	QTAUTH    uint8 = 0x08
	QTTMP     uint8 = 0x04
	QTSYMLINK uint8 = 0x02
	QTFILE    uint8 = 0x00
)

// Tsetattr valid mask bits. The *Set bits distinguish "set to this
// literal time" from "set to now".
const (
	SetattrMode     uint32 = 1 << 0
	SetattrUID      uint32 = 1 << 1
	SetattrGID      uint32 = 1 << 2
	SetattrSize     uint32 = 1 << 3
	SetattrAtime    uint32 = 1 << 4
	SetattrMtime    uint32 = 1 << 5
	SetattrCtime    uint32 = 1 << 6
	SetattrAtimeSet uint32 = 1 << 7
	SetattrMtimeSet uint32 = 1 << 8
)

// Tgetattr request mask / Rgetattr valid bits, mirroring the statx
// layout used by the kernel client.
const (
	GetattrMode        uint64 = 1 << 0
	GetattrNlink       uint64 = 1 << 1
	GetattrUID         uint64 = 1 << 2
	GetattrGID         uint64 = 1 << 3
	GetattrRdev        uint64 = 1 << 4
	GetattrAtime       uint64 = 1 << 5
	GetattrMtime       uint64 = 1 << 6
	GetattrCtime       uint64 = 1 << 7
	GetattrIno         uint64 = 1 << 8
	GetattrSize        uint64 = 1 << 9
	GetattrBlocks      uint64 = 1 << 10
	GetattrBtime       uint64 = 1 << 11
	GetattrGen         uint64 = 1 << 12
	GetattrDataVersion uint64 = 1 << 13

	GetattrBasic uint64 = 0x000007ff // everything up to and including Blocks
	GetattrAll   uint64 = 0x00003fff
)

// Advisory lock types, status codes and flags (Tlock/Tgetlock).
const (
	LockTypeRdlck uint8 = 0
	LockTypeWrlck uint8 = 1
	LockTypeUnlck uint8 = 2

	LockSuccess uint8 = 0
	LockBlocked uint8 = 1
	LockError   uint8 = 2
	LockGrace   uint8 = 3

	LockFlagBlock uint32 = 1
)

// Open flag bits carried in Tlopen/Tlcreate. These are the Linux
// open(2) bit positions; servers on other hosts must remap.
const (
	OlRdonly    uint32 = 0x00000000
	OlWronly    uint32 = 0x00000001
	OlRdwr      uint32 = 0x00000002
	OlAccmode   uint32 = 0x00000003
	OlCreate    uint32 = 0x00000040
	OlExcl      uint32 = 0x00000080
	OlNoctty    uint32 = 0x00000100
	OlTrunc     uint32 = 0x00000200
	OlAppend    uint32 = 0x00000400
	OlNonblock  uint32 = 0x00000800
	OlDsync     uint32 = 0x00001000
	OlFasync    uint32 = 0x00002000
	OlDirect    uint32 = 0x00004000
	OlLargefile uint32 = 0x00008000
	OlDirectory uint32 = 0x00010000
	OlNofollow  uint32 = 0x00020000
	OlNoatime   uint32 = 0x00040000
	OlCloexec   uint32 = 0x00080000
	OlSync      uint32 = 0x00100000
)

// AtRemovedir selects rmdir over unlink in Tunlinkat, mirroring the
// host AT_REMOVEDIR constant.
const AtRemovedir uint32 = 0x200

// A Qid is the server's unique identification for a file: two fids
// with equal qids refer to the same file.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// QidLen is the encoded length of a qid in bytes.
const QidLen = 13

func (q Qid) String() string {
	return fmt.Sprintf("(%x %d %#x)", q.Type, q.Version, q.Path)
}

// A Dirent is one entry in an Rreaddir payload. Offset is the
// server-side cookie at which a Treaddir resumes the listing after
// this entry.
type Dirent struct {
	Qid    Qid
	Offset uint64
	Type   uint8
	Name   string
}

// direntFixedLen is the encoded length of a Dirent excluding the name
// bytes: qid[13] offset[8] type[1] namelen[2].
const direntFixedLen = QidLen + 8 + 1 + 2

// headerLen is size[4] type[1] tag[2].
const headerLen = 7

var typeNames = map[uint8]string{
	Rlerror: "Rlerror", Tstatfs: "Tstatfs", Rstatfs: "Rstatfs",
	Tlopen: "Tlopen", Rlopen: "Rlopen", Tlcreate: "Tlcreate",
	Rlcreate: "Rlcreate", Tsymlink: "Tsymlink", Rsymlink: "Rsymlink",
	Tmknod: "Tmknod", Rmknod: "Rmknod", Trename: "Trename",
	Rrename: "Rrename", Treadlink: "Treadlink", Rreadlink: "Rreadlink",
	Tgetattr: "Tgetattr", Rgetattr: "Rgetattr", Tsetattr: "Tsetattr",
	Rsetattr: "Rsetattr", Txattrwalk: "Txattrwalk", Rxattrwalk: "Rxattrwalk",
	Txattrcreate: "Txattrcreate", Rxattrcreate: "Rxattrcreate",
	Treaddir: "Treaddir", Rreaddir: "Rreaddir", Tfsync: "Tfsync",
	Rfsync: "Rfsync", Tlock: "Tlock", Rlock: "Rlock", Tgetlock: "Tgetlock",
	Rgetlock: "Rgetlock", Tlink: "Tlink", Rlink: "Rlink", Tmkdir: "Tmkdir",
	Rmkdir: "Rmkdir", Trenameat: "Trenameat", Rrenameat: "Rrenameat",
	Tunlinkat: "Tunlinkat", Runlinkat: "Runlinkat", Tversion: "Tversion",
	Rversion: "Rversion", Tauth: "Tauth", Rauth: "Rauth", Tattach: "Tattach",
	Rattach: "Rattach", Tflush: "Tflush", Rflush: "Rflush", Twalk: "Twalk",
	Rwalk: "Rwalk", Tread: "Tread", Rread: "Rread", Twrite: "Twrite",
	Rwrite: "Rwrite", Tclunk: "Tclunk", Rclunk: "Rclunk", Tremove: "Tremove",
	Rremove: "Rremove",
}

// TypeName returns the protocol name of a message type code, or a
// hex rendering for unknown codes.
func TypeName(t uint8) string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type%#x", t)
}

// IsTMessage reports whether t is a request (client-originated) code.
func IsTMessage(t uint8) bool {
	_, ok := typeNames[t]
	return ok && t%2 == 0
}
