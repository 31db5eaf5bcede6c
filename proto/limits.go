package proto

// Validating messages becomes more complicated if we allow
// arbitrarily-long values for the non-fixed fields in a message, so we
// set limits on how big any of them can be.

// MaxVersionLen is the maximum length of the protocol version string
// in bytes.
const MaxVersionLen = 20

// MaxFilenameLen is the maximum length of a single path element in
// bytes.
const MaxFilenameLen = 512

// MaxUidLen is the maximum length (in bytes) of a user name.
const MaxUidLen = 256

// MaxAttachLen is the maximum length (in bytes) of the aname field of
// Tattach and Tauth requests.
const MaxAttachLen = 1024

// MaxOffset is the maximum value of the offset field in Tread and
// Twrite requests.
const MaxOffset = 1<<63 - 1

// DefaultMsize is the maximum message size a server offers in
// Rversion before the client negotiates it down.
const DefaultMsize = 1024 * 1024

// MinMsize is the smallest msize a connection will operate with; it
// must leave room for a maximal Twalk.
const MinMsize = MaxWElem*(MaxFilenameLen+2) + 13 + 2

// minMsgSize is the smallest possible message: an empty reply such as
// Rclunk, consisting of the 7-byte header alone.
const minMsgSize = headerLen

// Minimum size of each message type, including the 7-byte header.
// Variable-length messages (those carrying strings, walks, or data)
// may be larger.
var minSizeLUT = map[uint8]uint32{
	Rlerror:      7 + 4,
	Tstatfs:      7 + 4,
	Rstatfs:      7 + 4 + 4 + 8*6 + 4,
	Tlopen:       7 + 4 + 4,
	Rlopen:       7 + QidLen + 4,
	Tlcreate:     7 + 4 + 2 + 4 + 4 + 4,
	Rlcreate:     7 + QidLen + 4,
	Tsymlink:     7 + 4 + 2 + 2 + 4,
	Rsymlink:     7 + QidLen,
	Tmknod:       7 + 4 + 2 + 4 + 4 + 4 + 4,
	Rmknod:       7 + QidLen,
	Trename:      7 + 4 + 4 + 2,
	Rrename:      7,
	Treadlink:    7 + 4,
	Rreadlink:    7 + 2,
	Tgetattr:     7 + 4 + 8,
	Rgetattr:     7 + 8 + QidLen + 4*3 + 8*5 + 8*8 + 8*2,
	Tsetattr:     7 + 4 + 4 + 4 + 4 + 4 + 8 + 8*4,
	Rsetattr:     7,
	Txattrwalk:   7 + 4 + 4 + 2,
	Rxattrwalk:   7 + 8,
	Txattrcreate: 7 + 4 + 2 + 8 + 4,
	Rxattrcreate: 7,
	Treaddir:     7 + 4 + 8 + 4,
	Rreaddir:     7 + 4,
	Tfsync:       7 + 4 + 4,
	Rfsync:       7,
	Tlock:        7 + 4 + 1 + 4 + 8 + 8 + 4 + 2,
	Rlock:        7 + 1,
	Tgetlock:     7 + 4 + 1 + 8 + 8 + 4 + 2,
	Rgetlock:     7 + 1 + 8 + 8 + 4 + 2,
	Tlink:        7 + 4 + 4 + 2,
	Rlink:        7,
	Tmkdir:       7 + 4 + 2 + 4 + 4,
	Rmkdir:       7 + QidLen,
	Trenameat:    7 + 4 + 2 + 4 + 2,
	Rrenameat:    7,
	Tunlinkat:    7 + 4 + 2 + 4,
	Runlinkat:    7,
	Tversion:     7 + 4 + 2,
	Rversion:     7 + 4 + 2,
	Tauth:        7 + 4 + 2 + 2 + 4,
	Rauth:        7 + QidLen,
	Tattach:      7 + 4 + 4 + 2 + 2 + 4,
	Rattach:      7 + QidLen,
	Tflush:       7 + 2,
	Rflush:       7,
	Twalk:        7 + 4 + 4 + 2,
	Rwalk:        7 + 2,
	Tread:        7 + 4 + 8 + 4,
	Rread:        7 + 4,
	Twrite:       7 + 4 + 8 + 4,
	Rwrite:       7 + 4,
	Tclunk:       7 + 4,
	Rclunk:       7,
	Tremove:      7 + 4,
	Rremove:      7,
}
