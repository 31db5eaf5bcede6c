package proto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

var sampleQid = Qid{Type: QTDIR, Version: 3, Path: 0xdeadbeef}

func TestRoundTrip(t *testing.T) {
	msgs := []*Fcall{
		NewTversion(8192, "9P2000.L"),
		NewRversion(8192, "9P2000.L"),
		NewTauth(1, "alice", "/tmp", 1000),
		NewRauth(Qid{Type: QTAUTH, Path: 1}),
		NewTattach(0, NoFid, "alice", "/tmp", 1000),
		NewRattach(sampleQid),
		NewRlerror(22),
		NewTflush(7),
		NewRflush(),
		NewTwalk(0, 1, []string{"usr", "share", "doc"}),
		NewRwalk([]Qid{sampleQid, {Path: 9}}),
		NewTread(1, 4096, 8192),
		NewRread([]byte("hello, world")),
		NewTwrite(1, 0, []byte("payload")),
		NewRwrite(7),
		NewTclunk(1),
		NewRclunk(),
		NewTremove(1),
		NewRremove(),
		NewTstatfs(1),
		NewRstatfs(0x01021997, 4096, 100, 50, 40, 1000, 500, 0xabcd, 255),
		NewTlopen(1, OlRdwr|OlTrunc),
		NewRlopen(sampleQid, 0),
		NewTlcreate(1, "file", OlRdwr|OlCreate, 0o644, 100),
		NewRlcreate(Qid{Path: 77}, 0),
		NewTsymlink(1, "link", "../target", 100),
		NewRsymlink(Qid{Type: QTSYMLINK, Path: 5}),
		NewTmknod(1, "dev", 0o20644, 4, 7, 0),
		NewRmknod(Qid{Path: 6}),
		NewTrename(1, 2, "newname"),
		NewRrename(),
		NewTreadlink(1),
		NewRreadlink("/etc/passwd"),
		NewTgetattr(1, GetattrBasic),
		NewRgetattr(Attr{
			Valid: GetattrBasic, Qid: sampleQid, Mode: 0o40755,
			UID: 1000, GID: 1000, Nlink: 2, Size: 4096, Blksize: 4096,
			Blocks: 8, AtimeSec: 1000000000, MtimeSec: 1000000001,
			CtimeSec: 1000000002,
		}),
		NewTsetattr(1, SetattrSize|SetattrMtime, 0, 0, 0, 12, 0, 0, 5, 6),
		NewRsetattr(),
		NewTxattrwalk(1, 2, "user.name"),
		NewRxattrwalk(64),
		NewTxattrcreate(1, "user.name", 12, 0),
		NewRxattrcreate(),
		NewTreaddir(1, 0, 8192),
		NewTfsync(1, 1),
		NewRfsync(),
		NewTlock(1, LockTypeWrlck, LockFlagBlock, 0, 0, 1234, "node1"),
		NewRlock(LockSuccess),
		NewTgetlock(1, LockTypeRdlck, 0, 100, 1234, "node1"),
		NewRgetlock(LockTypeUnlck, 0, 100, 1234, "node1"),
		NewTlink(2, 1, "hardlink"),
		NewRlink(),
		NewTmkdir(1, "subdir", 0o755, 100),
		NewRmkdir(sampleQid),
		NewTrenameat(1, "old", 2, "new"),
		NewRrenameat(),
		NewTunlinkat(1, "victim", AtRemovedir),
		NewRunlinkat(),
	}
	for _, want := range msgs {
		want.SetTag(42)
		got, err := Deserialize(want.Pkt)
		require.NoError(t, err, "deserialize %s", want)
		require.Equal(t, want, got, "round-trip %s", want)
	}
}

func TestRreadTrim(t *testing.T) {
	fc := AllocRread(1024)
	n := copy(fc.Data, "12 bytes long")
	fc.SetReadCount(uint32(n))

	require.Equal(t, uint32(len(fc.Pkt)), fc.Size)
	got, err := Deserialize(fc.Pkt)
	require.NoError(t, err)
	require.Equal(t, uint32(n), got.Count)
	require.Equal(t, []byte("12 bytes long"), got.Data)
}

func TestRreaddirStream(t *testing.T) {
	fc := AllocRreaddir(512)
	entries := []Dirent{
		{Qid: Qid{Type: QTDIR, Path: 1}, Offset: 1, Type: 4, Name: "."},
		{Qid: Qid{Type: QTDIR, Path: 2}, Offset: 2, Type: 4, Name: ".."},
		{Qid: Qid{Path: 3}, Offset: 3, Type: 8, Name: "hello"},
	}
	n := 0
	for _, d := range entries {
		m := SerializeDirent(d.Qid, d.Offset, d.Type, d.Name, fc.Data[n:])
		require.NotZero(t, m)
		n += m
	}
	fc.FinalizeReaddir(uint32(n))

	got, err := Deserialize(fc.Pkt)
	require.NoError(t, err)

	buf := got.Data
	for _, want := range entries {
		d, m := DeserializeDirent(buf)
		require.NotZero(t, m)
		require.Equal(t, want, d)
		buf = buf[m:]
	}
	require.Empty(t, buf)
}

func TestDirentNoFit(t *testing.T) {
	buf := make([]byte, direntFixedLen+2)
	require.Zero(t, SerializeDirent(Qid{}, 0, 0, "toolong", buf))
	require.NotZero(t, SerializeDirent(Qid{}, 0, 0, "ab", buf))
}

func TestDeserializeRejects(t *testing.T) {
	short := []byte{1, 0, 0}
	if _, err := Deserialize(short); err == nil {
		t.Error("short message accepted")
	}

	// size field disagrees with the actual length
	fc := NewRclunk()
	fc.SetTag(1)
	binary.LittleEndian.PutUint32(fc.Pkt[0:4], 99)
	if _, err := Deserialize(fc.Pkt); err != errSizeMismatch {
		t.Errorf("bad size field: got %v", err)
	}

	// legacy 9P2000 codes are not part of the .L set
	for _, typ := range []uint8{106, 107, 112, 113, 114, 115, 124, 125, 126, 127, Tlerror} {
		pkt := []byte{7, 0, 0, 0, typ, 0, 0}
		if _, err := Deserialize(pkt); err != errLegacyMsgType {
			t.Errorf("type %d: got %v, want legacy rejection", typ, err)
		}
	}

	// unknown code
	pkt := []byte{7, 0, 0, 0, 200, 0, 0}
	if _, err := Deserialize(pkt); err != errInvalidMsgType {
		t.Errorf("unknown type: got %v", err)
	}
}

func TestDeserializeWalkLimits(t *testing.T) {
	names := make([]string, MaxWElem)
	for i := range names {
		names[i] = "d"
	}
	ok := NewTwalk(0, 1, names)
	ok.SetTag(1)
	if _, err := Deserialize(ok.Pkt); err != nil {
		t.Fatalf("walk of %d names rejected: %v", MaxWElem, err)
	}

	// forge nwname = 17
	bad := NewTwalk(0, 1, names)
	bad.SetTag(1)
	binary.LittleEndian.PutUint16(bad.Pkt[headerLen+8:], MaxWElem+1)
	if _, err := Deserialize(bad.Pkt); err != errMaxWElem {
		t.Errorf("oversized walk: got %v", err)
	}
}

func TestDeserializeStringOverrun(t *testing.T) {
	fc := NewTversion(8192, "9P2000.L")
	fc.SetTag(NoTag)
	// stretch the version string length past the end of the frame
	binary.LittleEndian.PutUint16(fc.Pkt[headerLen+4:], 500)
	if _, err := Deserialize(fc.Pkt); err == nil {
		t.Error("string overrun accepted")
	}
}

func TestTrailingGarbageRejected(t *testing.T) {
	fc := NewTclunk(1)
	fc.SetTag(1)
	pkt := append(fc.Pkt, 0xff, 0xff)
	binary.LittleEndian.PutUint32(pkt[0:4], uint32(len(pkt)))
	if _, err := Deserialize(pkt); err != errUnderSize {
		t.Errorf("trailing bytes: got %v", err)
	}
}
