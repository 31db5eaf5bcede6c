package ninep_test

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/hostfs"
	"aqwari.net/net/ninep/proto"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testClient drives a server over an in-process pipe, reading replies
// into a channel so out-of-order responses can be awaited by tag.
type testClient struct {
	t       *testing.T
	c       net.Conn
	replies chan *proto.Fcall
}

func dial(t *testing.T, srv *ninep.Server) *testClient {
	t.Helper()
	client, server := net.Pipe()
	srv.NewConn(ninep.NewTransport(server), "testhost")
	tc := &testClient{t: t, c: client, replies: make(chan *proto.Fcall, 64)}
	go tc.readLoop()
	t.Cleanup(func() { client.Close() })
	return tc
}

func (tc *testClient) readLoop() {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(tc.c, hdr[:]); err != nil {
			close(tc.replies)
			return
		}
		size := binary.LittleEndian.Uint32(hdr[:])
		pkt := make([]byte, size)
		copy(pkt, hdr[:])
		if _, err := io.ReadFull(tc.c, pkt[4:]); err != nil {
			close(tc.replies)
			return
		}
		fc, err := proto.Deserialize(pkt)
		if err != nil {
			close(tc.replies)
			return
		}
		tc.replies <- fc
	}
}

func (tc *testClient) send(fc *proto.Fcall, tag uint16) {
	tc.t.Helper()
	fc.SetTag(tag)
	if _, err := tc.c.Write(fc.Pkt); err != nil {
		tc.t.Fatalf("send %s: %v", fc, err)
	}
}

// recv waits for the next reply, in arrival order.
func (tc *testClient) recv() *proto.Fcall {
	tc.t.Helper()
	select {
	case fc, ok := <-tc.replies:
		if !ok {
			tc.t.Fatal("connection closed while waiting for reply")
		}
		return fc
	case <-time.After(5 * time.Second):
		tc.t.Fatal("timed out waiting for reply")
	}
	return nil
}

// rpc sends and awaits the matching reply, failing on Rlerror.
func (tc *testClient) rpc(fc *proto.Fcall, tag uint16) *proto.Fcall {
	tc.t.Helper()
	tc.send(fc, tag)
	rc := tc.recv()
	if rc.Tag != tag {
		tc.t.Fatalf("got reply tag %d, want %d (%s)", rc.Tag, tag, rc)
	}
	if rc.Type == proto.Rlerror {
		tc.t.Fatalf("%s failed: errno %d", proto.TypeName(fc.Type), rc.Ecode)
	}
	return rc
}

// rpcErr sends and expects Rlerror with the given errno.
func (tc *testClient) rpcErr(fc *proto.Fcall, tag uint16, want unix.Errno) {
	tc.t.Helper()
	tc.send(fc, tag)
	rc := tc.recv()
	if rc.Type != proto.Rlerror {
		tc.t.Fatalf("got %s, want Rlerror", rc)
	}
	if rc.Ecode != uint32(want) {
		tc.t.Fatalf("got errno %d, want %d", rc.Ecode, want)
	}
}

func newTestServer(t *testing.T, exports ...hostfs.Export) *ninep.Server {
	t.Helper()
	srv := &ninep.Server{
		NumWorkers: 1,
		Flags:      ninep.NoUserDB,
		Log:        quietLogger(),
	}
	if len(exports) > 0 {
		_, err := hostfs.New(srv, hostfs.Config{Exports: exports}, quietLogger())
		require.NoError(t, err)
	}
	return srv
}

func TestVersionNegotiation(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	rc := tc.rpc(proto.NewTversion(1<<30, "9P2000.L"), proto.NoTag)
	require.Equal(t, "9P2000.L", rc.Version)
	require.Equal(t, uint32(proto.DefaultMsize), rc.Msize, "msize must shrink to the server limit")

	rc = tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	require.Equal(t, uint32(65536), rc.Msize, "msize must follow the client down")
}

func TestUnknownVersion(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	rc := tc.rpc(proto.NewTversion(65536, "9P2000.u"), proto.NoTag)
	require.Equal(t, "unknown", rc.Version)
	require.Equal(t, uint32(65536), rc.Msize)
}

func TestLegacyMessageRejected(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	// Topen (legacy 112): size[4] type tag[2] fid[4] mode[1]
	pkt := make([]byte, 12)
	binary.LittleEndian.PutUint32(pkt, 12)
	pkt[4] = 112
	binary.LittleEndian.PutUint16(pkt[5:], 9)
	_, err := tc.c.Write(pkt)
	require.NoError(t, err)

	rc := tc.recv()
	require.Equal(t, uint8(proto.Rlerror), rc.Type)
	require.Equal(t, uint32(unix.EPROTO), rc.Ecode)
	require.Equal(t, uint16(9), rc.Tag)

	// and the connection is still alive
	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
}

func TestAttachStatRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello"), []byte("hello, 9P world"), 0o644))

	srv := newTestServer(t, hostfs.Export{Path: dir})
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	rc := tc.rpc(proto.NewTattach(0, proto.NoFid, "alice", dir, 1000), 1)
	require.NotZero(t, rc.Qid.Type&proto.QTDIR, "root qid must be a directory")

	rc = tc.rpc(proto.NewTwalk(0, 1, []string{"hello"}), 2)
	require.Len(t, rc.Wqid, 1)
	require.Zero(t, rc.Wqid[0].Type&proto.QTDIR)

	tc.rpc(proto.NewTlopen(1, 0), 3)
	rc = tc.rpc(proto.NewTread(1, 0, 12), 4)
	require.Equal(t, []byte("hello, 9P wo"), rc.Data)

	rc = tc.rpc(proto.NewTgetattr(1, proto.GetattrBasic), 5)
	require.Equal(t, uint64(15), rc.Length)

	tc.rpc(proto.NewTclunk(1), 6)
	tc.rpc(proto.NewTclunk(0), 7)
}

func TestCreateWriteSetattrReaddir(t *testing.T) {
	dir := t.TempDir()
	srv := newTestServer(t, hostfs.Export{Path: dir})
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "alice", dir, 1000), 1)

	// clone the root before lcreate retargets fid 1
	tc.rpc(proto.NewTwalk(0, 1, nil), 2)
	rc := tc.rpc(proto.NewTlcreate(1, "f", proto.OlRdwr|proto.OlTrunc, 0o644, 0), 3)
	require.Zero(t, rc.Qid.Type&proto.QTDIR)

	rc = tc.rpc(proto.NewTwrite(1, 0, []byte("hi")), 4)
	require.Equal(t, uint32(2), rc.Count)

	tc.rpc(proto.NewTsetattr(1, proto.SetattrSize, 0, 0, 0, 1, 0, 0, 0, 0), 5)
	st, err := os.Stat(filepath.Join(dir, "f"))
	require.NoError(t, err)
	require.Equal(t, int64(1), st.Size())

	tc.rpc(proto.NewTwalk(0, 2, nil), 6)
	tc.rpc(proto.NewTlopen(2, uint32(proto.OlDirectory)), 7)
	rc = tc.rpc(proto.NewTreaddir(2, 0, 8192), 8)

	found := false
	buf := rc.Data
	for len(buf) > 0 {
		d, n := proto.DeserializeDirent(buf)
		require.NotZero(t, n, "corrupt dirent stream")
		if d.Name == "f" {
			found = true
			require.Equal(t, uint8(unix.DT_REG), d.Type)
		}
		buf = buf[n:]
	}
	require.True(t, found, "created file missing from readdir")
}

func TestWalkPartialSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	srv := newTestServer(t, hostfs.Export{Path: dir})
	tc := dial(t, srv)
	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "alice", dir, 1000), 1)

	// first step fails: zero qids means Rlerror
	tc.rpcErr(proto.NewTwalk(0, 1, []string{"missing"}), 2, unix.ENOENT)

	// second step fails: partial Rwalk, newfid not installed
	rc := tc.rpc(proto.NewTwalk(0, 1, []string{"a", "missing"}), 3)
	require.Len(t, rc.Wqid, 1)
	tc.rpcErr(proto.NewTclunk(1), 4, unix.EIO)

	// the original fid still works and is still at the root
	rc = tc.rpc(proto.NewTwalk(0, 1, []string{"a", "b"}), 5)
	require.Len(t, rc.Wqid, 2)
}

func TestFlushPendingRequest(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "", "ctl", 0), 1)
	tc.rpc(proto.NewTwalk(0, 1, []string{"zero100"}), 2)
	tc.rpc(proto.NewTlopen(1, 0), 3)

	// tag 5 occupies the single worker for ~100ms; tag 6 queues
	// behind it and is flushed while still pending.
	tc.send(proto.NewTread(1, 0, 64), 5)
	time.Sleep(10 * time.Millisecond)
	tc.send(proto.NewTread(1, 0, 64), 6)
	time.Sleep(10 * time.Millisecond)
	tc.send(proto.NewTflush(6), 7)

	rc := tc.recv()
	require.Equal(t, uint8(proto.Rflush), rc.Type, "flush of a pending request answers immediately")
	require.Equal(t, uint16(7), rc.Tag)

	rc = tc.recv()
	require.Equal(t, uint16(5), rc.Tag, "the running request still completes")
	require.Equal(t, uint8(proto.Rread), rc.Type)

	// no reply for tag 6 may ever arrive
	select {
	case rc := <-tc.replies:
		t.Fatalf("flushed request got reply %s", rc)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFlushInProgressRequest(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "", "ctl", 0), 1)
	tc.rpc(proto.NewTwalk(0, 1, []string{"zero100"}), 2)
	tc.rpc(proto.NewTlopen(1, 0), 3)

	tc.send(proto.NewTread(1, 0, 64), 5)
	time.Sleep(30 * time.Millisecond) // let the worker claim it
	tc.send(proto.NewTflush(5), 6)

	rc := tc.recv()
	require.Equal(t, uint16(5), rc.Tag, "original reply precedes Rflush")
	require.Equal(t, uint8(proto.Rread), rc.Type)

	rc = tc.recv()
	require.Equal(t, uint8(proto.Rflush), rc.Type)
	require.Equal(t, uint16(6), rc.Tag)
}

func TestFlushUnknownTag(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	rc := tc.rpc(proto.NewTflush(99), 2)
	require.Equal(t, uint8(proto.Rflush), rc.Type)
}

func TestCtlTree(t *testing.T) {
	srv := newTestServer(t)
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	rc := tc.rpc(proto.NewTattach(0, proto.NoFid, "", "ctl", 0), 1)
	require.NotZero(t, rc.Qid.Type&proto.QTDIR)
	require.NotZero(t, rc.Qid.Type&proto.QTTMP, "synthetic qids carry the TMP bit")

	tc.rpc(proto.NewTwalk(0, 1, []string{"version"}), 2)
	tc.rpc(proto.NewTlopen(1, 0), 3)
	rc = tc.rpc(proto.NewTread(1, 0, 512), 4)
	require.Equal(t, ninep.Version+"\n", string(rc.Data))
	tc.rpc(proto.NewTclunk(1), 5)

	// directory listing carries the default files
	tc.rpc(proto.NewTwalk(0, 2, nil), 6)
	tc.rpc(proto.NewTlopen(2, 0), 7)
	rc = tc.rpc(proto.NewTreaddir(2, 0, 8192), 8)
	names := map[string]bool{}
	buf := rc.Data
	for len(buf) > 0 {
		d, n := proto.DeserializeDirent(buf)
		require.NotZero(t, n)
		names[d.Name] = true
		buf = buf[n:]
	}
	for _, want := range []string{"version", "date", "connections", "tpools", "usercache", "zero", "null", "zero100", "null100"} {
		require.True(t, names[want], "ctl listing missing %q", want)
	}

	// reads of zero return zeroes; case matters on lookup
	tc.rpc(proto.NewTwalk(0, 3, []string{"zero"}), 9)
	tc.rpc(proto.NewTlopen(3, 0), 10)
	rc = tc.rpc(proto.NewTread(3, 0, 16), 11)
	require.Equal(t, make([]byte, 16), rc.Data)

	tc.rpcErr(proto.NewTwalk(0, 4, []string{"Zero"}), 12, unix.ENOENT)
}

func TestShareFD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	srv := newTestServer(t, hostfs.Export{Path: dir, Flags: hostfs.ExportShareFD})
	tc := dial(t, srv)

	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "", dir, 1000), 1)

	tc.rpc(proto.NewTwalk(0, 1, []string{"shared"}), 2)
	tc.rpc(proto.NewTwalk(0, 2, []string{"shared"}), 3)
	tc.rpc(proto.NewTlopen(1, 0), 4)
	tc.rpc(proto.NewTlopen(2, 0), 5)

	// the ctl files table must show one unique ioctx with two sharers
	tc.rpc(proto.NewTattach(10, proto.NoFid, "", "ctl", 1000), 6)
	tc.rpc(proto.NewTwalk(10, 11, []string{"files"}), 7)
	tc.rpc(proto.NewTlopen(11, 0), 8)
	rc := tc.rpc(proto.NewTread(11, 0, 8192), 9)

	var line string
	for _, l := range strings.Split(string(rc.Data), "\n") {
		if strings.HasSuffix(l, path) {
			line = l
			break
		}
	}
	require.NotEmpty(t, line, "shared file missing from ctl files table:\n%s", rc.Data)
	fields := strings.Fields(line)
	require.GreaterOrEqual(t, len(fields), 4)
	require.Equal(t, "2", fields[1], "shared count")
	require.Equal(t, "1", fields[2], "unique count")

	// a read-write open gets its own fd; reopen the ctl file for a
	// fresh snapshot
	tc.rpc(proto.NewTwalk(0, 3, []string{"shared"}), 10)
	tc.rpc(proto.NewTlopen(3, proto.OlRdwr), 11)
	tc.rpc(proto.NewTwalk(10, 12, []string{"files"}), 12)
	tc.rpc(proto.NewTlopen(12, 0), 13)
	rc = tc.rpc(proto.NewTread(12, 0, 8192), 14)
	for _, l := range strings.Split(string(rc.Data), "\n") {
		if strings.HasSuffix(l, path) {
			require.Equal(t, "2", strings.Fields(l)[2], "rw open must not share")
		}
	}
}

func TestExportAuthorization(t *testing.T) {
	scratch := t.TempDir()
	home := t.TempDir()
	secret := t.TempDir()

	srv := newTestServer(t,
		hostfs.Export{Path: scratch, Hosts: "a[0-3]"},
		hostfs.Export{Path: home},
		hostfs.Export{Path: secret, Flags: hostfs.ExportSuppress},
	)

	// our client id is "testhost": not in a[0-3]
	tc := dial(t, srv)
	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpcErr(proto.NewTattach(0, proto.NoFid, "", scratch, 1000), 1, unix.EPERM)
	tc.rpc(proto.NewTattach(1, proto.NoFid, "", home, 1000), 2)
	tc.rpcErr(proto.NewTattach(2, proto.NoFid, "", secret, 1000), 3, unix.EPERM)
	tc.rpcErr(proto.NewTattach(3, proto.NoFid, "", "/not/exported", 1000), 4, unix.EPERM)
}

func TestReadOnlyExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))

	srv := newTestServer(t, hostfs.Export{Path: dir, Flags: hostfs.ExportRO})
	tc := dial(t, srv)
	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "", dir, 1000), 1)

	tc.rpcErr(proto.NewTlcreate(0, "new", proto.OlRdwr|proto.OlCreate, 0o644, 0), 2, unix.EROFS)
	tc.rpc(proto.NewTwalk(0, 1, []string{"f"}), 3)
	tc.rpcErr(proto.NewTlopen(1, proto.OlRdwr), 4, unix.EROFS)
	tc.rpc(proto.NewTlopen(1, 0), 5)
}

func TestXattrRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	if err := unix.Lsetxattr(path, "user.probe", []byte("1"), 0); err != nil {
		t.Skipf("filesystem does not support user xattrs: %v", err)
	}

	srv := newTestServer(t, hostfs.Export{Path: dir})
	tc := dial(t, srv)
	tc.rpc(proto.NewTversion(65536, "9P2000.L"), proto.NoTag)
	tc.rpc(proto.NewTattach(0, proto.NoFid, "", dir, 1000), 1)
	tc.rpc(proto.NewTwalk(0, 1, []string{"f"}), 2)

	// write an attribute through an xattr fid, committed at clunk
	tc.rpc(proto.NewTwalk(1, 2, nil), 3)
	tc.rpc(proto.NewTxattrcreate(2, "user.color", 4, 0), 4)
	rc := tc.rpc(proto.NewTwrite(2, 0, []byte("blue")), 5)
	require.Equal(t, uint32(4), rc.Count)
	tc.rpc(proto.NewTclunk(2), 6)

	got := make([]byte, 16)
	n, err := unix.Lgetxattr(path, "user.color", got)
	require.NoError(t, err)
	require.Equal(t, "blue", string(got[:n]))

	// read it back through Txattrwalk
	rc = tc.rpc(proto.NewTxattrwalk(1, 3, "user.color"), 7)
	require.Equal(t, uint64(4), rc.Length)
	rc = tc.rpc(proto.NewTread(3, 0, 64), 8)
	require.Equal(t, "blue", string(rc.Data))
	tc.rpc(proto.NewTclunk(3), 9)
}

func TestUserCacheSynthesis(t *testing.T) {
	srv := newTestServer(t)
	u, err := srv.UserByUID(4321)
	require.NoError(t, err)
	require.Equal(t, uint32(4321), u.GID, "no-userdb mode mirrors uid into gid")
	require.Equal(t, []uint32{4321}, u.SG)

	again, err := srv.UserByUID(4321)
	require.NoError(t, err)
	require.Same(t, u, again, "second lookup must hit the cache")

	srv.FlushUserCache()
	third, err := srv.UserByUID(4321)
	require.NoError(t, err)
	require.NotSame(t, u, third, "flush must evict")
}
