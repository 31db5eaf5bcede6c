package hostfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/proto"
)

func testFS(t *testing.T, cfg Config) *FS {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := &ninep.Server{Flags: ninep.NoUserDB, Log: log}
	fs, err := New(srv, cfg, log)
	require.NoError(t, err)
	return fs
}

func TestMatchExports(t *testing.T) {
	fs := testFS(t, Config{Exports: []Export{
		{Path: "/scratch", Hosts: "a[0-3]"},
		{Path: "/home"},
		{Path: "/secret", Flags: ExportSuppress},
		{Path: "/staff", Users: "alice,bob"},
	}})
	alice := &ninep.User{Uname: "alice", UID: 1000}
	mallory := &ninep.User{Uname: "mallory", UID: 1666}

	tests := []struct {
		aname, host string
		user        *ninep.User
		ok          bool
	}{
		{"/scratch/sub", "a1", alice, true},
		{"/scratch/sub", "b0", alice, false},
		{"/scratch", "a3", alice, true},
		{"/scratchy", "a1", alice, false},
		{"/home/u/x", "anywhere", alice, true},
		{"/secret", "a1", alice, false},
		{"/secret/file", "a1", alice, false},
		{"/staff/x", "a1", alice, true},
		{"/staff/x", "a1", mallory, false},
		{"/elsewhere", "a1", alice, false},
	}
	for _, tt := range tests {
		_, err := fs.matchExports(tt.aname, tt.host, tt.user)
		if tt.ok && err != nil {
			t.Errorf("attach %s from %s as %s refused: %v", tt.aname, tt.host, tt.user.Uname, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("attach %s from %s as %s allowed", tt.aname, tt.host, tt.user.Uname)
		}
	}
}

func TestMatchExportsRootExport(t *testing.T) {
	fs := testFS(t, Config{Exports: []Export{{Path: "/"}}})
	if _, err := fs.matchExports("/anything/at/all", "h", &ninep.User{}); err != nil {
		t.Errorf("/ must export everything: %v", err)
	}
}

func TestExportAllMounts(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mounts, []byte(
		"tmpfs /exported tmpfs rw 0 0\nproc /proc proc rw 0 0\n"), 0o644))

	fs := testFS(t, Config{ExportAll: true, mountsFile: mounts})
	if _, err := fs.matchExports("/exported/dir", "h", &ninep.User{}); err != nil {
		t.Errorf("mounts fallback refused: %v", err)
	}
	if _, err := fs.matchExports("/elsewhere", "h", &ninep.User{}); err == nil {
		t.Error("non-mount path allowed")
	}
}

func TestRemapOflags(t *testing.T) {
	got := remapOflags(proto.OlRdwr | proto.OlCreate | proto.OlTrunc)
	want := uint32(unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC)
	if got != want {
		t.Errorf("remapOflags = %#x, want %#x", got, want)
	}
	if remapOflags(0)&uint32(unix.O_ACCMODE) != unix.O_RDONLY {
		t.Error("default access mode must be read-only")
	}
}

func TestCanonical(t *testing.T) {
	for aname, want := range map[string]bool{
		"/":         true,
		"/tmp":      true,
		"/tmp/a.b":  true,
		"tmp":       false,
		"/tmp/":     false,
		"/tmp/../x": false,
		"/tmp//x":   false,
		"ctl":       false,
	} {
		if got := canonical(aname); got != want {
			t.Errorf("canonical(%q) = %v, want %v", aname, got, want)
		}
	}
}

func TestDirReader(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	dr := newDirReader(fd)
	seen := map[string]uint64{}
	var cookies []uint64
	for {
		ent, err := dr.next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen[ent.name] = ent.off
		cookies = append(cookies, ent.off)
	}
	for _, name := range []string{".", "..", "one", "two", "three"} {
		if _, ok := seen[name]; !ok {
			t.Errorf("missing entry %q", name)
		}
	}

	// resuming at a cookie yields exactly the entries after it
	require.GreaterOrEqual(t, len(cookies), 3)
	require.NoError(t, dr.seek(cookies[1]))
	rest := 0
	for {
		if _, err := dr.next(); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
		rest++
	}
	require.Equal(t, len(cookies)-2, rest)

	require.NoError(t, dr.rewind())
	ent, err := dr.next()
	require.NoError(t, err)
	require.Equal(t, cookies[0], ent.off, "rewind must restart the stream")
}
