package hostfs

import (
	"bufio"
	"fmt"
	"os"
	gopath "path"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/internal/hostlist"
)

// Export flag bits.
type ExportFlags uint32

const (
	// ExportRO forces fids attached through this export read-only.
	ExportRO ExportFlags = 1 << iota

	// ExportSuppress hides the export from the ctl listing and
	// refuses attaches to it.
	ExportSuppress

	// ExportShareFD lets read-only fids on the same file and user
	// share one host fd (and mapping).
	ExportShareFD

	// ExportNoAuth admits unauthenticated attaches to this export
	// even when the server otherwise requires authentication.
	ExportNoAuth
)

// An Export authorizes attaches to a subtree. Hosts is a SLURM-style
// hostlist expression ("node[0-15,20]"); Users is a comma-separated
// name list. Empty or "*" patterns admit anyone.
type Export struct {
	Path  string
	Opts  string // displayed in the ctl exports file
	Users string
	Hosts string
	Flags ExportFlags

	hl *hostlist.HostList
}

// matchPath reports whether the export covers aname: equal to it, or
// a parent with a / boundary.
func (x *Export) matchPath(aname string) bool {
	xp := strings.TrimRight(x.Path, "/")
	if x.Path == "/" {
		return true
	}
	if aname == xp {
		return true
	}
	return len(aname) > len(xp) && strings.HasPrefix(aname, xp) && aname[len(xp)] == '/'
}

func (x *Export) matchHost(client string) bool {
	if x.Hosts == "" || x.Hosts == "*" {
		return true
	}
	return x.hl != nil && x.hl.Contains(client)
}

func (x *Export) matchUser(u *ninep.User) bool {
	if x.Users == "" || x.Users == "*" {
		return true
	}
	for _, name := range strings.Split(x.Users, ",") {
		if strings.TrimSpace(name) == u.Uname {
			return true
		}
	}
	return false
}

// Config selects what the FS exports and how.
type Config struct {
	Exports []Export

	// ExportAll admits attaches to any mount point listed in
	// /proc/self/mounts when no configured export matches.
	ExportAll bool

	// AllSquash remaps every attaching user to SquashUser.
	AllSquash  bool
	SquashUser string

	// MaxMmap bounds the bytes mapped per shared read-only ioctx;
	// zero disables mapping.
	MaxMmap int

	// StatfsPassthru reports the real f_type instead of V9FS_MAGIC.
	StatfsPassthru bool

	// mountsFile overrides /proc/self/mounts in tests.
	mountsFile string
}

// FS is the host file system backend.
type FS struct {
	srv   *ninep.Server
	cfg   Config
	log   logrus.FieldLogger
	paths *pathPool
}

// New builds the backend, wires it to srv, and registers its ctl
// files. The server must not have served a connection yet.
func New(srv *ninep.Server, cfg Config, log logrus.FieldLogger) (*FS, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	for i := range cfg.Exports {
		x := &cfg.Exports[i]
		if x.Path != "ctl" && !strings.HasPrefix(x.Path, "/") {
			return nil, fmt.Errorf("hostfs: export %q is not absolute", x.Path)
		}
		if x.Hosts != "" && x.Hosts != "*" {
			hl, err := hostlist.Parse(x.Hosts)
			if err != nil {
				return nil, fmt.Errorf("hostfs: export %q: %w", x.Path, err)
			}
			x.hl = hl
		}
	}
	if cfg.AllSquash && cfg.SquashUser == "" {
		cfg.SquashUser = "nobody"
	}
	if cfg.mountsFile == "" {
		cfg.mountsFile = "/proc/self/mounts"
	}
	fs := &FS{srv: srv, cfg: cfg, log: log, paths: newPathPool()}
	srv.Backend = fs
	srv.CtlAddFile("exports", fs.ctlExports, nil, 0)
	srv.CtlAddFile("files", func(string) (string, error) {
		return fs.paths.dump(), nil
	}, nil, 0)
	return fs, nil
}

// matchExports finds the export admitting an attach. The first
// export whose path covers aname decides; a host or user mismatch
// there does not fall through to later entries.
func (fs *FS) matchExports(aname, client string, u *ninep.User) (ExportFlags, error) {
	for i := range fs.cfg.Exports {
		x := &fs.cfg.Exports[i]
		if !x.matchPath(aname) {
			continue
		}
		if x.Flags&ExportSuppress != 0 {
			return 0, unix.EPERM
		}
		if !x.matchHost(client) {
			return 0, unix.EPERM
		}
		if !x.matchUser(u) {
			return 0, unix.EPERM
		}
		return x.Flags, nil
	}
	if fs.cfg.ExportAll {
		mounts, err := fs.mounts()
		if err == nil {
			for _, m := range mounts {
				x := Export{Path: m}
				if x.matchPath(aname) {
					return 0, nil
				}
			}
		}
	}
	return 0, unix.EPERM
}

// AuthRequired is the per-attach policy hook: exports flagged NOAUTH
// skip authentication. Plug into ninep.Server.AuthRequired.
func (fs *FS) AuthRequired(uname string, nuname uint32, aname string) bool {
	for i := range fs.cfg.Exports {
		x := &fs.cfg.Exports[i]
		if x.matchPath(aname) {
			return x.Flags&ExportNoAuth == 0
		}
	}
	return true
}

// RemapUser implements allsquash: the fid's user is silently replaced
// before identity assumption.
func (fs *FS) RemapUser(fid *ninep.Fid) error {
	if !fs.cfg.AllSquash {
		return nil
	}
	squash, err := fs.srv.UserByName(fs.cfg.SquashUser)
	if err != nil {
		return err
	}
	squash.IncRef()
	if fid.User != nil {
		fid.User.DecRef()
	}
	fid.User = squash
	return nil
}

// mounts lists mount points from /proc/self/mounts.
func (fs *FS) mounts() ([]string, error) {
	f, err := os.Open(fs.cfg.mountsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && strings.HasPrefix(fields[1], "/") {
			out = append(out, fields[1])
		}
	}
	return out, sc.Err()
}

func (fs *FS) ctlExports(string) (string, error) {
	var b strings.Builder
	seen := make(map[string]bool)
	for i := range fs.cfg.Exports {
		x := &fs.cfg.Exports[i]
		if seen[x.Path] || x.Flags&ExportSuppress != 0 {
			continue
		}
		seen[x.Path] = true
		opts, users, hosts := x.Opts, x.Users, x.Hosts
		if opts == "" {
			opts = "-"
		}
		if users == "" {
			users = "-"
		}
		if hosts == "" {
			hosts = "-"
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", x.Path, opts, users, hosts)
	}
	if fs.cfg.ExportAll {
		mounts, err := fs.mounts()
		if err == nil {
			for _, m := range mounts {
				if !seen[m] {
					seen[m] = true
					fmt.Fprintf(&b, "%s - - -\n", m)
				}
			}
		}
	}
	return b.String(), nil
}

// canonical reports whether an aname is a clean absolute path: no
// dot-dot components, no trailing or doubled slashes.
func canonical(aname string) bool {
	return strings.HasPrefix(aname, "/") && gopath.Clean(aname) == aname
}
