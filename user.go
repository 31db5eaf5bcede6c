package ninep

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sys/unix"

	"aqwari.net/net/ninep/internal/util"
	"aqwari.net/net/ninep/proto"
)

// userCacheTTL matches the interval after which a cached passwd
// lookup is considered stale.
const userCacheTTL = 60 * time.Second

// A User is the resolved identity a fid operates as: numeric ids plus
// the supplementary groups the worker thread assumes before touching
// the host file system.
type User struct {
	util.RefCount
	Uname string
	UID   uint32
	GID   uint32
	SG    []uint32 // supplementary gids; passwd lookups leave out the primary, synthesized users list their own gid
}

func (u *User) String() string {
	return fmt.Sprintf("%s(%d:%d)", u.Uname, u.UID, u.GID)
}

// IsRoot reports whether the user is the superuser.
func (u *User) IsRoot() bool { return u.UID == 0 }

// InGroup reports whether gid is the user's primary group or among
// the supplementary ones.
func (u *User) InGroup(gid uint32) bool {
	if gid == u.GID {
		return true
	}
	for _, g := range u.SG {
		if g == gid {
			return true
		}
	}
	return false
}

type userCache struct {
	c *cache.Cache
}

func newUserCache() *userCache {
	return &userCache{c: cache.New(userCacheTTL, 2*userCacheTTL)}
}

func (uc *userCache) flush() { uc.c.Flush() }

// lookups are cached under both keys so Tattach by name and by
// n_uname hit the same entry.
func (uc *userCache) store(u *User) {
	uc.c.SetDefault("n:"+u.Uname, u)
	uc.c.SetDefault("u:"+strconv.FormatUint(uint64(u.UID), 10), u)
}

func (uc *userCache) byName(name string) (*User, bool) {
	v, ok := uc.c.Get("n:" + name)
	if !ok {
		return nil, false
	}
	return v.(*User), true
}

func (uc *userCache) byUID(uid uint32) (*User, bool) {
	v, ok := uc.c.Get("u:" + strconv.FormatUint(uint64(uid), 10))
	if !ok {
		return nil, false
	}
	return v.(*User), true
}

// dump renders the cache contents for the ctl usercache file.
func (uc *userCache) dump() string {
	var b strings.Builder
	for key, item := range uc.c.Items() {
		if !strings.HasPrefix(key, "u:") {
			continue
		}
		u := item.Object.(*User)
		fmt.Fprintf(&b, "%s %d %d nsg=%d\n", u.Uname, u.UID, u.GID, len(u.SG))
	}
	return b.String()
}

// synthUser builds the "no user DB" identity: gid mirrors uid and the
// only supplementary group is the user's own.
func synthUser(uname string, uid uint32) *User {
	if uname == "" {
		uname = strconv.FormatUint(uint64(uid), 10)
	}
	return &User{Uname: uname, UID: uid, GID: uid, SG: []uint32{uid}}
}

func lookupByName(name string) (*User, error) {
	pw, err := user.Lookup(name)
	if err != nil {
		return nil, unix.EIO
	}
	return pwToUser(pw)
}

func lookupByUID(uid uint32) (*User, error) {
	pw, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, unix.EIO
	}
	return pwToUser(pw)
}

func pwToUser(pw *user.User) (*User, error) {
	uid, err := strconv.ParseUint(pw.Uid, 10, 32)
	if err != nil {
		return nil, unix.EIO
	}
	gid, err := strconv.ParseUint(pw.Gid, 10, 32)
	if err != nil {
		return nil, unix.EIO
	}
	u := &User{Uname: pw.Username, UID: uint32(uid), GID: uint32(gid)}
	if ids, err := pw.GroupIds(); err == nil {
		for _, s := range ids {
			g, err := strconv.ParseUint(s, 10, 32)
			if err != nil || uint32(g) == u.GID {
				continue
			}
			u.SG = append(u.SG, uint32(g))
		}
	}
	return u, nil
}

// UserByName resolves uname through the cache or the passwd database.
// In NoUserDB mode only cached names resolve; any other name fails
// with EIO and no user is synthesized.
func (srv *Server) UserByName(uname string) (*User, error) {
	srv.init()
	if u, ok := srv.users.byName(uname); ok {
		return u, nil
	}
	if srv.Flags&NoUserDB != 0 {
		return nil, unix.EIO // names are meaningless without a passwd db
	}
	u, err := lookupByName(uname)
	if err != nil {
		return nil, err
	}
	srv.users.store(u)
	return u, nil
}

// UserByUID resolves a numeric uid through the cache, the passwd
// database, or (in NoUserDB mode) synthesis.
func (srv *Server) UserByUID(uid uint32) (*User, error) {
	srv.init()
	if u, ok := srv.users.byUID(uid); ok {
		return u, nil
	}
	if srv.Flags&NoUserDB != 0 {
		u := synthUser("", uid)
		srv.users.store(u)
		return u, nil
	}
	u, err := lookupByUID(uid)
	if err != nil {
		return nil, err
	}
	srv.users.store(u)
	return u, nil
}

// attachUser resolves the identity named by a Tauth or Tattach: the
// numeric n_uname wins when supplied, the uname string otherwise.
func (srv *Server) attachUser(uname string, nuname uint32) (*User, error) {
	if nuname != proto.NoNuname {
		return srv.UserByUID(nuname)
	}
	if uname == "" {
		return nil, unix.EIO
	}
	return srv.UserByName(uname)
}
