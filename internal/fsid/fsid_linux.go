//go:build linux

// Package fsid manipulates the calling thread's filesystem identity:
// fsuid, fsgid, supplementary groups, and the small set of
// capabilities a file server raises on behalf of root-authenticated
// clients.
//
// All functions here affect only the calling OS thread, so callers
// must hold the thread with runtime.LockOSThread for as long as the
// assumed identity matters. Linux makes fsuid/fsgid per-thread
// natively; for setgroups we must bypass the libc wrapper (glibc
// broadcasts it to every thread via NPTL) and issue the raw syscall.
package fsid

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Supported reports whether the host provides per-thread fs identity.
func Supported() bool { return true }

// SetFsuid changes the calling thread's filesystem uid and returns
// the previous value. setfsuid(2) cannot fail usefully; callers
// verify by calling it with the same value again if they care.
func SetFsuid(uid int) int {
	prev, _, _ := unix.Syscall(unix.SYS_SETFSUID, uintptr(uid), 0, 0)
	return int(prev)
}

// SetFsgid changes the calling thread's filesystem gid and returns
// the previous value.
func SetFsgid(gid int) int {
	prev, _, _ := unix.Syscall(unix.SYS_SETFSGID, uintptr(gid), 0, 0)
	return int(prev)
}

// SetGroups installs the supplementary group list on the calling
// thread only, via the raw syscall.
func SetGroups(gids []uint32) error {
	var p unsafe.Pointer
	if len(gids) > 0 {
		p = unsafe.Pointer(&gids[0])
	}
	_, _, errno := unix.Syscall(unix.SYS_SETGROUPS, uintptr(len(gids)), uintptr(p), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

const linuxCapV3 = 0x20080522

// The capability bits a file server toggles: see capabilities(7).
const (
	capChown       = 0
	capDacOverride = 1
	capFowner      = 3
)

const dacCapMask = 1<<capChown | 1<<capDacOverride | 1<<capFowner

// SetDacBypass raises (on=true) or lowers the effective
// CAP_DAC_OVERRIDE, CAP_CHOWN and CAP_FOWNER capabilities of the
// calling thread. The bits always move together. The permitted set is
// left alone so the capabilities can be re-raised later.
func SetDacBypass(on bool) error {
	hdr := unix.CapUserHeader{Version: linuxCapV3, Pid: 0}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return err
	}
	if on {
		data[0].Effective |= dacCapMask
	} else {
		data[0].Effective &^= dacCapMask
	}
	return unix.Capset(&hdr, &data[0])
}

// HasDacBypass reports whether the three bracketed capabilities are
// present in the permitted set, i.e. whether SetDacBypass(true) can
// succeed.
func HasDacBypass() bool {
	hdr := unix.CapUserHeader{Version: linuxCapV3, Pid: 0}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}
	return data[0].Permitted&dacCapMask == dacCapMask
}
