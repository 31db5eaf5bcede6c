//go:build !linux

package fsid

// Hosts without per-thread filesystem identity get no-op stubs; a
// server built here must run with a single effective user.

func Supported() bool { return false }

func SetFsuid(uid int) int { return uid }

func SetFsgid(gid int) int { return gid }

func SetGroups(gids []uint32) error { return nil }

func SetDacBypass(on bool) error { return nil }

func HasDacBypass() bool { return false }
