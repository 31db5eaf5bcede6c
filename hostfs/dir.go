package hostfs

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"
)

// A dirReader streams directory entries with resumable cookies: each
// entry carries the kernel's d_off, the position at which a later
// Treaddir continues after that entry. Rewind and seek map to lseek
// on the directory fd, the way rewinddir/seekdir behave.
type dirReader struct {
	fd  int
	buf []byte
	pos int
	end int
}

type hostDirent struct {
	ino  uint64
	off  uint64 // cookie: resume position after this entry
	typ  uint8  // DT_* from the kernel, DT_UNKNOWN on some filesystems
	name string
}

func newDirReader(fd int) *dirReader {
	return &dirReader{fd: fd, buf: make([]byte, 8192)}
}

func (d *dirReader) rewind() error {
	d.pos, d.end = 0, 0
	_, err := unix.Seek(d.fd, 0, 0)
	return err
}

func (d *dirReader) seek(offset uint64) error {
	d.pos, d.end = 0, 0
	_, err := unix.Seek(d.fd, int64(offset), 0)
	return err
}

// next returns one entry, or io.EOF at the end of the directory.
func (d *dirReader) next() (hostDirent, error) {
	for d.pos >= d.end {
		n, err := unix.Getdents(d.fd, d.buf)
		if err != nil {
			return hostDirent{}, err
		}
		if n == 0 {
			return hostDirent{}, io.EOF
		}
		d.pos, d.end = 0, n
	}
	// struct linux_dirent64: ino[8] off[8] reclen[2] type[1] name[]
	b := d.buf[d.pos:d.end]
	if len(b) < 19 {
		return hostDirent{}, unix.EIO
	}
	var ent hostDirent
	ent.ino = binary.LittleEndian.Uint64(b[0:8])
	ent.off = binary.LittleEndian.Uint64(b[8:16])
	reclen := int(binary.LittleEndian.Uint16(b[16:18]))
	ent.typ = b[18]
	if reclen < 19 || reclen > len(b) {
		return hostDirent{}, unix.EIO
	}
	name := b[19:reclen]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	ent.name = string(name)
	d.pos += reclen
	return ent, nil
}
