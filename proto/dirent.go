package proto

import "encoding/binary"

// SerializeDirent appends one directory entry to buf, which is a
// window into an Rreaddir payload. It returns the number of bytes
// written, or 0 if the entry does not fit; handlers use the 0 return
// to stop streaming and finalize the reply.
func SerializeDirent(qid Qid, offset uint64, typ uint8, name string, buf []byte) int {
	n := direntFixedLen + len(name)
	if n > len(buf) {
		return 0
	}
	p := &packer{b: buf}
	p.qid(qid)
	p.u64(offset)
	p.u8(typ)
	p.str(name)
	return n
}

// DeserializeDirent decodes the directory entry at the start of buf
// and returns it along with the number of bytes consumed (0 on short
// or corrupt input).
func DeserializeDirent(buf []byte) (Dirent, int) {
	if len(buf) < direntFixedLen {
		return Dirent{}, 0
	}
	var d Dirent
	d.Qid = Qid{
		Type:    buf[0],
		Version: guint32(buf[1:5]),
		Path:    guint64(buf[5:13]),
	}
	d.Offset = guint64(buf[13:21])
	d.Type = buf[21]
	namelen := int(binary.LittleEndian.Uint16(buf[22:24]))
	if direntFixedLen+namelen > len(buf) {
		return Dirent{}, 0
	}
	d.Name = string(buf[direntFixedLen : direntFixedLen+namelen])
	return d, direntFixedLen + namelen
}
