package ninep

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"aqwari.net/net/ninep/proto"
)

// A Transport carries framed 9P messages between the server and one
// client. Recv must return exactly one message per call, buffering
// any bytes read past the current frame; it returns io.EOF on orderly
// shutdown. Implementations other than the byte-stream transport
// below (an RDMA verbs channel, for instance) plug in here; the
// server treats them all identically.
type Transport interface {
	// Recv reads the next message. Frames larger than msize are a
	// protocol violation and terminate the connection.
	Recv(msize uint32) (*proto.Fcall, error)

	// Send transmits one framed message. The connection serializes
	// calls to Send; implementations need not.
	Send(fc *proto.Fcall) error

	Close() error
}

// fdTrans is the paired-fd byte-stream transport: anything that is a
// stream of bytes with orderly close semantics (TCP and UNIX sockets,
// socketpairs, pipes).
type fdTrans struct {
	rwc io.ReadWriteCloser
	hdr [4]byte
}

// NewTransport wraps a byte stream in the framing Transport used for
// sockets and pipes.
func NewTransport(rwc io.ReadWriteCloser) Transport {
	return &fdTrans{rwc: rwc}
}

func (t *fdTrans) Recv(msize uint32) (*proto.Fcall, error) {
	if _, err := io.ReadFull(t.rwc, t.hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(t.hdr[:])
	if size < 7 || size > msize {
		return nil, fmt.Errorf("9p: frame size %d outside [7, %d]", size, msize)
	}
	pkt := make([]byte, size)
	copy(pkt, t.hdr[:])
	if _, err := io.ReadFull(t.rwc, pkt[4:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	fc, err := proto.Deserialize(pkt)
	if err != nil && proto.IsProtocolError(err) && size >= 7 {
		// Keep the tag so the connection can answer Rlerror(EPROTO)
		// without tearing the session down.
		return nil, &BadFrame{Tag: binary.LittleEndian.Uint16(pkt[5:7]), Err: err}
	}
	return fc, err
}

// A BadFrame reports a frame that was well-delimited but failed
// validation; the connection answers it with Rlerror(EPROTO) and
// keeps serving.
type BadFrame struct {
	Tag uint16
	Err error
}

func (b *BadFrame) Error() string { return b.Err.Error() }
func (b *BadFrame) Unwrap() error { return b.Err }

func (t *fdTrans) Send(fc *proto.Fcall) error {
	_, err := t.rwc.Write(fc.Pkt)
	return err
}

func (t *fdTrans) Close() error { return t.rwc.Close() }

// ClientID derives the client identifier exports match host patterns
// against: the bare hostname or address of the peer, with any port
// stripped.
func ClientID(rwc interface{}) string {
	conn, ok := rwc.(net.Conn)
	if !ok {
		return "local"
	}
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
