package ninep

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"aqwari.net/net/ninep/proto"
)

type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

func TestTransportFraming(t *testing.T) {
	var wire bytes.Buffer
	a := proto.NewTclunk(7)
	a.SetTag(1)
	b := proto.NewTread(7, 0, 100)
	b.SetTag(2)
	wire.Write(a.Pkt)
	wire.Write(b.Pkt)

	tr := NewTransport(rwc{Reader: &wire})
	fc, err := tr.Recv(8192)
	if err != nil || fc.Type != proto.Tclunk {
		t.Fatalf("first frame: %v, %v", fc, err)
	}
	fc, err = tr.Recv(8192)
	if err != nil || fc.Type != proto.Tread {
		t.Fatalf("second frame: %v, %v", fc, err)
	}
	if _, err = tr.Recv(8192); err != io.EOF {
		t.Fatalf("at end: %v, want EOF", err)
	}
}

func TestTransportRejectsOversizeFrame(t *testing.T) {
	var wire bytes.Buffer
	fc := proto.NewTwrite(1, 0, make([]byte, 9000))
	fc.SetTag(1)
	wire.Write(fc.Pkt)

	tr := NewTransport(rwc{Reader: &wire})
	if _, err := tr.Recv(8192); err == nil {
		t.Fatal("frame larger than msize accepted")
	}
}

func TestTransportBadFrameKeepsTag(t *testing.T) {
	// a well-delimited frame with a legacy type code
	pkt := make([]byte, 12)
	binary.LittleEndian.PutUint32(pkt, 12)
	pkt[4] = 112 // Topen
	binary.LittleEndian.PutUint16(pkt[5:], 33)

	tr := NewTransport(rwc{Reader: bytes.NewReader(pkt)})
	_, err := tr.Recv(8192)
	bf, ok := err.(*BadFrame)
	if !ok {
		t.Fatalf("got %v, want *BadFrame", err)
	}
	if bf.Tag != 33 {
		t.Fatalf("BadFrame tag %d, want 33", bf.Tag)
	}
}
