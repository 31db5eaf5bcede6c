package ninep

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"aqwari.net/net/ninep/internal/util"
	"aqwari.net/net/ninep/proto"
)

// A Conn is the server side of one 9P connection. It owns a dedicated
// reader goroutine; replies are written by workers under the write
// mutex, in whatever order handlers finish.
type Conn struct {
	util.RefCount
	srv   *Server
	trans Transport
	log   logrus.FieldLogger

	clientID string

	mu        sync.Mutex // protects msize, resetting, authuser, trans teardown
	wmu       sync.Mutex // serializes frame transmission
	msize     uint32
	resetting bool
	resetDone *sync.Cond // broadcast when a reset completes

	authuser    uint32
	hasAuthuser bool

	fids *fidpool
}

// NewConn starts serving a transport. clientID names the peer for
// export host matching and logs; pass the bare hostname or address.
// The reader goroutine runs until EOF or a transport error.
func (srv *Server) NewConn(t Transport, clientID string) *Conn {
	srv.init()
	c := &Conn{
		srv:      srv,
		trans:    t,
		clientID: clientID,
		msize:    srv.Msize,
		fids:     newFidpool(),
		log:      srv.Log.WithField("client", clientID),
	}
	c.resetDone = sync.NewCond(&c.mu)
	c.incref() // reader's reference
	srv.addConn(c)
	go c.read()
	return c
}

// ClientID returns the peer identifier used for host matching.
func (c *Conn) ClientID() string { return c.clientID }

// Msize returns the currently negotiated maximum message size.
func (c *Conn) Msize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msize
}

// AuthUser returns the uid the connection authenticated as, if any.
func (c *Conn) AuthUser() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authuser, c.hasAuthuser
}

// SetAuthUser records a successful authentication. The first one
// wins, so a kernel-to-userspace mount handoff cannot demote the
// connection's identity.
func (c *Conn) SetAuthUser(uid uint32) {
	c.mu.Lock()
	if !c.hasAuthuser {
		c.authuser = uid
		c.hasAuthuser = true
	}
	c.mu.Unlock()
}

// NumFids reports the live fid count, for the ctl connections file.
func (c *Conn) NumFids() int { return c.fids.size() }

func (c *Conn) incref() { c.IncRef() }

func (c *Conn) decref() {
	if c.DecRef() {
		return
	}
	// last reference: the fid pool was already destroyed by teardown
}

// send transmits one framed reply. Frame interleaving is prevented
// here and nowhere else; the transport does not need its own locking.
func (c *Conn) send(fc *proto.Fcall) {
	c.wmu.Lock()
	err := c.trans.Send(fc)
	c.wmu.Unlock()
	if err != nil {
		c.log.WithError(err).Error("9p: send failed")
	}
}

// read is the connection actor: frame one message, resolve its fid,
// queue it on the owning pool. Tflush is handled here, inline, so a
// flush can never sit behind the request it is trying to cancel.
func (c *Conn) read() {
	srv := c.srv
	for {
		fc, err := c.trans.Recv(c.Msize())
		if err != nil {
			if bf, ok := err.(*BadFrame); ok {
				c.log.WithError(bf.Err).Warn("9p: protocol error")
				rc := proto.NewRlerror(uint32(eproto))
				rc.SetTag(bf.Tag)
				c.send(rc)
				continue
			}
			if err != io.EOF {
				c.log.WithError(err).Error("9p: recv failed")
			}
			break
		}
		if !proto.IsTMessage(fc.Type) {
			c.log.Warnf("9p: client sent %s", proto.TypeName(fc.Type))
			rc := proto.NewRlerror(uint32(eproto))
			rc.SetTag(fc.Tag)
			c.send(rc)
			continue
		}
		if srv.Flags&Debug9P != 0 {
			c.log.Debug(fc.String())
		}

		req := srv.newReq(c, fc)
		if fc.Type == proto.Tflush {
			srv.flush(req)
			continue
		}
		srv.enqueue(req)
	}
	c.teardown()
}

// teardown runs in the reader after EOF or a transport error:
// deregister, cancel this connection's requests, destroy the fids,
// close the transport.
func (c *Conn) teardown() {
	srv := c.srv
	c.mu.Lock()
	trans := c.trans
	c.mu.Unlock()

	srv.removeConn(c)
	c.reset(0)
	srv.tpoolCleanup()

	if trans != nil {
		trans.Close()
	}
	c.decref()
}

// reset implements both the Tversion fid-pool reset (msize > 0) and
// connection teardown (msize == 0): pending requests for this
// connection are dropped, in-progress ones run to completion, and the
// fid pool is destroyed.
func (c *Conn) reset(msize uint32) {
	srv := c.srv

	c.mu.Lock()
	c.resetting = true
	c.mu.Unlock()

	var pending []*Req
	srv.mu.Lock()
	for _, tp := range srv.tpools {
		for req := tp.qhead; req != nil; {
			next := req.next
			if req.Conn == c {
				tp.dequeue(req)
				pending = append(pending, req)
			}
			req = next
		}
	}
	srv.mu.Unlock()

	for _, req := range pending {
		req.abortPending()
	}

	// Wait for this connection's in-progress requests (other than the
	// Tversion currently executing, when resetting) to drain.
	srv.mu.Lock()
	for {
		busy := false
		for _, tp := range srv.tpools {
			for req := tp.whead; req != nil; req = req.next {
				if req.Conn == c && (msize == 0 || req.Tcall.Type != proto.Tversion) {
					busy = true
				}
			}
		}
		if !busy {
			break
		}
		srv.workDone.Wait()
	}
	srv.mu.Unlock()

	c.fids.destroy()

	c.mu.Lock()
	if msize > 0 {
		c.fids = newFidpool()
		c.msize = msize
	}
	c.resetting = false
	c.resetDone.Broadcast()
	c.mu.Unlock()
}
