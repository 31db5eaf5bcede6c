package ninep

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"aqwari.net/retry"
	"github.com/sirupsen/logrus"

	"aqwari.net/net/ninep/proto"
)

// Version is reported by the ctl version file.
const Version = "0.9.2"

// Flags alter server-wide behavior; combine with bitwise or.
type Flags uint32

const (
	// SetFsID makes workers assume each request's fs identity
	// (fsuid/fsgid/groups) before touching the host file system.
	// Requires root and per-thread fs identity (Linux).
	SetFsID Flags = 1 << iota

	// AuthConn requires connections to authenticate before attach.
	AuthConn

	// NoUserDB synthesizes users from numeric ids instead of
	// consulting the passwd database.
	NoUserDB

	// TpoolSingle serves every export from the default pool.
	TpoolSingle

	// FlushSig interrupts a flushed in-progress request's worker
	// thread with SIGUSR2 to wake blocking syscalls.
	FlushSig

	// DacBypass raises CAP_DAC_OVERRIDE/CAP_CHOWN/CAP_FOWNER for
	// requests on connections that authenticated as root.
	DacBypass

	// LooseFid tolerates clients that reuse a fid without clunking
	// it, logging instead of failing.
	LooseFid

	// Debug9P logs every message at debug level.
	Debug9P
)

// DefaultNumWorkers is the worker-thread count of each pool when the
// Server does not override it.
const DefaultNumWorkers = 16

// A Server serves one exported tree (plus the synthetic ctl tree) to
// any number of client connections. The zero value is not usable;
// populate the exported fields before the first connection and do not
// change them afterwards.
type Server struct {
	Msize      uint32 // max message size offered in Rversion; default 1 MiB
	NumWorkers int    // workers per thread pool; default 16
	Flags      Flags
	Log        logrus.FieldLogger

	// Backend serves all absolute anames. The ctl tree is built in.
	Backend Backend

	// Auth, when set, serves the Tauth conversation. AuthRequired
	// decides per-attach whether an unauthenticated attach is
	// acceptable; nil means "required whenever AuthConn is set".
	Auth         AuthModule
	AuthRequired func(uname string, nuname uint32, aname string) bool

	mu       sync.Mutex
	workDone *sync.Cond // broadcast when any request leaves a work list
	conns    map[*Conn]struct{}
	connHist uint64
	tpools   []*ThreadPool // tpools[0] is "default"
	users    *userCache
	ctl      *ctlTree

	once     sync.Once
	starting time.Time
}

func (srv *Server) init() {
	srv.once.Do(func() {
		if srv.Msize == 0 {
			srv.Msize = proto.DefaultMsize
		}
		if srv.Log == nil {
			l := logrus.New()
			l.SetOutput(io.Discard)
			srv.Log = l
		}
		srv.starting = time.Now()
		srv.conns = make(map[*Conn]struct{})
		srv.users = newUserCache()
		srv.workDone = sync.NewCond(&srv.mu)
		srv.ctl = newCtlTree()
		srv.registerCtlDefaults()

		srv.mu.Lock()
		srv.tpools = []*ThreadPool{srv.newThreadPool("default")}
		srv.mu.Unlock()
	})
}

func (srv *Server) numWorkers() int {
	if srv.NumWorkers > 0 {
		return srv.NumWorkers
	}
	return DefaultNumWorkers
}

// FlushUserCache empties the user cache; the next lookup goes back to
// the passwd database.
func (srv *Server) FlushUserCache() {
	srv.init()
	srv.users.flush()
}

func (srv *Server) addConn(c *Conn) {
	srv.mu.Lock()
	srv.conns[c] = struct{}{}
	srv.connHist++
	srv.mu.Unlock()
}

func (srv *Server) removeConn(c *Conn) {
	srv.mu.Lock()
	delete(srv.conns, c)
	srv.mu.Unlock()
}

// enqueue hands a preprocessed request to the pool owning its fid.
// Requests arriving during a reset are dropped; their client is mid
// Tversion and has promised not to care.
func (srv *Server) enqueue(req *Req) {
	c := req.Conn
	c.mu.Lock()
	resetting := c.resetting
	c.mu.Unlock()

	srv.mu.Lock()
	if resetting {
		srv.mu.Unlock()
		req.abortPending()
		return
	}
	tp := srv.tpools[0]
	if req.Fid != nil && req.Fid.tpool != nil {
		tp = req.Fid.tpool
	}
	tp.push(req)
	srv.mu.Unlock()
}

// flush implements Tflush, inline in the reader. A pending target is
// dequeued and dropped without a reply, and the flush is answered now;
// an in-progress
// target gets the flush chained onto it; an unknown tag means the
// target already answered, so Rflush goes straight out.
func (srv *Server) flush(freq *Req) {
	oldtag := freq.Tcall.Oldtag
	conn := freq.Conn

	srv.mu.Lock()
	for _, tp := range srv.tpools {
		for creq := tp.qhead; creq != nil; creq = creq.next {
			if creq.Conn != conn || creq.Tag != oldtag {
				continue
			}
			tp.dequeue(creq)
			srv.mu.Unlock()
			creq.abortPending()
			freq.respond(proto.NewRflush())
			freq.unref()
			return
		}
	}
	var target *Req
	for _, tp := range srv.tpools {
		for creq := tp.whead; creq != nil; creq = creq.next {
			if creq.Conn == conn && creq.Tag == oldtag {
				target = creq
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target != nil {
		target.mu.Lock()
		freq.flushq = target.flushq
		target.flushq = freq
		w := target.worker
		target.mu.Unlock()
		// Signalling under the lock keeps the worker bound to this
		// request: it cannot reach removeWork without srv.mu.
		if srv.Flags&FlushSig != 0 && w != nil {
			interruptWorker(w)
		}
		srv.mu.Unlock()
		return // freq is answered when target completes
	}
	srv.mu.Unlock()

	freq.respond(proto.NewRflush())
	freq.unref()
}

// Serve accepts connections on l until it is closed, backing off on
// temporary accept errors.
func (srv *Server) Serve(l net.Listener) error {
	srv.init()
	type tempErr interface {
		Temporary() bool
	}
	backoff := retry.Exponential(time.Millisecond).Max(time.Second)
	try := 0

	for {
		rwc, err := l.Accept()
		if err != nil {
			if err, ok := err.(tempErr); ok && err.Temporary() {
				try++
				srv.Log.Errorf("9p: accept error: %v; retrying in %v", err, backoff(try))
				time.Sleep(backoff(try))
				continue
			}
			return err
		}
		try = 0
		srv.NewConn(NewTransport(rwc), ClientID(rwc))
	}
}

// ListenAndServe listens on a "tcp" or "unix" address and serves it.
func (srv *Server) ListenAndServe(network, addr string) error {
	l, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	defer l.Close()
	return srv.Serve(l)
}

// NumConns reports live connections; ConnHistory counts every
// connection ever accepted.
func (srv *Server) NumConns() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.conns)
}

func (srv *Server) ConnHistory() uint64 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.connHist
}

func (srv *Server) describeConns() string {
	srv.mu.Lock()
	conns := make([]*Conn, 0, len(srv.conns))
	for c := range srv.conns {
		conns = append(conns, c)
	}
	srv.mu.Unlock()

	var b []byte
	for _, c := range conns {
		b = append(b, fmt.Sprintf("%s %d %d\n", c.clientID, c.Msize(), c.NumFids())...)
	}
	return string(b)
}

func (srv *Server) describeTpools() string {
	srv.mu.Lock()
	tps := append([]*ThreadPool(nil), srv.tpools...)
	srv.mu.Unlock()

	var b []byte
	for _, tp := range tps {
		srv.mu.Lock()
		depth := tp.queueDepth()
		refs := tp.refs
		srv.mu.Unlock()
		b = append(b, fmt.Sprintf("%s refs=%d queued=%d reqs=%d rbytes=%d wbytes=%d\n",
			tp.name, refs, depth, tp.totalReqs(),
			atomic.LoadUint64(&tp.stats.rbytes), atomic.LoadUint64(&tp.stats.wbytes))...)
	}
	return string(b)
}
