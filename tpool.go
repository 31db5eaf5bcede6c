package ninep

import (
	"runtime"
	"sync"
	"sync/atomic"

	"aqwari.net/net/ninep/proto"
)

// A ThreadPool owns the workers serving one export. Pool "default"
// always exists and handles Tversion, Tauth and any request whose fid
// has not selected a pool; every other pool is created on the first
// attach naming its export, so a wedged file system stalls only its
// own clients.
//
// The queue, work list and refcount are all guarded by the single
// server lock, which is dropped for the whole of a handler's
// execution.
type ThreadPool struct {
	name string
	srv  *Server

	refs     int // attached fids; guarded by srv.mu
	shutdown bool

	qhead, qtail *Req // pending, FIFO
	whead        *Req // in progress, unordered

	reqcond *sync.Cond // signalled on enqueue; waits on srv.mu

	wg    sync.WaitGroup
	stats tpoolStats
}

type tpoolStats struct {
	nreqs  [256]uint64 // per message type, atomic
	rbytes uint64
	wbytes uint64
}

func (srv *Server) newThreadPool(name string) *ThreadPool {
	// srv.mu held
	tp := &ThreadPool{name: name, srv: srv}
	tp.reqcond = sync.NewCond(&srv.mu)
	for i := 0; i < srv.numWorkers(); i++ {
		tp.wg.Add(1)
		go tp.work()
	}
	return tp
}

// Name returns the pool's name (the export aname, or "default").
func (tp *ThreadPool) Name() string { return tp.name }

func (tp *ThreadPool) incref() { tp.refs++ } // srv.mu held
func (tp *ThreadPool) decref() { // srv.mu NOT held
	tp.srv.mu.Lock()
	tp.refs--
	tp.srv.mu.Unlock()
}

// push appends a request to the pending queue. srv.mu held.
func (tp *ThreadPool) push(req *Req) {
	req.prev = tp.qtail
	if tp.qtail != nil {
		tp.qtail.next = req
	}
	tp.qtail = req
	if tp.qhead == nil {
		tp.qhead = req
	}
	tp.reqcond.Signal()
}

// dequeue unlinks a request from the pending queue. srv.mu held.
func (tp *ThreadPool) dequeue(req *Req) {
	if req.prev != nil {
		req.prev.next = req.next
	} else {
		tp.qhead = req.next
	}
	if req.next != nil {
		req.next.prev = req.prev
	} else {
		tp.qtail = req.prev
	}
	req.next, req.prev = nil, nil
}

// addWork / removeWork maintain the in-progress list. srv.mu held.
func (tp *ThreadPool) addWork(req *Req) {
	req.next = tp.whead
	if tp.whead != nil {
		tp.whead.prev = req
	}
	tp.whead = req
}

func (tp *ThreadPool) removeWork(req *Req) {
	if req.prev != nil {
		req.prev.next = req.next
	} else {
		tp.whead = req.next
	}
	if req.next != nil {
		req.next.prev = req.prev
	}
	req.next, req.prev = nil, nil
}

// queueDepth counts pending requests. srv.mu held.
func (tp *ThreadPool) queueDepth() int {
	n := 0
	for r := tp.qhead; r != nil; r = r.next {
		n++
	}
	return n
}

// A worker is the per-thread state of one pool worker: which fs
// identity the thread currently wears, so consecutive requests from
// the same user skip the syscalls.
type worker struct {
	tp  *ThreadPool
	tid int

	fsuid, fsgid uint32
	sguid        uint32 // uid whose supplementary groups are loaded
	dac          bool   // capability bracket currently raised
}

const noIdentity = ^uint32(0)

// work is the worker loop. The goroutine is pinned to its OS thread
// for its whole life because the assumed fs identity is a property of
// the thread.
func (tp *ThreadPool) work() {
	defer tp.wg.Done()
	runtime.LockOSThread()

	w := &worker{
		tp:    tp,
		tid:   gettid(),
		fsuid: noIdentity,
		fsgid: noIdentity,
		sguid: noIdentity,
	}
	flushsigInit(tp.srv)

	srv := tp.srv
	srv.mu.Lock()
	for !tp.shutdown {
		req := tp.qhead
		if req == nil {
			tp.reqcond.Wait()
			continue
		}
		tp.dequeue(req)
		tp.addWork(req)
		req.worker = w
		srv.mu.Unlock()

		rc, err := srv.process(req, tp)
		srv.postProcess(req, rc, err)

		srv.mu.Lock()
		tp.removeWork(req)
		req.worker = nil
		srv.workDone.Broadcast()
		srv.mu.Unlock()

		req.answerFlushes()
		req.unref()

		srv.mu.Lock()
	}
	srv.mu.Unlock()
}

// account records per-pool statistics after a dispatch.
func (tp *ThreadPool) account(typ uint8, rc *proto.Fcall) {
	atomic.AddUint64(&tp.stats.nreqs[typ], 1)
	if rc == nil {
		return
	}
	switch typ {
	case proto.Tread, proto.Treaddir:
		atomic.AddUint64(&tp.stats.rbytes, uint64(rc.Count))
	case proto.Twrite:
		atomic.AddUint64(&tp.stats.wbytes, uint64(rc.Count))
	}
}

// totalReqs sums the per-type counters.
func (tp *ThreadPool) totalReqs() uint64 {
	var n uint64
	for i := range tp.stats.nreqs {
		n += atomic.LoadUint64(&tp.stats.nreqs[i])
	}
	return n
}

// tpoolSelect binds an attaching fid to its pool, creating the pool
// on first use. Single-pool servers and non-absolute anames (the ctl
// tree included) stay on the default pool.
func (srv *Server) tpoolSelect(req *Req, fid *Fid) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var tp *ThreadPool
	if srv.Flags&TpoolSingle != 0 || fid.Aname == "" || fid.Aname[0] != '/' {
		tp = srv.tpools[0]
	} else {
		for _, t := range srv.tpools[1:] {
			if t.name == fid.Aname {
				tp = t
				break
			}
		}
	}
	if tp == nil {
		tp = srv.newThreadPool(fid.Aname)
		// keep "default" first in the list
		srv.tpools = append(srv.tpools, nil)
		copy(srv.tpools[2:], srv.tpools[1:])
		srv.tpools[1] = tp
	}
	tp.incref()
	fid.tpool = tp
}

// tpoolCleanup destroys pools with no attached fids. It runs in
// connection-remove context so a worker is never asked to join its
// own pool.
func (srv *Server) tpoolCleanup() {
	var dead []*ThreadPool
	srv.mu.Lock()
	kept := srv.tpools[:1]
	for _, tp := range srv.tpools[1:] {
		if tp.refs == 0 {
			tp.shutdown = true
			tp.reqcond.Broadcast()
			dead = append(dead, tp)
		} else {
			kept = append(kept, tp)
		}
	}
	srv.tpools = kept
	srv.mu.Unlock()

	for _, tp := range dead {
		tp.wg.Wait()
	}
}
