package ninep

import (
	"sync"
	"time"

	"aqwari.net/net/ninep/internal/util"
	"aqwari.net/net/ninep/proto"
)

// Request states. A request whose flush was delivered by signal moves
// to reqNoReply: its handler's return value is discarded at the
// transmit boundary.
const (
	reqNormal = iota
	reqNoReply
)

// A Req tracks one T-message from arrival to reply. Requests sit on
// exactly one tpool queue until a worker claims them; Tflush requests
// are never queued and live only on the flush chain of the request
// they target.
type Req struct {
	util.RefCount
	Conn  *Conn
	Tag   uint16
	Tcall *proto.Fcall
	Fid   *Fid

	mu     sync.Mutex // protects state, Rcall, flushq
	state  int
	Rcall  *proto.Fcall
	flushq *Req // chain of Tflush requests answered after completion

	worker *worker
	birth  time.Time

	next, prev *Req // tpool queue / work list links
}

func (srv *Server) newReq(conn *Conn, tc *proto.Fcall) *Req {
	req := &Req{
		Conn:  conn,
		Tag:   tc.Tag,
		Tcall: tc,
		birth: time.Now(),
	}
	req.IncRef()
	conn.incref()
	srv.preprocess(req)
	return req
}

// preprocess resolves the primary fid named by the T-message and
// takes a reference on it, so scheduling can route the request to the
// fid's thread pool. Tauth and Tattach create their fid instead.
func (srv *Server) preprocess(req *Req) {
	tc := req.Tcall
	conn := req.Conn
	switch tc.Type {
	case proto.Tversion, proto.Tflush:
		// no fid
	case proto.Tauth:
		f, err := conn.fids.create(conn, tc.Afid)
		if err != nil {
			break
		}
		f.Aname = tc.Aname
		// auth runs on the default pool; f.tpool stays nil
		req.Fid = f
	case proto.Tattach:
		f, err := conn.fids.create(conn, tc.Fid)
		if err != nil {
			break
		}
		f.Aname = tc.Aname
		srv.tpoolSelect(req, f)
		req.Fid = f
	case proto.Tlink:
		// Tlink routes by its directory fid.
		req.Fid = conn.fids.find(tc.Dfid)
	default:
		// Everything else (including Trenameat and Tunlinkat, whose
		// olddirfid/dirfid decode into Fid) routes by tc.Fid.
		req.Fid = conn.fids.find(tc.Fid)
	}
}

// respond transmits rc as the reply unless the request has been moved
// to reqNoReply, in which case the reply is dropped on the floor.
func (req *Req) respond(rc *proto.Fcall) {
	req.mu.Lock()
	req.Rcall = rc
	if req.state == reqNormal && rc != nil {
		rc.SetTag(req.Tag)
		req.Conn.send(rc)
	}
	req.mu.Unlock()
}

// discard suppresses any future reply; used when the client is gone
// or the request was flushed while still pending.
func (req *Req) discard() {
	req.mu.Lock()
	req.state = reqNoReply
	req.mu.Unlock()
}

// abortPending disposes of a request that was dequeued before any
// worker ran it (flushed, or its connection is resetting). A fid
// created by Tauth/Tattach preprocessing never reached its handler,
// so it leaves the table here or the id would stay burned.
func (req *Req) abortPending() {
	switch req.Tcall.Type {
	case proto.Tauth, proto.Tattach:
		if req.Fid != nil {
			req.Fid.clunk()
		}
	}
	req.discard()
	req.unref()
}

// answerFlushes replies to every Tflush chained on this request. It
// must run after the request has left the work list, and after the
// original reply (if any) was sent.
func (req *Req) answerFlushes() {
	req.mu.Lock()
	chain := req.flushq
	req.flushq = nil
	req.mu.Unlock()

	for fr := chain; fr != nil; {
		next := fr.flushq
		fr.flushq = nil
		fr.respond(proto.NewRflush())
		fr.unref()
		fr = next
	}
}

func (req *Req) unref() {
	if req.DecRef() {
		return
	}
	if req.Fid != nil {
		req.Fid.decref()
		req.Fid = nil
	}
	if req.Conn != nil {
		req.Conn.decref()
		req.Conn = nil
	}
}
