//go:build !linux

package ninep

// Without tgkill there is no way to aim a signal at one worker
// thread; flushed requests simply run to completion.

func gettid() int { return 0 }

func flushsigInit(srv *Server) {}

func interruptWorker(w *worker) {}
