//go:build linux

package ninep

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

func gettid() int { return unix.Gettid() }

var flushsigOnce sync.Once

// flushsigInit arranges for SIGUSR2 to be catchable so that tgkill on
// a worker thread interrupts its blocking syscall with EINTR instead
// of killing the process. Workers call it once per server.
func flushsigInit(srv *Server) {
	if srv.Flags&FlushSig == 0 {
		return
	}
	flushsigOnce.Do(func() {
		signal.Notify(make(chan os.Signal, 1), unix.SIGUSR2)
	})
}

// interruptWorker pokes the OS thread running a flushed request.
func interruptWorker(w *worker) {
	if w.tid != 0 {
		unix.Tgkill(unix.Getpid(), w.tid, unix.SIGUSR2)
	}
}
