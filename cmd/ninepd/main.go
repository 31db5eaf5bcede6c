// Command ninepd serves directories over 9P2000.L to v9fs clients.
//
//	ninepd --listen tcp:0.0.0.0:564 --export /scratch:hosts=a[0-15] --export /home
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aqwari.net/net/ninep"
	"aqwari.net/net/ninep/hostfs"
)

type options struct {
	listen      []string
	exports     []string
	nwthreads   int
	msize       uint32
	exportAll   bool
	allsquash   bool
	squashuser  string
	noUserDB    bool
	noSetfsid   bool
	maxMmap     int
	statfsPass  bool
	singlePool  bool
	flushsig    bool
	dacBypass   bool
	looseFid    bool
	debug       bool
	metricsAddr string
}

// parseExport understands PATH[:opt[,opt...]] with opts ro, suppress,
// sharefd, noauth, users=a+b (names joined with +), hosts=EXPR.
func parseExport(s string) (hostfs.Export, error) {
	var x hostfs.Export
	path, opts, _ := strings.Cut(s, ":")
	x.Path = path
	x.Opts = opts
	for _, opt := range strings.Split(opts, ",") {
		switch {
		case opt == "":
		case opt == "ro":
			x.Flags |= hostfs.ExportRO
		case opt == "suppress":
			x.Flags |= hostfs.ExportSuppress
		case opt == "sharefd":
			x.Flags |= hostfs.ExportShareFD
		case opt == "noauth":
			x.Flags |= hostfs.ExportNoAuth
		case strings.HasPrefix(opt, "users="):
			x.Users = strings.ReplaceAll(strings.TrimPrefix(opt, "users="), "+", ",")
		case strings.HasPrefix(opt, "hosts="):
			x.Hosts = strings.TrimPrefix(opt, "hosts=")
		default:
			return x, fmt.Errorf("unknown export option %q", opt)
		}
	}
	return x, nil
}

func run(opt *options, log *logrus.Logger) error {
	var flags ninep.Flags
	if !opt.noSetfsid && os.Geteuid() == 0 {
		flags |= ninep.SetFsID
	}
	if opt.noUserDB {
		flags |= ninep.NoUserDB
	}
	if opt.singlePool {
		flags |= ninep.TpoolSingle
	}
	if opt.flushsig {
		flags |= ninep.FlushSig
	}
	if opt.dacBypass {
		flags |= ninep.DacBypass
	}
	if opt.looseFid {
		flags |= ninep.LooseFid
	}
	if opt.debug {
		flags |= ninep.Debug9P
		log.SetLevel(logrus.DebugLevel)
	}

	srv := &ninep.Server{
		Msize:      opt.msize,
		NumWorkers: opt.nwthreads,
		Flags:      flags,
		Log:        log,
	}

	cfg := hostfs.Config{
		ExportAll:      opt.exportAll,
		AllSquash:      opt.allsquash,
		SquashUser:     opt.squashuser,
		MaxMmap:        opt.maxMmap,
		StatfsPassthru: opt.statfsPass,
	}
	for _, s := range opt.exports {
		x, err := parseExport(s)
		if err != nil {
			return err
		}
		cfg.Exports = append(cfg.Exports, x)
	}
	if len(cfg.Exports) == 0 && !cfg.ExportAll {
		return fmt.Errorf("nothing to export; use --export or --export-all")
	}
	fs, err := hostfs.New(srv, cfg, log)
	if err != nil {
		return err
	}
	srv.AuthRequired = fs.AuthRequired

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var listeners []net.Listener
	for _, addr := range opt.listen {
		network, address, ok := strings.Cut(addr, ":")
		if !ok || (network != "tcp" && network != "unix") {
			return fmt.Errorf("bad listen address %q (want tcp:host:port or unix:path)", addr)
		}
		l, err := net.Listen(network, address)
		if err != nil {
			return err
		}
		listeners = append(listeners, l)
		log.Infof("listening on %s", addr)
		g.Go(func() error { return srv.Serve(l) })
	}

	if opt.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(srv.Collector())
		ms := &http.Server{
			Addr:    opt.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Go(ms.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			return ms.Close()
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, l := range listeners {
			l.Close()
		}
		return ctx.Err()
	})

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info("shutting down")
		return nil
	}
	return err
}

func main() {
	opt := &options{}
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:           "ninepd",
		Short:         "9P2000.L file server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, log)
		},
	}
	f := root.Flags()
	f.StringArrayVarP(&opt.listen, "listen", "l", []string{"tcp:0.0.0.0:564"},
		"listen address (tcp:host:port or unix:path); repeatable")
	f.StringArrayVarP(&opt.exports, "export", "e", nil,
		"export PATH[:opt,...]; opts ro,suppress,sharefd,noauth,users=,hosts=")
	f.IntVarP(&opt.nwthreads, "nwthreads", "w", ninep.DefaultNumWorkers,
		"worker threads per thread pool")
	f.Uint32Var(&opt.msize, "msize", 0, "max message size (default 1 MiB)")
	f.BoolVarP(&opt.exportAll, "export-all", "E", false, "export all mounted filesystems")
	f.BoolVar(&opt.allsquash, "allsquash", false, "remap all users to the squash user")
	f.StringVar(&opt.squashuser, "squashuser", "nobody", "user to squash to")
	f.BoolVar(&opt.noUserDB, "no-userdb", false, "synthesize users from numeric ids")
	f.BoolVar(&opt.noSetfsid, "no-setfsid", false, "do not assume per-request fs identity")
	f.IntVar(&opt.maxMmap, "maxmmap", 0, "max bytes to mmap per shared read-only file")
	f.BoolVar(&opt.statfsPass, "statfs-passthru", false, "report the real filesystem type in statfs")
	f.BoolVar(&opt.singlePool, "single-tpool", false, "serve all exports from one thread pool")
	f.BoolVar(&opt.flushsig, "flushsig", false, "interrupt flushed requests with SIGUSR2")
	f.BoolVar(&opt.dacBypass, "dac-bypass", false, "raise DAC capabilities for root-authenticated clients")
	f.BoolVar(&opt.looseFid, "loosefid", false, "tolerate buggy clients that reuse fids")
	f.BoolVarP(&opt.debug, "debug", "d", false, "log every 9P message")
	f.StringVar(&opt.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
