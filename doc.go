// Package ninep implements the server side of the 9P2000.L protocol,
// the Linux dialect of 9P spoken by the v9fs kernel client.
//
// The engine in this package owns the protocol state machine:
// connections and their reader goroutines, tags and flush chains,
// fids and their reference counts, per-export worker pools, the user
// cache, per-request fs identity, and the synthetic ctl tree. What
// the exported files actually contain is delegated to a Backend; the
// hostfs subpackage provides the one that serves the host file
// system.
//
// A minimal server:
//
//	srv := &ninep.Server{Log: logrus.StandardLogger()}
//	fs, err := hostfs.New(srv, hostfs.Config{
//		Exports: []hostfs.Export{{Path: "/srv/data"}},
//	}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = fs
//	log.Fatal(srv.ListenAndServe("tcp", ":564"))
//
// Clients mount it with
//
//	mount -t 9p -o trans=tcp,port=564,aname=/srv/data host /mnt
package ninep
