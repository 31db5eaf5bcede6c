package ninep

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"aqwari.net/net/ninep/proto"
)

// The server's counters are plain atomics (they also feed the ctl
// tpools file); this collector snapshots them for a prometheus
// scrape. Register it with any Registerer:
//
//	prometheus.MustRegister(srv.Collector())
type serverCollector struct {
	srv *Server

	requests *prometheus.Desc
	rbytes   *prometheus.Desc
	wbytes   *prometheus.Desc
	queued   *prometheus.Desc
	conns    *prometheus.Desc
}

// Collector returns a prometheus collector exposing per-pool request
// and byte counters plus connection gauges.
func (srv *Server) Collector() prometheus.Collector {
	srv.init()
	return &serverCollector{
		srv: srv,
		requests: prometheus.NewDesc("ninep_requests_total",
			"9P requests dispatched", []string{"pool", "type"}, nil),
		rbytes: prometheus.NewDesc("ninep_read_bytes_total",
			"Bytes returned by Tread/Treaddir", []string{"pool"}, nil),
		wbytes: prometheus.NewDesc("ninep_written_bytes_total",
			"Bytes accepted by Twrite", []string{"pool"}, nil),
		queued: prometheus.NewDesc("ninep_requests_queued",
			"Requests waiting for a worker", []string{"pool"}, nil),
		conns: prometheus.NewDesc("ninep_connections",
			"Live client connections", nil, nil),
	}
}

func (c *serverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.rbytes
	ch <- c.wbytes
	ch <- c.queued
	ch <- c.conns
}

func (c *serverCollector) Collect(ch chan<- prometheus.Metric) {
	srv := c.srv
	srv.mu.Lock()
	tps := append([]*ThreadPool(nil), srv.tpools...)
	nconns := len(srv.conns)
	depths := make([]int, len(tps))
	for i, tp := range tps {
		depths[i] = tp.queueDepth()
	}
	srv.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(nconns))
	for i, tp := range tps {
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue,
			float64(depths[i]), tp.name)
		ch <- prometheus.MustNewConstMetric(c.rbytes, prometheus.CounterValue,
			float64(atomic.LoadUint64(&tp.stats.rbytes)), tp.name)
		ch <- prometheus.MustNewConstMetric(c.wbytes, prometheus.CounterValue,
			float64(atomic.LoadUint64(&tp.stats.wbytes)), tp.name)
		for typ := range tp.stats.nreqs {
			n := atomic.LoadUint64(&tp.stats.nreqs[typ])
			if n == 0 {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
				float64(n), tp.name, proto.TypeName(uint8(typ)))
		}
	}
}
