// Package metrics exposes a debug Prometheus endpoint for the dispatcher
// and analyzer: one counter vector keyed by FUSE op name and outcome,
// incremented once per callback, and one keyed by analyzer job outcome,
// incremented once per job. This is scoped-down ambient observability,
// not a full tracing/metrics subsystem.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the op/result counters. The zero value is not usable;
// construct with New.
type Recorder struct {
	ops      *prometheus.CounterVec
	analyzer *prometheus.CounterVec
	registry *prometheus.Registry
	httpSrv  *http.Server
}

// New builds a Recorder with its own registry, so that mounting more than
// one eidetic instance in a process never collides on metric registration.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	ops := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "eidetic",
		Subsystem: "dispatcher",
		Name:      "ops_total",
		Help:      "FUSE callbacks served, by operation and outcome.",
	}, []string{"op", "result"})

	analyzer := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "eidetic",
		Subsystem: "analyzer",
		Name:      "jobs_total",
		Help:      "Analyzer jobs processed, by outcome.",
	}, []string{"result"})

	return &Recorder{ops: ops, analyzer: analyzer, registry: reg}
}

// Observe records the outcome of one FUSE callback. Call via defer so it
// fires regardless of which return path the handler takes:
//
//	defer func() { m.Observe("ReadFile", err) }()
func (r *Recorder) Observe(op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ops.WithLabelValues(op, result).Inc()
}

// ObserveAnalyzer records the outcome of one analyzer job.
func (r *Recorder) ObserveAnalyzer(ok bool) {
	if r == nil {
		return
	}
	result := "tagged"
	if !ok {
		result = "skipped"
	}
	r.analyzer.WithLabelValues(result).Inc()
}

// Serve starts the debug /metrics endpoint on addr and blocks until ctx is
// canceled, at which point it shuts the listener down. Opt-in only: callers
// that don't want the endpoint simply never call Serve.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	r.httpSrv = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- r.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return r.httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
