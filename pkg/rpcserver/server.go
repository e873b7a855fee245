// Package rpcserver exposes a *manager.Manager over HTTP+JSON via
// go-chi/chi, one route per spec.md §6 remote operation, the way the
// teacher's internal/http.Server exposes its store over chi routes
// returning a uniform JSON Response.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tabletdb/pkg/manager"
	"tabletdb/pkg/metrics"
)

const defaultShutdownTimeout = 5 * time.Second

// Server wraps a Manager behind an HTTP+JSON transport.
type Server struct {
	mgr        *manager.Manager
	httpServer *http.Server
	addr       string
}

// NewServer builds a Server that will listen on addr (":8080"-style)
// and dispatch every request into mgr.
func NewServer(mgr *manager.Manager, addr string) *Server {
	return &Server{mgr: mgr, addr: addr}
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("rpcserver: listen failed", "error", err)
		}
	}()
	slog.Info("rpcserver: listening", "addr", s.addr)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1/tablet", func(r chi.Router) {
		r.Post("/put", handle(s.put))
		r.Post("/get", handle(s.get))
		r.Post("/scan", handle(s.scan))
		r.Post("/delete", handle(s.delete))
		r.Post("/update", handle(s.update))
		r.Post("/batch-query", handle(s.batchQuery))
		r.Post("/traverse", handle(s.traverse))
		r.Post("/count", handle(s.count))

		r.Post("/create-table", handle(s.createTable))
		r.Post("/load-table", handle(s.loadTable))
		r.Post("/drop-table", handle(s.dropTable))
		r.Post("/change-role", handle(s.changeRole))
		r.Post("/set-mode", handle(s.setMode))
		r.Post("/get-table-status", handle(s.getTableStatus))
		r.Post("/get-table-schema", handle(s.getTableSchema))
		r.Post("/get-term-pair", handle(s.getTermPair))

		r.Post("/add-replica", handle(s.addReplica))
		r.Post("/del-replica", handle(s.delReplica))
		r.Post("/append-entries", handle(s.appendEntries))
		r.Post("/get-table-follower", handle(s.getTableFollower))

		r.Post("/make-snapshot", handle(s.makeSnapshot))
		r.Post("/pause-snapshot", handle(s.pauseSnapshot))
		r.Post("/recover-snapshot", handle(s.recoverSnapshot))
		r.Post("/send-snapshot", handle(s.sendSnapshot))
		r.Post("/send-data", handle(s.sendData))
		r.Post("/check-file", handle(s.checkFile))
		r.Post("/get-manifest", handle(s.getManifest))
		r.Post("/get-all-snapshot-offset", handle(s.getAllSnapshotOffset))

		r.Post("/update-table-meta-for-add-field", handle(s.updateTableMetaForAddField))
		r.Post("/delete-index", handle(s.deleteIndex))
		r.Post("/dump-index-data", handle(s.dumpIndexData))
		r.Post("/execute-gc", handle(s.executeGc))
		r.Post("/delete-binlog", handle(s.deleteBinlog))
		r.Post("/set-expire", handle(s.setExpire))
		r.Post("/set-ttl-clock", handle(s.setTTLClock))
		r.Post("/update-ttl", handle(s.updateTTL))
		r.Post("/connect-zk", handle(s.connectZK))
		r.Post("/disconnect-zk", handle(s.disconnectZK))
		r.Post("/set-concurrency", handle(s.setConcurrency))
		r.Post("/get-task-status", handle(s.getTaskStatus))
		r.Post("/delete-op-task", handle(s.deleteOPTask))
		r.Post("/show-mem-pool", handle(s.showMemPool))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, OK(nil))
}

// handleMetrics renders the node's counters/gauges as Prometheus-style
// text, the way the teacher's handleMetrics stubs a /metrics route
// without adopting a metrics backend the pack never references.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	collector, ok := s.mgr.Metrics().(*metrics.InMemoryCollector)
	if !ok {
		return
	}
	fmt.Fprintf(w, "tabletdb_partitions %g\n", collector.Gauge("tabletdb_partitions", nil))
	for _, kind := range []string{"MakeSnapshot", "SendSnapshot", "DumpIndexData", "DeleteBinlog"} {
		fmt.Fprintf(w, "tabletdb_tasks_started{kind=%q} %g\n", kind,
			collector.Counter("tabletdb_tasks_started", map[string]string{"kind": kind}))
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("rpcserver: encode response failed", "error", err)
	}
}

// handle adapts an (context, Req) -> (Resp, error) operation into an
// http.HandlerFunc: decode the JSON body into Req (skipped if the body
// is empty), dispatch, and render the result as a uniform Response.
func handle[Req any, Resp any](fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, ErrorResponse(fmt.Errorf("decode request: %w", err)))
				return
			}
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			writeJSON(w, ErrorResponse(err))
			return
		}
		writeJSON(w, OK(resp))
	}
}
