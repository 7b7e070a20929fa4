// Package dashboard serves a read-only view of scan progress.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"StockScanner/internal/index"
	"StockScanner/internal/model"
)

//go:embed static
var staticFS embed.FS

const nameTTL = 5 * time.Minute

// Progress is the index side the dashboard reads.
type Progress interface {
	CompletedCounts() ([]index.TableCount, error)
	FailureSummary() ([]index.TableCount, error)
	Failures(table string, limit int) ([]index.Failure, error)
	Runs(limit int) ([]index.Run, error)
	Completion() (map[string]map[string]bool, error)
}

// Catalog supplies the target universe and display names.
type Catalog interface {
	Instruments(ctx context.Context) ([]model.Instrument, error)
	PricedInstruments(ctx context.Context) ([]string, error)
}

// Server is the dashboard HTTP handler set.
type Server struct {
	progress Progress
	catalog  Catalog
	tables   []string
	now      func() time.Time

	mu        sync.Mutex
	names     map[string]string
	namesTime time.Time
}

// New creates a dashboard over the given index and catalog.
func New(p Progress, c Catalog) *Server {
	return &Server{progress: p, catalog: c, tables: model.TrackedTables, now: time.Now}
}

// Router returns the dashboard routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/stocks", s.handleStocks)
	r.Get("/api/failures", s.handleFailures)
	r.Get("/api/runs", s.handleRuns)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		page, err := fs.ReadFile(staticFS, "static/index.html")
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("dashboard listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type tableStat struct {
	Table     string `json:"table"`
	Completed int    `json:"completed"`
	Remaining int    `json:"remaining"`
	Failures  int    `json:"failures"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	priced, err := s.catalog.PricedInstruments(r.Context())
	if err != nil {
		log.WithError(err).Warn("dashboard: priced instruments unavailable")
	}
	completed, err := s.progress.CompletedCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	failed, err := s.progress.FailureSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	done := countsByTable(completed)
	fails := countsByTable(failed)
	stats := make([]tableStat, 0, len(s.tables))
	for _, t := range s.tables {
		remaining := len(priced) - done[t]
		if remaining < 0 {
			remaining = 0
		}
		stats = append(stats, tableStat{Table: t, Completed: done[t], Remaining: remaining, Failures: fails[t]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"targets":      len(priced),
		"tables":       stats,
		"generated_at": s.now(),
	})
}

type stockRow struct {
	StockID  string          `json:"stock_id"`
	Name     string          `json:"name"`
	Tables   map[string]bool `json:"tables"`
	Complete int             `json:"complete"`
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	matrix, err := s.progress.Completion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	ids := map[string]bool{}
	for id := range matrix {
		ids[id] = true
	}
	if priced, err := s.catalog.PricedInstruments(r.Context()); err == nil {
		for _, id := range priced {
			ids[id] = true
		}
	}

	names := s.stockNames(r.Context())
	rows := make([]stockRow, 0, len(ids))
	for id := range ids {
		row := stockRow{StockID: id, Name: names[id], Tables: map[string]bool{}}
		for _, t := range s.tables {
			row.Tables[t] = matrix[id][t]
			if matrix[id][t] {
				row.Complete++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StockID < rows[j].StockID })
	writeJSON(w, http.StatusOK, map[string]any{"tables": s.tables, "stocks": rows})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.progress.Failures(r.URL.Query().Get("table"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if failures == nil {
		failures = []index.Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.progress.Runs(queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []index.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// stockNames returns code → name, refreshed at most every nameTTL. A
// failed refresh keeps serving the previous map.
func (s *Server) stockNames(ctx context.Context) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names != nil && s.now().Sub(s.namesTime) < nameTTL {
		return s.names
	}
	instruments, err := s.catalog.Instruments(ctx)
	if err != nil {
		log.WithError(err).Warn("dashboard: instrument names unavailable")
		if s.names == nil {
			return map[string]string{}
		}
		return s.names
	}
	names := make(map[string]string, len(instruments))
	for _, in := range instruments {
		names[in.StockID()] = in.Name
	}
	s.names, s.namesTime = names, s.now()
	return names
}

func countsByTable(counts []index.TableCount) map[string]int {
	m := make(map[string]int, len(counts))
	for _, c := range counts {
		m[c.Table] = c.Count
	}
	return m
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("dashboard request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
