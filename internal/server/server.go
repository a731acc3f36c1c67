// Package server serves a read-only dashboard over an output store and the
// run history.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shipstats/internal/aggregate"
	"github.com/TobiSchelling/shipstats/internal/database"
	"github.com/TobiSchelling/shipstats/internal/metrics"
	"github.com/TobiSchelling/shipstats/internal/report"
	"github.com/TobiSchelling/shipstats/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var sortKeys = []string{"tag", "kudos", "hits", "bookmarks", "comments", "words", "works"}

// Server is the HTTP server for the dashboard. The output file is re-read on
// every request, so a batch run in progress shows up as it appends rows.
type Server struct {
	output string
	db     *database.DB
	logger *zap.Logger
	pages  map[string]*template.Template
	mux    *http.ServeMux
}

// New creates a Server over output. db may be nil, in which case the run
// history pages are not served.
func New(output string, db *database.DB, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"comma": func(n int) string { return humanize.Comma(int64(n)) },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"shortID": func(id string) string {
			if len(id) > 8 {
				return id[:8]
			}
			return id
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so their "content" blocks don't collide.
	pageNames := []string{"index.html", "run.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{output: output, db: db, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/runs/", s.handleRun)
	s.mux.HandleFunc("/api/summaries", s.handleSummaries)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	metrics.Init()
	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) summaries(sortKey string) ([]aggregate.Summary, error) {
	rows, err := store.ReadSummaries(s.output)
	if err != nil {
		return nil, err
	}
	return report.Sort(rows, sortKey)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	key := r.URL.Query().Get("sort")
	data := map[string]any{
		"Output":   s.output,
		"Sort":     key,
		"SortKeys": sortKeys,
		"Count":    0,
		"Table":    template.HTML(""),
	}

	rows, err := s.summaries(key)
	if err != nil {
		s.logger.Warn("reading summaries", zap.String("path", s.output), zap.Error(err))
		data["Error"] = err.Error()
	} else {
		table, err := report.RenderMarkdown(report.Markdown(rows, report.Options{Totals: true}))
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		data["Count"] = len(rows)
		data["Table"] = template.HTML(table) //nolint: gosec // tag text is escaped by report.Markdown
	}

	if s.db != nil {
		runs, err := s.db.GetRecentRuns(10)
		if err != nil {
			s.logger.Warn("reading runs", zap.Error(err))
		}
		data["Runs"] = runs
	}

	s.render(w, "index.html", data)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || s.db == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	run, err := s.db.GetRun(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	results, err := s.db.GetRunResults(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "run.html", map[string]any{
		"Output":  s.output,
		"Run":     run,
		"Results": results,
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("sort")
	if key != "" && !slices.Contains(sortKeys, key) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown sort key %q", key)})
		return
	}
	rows, err := s.summaries(key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrCorrupt) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []aggregate.Summary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, []database.Run{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.db.GetRecentRuns(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("name", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("name", name), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the dashboard on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, output string, db *database.DB, logger *zap.Logger) error {
	srv, err := New(output, db, logger)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
