// Package api exposes stored decomposition runs over HTTP: JSON endpoints
// for run metadata and RTDs, an interactive HTML report, and Prometheus
// metrics.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sip-data/debye.report/internal/db"
	"github.com/sip-data/debye.report/internal/decomp"
	"github.com/sip-data/debye.report/internal/httputil"
	"github.com/sip-data/debye.report/internal/report"
)

type Server struct {
	store    *db.Store
	registry *prometheus.Registry
}

func NewServer(store *db.Store, registry *prometheus.Registry) *Server {
	return &Server{store: store, registry: registry}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", s.listRuns)
	mux.HandleFunc("/run", s.getRun)
	mux.HandleFunc("/rtd", s.getRTD)
	mux.HandleFunc("/report", s.getReport)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte("Debye decomposition result server. Endpoints: /runs /run?id= /rtd?id=&idx= /report?id=\n"))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing id parameter")
		return
	}

	run, err := s.store.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "run not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return
	}
	spectra, err := s.store.SpectraForRun(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load spectra: %v", err))
		return
	}

	httputil.WriteJSONOK(w, struct {
		Run     *db.Run             `json:"run"`
		Spectra []db.SpectrumResult `json:"spectra"`
	}{run, spectra})
}

func (s *Server) getRTD(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("id")
	idx, err := strconv.Atoi(r.URL.Query().Get("idx"))
	if id == "" || err != nil {
		httputil.BadRequest(w, "missing or invalid id/idx parameters")
		return
	}

	taus, ms, err := s.store.RTDForSpectrum(id, idx)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load rtd: %v", err))
		return
	}
	if len(taus) == 0 {
		httputil.NotFound(w, "spectrum not found")
		return
	}

	httputil.WriteJSONOK(w, struct {
		Taus []float64 `json:"taus"`
		M    []float64 `json:"m"`
	}{taus, ms})
}

// getReport rebuilds report items from the store and renders the echarts
// page for one run.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing id parameter")
		return
	}
	if _, err := s.store.GetRun(id); errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "run not found")
		return
	} else if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return
	}

	spectra, err := s.store.SpectraForRun(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load spectra: %v", err))
		return
	}

	items := make([]report.Item, 0, len(spectra))
	for _, sr := range spectra {
		taus, ms, err := s.store.RTDForSpectrum(id, sr.Index)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load rtd: %v", err))
			return
		}
		path, err := s.store.PathForSpectrum(id, sr.Index)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load lcurve: %v", err))
			return
		}

		var params decomp.IntegralParams
		if sr.ParamsJSON != "" {
			if err := json.Unmarshal([]byte(sr.ParamsJSON), &params); err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("corrupt params for spectrum %d: %v", sr.Index, err))
				return
			}
		}

		items = append(items, report.Item{
			Label: sr.Label,
			Grid:  &decomp.TauGrid{Taus: taus},
			Fit: &decomp.FitResult{
				M:           ms,
				Scale:       sr.Scale,
				Lambda:      sr.Lambda,
				Converged:   sr.Converged,
				CornerFound: sr.CornerFound,
				Path:        path,
			},
			Params: &params,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(w, "Run "+id, items); err != nil {
		log.Printf("render report for run %s: %v", id, err)
	}
}
