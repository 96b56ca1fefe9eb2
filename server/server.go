// Package server exposes the QA pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"kbqa/llm"
	"kbqa/llm/qa"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Text string `json:"text"`
}

// AskResponse is returned by POST /ask on success.
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves one pipeline. Requests queue behind the pipeline's
// single-turn lock.
type Server struct {
	pipeline *qa.Pipeline
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New creates a Server. A nil gatherer serves the default registry.
func New(pipeline *qa.Pipeline, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pipeline: pipeline, gatherer: gatherer, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/ask", s.ask).Methods(http.MethodPost)
	return router
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": s.pipeline.State().String()})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	started := time.Now()
	turn, err := s.pipeline.Ask(r.Context(), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer turn.Close()

	answer, err := turn.Drain()
	if err != nil {
		s.fail(w, err)
		return
	}

	s.logger.Info("answered",
		zap.Int("docs", len(turn.Sources())),
		zap.Duration("duration", time.Since(started)))
	writeJSON(w, http.StatusOK, AskResponse{Answer: answer, Sources: sources(turn)})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Warn("ask failed", zap.Error(err))
	status := http.StatusBadGateway
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// sources lists distinct source paths in retrieval order.
func sources(turn *qa.Turn) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, doc := range turn.Sources() {
		src, _ := doc.MetaData[llm.MetaSource].(string)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
