package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imgbatch/internal/config"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/manifest"
	"imgbatch/internal/pipeline"
)

const maxManifestBytes = 32 << 20

// SubmitResponse is returned for accepted and rejected manifests.
type SubmitResponse struct {
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// ListResponse wraps a job listing.
type ListResponse struct {
	Jobs []*jobstore.Job `json:"jobs"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("POST /upload", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleStatus)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/jobs/{id}/items", s.handleItems)
	mux.Handle("GET /images/{key}", s.daemon.objects.Handler())
	mux.Handle("GET /api/events", s.daemon.hub)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.withRequestID(mux)
}

// Handler exposes the API routes without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return d.api.server.Handler
}

func (s *apiServer) start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)
	r.Body = http.MaxBytesReader(w, r.Body, maxManifestBytes)

	rows, err := readManifest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "manifest too large")
			return
		}
		logger.Info("manifest unreadable", logging.Error(err))
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.daemon.orch.Submit(r.Context(), rows)
	if err != nil {
		var verr *manifest.ValidationError
		switch {
		case errors.As(err, &verr) && id != "":
			s.writeJSON(w, http.StatusBadRequest, SubmitResponse{JobID: id, Error: verr.Error()})
		case errors.Is(err, pipeline.ErrShuttingDown):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			logger.Error("submit failed", logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "submit failed")
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id})
}

// readManifest accepts a multipart upload in the "file" field or a raw body.
func readManifest(r *http.Request) ([]manifest.Row, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return manifest.Parse("", r.Header.Get("Content-Type"), r.Body)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read upload field %q: %w", "file", err)
	}
	defer file.Close()
	return manifest.Parse(header.Filename, header.Header.Get("Content-Type"), file)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []jobstore.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, jobstore.Status(trimmed))
	}
	jobs, err := s.daemon.orch.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*jobstore.Job{}
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Jobs: jobs})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.orch.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleItems(w http.ResponseWriter, r *http.Request) {
	detail, err := s.daemon.orch.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	code := http.StatusOK
	for _, check := range status.Checks {
		if !check.Passed {
			code = http.StatusServiceUnavailable
			break
		}
	}
	s.writeJSON(w, code, status)
}

func (s *apiServer) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jobstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, jobstore.ErrNotFound.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Error("job lookup failed", logging.Error(err))
	s.writeError(w, http.StatusInternalServerError, "job lookup failed")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
