package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vidkeep/internal/api"
	"vidkeep/internal/archive"
	"vidkeep/internal/catalog"
	"vidkeep/internal/config"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/backoff", srv.handleBackoff)
	mux.HandleFunc("/api/scheduler", srv.handleScheduler)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/queue/", srv.handleJob)
	mux.HandleFunc("/api/subscriptions", srv.handleSubscriptions)
	mux.HandleFunc("/api/subscriptions/", srv.handleSubscription)
	mux.HandleFunc("/api/videos", srv.handleVideos)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Queue:        api.FromQueueStats(status.Queue),
		Scheduler:    api.FromSchedulerEntries(status.Scheduler),
		Backoff:      api.FromBackoff(status.Backoff),
	})
}

func (s *apiServer) handleBackoff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBackoff(s.daemon.manager.BackoffStatus()))
}

func (s *apiServer) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSchedulerEntries(s.daemon.manager.SchedulerStatus()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var status queue.JobStatus
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status = queue.JobStatus(value)
	}
	limit, _ := strconv.Atoi(query.Get("limit"))

	jobs, err := s.daemon.queue.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.daemon.queue.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]api.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, api.FromJob(job))
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Jobs: views, Stats: api.FromQueueStats(stats)})
}

// handleJob routes /api/queue/{id} and /api/queue/{id}/{action}.
func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDAction(strings.TrimPrefix(r.URL.Path, "/api/queue/"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.daemon.queue.GetByID(r.Context(), id)
		if err != nil {
			s.writeQueueError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
	case r.Method == http.MethodPost:
		var err error
		switch action {
		case "retry":
			err = s.daemon.manager.RetryJob(r.Context(), id)
		case "pause":
			err = s.daemon.manager.PauseDownload(r.Context(), id)
		case "resume":
			err = s.daemon.manager.ResumeJob(r.Context(), id)
		default:
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			s.writeQueueError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nil)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subs, err := s.daemon.catalog.ListSubscriptions(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]api.SubscriptionView, 0, len(subs))
		for _, sub := range subs {
			views = append(views, api.FromSubscription(sub))
		}
		s.writeJSON(w, http.StatusOK, api.SubscriptionListResponse{Subscriptions: views})
	case http.MethodPost:
		var req api.CreateSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sub, err := s.daemon.manager.CreateSubscription(r.Context(), archive.SubscriptionRequest{
			SourceURL:         req.SourceURL,
			Type:              req.Type,
			Quality:           req.Quality,
			SubtitleLanguages: req.SubtitleLanguages,
			ContentTypes:      req.ContentTypes,
			CheckFrequency:    req.CheckFrequency,
			MaxItems:          req.MaxItems,
			AutoDownload:      req.AutoDownload,
		})
		if err != nil {
			s.writeArchiveError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.SubscriptionResponse{Subscription: api.FromSubscription(sub)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSubscription routes /api/subscriptions/{id} and
// /api/subscriptions/{id}/{action}.
func (s *apiServer) handleSubscription(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDAction(strings.TrimPrefix(r.URL.Path, "/api/subscriptions/"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		sub, err := s.daemon.catalog.GetSubscription(r.Context(), id)
		if err != nil {
			s.writeArchiveError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.SubscriptionResponse{Subscription: api.FromSubscription(sub)})
	case action == "" && r.Method == http.MethodDelete:
		if err := s.daemon.manager.DeleteSubscription(r.Context(), id); err != nil {
			s.writeArchiveError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nil)
	case r.Method == http.MethodPost:
		switch action {
		case "trigger":
			job, err := s.daemon.manager.TriggerDiscoveryNow(r.Context(), id)
			if err != nil {
				s.writeArchiveError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
		case "pause":
			if err := s.daemon.manager.PauseSubscription(r.Context(), id); err != nil {
				s.writeArchiveError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, nil)
		case "resume":
			if err := s.daemon.manager.ResumeSubscription(r.Context(), id); err != nil {
				s.writeArchiveError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, nil)
		default:
			s.writeError(w, http.StatusNotFound, "not found")
		}
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.AddVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.daemon.manager.AddVideoByURL(r.Context(), req.URL, req.AutoDownload, req.Quality)
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

// splitIDAction parses "{id}" or "{id}/{action}" path tails.
func splitIDAction(tail string) (int64, string, bool) {
	tail = strings.Trim(tail, "/")
	if tail == "" {
		return 0, "", false
	}
	idPart, action, _ := strings.Cut(tail, "/")
	if strings.Contains(action, "/") {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, action, true
}

func (s *apiServer) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeArchiveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, archive.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
