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
	"sync"
	"sync/atomic"
	"time"

	"playrunaddict/internal/api"
	"playrunaddict/internal/config"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/logging"
	"playrunaddict/internal/watch"
)

// webhookLookupTimeout bounds the Drive metadata fetch that turns a push
// notification into a change event. The notification is acknowledged
// before this work starts so Drive does not retry the channel.
const webhookLookupTimeout = 30 * time.Second

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	ledgerSvc *api.LedgerService

	listener net.Listener
	server   *http.Server

	closing  atomic.Bool
	webhooks sync.WaitGroup
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:      bind,
		logger:    logger,
		daemon:    d,
		ledgerSvc: api.NewLedgerService(d.store),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/ledger", srv.handleLedger)
	mux.HandleFunc("/api/ledger/", srv.handleLedgerRecord)
	mux.HandleFunc("/api/check", srv.handleCheck)
	if cfg.Watch.WebhookEnabled {
		mux.HandleFunc("/webhook/drive", srv.handleWebhook)
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
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
	if s == nil {
		return
	}
	s.closing.Store(true)
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.webhooks.Wait()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var states []ledger.State
	for _, value := range r.URL.Query()["state"] {
		state, ok := ledger.ParseState(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", value))
			return
		}
		states = append(states, state)
	}

	records, err := s.ledgerSvc.List(r.Context(), states...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LedgerListResponse{Records: records})
}

func (s *apiServer) handleLedgerRecord(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/ledger/")
	if retryID, ok := strings.CutSuffix(rest, "/retry"); ok {
		s.handleRetry(w, r, retryID)
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := parseRecordID(rest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.ledgerSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if view == nil {
		s.writeError(w, http.StatusNotFound, "ledger record not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.LedgerRecordResponse{Record: *view})
}

// handleRetry re-submits the (file, revision) behind a failed or abandoned
// record. Admission applies as usual, so a run that completed in the
// meantime is not repeated.
func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := parseRecordID(idStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "ledger record not found")
		return
	}
	switch record.State {
	case ledger.StateRunning:
		s.writeError(w, http.StatusConflict, "run is still in progress")
		return
	case ledger.StateDone:
		s.writeError(w, http.StatusConflict, "revision already processed")
		return
	}

	submitted := s.daemon.manager.Submit(watch.ChangeEvent{
		FileID:     record.FileID,
		RevisionID: record.RevisionID,
		Name:       record.Name,
		ObservedAt: time.Now().UTC(),
		Source:     watch.SourceManual,
	})
	s.writeJSON(w, http.StatusAccepted, api.RetryResponse{
		Submitted:  submitted,
		FileID:     record.FileID,
		RevisionID: record.RevisionID,
	})
}

func (s *apiServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	changed, submitted, err := s.daemon.manager.Poll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CheckResponse{Changed: changed, Submitted: submitted})
}

// handleWebhook acknowledges Drive push notifications quickly and resolves
// them to change events off the request path.
func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	notification := watch.ParseNotification(r.Header)
	if !notification.Authorized(s.daemon.cfg.Watch.WebhookSecret) {
		s.writeError(w, http.StatusForbidden, "invalid channel token")
		return
	}
	if s.closing.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	baseCtx := s.daemon.ctx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	// Tracked on the server's own wait group: Shutdown below drains the
	// request handlers first, so every Add has happened by the time stop
	// waits on it.
	s.webhooks.Add(1)
	go func() {
		defer s.webhooks.Done()
		ctx, cancel := context.WithTimeout(baseCtx, webhookLookupTimeout)
		defer cancel()

		event, err := watch.Normalize(ctx, notification, s.daemon.lookup, s.daemon.cfg.Drive.PlaylistMimeTypes)
		if err != nil {
			s.log().WarnContext(ctx, "webhook normalization failed",
				logging.String("resource_id", notification.ResourceID),
				logging.Error(err))
			return
		}
		if event == nil {
			return
		}
		s.daemon.manager.Submit(*event)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func parseRecordID(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return 0, errors.New("invalid ledger record id")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New("invalid ledger record id")
	}
	return id, nil
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
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.NewNop()
}
