// Package devserver is a self-contained form server: the REST routes the
// client package talks to, backed by an in-memory store, plus the /ws push
// hub that announces new responses.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/eventbus"
	"github.com/matthewbaird/formsync/internal/form"
)

// Config holds server configuration.
type Config struct {
	Addr   string
	Store  Store // nil uses a fresh MemoryStore
	Logger *zap.Logger

	// ShutdownTimeout bounds graceful shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration
}

// Server wires the store, event bus and hub behind a chi router.
type Server struct {
	store  Store
	bus    *eventbus.Bus
	hub    *Hub
	log    *zap.Logger
	router chi.Router
	now    func() time.Time
}

// New assembles a Server. Call Start before serving and Close afterwards.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	s := &Server{
		store: store,
		bus:   eventbus.New(256, log),
		hub:   NewHub(log),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.bus.Subscribe("log", eventbus.NewLogConsumer(log))
	s.bus.Subscribe("hub", s.hub)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/ws", s.hub)

	r.Route("/api", func(r chi.Router) {
		r.Route("/forms", func(r chi.Router) {
			r.Post("/", s.createForm)
			r.Get("/", s.listForms)
			r.Get("/shareable/{link}", s.getFormByLink)
			r.Get("/{id}", s.getForm)
			r.Put("/{id}", s.updateForm)
			r.Delete("/{id}", s.deleteForm)
		})
		r.Route("/responses", func(r chi.Router) {
			r.Post("/", s.submitResponse)
			r.Get("/{formID}", s.listResponses)
			r.Get("/{formID}/csv", s.exportResponses)
		})
		r.Get("/analytics/{formID}", s.getAnalytics)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the event bus until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) {
	s.bus.Start(ctx)
}

// Close disconnects websocket clients and drains the event bus.
func (s *Server) Close() {
	s.hub.Close()
	s.bus.Stop()
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config) error {
	s := New(cfg)
	s.Start(ctx)
	defer s.Close()

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	s.log.Info("devserver: listening", zap.String("addr", ln.Addr().String()))

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("devserver: stopped")
	return nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// ── Forms ───────────────────────────────────────────────────────────────────

type formBody struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []form.Field `json:"fields"`
}

func (b formBody) form() form.Form {
	return form.Form{Title: b.Title, Description: b.Description, Fields: b.Fields}
}

// decodeForm reads and validates a create/update body. It writes the error
// response itself and reports whether the caller should continue.
func (s *Server) decodeForm(w http.ResponseWriter, r *http.Request) (form.Form, bool) {
	var body formBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return form.Form{}, false
	}
	f := form.Normalize(body.form())
	if problems := form.ValidateForm(f); len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, strings.Join(problems, "; "), problems)
		return form.Form{}, false
	}
	return f, true
}

func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeForm(w, r)
	if !ok {
		return
	}
	saved, err := s.store.CreateForm(r.Context(), f)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.bus.Publish(eventbus.NewEvent(eventbus.FormCreated, saved.ID, nil))
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	forms, err := s.store.ListForms(r.Context())
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.writeJSON(w, http.StatusOK, forms)
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetForm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) getFormByLink(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFormByLink(r.Context(), chi.URLParam(r, "link"))
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) updateForm(w http.ResponseWriter, r *http.Request) {
	f, ok := s.decodeForm(w, r)
	if !ok {
		return
	}
	saved, err := s.store.UpdateForm(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.bus.Publish(eventbus.NewEvent(eventbus.FormUpdated, saved.ID, nil))
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteForm(r.Context(), id); err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.bus.Publish(eventbus.NewEvent(eventbus.FormDeleted, id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// ── Responses ───────────────────────────────────────────────────────────────

type submitBody struct {
	FormID    string         `json:"formId"`
	Responses map[string]any `json:"responses"`
}

func (s *Server) submitResponse(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if body.FormID == "" {
		s.writeError(w, http.StatusBadRequest, "formId is required", nil)
		return
	}

	f, err := s.store.GetForm(r.Context(), body.FormID)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	if problems := form.ValidateResponses(f.Fields, body.Responses); len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, "validation failed", problems)
		return
	}

	now := s.now()
	saved, err := s.store.AddResponse(r.Context(), form.Response{
		FormID:      f.ID,
		Responses:   body.Responses,
		SubmittedAt: &now,
	})
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.bus.Publish(eventbus.NewEvent(eventbus.ResponseSubmitted, f.ID, saved.ID))
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := s.store.ListResponses(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.writeJSON(w, http.StatusOK, responses)
}

func (s *Server) exportResponses(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	f, err := s.store.GetForm(r.Context(), formID)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	responses, err := s.store.ListResponses(r.Context(), formID)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}

	var buf bytes.Buffer
	if err := writeCSV(&buf, f, responses); err != nil {
		s.log.Error("http: csv export", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to build csv", nil)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="form_%s_responses.csv"`, formID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ── Analytics ───────────────────────────────────────────────────────────────

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	f, err := s.store.GetForm(r.Context(), formID)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	responses, err := s.store.ListResponses(r.Context(), formID)
	if err != nil {
		s.storeError(w, err, "form")
		return
	}
	s.writeJSON(w, http.StatusOK, Aggregate(f, responses, s.now()))
}
