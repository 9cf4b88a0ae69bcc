package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/harmoney/internal/billing"
	appmw "github.com/briangreenhill/harmoney/internal/http/middleware"
	"github.com/briangreenhill/harmoney/internal/jobs"
	"github.com/briangreenhill/harmoney/internal/member"
)

type MemberResolver interface {
	Resolve(ctx context.Context, identifier string) (*member.Member, error)
}

// BillingReader is satisfied by *billing.Client.
type BillingReader interface {
	Subscriber(ctx context.Context, m *member.Member) (*billing.Subscriber, error)
	Wallet(ctx context.Context, m *member.Member, referenceID string) (*billing.Wallet, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is satisfied by *asynq.Inspector.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

type Server struct {
	Router    *chi.Mux
	Resolver  MemberResolver
	Billing   BillingReader
	Queue     Enqueuer
	Inspector TaskInspector
}

type ServerOptions struct {
	Resolver  MemberResolver
	Billing   BillingReader // optional
	Queue     Enqueuer      // optional
	Inspector TaskInspector // optional
	APIKey    string
	Logger    zerolog.Logger
	Gatherer  prometheus.Gatherer // nil means the default registry
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Resolver: opts.Resolver, Billing: opts.Billing, Queue: opts.Queue, Inspector: opts.Inspector}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	metrics := promhttp.Handler()
	if opts.Gatherer != nil {
		metrics = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireAPIKey(opts.APIKey))
		pr.Get("/members/{memberID}", s.handleGetMember)
		pr.Get("/members/{memberID}/subscriber", s.handleGetSubscriber)
		pr.Get("/members/{memberID}/wallet", s.handleGetWallet)
		pr.Post("/members/{memberID}/resolve", s.handleEnqueueResolve)
		pr.Get("/tasks/{queue}/{taskID}", s.handleGetTask)
	})

	return s
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

func (s *Server) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, r, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	m, ok := s.resolve(w, r)
	if !ok {
		return
	}
	sub, err := s.Billing.Subscriber(r.Context(), m)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("member_id", m.ID).Msg("subscriber lookup failed")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	writeJSON(w, r, http.StatusOK, sub)
}

// handleGetWallet uses ?referenceId= when given, else the subscriber's folder id.
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, r, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	m, ok := s.resolve(w, r)
	if !ok {
		return
	}
	wallet, err := s.Billing.Wallet(r.Context(), m, r.URL.Query().Get("referenceId"))
	if errors.Is(err, member.ErrMemberNotFound) {
		hlog.FromRequest(r).Info().Err(err).Str("member_id", m.ID).Msg("wallet not found")
		writeError(w, r, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("member_id", m.ID).Msg("wallet lookup failed")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	writeJSON(w, r, http.StatusOK, wallet)
}

func (s *Server) handleEnqueueResolve(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		writeError(w, r, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	id := chi.URLParam(r, "memberID")
	task, err := jobs.NewResolveMemberTask(id, chimw.GetReqID(r.Context()))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("build resolve task")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	info, err := s.Queue.Enqueue(task)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("identifier", id).Msg("enqueue resolve task")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	hlog.FromRequest(r).Info().Str("task_id", info.ID).Str("queue", info.Queue).Msg("resolve task queued")
	writeJSON(w, r, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
}

type taskView struct {
	ID     string          `json:"id"`
	Queue  string          `json:"queue"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.Inspector == nil {
		writeError(w, r, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	info, err := s.Inspector.GetTaskInfo(chi.URLParam(r, "queue"), chi.URLParam(r, "taskID"))
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		writeError(w, r, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("task lookup failed")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	v := taskView{ID: info.ID, Queue: info.Queue, State: info.State.String()}
	if len(info.Result) > 0 && json.Valid(info.Result) {
		v.Result = info.Result
	}
	writeJSON(w, r, http.StatusOK, v)
}

// resolve writes the error response itself and reports whether to continue.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*member.Member, bool) {
	id := chi.URLParam(r, "memberID")
	m, err := s.Resolver.Resolve(r.Context(), id)
	if errors.Is(err, member.ErrMemberNotFound) {
		hlog.FromRequest(r).Info().Err(err).Str("identifier", id).Msg("member not found")
		writeError(w, r, http.StatusNotFound, "member not found")
		return nil, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("identifier", id).Msg("resolve failed")
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return nil, false
	}
	return m, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
