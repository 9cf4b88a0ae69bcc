package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/harmoney/internal/credentials"
	"github.com/briangreenhill/harmoney/internal/member"
	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

// MemberResolver is satisfied by *member.Resolver.
type MemberResolver interface {
	Resolve(ctx context.Context, identifier string) (*member.Member, error)
}

// Observer receives one event per processed task. result is ok, retry or skip.
type Observer interface {
	ObserveTask(taskType, result string)
}

type Handler struct {
	resolver MemberResolver
	log      zerolog.Logger
	obs      Observer
}

func NewHandler(r MemberResolver, log zerolog.Logger, obs Observer) *Handler {
	return &Handler{resolver: r, log: log, obs: obs}
}

// Register wires every task type this package handles into mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TaskResolveMember, h)
}

// ProcessTask resolves the member and stores it as the task result.
// Permanent failures are marked with asynq.SkipRetry.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ResolveMemberPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.Identifier == "" {
		h.log.Error().Err(err).Str("type", t.Type()).Msg("bad payload")
		h.observe(t.Type(), "skip")
		return fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	}

	log := h.log.With().Str("identifier", p.Identifier).Str("request_id", p.RequestID).Logger()
	log.Info().Msg("resolve start")
	start := time.Now()
	m, err := h.resolver.Resolve(ctx, p.Identifier)
	duration := time.Since(start)

	if err != nil {
		if IsRetryable(err) {
			log.Warn().Err(err).Dur("duration", duration).Msg("retryable error")
			h.observe(t.Type(), "retry")
			return err
		}
		log.Error().Err(err).Dur("duration", duration).Msg("permanent error (dropping task)")
		h.observe(t.Type(), "skip")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if rw := t.ResultWriter(); rw != nil {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		if _, err := rw.Write(b); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	log.Info().Str("member_id", m.ID).Dur("duration", duration).Msg("resolve done")
	h.observe(t.Type(), "ok")
	return nil
}

func (h *Handler) observe(taskType, result string) {
	if h.obs != nil {
		h.obs.ObserveTask(taskType, result)
	}
}

// IsRetryable determines if an error should trigger a task retry
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Missing members and malformed requests will not fix themselves
	if errors.Is(err, member.ErrMemberNotFound) || errors.Is(err, httpclient.ErrInvalidRequest) {
		return false
	}

	var herr *httpclient.UpstreamHTTPError
	if errors.As(err, &herr) {
		return herr.Temporary()
	}

	// Timeouts, unavailable upstreams and token failures might be temporary
	if errors.Is(err, member.ErrUnavailable) ||
		errors.Is(err, credentials.ErrIssuance) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns")
}
