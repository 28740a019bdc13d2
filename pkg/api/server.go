package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/engine"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

// Service is the engine surface served over HTTP.
type Service interface {
	Submit(ctx context.Context, in engine.SubmitInput) (*contracts.SubmitResult, error)
	GetAction(ctx context.Context, actionID, actorID string) (*engine.ActionView, error)
	RequestMint(ctx context.Context, actorID string, in engine.MintInput) (*contracts.MintRequest, error)
	BatchMint(ctx context.Context, actorID string, items []engine.MintInput) []contracts.MintItemResult
	Activate(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error)
	Claim(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error)
	Confirm(ctx context.Context, requestID, actorID string, target contracts.MintStatus) (*contracts.MintRequest, error)
	GetMint(ctx context.Context, requestID, actorID string) (*contracts.MintRequest, error)
	Allocation(ctx context.Context, actorID string) (*contracts.Allocation, error)
	ActivePolicy(ctx context.Context) (*policy.Snapshot, error)

	RegisterActor(ctx context.Context, in engine.RegisterInput) (*contracts.TrustProfile, error)
	GetActor(ctx context.Context, actorID string) (*contracts.TrustProfile, error)
	SetTier(ctx context.Context, actorID string, tier int, operator string) error
	Reinstate(ctx context.Context, actorID, operator string) error
	FlagAction(ctx context.Context, actionID, reason, operator string) (*contracts.AuditFlag, bool, error)
	AuditSweep(ctx context.Context, seed uint64) (*fraud.SweepReport, error)
	ReleaseHolds(ctx context.Context) (int, error)
	ReverseAllocation(ctx context.Context, requestID, reason, operator string) (*contracts.MintRequest, error)
	PublishPolicy(ctx context.Context, snap *policy.Snapshot, operator string) error
}

var _ Service = (*engine.Engine)(nil)

// Options configures the HTTP server.
type Options struct {
	Auth    *Authenticator
	Limiter *IPRateLimiter
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Ready reports readiness; nil is always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
	// Traced wraps the router in otelhttp.
	Traced bool
}

// Server is the HTTP front of the engine.
type Server struct {
	svc    Service
	opts   Options
	logger *slog.Logger
}

// NewHandler builds the router.
func NewHandler(svc Service, opts Options) http.Handler {
	s := &Server{svc: svc, opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "api")
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "Not Found", "No such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readiness", s.readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/v1/policy/active", s.activePolicy)

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.Middleware)
		} else {
			r.Use(denyAll)
		}
		r.Post("/v1/actions", s.submit)
		r.Get("/v1/actions/{id}", s.getAction)
		r.Post("/v1/mint", s.requestMint)
		r.Post("/v1/mint/batch", s.batchMint)
		r.Get("/v1/mint/{id}", s.getMint)
		r.Post("/v1/mint/{id}/activate", s.activate)
		r.Post("/v1/mint/{id}/claim", s.claim)
		r.Post("/v1/mint/{id}/confirm", s.confirm)
		r.Get("/v1/actors/{id}/allocation", s.allocation)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth.AdminMiddleware)
		} else {
			r.Use(denyAll)
		}
		r.Post("/actors", s.registerActor)
		r.Get("/actors/{id}", s.getActor)
		r.Post("/actors/{id}/tier", s.setTier)
		r.Post("/actors/{id}/reinstate", s.reinstate)
		r.Post("/actions/{id}/flag", s.flagAction)
		r.Post("/audit/sweep", s.auditSweep)
		r.Post("/holds/release", s.releaseHolds)
		r.Post("/allocations/{id}/reverse", s.reverse)
		r.Post("/policy", s.publishPolicy)
	})

	if opts.Traced {
		return otelhttp.NewHandler(r, "lightmint.http")
	}
	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteUnauthorized(w, r, "Authentication not configured")
	})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "not ready", "error", err)
			WriteError(w, r, http.StatusServiceUnavailable, "Service Unavailable", "Not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
