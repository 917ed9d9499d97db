// Package server exposes the registry, the vote processor and the journal
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/archive"
	"github.com/petrovska-petro/voting-onchain/pkg/auth"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
	"github.com/petrovska-petro/voting-onchain/pkg/processor"
	"github.com/petrovska-petro/voting-onchain/pkg/registry"
	"github.com/petrovska-petro/voting-onchain/pkg/relay"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
	"go.opentelemetry.io/otel/attribute"
)

// Deps are the collaborators of a Server. Registry, Processor and Journal
// are required; everything else is optional.
type Deps struct {
	Registry  *registry.Registry
	Processor *processor.Processor
	Journal   *ledger.Ledger

	// Relayer enables POST /v1/votes/{identifier}/relay.
	Relayer *relay.Relayer
	// Archive enables journal export and archive reads.
	Archive archive.Store
	// Wallets enables the wallet inspection routes.
	Wallets *wallet.Network

	Observability *observability.Provider
	Validator     *auth.JWTValidator
	Limiter       *api.GlobalRateLimiter
	Idempotency   api.IdempotencyStorer
	Logger        *slog.Logger

	// Health reports backend reachability. Nil means always healthy.
	Health func(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	registry  *registry.Registry
	processor *processor.Processor
	journal   *ledger.Ledger
	relayer   *relay.Relayer
	archive   archive.Store
	exporter  *archive.Exporter
	wallets   *wallet.Network

	obs         *observability.Provider
	validator   *auth.JWTValidator
	limiter     *api.GlobalRateLimiter
	idempotency api.IdempotencyStorer
	logger      *slog.Logger
	health      func(ctx context.Context) error

	started time.Time
}

// New creates a server.
func New(deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Processor == nil || deps.Journal == nil {
		return nil, errors.New("server: registry, processor and journal are required")
	}
	s := &Server{
		registry:    deps.Registry,
		processor:   deps.Processor,
		journal:     deps.Journal,
		relayer:     deps.Relayer,
		archive:     deps.Archive,
		wallets:     deps.Wallets,
		obs:         deps.Observability,
		validator:   deps.Validator,
		limiter:     deps.Limiter,
		idempotency: deps.Idempotency,
		logger:      deps.Logger,
		health:      deps.Health,
		started:     time.Now(),
	}
	if s.archive != nil {
		s.exporter = archive.NewExporter(s.archive)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Handler returns the routed API wrapped in its middleware chain:
// request id, rate limit, bearer auth, idempotency.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	if s.idempotency != nil {
		h = api.IdempotencyMiddleware(s.idempotency, func(r *http.Request) string {
			if c, ok := auth.GetCaller(r.Context()); ok {
				return c.Hex()
			}
			return "anonymous"
		})(h)
	}
	h = auth.NewMiddleware(s.validator)(h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = s.accessLog(h)
	return auth.RequestIDMiddleware(h)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/proposals", s.handleInitiateProposal)
	mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)

	mux.HandleFunc("POST /v1/votes", s.handleSetVote)
	mux.HandleFunc("GET /v1/votes/{identifier}", s.handleGetVote)
	mux.HandleFunc("GET /v1/votes/{identifier}/hash", s.handleVoteHash)
	mux.HandleFunc("GET /v1/votes/{identifier}/choices", s.handleVoteChoices)
	mux.HandleFunc("GET /v1/votes/{identifier}/message", s.handleVoteMessage)
	mux.HandleFunc("POST /v1/votes/{identifier}/verify", s.handleVerifyVote)
	mux.HandleFunc("POST /v1/votes/{identifier}/sign", s.handleSignVote)
	mux.HandleFunc("POST /v1/votes/{identifier}/relay", s.handleRelayVote)

	mux.HandleFunc("GET /v1/roles", s.handleRoles)
	mux.HandleFunc("GET /v1/roles/{address}", s.handleRolesOf)
	mux.HandleFunc("PUT /v1/roles/{role}/{address}", s.handleGrantRole)
	mux.HandleFunc("DELETE /v1/roles/{role}/{address}", s.handleRevokeRole)

	mux.HandleFunc("GET /v1/system", s.handleSystem)
	mux.HandleFunc("GET /v1/system/slo", s.handleSLO)
	mux.HandleFunc("POST /v1/system/pause", s.handlePause)
	mux.HandleFunc("POST /v1/system/unpause", s.handleUnpause)
	mux.HandleFunc("POST /v1/governance/transfer", s.handleTransferGovernance)
	mux.HandleFunc("POST /v1/governance/accept", s.handleAcceptGovernance)

	mux.HandleFunc("GET /v1/wallets", s.handleListWallets)
	mux.HandleFunc("GET /v1/wallets/{address}", s.handleGetWallet)

	mux.HandleFunc("GET /v1/journal", s.handleJournal)
	mux.HandleFunc("GET /v1/journal/verify", s.handleVerifyJournal)
	mux.HandleFunc("POST /v1/journal/export", s.handleExportJournal)
	mux.HandleFunc("GET /v1/journal/archive/{key}", s.handleGetArchive)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}

// caller returns the authenticated address or answers 401.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	c, ok := auth.GetCaller(r.Context())
	if !ok {
		api.WriteUnauthorized(w, "Bearer token required")
		return common.Address{}, false
	}
	return c, true
}

// track starts an observed operation. Without a provider it is a no-op.
func (s *Server) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	return s.obs.TrackOperation(ctx, name, attrs...)
}

// fail renders err. Known rejections are logged at info, everything else is
// logged as an error by api.WriteInternal.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if _, known := api.Classify(err); known {
		attrs := []any{"operation", op, "error", err, "request_id", auth.GetRequestID(r.Context())}
		if c, ok := auth.GetCaller(r.Context()); ok {
			attrs = append(attrs, "caller", c.Hex())
		}
		s.logger.Info("request rejected", attrs...)
	}
	api.WriteDomainError(w, r, err)
}

// pathAddress parses the named path value as an address or answers 400.
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := r.PathValue(name)
	if !common.IsHexAddress(v) {
		api.WriteBadRequest(w, fmt.Sprintf("%s %q is not an address", name, v))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s %q is not an address", field, v)
	}
	return common.HexToAddress(v), nil
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.started).Truncate(time.Second).String()
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			api.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Uptime: uptime, Error: err.Error()})
			return
		}
	}
	api.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Uptime: uptime})
}

// requireGovernance fails unless every check accepts caller.
func requireGovernance(caller common.Address, checks ...func(common.Address) bool) error {
	for _, is := range checks {
		if !is(caller) {
			return fmt.Errorf("%w: %s is not governance", contracts.ErrUnauthorized, caller.Hex())
		}
	}
	return nil
}
