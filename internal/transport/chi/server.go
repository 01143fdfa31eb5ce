package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/logger"
	backenduc "github.com/tabrag/tabrag/internal/usecase/backend"
	chatuc "github.com/tabrag/tabrag/internal/usecase/chat"
	healthuc "github.com/tabrag/tabrag/internal/usecase/health"
)

// Error codes returned in error responses.
const (
	CodeBadRequest       = "bad_request"
	CodePayloadTooLarge  = "payload_too_large"
	CodeInvalidAPIKey    = "invalid_api_key"
	CodeNoBackend        = "no_backend"
	CodeUnknownBackend   = "unknown_backend"
	CodeNoContent        = "no_content"
	CodeNotSupported     = "not_supported"
	CodeRateLimited      = "rate_limited"
	CodeEmbeddingFailed  = "embedding_provider_error"
	CodeChatFailed       = "chat_provider_error"
	CodeScrapeFailed     = "scrape_failed"
	CodeInternalError    = "internal_error"
	CodeUnauthorized     = "unauthorized"
	msgInternalError     = "internal error"
	msgBackendInitFailed = "failed to initialize backend"
)

// errorWriter writes an error response in the shape of the calling endpoint.
type errorWriter func(status int, code, msg string)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(write errorWriter, err error, msg string) bool

// Server serves the tabrag HTTP API.
type Server struct {
	ingest        Ingester
	chat          Asker
	search        Searcher
	backends      BackendSwitcher
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest Ingester,
	chat Asker,
	search Searcher,
	backends BackendSwitcher,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingest:   ingest,
		chat:     chat,
		search:   search,
		backends: backends,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrInvalidAPIKey, http.StatusBadRequest, CodeInvalidAPIKey),
		sentinelHandler(domain.ErrNoBackend, http.StatusBadRequest, CodeNoBackend),
		sentinelHandler(domain.ErrUnknownBackend, http.StatusBadRequest, CodeUnknownBackend),
		sentinelHandler(domain.ErrNoContent, http.StatusBadRequest, CodeNoContent),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingFailed),
		sentinelHandler(domain.ErrChatProviderError, http.StatusBadGateway, CodeChatFailed),
		sentinelHandler(domain.ErrScrapeFailed, http.StatusBadGateway, CodeScrapeFailed),
		sentinelHandler(domain.ErrNotSupported, http.StatusNotImplemented, CodeNotSupported),
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r gochi.Router) {
	r.Post("/ingest", s.Ingest)
	r.Post("/chat", s.Chat)
	r.Post("/search", s.Search)
	r.Post("/config", s.Config)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Ingest handles POST /ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req, jsonErrors(w)) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	report, err := s.ingest.Ingest(ctx, req.APIKey, req.Docs)
	setEmbeddingHeaders(w, usage)
	if errors.Is(err, domain.ErrNoContent) {
		resp := ingestReportToResponse(report)
		resp.OK = false
		resp.Error = domain.ErrNoContent.Error()
		resp.Message = resp.Error
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	if err != nil {
		s.handleDomainError(r, jsonErrors(w), err)
		return
	}

	writeJSON(w, http.StatusOK, ingestReportToResponse(report))
}

// Chat handles POST /chat. Errors carry the message in answer as well,
// since the extension renders that field.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	write := chatErrors(w)

	var req chatRequest
	if !s.decode(w, r, &req, write) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	answer, err := s.chat.Ask(ctx, chatuc.Question{Text: req.Question, APIKey: req.APIKey, URL: req.URL})
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(r, write, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req, jsonErrors(w)) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.search.Search(ctx, req.APIKey, req.Q)
	setEmbeddingHeaders(w, usage)
	if err != nil {
		s.handleDomainError(r, jsonErrors(w), err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{OK: true, Results: searchResultsToDTO(results)})
}

// Config handles POST /config. Backends that fail to initialize are reported
// with ok=false and the previous backend stays active.
func (s *Server) Config(w http.ResponseWriter, r *http.Request) {
	var req backenduc.ConfigRequest
	if !s.decode(w, r, &req, jsonErrors(w)) {
		return
	}

	cfg, err := req.BackendConfig()
	if err != nil {
		s.handleDomainError(r, jsonErrors(w), err)
		return
	}

	if err := s.backends.Switch(r.Context(), cfg); err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrUnknownBackend) {
			s.handleDomainError(r, jsonErrors(w), err)
			return
		}
		logger.FromContext(r.Context(), s.logger).Warn("Config switch failed",
			zap.String("kind", string(cfg.Kind)), zap.Error(err))
		writeJSON(w, http.StatusOK, configResponse{OK: false, Error: msgBackendInitFailed})
		return
	}

	writeJSON(w, http.StatusOK, configResponse{OK: true, Mode: cfg.Kind})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Calls > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, write errorWriter) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		write(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
		return false
	}
	write(http.StatusBadRequest, CodeBadRequest, "invalid request body")
	return false
}

func jsonErrors(w http.ResponseWriter) errorWriter {
	return func(status int, code, msg string) {
		writeJSON(w, status, errorResponse{Code: code, Error: msg})
	}
}

func chatErrors(w http.ResponseWriter) errorWriter {
	return func(status int, code, msg string) {
		writeJSON(w, status, errorResponse{Code: code, Error: msg, Answer: msg})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrInvalidAPIKey,
		domain.ErrNoBackend,
		domain.ErrUnknownBackend,
		domain.ErrNoContent,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
		domain.ErrChatProviderError,
		domain.ErrScrapeFailed,
		domain.ErrNotSupported,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return msgInternalError
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(write errorWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		write(status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(r *http.Request, write errorWriter, err error) {
	log := logger.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(write, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	write(http.StatusInternalServerError, CodeInternalError, msgInternalError)
}
