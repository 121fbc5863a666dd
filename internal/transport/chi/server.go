package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	domusage "github.com/kailas-cloud/librarian/internal/domain/usage"
	logpkg "github.com/kailas-cloud/librarian/internal/logger"
	healthuc "github.com/kailas-cloud/librarian/internal/usecase/health"
	"github.com/kailas-cloud/librarian/internal/usecase/pipeline"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the librarian HTTP API.
type Server struct {
	recommender   Recommender
	retriever     Retriever
	speaker       Speaker
	usage         UsageReporter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	recommender Recommender,
	retriever Retriever,
	speaker Speaker,
	usage UsageReporter,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		recommender: recommender,
		retriever:   retriever,
		speaker:     speaker,
		usage:       usage,
		health:      health,
		logger:      logger,
	}
	// Order matters: a quota error may also carry the provider sentinel.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrMalformedRequest, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
		sentinelHandler(domain.ErrCatalogEmpty, http.StatusServiceUnavailable, CodeCatalogEmpty),
		sentinelHandler(domain.ErrEmbeddingModelMismatch, http.StatusServiceUnavailable, CodeModelMismatch),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, CodeUpstreamUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeUpstreamUnavailable),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
	}
	return s
}

// Recommend handles POST /api/v1/recommend.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.recommender.Resolve(r.Context(), pipeline.Request{Query: req.Query, K: req.K})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setUsageHeaders(w, domain.UsageFromContext(r.Context()))
	writeJSON(w, http.StatusOK, responseToDTO(resp))
}

// DebugSearch handles GET /api/v1/debug/search.
func (s *Server) DebugSearch(w http.ResponseWriter, r *http.Request) {
	k, ok := s.queryInt(w, r, "k")
	if !ok {
		return
	}
	params := searchParams{Q: r.URL.Query().Get("q"), K: k}
	if err := validateStruct(&params); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	cands, err := s.retriever.Retrieve(r.Context(), params.Q, params.K)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setUsageHeaders(w, domain.UsageFromContext(r.Context()))
	writeJSON(w, http.StatusOK, candidatesToDTO(params.Q, cands))
}

// SpeechPost handles POST /api/v1/speech.
func (s *Server) SpeechPost(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.speak(w, r, req)
}

// SpeechGet handles GET /api/v1/speech.
func (s *Server) SpeechGet(w http.ResponseWriter, r *http.Request) {
	req := speechRequest{Text: r.URL.Query().Get("text"), Voice: r.URL.Query().Get("voice")}
	if err := validateStruct(&req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.speak(w, r, req)
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request, req speechRequest) {
	audio, err := s.speaker.Synthesize(r.Context(), req.Text, req.Voice)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// GetUsage handles GET /api/v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := domusage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, domain.NewMalformed("period", "must be day or month"))
		return
	}
	writeJSON(w, http.StatusOK, usageToDTO(s.usage.GetUsage(r.Context(), period)))
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
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validateStruct(v); err != nil {
		s.handleDomainError(w, r, err)
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter; absent means 0.
func (s *Server) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.handleDomainError(w, r, domain.NewMalformed(name, "must be an integer"))
		return 0, false
	}
	return n, true
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.TokenUsage) {
	if usage == nil || usage.Calls == 0 {
		return
	}
	w.Header().Set("X-Tokens-Used", strconv.Itoa(usage.Total()))
	if usage.EmbeddingTokens > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.EmbeddingTokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a client-facing message without exposing internals.
// Malformed requests keep the offending field.
func safeDomainMessage(err error) string {
	var malformed *domain.MalformedError
	if errors.As(err, &malformed) {
		return malformed.Error()
	}
	sentinels := []error{
		domain.ErrMalformedRequest,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrCatalogEmpty,
		domain.ErrEmbeddingModelMismatch,
		domain.ErrUpstreamUnavailable,
		domain.ErrEmbeddingProviderError,
		domain.ErrNotFound,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
