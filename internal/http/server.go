package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/activation"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/auth"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/config"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/logger"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/metrics"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/model"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/quicklink"
	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/verification"
)

type Server struct {
	cfg          config.Config
	log          *slog.Logger
	tokens       *auth.Service
	activations  *activation.Service
	quicklinks   *quicklink.Service
	verification *verification.Service
	metrics      *metrics.Metrics
}

func NewServer(
	cfg config.Config,
	log *slog.Logger,
	tokens *auth.Service,
	activations *activation.Service,
	quicklinks *quicklink.Service,
	verifications *verification.Service,
	m *metrics.Metrics,
) *Server {
	return &Server{
		cfg:          cfg,
		log:          log,
		tokens:       tokens,
		activations:  activations,
		quicklinks:   quicklinks,
		verification: verifications,
		metrics:      m,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/eligibility", s.handleCheckEligibility)
	r.Post("/auth/activate", s.handleActivate)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware, s.requireRole(model.RoleLecturer)).
		Post("/auth/quicklink", s.handleIssueQuickLink)
	r.With(limitByIP(s.cfg.RedeemRateLimit, s.cfg.RedeemRateWindow)).
		Post("/auth/quicklink/redeem", s.handleRedeemQuickLink)

	r.With(limitByIP(s.cfg.CodeIssueLimit, s.cfg.CodeIssueWindow)).
		Post("/auth/verification-code", s.handleIssueCode)
	r.Post("/auth/verification-code/verify", s.handleVerifyCode)

	return r
}

// Middleware

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := s.log.With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := logger.WithContext(r.Context(), reqLog)

		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		reqLog.Info("request",
			"status", wrapped.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// limitByIP wraps httprate so over-limit responses keep the JSON error
// envelope instead of its plain-text default.
func limitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		}),
	)
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := s.tokens.VerifyAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errs.CodeOf(err))
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			if !auth.HasRole(claims, roles...) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Handlers

type eligibilityRequest struct {
	Role                string `json:"role" validate:"required,oneof=student lecturer"`
	InstitutionalNumber string `json:"institutionalNumber" validate:"required"`
}

type recordSummary struct {
	Role                string `json:"role"`
	InstitutionalNumber string `json:"institutionalNumber"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	RegistrationStatus  string `json:"registrationStatus"`
}

type eligibilityResponse struct {
	Eligible bool           `json:"eligible"`
	Reason   string         `json:"reason,omitempty"`
	Record   *recordSummary `json:"record,omitempty"`
}

func (s *Server) handleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	result, err := s.activations.CheckEligibility(r.Context(), req.Role, strings.TrimSpace(req.InstitutionalNumber))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := eligibilityResponse{Eligible: result.Eligible, Reason: result.Reason}
	if result.Record != nil {
		resp.Record = &recordSummary{
			Role:                result.Record.Role,
			InstitutionalNumber: result.Record.InstitutionalNumber,
			FirstName:           result.Record.FirstName,
			LastName:            result.Record.LastName,
			RegistrationStatus:  result.Record.RegistrationStatus,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type activateRequest struct {
	Role                string `json:"role" validate:"required,oneof=student lecturer"`
	InstitutionalNumber string `json:"institutionalNumber" validate:"required"`
	Email               string `json:"email" validate:"required,email"`
	Password            string `json:"password" validate:"required,min=8"`
	FirstName           string `json:"firstName" validate:"required"`
	LastName            string `json:"lastName" validate:"required"`
}

type activateResponse struct {
	Account      model.Account `json:"account"`
	Record       recordSummary `json:"record"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	result, err := s.activations.Activate(r.Context(), activation.ActivateInput{
		Role:                req.Role,
		InstitutionalNumber: strings.TrimSpace(req.InstitutionalNumber),
		Email:               req.Email,
		Password:            req.Password,
		FirstName:           strings.TrimSpace(req.FirstName),
		LastName:            strings.TrimSpace(req.LastName),
	})
	if err != nil {
		s.metrics.Activations.WithLabelValues(errs.CodeOf(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.Activations.WithLabelValues("activated").Inc()

	writeJSON(w, http.StatusCreated, activateResponse{
		Account: result.Account,
		Record: recordSummary{
			Role:                result.Record.Role,
			InstitutionalNumber: result.Record.InstitutionalNumber,
			FirstName:           result.Record.FirstName,
			LastName:            result.Record.LastName,
			RegistrationStatus:  result.Record.RegistrationStatus,
		},
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	pair, err := s.tokens.Refresh(req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"accountId": claims.Subject,
		"role":      claims.Role,
		"email":     claims.Email,
	})
}

type quickLinkRequest struct {
	Role                string `json:"role" validate:"required,oneof=student lecturer"`
	InstitutionalNumber string `json:"institutionalNumber" validate:"required"`
}

type quickLinkResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Server) handleIssueQuickLink(w http.ResponseWriter, r *http.Request) {
	var req quickLinkRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	token, expiresAt, err := s.quicklinks.Generate(r.Context(), req.Role, strings.TrimSpace(req.InstitutionalNumber))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quickLinkResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

type redeemRequest struct {
	Token string `json:"token" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleRedeemQuickLink(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	pair, err := s.quicklinks.Redeem(r.Context(), req.Token, req.Email)
	if err != nil {
		s.metrics.QuickLinkRedemptions.WithLabelValues(errs.CodeOf(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.QuickLinkRedemptions.WithLabelValues("redeemed").Inc()

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type issueCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.verification.Issue(r.Context(), verification.PurposeEmailVerify, email); err != nil {
		s.metrics.VerificationCodes.WithLabelValues("issue_failed").Inc()
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.VerificationCodes.WithLabelValues("issued").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type verifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if fields := decodeAndValidate(r, &req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.verification.Verify(r.Context(), verification.PurposeEmailVerify, email, req.Code); err != nil {
		s.metrics.VerificationCodes.WithLabelValues(errs.CodeOf(err)).Inc()
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.VerificationCodes.WithLabelValues("verified").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// Error rendering

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	code := errs.CodeOf(err)

	if kind == errs.Internal || kind == errs.Unavailable {
		logger.FromContext(r.Context()).Error("request failed", "kind", string(kind), "error", err)
	}
	writeError(w, statusFor(kind, code), code)
}

func statusFor(kind errs.Kind, code string) int {
	// Expired verification codes are gone, not merely invalid.
	if code == errs.CodeCodeExpired {
		return http.StatusGone
	}
	switch kind {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.NotEligible:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Request plumbing

var requestValidator = validator.New()

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// decodeAndValidate parses the body and runs struct-tag validation,
// returning the field-level failures as data.
func decodeAndValidate(r *http.Request, out interface{}) []fieldError {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return []fieldError{{Field: "body", Message: "invalid JSON body"}}
	}

	err := requestValidator.Struct(out)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []fieldError{{Field: "body", Message: "invalid request payload"}}
	}

	fields := make([]fieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			fields = append(fields, fieldError{Field: field, Message: field + " is required"})
		case "email":
			fields = append(fields, fieldError{Field: field, Message: "invalid email format"})
		case "oneof":
			fields = append(fields, fieldError{Field: field, Message: "invalid " + field})
		case "min":
			fields = append(fields, fieldError{Field: field, Message: field + " is too short"})
		case "len", "numeric":
			fields = append(fields, fieldError{Field: field, Message: "invalid " + field + " format"})
		default:
			fields = append(fields, fieldError{Field: field, Message: "invalid " + field})
		}
	}
	return fields
}

func writeValidationError(w http.ResponseWriter, fields []fieldError) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  errs.CodeValidationFailed,
		"fields": fields,
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
