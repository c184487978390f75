// Package gateway exposes the admission core over HTTP: login/logout, the
// admission check used by the tracker protocol engine, and administrative
// ban management.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"swarmgate/admission"
	"swarmgate/authn"
	"swarmgate/banning"
	"swarmgate/gateway/middleware"
	"swarmgate/ipmath"
	"swarmgate/storage"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server wires the admission core to HTTP routes.
type Server struct {
	auth     *authn.Service
	pipeline *admission.Pipeline
	registry *banning.Registry
	accounts *storage.Accounts
	bearer   *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	logger   *slog.Logger

	router http.Handler
}

// NewServer assembles the router.
func NewServer(
	auth *authn.Service,
	pipeline *admission.Pipeline,
	registry *banning.Registry,
	accounts *storage.Accounts,
	bearer *middleware.Authenticator,
	limiter *middleware.RateLimiter,
	obs *middleware.Observability,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		auth:     auth,
		pipeline: pipeline,
		registry: registry,
		accounts: accounts,
		bearer:   bearer,
		limiter:  limiter,
		obs:      obs,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.obs.Middleware("auth.login"), s.limiter.Middleware("auth")).
			Post("/auth/login", s.handleLogin)
		r.With(s.obs.Middleware("auth.logout"), s.bearer.Middleware).
			Post("/auth/logout", s.handleLogout)
		r.With(s.obs.Middleware("admission.check"), s.limiter.Middleware("admission")).
			Post("/admission/check", s.handleAdmissionCheck)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.obs.Middleware("admin"))
			r.Use(s.bearer.Middleware)
			r.Use(s.bearer.RequireAdmin(s.accounts))

			r.Post("/account-bans", s.handleBanAccount)
			r.Delete("/account-bans/{banID}", s.handleUnbanAccount)
			r.Get("/accounts/{accountID}/bans", s.handleListAccountBans)

			r.Post("/address-bans", s.handleBanAddressRange)
			r.Delete("/address-bans/{banID}", s.handleUnbanAddressRange)
			r.Get("/address-bans", s.handleListAddressBans)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.auth.Authenticate(r.Context(), req.Handle, req.Password, clientAddress(r))
	if err != nil {
		var denied *authn.DeniedError
		if errors.As(err, &denied) {
			writeError(w, loginDenialStatus(denied.Reason), string(denied.Reason))
			return
		}
		s.logger.Error("login failed unexpectedly", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func loginDenialStatus(reason authn.Reason) int {
	switch reason {
	case authn.ReasonLockedOut:
		return http.StatusTooManyRequests
	case authn.ReasonAccountBanned:
		return http.StatusForbidden
	case authn.ReasonTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type admissionCheckRequest struct {
	InfoHash string `json:"infoHash"`
	Address  string `json:"address"`
	Passkey  string `json:"passkey"`
}

type admissionCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// handleAdmissionCheck is consumed by the tracker protocol engine: it runs
// the full pipeline and always answers 200 with an allow/deny verdict, so
// the engine distinguishes "denied" from "gateway broken" by transport
// errors alone.
func (s *Server) handleAdmissionCheck(w http.ResponseWriter, r *http.Request) {
	var req admissionCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	decision := s.pipeline.Admit(r.Context(), admission.Request{
		ResourceID: req.InfoHash,
		Address:    req.Address,
		Passkey:    req.Passkey,
	})
	writeJSON(w, http.StatusOK, admissionCheckResponse{
		Allowed: decision.Allowed,
		Reason:  string(decision.Reason),
	})
}

type banAccountRequest struct {
	AccountID string     `json:"accountId"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type accountBanResponse struct {
	ID        string     `json:"id"`
	AccountID string     `json:"accountId"`
	Reason    string     `json:"reason"`
	IssuedBy  string     `json:"issuedBy"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
	LiftedBy  string     `json:"liftedBy,omitempty"`
	LiftedAt  *time.Time `json:"liftedAt,omitempty"`
}

func accountBanToResponse(ban *storage.AccountBan) accountBanResponse {
	resp := accountBanResponse{
		ID:        ban.ID.String(),
		AccountID: ban.AccountID.String(),
		Reason:    ban.Reason,
		IssuedBy:  ban.IssuedBy.String(),
		IssuedAt:  ban.IssuedAt,
		ExpiresAt: ban.ExpiresAt,
		Active:    ban.Active,
		LiftedAt:  ban.LiftedAt,
	}
	if ban.LiftedBy != nil {
		resp.LiftedBy = ban.LiftedBy.String()
	}
	return resp
}

func (s *Server) handleBanAccount(w http.ResponseWriter, r *http.Request) {
	var req banAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	accountID, err := uuid.Parse(strings.TrimSpace(req.AccountID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	identity, _ := middleware.IdentityFromContext(r.Context())
	issuedBy := uuid.Nil
	if identity != nil {
		issuedBy = identity.ID
	}
	ban, err := s.registry.BanAccount(r.Context(), accountID, req.Reason, issuedBy, req.ExpiresAt)
	switch {
	case errors.Is(err, banning.ErrReasonLength):
		writeError(w, http.StatusBadRequest, "invalid_reason")
	case errors.Is(err, storage.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found")
	case err != nil:
		s.logger.Error("ban account failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		writeJSON(w, http.StatusCreated, accountBanToResponse(ban))
	}
}

func (s *Server) handleUnbanAccount(w http.ResponseWriter, r *http.Request) {
	banID, err := uuid.Parse(chi.URLParam(r, "banID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ban_id")
		return
	}
	actor := uuid.Nil
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		actor = identity.ID
	}
	ban, err := s.registry.DeactivateBan(r.Context(), banID, actor)
	switch {
	case errors.Is(err, storage.ErrBanNotFound):
		writeError(w, http.StatusNotFound, "ban_not_found")
	case errors.Is(err, storage.ErrBanInactive):
		writeError(w, http.StatusConflict, "ban_already_inactive")
	case err != nil:
		s.logger.Error("unban account failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		writeJSON(w, http.StatusOK, accountBanToResponse(ban))
	}
}

func (s *Server) handleListAccountBans(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	bans, err := s.registry.AccountBans(r.Context(), accountID)
	if err != nil {
		s.logger.Error("list account bans failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
		return
	}
	responses := make([]accountBanResponse, 0, len(bans))
	for i := range bans {
		responses = append(responses, accountBanToResponse(&bans[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

type banAddressRangeRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type addressBanResponse struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func addressBanToResponse(ban *storage.AddressBan) addressBanResponse {
	return addressBanResponse{
		ID:     ban.ID.String(),
		From:   ipmath.FromInteger(new(uint256.Int).SetBytes(ban.FromAddress)),
		To:     ipmath.FromInteger(new(uint256.Int).SetBytes(ban.ToAddress)),
		Reason: ban.Reason,
	}
}

func (s *Server) handleBanAddressRange(w http.ResponseWriter, r *http.Request) {
	var req banAddressRangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ban, err := s.registry.BanAddressRange(r.Context(), req.From, req.To, req.Reason)
	var invalid *ipmath.InvalidAddressError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_address")
	case errors.Is(err, banning.ErrRangeInverted):
		writeError(w, http.StatusBadRequest, "range_inverted")
	case err != nil:
		s.logger.Error("ban address range failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		writeJSON(w, http.StatusCreated, addressBanToResponse(ban))
	}
}

func (s *Server) handleUnbanAddressRange(w http.ResponseWriter, r *http.Request) {
	banID, err := uuid.Parse(chi.URLParam(r, "banID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ban_id")
		return
	}
	err = s.registry.UnbanAddressRange(r.Context(), banID)
	switch {
	case errors.Is(err, storage.ErrBanNotFound):
		writeError(w, http.StatusNotFound, "ban_not_found")
	case err != nil:
		s.logger.Error("unban address range failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleListAddressBans(w http.ResponseWriter, r *http.Request) {
	bans, err := s.registry.AddressBans(r.Context())
	if err != nil {
		s.logger.Error("list address bans failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
		return
	}
	responses := make([]addressBanResponse, 0, len(bans))
	for i := range bans {
		responses = append(responses, addressBanToResponse(&bans[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

func clientAddress(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
