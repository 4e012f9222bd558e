package validator

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/detection"
	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/metrics"
	"github.com/shortontech/originguard/internal/observability"
)

const (
	ActionValidate = "validate"
	ActionCheck    = "check"
)

// Rejection reasons returned in Response.Reason.
const (
	ReasonMissingDomain      = "missing_domain"
	ReasonUnauthorizedDomain = "unauthorized_domain"
	ReasonInvalidToken       = "invalid_token"
)

const maxRequestBytes = 64 << 10

// Request is the JSON body accepted by both actions.
type Request struct {
	Domain string `json:"domain"`
	Token  string `json:"token,omitempty"`
}

// Response is the body of every validate reply and of error replies.
type Response struct {
	Valid    bool   `json:"valid"`
	Token    string `json:"token,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CheckResponse always carries redirect; it is null for an allowed domain.
type CheckResponse struct {
	Valid    bool    `json:"valid"`
	Redirect *string `json:"redirect"`
}

// HandlerOptions wires a Handler. A nil Tokens issuer signs with an empty secret.
type HandlerOptions struct {
	Tokens     *TokenIssuer
	AllowList  AllowList
	Canonical  string
	TrustProxy bool
	Metrics    *metrics.Metrics
	Emit       event.Emitter
	Logger     *zap.Logger
}

// Handler serves POST ?action=validate and POST ?action=check.
type Handler struct {
	tokens     *TokenIssuer
	allow      AllowList
	redirect   string
	trustProxy bool
	metrics    *metrics.Metrics
	emit       event.Emitter
	log        *zap.Logger
}

// NewHandler builds the validation endpoint. Redirects point at Canonical.
func NewHandler(opts HandlerOptions) *Handler {
	if opts.Tokens == nil {
		opts.Tokens = NewTokenIssuer("", DefaultTokenTTL)
	}
	if opts.Emit == nil {
		opts.Emit = event.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		tokens:     opts.Tokens,
		allow:      opts.AllowList,
		redirect:   RedirectURL(opts.Canonical),
		trustProxy: opts.TrustProxy,
		metrics:    opts.Metrics,
		emit:       opts.Emit,
		log:        opts.Logger.Named("validator"),
	}
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-Info, Apikey")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := r.URL.Query().Get("action")
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("validation panicked", zap.Any("panic", rec))
			h.internalError(w, action)
		}
	}()

	if r.Method != http.MethodPost {
		h.metrics.IncrementDomainValidation(action, "method_not_allowed")
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "Method not allowed", Redirect: h.redirect})
		return
	}

	switch action {
	case ActionValidate:
		h.validate(w, r)
	case ActionCheck:
		h.check(w, r)
	default:
		h.metrics.IncrementDomainValidation(action, "invalid_action")
		writeJSON(w, http.StatusBadRequest, Response{Error: "Invalid action", Redirect: h.redirect})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	return req, err
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(w, r)
	if err != nil {
		h.log.Warn("malformed validate body", zap.Error(err))
		h.internalError(w, ActionValidate)
		return
	}

	if req.Domain == "" {
		h.reject(w, r, req, http.StatusBadRequest, ReasonMissingDomain)
		return
	}
	if !h.allow.Allowed(req.Domain) {
		h.reject(w, r, req, http.StatusForbidden, ReasonUnauthorizedDomain)
		return
	}
	if req.Token != "" {
		if err := h.tokens.Verify(req.Token, req.Domain); err != nil {
			h.log.Info("token rejected", zap.String("domain", req.Domain), zap.Error(err))
			h.reject(w, r, req, http.StatusForbidden, ReasonInvalidToken)
			return
		}
	}

	h.record(r, ActionValidate, req.Domain, true, "")
	writeJSON(w, http.StatusOK, Response{
		Valid:  true,
		Token:  h.tokens.Issue(req.Domain),
		Domain: req.Domain,
	})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(w, r)
	if err != nil {
		h.log.Warn("malformed check body", zap.Error(err))
		h.internalError(w, ActionCheck)
		return
	}

	resp := CheckResponse{Valid: h.allow.Allowed(req.Domain)}
	reason := ""
	if !resp.Valid {
		redirect := h.redirect
		resp.Redirect = &redirect
		reason = ReasonUnauthorizedDomain
	}
	h.record(r, ActionCheck, req.Domain, resp.Valid, reason)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, req Request, status int, reason string) {
	h.record(r, ActionValidate, req.Domain, false, reason)
	writeJSON(w, status, Response{Redirect: h.redirect, Reason: reason})
}

func (h *Handler) internalError(w http.ResponseWriter, action string) {
	h.metrics.IncrementDomainValidation(action, "error")
	writeJSON(w, http.StatusInternalServerError, Response{Error: "Internal server error", Redirect: h.redirect})
}

func (h *Handler) record(r *http.Request, action, domain string, allowed bool, reason string) {
	result := "valid"
	if !allowed {
		result = reason
	}
	h.metrics.IncrementDomainValidation(action, result)

	e := event.New(event.TypeDomainValidation)
	e.Domain = domain
	e.Allowed = allowed
	e.Reason = reason
	e.Server = event.ServerMeta{
		IP:        detection.ClientIP(r, h.trustProxy),
		UserAgent: r.UserAgent(),
		Route:     action,
	}
	h.emit(e)

	if !allowed {
		h.log.Info("domain rejected",
			zap.String("action", action),
			zap.String("domain", domain),
			zap.String("reason", reason),
			zap.String("event", observability.ShortID(e.EventID)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
