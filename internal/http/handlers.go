package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/originguard/internal/clearance"
	"github.com/shortontech/originguard/internal/detection"
	"github.com/shortontech/originguard/internal/event"
	"github.com/shortontech/originguard/internal/metrics"
	"github.com/shortontech/originguard/internal/observability"
	"github.com/shortontech/originguard/internal/probe"
	"github.com/shortontech/originguard/internal/protection"
	"github.com/shortontech/originguard/internal/store"
	"github.com/shortontech/originguard/pkg/config"
)

const defaultMaxBodyBytes = 1 << 20

// Env carries the dependencies shared by every handler.
type Env struct {
	Cfg       config.Config
	Store     store.Store
	Detector  protection.Detector // nil selects the policy scorer
	Validator http.Handler        // serves /validate-domain; nil leaves it unrouted
	Clearance *clearance.Issuer   // nil disables clearance tokens
	Metrics   *metrics.Metrics
	Emit      event.Emitter
	Logger    *zap.Logger
	Ready     func(ctx context.Context) error
}

// ProtectResponse is the verdict plus, when allowed, a clearance token.
type ProtectResponse struct {
	protection.Verdict
	Clearance        string     `json:"clearance,omitempty"`
	ClearanceExpires *time.Time `json:"clearanceExpires,omitempty"`
}

type ClearanceRequest struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
}

type ClearanceResponse struct {
	Valid       bool       `json:"valid"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger.Named("http")
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := e.Ready(ctx); err != nil {
			e.logger().Warn("readiness check failed", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Protect evaluates a client-reported environment snapshot.
func (e Env) Protect(w http.ResponseWriter, r *http.Request) {
	limit := e.Cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	snap, err := probe.DecodeSnapshot(bytes.NewReader(body))
	if err != nil {
		e.logger().Debug("bad snapshot", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot"})
		return
	}

	tr := detection.AnalyzeRequest(r, body, e.Cfg.TrustProxy)
	meta := event.ServerMeta{
		IP:        tr.ClientIP,
		UserAgent: r.UserAgent(),
		Route:     r.URL.Path,
	}

	sys := protection.New(snap, protection.Deps{
		Policy:   e.Cfg.Policy,
		Store:    e.Store,
		Detector: e.Detector,
		Metrics:  e.Metrics,
		Emit:     e.Emit,
		Logger:   e.Logger,
	}, protection.WithRequest(meta, &tr))
	v := sys.Initialize(r.Context())

	resp := ProtectResponse{Verdict: v}
	if v.Allowed && e.Clearance != nil && v.FingerprintID != protection.ErrorFingerprint {
		token, exp, err := e.Clearance.Issue(v.FingerprintID)
		if err != nil {
			e.logger().Warn("clearance issue failed", zap.Error(err))
		} else {
			resp.Clearance = token
			resp.ClearanceExpires = &exp
		}
	}

	status := http.StatusOK
	if !v.Allowed {
		status = http.StatusForbidden
	}
	if tr.Flagged() {
		e.logger().Info("flagged transport",
			zap.String("fingerprint", observability.ShortID(v.FingerprintID)),
			zap.Strings("automation_headers", tr.AutomationHeaders),
			zap.Strings("missing_headers", tr.MissingExpected))
	}
	writeJSON(w, status, resp)
}

// VerifyClearance checks a clearance token against the fingerprint it claims.
func (e Env) VerifyClearance(w http.ResponseWriter, r *http.Request) {
	if e.Clearance == nil {
		writeJSON(w, http.StatusNotFound, ClearanceResponse{Error: "clearance not configured"})
		return
	}
	defer r.Body.Close()
	var req ClearanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ClearanceResponse{Error: "invalid body"})
		return
	}
	if req.Token == "" || req.Fingerprint == "" {
		writeJSON(w, http.StatusBadRequest, ClearanceResponse{Error: "token and fingerprint are required"})
		return
	}

	claims, err := e.Clearance.Verify(req.Token, req.Fingerprint)
	if err != nil {
		e.logger().Info("clearance rejected",
			zap.String("fingerprint", observability.ShortID(req.Fingerprint)),
			zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, ClearanceResponse{Error: "invalid token"})
		return
	}
	exp := claims.ExpiresAt.Time
	writeJSON(w, http.StatusOK, ClearanceResponse{
		Valid:       true,
		Fingerprint: claims.Fingerprint,
		ExpiresAt:   &exp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
