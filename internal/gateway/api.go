// ABOUTME: HTTP API routes for the gateway on a chi router
// ABOUTME: Health, principal self-service, the admitted chat operation, and admin endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/quotagate/internal/admin"
	"github.com/2389/quotagate/internal/auth"
	"github.com/2389/quotagate/internal/quota"
	"github.com/2389/quotagate/internal/store"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the assistant reply to a chat request.
type ChatResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Units   int64  `json:"units"`
}

// SetLimitRequest is the body of PUT /api/admin/limit.
type SetLimitRequest struct {
	MonthlyUnitBudget int64 `json:"monthly_unit_budget"`
}

// IssueTokenRequest is the body of POST /api/admin/tokens.
type IssueTokenRequest struct {
	PrincipalID string `json:"principal_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	TTL         string `json:"ttl,omitempty"` // Go duration, e.g. "720h"
}

// quotaErrorResponse is the 429 body.
type quotaErrorResponse struct {
	Error     string `json:"error"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Reserved  int64  `json:"reserved,omitempty"`
	Requested int64  `json:"requested"`
	Period    string `json:"period"`
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/api/health", g.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.resolver, g, g.logger))

		r.Get("/api/me", g.handleMe)
		r.Get("/api/usage", g.handleUsage)
		r.Post("/api/chat", g.handleChat)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(g.requireAdmin)
			r.Get("/usage", g.handleAdminUsage)
			r.Get("/limit", g.handleGetLimit)
			r.Put("/limit", g.handleSetLimit)
			r.Post("/tokens", g.handleIssueToken)
			r.Get("/audit", g.handleAuditLog)
		})
	})

	return r
}

// requireAdmin rejects every principal but the administrator before any
// admin handler runs.
func (g *Gateway) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.MustFromContext(r.Context())
		if err := g.gate.Authorize(p); err != nil {
			g.logger.Warn("admin access denied", "principal_id", p.ID, "path", r.URL.Path)
			g.sendJSONError(w, http.StatusForbidden, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, auth.MustFromContext(r.Context()))
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	allowance, err := g.policy.Allowance(r.Context(), p.ID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, allowance)
}

// handleChat runs the admission protocol around the completer: estimate,
// admit, complete under the request timeout, then settle the actual cost.
// Settlement happens even when the completer fails or times out.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())

	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	inputUnits := CountUnits(req.Message)
	admission, err := g.policy.Admit(r.Context(), p.ID, g.policy.Estimate(inputUnits))
	if err != nil {
		g.writeError(w, err)
		return
	}

	ctx := r.Context()
	if timeout := g.config.Quota.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	completion, completeErr := g.completer.Complete(ctx, p, req.Message)

	actual := inputUnits
	if completion != nil {
		actual = completion.InputUnits + completion.OutputUnits
	}

	// The client may be gone; usage is booked regardless.
	if err := g.policy.Settle(context.WithoutCancel(r.Context()), admission, actual); err != nil {
		g.logger.Error("settling usage", "principal_id", p.ID, "units", actual, "error", err)
	}

	if completeErr != nil {
		if errors.Is(completeErr, context.DeadlineExceeded) {
			g.logger.Warn("completion timed out", "principal_id", p.ID, "units", actual)
			g.sendJSONError(w, http.StatusGatewayTimeout, "upstream timed out")
			return
		}
		g.logger.Error("completion failed", "principal_id", p.ID, "error", completeErr)
		g.sendJSONError(w, http.StatusBadGateway, "upstream failed")
		return
	}

	g.sendJSON(w, http.StatusOK, ChatResponse{
		ID:      completion.ID,
		Role:    "assistant",
		Content: completion.Content,
		Units:   actual,
	})
}

func (g *Gateway) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	period, err := g.periodFromQuery(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := g.gate.UsageReport(r.Context(), auth.MustFromContext(r.Context()), period)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, report)
}

// periodFromQuery reads ?year=&month=. Both absent means the current period.
func (g *Gateway) periodFromQuery(r *http.Request) (quota.Period, error) {
	q := r.URL.Query()
	yearStr, monthStr := q.Get("year"), q.Get("month")
	if yearStr == "" && monthStr == "" {
		return g.ledger.CurrentPeriod(), nil
	}
	if yearStr == "" || monthStr == "" {
		return quota.Period{}, errors.New("year and month must be given together")
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return quota.Period{}, errors.New("year must be an integer")
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return quota.Period{}, errors.New("month must be an integer")
	}
	return quota.NewPeriod(year, time.Month(month))
}

func (g *Gateway) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := g.gate.Budget(r.Context(), auth.MustFromContext(r.Context()))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, limit)
}

func (g *Gateway) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req SetLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	limit, err := g.gate.SetBudget(r.Context(), auth.MustFromContext(r.Context()), req.MonthlyUnitBudget)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, limit)
}

func (g *Gateway) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "ttl must be a duration like 720h")
			return
		}
		ttl = d
	}
	if req.PrincipalID == "" && req.Email == "" {
		g.sendJSONError(w, http.StatusBadRequest, "principal_id or email is required")
		return
	}

	target := auth.Principal{
		ID:          req.PrincipalID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		AuthSource:  auth.AuthSourceInternal,
	}
	issued, err := g.gate.IssueToken(r.Context(), auth.MustFromContext(r.Context()), target, ttl)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, issued)
}

// handleAuditLog lists administrative actions. Optional query parameters:
// actor, action, and limit (default 100, max 1000).
func (g *Gateway) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.AuditFilter
	if actor := q.Get("actor"); actor != "" {
		f.ActorPrincipalID = &actor
	}
	if action := q.Get("action"); action != "" {
		a := store.AuditAction(action)
		f.Action = &a
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = limit
	}

	entries, err := g.gate.AuditTrail(r.Context(), auth.MustFromContext(r.Context()), f)
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// writeError maps domain errors onto HTTP statuses.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	var exceeded *quota.ExceededError
	switch {
	case errors.As(err, &exceeded):
		g.sendJSON(w, http.StatusTooManyRequests, quotaErrorResponse{
			Error:     quota.ErrQuotaExceeded.Error(),
			Limit:     exceeded.Limit,
			Used:      exceeded.Used,
			Reserved:  exceeded.Reserved,
			Requested: exceeded.Requested,
			Period:    exceeded.Period.String(),
		})
	case auth.IsAuthenticationError(err):
		g.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, admin.ErrNotAuthorized):
		g.sendJSONError(w, http.StatusForbidden, admin.ErrNotAuthorized.Error())
	case errors.Is(err, admin.ErrInvalidLimit), errors.Is(err, admin.ErrInvalidTTL):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, admin.ErrIdentityConflict):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, admin.ErrMintingDisabled):
		g.sendJSONError(w, http.StatusNotImplemented, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
