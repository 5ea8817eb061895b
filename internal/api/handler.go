// Package api exposes the signer-facing signing execution endpoint.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/TUPATRIMONIO/core-sub003/internal/signing"
	"github.com/TUPATRIMONIO/core-sub003/pkg/httpx"
)

// Executor is the slice of the engine this handler needs.
type Executor interface {
	ExecuteSigning(ctx context.Context, p signing.ExecuteParams) (signing.ExecutionResult, error)
	SignerView(ctx context.Context, token string) (signing.SignerView, error)
}

type Handler struct {
	engine Executor
	log    zerolog.Logger
}

func NewHandler(engine Executor, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/signing/execute", h.HandleExecute)
	r.Get("/signing/{token}/status", h.HandleStatus)
}

type executeRequest struct {
	SigningToken string `json:"signing_token"`
	Credential   string `json:"credential"`
	SecondFactor string `json:"second_factor,omitempty"`
}

func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.SigningToken) == "" {
		httpx.WriteError(w, 400, "MISSING_FIELD", "signing_token is required", nil)
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		httpx.WriteError(w, 400, "MISSING_FIELD", "credential is required", nil)
		return
	}

	result, err := h.engine.ExecuteSigning(r.Context(), signing.ExecuteParams{
		SigningToken: req.SigningToken,
		Credential:   req.Credential,
		SecondFactor: req.SecondFactor,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if result.PendingWebhook {
		httpx.WriteJSON(w, 200, map[string]any{
			"success":          true,
			"signed":           false,
			"pending_webhook":  true,
			"message":          result.Message,
			"transaction_code": result.TransactionCode,
		})
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"success":          true,
		"signed":           true,
		"message":          result.Message,
		"transaction_code": result.TransactionCode,
	})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	view, err := h.engine.SignerView(r.Context(), token)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"success":        true,
		"signer_id":      view.SignerID,
		"status":         view.Status,
		"your_turn":      view.YourTurn,
		"token_expired":  view.TokenExpired,
		"document_title": view.DocumentTitle,
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var se *signing.Error
	if !errors.As(err, &se) {
		h.log.Error().Err(err).Msg("signing execution failed")
		httpx.WriteError(w, 500, "INTERNAL", "internal error", nil)
		return
	}
	status := 400
	if se.Kind == signing.KindInfrastructure || se.Kind == signing.KindPersistence {
		status = 500
	}
	var extra map[string]any
	if se.Kind == signing.KindProvider {
		extra = map[string]any{}
		if se.ProviderState != "" {
			extra["providerState"] = se.ProviderState
		}
		if se.ProviderComment != "" {
			extra["providerComment"] = se.ProviderComment
		}
	}
	httpx.WriteError(w, status, string(se.Kind), se.Message, extra)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
