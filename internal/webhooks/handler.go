// Package webhooks receives the provider's out-of-band completion calls for
// documents whose signing attempt returned pending.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TUPATRIMONIO/core-sub003/internal/signing"
	"github.com/TUPATRIMONIO/core-sub003/pkg/httpx"
	"github.com/TUPATRIMONIO/core-sub003/pkg/webhooks"
)

const maxWebhookBodyBytes = 64 << 20 // signed PDFs arrive inline, base64

// Completer is the slice of the engine this handler needs.
type Completer interface {
	CompleteFromWebhook(ctx context.Context, p signing.WebhookParams) (signing.WebhookResult, error)
}

type Handler struct {
	engine Completer
	secret string
	log    zerolog.Logger
}

// NewHandler builds the completion handler. secret is the shared HMAC key
// for callback authentication; empty disables verification.
func NewHandler(engine Completer, secret string, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, secret: secret, log: log}
}

type completionPayload struct {
	TransactionCode string `json:"transaction_code"`
	Status          string `json:"status"`
	SignedFile      string `json:"signed_file,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

// HandleCompletion must answer success for both "just completed" and
// "already completed" so the provider stops redelivering, and a 5xx for
// anything transient so its retry policy re-delivers.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, 413, "PAYLOAD_TOO_LARGE", "payload too large", nil)
			return
		}
		httpx.WriteError(w, 400, "BAD_BODY", err.Error(), nil)
		return
	}
	if !webhooks.VerifyHMAC(r.Header, rawBody, h.secret) {
		httpx.WriteError(w, 401, "BAD_SIGNATURE", "webhook signature verification failed", nil)
		return
	}

	var payload completionPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	code := strings.TrimSpace(payload.TransactionCode)
	if code == "" {
		httpx.WriteError(w, 400, "MISSING_FIELD", "transaction_code is required", nil)
		return
	}

	if !isSuccessStatus(payload.Status) {
		// The provider reports a non-success outcome here when a pending
		// attempt died on its side. There is nothing to finalize; accepting
		// stops the redelivery loop.
		h.log.Warn().
			Str("transaction_code", code).
			Str("provider_status", payload.Status).
			Str("provider_comment", payload.Comment).
			Msg("webhook reported non-success outcome, ignoring")
		httpx.WriteJSON(w, 200, map[string]any{"success": true, "completed": false})
		return
	}

	var signedBytes []byte
	if payload.SignedFile != "" {
		decoded, err := base64.StdEncoding.DecodeString(payload.SignedFile)
		if err != nil {
			httpx.WriteError(w, 400, "BAD_PAYLOAD", "signed_file is not valid base64", nil)
			return
		}
		signedBytes = decoded
	}

	receiptHash := sha256.Sum256(rawBody)
	result, err := h.engine.CompleteFromWebhook(r.Context(), signing.WebhookParams{
		TransactionCode: code,
		SignedBytes:     signedBytes,
		ReceiptHash:     hex.EncodeToString(receiptHash[:]),
	})
	if err != nil {
		h.log.Error().Err(err).Str("transaction_code", code).Msg("webhook completion failed")
		httpx.WriteError(w, 500, "COMPLETION_FAILED", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"success":           true,
		"completed":         true,
		"already_completed": result.AlreadyCompleted,
	})
}

func isSuccessStatus(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK", "SIGNED", "COMPLETED", "SUCCESS":
		return true
	}
	return false
}
