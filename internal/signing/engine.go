package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TUPATRIMONIO/core-sub003/internal/provider"
)

// Aggregate is the read-consistent snapshot both entry points operate on:
// the target signer, its document, and every sibling signer.
type Aggregate struct {
	Document Document
	Signer   Signer
	Siblings []Signer
}

var (
	ErrTokenNotFound       = errors.New("signing token not found")
	ErrTransactionNotFound = errors.New("transaction code not found")
	// ErrTurnViolation is returned by the store when the in-transaction turn
	// re-check fails, i.e. a lower-position signer is still unfinished at
	// write time.
	ErrTurnViolation = errors.New("turn order violated at write time")
	// ErrConflict is returned by the store when a conditional status update
	// matched no row because a concurrent attempt got there first.
	ErrConflict = errors.New("signer status changed concurrently")
)

// FinalizeParams carries the authoritative "mark signed" write. SignedPath
// updates the document's current signed artifact; audit fields are set only
// on this transition.
type FinalizeParams struct {
	DocumentID      string
	SignerID        string
	SignedPath      string
	TransactionCode string
	SignedAt        time.Time
	IP              *string
	UserAgent       *string

	// Webhook receipt audit, set only on the webhook completion path.
	ReceiptHash       *string
	ReceiptReceivedAt *time.Time
}

type Store interface {
	LoadByToken(ctx context.Context, token string) (Aggregate, error)
	// LoadByTransactionCode resolves the document by its provider correlation
	// id; Signer is the signer currently mid-flight ('signing') when one
	// exists, otherwise the zero Signer with Siblings still populated.
	LoadByTransactionCode(ctx context.Context, code string) (Aggregate, bool, error)
	// MarkSigning conditionally moves the signer into the intermediate
	// 'signing' state and records the transaction code on the document.
	MarkSigning(ctx context.Context, documentID, signerID, transactionCode string) error
	// MarkBlocked conditionally applies a provider-reported block. Signers
	// already signed are never regressed.
	MarkBlocked(ctx context.Context, documentID, signerID string, status SignerStatus) error
	// SetTransactionCode records the provider correlation id even when the
	// attempt failed, for traceability.
	SetTransactionCode(ctx context.Context, documentID, code string) error
	// FinalizeSigner performs the terminal write inside one transaction:
	// locks the document aggregate, re-validates turn order, conditionally
	// marks the signer signed and updates the document's signed path.
	// Returns (false, nil) when the signer was already signed.
	FinalizeSigner(ctx context.Context, params FinalizeParams) (applied bool, err error)
}

type ArtifactStore interface {
	FetchDocumentBytes(ctx context.Context, doc Document) (data []byte, location string, err error)
	StoreSignedBytes(ctx context.Context, doc Document, data []byte) (newPath string, err error)
}

type Notifier interface {
	NotifySignerTurn(ctx context.Context, email, name, documentTitle, actionURL string) error
}

// Provider error codes with a durable local meaning. Any code outside these
// two sets leaves the signer status unchanged.
var certificateBlockedCodes = map[string]struct{}{
	"301": {}, "302": {}, "305": {},
}

var secondFactorBlockedCodes = map[string]struct{}{
	"401": {}, "402": {},
}

func statusForProviderCode(code string) (SignerStatus, bool) {
	if _, ok := certificateBlockedCodes[code]; ok {
		return StatusCertificateBlocked, true
	}
	if _, ok := secondFactorBlockedCodes[code]; ok {
		return StatusSecondFactorBlocked, true
	}
	return "", false
}

type Engine struct {
	store     Store
	provider  provider.Provider
	artifacts ArtifactStore
	notifier  Notifier
	log       zerolog.Logger

	// signURLBase is the signer-facing base URL embedded in turn
	// notifications.
	signURLBase string
	now         func() time.Time
}

func NewEngine(store Store, prov provider.Provider, artifacts ArtifactStore, notifier Notifier, signURLBase string, log zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		provider:    prov,
		artifacts:   artifacts,
		notifier:    notifier,
		log:         log,
		signURLBase: signURLBase,
		now:         time.Now,
	}
}

type ExecuteParams struct {
	SigningToken string
	Credential   string
	SecondFactor string
	IP           string
	UserAgent    string
}

type ExecutionResult struct {
	Signed          bool
	PendingWebhook  bool
	Message         string
	TransactionCode string
}

// ExecuteSigning drives one signing attempt end to end. Preconditions are
// checked in a fixed order and the first failure wins; blocked statuses are
// deliberately not preconditions, the provider gets the final word on those.
func (e *Engine) ExecuteSigning(ctx context.Context, p ExecuteParams) (ExecutionResult, error) {
	agg, err := e.store.LoadByToken(ctx, p.SigningToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ExecutionResult{}, newError(KindInvalidToken, "invalid or expired token")
		}
		return ExecutionResult{}, wrapError(KindInfrastructure, "could not load signer", err)
	}
	doc, signer := agg.Document, agg.Signer

	if e.now().After(signer.TokenExpiresAt) {
		return ExecutionResult{}, newError(KindTokenExpired, "token expired")
	}
	if signer.Status == StatusSigned {
		return ExecutionResult{}, newError(KindAlreadySigned, "already signed by you")
	}
	if signer.Status == StatusNeedsEnrollment {
		return ExecutionResult{}, newError(KindNeedsEnrollment, "must complete enrollment before signing")
	}
	if !CanProceed(doc, signer, agg.Siblings) {
		return ExecutionResult{}, newError(KindNotYourTurn, "not your turn: earlier signers have not finished")
	}

	data, location, err := e.artifacts.FetchDocumentBytes(ctx, doc)
	if err != nil {
		e.logger(doc, signer, "").Error().Err(err).Msg("document artifact not retrievable")
		return ExecutionResult{}, wrapError(KindInfrastructure, err.Error(), err)
	}
	e.logger(doc, signer, "").Debug().Str("location", location).Msg("document bytes resolved")

	res, err := e.provider.Sign(ctx, provider.SignRequest{
		Credential:        p.Credential,
		SecondFactor:      p.SecondFactor,
		LegalID:           signer.LegalID,
		OrganizationID:    doc.OrganizationID,
		DocumentName:      doc.Title,
		DocumentBytes:     data,
		Page:              signer.Placement.Page,
		X1:                signer.Placement.X1,
		Y1:                signer.Placement.Y1,
		X2:                signer.Placement.X2,
		Y2:                signer.Placement.Y2,
		CustomCoordinates: signer.Placement.CustomCoordinates,
		QRStamped:         doc.HasQRStamp(),
	})
	if err != nil {
		e.logger(doc, signer, "").Error().Err(err).Msg("provider call failed")
		return ExecutionResult{}, wrapError(KindProvider, "signature provider unreachable: "+err.Error(), err)
	}

	if res.Err != nil {
		return ExecutionResult{}, e.handleProviderFailure(ctx, doc, signer, res)
	}

	if res.Pending {
		if err := e.store.MarkSigning(ctx, doc.ID, signer.ID, res.TransactionCode); err != nil {
			if errors.Is(err, ErrConflict) {
				return ExecutionResult{}, newError(KindAlreadySigned, "a signing attempt for this signer already completed")
			}
			if errors.Is(err, ErrTurnViolation) {
				return ExecutionResult{}, newError(KindNotYourTurn, "not your turn: earlier signers have not finished")
			}
			return ExecutionResult{}, wrapError(KindInfrastructure, "could not record pending signature", err)
		}
		e.logger(doc, signer, res.TransactionCode).Info().Msg("provider accepted, awaiting webhook")
		return ExecutionResult{
			PendingWebhook:  true,
			Message:         "signature in progress, completion pending",
			TransactionCode: res.TransactionCode,
		}, nil
	}

	audit := FinalizeParams{
		DocumentID:      doc.ID,
		SignerID:        signer.ID,
		TransactionCode: res.TransactionCode,
		SignedAt:        e.now().UTC(),
	}
	if p.IP != "" {
		audit.IP = &p.IP
	}
	if p.UserAgent != "" {
		audit.UserAgent = &p.UserAgent
	}
	applied, err := e.finalize(ctx, doc, signer, agg.Siblings, res.SignedBytes, audit)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !applied {
		return ExecutionResult{}, newError(KindAlreadySigned, "already signed by you")
	}
	return ExecutionResult{
		Signed:          true,
		Message:         "document signed",
		TransactionCode: res.TransactionCode,
	}, nil
}

func (e *Engine) handleProviderFailure(ctx context.Context, doc Document, signer Signer, res provider.SignResult) error {
	// The transaction code is kept even on failure so a support engineer can
	// chase the attempt on the vendor side.
	if res.TransactionCode != "" {
		if err := e.store.SetTransactionCode(ctx, doc.ID, res.TransactionCode); err != nil {
			e.logger(doc, signer, res.TransactionCode).Error().Err(err).Msg("could not persist transaction code")
		}
	}
	if status, ok := statusForProviderCode(res.Err.Code); ok {
		if err := e.store.MarkBlocked(ctx, doc.ID, signer.ID, status); err != nil && !errors.Is(err, ErrConflict) {
			e.logger(doc, signer, res.TransactionCode).Error().Err(err).Str("target_status", string(status)).Msg("could not persist blocked status")
		}
	}
	e.logger(doc, signer, res.TransactionCode).Warn().
		Str("provider_code", res.Err.Code).
		Str("provider_state", res.Err.State).
		Msg("provider rejected signing attempt")
	return &Error{
		Kind:            KindProvider,
		Message:         res.Err.Error(),
		ProviderCode:    res.Err.Code,
		ProviderState:   res.Err.State,
		ProviderComment: res.Err.Comment,
	}
}

// finalize is the single authoritative completion path shared by the
// synchronous flow and the webhook flow: store the artifact, mark the signer
// signed, then notify the next sequential signer best-effort.
func (e *Engine) finalize(ctx context.Context, doc Document, signer Signer, siblings []Signer, signedBytes []byte, params FinalizeParams) (bool, error) {
	newPath, err := e.artifacts.StoreSignedBytes(ctx, doc, signedBytes)
	if err != nil {
		// The provider-side signature already happened; claiming success
		// without the artifact stored would lose it.
		e.logger(doc, signer, params.TransactionCode).Error().Err(err).Msg("signed artifact store failed after provider success")
		return false, wrapError(KindPersistence,
			"signature completed externally but could not be stored; reload the document before retrying", err)
	}
	params.SignedPath = newPath

	applied, err := e.store.FinalizeSigner(ctx, params)
	if err != nil {
		e.logger(doc, signer, params.TransactionCode).Error().Err(err).Msg("signer finalize failed after provider success")
		return false, wrapError(KindPersistence,
			"signature completed externally but local state could not be updated; reload the document", err)
	}
	if !applied {
		return false, nil
	}

	if doc.SigningOrder == OrderSequential {
		if next := NextPendingSigner(siblings, signer.Position); next != nil {
			actionURL := fmt.Sprintf("%s/%s", e.signURLBase, next.SigningToken)
			if err := e.notifier.NotifySignerTurn(ctx, next.Email, next.FullName, doc.Title, actionURL); err != nil {
				e.logger(doc, signer, params.TransactionCode).Warn().Err(err).
					Str("next_signer_id", next.ID).
					Msg("next-signer notification failed")
			}
		}
	}
	return true, nil
}

type WebhookParams struct {
	TransactionCode string
	SignedBytes     []byte
	// ReceiptHash is the hex SHA-256 of the raw callback body, kept on the
	// document's audit columns so a delivery can be matched to vendor logs.
	ReceiptHash string
}

type WebhookResult struct {
	AlreadyCompleted bool
	SignerID         string
}

// CompleteFromWebhook finalizes a document whose provider call returned
// pending. Idempotent: once no signer is mid-flight for the transaction, the
// call reports already-completed instead of failing, so provider redelivery
// is harmless.
func (e *Engine) CompleteFromWebhook(ctx context.Context, p WebhookParams) (WebhookResult, error) {
	agg, inFlight, err := e.store.LoadByTransactionCode(ctx, p.TransactionCode)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return WebhookResult{}, newError(KindInvalidToken, "unknown transaction code")
		}
		return WebhookResult{}, wrapError(KindInfrastructure, "could not load document for transaction", err)
	}
	if !inFlight {
		return WebhookResult{AlreadyCompleted: true}, nil
	}
	if len(p.SignedBytes) == 0 {
		return WebhookResult{}, newError(KindInfrastructure, "webhook payload is missing the signed document")
	}

	doc, signer := agg.Document, agg.Signer
	audit := FinalizeParams{
		DocumentID:      doc.ID,
		SignerID:        signer.ID,
		TransactionCode: p.TransactionCode,
		SignedAt:        e.now().UTC(),
	}
	if p.ReceiptHash != "" {
		receivedAt := audit.SignedAt
		audit.ReceiptHash = &p.ReceiptHash
		audit.ReceiptReceivedAt = &receivedAt
	}
	applied, err := e.finalize(ctx, doc, signer, agg.Siblings, p.SignedBytes, audit)
	if err != nil {
		return WebhookResult{}, err
	}
	if !applied {
		return WebhookResult{AlreadyCompleted: true, SignerID: signer.ID}, nil
	}
	e.logger(doc, signer, p.TransactionCode).Info().Msg("signer finalized from webhook")
	return WebhookResult{SignerID: signer.ID}, nil
}

func (e *Engine) logger(doc Document, signer Signer, transactionCode string) *zerolog.Logger {
	lc := e.log.With().Str("document_id", doc.ID).Str("signer_id", signer.ID)
	if transactionCode != "" {
		lc = lc.Str("transaction_code", transactionCode)
	}
	l := lc.Logger()
	return &l
}
