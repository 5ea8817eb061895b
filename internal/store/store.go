// Package store is the pgx-backed persistence boundary for the signing
// aggregate. All signer status writes are conditional updates and, where the
// ordering protocol matters, happen under a document row lock so the turn
// check and the write are one atomic unit.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TUPATRIMONIO/core-sub003/internal/signing"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const signerColumns = `
signer_id::text, document_id::text, legal_id, email, full_name, signing_order_position,
signing_token, token_expires_at, status,
placement_page, coord_x1, coord_y1, coord_x2, coord_y2, custom_coordinates,
signed_at, signature_ip, signature_user_agent`

func scanSigner(row pgx.Row) (signing.Signer, error) {
	var s signing.Signer
	err := row.Scan(
		&s.ID, &s.DocumentID, &s.LegalID, &s.Email, &s.FullName, &s.Position,
		&s.SigningToken, &s.TokenExpiresAt, &s.Status,
		&s.Placement.Page, &s.Placement.X1, &s.Placement.Y1, &s.Placement.X2, &s.Placement.Y2, &s.Placement.CustomCoordinates,
		&s.SignedAt, &s.SignatureIP, &s.SignatureUserAgent,
	)
	return s, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadDocument(ctx context.Context, q querier, documentID string) (signing.Document, error) {
	var d signing.Document
	err := q.QueryRow(ctx, `
SELECT document_id::text, organization_id::text, title, signing_order,
       original_file_path, qr_file_path, current_signed_file_path, provider_transaction_code
FROM documents WHERE document_id=$1
`, documentID).Scan(&d.ID, &d.OrganizationID, &d.Title, &d.SigningOrder,
		&d.OriginalFilePath, &d.QRFilePath, &d.CurrentSignedFilePath, &d.ProviderTransactionCode)
	return d, err
}

func loadSigners(ctx context.Context, q querier, documentID string) ([]signing.Signer, error) {
	rows, err := q.Query(ctx, `SELECT `+signerColumns+`
FROM signers WHERE document_id=$1 ORDER BY signing_order_position ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []signing.Signer
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *Store) LoadByToken(ctx context.Context, token string) (signing.Aggregate, error) {
	signer, err := scanSigner(st.DB.QueryRow(ctx, `SELECT `+signerColumns+`
FROM signers WHERE signing_token=$1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return signing.Aggregate{}, signing.ErrTokenNotFound
		}
		return signing.Aggregate{}, err
	}
	doc, err := loadDocument(ctx, st.DB, signer.DocumentID)
	if err != nil {
		return signing.Aggregate{}, err
	}
	siblings, err := loadSigners(ctx, st.DB, signer.DocumentID)
	if err != nil {
		return signing.Aggregate{}, err
	}
	return signing.Aggregate{Document: doc, Signer: signer, Siblings: siblings}, nil
}

func (st *Store) LoadByTransactionCode(ctx context.Context, code string) (signing.Aggregate, bool, error) {
	var documentID string
	err := st.DB.QueryRow(ctx, `SELECT document_id::text FROM documents WHERE provider_transaction_code=$1`, code).Scan(&documentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return signing.Aggregate{}, false, signing.ErrTransactionNotFound
		}
		return signing.Aggregate{}, false, err
	}
	doc, err := loadDocument(ctx, st.DB, documentID)
	if err != nil {
		return signing.Aggregate{}, false, err
	}
	siblings, err := loadSigners(ctx, st.DB, documentID)
	if err != nil {
		return signing.Aggregate{}, false, err
	}
	agg := signing.Aggregate{Document: doc, Siblings: siblings}
	for _, s := range siblings {
		if s.Status == signing.StatusSigning {
			agg.Signer = s
			return agg, true, nil
		}
	}
	return agg, false, nil
}

// attemptableStatuses are the states a new provider attempt may start from.
// Blocked states stay retryable; the vendor confirms or lifts the block.
const attemptableStatuses = `('enrolled','certificate_blocked','sf_blocked')`

func (st *Store) MarkSigning(ctx context.Context, documentID, signerID, transactionCode string) error {
	tx, err := st.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	doc, signer, siblings, err := lockAggregate(ctx, tx, documentID, signerID)
	if err != nil {
		return err
	}
	if !signing.CanProceed(doc, signer, siblings) {
		return signing.ErrTurnViolation
	}

	tag, err := tx.Exec(ctx, `UPDATE signers SET status='signing', updated_at=now()
WHERE signer_id=$1 AND status IN `+attemptableStatuses, signerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return signing.ErrConflict
	}
	if _, err := tx.Exec(ctx, `UPDATE documents SET provider_transaction_code=$1, updated_at=now()
WHERE document_id=$2`, transactionCode, documentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (st *Store) MarkBlocked(ctx context.Context, documentID, signerID string, status signing.SignerStatus) error {
	tag, err := st.DB.Exec(ctx, `UPDATE signers SET status=$1, updated_at=now()
WHERE signer_id=$2 AND document_id=$3 AND status IN `+attemptableStatuses, string(status), signerID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return signing.ErrConflict
	}
	return nil
}

func (st *Store) SetTransactionCode(ctx context.Context, documentID, code string) error {
	_, err := st.DB.Exec(ctx, `UPDATE documents SET provider_transaction_code=$1, updated_at=now()
WHERE document_id=$2`, code, documentID)
	return err
}

func (st *Store) FinalizeSigner(ctx context.Context, p signing.FinalizeParams) (bool, error) {
	tx, err := st.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	doc, signer, siblings, err := lockAggregate(ctx, tx, p.DocumentID, p.SignerID)
	if err != nil {
		return false, err
	}
	if signer.Status == signing.StatusSigned {
		return false, nil
	}
	if !signing.CanProceed(doc, signer, siblings) {
		return false, signing.ErrTurnViolation
	}

	tag, err := tx.Exec(ctx, `UPDATE signers
SET status='signed', signed_at=$1, signature_ip=$2, signature_user_agent=$3, updated_at=now()
WHERE signer_id=$4 AND status <> 'signed'`,
		p.SignedAt, p.IP, p.UserAgent, p.SignerID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE documents
SET current_signed_file_path=$1, provider_transaction_code=$2,
    webhook_receipt_hash=COALESCE($3, webhook_receipt_hash),
    webhook_received_at=COALESCE($4, webhook_received_at),
    updated_at=now()
WHERE document_id=$5`, p.SignedPath, p.TransactionCode, p.ReceiptHash, p.ReceiptReceivedAt, p.DocumentID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// lockAggregate takes the document row lock that serializes concurrent
// signer attempts, then reads the signer set under it.
func lockAggregate(ctx context.Context, tx pgx.Tx, documentID, signerID string) (signing.Document, signing.Signer, []signing.Signer, error) {
	var d signing.Document
	err := tx.QueryRow(ctx, `
SELECT document_id::text, organization_id::text, title, signing_order,
       original_file_path, qr_file_path, current_signed_file_path, provider_transaction_code
FROM documents WHERE document_id=$1 FOR UPDATE
`, documentID).Scan(&d.ID, &d.OrganizationID, &d.Title, &d.SigningOrder,
		&d.OriginalFilePath, &d.QRFilePath, &d.CurrentSignedFilePath, &d.ProviderTransactionCode)
	if err != nil {
		return signing.Document{}, signing.Signer{}, nil, err
	}
	siblings, err := loadSigners(ctx, tx, documentID)
	if err != nil {
		return signing.Document{}, signing.Signer{}, nil, err
	}
	for _, s := range siblings {
		if s.ID == signerID {
			return d, s, siblings, nil
		}
	}
	return signing.Document{}, signing.Signer{}, nil, pgx.ErrNoRows
}
