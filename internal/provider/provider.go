// Package provider abstracts the external signature vendor. The engine only
// ever sees this interface; all vendor request/response shaping lives in the
// concrete client.
package provider

import "context"

type SignRequest struct {
	// Credential is the signer's vendor-side secret (certificate password or
	// equivalent). Never persisted.
	Credential   string
	SecondFactor string

	LegalID        string
	OrganizationID string

	DocumentName  string
	DocumentBytes []byte

	Page              int
	X1, Y1, X2, Y2    float64
	CustomCoordinates bool
	QRStamped         bool
}

// SignResult is one of three shapes: signed bytes present (synchronous
// completion), Pending true (webhook will finalize), or Err non-nil
// (vendor rejected the attempt).
type SignResult struct {
	TransactionCode string
	SignedBytes     []byte
	Pending         bool
	Err             *VendorError
}

// VendorError carries the vendor's own diagnostics. Comment is the text the
// vendor returned and is propagated to the caller untouched.
type VendorError struct {
	Code    string
	Comment string
	State   string
}

func (e *VendorError) Error() string {
	if e.Comment != "" {
		return e.Comment
	}
	return "signature provider rejected the request (code " + e.Code + ")"
}

type Provider interface {
	Sign(ctx context.Context, req SignRequest) (SignResult, error)
}
