package signing

import (
	"context"
	"errors"
)

// SignerView is the read-only snapshot the signer-facing client renders
// before attempting a signature. No transitions happen here.
type SignerView struct {
	SignerID      string
	DocumentTitle string
	Status        SignerStatus
	YourTurn      bool
	TokenExpired  bool
}

func (e *Engine) SignerView(ctx context.Context, token string) (SignerView, error) {
	agg, err := e.store.LoadByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return SignerView{}, newError(KindInvalidToken, "invalid or expired token")
		}
		return SignerView{}, wrapError(KindInfrastructure, "could not load signer", err)
	}
	return SignerView{
		SignerID:      agg.Signer.ID,
		DocumentTitle: agg.Document.Title,
		Status:        agg.Signer.Status,
		YourTurn:      CanProceed(agg.Document, agg.Signer, agg.Siblings),
		TokenExpired:  e.now().After(agg.Signer.TokenExpiresAt),
	}, nil
}
