package signing

// Kind is the machine-readable classification a client UI can branch on.
type Kind string

const (
	KindInvalidToken    Kind = "INVALID_TOKEN"
	KindTokenExpired    Kind = "TOKEN_EXPIRED"
	KindAlreadySigned   Kind = "ALREADY_SIGNED"
	KindNeedsEnrollment Kind = "NEEDS_ENROLLMENT"
	KindNotYourTurn     Kind = "NOT_YOUR_TURN"
	KindProvider        Kind = "PROVIDER_ERROR"
	KindInfrastructure  Kind = "INFRASTRUCTURE_ERROR"
	// KindPersistence marks the one case where the external signature already
	// happened but the local write failed; the client must reload, not retry.
	KindPersistence Kind = "PERSISTENCE_AFTER_SIGN"
)

type Error struct {
	Kind    Kind
	Message string

	// Provider diagnostics, populated only for KindProvider. Comment is the
	// vendor's own text and is surfaced verbatim.
	ProviderCode    string
	ProviderState   string
	ProviderComment string

	cause error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}
