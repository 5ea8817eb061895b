package signing

import "time"

type SigningOrder string

const (
	OrderSimultaneous SigningOrder = "simultaneous"
	OrderSequential   SigningOrder = "sequential"
)

type SignerStatus string

const (
	StatusNeedsEnrollment     SignerStatus = "needs_enrollment"
	StatusEnrolled            SignerStatus = "enrolled"
	StatusCertificateBlocked  SignerStatus = "certificate_blocked"
	StatusSecondFactorBlocked SignerStatus = "sf_blocked"
	StatusSigning             SignerStatus = "signing"
	StatusSigned              SignerStatus = "signed"
)

// Document is the aggregate root. Its file paths form a priority list: the
// latest signed artifact wins, then the QR-stamped original, then the plain
// original.
type Document struct {
	ID                      string
	OrganizationID          string
	Title                   string
	SigningOrder            SigningOrder
	OriginalFilePath        string
	QRFilePath              *string
	CurrentSignedFilePath   *string
	ProviderTransactionCode *string
}

// Placement is where the visual signature stamp lands on the document.
type Placement struct {
	Page              int
	X1, Y1, X2, Y2    float64
	CustomCoordinates bool
}

type Signer struct {
	ID             string
	DocumentID     string
	LegalID        string
	Email          string
	FullName       string
	Position       int
	SigningToken   string
	TokenExpiresAt time.Time
	Status         SignerStatus
	Placement      Placement

	SignedAt           *time.Time
	SignatureIP        *string
	SignatureUserAgent *string
}

// LogicalPath returns the path handed to the provider and the artifact store,
// preferring the most recently signed rendition.
func (d Document) LogicalPath() string {
	if d.CurrentSignedFilePath != nil && *d.CurrentSignedFilePath != "" {
		return *d.CurrentSignedFilePath
	}
	if d.QRFilePath != nil && *d.QRFilePath != "" {
		return *d.QRFilePath
	}
	return d.OriginalFilePath
}

// HasQRStamp reports whether the document carries a QR-stamped rendition.
func (d Document) HasQRStamp() bool {
	return d.QRFilePath != nil && *d.QRFilePath != ""
}
