package signing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TUPATRIMONIO/core-sub003/internal/provider"
)

type fakeStore struct {
	agg     Aggregate
	loadErr error

	byCodeAgg Aggregate
	inFlight  bool
	byCodeErr error

	markSigningCalls int
	markSigningCode  string
	markSigningErr   error

	blockedCalls  []SignerStatus
	setCodeCalls  []string
	finalizeCalls []FinalizeParams

	finalizeNotApplied bool
	finalizeErr        error
}

func (f *fakeStore) LoadByToken(ctx context.Context, token string) (Aggregate, error) {
	if f.loadErr != nil {
		return Aggregate{}, f.loadErr
	}
	return f.agg, nil
}

func (f *fakeStore) LoadByTransactionCode(ctx context.Context, code string) (Aggregate, bool, error) {
	if f.byCodeErr != nil {
		return Aggregate{}, false, f.byCodeErr
	}
	return f.byCodeAgg, f.inFlight, nil
}

func (f *fakeStore) MarkSigning(ctx context.Context, documentID, signerID, transactionCode string) error {
	f.markSigningCalls++
	f.markSigningCode = transactionCode
	return f.markSigningErr
}

func (f *fakeStore) MarkBlocked(ctx context.Context, documentID, signerID string, status SignerStatus) error {
	f.blockedCalls = append(f.blockedCalls, status)
	return nil
}

func (f *fakeStore) SetTransactionCode(ctx context.Context, documentID, code string) error {
	f.setCodeCalls = append(f.setCodeCalls, code)
	return nil
}

func (f *fakeStore) FinalizeSigner(ctx context.Context, params FinalizeParams) (bool, error) {
	f.finalizeCalls = append(f.finalizeCalls, params)
	if f.finalizeErr != nil {
		return false, f.finalizeErr
	}
	return !f.finalizeNotApplied, nil
}

type fakeProvider struct {
	result  provider.SignResult
	err     error
	calls   int
	lastReq provider.SignRequest
}

func (f *fakeProvider) Sign(ctx context.Context, req provider.SignRequest) (provider.SignResult, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeArtifacts struct {
	data     []byte
	fetchErr error

	storedPath string
	storeErr   error
	storeCalls int
	lastStored []byte
}

func (f *fakeArtifacts) FetchDocumentBytes(ctx context.Context, doc Document) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return f.data, "originals", nil
}

func (f *fakeArtifacts) StoreSignedBytes(ctx context.Context, doc Document, data []byte) (string, error) {
	f.storeCalls++
	f.lastStored = data
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return f.storedPath, nil
}

type notification struct {
	email, name, title, url string
}

type fakeNotifier struct {
	calls []notification
	err   error
}

func (f *fakeNotifier) NotifySignerTurn(ctx context.Context, email, name, title, actionURL string) error {
	f.calls = append(f.calls, notification{email, name, title, actionURL})
	return f.err
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testAggregate(order SigningOrder) Aggregate {
	doc := Document{
		ID:               "doc_1",
		OrganizationID:   "org_1",
		Title:            "Compraventa",
		SigningOrder:     order,
		OriginalFilePath: "org/org_1/doc/doc_1/original.pdf",
	}
	a := Signer{
		ID: "sgn_a", DocumentID: "doc_1", LegalID: "11111111-1", Email: "a@example.com",
		FullName: "Ana Aravena", Position: 1, SigningToken: "tok_a",
		TokenExpiresAt: testNow.Add(24 * time.Hour), Status: StatusEnrolled,
		Placement: Placement{Page: 1, X1: 10, Y1: 20, X2: 110, Y2: 70},
	}
	b := Signer{
		ID: "sgn_b", DocumentID: "doc_1", LegalID: "22222222-2", Email: "b@example.com",
		FullName: "Benito Bravo", Position: 2, SigningToken: "tok_b",
		TokenExpiresAt: testNow.Add(24 * time.Hour), Status: StatusEnrolled,
		Placement: Placement{Page: 1, X1: 10, Y1: 120, X2: 110, Y2: 170},
	}
	return Aggregate{Document: doc, Signer: a, Siblings: []Signer{a, b}}
}

func newTestEngine(st *fakeStore, prov *fakeProvider, art *fakeArtifacts, not *fakeNotifier) *Engine {
	e := NewEngine(st, prov, art, not, "https://sign.example/s", zerolog.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %v", err)
	}
	return se.Kind
}

func TestExecuteSigning_InvalidToken(t *testing.T) {
	st := &fakeStore{loadErr: ErrTokenNotFound}
	prov := &fakeProvider{}
	e := newTestEngine(st, prov, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "nope", Credential: "pw"})
	if kindOf(t, err) != KindInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if prov.calls != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestExecuteSigning_TokenExpiredBeforeProviderCall(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	st.agg.Signer.TokenExpiresAt = testNow.Add(-time.Minute)
	prov := &fakeProvider{}
	e := newTestEngine(st, prov, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindTokenExpired {
		t.Fatalf("expected token expired, got %v", err)
	}
	if prov.calls != 0 {
		t.Fatal("expired token must be rejected before any provider call")
	}
}

func TestExecuteSigning_AlreadySignedIsStable(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	st.agg.Signer.Status = StatusSigned
	prov := &fakeProvider{}
	art := &fakeArtifacts{}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	for i := 0; i < 2; i++ {
		_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
		if kindOf(t, err) != KindAlreadySigned {
			t.Fatalf("attempt %d: expected already signed, got %v", i, err)
		}
	}
	if prov.calls != 0 || art.storeCalls != 0 || len(st.finalizeCalls) != 0 {
		t.Fatal("already-signed attempts must not mutate anything")
	}
}

func TestExecuteSigning_NeedsEnrollmentIsHardStop(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	st.agg.Signer.Status = StatusNeedsEnrollment
	prov := &fakeProvider{}
	e := newTestEngine(st, prov, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindNeedsEnrollment {
		t.Fatalf("expected enrollment error, got %v", err)
	}
	if prov.calls != 0 {
		t.Fatal("enrollment gap must stop the attempt")
	}
}

func TestExecuteSigning_NotYourTurn(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	// Target the second signer while the first is still enrolled.
	st.agg.Signer = st.agg.Siblings[1]
	prov := &fakeProvider{}
	e := newTestEngine(st, prov, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_b", Credential: "pw"})
	if kindOf(t, err) != KindNotYourTurn {
		t.Fatalf("expected turn rejection, got %v", err)
	}
	if prov.calls != 0 {
		t.Fatal("out-of-turn attempt must not reach the provider")
	}
}

func TestExecuteSigning_BlockedStatusStillAttempts(t *testing.T) {
	// certificate_blocked is not a hard stop: the provider gets the final
	// word, and a lifted vendor-side block lets the retry succeed.
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	st.agg.Signer.Status = StatusCertificateBlocked
	st.agg.Siblings[0].Status = StatusCertificateBlocked
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("signed")}}
	art := &fakeArtifacts{data: []byte("pdf"), storedPath: "org/org_1/doc/doc_1/signed-1.pdf"}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	res, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Signed || prov.calls != 1 {
		t.Fatalf("blocked signer retry should have reached the provider and signed, got %+v", res)
	}
}

func TestExecuteSigning_ImmediateSuccess(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_9", SignedBytes: []byte("signed-pdf")}}
	art := &fakeArtifacts{data: []byte("original-pdf"), storedPath: "org/org_1/doc/doc_1/signed-9.pdf"}
	not := &fakeNotifier{}
	e := newTestEngine(st, prov, art, not)

	res, err := e.ExecuteSigning(context.Background(), ExecuteParams{
		SigningToken: "tok_a", Credential: "pw", SecondFactor: "123456",
		IP: "203.0.113.9", UserAgent: "tp-client/1.0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Signed || res.PendingWebhook || res.TransactionCode != "trx_9" {
		t.Fatalf("unexpected result %+v", res)
	}

	if string(prov.lastReq.DocumentBytes) != "original-pdf" || prov.lastReq.SecondFactor != "123456" {
		t.Fatalf("provider request not built from resolved bytes: %+v", prov.lastReq)
	}
	if prov.lastReq.Page != 1 || prov.lastReq.X1 != 10 {
		t.Fatalf("placement not forwarded: %+v", prov.lastReq)
	}

	if art.storeCalls != 1 || string(art.lastStored) != "signed-pdf" {
		t.Fatal("signed artifact must be stored exactly once")
	}
	if len(st.finalizeCalls) != 1 {
		t.Fatal("expected one finalize write")
	}
	fin := st.finalizeCalls[0]
	if fin.SignedPath != "org/org_1/doc/doc_1/signed-9.pdf" || fin.TransactionCode != "trx_9" {
		t.Fatalf("finalize params wrong: %+v", fin)
	}
	if fin.SignedAt != testNow || fin.IP == nil || *fin.IP != "203.0.113.9" || fin.UserAgent == nil || *fin.UserAgent != "tp-client/1.0" {
		t.Fatalf("audit fields wrong: %+v", fin)
	}

	if len(not.calls) != 1 {
		t.Fatal("expected one next-signer notification")
	}
	n := not.calls[0]
	if n.email != "b@example.com" || n.title != "Compraventa" || !strings.HasSuffix(n.url, "/tok_b") {
		t.Fatalf("notification wrong: %+v", n)
	}
}

func TestExecuteSigning_SimultaneousSkipsNotification(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("x")}}
	not := &fakeNotifier{}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf"), storedPath: "p"}, not)
	if _, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(not.calls) != 0 {
		t.Fatal("simultaneous documents have no next-signer notification")
	}
}

func TestExecuteSigning_NotificationFailureIsBestEffort(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("x")}}
	not := &fakeNotifier{err: errors.New("smtp down")}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf"), storedPath: "p"}, not)
	res, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if err != nil || !res.Signed {
		t.Fatalf("notification outage must not fail the signature: res=%+v err=%v", res, err)
	}
}

func TestExecuteSigning_ArtifactFetchFailure(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	prov := &fakeProvider{}
	art := &fakeArtifacts{fetchErr: errors.New(`document artifact "x.pdf" not retrievable from any location: [signed key=signed/x.pdf: NoSuchKey] [originals key=originals/x.pdf: NoSuchKey]`)}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if !strings.Contains(err.Error(), "signed key=") || !strings.Contains(err.Error(), "originals key=") {
		t.Fatalf("error must enumerate attempted locations, got %q", err.Error())
	}
	if prov.calls != 0 {
		t.Fatal("provider must not be called without document bytes")
	}
}

func TestExecuteSigning_ProviderErrorCertificateBlocked(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	prov := &fakeProvider{result: provider.SignResult{
		TransactionCode: "trx_err",
		Err:             &provider.VendorError{Code: "301", Comment: "certificado revocado por la CA", State: "REJECTED"},
	}}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf")}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})

	var se *Error
	if !errors.As(err, &se) || se.Kind != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if se.Message != "certificado revocado por la CA" {
		t.Fatalf("vendor comment must be surfaced verbatim, got %q", se.Message)
	}
	if se.ProviderCode != "301" || se.ProviderState != "REJECTED" {
		t.Fatalf("provider diagnostics missing: %+v", se)
	}
	if len(st.blockedCalls) != 1 || st.blockedCalls[0] != StatusCertificateBlocked {
		t.Fatalf("expected certificate_blocked transition, got %v", st.blockedCalls)
	}
	if len(st.setCodeCalls) != 1 || st.setCodeCalls[0] != "trx_err" {
		t.Fatal("transaction code must be persisted even on failure")
	}
}

func TestExecuteSigning_ProviderErrorSecondFactorBlocked(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	prov := &fakeProvider{result: provider.SignResult{
		Err: &provider.VendorError{Code: "401", Comment: "OTP bloqueado"},
	}}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf")}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(st.blockedCalls) != 1 || st.blockedCalls[0] != StatusSecondFactorBlocked {
		t.Fatalf("expected sf_blocked transition, got %v", st.blockedCalls)
	}
}

func TestExecuteSigning_UnmappedProviderCodeLeavesStatus(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	prov := &fakeProvider{result: provider.SignResult{
		TransactionCode: "trx_u",
		Err:             &provider.VendorError{Code: "999", Comment: "error interno del proveedor"},
	}}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf")}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(st.blockedCalls) != 0 {
		t.Fatal("unmapped code must not change signer status")
	}
	if len(st.setCodeCalls) != 1 {
		t.Fatal("transaction code still recorded for traceability")
	}
}

func TestExecuteSigning_ErrorMappingIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		status, ok := statusForProviderCode("302")
		if !ok || status != StatusCertificateBlocked {
			t.Fatalf("code 302 mapping changed on call %d", i)
		}
		status, ok = statusForProviderCode("402")
		if !ok || status != StatusSecondFactorBlocked {
			t.Fatalf("code 402 mapping changed on call %d", i)
		}
		if _, ok := statusForProviderCode("200"); ok {
			t.Fatal("unknown code must not map")
		}
	}
}

func TestExecuteSigning_PendingWebhook(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_p", Pending: true}}
	art := &fakeArtifacts{data: []byte("pdf")}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	res, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Signed || !res.PendingWebhook || res.TransactionCode != "trx_p" {
		t.Fatalf("unexpected result %+v", res)
	}
	if st.markSigningCalls != 1 || st.markSigningCode != "trx_p" {
		t.Fatal("pending path must record the signing state and transaction code")
	}
	if art.storeCalls != 0 || len(st.finalizeCalls) != 0 {
		t.Fatal("pending path must not finalize")
	}
}

func TestExecuteSigning_PersistenceFailureAfterProviderSuccess(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous)}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("x")}}
	art := &fakeArtifacts{data: []byte("pdf"), storeErr: errors.New("s3 down")}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindPersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !strings.Contains(err.Error(), "reload") {
		t.Fatalf("client must be told to reload, got %q", err.Error())
	}
}

func TestExecuteSigning_FinalizeFailureAfterProviderSuccess(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSimultaneous), finalizeErr: errors.New("db down")}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("x")}}
	e := newTestEngine(st, prov, &fakeArtifacts{data: []byte("pdf"), storedPath: "p"}, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindPersistence {
		t.Fatalf("status write failure after provider success must not claim success, got %v", err)
	}
}

func webhookAggregate() Aggregate {
	agg := testAggregate(OrderSequential)
	agg.Signer.Status = StatusSigning
	agg.Siblings[0].Status = StatusSigning
	return agg
}

func TestCompleteFromWebhook_FinalizesAndNotifies(t *testing.T) {
	st := &fakeStore{byCodeAgg: webhookAggregate(), inFlight: true}
	art := &fakeArtifacts{storedPath: "org/org_1/doc/doc_1/signed-w.pdf"}
	not := &fakeNotifier{}
	e := newTestEngine(st, &fakeProvider{}, art, not)

	res, err := e.CompleteFromWebhook(context.Background(), WebhookParams{
		TransactionCode: "trx_p", SignedBytes: []byte("signed-by-webhook"),
		ReceiptHash: "abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AlreadyCompleted || res.SignerID != "sgn_a" {
		t.Fatalf("unexpected result %+v", res)
	}
	if art.storeCalls != 1 || string(art.lastStored) != "signed-by-webhook" {
		t.Fatal("webhook must store the delivered artifact")
	}
	if len(st.finalizeCalls) != 1 || st.finalizeCalls[0].SignedPath != "org/org_1/doc/doc_1/signed-w.pdf" {
		t.Fatalf("finalize params wrong: %+v", st.finalizeCalls)
	}
	fin := st.finalizeCalls[0]
	if fin.ReceiptHash == nil || *fin.ReceiptHash != "abc123" || fin.ReceiptReceivedAt == nil {
		t.Fatalf("webhook receipt audit missing: %+v", fin)
	}
	if len(not.calls) != 1 || not.calls[0].email != "b@example.com" {
		t.Fatalf("next signer must be notified, got %+v", not.calls)
	}
}

func TestCompleteFromWebhook_DoubleDeliveryIsNoOp(t *testing.T) {
	st := &fakeStore{byCodeAgg: webhookAggregate(), inFlight: true}
	art := &fakeArtifacts{storedPath: "p"}
	not := &fakeNotifier{}
	e := newTestEngine(st, &fakeProvider{}, art, not)

	if _, err := e.CompleteFromWebhook(context.Background(), WebhookParams{TransactionCode: "trx_p", SignedBytes: []byte("x")}); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	// After the first delivery the signer is signed; nobody is mid-flight.
	st.inFlight = false
	res, err := e.CompleteFromWebhook(context.Background(), WebhookParams{TransactionCode: "trx_p", SignedBytes: []byte("x")})
	if err != nil {
		t.Fatalf("second delivery must succeed as a no-op: %v", err)
	}
	if !res.AlreadyCompleted {
		t.Fatal("second delivery must report already completed")
	}
	if art.storeCalls != 1 {
		t.Fatal("second delivery must not write a second artifact")
	}
	if len(not.calls) != 1 {
		t.Fatal("notification must fire exactly once")
	}
}

func TestExecuteSigning_ConcurrentDuplicateLosesCleanly(t *testing.T) {
	// A duplicate request for the same signer can only finalize once; the
	// loser sees the already-signed outcome, never a second artifact write.
	st := &fakeStore{agg: testAggregate(OrderSimultaneous), finalizeNotApplied: true}
	prov := &fakeProvider{result: provider.SignResult{TransactionCode: "trx_1", SignedBytes: []byte("x")}}
	art := &fakeArtifacts{data: []byte("pdf"), storedPath: "p"}
	e := newTestEngine(st, prov, art, &fakeNotifier{})
	_, err := e.ExecuteSigning(context.Background(), ExecuteParams{SigningToken: "tok_a", Credential: "pw"})
	if kindOf(t, err) != KindAlreadySigned {
		t.Fatalf("expected already-signed outcome for the losing duplicate, got %v", err)
	}
}

func TestCompleteFromWebhook_UnknownTransaction(t *testing.T) {
	st := &fakeStore{byCodeErr: ErrTransactionNotFound}
	e := newTestEngine(st, &fakeProvider{}, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.CompleteFromWebhook(context.Background(), WebhookParams{TransactionCode: "nope", SignedBytes: []byte("x")})
	if err == nil {
		t.Fatal("expected error for unknown transaction code")
	}
}

func TestCompleteFromWebhook_MissingSignedBytes(t *testing.T) {
	st := &fakeStore{byCodeAgg: webhookAggregate(), inFlight: true}
	e := newTestEngine(st, &fakeProvider{}, &fakeArtifacts{}, &fakeNotifier{})
	_, err := e.CompleteFromWebhook(context.Background(), WebhookParams{TransactionCode: "trx_p"})
	if kindOf(t, err) != KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestSignerView(t *testing.T) {
	st := &fakeStore{agg: testAggregate(OrderSequential)}
	st.agg.Signer = st.agg.Siblings[1]
	e := newTestEngine(st, &fakeProvider{}, &fakeArtifacts{}, &fakeNotifier{})
	view, err := e.SignerView(context.Background(), "tok_b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.YourTurn {
		t.Fatal("second signer should not yet have the turn")
	}
	if view.Status != StatusEnrolled || view.DocumentTitle != "Compraventa" || view.TokenExpired {
		t.Fatalf("unexpected view %+v", view)
	}
}
