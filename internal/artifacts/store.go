// Package artifacts resolves and persists document renditions in S3. The
// bucket is split into two areas: originals (uploaded and QR-stamped files)
// and signed (immutable signing output).
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/TUPATRIMONIO/core-sub003/internal/signing"
)

type Location string

const (
	LocationSigned    Location = "signed"
	LocationOriginals Location = "originals"
)

// probeOrder is fixed: the signed area is authoritative for anything signed,
// the originals area is the fallback.
var probeOrder = []Location{LocationSigned, LocationOriginals}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client          s3API
	bucket          string
	originalsPrefix string
	signedPrefix    string
	now             func() time.Time
}

func New(client s3API, bucket, originalsPrefix, signedPrefix string) *Store {
	return &Store{
		client:          client,
		bucket:          bucket,
		originalsPrefix: strings.Trim(originalsPrefix, "/"),
		signedPrefix:    strings.Trim(signedPrefix, "/"),
		now:             time.Now,
	}
}

// Attempt records one physical probe for diagnostics.
type Attempt struct {
	Location Location
	Key      string
	Err      error
}

// FetchError enumerates every location tried and why each failed.
type FetchError struct {
	LogicalPath string
	Attempts    []Attempt
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "document artifact %q not retrievable from any location:", e.LogicalPath)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " [%s key=%s: %v]", a.Location, a.Key, a.Err)
	}
	return b.String()
}

func (s *Store) key(loc Location, logicalPath string) string {
	prefix := s.originalsPrefix
	if loc == LocationSigned {
		prefix = s.signedPrefix
	}
	return prefix + "/" + strings.TrimLeft(logicalPath, "/")
}

// FetchDocumentBytes resolves the document's logical path (latest signed
// rendition first) and probes both physical areas for it. The returned
// location names the area that yielded the bytes.
func (s *Store) FetchDocumentBytes(ctx context.Context, doc signing.Document) ([]byte, string, error) {
	logical := doc.LogicalPath()
	fe := &FetchError{LogicalPath: logical}
	for _, loc := range probeOrder {
		key := s.key(loc, logical)
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			fe.Attempts = append(fe.Attempts, Attempt{Location: loc, Key: key, Err: err})
			continue
		}
		data, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			fe.Attempts = append(fe.Attempts, Attempt{Location: loc, Key: key, Err: err})
			continue
		}
		return data, string(loc), nil
	}
	return nil, "", fe
}

// IsNotFound reports whether an attempt failed because the object does not
// exist, as opposed to an access or transport problem.
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// StoreSignedBytes writes a new signed artifact under the signed area and
// returns its logical path. Keys embed a timestamp and a uuid so a prior
// signed artifact is never overwritten.
func (s *Store) StoreSignedBytes(ctx context.Context, doc signing.Document, data []byte) (string, error) {
	logical := fmt.Sprintf("org/%s/doc/%s/signed-%s-%s.pdf",
		doc.OrganizationID, doc.ID, s.now().UTC().Format("20060102T150405"), uuid.NewString())
	key := s.key(LocationSigned, logical)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("store signed artifact %q: %w", key, err)
	}
	return logical, nil
}
