package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const (
	defaultUploadExpiry   = 15 * time.Minute
	defaultDownloadExpiry = 15 * time.Minute
	defaultMaxPhotoBytes  = 10 << 20
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	// ErrContentTypeDenied is returned when an upload content type is not an accepted photo format.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
)

var allowedPhotoContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Photos issues signed upload and download URLs for recycling submission photos.
type Photos struct {
	bucket string
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
	newID  func() string
}

// PhotosOption customises Photos behaviour.
type PhotosOption func(*Photos)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) PhotosOption {
	return func(p *Photos) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithObjectIDGenerator overrides how object names are generated.
func WithObjectIDGenerator(gen func() string) PhotosOption {
	return func(p *Photos) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// NewPhotos constructs a photo URL issuer for the given bucket.
func NewPhotos(bucket string, signer Signer, opts ...PhotosOption) (*Photos, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	photos := &Photos{
		bucket: bucket,
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
		newID:  func() string { return strings.ToLower(ulid.Make().String()) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(photos)
		}
	}
	return photos, nil
}

// UploadTicket describes a signed PUT URL plus the object path the caller must
// echo back when submitting.
type UploadTicket struct {
	ObjectPath string
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// DownloadLink is a time-limited GET URL for a stored photo.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

// IssueUploadURL creates a signed PUT URL for a new photo owned by userID.
// Object names are generated server-side so callers cannot overwrite each
// other's uploads.
func (p *Photos) IssueUploadURL(ctx context.Context, userID, contentType string) (UploadTicket, error) {
	if ctx == nil {
		return UploadTicket{}, errors.New("storage: context is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UploadTicket{}, errors.New("storage: user id is required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return UploadTicket{}, errContentTypeMissing
	}
	ext, ok := allowedPhotoContentTypes[contentType]
	if !ok {
		return UploadTicket{}, ErrContentTypeDenied
	}

	object := path.Join("recycling", userID, p.newID()+"."+ext)
	expiresAt := p.now().Add(defaultUploadExpiry)

	sizeRange := fmt.Sprintf("0,%d", defaultMaxPhotoBytes)
	signed, err := storage.SignedURL(p.bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: p.signer.Email(),
		Scheme:         p.scheme,
		Method:         "PUT",
		ContentType:    contentType,
		Expires:        expiresAt,
		Headers:        []string{"x-goog-content-length-range:" + sizeRange},
		SignBytes: func(payload []byte) ([]byte, error) {
			return p.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return UploadTicket{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return UploadTicket{
		ObjectPath: object,
		URL:        signed,
		Method:     "PUT",
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": sizeRange,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// IssueDownloadURL creates a signed GET URL for a previously uploaded photo.
func (p *Photos) IssueDownloadURL(ctx context.Context, objectPath string) (DownloadLink, error) {
	if ctx == nil {
		return DownloadLink{}, errors.New("storage: context is required")
	}
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return DownloadLink{}, errInvalidObject
	}

	expiresAt := p.now().Add(defaultDownloadExpiry)
	signed, err := storage.SignedURL(p.bucket, objectPath, &storage.SignedURLOptions{
		GoogleAccessID: p.signer.Email(),
		Scheme:         p.scheme,
		Method:         "GET",
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return p.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return DownloadLink{}, fmt.Errorf("storage: sign download url: %w", err)
	}

	return DownloadLink{URL: signed, ExpiresAt: expiresAt}, nil
}
