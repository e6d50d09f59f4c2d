package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrBlobTooLarge is returned when an image exceeds the upload limit
	ErrBlobTooLarge = errors.New("image exceeds the maximum upload size")
	// ErrUnsupportedImage is returned when the sniffed type is not an allowed image
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrInvalidBlobKey is returned for keys that could escape the storage root
	ErrInvalidBlobKey = errors.New("invalid blob key")
)

// allowedImageTypes maps sniffed content types to file extensions
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var blobKeyPattern = regexp.MustCompile(`^[a-z0-9-]+/[a-f0-9-]{36}\.(jpg|png|webp|gif)$`)

// ValidateImage sniffs data and checks it is an allowed image within maxBytes
func ValidateImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrUnsupportedImage)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrBlobTooLarge, len(data), maxBytes)
	}
	contentType := http.DetectContentType(data)
	if _, ok := allowedImageTypes[contentType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	return contentType, nil
}

// BlobStore keeps badge images on the local filesystem under a root
// directory and serves them back through /media/{key}
type BlobStore struct {
	root     string
	baseURL  string
	maxBytes int64
}

// NewBlobStore creates the root directory if needed
func NewBlobStore(root, publicBaseURL string, maxBytes int64) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &BlobStore{
		root:     root,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// MaxBytes returns the upload size limit
func (s *BlobStore) MaxBytes() int64 {
	return s.maxBytes
}

// Put validates and stores an image under prefix, returning its key and
// sniffed content type
func (s *BlobStore) Put(ctx context.Context, prefix string, data []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	contentType, err := ValidateImage(data, s.maxBytes)
	if err != nil {
		return "", "", err
	}

	key := path.Join(prefix, uuid.New().String()+allowedImageTypes[contentType])
	if !blobKeyPattern.MatchString(key) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidBlobKey, key)
	}

	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", "", fmt.Errorf("failed to create blob dir: %w", err)
	}

	// write to a temp file then rename so readers never see partial images
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("failed to store blob: %w", err)
	}

	return key, contentType, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if !blobKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Read returns the stored bytes for key
func (s *BlobStore) Read(key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) // #nosec G304 - key validated against blobKeyPattern
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Open opens the stored file for key for streaming
func (s *BlobStore) Open(key string) (*os.File, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) // #nosec G304 - key validated against blobKeyPattern
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob; deleting a missing blob is not an error
func (s *BlobStore) Delete(key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// URL returns the public URL of a blob
func (s *BlobStore) URL(key string) string {
	return s.baseURL + "/media/" + key
}

// DataURI returns the blob inline as a base64 data URI, which Replicate
// accepts in place of a public URL
func (s *BlobStore) DataURI(key string) (string, error) {
	data, err := s.Read(key)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(data), nil
}

// EncodeDataURI encodes raw image bytes as a data URI
func EncodeDataURI(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
