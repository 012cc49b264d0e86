package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxImageBytes = 5 << 20

var (
	ErrMalformedDataURL = errors.New("image must be a base64 data URL")
	ErrUnsupportedType  = errors.New("attachment must be an image")
	ErrTooLarge         = errors.New("image exceeds size limit")
)

// StorageUploader stores images in an object-storage bucket exposed over
// HTTP (Supabase storage API) and returns their public URL.
type StorageUploader struct {
	baseURL    string
	bucket     string
	serviceKey string
	folder     string
	httpClient *http.Client
}

func NewStorageUploader(baseURL, bucket, serviceKey string) *StorageUploader {
	return &StorageUploader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		folder:     "messages",
		httpClient: http.DefaultClient,
	}
}

// Upload accepts "data:image/<type>;base64,<payload>".
func (s *StorageUploader) Upload(ctx context.Context, dataURL string) (string, error) {
	contentType, content, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}

	objectPath := s.folder + "/" + uuid.NewString() + extensionFor(contentType)
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, objectPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("upload image: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath), nil
}

func decodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", nil, ErrUnsupportedType
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxImageBytes {
		return "", nil, ErrTooLarge
	}

	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrMalformedDataURL
	}
	return contentType, content, nil
}

func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
