package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loopmarket/api/internal/domain"
)

const maxResponseBytes = 1 << 20

var (
	// ErrUnavailable is returned when the classification service cannot be reached
	// or responds with a server error.
	ErrUnavailable = errors.New("vision: classifier unavailable")
	// ErrBadRequest is returned when the classifier rejects the request payload.
	ErrBadRequest = errors.New("vision: classifier rejected request")
)

// Classifier detects recyclable materials on a stored photo. Detections are
// raw labels; callers must normalize them against the material alias table.
type Classifier interface {
	ClassifyPhoto(ctx context.Context, photoPath string) ([]domain.ClassifiedLabel, error)
}

// HTTPClassifier calls an external classification endpoint over HTTP.
type HTTPClassifier struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// HTTPClassifierOption customises the classifier client.
type HTTPClassifierOption func(*HTTPClassifier)

// WithHTTPClient overrides the underlying HTTP client (primarily for tests).
func WithHTTPClient(client *http.Client) HTTPClassifierOption {
	return func(c *HTTPClassifier) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClassifier builds a classifier client for the given endpoint.
func NewHTTPClassifier(endpoint, authToken string, timeout time.Duration, opts ...HTTPClassifierOption) (*HTTPClassifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("vision: endpoint is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	classifier := &HTTPClassifier{
		endpoint:  endpoint,
		authToken: strings.TrimSpace(authToken),
		client:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(classifier)
		}
	}
	return classifier, nil
}

type classifyRequest struct {
	PhotoPath string `json:"photoPath"`
}

type classifyResponse struct {
	Detections []struct {
		Label      string  `json:"label"`
		Count      int     `json:"count"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// ClassifyPhoto submits the photo path for classification and returns the raw detections.
func (c *HTTPClassifier) ClassifyPhoto(ctx context.Context, photoPath string) ([]domain.ClassifiedLabel, error) {
	photoPath = strings.TrimSpace(photoPath)
	if photoPath == "" {
		return nil, errors.New("vision: photo path is required")
	}

	body, err := json.Marshal(classifyRequest{PhotoPath: photoPath})
	if err != nil {
		return nil, fmt.Errorf("vision: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrBadRequest, resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("vision: decode response: %w", err)
	}

	labels := make([]domain.ClassifiedLabel, 0, len(decoded.Detections))
	for _, detection := range decoded.Detections {
		label := strings.TrimSpace(detection.Label)
		if label == "" {
			continue
		}
		count := detection.Count
		if count == 0 {
			count = 1
		}
		labels = append(labels, domain.ClassifiedLabel{
			Label:      label,
			Count:      count,
			Confidence: detection.Confidence,
		})
	}
	return labels, nil
}
