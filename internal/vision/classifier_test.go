package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassifyPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["photoPath"] != "recycling/user-1/photo.jpg" {
			t.Errorf("unexpected photo path %q", req["photoPath"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"label": "plastic_bottle", "count": 3, "confidence": 0.92},
				{"label": "PET", "confidence": 0.61},
				{"label": "  ", "count": 2},
			},
		})
	}))
	defer srv.Close()

	classifier, err := NewHTTPClassifier(srv.URL, "token-123", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClassifier returned error: %v", err)
	}

	labels, err := classifier.ClassifyPhoto(context.Background(), "recycling/user-1/photo.jpg")
	if err != nil {
		t.Fatalf("ClassifyPhoto returned error: %v", err)
	}

	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(labels))
	}
	if labels[0].Label != "plastic_bottle" || labels[0].Count != 3 {
		t.Errorf("unexpected first label %+v", labels[0])
	}
	if labels[1].Count != 1 {
		t.Errorf("expected default count 1, got %d", labels[1].Count)
	}
}

func TestClassifyPhotoErrors(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	classifier, err := NewHTTPClassifier(srv.URL, "", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClassifier returned error: %v", err)
	}

	if _, err := classifier.ClassifyPhoto(context.Background(), "p.jpg"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	status = http.StatusUnprocessableEntity
	if _, err := classifier.ClassifyPhoto(context.Background(), "p.jpg"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}

	if _, err := classifier.ClassifyPhoto(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty photo path")
	}

	if _, err := NewHTTPClassifier("", "", time.Second); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
