package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/platform/auth"
	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/services"
)

const (
	defaultSubmissionPageSize = 20
	maxSubmissionPageSize     = 100
	maxRecyclingBodySize      = 64 * 1024
)

var validSubmissionStatuses = map[domain.SubmissionStatus]struct{}{
	domain.SubmissionStatusConfirmed: {},
	domain.SubmissionStatusRejected:  {},
}

// RecyclingHandlers exposes impact analysis and submission endpoints.
type RecyclingHandlers struct {
	authn     *auth.Authenticator
	recycling services.RecyclingService
}

// NewRecyclingHandlers constructs a new RecyclingHandlers instance.
func NewRecyclingHandlers(authn *auth.Authenticator, recycling services.RecyclingService) *RecyclingHandlers {
	return &RecyclingHandlers{
		authn:     authn,
		recycling: recycling,
	}
}

// Routes registers the /recycling endpoints.
func (h *RecyclingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/analyze", h.analyze)
	r.Post("/uploads", h.issueUploadURL)
	r.Post("/submissions", h.submit)
	r.Get("/submissions", h.listSubmissions)
	r.Get("/submissions/{submissionID}", h.getSubmission)
}

type recyclableItemRequest struct {
	Type       string   `json:"type"`
	Count      int      `json:"count"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type analyzeRequest struct {
	PhotoPath string                  `json:"photo_path"`
	Items     []recyclableItemRequest `json:"items"`
}

type submitRequest struct {
	PhotoPath string                  `json:"photo_path"`
	Items     []recyclableItemRequest `json:"items"`
}

type uploadURLRequest struct {
	ContentType string `json:"content_type"`
}

type analyzedItemPayload struct {
	Type              string   `json:"type"`
	Count             int      `json:"count"`
	EstimatedWeightKg float64  `json:"estimated_weight_kg"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

type impactReportPayload struct {
	Items                  []analyzedItemPayload `json:"items"`
	TotalEstimatedWeightKg float64               `json:"total_estimated_weight_kg"`
	EstimatedCarbonSavedKg float64               `json:"estimated_carbon_saved_kg"`
	Warnings               []string              `json:"warnings"`
}

type submissionPayload struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	Items         []analyzedItemPayload `json:"items"`
	TotalWeightKg float64               `json:"total_weight_kg"`
	CarbonSavedKg float64               `json:"carbon_saved_kg"`
	Warnings      []string              `json:"warnings"`
	PointsAwarded int64                 `json:"points_awarded"`
	PhotoPath     *string               `json:"photo_path,omitempty"`
	CreatedAt     string                `json:"created_at"`
}

type submissionListResponse struct {
	Items         []submissionPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type uploadURLResponse struct {
	ObjectPath string            `json:"object_path"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

func (h *RecyclingHandlers) analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recycling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("recycling_service_unavailable", "recycling service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req analyzeRequest
	if !decodeRecyclingBody(ctx, w, r, &req) {
		return
	}

	report, err := h.recycling.Analyze(ctx, services.AnalyzeCommand{
		UserID:    strings.TrimSpace(identity.UID),
		PhotoPath: strings.TrimSpace(req.PhotoPath),
		Items:     parseRecyclableItems(req.Items),
	})
	if err != nil {
		writeRecyclingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildImpactReportPayload(report))
}

func (h *RecyclingHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recycling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("recycling_service_unavailable", "recycling service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req submitRequest
	if !decodeRecyclingBody(ctx, w, r, &req) {
		return
	}

	submission, err := h.recycling.Submit(ctx, services.SubmitRecyclingCommand{
		UserID:    strings.TrimSpace(identity.UID),
		PhotoPath: strings.TrimSpace(req.PhotoPath),
		Items:     parseRecyclableItems(req.Items),
	})
	if err != nil {
		writeRecyclingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildSubmissionPayload(submission))
}

func (h *RecyclingHandlers) listSubmissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recycling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("recycling_service_unavailable", "recycling service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.SubmissionStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.SubmissionStatus(raw)
		if _, ok := validSubmissionStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown submission status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultSubmissionPageSize, maxSubmissionPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.recycling.ListSubmissions(ctx, services.ListSubmissionsQuery{
		UserID: strings.TrimSpace(identity.UID),
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeRecyclingError(ctx, w, err)
		return
	}

	items := make([]submissionPayload, 0, len(page.Items))
	for _, submission := range page.Items {
		items = append(items, buildSubmissionPayload(submission))
	}

	writeJSONResponse(w, http.StatusOK, submissionListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *RecyclingHandlers) getSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recycling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("recycling_service_unavailable", "recycling service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	submissionID := strings.TrimSpace(chi.URLParam(r, "submissionID"))
	if submissionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "submission id is required", http.StatusBadRequest))
		return
	}

	submission, err := h.recycling.GetSubmission(ctx, services.GetSubmissionQuery{
		SubmissionID: submissionID,
		UserID:       strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeRecyclingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSubmissionPayload(submission))
}

func (h *RecyclingHandlers) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.recycling == nil {
		httpx.WriteError(ctx, w, httpx.NewError("recycling_service_unavailable", "recycling service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req uploadURLRequest
	if !decodeRecyclingBody(ctx, w, r, &req) {
		return
	}

	ticket, err := h.recycling.IssueUploadURL(ctx, services.PhotoUploadCommand{
		UserID:      strings.TrimSpace(identity.UID),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writeRecyclingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, uploadURLResponse{
		ObjectPath: ticket.ObjectPath,
		URL:        ticket.URL,
		Method:     ticket.Method,
		Headers:    ticket.Headers,
		ExpiresAt:  formatTime(ticket.ExpiresAt),
	})
}

func decodeRecyclingBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxRecyclingBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parseRecyclableItems(items []recyclableItemRequest) []services.RecyclableItem {
	if len(items) == 0 {
		return nil
	}
	parsed := make([]services.RecyclableItem, 0, len(items))
	for _, item := range items {
		parsed = append(parsed, services.RecyclableItem{
			Type:       strings.TrimSpace(item.Type),
			Count:      item.Count,
			Confidence: item.Confidence,
		})
	}
	return parsed
}

func buildImpactReportPayload(report services.ImpactReport) impactReportPayload {
	payload := impactReportPayload{
		Items:                  make([]analyzedItemPayload, 0, len(report.Items)),
		TotalEstimatedWeightKg: report.TotalEstimatedWeightKg,
		EstimatedCarbonSavedKg: report.EstimatedCarbonSavedKg,
		Warnings:               append([]string{}, report.Warnings...),
	}
	for _, item := range report.Items {
		payload.Items = append(payload.Items, analyzedItemPayload{
			Type:              item.Type,
			Count:             item.Count,
			EstimatedWeightKg: item.EstimatedWeightKg,
			Confidence:        item.Confidence,
		})
	}
	return payload
}

func buildSubmissionPayload(submission services.RecyclingSubmission) submissionPayload {
	payload := submissionPayload{
		ID:            strings.TrimSpace(submission.ID),
		Status:        strings.TrimSpace(string(submission.Status)),
		Items:         make([]analyzedItemPayload, 0, len(submission.Items)),
		TotalWeightKg: submission.TotalWeightKg,
		CarbonSavedKg: submission.CarbonSavedKg,
		Warnings:      append([]string{}, submission.Warnings...),
		PointsAwarded: submission.PointsAwarded,
		PhotoPath:     cloneStringPointer(submission.PhotoPath),
		CreatedAt:     formatTime(submission.CreatedAt),
	}
	for _, item := range submission.Items {
		payload.Items = append(payload.Items, analyzedItemPayload{
			Type:              item.Type,
			Count:             item.Count,
			EstimatedWeightKg: item.EstimatedWeightKg,
			Confidence:        item.Confidence,
		})
	}
	return payload
}

func writeRecyclingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrImpactEmptyInput):
		httpx.WriteError(ctx, w, httpx.NewError("empty_input", "no usable recyclable items were submitted", http.StatusBadRequest))
	case errors.Is(err, services.ErrRecyclingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRecyclingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("submission_not_found", "submission not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRecyclingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("recycling_unavailable", "recycling temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("recycling_error", "failed to process recycling request", http.StatusInternalServerError))
	}
}
