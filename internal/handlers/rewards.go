package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loopmarket/api/internal/platform/auth"
	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/services"
)

const (
	defaultRewardPageSize = 20
	maxRewardPageSize     = 100
)

// RewardHandlers exposes the authenticated user's points ledger.
type RewardHandlers struct {
	authn   *auth.Authenticator
	rewards services.RewardService
}

// NewRewardHandlers constructs a new RewardHandlers instance.
func NewRewardHandlers(authn *auth.Authenticator, rewards services.RewardService) *RewardHandlers {
	return &RewardHandlers{
		authn:   authn,
		rewards: rewards,
	}
}

// Routes registers the user-scoped reward endpoints.
func (h *RewardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/rewards", h.balance)
	r.Get("/rewards/entries", h.listEntries)
}

type rewardBalanceResponse struct {
	Balance int64 `json:"balance"`
}

type rewardEntryPayload struct {
	ID        string `json:"id"`
	SourceRef string `json:"source_ref,omitempty"`
	Kind      string `json:"kind"`
	Points    int64  `json:"points"`
	CreatedAt string `json:"created_at"`
}

type rewardEntryListResponse struct {
	Items         []rewardEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (h *RewardHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rewards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reward_service_unavailable", "reward service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	balance, err := h.rewards.Balance(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		writeRewardError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, rewardBalanceResponse{Balance: balance})
}

func (h *RewardHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rewards == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reward_service_unavailable", "reward service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultRewardPageSize, maxRewardPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.rewards.ListEntries(ctx, strings.TrimSpace(identity.UID), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeRewardError(ctx, w, err)
		return
	}

	items := make([]rewardEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, rewardEntryPayload{
			ID:        strings.TrimSpace(entry.ID),
			SourceRef: strings.TrimSpace(entry.SourceRef),
			Kind:      strings.TrimSpace(entry.Kind),
			Points:    entry.Points,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, rewardEntryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func writeRewardError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRewardInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("reward_error", "failed to process reward request", http.StatusInternalServerError))
	}
}
