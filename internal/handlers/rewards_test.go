package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/services"
)

type stubRewardService struct {
	awardFn   func(ctx context.Context, cmd services.AwardPointsCommand) (services.RewardEntry, error)
	balanceFn func(ctx context.Context, userID string) (int64, error)
	listFn    func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.RewardEntry], error)
}

func (s *stubRewardService) Award(ctx context.Context, cmd services.AwardPointsCommand) (services.RewardEntry, error) {
	if s.awardFn != nil {
		return s.awardFn(ctx, cmd)
	}
	return services.RewardEntry{}, nil
}

func (s *stubRewardService) Balance(ctx context.Context, userID string) (int64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, userID)
	}
	return 0, nil
}

func (s *stubRewardService) ListEntries(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.RewardEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.RewardEntry]{}, nil
}

var _ services.RewardService = (*stubRewardService)(nil)

func newRewardTestRouter(rewards services.RewardService) chi.Router {
	handlers := NewRewardHandlers(nil, rewards)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func TestRewardHandlersBalance(t *testing.T) {
	rewards := &stubRewardService{
		balanceFn: func(_ context.Context, userID string) (int64, error) {
			if userID != "user-1" {
				t.Fatalf("expected balance lookup for user-1, got %q", userID)
			}
			return 420, nil
		},
	}

	router := newRewardTestRouter(rewards)
	rr := httptest.NewRecorder()
	req := authenticatedRequest(http.MethodGet, "/rewards", "", "user-1")

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	var body rewardBalanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Balance != 420 {
		t.Fatalf("expected balance 420, got %d", body.Balance)
	}
}

func TestRewardHandlersListEntries(t *testing.T) {
	created := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	var capturedUser string
	var capturedPager services.Pagination
	rewards := &stubRewardService{
		listFn: func(_ context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.RewardEntry], error) {
			capturedUser = userID
			capturedPager = pager
			return domain.CursorPage[services.RewardEntry]{
				Items: []services.RewardEntry{{
					ID:        "rwd_1",
					UserID:    userID,
					SourceRef: "sub_1",
					Kind:      "recycling",
					Points:    7,
					CreatedAt: created,
				}},
				NextPageToken: "tok_next",
			}, nil
		},
	}

	router := newRewardTestRouter(rewards)
	rr := httptest.NewRecorder()
	req := authenticatedRequest(http.MethodGet, "/rewards/entries?page_size=10", "", "user-1")

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if capturedUser != "user-1" {
		t.Fatalf("expected list scoped to user-1, got %q", capturedUser)
	}
	if capturedPager.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", capturedPager.PageSize)
	}

	var body rewardEntryListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected one entry, got %d", len(body.Items))
	}
	entry := body.Items[0]
	if entry.ID != "rwd_1" || entry.SourceRef != "sub_1" || entry.Kind != "recycling" || entry.Points != 7 {
		t.Fatalf("unexpected entry payload: %+v", entry)
	}
	if body.NextPageToken != "tok_next" {
		t.Fatalf("expected next page token, got %q", body.NextPageToken)
	}
}

func TestRewardHandlersRequireIdentity(t *testing.T) {
	router := newRewardTestRouter(&stubRewardService{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rewards", nil)

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRewardHandlersBalanceError(t *testing.T) {
	rewards := &stubRewardService{
		balanceFn: func(context.Context, string) (int64, error) {
			return 0, context.DeadlineExceeded
		},
	}

	router := newRewardTestRouter(rewards)
	rr := httptest.NewRecorder()
	req := authenticatedRequest(http.MethodGet, "/rewards", "", "user-1")

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
