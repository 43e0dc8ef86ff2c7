package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/repositories"
)

const rewardIDPrefix = "rwd_"

var (
	// ErrRewardInvalidInput indicates the caller supplied invalid ledger data.
	ErrRewardInvalidInput = errors.New("reward: invalid input")
	// ErrRewardConflict indicates a ledger entry with the same ID already exists.
	ErrRewardConflict = errors.New("reward: conflict")
)

// RewardServiceDeps bundles collaborators required to construct the reward service.
type RewardServiceDeps struct {
	Rewards     repositories.RewardRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type rewardService struct {
	rewards repositories.RewardRepository
	clock   func() time.Time
	newID   func() string
}

// NewRewardService wires dependencies into a concrete RewardService.
func NewRewardService(deps RewardServiceDeps) (RewardService, error) {
	if deps.Rewards == nil {
		return nil, errors.New("reward service: reward repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &rewardService{
		rewards: deps.Rewards,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// Award appends one entry to the points ledger. Entries are append-only;
// balances derive from summing entries, never from a mutable counter.
func (s *rewardService) Award(ctx context.Context, cmd AwardPointsCommand) (RewardEntry, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return RewardEntry{}, fmt.Errorf("%w: user id is required", ErrRewardInvalidInput)
	}
	if cmd.Points <= 0 {
		return RewardEntry{}, fmt.Errorf("%w: points must be positive", ErrRewardInvalidInput)
	}
	kind := strings.TrimSpace(cmd.Kind)
	if kind == "" {
		return RewardEntry{}, fmt.Errorf("%w: kind is required", ErrRewardInvalidInput)
	}

	entry := domain.RewardEntry{
		ID:        rewardIDPrefix + s.newID(),
		UserID:    userID,
		SourceRef: strings.TrimSpace(cmd.SourceRef),
		Kind:      kind,
		Points:    cmd.Points,
		CreatedAt: s.clock(),
	}

	if err := s.rewards.Append(ctx, entry); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return RewardEntry{}, fmt.Errorf("%w: %v", ErrRewardConflict, err)
		}
		return RewardEntry{}, err
	}
	return entry, nil
}

// Balance sums the user's points across the ledger.
func (s *rewardService) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrRewardInvalidInput)
	}
	return s.rewards.Balance(ctx, userID)
}

// ListEntries pages the user's ledger entries newest first.
func (s *rewardService) ListEntries(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[RewardEntry], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[RewardEntry]{}, fmt.Errorf("%w: user id is required", ErrRewardInvalidInput)
	}
	return s.rewards.ListByUser(ctx, userID, pager)
}
