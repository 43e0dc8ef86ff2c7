package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/platform/jobs"
	"github.com/loopmarket/api/internal/platform/storage"
	"github.com/loopmarket/api/internal/repositories"
	"github.com/loopmarket/api/internal/vision"
)

const (
	submissionIDPrefix = "sub_"

	recyclingEventSubmitted = "recycling.submitted"
	rewardKindRecycling     = "recycling"
)

var (
	// ErrRecyclingInvalidInput indicates the caller supplied invalid data.
	ErrRecyclingInvalidInput = errors.New("recycling: invalid input")
	// ErrRecyclingNotFound indicates the submission could not be located.
	ErrRecyclingNotFound = errors.New("recycling: submission not found")
	// ErrRecyclingUnavailable indicates a recycling dependency cannot be reached.
	ErrRecyclingUnavailable = errors.New("recycling: unavailable")
)

// RecyclingServiceDeps bundles collaborators required to construct the recycling service.
type RecyclingServiceDeps struct {
	Estimator   ImpactEstimator
	Submissions repositories.SubmissionRepository
	Rewards     RewardService
	UnitOfWork  repositories.UnitOfWork
	Classifier  vision.Classifier
	Photos      PhotoStorage
	PointsPerKg float64
	Clock       func() time.Time
	IDGenerator func() string
	Publisher   RecyclingEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type recyclingService struct {
	estimator   ImpactEstimator
	submissions repositories.SubmissionRepository
	rewards     RewardService
	unitOfWork  repositories.UnitOfWork
	classifier  vision.Classifier
	photos      PhotoStorage
	pointsPerKg float64
	clock       func() time.Time
	newID       func() string
	publisher   RecyclingEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewRecyclingService wires dependencies into a concrete RecyclingService.
func NewRecyclingService(deps RecyclingServiceDeps) (RecyclingService, error) {
	if deps.Estimator == nil {
		return nil, errors.New("recycling service: impact estimator is required")
	}
	if deps.Submissions == nil {
		return nil, errors.New("recycling service: submission repository is required")
	}
	if deps.Rewards == nil {
		return nil, errors.New("recycling service: reward service is required")
	}
	if deps.PointsPerKg < 0 {
		return nil, errors.New("recycling service: points per kg cannot be negative")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &recyclingService{
		estimator:   deps.Estimator,
		submissions: deps.Submissions,
		rewards:     deps.Rewards,
		unitOfWork:  unit,
		classifier:  deps.Classifier,
		photos:      deps.Photos,
		pointsPerKg: deps.PointsPerKg,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		publisher: deps.Publisher,
		logger:    logger,
	}, nil
}

// Analyze estimates impact for a photo, manual entries, or both. Vision labels
// and manual entries flow through one normalization path, so an unrecognized
// detection and an unrecognized manual type produce the same warning.
func (s *recyclingService) Analyze(ctx context.Context, cmd AnalyzeCommand) (ImpactReport, error) {
	items, err := s.collectItems(ctx, cmd.PhotoPath, cmd.Items)
	if err != nil {
		return ImpactReport{}, err
	}
	return s.estimator.ComputeReport(items)
}

// Submit recomputes the report server-side, persists the submission, and
// awards points in the same transaction. Client-supplied reports are never
// trusted.
func (s *recyclingService) Submit(ctx context.Context, cmd SubmitRecyclingCommand) (RecyclingSubmission, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return RecyclingSubmission{}, fmt.Errorf("%w: user id is required", ErrRecyclingInvalidInput)
	}

	items, err := s.collectItems(ctx, cmd.PhotoPath, cmd.Items)
	if err != nil {
		return RecyclingSubmission{}, err
	}
	report, err := s.estimator.ComputeReport(items)
	if err != nil {
		return RecyclingSubmission{}, err
	}

	now := s.clock()
	points := int64(math.Floor(report.TotalEstimatedWeightKg * s.pointsPerKg))
	if points == 0 && s.pointsPerKg > 0 && report.TotalEstimatedWeightKg > 0 {
		// A submission with usable weight never rounds down to zero.
		points = 1
	}
	submission := domain.RecyclingSubmission{
		ID:            submissionIDPrefix + s.newID(),
		UserID:        userID,
		Status:        domain.SubmissionStatusConfirmed,
		Items:         report.Items,
		TotalWeightKg: report.TotalEstimatedWeightKg,
		CarbonSavedKg: report.EstimatedCarbonSavedKg,
		Warnings:      report.Warnings,
		PointsAwarded: points,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if path := strings.TrimSpace(cmd.PhotoPath); path != "" {
		submission.PhotoPath = &path
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.submissions.Insert(txCtx, submission); err != nil {
			return s.mapRepositoryError(err)
		}
		if points > 0 {
			if _, err := s.rewards.Award(txCtx, AwardPointsCommand{
				UserID:    userID,
				SourceRef: submission.ID,
				Kind:      rewardKindRecycling,
				Points:    points,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RecyclingSubmission{}, err
	}

	s.publishSubmitted(ctx, submission, now)
	s.logger(ctx, "recycling.submitted", map[string]any{
		"submissionId": submission.ID,
		"userId":       userID,
		"weightKg":     submission.TotalWeightKg,
		"points":       points,
	})

	return submission, nil
}

// GetSubmission loads one submission, hiding other users' records behind not-found.
func (s *recyclingService) GetSubmission(ctx context.Context, query GetSubmissionQuery) (RecyclingSubmission, error) {
	id := strings.TrimSpace(query.SubmissionID)
	if id == "" {
		return RecyclingSubmission{}, fmt.Errorf("%w: submission id is required", ErrRecyclingInvalidInput)
	}

	submission, err := s.submissions.FindByID(ctx, id)
	if err != nil {
		return RecyclingSubmission{}, s.mapRepositoryError(err)
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" && submission.UserID != userID {
		return RecyclingSubmission{}, ErrRecyclingNotFound
	}
	return submission, nil
}

// ListSubmissions pages a user's submissions newest first.
func (s *recyclingService) ListSubmissions(ctx context.Context, query ListSubmissionsQuery) (domain.CursorPage[RecyclingSubmission], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[RecyclingSubmission]{}, fmt.Errorf("%w: user id is required", ErrRecyclingInvalidInput)
	}
	page, err := s.submissions.ListByUser(ctx, userID, repositories.SubmissionListFilter{
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[RecyclingSubmission]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// IssueUploadURL returns a signed PUT URL for a recycling photo.
func (s *recyclingService) IssueUploadURL(ctx context.Context, cmd PhotoUploadCommand) (storage.UploadTicket, error) {
	if s.photos == nil {
		return storage.UploadTicket{}, fmt.Errorf("%w: photo storage not configured", ErrRecyclingUnavailable)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return storage.UploadTicket{}, fmt.Errorf("%w: user id is required", ErrRecyclingInvalidInput)
	}

	ticket, err := s.photos.IssueUploadURL(ctx, userID, cmd.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeDenied) {
			return storage.UploadTicket{}, fmt.Errorf("%w: %v", ErrRecyclingInvalidInput, err)
		}
		return storage.UploadTicket{}, fmt.Errorf("%w: %v", ErrRecyclingUnavailable, err)
	}
	return ticket, nil
}

func (s *recyclingService) collectItems(ctx context.Context, photoPath string, manual []RecyclableItem) ([]RecyclableItem, error) {
	items := make([]RecyclableItem, 0, len(manual)+4)

	if path := strings.TrimSpace(photoPath); path != "" {
		if s.classifier == nil {
			return nil, fmt.Errorf("%w: photo classification not configured", ErrRecyclingUnavailable)
		}
		labels, err := s.classifier.ClassifyPhoto(ctx, path)
		if err != nil {
			if errors.Is(err, vision.ErrBadRequest) {
				return nil, fmt.Errorf("%w: %v", ErrRecyclingInvalidInput, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrRecyclingUnavailable, err)
		}
		for _, label := range labels {
			confidence := label.Confidence
			items = append(items, RecyclableItem{
				Type:       label.Label,
				Count:      label.Count,
				Confidence: &confidence,
			})
		}
	}

	items = append(items, manual...)
	return items, nil
}

func (s *recyclingService) publishSubmitted(ctx context.Context, submission domain.RecyclingSubmission, now time.Time) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishRecyclingEvent(ctx, jobs.EventMessage{
		EventID:    submission.ID,
		Kind:       recyclingEventSubmitted,
		SubjectRef: submission.ID,
		UserID:     submission.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"weightKg":      submission.TotalWeightKg,
			"carbonSavedKg": submission.CarbonSavedKg,
			"points":        submission.PointsAwarded,
		},
	})
	if err != nil {
		s.logger(ctx, "recycling.event.publish_failed", map[string]any{
			"submissionId": submission.ID,
			"error":        err.Error(),
		})
	}
}

func (s *recyclingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrRecyclingNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRecyclingUnavailable, err)
		}
	}
	return err
}
