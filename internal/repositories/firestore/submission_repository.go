package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/loopmarket/api/internal/domain"
	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/platform/pagination"
	"github.com/loopmarket/api/internal/repositories"
)

const submissionsCollection = "recyclingSubmissions"

type submissionDocument struct {
	UserID        string                 `firestore:"userId"`
	Status        string                 `firestore:"status"`
	Items         []analyzedItemDocument `firestore:"items"`
	TotalWeightKg float64                `firestore:"totalWeightKg"`
	CarbonSavedKg float64                `firestore:"carbonSavedKg"`
	Warnings      []string               `firestore:"warnings,omitempty"`
	PointsAwarded int64                  `firestore:"pointsAwarded"`
	PhotoPath     *string                `firestore:"photoPath,omitempty"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

type analyzedItemDocument struct {
	Type              string   `firestore:"type"`
	Count             int      `firestore:"count"`
	EstimatedWeightKg float64  `firestore:"estimatedWeightKg"`
	Confidence        *float64 `firestore:"confidence,omitempty"`
}

// SubmissionRepository implements repositories.SubmissionRepository on Firestore.
type SubmissionRepository struct {
	provider    *pfirestore.Provider
	submissions *pfirestore.BaseRepository[submissionDocument]
}

var _ repositories.SubmissionRepository = (*SubmissionRepository)(nil)

// NewSubmissionRepository constructs a Firestore-backed submission repository.
func NewSubmissionRepository(provider *pfirestore.Provider) (*SubmissionRepository, error) {
	if provider == nil {
		return nil, errors.New("submission repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[submissionDocument](provider, submissionsCollection)
	return &SubmissionRepository{provider: provider, submissions: base}, nil
}

// Insert creates the submission document, failing when the ID already exists.
func (r *SubmissionRepository) Insert(ctx context.Context, submission domain.RecyclingSubmission) error {
	id := strings.TrimSpace(submission.ID)
	if id == "" {
		return errors.New("submission insert: id is required")
	}
	ref, err := r.submissions.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := newSubmissionDocument(submission)
	if tx := transactionFrom(ctx); tx != nil {
		return pfirestore.WrapError("submissions.insert", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("submissions.insert", err)
	}
	return nil
}

// FindByID loads one submission.
func (r *SubmissionRepository) FindByID(ctx context.Context, submissionID string) (domain.RecyclingSubmission, error) {
	id := strings.TrimSpace(submissionID)
	if id == "" {
		return domain.RecyclingSubmission{}, errors.New("submission find: id is required")
	}
	snap, err := r.submissions.Get(ctx, id)
	if err != nil {
		return domain.RecyclingSubmission{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

// ListByUser returns the user's submissions newest first.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID string, filter repositories.SubmissionListFilter) (domain.CursorPage[domain.RecyclingSubmission], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.RecyclingSubmission]{}, errors.New("submission list: user id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.RecyclingSubmission]{}, err
	}

	docs, err := r.submissions.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.RecyclingSubmission]{}, err
	}

	page := domain.CursorPage[domain.RecyclingSubmission]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt, last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.RecyclingSubmission]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus changes the submission lifecycle state.
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, submissionID string, newStatus domain.SubmissionStatus, updatedAt time.Time) (domain.RecyclingSubmission, error) {
	id := strings.TrimSpace(submissionID)
	if id == "" {
		return domain.RecyclingSubmission{}, errors.New("submission update status: id is required")
	}

	var updated domain.RecyclingSubmission
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		ref, err := r.submissions.DocumentRef(txCtx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc submissionDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode submission %s: %w", id, err)
		}
		doc.Status = string(newStatus)
		doc.UpdatedAt = updatedAt.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.RecyclingSubmission{}, pfirestore.WrapError("submissions.updatestatus", err)
	}
	return updated, nil
}

func newSubmissionDocument(submission domain.RecyclingSubmission) submissionDocument {
	items := make([]analyzedItemDocument, 0, len(submission.Items))
	for _, item := range submission.Items {
		items = append(items, analyzedItemDocument(item))
	}
	return submissionDocument{
		UserID:        submission.UserID,
		Status:        string(submission.Status),
		Items:         items,
		TotalWeightKg: submission.TotalWeightKg,
		CarbonSavedKg: submission.CarbonSavedKg,
		Warnings:      submission.Warnings,
		PointsAwarded: submission.PointsAwarded,
		PhotoPath:     submission.PhotoPath,
		CreatedAt:     submission.CreatedAt.UTC(),
		UpdatedAt:     submission.UpdatedAt.UTC(),
	}
}

func (d submissionDocument) toDomain(id string) domain.RecyclingSubmission {
	items := make([]domain.AnalyzedItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.AnalyzedItem(item))
	}
	return domain.RecyclingSubmission{
		ID:            id,
		UserID:        d.UserID,
		Status:        domain.SubmissionStatus(d.Status),
		Items:         items,
		TotalWeightKg: d.TotalWeightKg,
		CarbonSavedKg: d.CarbonSavedKg,
		Warnings:      d.Warnings,
		PointsAwarded: d.PointsAwarded,
		PhotoPath:     d.PhotoPath,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
