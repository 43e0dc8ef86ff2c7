package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/loopmarket/api/internal/domain"
	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/platform/pagination"
	"github.com/loopmarket/api/internal/repositories"
)

const rewardsCollection = "rewardEntries"

type rewardDocument struct {
	UserID    string    `firestore:"userId"`
	SourceRef string    `firestore:"sourceRef"`
	Kind      string    `firestore:"kind"`
	Points    int64     `firestore:"points"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d rewardDocument) toDomain(id string) domain.RewardEntry {
	return domain.RewardEntry{
		ID:        id,
		UserID:    d.UserID,
		SourceRef: d.SourceRef,
		Kind:      d.Kind,
		Points:    d.Points,
		CreatedAt: d.CreatedAt,
	}
}

// RewardRepository implements the append-only points ledger on Firestore.
type RewardRepository struct {
	provider *pfirestore.Provider
	rewards  *pfirestore.BaseRepository[rewardDocument]
}

var _ repositories.RewardRepository = (*RewardRepository)(nil)

// NewRewardRepository constructs a Firestore-backed reward repository.
func NewRewardRepository(provider *pfirestore.Provider) (*RewardRepository, error) {
	if provider == nil {
		return nil, errors.New("reward repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[rewardDocument](provider, rewardsCollection)
	return &RewardRepository{provider: provider, rewards: base}, nil
}

// Append creates a ledger entry. Entries are create-only; re-use of an entry
// ID surfaces as a conflict. Joins the ambient transaction when present.
func (r *RewardRepository) Append(ctx context.Context, entry domain.RewardEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("reward append: id is required")
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("reward append: user id is required")
	}
	ref, err := r.rewards.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := rewardDocument{
		UserID:    entry.UserID,
		SourceRef: entry.SourceRef,
		Kind:      entry.Kind,
		Points:    entry.Points,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if tx := transactionFrom(ctx); tx != nil {
		return pfirestore.WrapError("rewards.append", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("rewards.append", err)
	}
	return nil
}

// ListByUser pages through a user's ledger entries newest first.
func (r *RewardRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.RewardEntry], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.RewardEntry]{}, errors.New("reward list: user id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.RewardEntry]{}, err
	}

	docs, err := r.rewards.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.RewardEntry]{}, err
	}

	page := domain.CursorPage[domain.RewardEntry]{}
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
			return domain.CursorPage[domain.RewardEntry]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Balance sums the user's points server-side with an aggregation query.
func (r *RewardRepository) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("reward balance: user id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(rewardsCollection).Where("userId", "==", userID)
	results, err := query.NewAggregationQuery().WithSum("points", "total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("rewards.balance", err)
	}

	raw, ok := results["total"]
	if !ok {
		return 0, errors.New("reward balance: aggregation result missing")
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("reward balance: unexpected aggregation type %T", raw)
	}
	switch kind := value.ValueType.(type) {
	case *firestorepb.Value_IntegerValue:
		return kind.IntegerValue, nil
	case *firestorepb.Value_DoubleValue:
		return int64(kind.DoubleValue), nil
	default:
		return 0, fmt.Errorf("reward balance: unexpected aggregation value %T", kind)
	}
}
