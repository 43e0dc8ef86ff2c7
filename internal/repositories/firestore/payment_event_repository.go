package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loopmarket/api/internal/domain"
	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/repositories"
)

const processedEventsCollection = "processedPaymentEvents"

type processedEventDocument struct {
	OrderRef   string    `firestore:"orderRef"`
	Type       string    `firestore:"type"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

// PaymentEventRepository implements the append-only processed event ledger.
// The provider event ID is the document ID, so Create is the uniqueness check:
// a second write of the same event surfaces as a conflict.
type PaymentEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[processedEventDocument]
}

var _ repositories.PaymentEventRepository = (*PaymentEventRepository)(nil)

// NewPaymentEventRepository constructs the Firestore-backed event ledger.
func NewPaymentEventRepository(provider *pfirestore.Provider) (*PaymentEventRepository, error) {
	if provider == nil {
		return nil, errors.New("payment event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[processedEventDocument](provider, processedEventsCollection)
	return &PaymentEventRepository{provider: provider, events: base}, nil
}

// Create appends a ledger row. Joins the ambient transaction when present so
// the row commits atomically with the order mutation it records.
func (r *PaymentEventRepository) Create(ctx context.Context, event domain.ProcessedPaymentEvent) error {
	id := strings.TrimSpace(event.EventID)
	if id == "" {
		return errors.New("payment event create: event id is required")
	}
	ref, err := r.events.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := processedEventDocument{
		OrderRef:   event.OrderRef,
		Type:       string(event.Type),
		ReceivedAt: event.ReceivedAt.UTC(),
	}
	if tx := transactionFrom(ctx); tx != nil {
		return pfirestore.WrapError("paymentevents.create", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("paymentevents.create", err)
	}
	return nil
}

// Exists reports whether the event has been applied already.
func (r *PaymentEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return false, errors.New("payment event exists: event id is required")
	}
	ref, err := r.events.DocumentRef(ctx, id)
	if err != nil {
		return false, err
	}

	if tx := transactionFrom(ctx); tx != nil {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return false, nil
			}
			return false, pfirestore.WrapError("paymentevents.exists", err)
		}
		return true, nil
	}

	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, pfirestore.WrapError("paymentevents.exists", err)
	}
	return true, nil
}

// FindByID loads one ledger row.
func (r *PaymentEventRepository) FindByID(ctx context.Context, eventID string) (domain.ProcessedPaymentEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return domain.ProcessedPaymentEvent{}, errors.New("payment event find: event id is required")
	}
	snap, err := r.events.Get(ctx, id)
	if err != nil {
		return domain.ProcessedPaymentEvent{}, err
	}
	doc := snap.Data
	event := domain.ProcessedPaymentEvent{
		EventID:    snap.ID,
		OrderRef:   doc.OrderRef,
		Type:       domain.PaymentEventType(doc.Type),
		ReceivedAt: doc.ReceivedAt,
	}
	if event.Type == "" {
		return domain.ProcessedPaymentEvent{}, fmt.Errorf("payment event %s: missing type", id)
	}
	return event, nil
}
