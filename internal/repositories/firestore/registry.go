package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/repositories"
)

type txContextKey struct{}

// withTransaction stores the running transaction in the context so repository
// methods invoked inside RunInTx join it instead of issuing direct writes.
func withTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// transactionFrom extracts the ambient transaction, if any.
func transactionFrom(ctx context.Context) *firestore.Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

// Registry wires the Firestore-backed repository implementations behind the
// repositories.Registry interface and owns the shared provider lifecycle.
type Registry struct {
	provider *pfirestore.Provider

	orders      *OrderRepository
	events      *PaymentEventRepository
	inventory   *InventoryRepository
	submissions *SubmissionRepository
	rewards     *RewardRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the full repository set on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	events, err := NewPaymentEventRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	submissions, err := NewSubmissionRepository(provider)
	if err != nil {
		return nil, err
	}
	rewards, err := NewRewardRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		orders:      orders,
		events:      events,
		inventory:   inventory,
		submissions: submissions,
		rewards:     rewards,
		counters:    counters,
		health:      health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentEvents() repositories.PaymentEventRepository { return r.events }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Submissions() repositories.SubmissionRepository { return r.submissions }

func (r *Registry) Rewards() repositories.RewardRepository { return r.rewards }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single Firestore transaction. Repository calls
// made with the derived context join the transaction, so ledger rows, order
// status writes, and stock adjustments commit or roll back together. Nested
// calls reuse the ambient transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	if transactionFrom(ctx) != nil {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(withTransaction(txCtx, tx))
	})
}
