package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loopmarket/api/internal/platform/config"
	"github.com/loopmarket/api/internal/repositories"
	"github.com/loopmarket/api/internal/services"
	"github.com/loopmarket/api/internal/vision"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Impact    services.ImpactEstimator
	Orders    services.OrderService
	Checkout  services.CheckoutService
	Inventory services.InventoryService
	Recycling services.RecyclingService
	Rewards   services.RewardService
	System    services.SystemService
}

// ContainerDeps carries the externally constructed collaborators the service
// layer needs beyond the repository registry: the hot-reloadable material
// table, the PSP session manager, the photo classifier, signed-URL storage,
// and the event publishers. Optional entries may be nil; the services built
// from them degrade accordingly.
type ContainerDeps struct {
	Config          config.Config
	Registry        repositories.Registry
	Materials       func() services.MaterialTable
	Payments        services.CheckoutSessionManager
	Classifier      vision.Classifier
	Photos          services.PhotoStorage
	OrderEvents     services.OrderEventPublisher
	RecyclingEvents services.RecyclingEventPublisher
	Logger          *zap.Logger
	Build           services.BuildInfo
}

// Container wires repositories, services, and shared infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Materials == nil {
		return nil, errors.New("material table source is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Registry
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	estimator, err := services.NewImpactEstimator(services.ImpactEstimatorDeps{
		Materials: deps.Materials,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build impact estimator: %w", err)
	}
	svc.Impact = estimator

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     time.Now,
		Logger:    eventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	rewardSvc, err := services.NewRewardService(services.RewardServiceDeps{
		Rewards: reg.Rewards(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reward service: %w", err)
	}
	svc.Rewards = rewardSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Events:     reg.PaymentEvents(),
		Inventory:  inventorySvc,
		UnitOfWork: reg,
		Clock:      time.Now,
		Publisher:  deps.OrderEvents,
		Logger:     eventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:   reg.Orders(),
			Counters: reg.Counters(),
			Payments: deps.Payments,
			Clock:    time.Now,
			Logger:   eventLogger(logger.Named("checkout")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	recyclingSvc, err := services.NewRecyclingService(services.RecyclingServiceDeps{
		Estimator:   estimator,
		Submissions: reg.Submissions(),
		Rewards:     rewardSvc,
		UnitOfWork:  reg,
		Classifier:  deps.Classifier,
		Photos:      deps.Photos,
		PointsPerKg: float64(deps.Config.Rewards.PointsPerKg),
		Clock:       time.Now,
		Publisher:   deps.RecyclingEvents,
		Logger:      eventLogger(logger.Named("recycling")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build recycling service: %w", err)
	}
	svc.Recycling = recyclingSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            deps.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zFields = append(zFields, zap.Any(key, value))
		}
		logger.Info(event, zFields...)
	}
}
