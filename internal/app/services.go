package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/clients"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/provider"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
	"github.com/odyssey-erp/odyssey-access/internal/scheduler"
)

// Services is the assembled engine shared by the API server and the worker.
type Services struct {
	Clients    *clients.Service
	Requests   *requests.Service
	Audit      *audit.Service
	Dispatcher *notify.Dispatcher
	Sweeper    *scheduler.Sweeper
	Locker     *cache.Locker
}

// ServiceDeps carries the process-level resources.
type ServiceDeps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Publisher  requests.Publisher
	Registerer prometheus.Registerer
	Observer   requests.Observer
}

// BuildServices wires repositories, the provider adapter and the domain services.
func BuildServices(ctx context.Context, deps ServiceDeps) (*Services, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientSvc := clients.NewService(clients.NewRepository(deps.Pool), logger)

	providerClient, err := newProviderClient(ctx, cfg, clientSvc)
	if err != nil {
		return nil, err
	}
	adapter := provider.NewAdapter(providerClient, provider.Options{
		Retry: provider.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  cfg.RetryMultiplier,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		CallTimeout:   cfg.ProviderTimeout,
		RatePerSecond: cfg.ProviderRate,
		Burst:         cfg.ProviderBurst,
		Logger:        logger,
		Registerer:    deps.Registerer,
	})

	requestSvc := requests.NewService(requests.NewRepository(deps.Pool), clientSvc, adapter, deps.Publisher, requests.Config{
		AccessDuration: cfg.AccessDuration,
		GracePeriod:    cfg.GracePeriod,
	}, logger)
	if deps.Observer != nil {
		requestSvc.WithObserver(deps.Observer)
	}

	locker := cache.NewLocker(deps.Redis)
	dispatcher := notify.NewDispatcher(clientSvc, notify.NewPGStore(deps.Pool), newTransport(cfg, logger), locker, logger)
	sweeper := scheduler.NewSweeper(requestSvc, dispatcher, locker, scheduler.Config{
		WarningOffsets: cfg.WarningOffsets,
		Budget:         cfg.SweepBudget,
		Concurrency:    cfg.SweepConcurrency,
	}, logger)

	return &Services{
		Clients:    clientSvc,
		Requests:   requestSvc,
		Audit:      audit.NewService(audit.NewRepository(deps.Pool)),
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Locker:     locker,
	}, nil
}

func newProviderClient(ctx context.Context, cfg *Config, directory *clients.Service) (provider.Client, error) {
	switch cfg.ProviderMode {
	case "http":
		return provider.NewHTTPClient(cfg.ProviderURL, cfg.ProviderToken, cfg.ProviderTimeout), nil
	case "memory":
		// Bindings live in this process only; development and tests with a single accessd.
		mem := provider.NewMemory()
		principals, err := directory.PrincipalsWithRoleAtLeast(ctx, authority.RoleViewer)
		if err != nil {
			return nil, fmt.Errorf("app: seed memory provider: %w", err)
		}
		for _, p := range principals {
			mem.Register(p.Email)
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("app: unknown provider mode %q", cfg.ProviderMode)
	}
}

func newTransport(cfg *Config, logger *slog.Logger) notify.Transport {
	if cfg.NotifyTransport == "smtp" {
		return notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		})
	}
	return notify.LogTransport{Logger: logger}
}
