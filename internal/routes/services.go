package routes

import (
	"fmt"

	"github.com/congo-pay/exchange_ledger/internal/account"
	"github.com/congo-pay/exchange_ledger/internal/address"
	"github.com/congo-pay/exchange_ledger/internal/chains"
	"github.com/congo-pay/exchange_ledger/internal/config"
	"github.com/congo-pay/exchange_ledger/internal/deposit"
	"github.com/congo-pay/exchange_ledger/internal/idalloc"
	"github.com/congo-pay/exchange_ledger/internal/ledger"
	"github.com/congo-pay/exchange_ledger/internal/logging"
	"github.com/congo-pay/exchange_ledger/internal/notification"
	"github.com/congo-pay/exchange_ledger/internal/transfer"
)

// Services holds the domain services behind the HTTP handlers.
type Services struct {
	Ledger        ledger.Store
	Notifications notification.Repository
	Accounts      *account.Service
	Deposits      *deposit.Service
	Transfers     *transfer.Service
}

// BuildServices wires repositories and services, falling back to in-memory
// stores when no database is configured.
func BuildServices(d Deps) (Services, error) {
	registry := chains.Default()

	deriver, err := address.NewDeriver(d.Cfg.MasterSeed, registry)
	if err != nil {
		return Services{}, err
	}

	counters, err := counterStore(d)
	if err != nil {
		return Services{}, err
	}
	ids := idalloc.New(counters, logging.Component(d.Logger, "idalloc"), idalloc.WithFallback(d.Cfg.CounterFallback))

	var (
		accountRepo account.Repository
		notes       notification.Repository
		store       ledger.Store
	)
	if d.DB != nil {
		accountRepo = account.NewPostgresRepository(d.DB)
		notes = notification.NewPostgresRepository(d.DB)
		store = ledger.NewPostgresLedger(d.DB)
	} else {
		accountRepo = account.NewMemoryRepository()
		notes = notification.NewMemoryRepository()
		store = ledger.NewInMemory(ledger.WithNotifications(notes))
	}

	notifier, err := newNotifier(d)
	if err != nil {
		return Services{}, err
	}

	accounts := account.NewService(accountRepo, ids, deriver, registry, notifier, logging.Component(d.Logger, "account"))
	return Services{
		Ledger:        store,
		Notifications: notes,
		Accounts:      accounts,
		Deposits:      deposit.NewService(store, accounts, ids, registry, notifier, logging.Component(d.Logger, "deposit")),
		Transfers:     transfer.NewService(store, ids, registry, notes, logging.Component(d.Logger, "transfer")),
	}, nil
}

func counterStore(d Deps) (idalloc.CounterStore, error) {
	switch d.Cfg.CounterBackend {
	case config.CounterBackendPostgres:
		if d.DB != nil {
			return idalloc.NewPostgresStore(d.DB), nil
		}
	case config.CounterBackendRedis:
		if d.Cache != nil {
			return idalloc.NewRedisStore(d.Cache), nil
		}
	case config.CounterBackendMemory:
		return idalloc.NewMemoryStore(), nil
	}
	if !d.Cfg.IsDev() {
		return nil, fmt.Errorf("counter backend %q is not available", d.Cfg.CounterBackend)
	}
	return idalloc.NewMemoryStore(), nil
}

func newNotifier(d Deps) (notification.Notifier, error) {
	if d.Cfg.Notifier == config.NotifierRedis {
		if d.Cache != nil {
			return notification.NewRedisNotifier(d.Cache), nil
		}
		if !d.Cfg.IsDev() {
			return nil, fmt.Errorf("redis notifier requires REDIS_URL")
		}
	}
	return notification.NewLoggerNotifier(logging.Component(d.Logger, "notifier")), nil
}
