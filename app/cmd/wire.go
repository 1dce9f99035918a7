package main

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"migrator/app/config"
	"migrator/app/usecase"
	"migrator/internal/domain/apperr"
	"migrator/internal/domain/repository"
	"migrator/internal/filter"
	sourcemongo "migrator/internal/infrastructure/source/mongodb"
	"migrator/internal/infrastructure/store/memory"
	storemongo "migrator/internal/infrastructure/store/mongodb"
	storeredis "migrator/internal/infrastructure/store/redis"
	"migrator/internal/infrastructure/store/sqlite"
	"migrator/internal/infrastructure/transfer/command"
	transfermongo "migrator/internal/infrastructure/transfer/mongodb"
)

// closers runs cleanups in reverse order of registration.
type closers []func(ctx context.Context)

func (c *closers) add(fn func(ctx context.Context)) {
	*c = append(*c, fn)
}

func (c closers) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := len(c) - 1; i >= 0; i-- {
		c[i](ctx)
	}
}

func connectMongo(ctx context.Context, a *app, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if a.cfg.Source.QueryTimeout > 0 {
		opts.SetTimeout(a.cfg.Source.QueryTimeout)
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := mongo.Connect(connCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	a.logger.Info().Msg("connected to mongo")
	return client, nil
}

// openStore opens the configured shared store.
func openStore(ctx context.Context, a *app, c *closers) (repository.QueueStore, error) {
	sc := a.cfg.Store
	var (
		store repository.QueueStore
		err   error
	)
	switch sc.Backend {
	case config.BackendRedis:
		store, err = storeredis.Dial(ctx, sc.Address, sc.Password, sc.DB)
	case config.BackendSQLite:
		store, err = sqlite.Open(sc.Path)
	case config.BackendMemory:
		a.logger.Warn().Msg("memory store is local to this process")
		store = memory.NewQueueStore()
	case config.BackendMongoDB:
		var client *mongo.Client
		client, err = connectMongo(ctx, a, sc.URI)
		if err != nil {
			return nil, err
		}
		c.add(func(ctx context.Context) { _ = client.Disconnect(ctx) })
		store = storemongo.NewQueueStore(client.Database(sc.Database), sc.KeyPrefix, a.logger)
	default:
		return nil, apperr.NewConfigurationError("store.backend", fmt.Sprintf("unknown backend %q", sc.Backend))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Backend, err)
	}
	c.add(func(ctx context.Context) { _ = store.Close(ctx) })
	a.logger.Info().Str("backend", sc.Backend).Msg("shared store ready")
	return store, nil
}

// applyFilters installs the configured string filters on m.
func applyFilters(m *usecase.Manager, fc config.FiltersConfig) error {
	if fc.Index != "" {
		if err := m.SetIndexFilter(fc.Index); err != nil {
			return err
		}
	}
	if fc.Type != "" {
		if err := m.SetTypeFilter(fc.Type); err != nil {
			return err
		}
	}
	if fc.Comparator != "" {
		if err := m.SetIndexComparator(fc.Comparator); err != nil {
			return err
		}
	}
	return nil
}

// services is the wired graph shared by all subcommands.
type services struct {
	manager  *usecase.Manager
	sourceDB *mongo.Database
	client   *mongo.Client
}

func buildServices(ctx context.Context, a *app, c *closers) (*services, error) {
	store, err := openStore(ctx, a, c)
	if err != nil {
		return nil, err
	}

	client, err := connectMongo(ctx, a, a.cfg.Source.URI)
	if err != nil {
		return nil, err
	}
	c.add(func(ctx context.Context) { _ = client.Disconnect(ctx) })
	srcDB := client.Database(a.cfg.Source.Database)

	m := usecase.NewManager(
		store,
		sourcemongo.NewSource(srcDB, a.cfg.Source.TypeField),
		usecase.DefaultKeys(a.cfg.Store.KeyPrefix),
		filter.NewDefaultRegistry(),
		a.logger,
	)
	if err := applyFilters(m, a.cfg.Filters); err != nil {
		return nil, err
	}
	return &services{manager: m, sourceDB: srcDB, client: client}, nil
}

func buildTransfer(ctx context.Context, a *app, s *services, c *closers) (repository.Transfer, error) {
	wc := a.cfg.Worker
	if wc.Transfer == config.TransferCommand {
		return command.NewTransfer(wc.Command, wc.LogDir)
	}

	dc := a.cfg.Destination
	if dc.Database == "" {
		return nil, apperr.NewConfigurationError("destination.database", "required for mongodb transfer")
	}
	client := s.client
	if dc.URI != a.cfg.Source.URI {
		var err error
		client, err = connectMongo(ctx, a, dc.URI)
		if err != nil {
			return nil, err
		}
		c.add(func(ctx context.Context) { _ = client.Disconnect(ctx) })
	}
	return transfermongo.NewCopier(s.sourceDB, client.Database(dc.Database), a.cfg.Source.TypeField, dc.BatchSize), nil
}
