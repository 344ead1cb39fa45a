package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"noticeboard/config"
	"noticeboard/logging"
	"noticeboard/notice/application"
	"noticeboard/notice/domain"
	"noticeboard/notice/infra"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

// app agrupa as dependências construídas explicitamente no start do processo.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store  *infra.SQLiteStore
	rdb    *redis.Client
	cache  domain.Cache
	views  domain.ViewCounter
	files  *infra.DiskFileStore
	memory *infra.MemoryCache

	closers []func() error
}

func loadApp(configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, closeLog)

	store, err := infra.OpenSQLite(cfg.DB.Path)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return a, nil
}

// connectCache liga Redis quando configurado; sem endereço, usa memória.
// Chamadas repetidas mantêm a conexão já feita.
func (a *app) connectCache(ctx context.Context) error {
	if a.cache != nil {
		return nil
	}
	if a.cfg.Redis.Addr == "" {
		a.memory = infra.NewMemoryCache(a.cfg.Cache.Capacity, infra.WithTombstoneTTL(a.cfg.Cache.TombstoneTTL))
		a.cache = a.memory
		a.views = infra.NewMemoryViewCounter()
		a.logger.Info("redis not configured, using in-process cache")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  a.cfg.Redis.Timeout,
		WriteTimeout: a.cfg.Redis.Timeout,
	})
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		// cache fora no boot não é fatal: o serviço degrada para o SQLite.
		a.logger.Warn("redis ping failed, starting degraded", "addr", a.cfg.Redis.Addr, "error", err)
	}

	a.cache = infra.NewRedisCache(rdb,
		infra.WithPrefix(a.cfg.Redis.Prefix),
		infra.WithTombstoneTTL(a.cfg.Cache.TombstoneTTL),
	)
	a.views = infra.NewRedisViewCounter(rdb, infra.WithPrefix(a.cfg.Redis.Prefix))
	return nil
}

func (a *app) openFiles() error {
	files, err := infra.NewDiskFileStore(a.cfg.Uploads.Dir, infra.WithMaxBytes(a.cfg.Uploads.MaxBytes))
	if err != nil {
		return err
	}
	a.files = files
	return nil
}

func (a *app) service() application.Service {
	return application.Service{
		Repo:         a.store,
		Cache:        a.cache,
		Views:        a.views,
		Files:        a.files,
		Logger:       a.logger,
		CacheTTL:     a.cfg.Cache.TTL,
		StoreTimeout: a.cfg.DB.Timeout,
		CacheTimeout: a.cfg.Redis.Timeout,
	}
}

func (a *app) viewSync() application.ViewSync {
	return application.ViewSync{
		Repo:   a.store,
		Views:  a.views,
		Cache:  a.cache,
		Logger: a.logger,
	}
}

// Close fecha tudo em ordem inversa e junta os erros.
func (a *app) Close() error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
