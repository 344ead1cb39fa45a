package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"noticeboard/notice/domain"

	"github.com/hashicorp/go-multierror"
)

// ViewSync leva as visualizações pendentes do contador para o repositório.
type ViewSync struct {
	Repo  domain.Repository
	Views domain.ViewCounter
	Cache domain.Cache

	Logger *slog.Logger
}

// SyncResult resume uma execução.
type SyncResult struct {
	Notices int
	Views   int64
	// Dropped conta avisos que sumiram antes do sync; as views são descartadas.
	Dropped int
}

// Run drena o contador e soma as contagens em cada aviso. Falhas de
// armazenamento devolvem a contagem ao contador para a próxima rodada.
// Num Drain parcial, as contagens devolvidas ainda são persistidas.
func (v ViewSync) Run(ctx context.Context) (SyncResult, error) {
	var (
		res  SyncResult
		errs *multierror.Error
	)
	pending, err := v.Views.Drain(ctx)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("drain views: %w", err))
	}

	for id, n := range pending {
		if n <= 0 {
			continue
		}
		err := v.Repo.AddViews(ctx, id, n)
		switch {
		case err == nil:
			res.Notices++
			res.Views += n
			v.invalidate(ctx, id)
		case errors.Is(err, domain.ErrNotFound):
			res.Dropped++
		default:
			errs = multierror.Append(errs, fmt.Errorf("notice %d: %w", id, err))
			if aerr := v.Views.Add(ctx, id, n); aerr != nil {
				errs = multierror.Append(errs, fmt.Errorf("notice %d: restore %d views: %w", id, n, aerr))
			}
		}
	}
	return res, errs.ErrorOrNil()
}

// o cache guarda ViewCount; sem invalidar, o valor persistido novo só
// apareceria depois do TTL.
func (v ViewSync) invalidate(ctx context.Context, id int64) {
	if v.Cache == nil {
		return
	}
	if err := v.Cache.Invalidate(ctx, id); err != nil {
		v.log().Warn("cache degraded", "op", "cache invalidate", "id", id, "error", err)
	}
}

func (v ViewSync) log() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

// Start roda Run a cada `every` até ctx encerrar. every <= 0 desliga.
func (v ViewSync) Start(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			// última rodada para não perder contagens da memória no shutdown.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			v.runOnce(flushCtx)
			cancel()
			return nil
		case <-t.C:
			v.runOnce(ctx)
		}
	}
}

func (v ViewSync) runOnce(ctx context.Context) {
	res, err := v.Run(ctx)
	if err != nil {
		v.log().Error("view sync failed", "error", err, "synced", res.Notices)
		return
	}
	if res.Notices > 0 || res.Dropped > 0 {
		v.log().Info("view sync done", "notices", res.Notices, "views", res.Views, "dropped", res.Dropped)
	}
}
