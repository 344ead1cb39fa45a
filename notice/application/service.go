package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"noticeboard/notice/domain"
)

const (
	DefaultCacheTTL     = 10 * time.Minute
	DefaultStoreTimeout = 2 * time.Second
	DefaultCacheTimeout = 300 * time.Millisecond
)

// Service orquestra cache, contador de visualizações, anexos e persistência.
//
// Ele não sabe nada sobre HTTP. Falhas do cache (KindCacheUnavailable) são
// registradas e absorvidas; todo o resto sobe para quem chamou.
type Service struct {
	Repo  domain.Repository
	Cache domain.Cache
	Views domain.ViewCounter
	Files domain.FileStore

	Logger *slog.Logger

	CacheTTL     time.Duration
	StoreTimeout time.Duration
	CacheTimeout time.Duration
}

func (s Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s Service) cacheTTL() time.Duration {
	if s.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return s.CacheTTL
}

func (s Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.StoreTimeout
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s Service) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.CacheTimeout
	if d <= 0 {
		d = DefaultCacheTimeout
	}
	return context.WithTimeout(ctx, d)
}

// storageErr garante que timeouts e erros soltos do repositório saiam
// classificados.
func storageErr(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.E(op, domain.KindStorage, err)
}

func (s Service) CreateUser(ctx context.Context, username string) (domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return domain.User{}, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.Repo.CreateUser(sctx, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, storageErr("create user", err)
	}
	return u, nil
}

// Get lê pelo cache e cai para o repositório no miss. Cada leitura conta uma
// visualização pendente; ViewCount devolvido inclui as pendentes.
func (s Service) Get(ctx context.Context, id int64) (domain.Notice, error) {
	n, err := s.load(ctx, id)
	if err != nil {
		return domain.Notice{}, err
	}
	if s.Views != nil {
		cctx, cancel := s.cacheCtx(ctx)
		pending, err := s.Views.Incr(cctx, id)
		cancel()
		if err != nil {
			s.degraded("views incr", id, err)
		} else {
			n.ViewCount += pending
		}
	}
	return n, nil
}

func (s Service) load(ctx context.Context, id int64) (domain.Notice, error) {
	if id <= 0 {
		return domain.Notice{}, domain.NotFound("get notice", "notice", id)
	}
	if n, ok := s.readCache(ctx, id); ok {
		return n, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	n, err := s.Repo.Get(sctx, id)
	cancel()
	if err != nil {
		return domain.Notice{}, storageErr("get notice", err)
	}
	s.fillCache(ctx, n)
	return n, nil
}

func (s Service) Create(ctx context.Context, authorID int64, d domain.Draft) (domain.Notice, error) {
	if authorID <= 0 {
		return domain.Notice{}, domain.E("create notice", domain.KindUnauthorized, errors.New("missing caller identity"))
	}
	if err := domain.ValidateDraft(d); err != nil {
		return domain.Notice{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	author, err := s.Repo.GetUser(sctx, authorID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Notice{}, domain.E("create notice", domain.KindUnauthorized, err)
		}
		return domain.Notice{}, storageErr("create notice", err)
	}

	atts, err := s.saveFiles(ctx, d.Files)
	if err != nil {
		return domain.Notice{}, err
	}

	n := domain.Notice{
		Title:       strings.TrimSpace(d.Title),
		Content:     d.Content,
		StartAt:     d.StartAt.UTC(),
		EndAt:       d.EndAt.UTC(),
		Author:      author,
		Attachments: atts,
	}
	sctx, cancel = s.storeCtx(ctx)
	created, err := s.Repo.Create(sctx, n)
	cancel()
	if err != nil {
		s.removeFiles(ctx, atts)
		return domain.Notice{}, storageErr("create notice", err)
	}

	s.writeCache(ctx, created)
	s.log().Info("notice created", "id", created.ID, "author", author.ID, "attachments", len(created.Attachments))
	return created, nil
}

// Update aplica p sobre o estado atual. Aviso inexistente é NotFound, nunca
// um create.
func (s Service) Update(ctx context.Context, id int64, p domain.Patch) (domain.Notice, error) {
	if id <= 0 {
		return domain.Notice{}, domain.NotFound("update notice", "notice", id)
	}

	// lê do repositório: o patch precisa da versão atual, não da cacheada.
	sctx, cancel := s.storeCtx(ctx)
	cur, err := s.Repo.Get(sctx, id)
	cancel()
	if err != nil {
		return domain.Notice{}, storageErr("update notice", err)
	}

	next, err := domain.ApplyPatch(cur, p)
	if err != nil {
		return domain.Notice{}, err
	}
	next.Attachments = nil
	if len(p.Files) > 0 {
		next.Attachments, err = s.saveFiles(ctx, p.Files)
		if err != nil {
			return domain.Notice{}, err
		}
	}

	sctx, cancel = s.storeCtx(ctx)
	updated, removed, err := s.Repo.Update(sctx, next, p.ExpectedVersion)
	cancel()
	if err != nil {
		s.removeFiles(ctx, next.Attachments)
		return domain.Notice{}, storageErr("update notice", err)
	}

	s.refreshCache(ctx, updated)
	s.removeFiles(ctx, removed)
	s.log().Info("notice updated", "id", updated.ID, "version", updated.Version)
	return updated, nil
}

func (s Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.NotFound("delete notice", "notice", id)
	}
	sctx, cancel := s.storeCtx(ctx)
	deleted, err := s.Repo.Delete(sctx, id)
	cancel()
	if err != nil {
		return storageErr("delete notice", err)
	}

	s.invalidate(ctx, id)
	if s.Views != nil {
		cctx, cancel := s.cacheCtx(ctx)
		if err := s.Views.Discard(cctx, id); err != nil {
			s.degraded("views discard", id, err)
		}
		cancel()
	}
	s.removeFiles(ctx, deleted.Attachments)
	s.log().Info("notice deleted", "id", id)
	return nil
}

// List consulta o repositório direto; páginas de busca não são cacheadas.
func (s Service) List(ctx context.Context, q domain.SearchQuery) (domain.Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return domain.Page{}, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	page, err := s.Repo.Search(sctx, q)
	if err != nil {
		return domain.Page{}, storageErr("search notices", err)
	}
	return page, nil
}

// Health devolve o erro do repositório (fatal) e do cache (degradado).
func (s Service) Health(ctx context.Context) (storeErr, cacheErr error) {
	sctx, cancel := s.storeCtx(ctx)
	storeErr = s.Repo.Ping(sctx)
	cancel()
	if s.Cache != nil {
		cctx, cancel := s.cacheCtx(ctx)
		cacheErr = s.Cache.Ping(cctx)
		cancel()
	}
	return storeErr, cacheErr
}

func (s Service) readCache(ctx context.Context, id int64) (domain.Notice, bool) {
	if s.Cache == nil {
		return domain.Notice{}, false
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	n, ok, err := s.Cache.Read(cctx, id)
	if err != nil {
		s.degraded("cache read", id, err)
		return domain.Notice{}, false
	}
	return n, ok
}

func (s Service) writeCache(ctx context.Context, n domain.Notice) error {
	if s.Cache == nil {
		return nil
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.Cache.Write(cctx, n, s.cacheTTL()); err != nil {
		s.degraded("cache write", n.ID, err)
		return err
	}
	return nil
}

// fillCache grava o resultado de um miss. O cache recusa a escrita se um
// Write ou Invalidate chegou depois da leitura no repositório.
func (s Service) fillCache(ctx context.Context, n domain.Notice) {
	if s.Cache == nil {
		return
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.Cache.Fill(cctx, n, s.cacheTTL()); err != nil {
		s.degraded("cache fill", n.ID, err)
	}
}

// refreshCache repopula a entrada; se não conseguir, tenta ao menos
// invalidar para não servir a versão antiga.
func (s Service) refreshCache(ctx context.Context, n domain.Notice) {
	if err := s.writeCache(ctx, n); err != nil {
		s.invalidate(ctx, n.ID)
	}
}

func (s Service) invalidate(ctx context.Context, id int64) {
	if s.Cache == nil {
		return
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.Cache.Invalidate(cctx, id); err != nil {
		s.degraded("cache invalidate", id, err)
	}
}

func (s Service) degraded(op string, id int64, err error) {
	s.log().Warn("cache degraded", "op", op, "id", id, "error", err)
}

func (s Service) saveFiles(ctx context.Context, files []domain.Upload) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return []domain.Attachment{}, nil
	}
	if s.Files == nil {
		return nil, domain.Validation("save attachment", map[string]string{"files": "attachments are disabled"})
	}
	atts := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		url, err := s.Files.Save(ctx, f.FileName, f.Body)
		if err != nil {
			s.removeFiles(ctx, atts)
			return nil, err
		}
		atts = append(atts, domain.Attachment{FileName: f.FileName, URL: url})
	}
	return atts, nil
}

func (s Service) removeFiles(ctx context.Context, atts []domain.Attachment) {
	if s.Files == nil {
		return
	}
	for _, a := range atts {
		if err := s.Files.Remove(ctx, a.URL); err != nil {
			s.log().Warn("attachment cleanup failed", "url", a.URL, "error", err)
		}
	}
}
