package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"noticeboard/notice/domain"
	"noticeboard/notice/infra"
)

// memRepo é um domain.Repository em memória para os testes.
type memRepo struct {
	mu      sync.Mutex
	users   map[int64]domain.User
	notices map[int64]domain.Notice
	nextID  int64

	gets    int
	failAll error
	failAdd map[int64]error
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]domain.User{}, notices: map[int64]domain.Notice{}}
}

func (r *memRepo) CreateUser(_ context.Context, username string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return domain.User{}, domain.E("create user", domain.KindConflict, errors.New("duplicate"))
		}
	}
	r.nextID++
	u := domain.User{ID: r.nextID, Username: username}
	r.users[u.ID] = u
	return u, nil
}

func (r *memRepo) GetUser(_ context.Context, id int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.User{}, r.failAll
	}
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.NotFound("get user", "user", id)
	}
	return u, nil
}

func (r *memRepo) Create(_ context.Context, n domain.Notice) (domain.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.Notice{}, r.failAll
	}
	r.nextID++
	n.ID = r.nextID
	n.Version = 1
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	if n.Attachments == nil {
		n.Attachments = []domain.Attachment{}
	}
	r.notices[n.ID] = n
	return n, nil
}

func (r *memRepo) Get(_ context.Context, id int64) (domain.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.failAll != nil {
		return domain.Notice{}, r.failAll
	}
	n, ok := r.notices[id]
	if !ok {
		return domain.Notice{}, domain.NotFound("get notice", "notice", id)
	}
	return n, nil
}

func (r *memRepo) Update(_ context.Context, n domain.Notice, expectedVersion int64) (domain.Notice, []domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.Notice{}, nil, r.failAll
	}
	cur, ok := r.notices[n.ID]
	if !ok {
		return domain.Notice{}, nil, domain.NotFound("update notice", "notice", n.ID)
	}
	if expectedVersion > 0 && expectedVersion != cur.Version {
		return domain.Notice{}, nil, domain.E("update notice", domain.KindConflict, errors.New("stale"))
	}
	var removed []domain.Attachment
	if n.Attachments == nil {
		n.Attachments = cur.Attachments
	} else {
		removed = cur.Attachments
	}
	n.Version = cur.Version + 1
	n.CreatedAt = cur.CreatedAt
	n.ViewCount = cur.ViewCount
	n.UpdatedAt = time.Now().UTC()
	r.notices[n.ID] = n
	return n, removed, nil
}

func (r *memRepo) Delete(_ context.Context, id int64) (domain.Notice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return domain.Notice{}, r.failAll
	}
	n, ok := r.notices[id]
	if !ok {
		return domain.Notice{}, domain.NotFound("delete notice", "notice", id)
	}
	delete(r.notices, id)
	return n, nil
}

func (r *memRepo) Search(_ context.Context, q domain.SearchQuery) (domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := domain.Page{Items: []domain.Summary{}, Page: q.Page, Size: q.Size}
	for _, n := range r.notices {
		if !n.ActiveAt(q.Now) {
			continue
		}
		if q.Keyword != "" && !strings.Contains(n.Title, q.Keyword) {
			continue
		}
		page.Items = append(page.Items, domain.Summary{ID: n.ID, Title: n.Title, Author: n.Author.Username})
	}
	page.TotalElements = int64(len(page.Items))
	return page, nil
}

func (r *memRepo) AddViews(_ context.Context, id int64, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failAdd[id]; err != nil {
		return err
	}
	cur, ok := r.notices[id]
	if !ok {
		return domain.NotFound("add views", "notice", id)
	}
	cur.ViewCount += n
	r.notices[id] = cur
	return nil
}

func (r *memRepo) Ping(context.Context) error { return r.failAll }

func (r *memRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

// downCache simula o Redis fora do ar.
type downCache struct{}

var errDown = domain.E("cache", domain.KindCacheUnavailable, errors.New("connection refused"))

func (downCache) Read(context.Context, int64) (domain.Notice, bool, error) {
	return domain.Notice{}, false, errDown
}
func (downCache) Write(context.Context, domain.Notice, time.Duration) error { return errDown }
func (downCache) Fill(context.Context, domain.Notice, time.Duration) error { return errDown }
func (downCache) Invalidate(context.Context, int64) error { return errDown }
func (downCache) Ping(context.Context) error { return errDown }

type downViews struct{}

func (downViews) Incr(context.Context, int64) (int64, error) { return 0, errDown }
func (downViews) Drain(context.Context) (map[int64]int64, error) { return nil, errDown }
func (downViews) Add(context.Context, int64, int64) error { return errDown }
func (downViews) Discard(context.Context, int64) error { return errDown }

// memFiles guarda os anexos em um map.
type memFiles struct {
	mu    sync.Mutex
	files map[string]string
	seq   int
}

func newMemFiles() *memFiles { return &memFiles{files: map[string]string{}} }

func (f *memFiles) Save(_ context.Context, name string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	url := fmt.Sprintf("/uploads/%d-%s", f.seq, name)
	f.files[url] = string(b)
	return url, nil
}

func (f *memFiles) Remove(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, url)
	return nil
}

func (f *memFiles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// slowRepo bloqueia Get até o ctx expirar.
type slowRepo struct {
	*memRepo
}

func (r slowRepo) Get(ctx context.Context, _ int64) (domain.Notice, error) {
	<-ctx.Done()
	return domain.Notice{}, ctx.Err()
}

// gatedRepo pausa o primeiro Get depois da leitura, antes de devolver a
// linha, até release ser fechado. read é fechado quando o Get chega lá.
type gatedRepo struct {
	*memRepo
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newGatedRepo(r *memRepo) *gatedRepo {
	g := &gatedRepo{memRepo: r, read: make(chan struct{}), release: make(chan struct{})}
	g.armed.Store(true)
	return g
}

func (r *gatedRepo) Get(ctx context.Context, id int64) (domain.Notice, error) {
	n, err := r.memRepo.Get(ctx, id)
	if r.armed.CompareAndSwap(true, false) {
		close(r.read)
		<-r.release
	}
	return n, err
}

// failingWrites é um cache cujo Write sempre falha.
type failingWrites struct {
	*infra.MemoryCache
}

func (failingWrites) Write(context.Context, domain.Notice, time.Duration) error { return errDown }

// partialViews entrega as contagens lidas junto com um erro de Drain.
type partialViews struct {
	*infra.MemoryViewCounter
}

func (p partialViews) Drain(ctx context.Context) (map[int64]int64, error) {
	got, _ := p.MemoryViewCounter.Drain(ctx)
	return got, errDown
}
