package notice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"noticeboard/notice/domain"
)

// UserHeader identifica o chamador (substitui a sessão do servidor).
const UserHeader = "X-User-ID"

// NoticeService é o que o handler precisa da camada application.
type NoticeService interface {
	Get(ctx context.Context, id int64) (domain.Notice, error)
	Create(ctx context.Context, authorID int64, d domain.Draft) (domain.Notice, error)
	Update(ctx context.Context, id int64, p domain.Patch) (domain.Notice, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, q domain.SearchQuery) (domain.Page, error)
	CreateUser(ctx context.Context, username string) (domain.User, error)
	Health(ctx context.Context) (storeErr, cacheErr error)
}

type Options struct {
	Service NoticeService
	Logger  *slog.Logger

	// MaxBodyBytes limita o corpo das escritas (inclui anexos).
	MaxBodyBytes int64
	// UploadsDir, se preenchido, é servido em /uploads/.
	UploadsDir string
}

type handler struct {
	svc          NoticeService
	log          *slog.Logger
	maxBodyBytes int64
}

// NewHandler monta as rotas da API.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	h := &handler{svc: opts.Service, log: opts.Logger, maxBodyBytes: opts.MaxBodyBytes}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notices", h.list)
	mux.HandleFunc("POST /api/notices", h.create)
	mux.HandleFunc("GET /api/notices/{id}", h.get)
	mux.HandleFunc("PUT /api/notices/{id}", h.update)
	mux.HandleFunc("DELETE /api/notices/{id}", h.delete)
	mux.HandleFunc("POST /api/users", h.createUser)
	mux.HandleFunc("GET /healthz", h.health)
	if opts.UploadsDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}
	return mux
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	q, err := decodeSearch(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	n, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeNotice(w, http.StatusOK, n)
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	author, err := callerID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	form, err := decodeNoticeForm(r, h.maxBodyBytes)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer form.Close()

	n, err := h.svc.Create(r.Context(), author, domain.Draft{
		Title:   form.Title,
		Content: form.Content,
		StartAt: form.StartAt,
		EndAt:   form.EndAt,
		Files:   form.Files,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/notices/"+strconv.FormatInt(n.ID, 10))
	writeNotice(w, http.StatusCreated, n)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	version, err := ifMatchVersion(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	form, err := decodeNoticeForm(r, h.maxBodyBytes)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer form.Close()
	if version == 0 {
		version = form.Version
	}

	n, err := h.svc.Update(r.Context(), id, domain.Patch{
		Title:           form.Title,
		Content:         form.Content,
		StartAt:         form.StartAt,
		EndAt:           form.EndAt,
		Files:           form.Files,
		ExpectedVersion: version,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeNotice(w, http.StatusOK, n)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, h.log, domain.Validation("decode user", map[string]string{"body": "malformed JSON"}))
		return
	}
	u, err := h.svc.CreateUser(r.Context(), body.Username)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	storeErr, cacheErr := h.svc.Health(r.Context())
	body := map[string]string{"store": "ok", "cache": "ok"}
	status := http.StatusOK
	if storeErr != nil {
		body["store"] = storeErr.Error()
		status = http.StatusServiceUnavailable
	}
	if cacheErr != nil {
		// cache fora só degrada.
		body["cache"] = "degraded: " + cacheErr.Error()
	}
	writeJSON(w, status, body)
}
