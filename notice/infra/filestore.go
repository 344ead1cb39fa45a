package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"noticeboard/notice/domain"

	"github.com/google/uuid"
)

// DiskFileStore grava anexos em dir como "<uuid>-<nome>". A URL devolvida é
// o caminho relativo ao dir, prefixado por urlPrefix.
type DiskFileStore struct {
	dir       string
	urlPrefix string
	maxBytes  int64
}

type FileStoreOption func(*DiskFileStore)

func WithURLPrefix(prefix string) FileStoreOption {
	return func(s *DiskFileStore) { s.urlPrefix = strings.TrimRight(prefix, "/") }
}

// WithMaxBytes limita o tamanho de cada arquivo; 0 desliga o limite.
func WithMaxBytes(n int64) FileStoreOption {
	return func(s *DiskFileStore) { s.maxBytes = n }
}

func NewDiskFileStore(dir string, opts ...FileStoreOption) (*DiskFileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("uploads dir is required")
	}
	s := &DiskFileStore{dir: filepath.Clean(dir), urlPrefix: "/uploads"}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return s, nil
}

func (s *DiskFileStore) Dir() string { return s.dir }

func (s *DiskFileStore) Save(ctx context.Context, fileName string, body io.Reader) (string, error) {
	const op = "save attachment"
	if err := ctx.Err(); err != nil {
		return "", domain.E(op, domain.KindStorage, err)
	}
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(fileName, `\`, "/")))
	if base == "/" || base == "." || strings.TrimSpace(base) == "" {
		return "", domain.Validation(op, map[string]string{"files": "invalid file name"})
	}
	name := uuid.NewString() + "-" + base

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", domain.E(op, domain.KindStorage, err)
	}

	src := body
	if s.maxBytes > 0 {
		src = io.LimitReader(body, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		_ = os.Remove(filepath.Join(s.dir, name))
		return "", domain.Validation(op, map[string]string{"files": fmt.Sprintf("%s exceeds %d bytes", base, s.maxBytes)})
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.dir, name))
		return "", domain.E(op, domain.KindStorage, err)
	}
	return s.urlPrefix + "/" + name, nil
}

// Remove apaga o arquivo apontado por url. Arquivo inexistente não é erro.
func (s *DiskFileStore) Remove(_ context.Context, url string) error {
	name := strings.TrimPrefix(url, s.urlPrefix+"/")
	if name == "" || name == url || strings.ContainsAny(name, `/\`) {
		return domain.E("remove attachment", domain.KindValidation, fmt.Errorf("url %q is not managed by this store", url))
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.E("remove attachment", domain.KindStorage, err)
	}
	return nil
}

var _ domain.FileStore = (*DiskFileStore)(nil)
