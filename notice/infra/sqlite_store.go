package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"noticeboard/notice/domain"
	"noticeboard/notice/infra/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore implementa domain.Repository sobre SQLite embarcado.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

type SQLiteOption func(*SQLiteStore)

// WithClock troca o relógio usado em created_at/updated_at (testes).
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// SQLiteDSN monta o DSN do modernc.org/sqlite. _txlock=immediate faz cada
// transação pegar o lock de escrita no BEGIN, e o busy_timeout espera por ele.
func SQLiteDSN(path string) string {
	return "file:" + filepath.Clean(path) +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"
}

// Migrate aplica as migrações embarcadas no banco em path.
func Migrate(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	// o driver de migração fecha sqlDB.
	return migrations.RunUp(sqlDB)
}

// OpenSQLite abre o banco, aplica as migrações e devolve o store.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := Migrate(path); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLiteStore{db: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.E("ping", domain.KindStorage, err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// queryer é satisfeito por *sql.DB e *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username string) (domain.User, error) {
	const op = "create user"
	username = strings.TrimSpace(username)
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.E(op, domain.KindConflict, fmt.Errorf("username %q already exists", username))
		}
		return domain.User{}, domain.E(op, domain.KindStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, domain.E(op, domain.KindStorage, err)
	}
	return domain.User{ID: id, Username: username}, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	const op = "get user"
	var u domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, username FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.NotFound(op, "user", id)
		}
		return domain.User{}, domain.E(op, domain.KindStorage, err)
	}
	return u, nil
}

func (s *SQLiteStore) Create(ctx context.Context, n domain.Notice) (domain.Notice, error) {
	const op = "create notice"
	now := s.now().UTC().Truncate(time.Millisecond)

	var out domain.Notice
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO notices (title, content, start_at, end_at, created_at, updated_at, view_count, version, author_id)
			 VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)`,
			n.Title, n.Content, toMillis(n.StartAt), toMillis(n.EndAt), toMillis(now), toMillis(now), n.Author.ID,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := insertAttachments(ctx, tx, id, n.Attachments); err != nil {
			return err
		}
		out, err = getNotice(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Notice{}, classify(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (domain.Notice, error) {
	n, err := getNotice(ctx, s.db, id)
	if err != nil {
		return domain.Notice{}, classify("get notice", err)
	}
	return n, nil
}

func (s *SQLiteStore) Update(ctx context.Context, n domain.Notice, expectedVersion int64) (domain.Notice, []domain.Attachment, error) {
	const op = "update notice"
	now := s.now().UTC().Truncate(time.Millisecond)

	var (
		out     domain.Notice
		removed []domain.Attachment
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM notices WHERE id = ?`, n.ID).Scan(&version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFound(op, "notice", n.ID)
			}
			return err
		}
		if expectedVersion > 0 && expectedVersion != version {
			return domain.E(op, domain.KindConflict, fmt.Errorf("notice %d is at version %d, not %d", n.ID, version, expectedVersion))
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE notices
			    SET title = ?, content = ?, start_at = ?, end_at = ?, updated_at = ?, version = version + 1
			  WHERE id = ?`,
			n.Title, n.Content, toMillis(n.StartAt), toMillis(n.EndAt), toMillis(now), n.ID,
		)
		if err != nil {
			return err
		}

		if n.Attachments != nil {
			removed, err = listAttachments(ctx, tx, n.ID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE notice_id = ?`, n.ID); err != nil {
				return err
			}
			if err := insertAttachments(ctx, tx, n.ID, n.Attachments); err != nil {
				return err
			}
		}

		out, err = getNotice(ctx, tx, n.ID)
		return err
	})
	if err != nil {
		return domain.Notice{}, nil, classify(op, err)
	}
	return out, removed, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) (domain.Notice, error) {
	const op = "delete notice"
	var out domain.Notice
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = getNotice(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE notice_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM notices WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return domain.Notice{}, classify(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) AddViews(ctx context.Context, id int64, n int64) error {
	const op = "add views"
	res, err := s.db.ExecContext(ctx, `UPDATE notices SET view_count = view_count + ? WHERE id = ?`, n, id)
	if err != nil {
		return domain.E(op, domain.KindStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.E(op, domain.KindStorage, err)
	}
	if affected == 0 {
		return domain.NotFound(op, "notice", id)
	}
	return nil
}

var sortColumns = map[string]string{
	"id":        "n.id",
	"title":     "n.title",
	"createdAt": "n.created_at",
	"updatedAt": "n.updated_at",
	"viewCount": "n.view_count",
}

// Search devolve uma página de avisos ativos em q.Now. q deve estar
// normalizada (SearchQuery.Normalize).
func (s *SQLiteStore) Search(ctx context.Context, q domain.SearchQuery) (domain.Page, error) {
	const op = "search notices"

	col, ok := sortColumns[q.Sort]
	if !ok {
		return domain.Page{}, domain.Validation(op, map[string]string{"sort": "unknown sort field"})
	}
	dir := "DESC"
	if q.Direction == domain.SortAsc {
		dir = "ASC"
	}

	where := []string{"n.start_at <= ?", "n.end_at >= ?"}
	args := []any{toMillis(q.Now), toMillis(q.Now)}
	if q.Keyword != "" {
		pattern := "%" + escapeLike(q.Keyword) + "%"
		switch q.Type {
		case domain.SearchTitle:
			where = append(where, `n.title LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		case domain.SearchTitleContent:
			where = append(where, `(n.title LIKE ? ESCAPE '\' OR n.content LIKE ? ESCAPE '\')`)
			args = append(args, pattern, pattern)
		}
	}
	if q.From != nil {
		where = append(where, "n.created_at >= ?")
		args = append(args, toMillis(*q.From))
	}
	if q.To != nil {
		where = append(where, "n.created_at <= ?")
		args = append(args, toMillis(*q.To))
	}
	cond := strings.Join(where, " AND ")

	page := domain.Page{Items: []domain.Summary{}, Page: q.Page, Size: q.Size}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices n WHERE `+cond, args...).Scan(&page.TotalElements); err != nil {
		return domain.Page{}, domain.E(op, domain.KindStorage, err)
	}
	if q.Size > 0 {
		page.TotalPages = int((page.TotalElements + int64(q.Size) - 1) / int64(q.Size))
	}

	query := `SELECT n.id, n.title, u.username, n.created_at, n.view_count,
	                 EXISTS (SELECT 1 FROM attachments a WHERE a.notice_id = n.id)
	            FROM notices n
	            JOIN users u ON u.id = n.author_id
	           WHERE ` + cond + `
	           ORDER BY ` + col + ` ` + dir + `, n.id ` + dir + `
	           LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Size, q.Page*q.Size)...)
	if err != nil {
		return domain.Page{}, domain.E(op, domain.KindStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      domain.Summary
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.Author, &createdAt, &item.ViewCount, &item.HasAttachment); err != nil {
			return domain.Page{}, domain.E(op, domain.KindStorage, err)
		}
		item.CreatedAt = fromMillis(createdAt)
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, domain.E(op, domain.KindStorage, err)
	}
	return page, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getNotice(ctx context.Context, q queryer, id int64) (domain.Notice, error) {
	var (
		n                                     domain.Notice
		startAt, endAt, createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT n.id, n.title, n.content, n.start_at, n.end_at, n.created_at, n.updated_at,
		        n.view_count, n.version, u.id, u.username
		   FROM notices n
		   JOIN users u ON u.id = n.author_id
		  WHERE n.id = ?`, id,
	).Scan(&n.ID, &n.Title, &n.Content, &startAt, &endAt, &createdAt, &updatedAt,
		&n.ViewCount, &n.Version, &n.Author.ID, &n.Author.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Notice{}, domain.NotFound("get notice", "notice", id)
		}
		return domain.Notice{}, err
	}
	n.StartAt = fromMillis(startAt)
	n.EndAt = fromMillis(endAt)
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)

	n.Attachments, err = listAttachments(ctx, q, id)
	if err != nil {
		return domain.Notice{}, err
	}
	return n, nil
}

func listAttachments(ctx context.Context, q queryer, noticeID int64) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, file_name, file_url FROM attachments WHERE notice_id = ? ORDER BY id`, noticeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Attachment{}
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.FileName, &a.URL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func insertAttachments(ctx context.Context, tx *sql.Tx, noticeID int64, atts []domain.Attachment) error {
	for _, a := range atts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (notice_id, file_name, file_url) VALUES (?, ?, ?)`,
			noticeID, a.FileName, a.URL,
		); err != nil {
			return err
		}
	}
	return nil
}

// classify mantém erros já classificados e marca o resto como storage.
func classify(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if isUniqueViolation(err) {
		return domain.E(op, domain.KindConflict, err)
	}
	if isForeignKeyViolation(err) {
		return domain.E(op, domain.KindNotFound, err)
	}
	return domain.E(op, domain.KindStorage, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

var _ domain.Repository = (*SQLiteStore)(nil)
