package notice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"noticeboard/notice/domain"
)

// layouts aceitos para datas. Sem fuso, o horário é lido como UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", v)
}

// optTime lê um horário opcional; vazio vira nil.
func optTime(fields map[string]string, name, v string) *time.Time {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	t, err := parseTime(v)
	if err != nil {
		fields[name] = "must be an ISO-8601 date-time"
		return nil
	}
	return &t
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validation("parse id", map[string]string{"id": "must be a positive integer"})
	}
	return id, nil
}

// callerID lê a identidade do chamador. Ausente devolve 0.
func callerID(r *http.Request) (int64, error) {
	v := strings.TrimSpace(r.Header.Get(UserHeader))
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.E("parse caller", domain.KindUnauthorized, fmt.Errorf("invalid %s header", UserHeader))
	}
	return id, nil
}

type noticeForm struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt"`
	Version int64  `json:"version"`
}

// decodedForm é o corpo já validado sintaticamente. Close libera os
// arquivos do multipart.
type decodedForm struct {
	Title   string
	Content string
	StartAt *time.Time
	EndAt   *time.Time
	Version int64
	Files   []domain.Upload

	closers []io.Closer
	form    *multipart.Form
}

func (f *decodedForm) Close() {
	for _, c := range f.closers {
		_ = c.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// decodeNoticeForm aceita application/json e multipart/form-data (campo
// "files" para anexos).
func decodeNoticeForm(r *http.Request, maxMemory int64) (*decodedForm, error) {
	const op = "decode notice"
	var raw noticeForm
	out := &decodedForm{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, err
			}
			return nil, domain.Validation(op, map[string]string{"body": "malformed multipart form"})
		}
		out.form = r.MultipartForm
		raw.Title = r.FormValue("title")
		raw.Content = r.FormValue("content")
		raw.StartAt = r.FormValue("startAt")
		raw.EndAt = r.FormValue("endAt")
		if v := strings.TrimSpace(r.FormValue("version")); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, domain.Validation(op, map[string]string{"version": "must be an integer"})
			}
			raw.Version = n
		}
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				out.Close()
				return nil, domain.Validation(op, map[string]string{"files": "unreadable file " + fh.Filename})
			}
			out.closers = append(out.closers, f)
			out.Files = append(out.Files, domain.Upload{FileName: fh.Filename, Body: f})
		}
	case "application/json", "":
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, err
			}
			return nil, domain.Validation(op, map[string]string{"body": "malformed JSON"})
		}
	default:
		return nil, domain.Validation(op, map[string]string{"body": "unsupported content type " + mediaType})
	}

	fields := map[string]string{}
	out.Title = raw.Title
	out.Content = raw.Content
	out.StartAt = optTime(fields, "startAt", raw.StartAt)
	out.EndAt = optTime(fields, "endAt", raw.EndAt)
	out.Version = raw.Version
	if len(fields) > 0 {
		out.Close()
		return nil, domain.Validation(op, fields)
	}
	return out, nil
}

// ifMatchVersion lê a versão de If-Match ("3" ou "\"3\""). Vazio ou "*"
// devolve 0 (sem concorrência otimista).
func ifMatchVersion(r *http.Request) (int64, error) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	if v == "" || v == "*" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.Trim(v, `"`), 10, 64)
	if err != nil || n <= 0 {
		return 0, domain.Validation("parse if-match", map[string]string{"If-Match": "must be a notice version"})
	}
	return n, nil
}

func decodeSearch(r *http.Request) (domain.SearchQuery, error) {
	q := r.URL.Query()
	fields := map[string]string{}
	out := domain.SearchQuery{
		Type:      domain.SearchType(q.Get("searchType")),
		Keyword:   q.Get("keyword"),
		From:      optTime(fields, "from", q.Get("from")),
		To:        optTime(fields, "to", q.Get("to")),
		Sort:      q.Get("sort"),
		Direction: domain.SortDirection(q.Get("sortDirection")),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["page"] = "must be an integer"
		}
		out.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fields["size"] = "must be between 1 and 100"
		}
		out.Size = n
	}
	if len(fields) > 0 {
		return out, domain.Validation("parse search", fields)
	}
	return out, nil
}
