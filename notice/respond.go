package notice

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"noticeboard/notice/domain"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type attachmentBody struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

type detailBody struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	Author      string           `json:"author"`
	StartAt     time.Time        `json:"startAt"`
	EndAt       time.Time        `json:"endAt"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ViewCount   int64            `json:"viewCount"`
	Version     int64            `json:"version"`
	Attachments []attachmentBody `json:"attachments"`
}

func toDetail(n domain.Notice) detailBody {
	out := detailBody{
		ID:          n.ID,
		Title:       n.Title,
		Content:     n.Content,
		Author:      n.Author.Username,
		StartAt:     n.StartAt,
		EndAt:       n.EndAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		ViewCount:   n.ViewCount,
		Version:     n.Version,
		Attachments: make([]attachmentBody, 0, len(n.Attachments)),
	}
	for _, a := range n.Attachments {
		out.Attachments = append(out.Attachments, attachmentBody{FileName: a.FileName, URL: a.URL})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeNotice(w http.ResponseWriter, status int, n domain.Notice) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(n.Version, 10)))
	writeJSON(w, status, toDetail(n))
}

// statusFor traduz a categoria do erro para o status HTTP.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		kind, status = domain.KindValidation, http.StatusRequestEntityTooLarge
	}

	body := errorBody{Error: string(kind), Message: err.Error(), Fields: domain.FieldsOf(err)}
	if status >= 500 {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		// detalhes de armazenamento não vazam para o cliente.
		body.Message = http.StatusText(status)
	}
	writeJSON(w, status, body)
}
