package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type SearchType string

const (
	SearchNone         SearchType = ""
	SearchTitle        SearchType = "TITLE"
	SearchTitleContent SearchType = "TITLE_CONTENT"
)

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	DefaultSort     = "createdAt"

	// MaxPage mantém Page*Size (o OFFSET da consulta) dentro de um int32.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// SortFields são os campos públicos aceitos em SearchQuery.Sort.
var SortFields = []string{"id", "title", "createdAt", "updatedAt", "viewCount"}

func isSortField(name string) bool {
	for _, f := range SortFields {
		if f == name {
			return true
		}
	}
	return false
}

type SearchQuery struct {
	Type    SearchType
	Keyword string
	From    *time.Time
	To      *time.Time

	// Now filtra avisos cuja janela [StartAt, EndAt] contém o instante.
	Now time.Time

	Page      int
	Size      int
	Sort      string
	Direction SortDirection
}

// Normalize aplica os padrões e devolve erro de validação para valores fora
// do domínio.
func (q SearchQuery) Normalize() (SearchQuery, error) {
	fields := map[string]string{}

	q.Type = SearchType(strings.ToUpper(strings.TrimSpace(string(q.Type))))
	switch q.Type {
	case SearchNone, SearchTitle, SearchTitleContent:
	default:
		fields["searchType"] = "must be TITLE or TITLE_CONTENT"
	}
	q.Keyword = strings.TrimSpace(q.Keyword)

	if q.Page < 0 || q.Page > MaxPage {
		fields["page"] = fmt.Sprintf("must be between 0 and %d", MaxPage)
	}
	if q.Size == 0 {
		q.Size = DefaultPageSize
	}
	if q.Size < 0 || q.Size > MaxPageSize {
		fields["size"] = "must be between 1 and 100"
	}
	if q.Sort == "" {
		q.Sort = DefaultSort
	}
	if !isSortField(q.Sort) {
		fields["sort"] = "unknown sort field"
	}
	q.Direction = SortDirection(strings.ToUpper(string(q.Direction)))
	switch q.Direction {
	case "":
		q.Direction = SortDesc
	case SortAsc, SortDesc:
	default:
		fields["sortDirection"] = "must be ASC or DESC"
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		fields["to"] = "must not precede from"
	}
	if q.Now.IsZero() {
		q.Now = time.Now().UTC()
	}

	if len(fields) > 0 {
		return q, Validation("search", fields)
	}
	return q, nil
}

// Summary é a projeção de listagem.
type Summary struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"createdAt"`
	ViewCount     int64     `json:"viewCount"`
	HasAttachment bool      `json:"hasAttachment"`
}

type Page struct {
	Items         []Summary `json:"items"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
}
