package domain

import (
	"io"
	"time"
)

const (
	MaxTitleLen    = 255
	MaxUsernameLen = 50
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Attachment struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// Notice é o registro de domínio. ID, CreatedAt e Author nunca mudam depois
// do create; Version cresce a cada update.
type Notice struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	StartAt     time.Time    `json:"startAt"`
	EndAt       time.Time    `json:"endAt"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ViewCount   int64        `json:"viewCount"`
	Version     int64        `json:"version"`
	Author      User         `json:"author"`
	Attachments []Attachment `json:"attachments"`
}

// ActiveAt informa se a janela de exibição contém t (limites inclusivos).
func (n Notice) ActiveAt(t time.Time) bool {
	return !t.Before(n.StartAt) && !t.After(n.EndAt)
}

// Upload é um arquivo recebido na requisição, ainda não persistido.
type Upload struct {
	FileName string
	Body     io.Reader
}

// Draft é a entrada do create.
type Draft struct {
	Title   string
	Content string
	StartAt *time.Time
	EndAt   *time.Time
	Files   []Upload
}

// Patch é a entrada do update. Strings vazias e horários nil mantêm o valor
// atual; Files não vazio substitui os anexos.
type Patch struct {
	Title   string
	Content string
	StartAt *time.Time
	EndAt   *time.Time
	Files   []Upload

	// ExpectedVersion > 0 habilita concorrência otimista.
	ExpectedVersion int64
}
