package domain

import (
	"context"
	"io"
	"time"
)

// Repository é o gateway de persistência (fonte da verdade).
//
// Implementações devem devolver erros classificados: KindNotFound,
// KindConflict ou KindStorage.
type Repository interface {
	CreateUser(ctx context.Context, username string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)

	Create(ctx context.Context, n Notice) (Notice, error)
	Get(ctx context.Context, id int64) (Notice, error)
	// Update grava n. Se expectedVersion > 0 e for diferente da versão
	// armazenada, devolve KindConflict. Attachments nil mantém os anexos;
	// não nil substitui, e os removidos são devolvidos.
	Update(ctx context.Context, n Notice, expectedVersion int64) (Notice, []Attachment, error)
	Delete(ctx context.Context, id int64) (Notice, error)
	Search(ctx context.Context, q SearchQuery) (Page, error)
	AddViews(ctx context.Context, id int64, n int64) error

	Ping(ctx context.Context) error
}

// Cache é o cache remoto de leitura.
//
// Miss não é erro: Read devolve ok=false. Falha de transporte vira
// KindCacheUnavailable e nunca deve derrubar a requisição.
type Cache interface {
	Read(ctx context.Context, id int64) (Notice, bool, error)
	// Write grava o estado recém-commitado. Não sobrescreve uma entrada de
	// versão igual ou maior; sobrescreve lápides.
	Write(ctx context.Context, n Notice, ttl time.Duration) error
	// Fill é a escrita do caminho de miss: só grava se não houver entrada
	// nem lápide para o id.
	Fill(ctx context.Context, n Notice, ttl time.Duration) error
	// Invalidate troca a entrada por uma lápide de vida curta, que bloqueia
	// Fill de leituras que começaram antes da invalidação.
	Invalidate(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// ViewCounter acumula visualizações pendentes fora do banco.
type ViewCounter interface {
	Incr(ctx context.Context, id int64) (int64, error)
	// Drain lê e zera todos os contadores.
	Drain(ctx context.Context) (map[int64]int64, error)
	// Add devolve contagens ao contador (ex.: após falha ao gravar no banco).
	Add(ctx context.Context, id int64, n int64) error
	Discard(ctx context.Context, id int64) error
}

// FileStore guarda o conteúdo dos anexos.
type FileStore interface {
	Save(ctx context.Context, fileName string, body io.Reader) (url string, err error)
	Remove(ctx context.Context, url string) error
}
