package migrations

import "embed"

// FS contém as migrações SQLite do quadro de avisos.
//
//go:embed *.sql
var FS embed.FS
