// Package application contém os casos de uso do quadro de avisos.
//
// Ele depende apenas do pacote domain e não conhece net/http, SQL nem Redis.
// Ex.: Service.Get(ctx, id) lê pelo cache e cai para o repositório no miss.
package application
