// Package notice fornece a borda HTTP (net/http) do quadro de avisos.
//
// Visão geral (camadas):
//
//   - domain: tipos, erros e portas (sem net/http, SQL ou Redis)
//   - application: casos de uso (Service, ViewSync)
//   - infra: SQLite, Redis, ttlcache e disco
//   - notice (este pacote): rotas, decodificação, tradução de erros para
//     status e os middlewares de throttling e log
//
// Fluxo de uma leitura:
//
//  1. GET /api/notices/{id} chega no handler
//  2. Service.Get tenta o cache; no miss lê o SQLite e repopula o cache
//  3. a visualização é contada no contador pendente (Redis ou memória)
//  4. o ViewSync soma as pendentes no banco periodicamente
package notice
