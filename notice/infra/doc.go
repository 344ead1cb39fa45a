// Package infra contém as implementações concretas das portas do pacote domain.
//
// Exemplos:
//   - SQLiteStore: gateway de persistência (modernc.org/sqlite + golang-migrate)
//   - RedisCache / MemoryCache: cache de leitura (go-redis / ttlcache)
//   - RedisViewCounter / MemoryViewCounter: visualizações pendentes
//   - DiskFileStore: conteúdo dos anexos em disco
package infra
