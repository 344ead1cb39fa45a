// Package domain define os tipos e contratos do quadro de avisos.
//
// Este pacote não depende de net/http, SQL ou Redis. As portas (Repository,
// Cache, ViewCounter, FileStore) são implementadas no pacote infra e
// orquestradas pelo pacote application.
package domain
