package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinelas para classificação com errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrStorage          = errors.New("storage error")
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindCacheUnavailable Kind = "cache_unavailable"
	KindStorage          Kind = "storage"
)

var kindSentinel = map[Kind]error{
	KindValidation:       ErrValidation,
	KindUnauthorized:     ErrUnauthorized,
	KindNotFound:         ErrNotFound,
	KindConflict:         ErrConflict,
	KindCacheUnavailable: ErrCacheUnavailable,
	KindStorage:          ErrStorage,
}

// Error carrega a operação, a categoria e a causa.
// Fields só é preenchido para KindValidation (campo -> mensagem).
type Error struct {
	Op     string
	Kind   Kind
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" "+e.Fields[k])
		}
		base += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is faz errors.Is(err, ErrNotFound) funcionar sem exigir que Err seja a sentinela.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return kindSentinel[e.Kind] == target
}

func E(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func Validation(op string, fields map[string]string) error {
	return &Error{Op: op, Kind: KindValidation, Fields: fields}
}

func NotFound(op string, what string, id int64) error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s %d", what, id)}
}

// KindOf devolve a categoria de err. Erros desconhecidos contam como storage,
// que vira 5xx na borda.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for k, s := range kindSentinel {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindStorage
}

// FieldsOf devolve os campos inválidos de um erro de validação.
func FieldsOf(err error) map[string]string {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
