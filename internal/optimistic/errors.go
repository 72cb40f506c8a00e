package optimistic

import (
	"context"
	"errors"

	"github.com/UkralStul/feedsync/internal/remote"
)

// Class - категория ошибки мутации.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassTransport
	ClassUnauthorized
	ClassConflict
	ClassNotFound
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransport:
		return "transport"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassConflict:
		return "conflict"
	case ClassNotFound:
		return "not_found"
	case ClassCanceled:
		return "canceled"
	}
	return "unknown"
}

// Classify относит ошибку мутации к одной из категорий.
func Classify(err error) Class {
	var verr *remote.ValidationError
	switch {
	case err == nil:
		return ClassUnknown
	case errors.As(err, &verr), errors.Is(err, remote.ErrUnauthenticated):
		return ClassValidation
	case errors.Is(err, remote.ErrConflict):
		return ClassConflict
	case errors.Is(err, remote.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, remote.ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, remote.ErrTransport):
		return ClassTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	}
	return ClassUnknown
}

// Retryable сообщает, имеет ли смысл повторить мутацию.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTransport, ClassUnauthorized:
		return true
	}
	return false
}

// ItemResult - исход одной позиции пакетной операции.
type ItemResult struct {
	ID  string
	Err error
}

// Failed возвращает позиции, завершившиеся ошибкой.
func Failed(results []ItemResult) []ItemResult {
	var out []ItemResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
