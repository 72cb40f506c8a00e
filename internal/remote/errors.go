package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport - сбой сети или сервиса, запрос можно повторить.
	ErrTransport = errors.New("transport failure")
	// ErrUnauthorized - сервис отказал в доступе.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict - состояние на сервере не допускает операцию.
	ErrConflict = errors.New("conflict")
	// ErrNotFound - сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated - нет текущего пользователя.
	ErrUnauthenticated = errors.New("no authenticated user")
)

// ValidationError - входные данные отклонены до любого запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// DecodeError - запись удаленного сервиса не удалось привести к модели.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s record: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
