// Package remote описывает границу с удаленным сервисом данных:
// запросы, ленту изменений и провайдер личности.
package remote

import "context"

// Kind - вид сущности удаленного сервиса.
type Kind string

const (
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindVote         Kind = "vote"
	KindVoteTally    Kind = "vote_tally"
	KindFriendship   Kind = "friendship"
	KindNotification Kind = "notification"
)

// Record - нетипизированная запись удаленного сервиса.
// В редьюсеры записи не попадают: Gateway переводит их в доменные модели.
type Record map[string]any

// ID возвращает поле id записи.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Filter - условия выборки поле=значение. Значение со списком через запятую
// означает принадлежность множеству. Пустое значение означает NULL.
type Filter map[string]string

// Page - курсорная пагинация. Cursor - id последней записи предыдущей страницы.
type Page struct {
	Limit  int
	Cursor string
}

// Client - интерфейс удаленных запросов.
type Client interface {
	Fetch(ctx context.Context, kind Kind, filter Filter, page Page) ([]Record, error)
	Create(ctx context.Context, kind Kind, payload Record) (Record, error)
	Update(ctx context.Context, kind Kind, id string, patch Record) (Record, error)
	Delete(ctx context.Context, kind Kind, id string) error
}

// ChangeType - тип события ленты изменений.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change - событие ленты изменений.
type Change struct {
	Kind   Kind       `json:"kind"`
	Type   ChangeType `json:"type"`
	Record Record     `json:"record"`
}

// Handler получает события одного вида в порядке доставки.
type Handler func(ChangeType, Record)

// SubscriptionHandle - хэндл подписки на ленту.
type SubscriptionHandle struct {
	ID   string
	Kind Kind
}

// Feed - лента изменений. Доставка at-least-once, порядок сохраняется по ключу.
// Unsubscribe идемпотентен.
type Feed interface {
	Subscribe(kind Kind, h Handler) (SubscriptionHandle, error)
	Unsubscribe(h SubscriptionHandle)
}

// FeedStatus - состояние соединения ленты.
type FeedStatus int

const (
	FeedConnected FeedStatus = iota
	FeedDisconnected
)

func (s FeedStatus) String() string {
	if s == FeedConnected {
		return "connected"
	}
	return "disconnected"
}

// StatusSource - лента, сообщающая о разрывах соединения.
// Возвращаемая функция отменяет наблюдение.
type StatusSource interface {
	OnStatus(fn func(FeedStatus)) (cancel func())
}

// Identity - провайдер текущего пользователя.
type Identity interface {
	CurrentUserID() (string, bool)
}

// StaticIdentity - пользователь, заданный при запуске. Пустая строка - аноним.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID() (string, bool) {
	return string(s), s != ""
}

// Publisher принимает события ленты изменений от бэкенда.
type Publisher interface {
	Publish(ch Change)
}
