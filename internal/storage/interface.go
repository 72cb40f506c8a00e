package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
)

// MaxCommentLength - максимальная длина комментария в символах.
const MaxCommentLength = 2000

// DefaultPageLimit - размер страницы, если клиент его не задал.
const DefaultPageLimit = 50

// Backend определяет контракт для хранилищ-бэкендов.
// Помимо общего интерфейса запросов бэкенд умеет работать с постами.
type Backend interface {
	remote.Client

	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ToggleComments(ctx context.Context, postID string, enable bool) (*domain.Post, error)
	Close() error
}

// ValidateContent проверяет текст комментария.
func ValidateContent(content string) error {
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return &remote.ValidationError{Field: "content", Reason: "is too long"}
	}
	if strings.TrimSpace(content) == "" {
		return &remote.ValidationError{Field: "content", Reason: "cannot be empty"}
	}
	return nil
}

// ErrCommentsDisabled - пост закрыт для комментариев.
var ErrCommentsDisabled = fmt.Errorf("%w: comments are disabled for this post", remote.ErrConflict)

// NotFound оборачивает ErrNotFound с указанием сущности.
func NotFound(kind remote.Kind, id string) error {
	return fmt.Errorf("%w: %s %s", remote.ErrNotFound, kind, id)
}

// IsNotFound сообщает, является ли ошибка ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, remote.ErrNotFound)
}

// Values разбирает значение фильтра-списка.
func Values(f remote.Filter, key string) ([]string, bool) {
	v, ok := f[key]
	if !ok {
		return nil, false
	}
	if v == "" {
		return nil, true
	}
	return strings.Split(v, ","), true
}

// Limit возвращает размер страницы.
func Limit(p remote.Page) int {
	if p.Limit <= 0 {
		return DefaultPageLimit
	}
	return p.Limit
}

// Paginate применяет курсорную пагинацию к отсортированной последовательности.
// Курсор - id последнего элемента предыдущей страницы.
func Paginate[T any](items []T, id func(T) string, page remote.Page) []T {
	startIndex := 0
	if page.Cursor != "" {
		for i, item := range items {
			if id(item) == page.Cursor {
				startIndex = i + 1
				break
			}
		}
	}
	if startIndex >= len(items) {
		return []T{}
	}
	endIndex := startIndex + Limit(page)
	if endIndex > len(items) {
		endIndex = len(items)
	}
	return items[startIndex:endIndex]
}

// NextFriendshipStatus проверяет переход статуса отношения.
// actorID - пользователь, который меняет статус.
func NextFriendshipStatus(f *domain.Friendship, actorID string, next domain.FriendshipStatus) error {
	switch next {
	case domain.FriendshipAccepted, domain.FriendshipRejected:
		if f.Status != domain.FriendshipPending {
			return fmt.Errorf("%w: friendship %s is %s, not pending", remote.ErrConflict, f.ID, f.Status)
		}
		if actorID != "" && actorID != f.FriendID {
			return fmt.Errorf("%w: only the addressee can answer a friend request", remote.ErrUnauthorized)
		}
	case domain.FriendshipBlocked:
		if f.Status == domain.FriendshipBlocked {
			return fmt.Errorf("%w: friendship %s is already blocked", remote.ErrConflict, f.ID)
		}
	case domain.FriendshipPending:
		return fmt.Errorf("%w: friendship %s cannot go back to pending", remote.ErrConflict, f.ID)
	default:
		return &remote.ValidationError{Field: "status", Reason: "must be one of accepted rejected blocked"}
	}
	return nil
}

// CommentNotification строит уведомление о новом комментарии или ответе.
// Возвращает nil, если автор отвечает сам себе.
func CommentNotification(c *domain.Comment, recipientID string) *domain.Notification {
	if recipientID == "" || recipientID == c.UserID {
		return nil
	}
	typ := domain.NotificationComment
	if c.ParentID != nil {
		typ = domain.NotificationReply
	}
	return &domain.Notification{
		UserID:       recipientID,
		Type:         typ,
		ActorID:      c.UserID,
		ResourceID:   c.ID,
		ResourceType: string(remote.KindComment),
		CreatedAt:    c.CreatedAt,
	}
}
