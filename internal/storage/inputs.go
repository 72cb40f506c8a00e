package storage

import (
	"github.com/mitchellh/mapstructure"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
)

// Входные данные запросов на создание и изменение.
// Общие для всех бэкендов, чтобы правила проверки совпадали.

type PostInput struct {
	Title           string `mapstructure:"title" validate:"max=255"`
	Content         string `mapstructure:"content"`
	AuthorID        string `mapstructure:"author_id" validate:"required"`
	CommentsEnabled *bool  `mapstructure:"comments_enabled"`
}

type CommentInput struct {
	PostID   string `mapstructure:"post_id" validate:"required"`
	ParentID string `mapstructure:"parent_id"`
	UserID   string `mapstructure:"user_id" validate:"required"`
	Content  string `mapstructure:"content"`
}

type VoteInput struct {
	UserID    string          `mapstructure:"user_id" validate:"required"`
	CommentID string          `mapstructure:"comment_id" validate:"required"`
	VoteType  domain.VoteType `mapstructure:"vote_type" validate:"required,oneof=up down"`
}

type FriendshipInput struct {
	UserID   string `mapstructure:"user_id" validate:"required"`
	FriendID string `mapstructure:"friend_id" validate:"required,nefield=UserID"`
}

type NotificationInput struct {
	UserID       string                  `mapstructure:"user_id" validate:"required"`
	Type         domain.NotificationType `mapstructure:"type" validate:"required,oneof=like comment reply friend_request friend_accepted"`
	ActorID      string                  `mapstructure:"actor_id" validate:"required"`
	ResourceID   string                  `mapstructure:"resource_id"`
	ResourceType string                  `mapstructure:"resource_type"`
}

// CommentPatch - изменяемые поля комментария.
type CommentPatch struct {
	Content string `mapstructure:"content"`
}

type VotePatch struct {
	VoteType domain.VoteType `mapstructure:"vote_type" validate:"required,oneof=up down"`
}

// FriendshipPatch - смена статуса. ActorID заполняет транспорт, если знает пользователя.
type FriendshipPatch struct {
	Status  domain.FriendshipStatus `mapstructure:"status" validate:"required"`
	ActorID string                  `mapstructure:"actor_id"`
}

type NotificationPatch struct {
	Read bool `mapstructure:"read"`
}

type PostPatch struct {
	CommentsEnabled bool `mapstructure:"comments_enabled"`
}

// DecodeInput переводит запись запроса в структуру и проверяет ее.
func DecodeInput(payload remote.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(payload)); err != nil {
		return &remote.ValidationError{Reason: err.Error()}
	}
	return remote.Validate(out)
}
