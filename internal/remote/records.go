package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/UkralStul/feedsync/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет структуру по тегам validate и переводит ошибку в ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: strings.ToLower(fe.Field()), Reason: describeTag(fe)}
	}
	return &ValidationError{Reason: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "is too long"
	case "oneof":
		return "must be one of " + fe.Param()
	case "nefield":
		return "must differ from " + strings.ToLower(fe.Param())
	}
	return "failed " + fe.Tag()
}

type commentRecord struct {
	ID        string          `mapstructure:"id" validate:"required"`
	PostID    string          `mapstructure:"post_id" validate:"required"`
	ParentID  *string         `mapstructure:"parent_id"`
	UserID    string          `mapstructure:"user_id" validate:"required"`
	Content   string          `mapstructure:"content"`
	CreatedAt time.Time       `mapstructure:"created_at"`
	UpdatedAt time.Time       `mapstructure:"updated_at"`
	Upvotes   int             `mapstructure:"upvotes"`
	Downvotes int             `mapstructure:"downvotes"`
	UserVote  domain.VoteType `mapstructure:"user_vote" validate:"omitempty,oneof=up down"`
}

type voteRecord struct {
	ID        string          `mapstructure:"id"`
	UserID    string          `mapstructure:"user_id" validate:"required"`
	CommentID string          `mapstructure:"comment_id" validate:"required"`
	VoteType  domain.VoteType `mapstructure:"vote_type" validate:"omitempty,oneof=up down"`
	CreatedAt time.Time       `mapstructure:"created_at"`
}

type tallyRecord struct {
	CommentID string          `mapstructure:"comment_id" validate:"required"`
	Upvotes   int             `mapstructure:"upvotes"`
	Downvotes int             `mapstructure:"downvotes"`
	UserVote  domain.VoteType `mapstructure:"user_vote" validate:"omitempty,oneof=up down"`
}

type friendshipRecord struct {
	ID        string                  `mapstructure:"id" validate:"required"`
	UserID    string                  `mapstructure:"user_id" validate:"required"`
	FriendID  string                  `mapstructure:"friend_id" validate:"required"`
	Status    domain.FriendshipStatus `mapstructure:"status" validate:"required,oneof=pending accepted rejected blocked"`
	CreatedAt time.Time               `mapstructure:"created_at"`
	UpdatedAt time.Time               `mapstructure:"updated_at"`
}

type notificationRecord struct {
	ID           string                  `mapstructure:"id" validate:"required"`
	UserID       string                  `mapstructure:"user_id" validate:"required"`
	Type         domain.NotificationType `mapstructure:"type" validate:"required"`
	ActorID      string                  `mapstructure:"actor_id"`
	ResourceID   string                  `mapstructure:"resource_id"`
	ResourceType string                  `mapstructure:"resource_type"`
	Read         bool                    `mapstructure:"read"`
	CreatedAt    time.Time               `mapstructure:"created_at"`
}

type postRecord struct {
	ID              string    `mapstructure:"id" validate:"required"`
	Title           string    `mapstructure:"title"`
	Content         string    `mapstructure:"content"`
	AuthorID        string    `mapstructure:"author_id" validate:"required"`
	CommentsEnabled bool      `mapstructure:"comments_enabled"`
	CreatedAt       time.Time `mapstructure:"created_at"`
}

func decode(kind Kind, rec Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return &DecodeError{Kind: kind, Err: err}
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return &DecodeError{Kind: kind, Err: err}
	}
	if err := Validate(out); err != nil {
		return &DecodeError{Kind: kind, Err: err}
	}
	return nil
}

// DecodeComment переводит запись в комментарий.
func DecodeComment(rec Record) (*domain.Comment, error) {
	var r commentRecord
	if err := decode(KindComment, rec, &r); err != nil {
		return nil, err
	}
	if r.ParentID != nil && *r.ParentID == "" {
		r.ParentID = nil
	}
	return &domain.Comment{
		ID:        r.ID,
		PostID:    r.PostID,
		ParentID:  r.ParentID,
		UserID:    r.UserID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Upvotes:   r.Upvotes,
		Downvotes: r.Downvotes,
		Score:     r.Upvotes - r.Downvotes,
		UserVote:  r.UserVote,
	}, nil
}

// DecodeVote переводит запись в голос.
func DecodeVote(rec Record) (*domain.Vote, error) {
	var r voteRecord
	if err := decode(KindVote, rec, &r); err != nil {
		return nil, err
	}
	id := r.ID
	if id == "" {
		id = domain.VoteID(r.UserID, r.CommentID)
	}
	return &domain.Vote{ID: id, UserID: r.UserID, CommentID: r.CommentID, VoteType: r.VoteType, CreatedAt: r.CreatedAt}, nil
}

// DecodeTally переводит запись агрегата голосов. Второе значение - голос зрителя.
func DecodeTally(rec Record) (domain.Tally, domain.VoteType, error) {
	var r tallyRecord
	if err := decode(KindVoteTally, rec, &r); err != nil {
		return domain.Tally{}, domain.VoteNone, err
	}
	return domain.Tally{
		CommentID: r.CommentID,
		Upvotes:   r.Upvotes,
		Downvotes: r.Downvotes,
		Score:     r.Upvotes - r.Downvotes,
	}, r.UserVote, nil
}

// DecodeFriendship переводит запись в отношение.
func DecodeFriendship(rec Record) (*domain.Friendship, error) {
	var r friendshipRecord
	if err := decode(KindFriendship, rec, &r); err != nil {
		return nil, err
	}
	return &domain.Friendship{
		ID:        r.ID,
		UserID:    r.UserID,
		FriendID:  r.FriendID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// DecodeNotification переводит запись в уведомление.
func DecodeNotification(rec Record) (*domain.Notification, error) {
	var r notificationRecord
	if err := decode(KindNotification, rec, &r); err != nil {
		return nil, err
	}
	return &domain.Notification{
		ID:           r.ID,
		UserID:       r.UserID,
		Type:         r.Type,
		ActorID:      r.ActorID,
		ResourceID:   r.ResourceID,
		ResourceType: r.ResourceType,
		Read:         r.Read,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// DecodePost переводит запись в пост.
func DecodePost(rec Record) (*domain.Post, error) {
	var r postRecord
	if err := decode(KindPost, rec, &r); err != nil {
		return nil, err
	}
	return &domain.Post{
		ID:              r.ID,
		Title:           r.Title,
		Content:         r.Content,
		AuthorID:        r.AuthorID,
		CommentsEnabled: r.CommentsEnabled,
		CreatedAt:       r.CreatedAt,
	}, nil
}

// === Кодирование (используется бэкендами) ===

// EncodeComment строит запись комментария.
func EncodeComment(c *domain.Comment) Record {
	rec := Record{
		"id":         c.ID,
		"post_id":    c.PostID,
		"user_id":    c.UserID,
		"content":    c.Content,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
		"upvotes":    c.Upvotes,
		"downvotes":  c.Downvotes,
		"score":      c.Upvotes - c.Downvotes,
		"user_vote":  string(c.UserVote),
	}
	if c.ParentID != nil {
		rec["parent_id"] = *c.ParentID
	}
	return rec
}

// EncodeVote строит запись голоса.
func EncodeVote(v *domain.Vote) Record {
	return Record{
		"id":         v.ID,
		"user_id":    v.UserID,
		"comment_id": v.CommentID,
		"vote_type":  string(v.VoteType),
		"created_at": v.CreatedAt,
	}
}

// EncodeTally строит запись агрегата голосов.
func EncodeTally(t domain.Tally, viewerVote domain.VoteType) Record {
	return Record{
		"comment_id": t.CommentID,
		"upvotes":    t.Upvotes,
		"downvotes":  t.Downvotes,
		"score":      t.Upvotes - t.Downvotes,
		"user_vote":  string(viewerVote),
	}
}

// EncodeFriendship строит запись отношения.
func EncodeFriendship(f *domain.Friendship) Record {
	return Record{
		"id":         f.ID,
		"user_id":    f.UserID,
		"friend_id":  f.FriendID,
		"status":     string(f.Status),
		"created_at": f.CreatedAt,
		"updated_at": f.UpdatedAt,
	}
}

// EncodeNotification строит запись уведомления.
func EncodeNotification(n *domain.Notification) Record {
	return Record{
		"id":            n.ID,
		"user_id":       n.UserID,
		"type":          string(n.Type),
		"actor_id":      n.ActorID,
		"resource_id":   n.ResourceID,
		"resource_type": n.ResourceType,
		"read":          n.Read,
		"created_at":    n.CreatedAt,
	}
}

// EncodePost строит запись поста.
func EncodePost(p *domain.Post) Record {
	return Record{
		"id":               p.ID,
		"title":            p.Title,
		"content":          p.Content,
		"author_id":        p.AuthorID,
		"comments_enabled": p.CommentsEnabled,
		"created_at":       p.CreatedAt,
	}
}

// String и Bool достают типизированные поля из нетипизированных записей.

func String(rec Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func Bool(rec Record, key string) (bool, bool) {
	v, ok := rec[key].(bool)
	return v, ok
}
