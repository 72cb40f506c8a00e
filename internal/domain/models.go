package domain

import (
	"strings"
	"time"
)

// PlaceholderPrefix - префикс локальных id для оптимистично созданных сущностей.
const PlaceholderPrefix = "tmp-"

// IsPlaceholderID сообщает, выдан ли id клиентом (а не сервером).
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Post представляет пост в системе.
type Post struct {
	ID              string    `json:"id" gorm:"type:varchar(64);primary_key"`
	Title           string    `json:"title" gorm:"type:varchar(255);not null"`
	Content         string    `json:"content" gorm:"type:text;not null"`
	AuthorID        string    `json:"authorId" gorm:"type:varchar(255);not null"`
	CommentsEnabled bool      `json:"commentsEnabled" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// Comment представляет комментарий к посту.
// Счетчики голосов и голос текущего пользователя в таблице не хранятся,
// они приходят из агрегата голосов.
type Comment struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primary_key"`
	PostID    string    `json:"postId" gorm:"type:varchar(64);not null;index"`
	ParentID  *string   `json:"parentId,omitempty" gorm:"type:varchar(64);index"`
	UserID    string    `json:"userId" gorm:"type:varchar(255);not null"`
	Content   string    `json:"content" gorm:"type:varchar(2000);not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;default:now()"`

	Upvotes   int      `json:"upvotes" gorm:"-"`
	Downvotes int      `json:"downvotes" gorm:"-"`
	Score     int      `json:"score" gorm:"-"`
	UserVote  VoteType `json:"userVote" gorm:"-"`

	// Pending - комментарий создан оптимистично и еще не подтвержден сервером.
	Pending bool `json:"-" gorm:"-"`
}

// EntityID возвращает первичный ключ.
func (c *Comment) EntityID() string { return c.ID }

// IsReply сообщает, является ли комментарий ответом.
func (c *Comment) IsReply() bool { return c.ParentID != nil }

// Age возвращает возраст комментария относительно now.
func (c *Comment) Age(now time.Time) time.Duration {
	if now.Before(c.CreatedAt) {
		return 0
	}
	return now.Sub(c.CreatedAt)
}

// Clone возвращает поверхностную копию, ParentID копируется отдельно.
func (c *Comment) Clone() *Comment {
	cp := *c
	if c.ParentID != nil {
		p := *c.ParentID
		cp.ParentID = &p
	}
	return &cp
}

// Equal сравнивает комментарии по значению.
func (c *Comment) Equal(o *Comment) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	if (c.ParentID == nil) != (o.ParentID == nil) {
		return false
	}
	if c.ParentID != nil && *c.ParentID != *o.ParentID {
		return false
	}
	return c.ID == o.ID &&
		c.PostID == o.PostID &&
		c.UserID == o.UserID &&
		c.Content == o.Content &&
		c.CreatedAt.Equal(o.CreatedAt) &&
		c.UpdatedAt.Equal(o.UpdatedAt) &&
		c.Upvotes == o.Upvotes &&
		c.Downvotes == o.Downvotes &&
		c.Score == o.Score &&
		c.UserVote == o.UserVote &&
		c.Pending == o.Pending
}

// VoteType - направление голоса. Пустое значение означает отсутствие голоса.
type VoteType string

const (
	VoteNone VoteType = ""
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

// Valid сообщает, допустимо ли значение как запрошенный голос.
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// Vote - голос пользователя за комментарий. Не больше одного на пару (user, comment).
type Vote struct {
	ID        string    `json:"id" gorm:"type:varchar(255);primary_key"`
	UserID    string    `json:"userId" gorm:"type:varchar(255);not null;uniqueIndex:idx_vote_user_comment"`
	CommentID string    `json:"commentId" gorm:"type:varchar(64);not null;uniqueIndex:idx_vote_user_comment"`
	VoteType  VoteType  `json:"voteType" gorm:"type:varchar(8);not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// VoteID строит составной ключ голоса.
func VoteID(userID, commentID string) string {
	return userID + ":" + commentID
}

// Tally - авторитетные счетчики голосов комментария.
type Tally struct {
	CommentID string `json:"commentId"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	Score     int    `json:"score"`
}

// FriendshipStatus - статус отношения между пользователями.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship - отношение между двумя пользователями.
// UserID - инициатор, FriendID - адресат.
type Friendship struct {
	ID        string           `json:"id" gorm:"type:varchar(64);primary_key"`
	UserID    string           `json:"userId" gorm:"type:varchar(255);not null;index"`
	FriendID  string           `json:"friendId" gorm:"type:varchar(255);not null;index"`
	Status    FriendshipStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt time.Time        `json:"createdAt" gorm:"not null;default:now()"`
	UpdatedAt time.Time        `json:"updatedAt" gorm:"not null;default:now()"`
}

func (f *Friendship) EntityID() string { return f.ID }

// PairKey - ключ неупорядоченной пары участников.
func (f *Friendship) PairKey() string {
	return PairKey(f.UserID, f.FriendID)
}

// PairKey строит ключ неупорядоченной пары.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Active - отношение не отклонено.
func (f *Friendship) Active() bool {
	return f.Status != FriendshipRejected
}

// Involves сообщает, участвует ли пользователь в отношении.
func (f *Friendship) Involves(userID string) bool {
	return f.UserID == userID || f.FriendID == userID
}

// Other возвращает второго участника.
func (f *Friendship) Other(userID string) string {
	if f.UserID == userID {
		return f.FriendID
	}
	return f.UserID
}

func (f *Friendship) Clone() *Friendship {
	cp := *f
	return &cp
}

func (f *Friendship) Equal(o *Friendship) bool {
	if f == o {
		return true
	}
	if f == nil || o == nil {
		return false
	}
	return f.ID == o.ID &&
		f.UserID == o.UserID &&
		f.FriendID == o.FriendID &&
		f.Status == o.Status &&
		f.CreatedAt.Equal(o.CreatedAt) &&
		f.UpdatedAt.Equal(o.UpdatedAt)
}

// NotificationType - тип уведомления.
type NotificationType string

const (
	NotificationLike           NotificationType = "like"
	NotificationComment        NotificationType = "comment"
	NotificationReply          NotificationType = "reply"
	NotificationFriendRequest  NotificationType = "friend_request"
	NotificationFriendAccepted NotificationType = "friend_accepted"
)

// Notification - уведомление пользователя. Меняется только флаг Read.
type Notification struct {
	ID           string           `json:"id" gorm:"type:varchar(64);primary_key"`
	UserID       string           `json:"userId" gorm:"type:varchar(255);not null;index"`
	Type         NotificationType `json:"type" gorm:"type:varchar(32);not null"`
	ActorID      string           `json:"actorId" gorm:"type:varchar(255);not null"`
	ResourceID   string           `json:"resourceId" gorm:"type:varchar(64)"`
	ResourceType string           `json:"resourceType" gorm:"type:varchar(32)"`
	Read         bool             `json:"read" gorm:"not null;default:false;index"`
	CreatedAt    time.Time        `json:"createdAt" gorm:"not null;default:now()"`
}

func (n *Notification) EntityID() string { return n.ID }

func (n *Notification) Clone() *Notification {
	cp := *n
	return &cp
}

func (n *Notification) Equal(o *Notification) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	return n.ID == o.ID &&
		n.UserID == o.UserID &&
		n.Type == o.Type &&
		n.ActorID == o.ActorID &&
		n.ResourceID == o.ResourceID &&
		n.ResourceType == o.ResourceType &&
		n.Read == o.Read &&
		n.CreatedAt.Equal(o.CreatedAt)
}
