package store

import (
	"time"

	"github.com/UkralStul/feedsync/internal/domain"
)

// Action - типизированная мутация состояния.
type Action interface {
	ActionName() string
}

// === Загрузка ===

// FetchStarted переводит ключ в состояние loading.
type FetchStarted struct {
	Slice SliceName
	Key   string
}

// FetchFailed переводит ключ в состояние failure.
type FetchFailed struct {
	Slice SliceName
	Key   string
	Err   error
}

// CommentsLoaded заменяет комментарии верхнего уровня поста.
type CommentsLoaded struct {
	PostID   string
	Comments []*domain.Comment
}

// RepliesLoaded заменяет ответы на комментарий.
type RepliesLoaded struct {
	ParentID string
	Replies  []*domain.Comment
}

// FriendshipsLoaded заменяет отношения пользователя.
type FriendshipsLoaded struct {
	UserID      string
	Friendships []*domain.Friendship
}

// NotificationsLoaded заменяет уведомления пользователя.
type NotificationsLoaded struct {
	UserID        string
	Notifications []*domain.Notification
}

// SlicesMarkedStale помечает все ключи перечисленных срезов устаревшими.
// Пустой список означает все срезы.
type SlicesMarkedStale struct {
	Slices []SliceName
}

// === Комментарии ===

// CommentUpserted вставляет комментарий или сливает поля существующего.
// У существующего комментария счетчики и голос пользователя сохраняются:
// их источник - VoteApplied и TallyRefreshed.
type CommentUpserted struct {
	Comment *domain.Comment
}

// CommentPatched сливает только переданные поля.
type CommentPatched struct {
	ID        string
	Content   *string
	UpdatedAt time.Time
}

// CommentRemoved удаляет комментарий и все ключи его ответов.
// Optimistic=true - удаление ждет подтверждения сервера.
type CommentRemoved struct {
	ID         string
	Optimistic bool
}

// PlaceholderResolved заменяет оптимистичный комментарий серверным.
type PlaceholderResolved struct {
	PlaceholderID string
	Comment       *domain.Comment
}

// VoteApplied оптимистично меняет голос текущего пользователя.
type VoteApplied struct {
	CommentID string
	Requested domain.VoteType
}

// TallyRefreshed заменяет локальные счетчики авторитетными.
// UserVote == nil оставляет голос пользователя как есть.
type TallyRefreshed struct {
	CommentID string
	Upvotes   int
	Downvotes int
	UserVote  *domain.VoteType
}

// === Дружба ===

// FriendshipUpserted вставляет или заменяет отношение.
type FriendshipUpserted struct {
	Friendship *domain.Friendship
}

// FriendshipReplaced заменяет оптимистичное отношение серверным.
type FriendshipReplaced struct {
	OldID      string
	Friendship *domain.Friendship
}

// FriendshipRemoved удаляет отношение.
type FriendshipRemoved struct {
	ID         string
	Optimistic bool
}

// === Уведомления ===

// NotificationUpserted вставляет уведомление.
type NotificationUpserted struct {
	Notification *domain.Notification
}

// NotificationRead меняет флаг прочтения.
type NotificationRead struct {
	ID   string
	Read bool
}

// NotificationRemoved удаляет уведомление.
type NotificationRemoved struct {
	ID         string
	Optimistic bool
}

// === Откат ===

// SnapshotRestored возвращает ключам снимка Before их состояние до мутации.
// Если ключ с момента снимка After изменил кто-то еще, он помечается устаревшим.
// Reverted снимает пометку ожидающего удаления.
type SnapshotRestored struct {
	Before   Snapshot
	After    Snapshot
	Err      error
	Reverted []string
}

func (FetchStarted) ActionName() string         { return "fetch_started" }
func (FetchFailed) ActionName() string          { return "fetch_failed" }
func (CommentsLoaded) ActionName() string       { return "comments_loaded" }
func (RepliesLoaded) ActionName() string        { return "replies_loaded" }
func (FriendshipsLoaded) ActionName() string    { return "friendships_loaded" }
func (NotificationsLoaded) ActionName() string  { return "notifications_loaded" }
func (SlicesMarkedStale) ActionName() string    { return "slices_marked_stale" }
func (CommentUpserted) ActionName() string      { return "comment_upserted" }
func (CommentPatched) ActionName() string       { return "comment_patched" }
func (CommentRemoved) ActionName() string       { return "comment_removed" }
func (PlaceholderResolved) ActionName() string  { return "placeholder_resolved" }
func (VoteApplied) ActionName() string          { return "vote_applied" }
func (TallyRefreshed) ActionName() string       { return "tally_refreshed" }
func (FriendshipUpserted) ActionName() string   { return "friendship_upserted" }
func (FriendshipReplaced) ActionName() string   { return "friendship_replaced" }
func (FriendshipRemoved) ActionName() string    { return "friendship_removed" }
func (NotificationUpserted) ActionName() string { return "notification_upserted" }
func (NotificationRead) ActionName() string     { return "notification_read" }
func (NotificationRemoved) ActionName() string  { return "notification_removed" }
func (SnapshotRestored) ActionName() string     { return "snapshot_restored" }
