package inmemory

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []remote.Change
}

func (r *recorder) Publish(ch remote.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, ch := range r.changes {
		out = append(out, string(ch.Kind)+":"+string(ch.Type))
	}
	return out
}

// newTestStore создает хранилище и один пост для тестов
func newTestStore(t *testing.T) (*Store, *domain.Post, *recorder) {
	rec := &recorder{}
	store := New(WithPublisher(rec))
	post, err := store.CreatePost(context.Background(), &domain.Post{
		Title:           "Test Post",
		Content:         "Content",
		AuthorID:        "user-1",
		CommentsEnabled: true,
	})
	require.NoError(t, err)
	rec.changes = nil
	return store, post, rec
}

func createComment(t *testing.T, store *Store, postID, parentID, userID, content string) remote.Record {
	t.Helper()
	payload := remote.Record{"post_id": postID, "user_id": userID, "content": content}
	if parentID != "" {
		payload["parent_id"] = parentID
	}
	rec, err := store.Create(context.Background(), remote.KindComment, payload)
	require.NoError(t, err)
	return rec
}

func TestStore_CreateAndGetPost(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()

	retrieved, err := store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.Title, retrieved.Title)

	_, err = store.GetPostByID(ctx, "non-existent-id")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestStore_CreateComment_Success(t *testing.T) {
	store, post, rec := newTestStore(t)
	ctx := context.Background()

	created := createComment(t, store, post.ID, "", "user-2", "First comment!")
	assert.NotEmpty(t, created.ID())

	comments, err := store.Fetch(ctx, remote.KindComment, remote.Filter{"post_id": post.ID, "parent_id": ""}, remote.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "First comment!", comments[0]["content"])

	// автор поста получает уведомление
	assert.Equal(t, []string{"comment:insert", "notification:insert"}, rec.kinds())
}

func TestStore_CreateComment_CommentsDisabled(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()

	// Отключаем комментарии
	_, err := store.ToggleComments(ctx, post.ID, false)
	require.NoError(t, err)

	// Пытаемся создать комментарий
	_, err = store.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "user-2", "content": "This should fail"})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrConflict)
	assert.Contains(t, err.Error(), "comments are disabled for this post")
}

func TestStore_CreateComment_TooLong(t *testing.T) {
	store, post, _ := newTestStore(t)

	longContent := strings.Repeat("a", 2001)
	_, err := store.Create(context.Background(), remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "user-2", "content": longContent})
	var verr *remote.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "validation failed: content is too long", err.Error())
}

func TestStore_CreateComment_EmptyContent(t *testing.T) {
	store, post, _ := newTestStore(t)

	_, err := store.Create(context.Background(), remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "user-2", "content": "  "})
	require.Error(t, err)
	assert.Equal(t, "validation failed: content cannot be empty", err.Error())
}

func TestStore_CreateNestedComment(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()

	parent := createComment(t, store, post.ID, "", "user-2", "Parent")
	child := createComment(t, store, post.ID, parent.ID(), "user-3", "Child")

	// Проверяем, что дочерний коммент не в корне поста
	roots, err := store.Fetch(ctx, remote.KindComment, remote.Filter{"post_id": post.ID, "parent_id": ""}, remote.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, parent.ID(), roots[0].ID())

	// Проверяем, что дочерний коммент находится у родителя
	children, err := store.Fetch(ctx, remote.KindComment, remote.Filter{"parent_id": parent.ID()}, remote.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID(), children[0].ID())

	_, err = store.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "parent_id": "missing", "user_id": "user-3", "content": "x"})
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestStore_Pagination(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()

	// Создаем 5 комментариев
	for i := 0; i < 5; i++ {
		createComment(t, store, post.ID, "", "user-1", "some comment")
	}
	filter := remote.Filter{"post_id": post.ID, "parent_id": ""}

	// Запрашиваем первую страницу из 2-х комментариев
	firstPage, err := store.Fetch(ctx, remote.KindComment, filter, remote.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, firstPage, 2)

	// Запрашиваем вторую страницу из 3-х, используя курсор
	cursor := firstPage[1].ID() // курсор - это ID последнего элемента на предыдущей странице
	secondPage, err := store.Fetch(ctx, remote.KindComment, filter, remote.Page{Limit: 3, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, secondPage, 3)

	// Убеждаемся, что ID не пересекаются
	assert.NotEqual(t, firstPage[0].ID(), secondPage[0].ID())
	assert.NotEqual(t, firstPage[1].ID(), secondPage[0].ID())
}

func TestStore_VotesMaintainTally(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()
	c := createComment(t, store, post.ID, "", "author", "vote me")

	_, err := store.Create(ctx, remote.KindVote, remote.Record{"user_id": "u1", "comment_id": c.ID(), "vote_type": "up"})
	require.NoError(t, err)
	_, err = store.Create(ctx, remote.KindVote, remote.Record{"user_id": "u2", "comment_id": c.ID(), "vote_type": "down"})
	require.NoError(t, err)

	// повторный голос - конфликт
	_, err = store.Create(ctx, remote.KindVote, remote.Record{"user_id": "u1", "comment_id": c.ID(), "vote_type": "down"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	_, err = store.Update(ctx, remote.KindVote, domain.VoteID("u2", c.ID()), remote.Record{"vote_type": "up"})
	require.NoError(t, err)

	tallies, err := store.Fetch(ctx, remote.KindVoteTally, remote.Filter{"comment_id": c.ID(), "viewer_id": "u1"}, remote.Page{})
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	tally, viewerVote, err := remote.DecodeTally(tallies[0])
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Upvotes)
	assert.Equal(t, 0, tally.Downvotes)
	assert.Equal(t, 2, tally.Score)
	assert.Equal(t, domain.VoteUp, viewerVote)

	require.NoError(t, store.Delete(ctx, remote.KindVote, domain.VoteID("u1", c.ID())))
	tallies, err = store.Fetch(ctx, remote.KindVoteTally, remote.Filter{"comment_id": c.ID(), "viewer_id": "u1"}, remote.Page{})
	require.NoError(t, err)
	tally, viewerVote, err = remote.DecodeTally(tallies[0])
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Score)
	assert.Equal(t, domain.VoteNone, viewerVote)
}

func TestStore_DeleteCommentCascadesToReplies(t *testing.T) {
	store, post, rec := newTestStore(t)
	ctx := context.Background()
	parent := createComment(t, store, post.ID, "", "user-1", "parent")
	child := createComment(t, store, post.ID, parent.ID(), "user-1", "child")
	rec.changes = nil

	require.NoError(t, store.Delete(ctx, remote.KindComment, parent.ID()))

	recs, err := store.Fetch(ctx, remote.KindComment, remote.Filter{"id": parent.ID() + "," + child.ID()}, remote.Page{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, []string{"comment:delete", "comment:delete"}, rec.kinds())
	assert.Equal(t, parent.ID(), rec.changes[0].Record.ID())

	assert.ErrorIs(t, store.Delete(ctx, remote.KindComment, parent.ID()), remote.ErrNotFound)
}

func TestStore_FriendshipLifecycle(t *testing.T) {
	store, _, rec := newTestStore(t)
	ctx := context.Background()

	f, err := store.Create(ctx, remote.KindFriendship, remote.Record{"user_id": "alice", "friend_id": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "pending", f["status"])

	_, err = store.Create(ctx, remote.KindFriendship, remote.Record{"user_id": "bob", "friend_id": "alice"})
	assert.ErrorIs(t, err, remote.ErrConflict, "одна активная связь на пару")

	_, err = store.Create(ctx, remote.KindFriendship, remote.Record{"user_id": "alice", "friend_id": "alice"})
	var verr *remote.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = store.Update(ctx, remote.KindFriendship, f.ID(), remote.Record{"status": "accepted", "actor_id": "alice"})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)

	accepted, err := store.Update(ctx, remote.KindFriendship, f.ID(), remote.Record{"status": "accepted", "actor_id": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", accepted["status"])

	_, err = store.Update(ctx, remote.KindFriendship, f.ID(), remote.Record{"status": "rejected"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	assert.Equal(t, []string{
		"friendship:insert", "notification:insert",
		"friendship:update", "notification:insert",
	}, rec.kinds())

	list, err := store.Fetch(ctx, remote.KindFriendship, remote.Filter{"participant_id": "bob"}, remote.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_NotificationsReadFilter(t *testing.T) {
	store, post, _ := newTestStore(t)
	ctx := context.Background()
	createComment(t, store, post.ID, "", "user-2", "one")
	createComment(t, store, post.ID, "", "user-3", "two")

	unread, err := store.Fetch(ctx, remote.KindNotification, remote.Filter{"user_id": "user-1", "read": "false"}, remote.Page{})
	require.NoError(t, err)
	require.Len(t, unread, 2)

	_, err = store.Update(ctx, remote.KindNotification, unread[0].ID(), remote.Record{"read": true})
	require.NoError(t, err)

	unread, err = store.Fetch(ctx, remote.KindNotification, remote.Filter{"user_id": "user-1", "read": "false"}, remote.Page{})
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}
