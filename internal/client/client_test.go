package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/optimistic"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage/inmemory"
	"github.com/UkralStul/feedsync/internal/store"
)

func startClient(t *testing.T, ctx context.Context, backend *inmemory.Store, hub *feed.Hub, userID string) *Client {
	t.Helper()
	c, err := New(Options{
		Remote:   backend,
		Feed:     hub,
		Identity: remote.StaticIdentity(userID),
	})
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()
	<-c.Ready()
	return c
}

func TestNew_RequiresRemote(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestClient_TwoUsersConverge(t *testing.T) {
	hub := feed.NewHub(nil)
	backend := inmemory.New(inmemory.WithPublisher(hub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "alice", CommentsEnabled: true})
	require.NoError(t, err)

	alice := startClient(t, ctx, backend, hub, "alice")
	bob := startClient(t, ctx, backend, hub, "bob")
	require.NoError(t, alice.Loader.LoadComments(ctx, post.ID))
	require.NoError(t, bob.Loader.LoadComments(ctx, post.ID))

	created, err := alice.Coordinator.CreateComment(ctx, optimistic.CreateCommentInput{PostID: post.ID, Content: "hi bob"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		items := bob.Store.State().Comments.Items(post.ID)
		return len(items) == 1 && items[0].ID == created.ID
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, alice.Store.State().Comments.Items(post.ID), 1)

	require.NoError(t, bob.Coordinator.Vote(ctx, created.ID, domain.VoteUp))
	require.Eventually(t, func() bool {
		_, _, c, ok := alice.Store.State().FindComment(created.ID)
		return ok && c.Upvotes == 1 && c.Score == 1 && c.UserVote == domain.VoteNone
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.Coordinator.DeleteComment(ctx, created.ID))
	require.Eventually(t, func() bool {
		return len(bob.Store.State().Comments.Items(post.ID)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClient_SyncUnreadReloadsOnDivergence(t *testing.T) {
	backend := inmemory.New()
	ctx := context.Background()
	c, err := New(Options{Remote: backend, Identity: remote.StaticIdentity("alice")})
	require.NoError(t, err)

	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "alice", CommentsEnabled: true})
	require.NoError(t, err)
	require.NoError(t, c.Loader.LoadNotifications(ctx, "alice"))
	assert.Equal(t, 0, store.Select(c.Store, store.UnreadCount("alice")))

	_, err = backend.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "bob", "content": "ping"})
	require.NoError(t, err)

	c.syncUnread(ctx, "alice", 1)
	assert.Equal(t, 1, store.Select(c.Store, store.UnreadCount("alice")))
}
