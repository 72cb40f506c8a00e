package httpapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/feedsync/internal/client"
	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/feed/ws"
	"github.com/UkralStul/feedsync/internal/httpapi"
	"github.com/UkralStul/feedsync/internal/optimistic"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/server"
	"github.com/UkralStul/feedsync/internal/storage/inmemory"
)

func newBackend(t *testing.T) (*httptest.Server, *inmemory.Store, *feed.Hub) {
	t.Helper()
	hub := feed.NewHub(nil)
	backend := inmemory.New(inmemory.WithPublisher(hub))
	srv := httptest.NewServer(server.New(backend, hub, ws.DefaultSettings(), nil).Router())
	t.Cleanup(srv.Close)
	return srv, backend, hub
}

func TestClient_RoundTrip(t *testing.T) {
	srv, backend, _ := newBackend(t)
	ctx := context.Background()
	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "alice", CommentsEnabled: true})
	require.NoError(t, err)

	c := httpapi.New(srv.URL, remote.StaticIdentity("bob"), time.Second)
	rec, err := c.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "content": "hello"})
	require.NoError(t, err)
	comment, err := remote.DecodeComment(rec)
	require.NoError(t, err)
	assert.Equal(t, "bob", comment.UserID)

	recs, err := c.Fetch(ctx, remote.KindComment, remote.Filter{"post_id": post.ID, "parent_id": ""}, remote.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, comment.ID, recs[0].ID())

	rec, err = c.Update(ctx, remote.KindComment, comment.ID, remote.Record{"content": "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", remote.String(rec, "content"))

	require.NoError(t, c.Delete(ctx, remote.KindComment, comment.ID))
	recs, err = c.Fetch(ctx, remote.KindComment, remote.Filter{"post_id": post.ID, "parent_id": ""}, remote.Page{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	srv, backend, _ := newBackend(t)
	ctx := context.Background()
	closed, err := backend.CreatePost(ctx, &domain.Post{Title: "closed", AuthorID: "alice"})
	require.NoError(t, err)
	c := httpapi.New(srv.URL, remote.StaticIdentity("bob"), time.Second)

	_, err = c.Update(ctx, remote.KindComment, "missing", remote.Record{"content": "x"})
	assert.ErrorIs(t, err, remote.ErrNotFound)

	_, err = c.Create(ctx, remote.KindComment, remote.Record{"post_id": closed.ID, "content": "x"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	_, err = c.Create(ctx, remote.KindFriendship, remote.Record{"friend_id": "bob"})
	var verr *remote.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "friendid", verr.Field)
	assert.Equal(t, "must differ from userid", verr.Reason)

	rec, err := c.Create(ctx, remote.KindFriendship, remote.Record{"friend_id": "carol"})
	require.NoError(t, err)
	_, err = c.Update(ctx, remote.KindFriendship, rec.ID(), remote.Record{"status": "accepted"})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestClient_TransportFailures(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()

	c := httpapi.New(broken.URL, nil, time.Second)
	_, err := c.Fetch(context.Background(), remote.KindPost, nil, remote.Page{})
	assert.ErrorIs(t, err, remote.ErrTransport)
	assert.True(t, httpapi.IsTransport(err))

	broken.Close()
	_, err = c.Fetch(context.Background(), remote.KindPost, nil, remote.Page{})
	assert.ErrorIs(t, err, remote.ErrTransport)
}

// Два клиента синхронизируются через REST и websocket-ленту.
func TestClient_SyncsOverWebsocket(t *testing.T) {
	srv, backend, hub := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "alice", CommentsEnabled: true})
	require.NoError(t, err)

	start := func(userID string) *client.Client {
		settings := ws.DefaultSettings()
		settings.ReconnectTimeout = 50 * time.Millisecond
		wsFeed := ws.NewClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", settings, nil)
		go func() { _ = wsFeed.Run(ctx) }()

		// сервер мог еще не подписать соединение на hub, публикуем событие до первой доставки
		var delivered atomic.Bool
		sub, err := wsFeed.Subscribe(remote.KindPost, func(remote.ChangeType, remote.Record) { delivered.Store(true) })
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			hub.Publish(remote.Change{Kind: remote.KindPost, Type: remote.ChangeUpdate, Record: remote.Record{"id": post.ID}})
			return delivered.Load()
		}, 2*time.Second, 20*time.Millisecond)
		wsFeed.Unsubscribe(sub)

		identity := remote.StaticIdentity(userID)
		c, err := client.New(client.Options{
			Remote:   httpapi.New(srv.URL, identity, time.Second),
			Feed:     wsFeed,
			Identity: identity,
		})
		require.NoError(t, err)
		go func() { _ = c.Run(ctx) }()
		<-c.Ready()
		require.NoError(t, c.Loader.LoadComments(ctx, post.ID))
		return c
	}
	alice := start("alice")
	bob := start("bob")

	created, err := alice.Coordinator.CreateComment(ctx, optimistic.CreateCommentInput{PostID: post.ID, Content: "hi bob"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, _, c, ok := bob.Store.State().FindComment(created.ID)
		return ok && c.Content == "hi bob"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.Coordinator.Vote(ctx, created.ID, domain.VoteUp))
	require.Eventually(t, func() bool {
		_, _, c, ok := alice.Store.State().FindComment(created.ID)
		return ok && c.Upvotes == 1
	}, 2*time.Second, 10*time.Millisecond)
}
