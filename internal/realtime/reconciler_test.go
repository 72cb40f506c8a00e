package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/fetch"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage/inmemory"
	"github.com/UkralStul/feedsync/internal/store"
)

type busySet map[string]bool

func (b busySet) DeferTally(id string) bool { return b[id] }

type fixture struct {
	backend *inmemory.Store
	store   *store.Store
	loader  *fetch.Loader
	rec     *Reconciler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, inmemory.New(), opts...)
}

func newFixtureWith(t *testing.T, backend *inmemory.Store, opts ...Option) *fixture {
	t.Helper()
	identity := remote.StaticIdentity("u1")
	st := store.New(nil)
	loader := fetch.New(st, remote.NewGateway(backend, identity, time.Millisecond), identity, nil)
	return &fixture{
		backend: backend,
		store:   st,
		loader:  loader,
		rec:     New(st, loader, nil, opts...),
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func comment(id, postID, userID, content string, at time.Time) *domain.Comment {
	return &domain.Comment{ID: id, PostID: postID, UserID: userID, Content: content, CreatedAt: at, UpdatedAt: at}
}

func insert(kind remote.Kind, rec remote.Record) remote.Change {
	return remote.Change{Kind: kind, Type: remote.ChangeInsert, Record: rec}
}

func TestReconciler_CorrelatesPlaceholderWithServerComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1"})

	placeholder := comment("tmp-1", "p1", "u1", "hello", base)
	placeholder.Pending = true
	f.store.Dispatch(store.CommentUpserted{Comment: placeholder})

	event := insert(remote.KindComment, remote.EncodeComment(comment("srv-42", "p1", "u1", "hello", base.Add(2*time.Second))))
	f.rec.Apply(ctx, event)

	items := f.store.State().Comments.Items("p1")
	require.Len(t, items, 1)
	assert.Equal(t, "srv-42", items[0].ID)
	assert.False(t, items[0].Pending)

	// повторная доставка того же события ничего не меняет
	st := f.store.State()
	f.rec.Apply(ctx, event)
	assert.Same(t, st, f.store.State())
}

func TestReconciler_NoCorrelationOutsideWindowOrForOtherAuthor(t *testing.T) {
	f := newFixture(t, WithCorrelationWindow(10*time.Second))
	ctx := context.Background()
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1"})

	placeholder := comment("tmp-1", "p1", "u1", "hello", base)
	placeholder.Pending = true
	f.store.Dispatch(store.CommentUpserted{Comment: placeholder})

	f.rec.Apply(ctx, insert(remote.KindComment, remote.EncodeComment(comment("srv-1", "p1", "u1", "hello", base.Add(time.Minute)))))
	f.rec.Apply(ctx, insert(remote.KindComment, remote.EncodeComment(comment("srv-2", "p1", "u2", "hello", base))))

	items := f.store.State().Comments.Items("p1")
	require.Len(t, items, 3)
	assert.Equal(t, "tmp-1", items[0].ID)
	assert.True(t, items[0].Pending)
}

func TestReconciler_InsertForUnloadedKeyIsIgnored(t *testing.T) {
	f := newFixture(t)
	before := f.store.State()
	f.rec.Apply(context.Background(), insert(remote.KindComment, remote.EncodeComment(comment("c1", "p9", "u2", "x", base))))
	assert.Same(t, before, f.store.State())
}

func TestReconciler_InvalidRecordsLeaveStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1", Comments: []*domain.Comment{comment("c1", "p1", "u2", "x", base)}})
	f.store.Dispatch(store.FriendshipsLoaded{UserID: "u1"})
	before := f.store.State()

	events := []remote.Change{
		insert(remote.KindComment, remote.Record{"post_id": "p1", "user_id": "u2", "content": "no id"}),
		insert(remote.KindComment, remote.Record{"id": "c2", "post_id": "p1", "user_id": "u2", "user_vote": "sideways"}),
		{Kind: remote.KindComment, Type: remote.ChangeDelete, Record: remote.Record{}},
		insert(remote.KindVote, remote.Record{"user_id": "u2", "vote_type": "up"}),
		insert(remote.KindVoteTally, remote.Record{"comment_id": "c1", "user_vote": "sideways"}),
		insert(remote.KindFriendship, remote.Record{"id": "f1", "user_id": "u1", "friend_id": "u2", "status": "maybe"}),
		insert(remote.KindNotification, remote.Record{"user_id": "u1", "type": "comment"}),
	}
	for _, ev := range events {
		f.rec.Apply(ctx, ev)
		assert.Same(t, before, f.store.State(), "%s %s", ev.Kind, ev.Type)
	}
}

func TestReconciler_EventsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1"})
	f.store.Dispatch(store.FriendshipsLoaded{UserID: "u1"})
	f.store.Dispatch(store.NotificationsLoaded{UserID: "u1"})

	events := []remote.Change{
		insert(remote.KindComment, remote.EncodeComment(comment("c1", "p1", "u2", "hi", base))),
		{Kind: remote.KindComment, Type: remote.ChangeUpdate, Record: remote.EncodeComment(comment("c1", "p1", "u2", "edited", base))},
		insert(remote.KindFriendship, remote.EncodeFriendship(&domain.Friendship{
			ID: "f1", UserID: "u2", FriendID: "u1", Status: domain.FriendshipPending, CreatedAt: base, UpdatedAt: base,
		})),
		insert(remote.KindNotification, remote.EncodeNotification(&domain.Notification{
			ID: "n1", UserID: "u1", Type: domain.NotificationFriendRequest, ActorID: "u2", CreatedAt: base,
		})),
		{Kind: remote.KindNotification, Type: remote.ChangeDelete, Record: remote.Record{"id": "n1"}},
	}
	for _, ev := range events {
		f.rec.Apply(ctx, ev)
		once := f.store.State()
		f.rec.Apply(ctx, ev)
		assert.Same(t, once, f.store.State(), "%s %s", ev.Kind, ev.Type)
	}

	st := f.store.State()
	require.Len(t, st.Comments.Items("p1"), 1)
	assert.Equal(t, "edited", st.Comments.Items("p1")[0].Content)
	assert.Len(t, st.Friendships.Items("u1"), 1)
	assert.Empty(t, st.Notifications.Items("u1"))
}

func TestReconciler_UpdateAfterPendingDeleteIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1", Comments: []*domain.Comment{comment("Y", "p1", "u1", "v1", base)}})
	f.store.Dispatch(store.CommentRemoved{ID: "Y", Optimistic: true})

	f.rec.Apply(ctx, remote.Change{
		Kind:   remote.KindComment,
		Type:   remote.ChangeUpdate,
		Record: remote.EncodeComment(comment("Y", "p1", "u1", "v2", base)),
	})
	f.rec.Apply(ctx, insert(remote.KindComment, remote.EncodeComment(comment("Y", "p1", "u1", "v2", base))))

	_, _, _, found := f.store.State().FindComment("Y")
	assert.False(t, found)
	assert.Empty(t, f.store.State().Comments.Items("p1"))
}

func TestReconciler_DeletePurgesReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := "c1"
	reply := comment("r1", "p1", "u2", "reply", base)
	reply.ParentID = &parent
	f.store.Dispatch(store.CommentsLoaded{PostID: "p1", Comments: []*domain.Comment{comment("c1", "p1", "u1", "root", base)}})
	f.store.Dispatch(store.RepliesLoaded{ParentID: "c1", Replies: []*domain.Comment{reply}})

	f.rec.Apply(ctx, remote.Change{Kind: remote.KindComment, Type: remote.ChangeDelete, Record: remote.Record{"id": "c1"}})

	st := f.store.State()
	assert.Empty(t, st.Comments.Items("p1"))
	assert.False(t, st.Replies.Has("c1"))
	assert.Empty(t, st.Replies.Items("c1"))

	// поздняя вставка ответа удаленного родителя не создает ключ заново
	f.rec.Apply(ctx, insert(remote.KindComment, remote.EncodeComment(reply)))
	assert.False(t, f.store.State().Replies.Has("c1"))
}

func TestReconciler_VoteEventRefetchesTally(t *testing.T) {
	backend := inmemory.New()
	ctx := context.Background()
	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "author", CommentsEnabled: true})
	require.NoError(t, err)
	rec, err := backend.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "u2", "content": "x"})
	require.NoError(t, err)
	id := rec.ID()

	busy := busySet{}
	f := newFixtureWith(t, backend, WithTracker(busy))
	require.NoError(t, f.loader.LoadComments(ctx, post.ID))

	vote, err := backend.Create(ctx, remote.KindVote, remote.Record{"user_id": "u3", "comment_id": id, "vote_type": "down"})
	require.NoError(t, err)

	busy[id] = true
	f.rec.Apply(ctx, insert(remote.KindVote, vote))
	_, _, c, _ := f.store.State().FindComment(id)
	assert.Equal(t, 0, c.Downvotes, "перечитывание отложено, пока идет локальная мутация")

	busy[id] = false
	f.rec.Apply(ctx, insert(remote.KindVote, vote))
	_, _, c, _ = f.store.State().FindComment(id)
	assert.Equal(t, 1, c.Downvotes)
	assert.Equal(t, -1, c.Score)
	assert.Equal(t, domain.VoteNone, c.UserVote)
}

func TestReconciler_RunAppliesFeedAndRecoversAfterDisconnect(t *testing.T) {
	hub := feed.NewHub(nil)
	backend := inmemory.New(inmemory.WithPublisher(hub))
	f := newFixtureWith(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx, hub) }()
	<-f.rec.Ready()

	post, err := backend.CreatePost(ctx, &domain.Post{Title: "p", AuthorID: "author", CommentsEnabled: true})
	require.NoError(t, err)
	require.NoError(t, f.loader.LoadComments(ctx, post.ID))

	_, err = backend.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "u2", "content": "live"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(f.store.State().Comments.Items(post.ID)) == 1
	}, time.Second, 5*time.Millisecond)

	hub.SetStatus(remote.FeedDisconnected)
	require.Eventually(t, func() bool {
		return f.store.State().Stale(store.Ref{Slice: store.SliceComments, Key: post.ID})
	}, time.Second, 5*time.Millisecond)

	// событие теряется, пока лента отключена
	_, err = backend.Create(ctx, remote.KindComment, remote.Record{"post_id": post.ID, "user_id": "u3", "content": "missed"})
	require.NoError(t, err)

	hub.SetStatus(remote.FeedConnected)
	require.Eventually(t, func() bool {
		st := f.store.State()
		return !st.Stale(store.Ref{Slice: store.SliceComments, Key: post.ID}) &&
			len(st.Comments.Items(post.ID)) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
