package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/fetch"
	"github.com/UkralStul/feedsync/internal/realtime"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage/inmemory"
	"github.com/UkralStul/feedsync/internal/store"
)

// flakyClient пропускает запросы в бэкенд, но умеет ронять и задерживать записи.
type flakyClient struct {
	remote.Client
	mu    sync.Mutex
	fail  map[remote.Kind]error
	gate  chan struct{}
	calls []string
}

func (c *flakyClient) failOn(kind remote.Kind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail == nil {
		c.fail = make(map[remote.Kind]error)
	}
	c.fail[kind] = err
}

func (c *flakyClient) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *flakyClient) before(op string, kind remote.Kind) error {
	c.mu.Lock()
	c.calls = append(c.calls, op+":"+string(kind))
	err := c.fail[kind]
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (c *flakyClient) Create(ctx context.Context, kind remote.Kind, payload remote.Record) (remote.Record, error) {
	if err := c.before("create", kind); err != nil {
		return nil, err
	}
	return c.Client.Create(ctx, kind, payload)
}

func (c *flakyClient) Update(ctx context.Context, kind remote.Kind, id string, patch remote.Record) (remote.Record, error) {
	if err := c.before("update", kind); err != nil {
		return nil, err
	}
	return c.Client.Update(ctx, kind, id, patch)
}

func (c *flakyClient) Delete(ctx context.Context, kind remote.Kind, id string) error {
	if err := c.before("delete", kind); err != nil {
		return err
	}
	return c.Client.Delete(ctx, kind, id)
}

type harness struct {
	backend *inmemory.Store
	client  *flakyClient
	store   *store.Store
	loader  *fetch.Loader
	coord   *Coordinator
}

func newHarness(t *testing.T, backend *inmemory.Store, userID string) *harness {
	t.Helper()
	identity := remote.StaticIdentity(userID)
	client := &flakyClient{Client: backend}
	st := store.New(nil)
	gw := remote.NewGateway(client, identity, time.Millisecond)
	loader := fetch.New(st, gw, identity, nil)
	return &harness{
		backend: backend,
		client:  client,
		store:   st,
		loader:  loader,
		coord:   New(st, gw, loader, identity, nil),
	}
}

func newPost(t *testing.T, backend *inmemory.Store) string {
	t.Helper()
	post, err := backend.CreatePost(context.Background(), &domain.Post{Title: "p", AuthorID: "author", CommentsEnabled: true})
	require.NoError(t, err)
	return post.ID
}

func addComment(t *testing.T, backend *inmemory.Store, postID, parentID, userID, content string) string {
	t.Helper()
	payload := remote.Record{"post_id": postID, "user_id": userID, "content": content}
	if parentID != "" {
		payload["parent_id"] = parentID
	}
	rec, err := backend.Create(context.Background(), remote.KindComment, payload)
	require.NoError(t, err)
	return rec.ID()
}

func TestCoordinator_CreateCommentResolvesPlaceholder(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))

	var pendingSeen bool
	sub := store.Subscribe(h.store, store.CommentsOf(postID), func(b *store.Bucket[*domain.Comment]) {
		if b == nil {
			return
		}
		for _, c := range b.Items {
			if c.Pending && domain.IsPlaceholderID(c.ID) {
				pendingSeen = true
			}
		}
	})
	defer sub.Unsubscribe()

	created, err := h.coord.CreateComment(ctx, CreateCommentInput{PostID: postID, Content: "hello"})
	require.NoError(t, err)
	assert.True(t, pendingSeen, "плейсхолдер виден до ответа сервера")

	items := h.store.State().Comments.Items(postID)
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)
	assert.False(t, items[0].Pending)
	assert.False(t, domain.IsPlaceholderID(items[0].ID))
}

func TestCoordinator_CreateCommentRollsBackOnTransportError(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	existing := addComment(t, backend, postID, "", "u2", "already here")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	orig := h.store.State().Comments.Bucket(postID)

	h.client.failOn(remote.KindComment, remote.ErrTransport)
	_, err := h.coord.CreateComment(ctx, CreateCommentInput{PostID: postID, Content: "lost"})
	require.ErrorIs(t, err, remote.ErrTransport)
	assert.True(t, Retryable(err))

	b := h.store.State().Comments.Bucket(postID)
	require.Len(t, b.Items, 1)
	assert.Equal(t, existing, b.Items[0].ID)
	assert.Same(t, orig.Items[0], b.Items[0])
	assert.ErrorIs(t, b.Err, remote.ErrTransport)
	assert.False(t, b.Stale)
}

func TestCoordinator_ValidationFailsBeforePatch(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	before := h.store.State()

	_, err := h.coord.CreateComment(ctx, CreateCommentInput{PostID: postID, Content: "   "})
	var verr *remote.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
	assert.Equal(t, ClassValidation, Classify(err))

	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'a'
	}
	_, err = h.coord.CreateComment(ctx, CreateCommentInput{PostID: postID, Content: string(long)})
	require.ErrorAs(t, err, &verr)

	anon := newHarness(t, backend, "")
	_, err = anon.coord.CreateComment(ctx, CreateCommentInput{PostID: postID, Content: "hi"})
	require.ErrorIs(t, err, remote.ErrUnauthenticated)

	assert.Same(t, before, h.store.State())
	assert.Empty(t, h.client.writes())
}

func TestCoordinator_VoteToggleIsNetZero(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u2", "vote me")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))

	require.NoError(t, h.coord.Vote(ctx, id, domain.VoteUp))
	_, _, c, _ := h.store.State().FindComment(id)
	assert.Equal(t, 1, c.Upvotes)
	assert.Equal(t, 1, c.Score)
	assert.Equal(t, domain.VoteUp, c.UserVote)

	require.NoError(t, h.coord.Vote(ctx, id, domain.VoteUp))
	_, _, c, _ = h.store.State().FindComment(id)
	assert.Equal(t, 0, c.Upvotes)
	assert.Equal(t, 0, c.Downvotes)
	assert.Equal(t, 0, c.Score)
	assert.Equal(t, domain.VoteNone, c.UserVote)

	assert.Equal(t, []string{"create:vote", "delete:vote"}, h.client.writes())
}

func TestCoordinator_VoteRollbackRestoresCounters(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u2", "vote me")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	_, _, orig, _ := h.store.State().FindComment(id)

	h.client.failOn(remote.KindVote, remote.ErrUnauthorized)
	err := h.coord.Vote(ctx, id, domain.VoteDown)
	require.ErrorIs(t, err, remote.ErrUnauthorized)
	assert.Equal(t, ClassUnauthorized, Classify(err))

	_, _, c, ok := h.store.State().FindComment(id)
	require.True(t, ok)
	assert.Same(t, orig, c)
}

func TestCoordinator_SameCommentMutationsSerialize(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u2", "double click")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	h.client.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.coord.Vote(ctx, id, domain.VoteUp))
	}()
	require.Eventually(t, func() bool { return len(h.client.writes()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.coord.CommentBusy(id))

	go func() {
		defer wg.Done()
		assert.NoError(t, h.coord.Vote(ctx, id, domain.VoteDown))
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.client.writes(), 1, "вторая мутация ждет первую")

	h.client.gate <- struct{}{}
	require.Eventually(t, func() bool { return len(h.client.writes()) == 2 }, time.Second, time.Millisecond)
	h.client.gate <- struct{}{}
	wg.Wait()

	assert.Equal(t, []string{"create:vote", "update:vote"}, h.client.writes())
	assert.False(t, h.coord.CommentBusy(id))
	_, _, c, _ := h.store.State().FindComment(id)
	assert.Equal(t, domain.VoteDown, c.UserVote)
	assert.Equal(t, 0, c.Upvotes)
	assert.Equal(t, 1, c.Downvotes)
	assert.Equal(t, -1, c.Score)
}

func TestCoordinator_DeleteRollbackRestoresReplies(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	parent := addComment(t, backend, postID, "", "u1", "parent")
	addComment(t, backend, postID, parent, "u2", "reply")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	require.NoError(t, h.loader.LoadReplies(ctx, parent))

	h.client.failOn(remote.KindComment, remote.ErrConflict)
	err := h.coord.DeleteComment(ctx, parent)
	require.ErrorIs(t, err, remote.ErrConflict)
	assert.False(t, Retryable(err))

	st := h.store.State()
	assert.False(t, st.PendingDelete(parent))
	assert.Len(t, st.Comments.Items(postID), 1)
	assert.Len(t, st.Replies.Items(parent), 1)
}

func TestCoordinator_DeleteConfirmedPurgesReplies(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	parent := addComment(t, backend, postID, "", "u1", "parent")
	addComment(t, backend, postID, parent, "u2", "reply")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	require.NoError(t, h.loader.LoadReplies(ctx, parent))

	require.NoError(t, h.coord.DeleteComment(ctx, parent))

	st := h.store.State()
	assert.True(t, st.Tombstoned(parent))
	assert.False(t, st.PendingDelete(parent))
	assert.Empty(t, st.Comments.Items(postID))
	assert.False(t, st.Replies.Has(parent))
	assert.Empty(t, st.Replies.Items(parent))
}

func TestCoordinator_ConfirmationAfterRemoteDeleteIsDropped(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u1", "original")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	h.client.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.UpdateComment(ctx, id, "edited")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.client.writes()) == 1 }, time.Second, time.Millisecond)

	// удаление пришло из ленты, пока запрос в полете
	h.store.Dispatch(store.CommentRemoved{ID: id})
	close(h.client.gate)
	require.NoError(t, <-done)

	_, _, _, found := h.store.State().FindComment(id)
	assert.False(t, found)
	assert.Empty(t, h.store.State().Comments.Items(postID))
}

func TestCoordinator_RefreshesStaleBucketFirst(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u2", "seen")
	h := newHarness(t, backend, "u1")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))

	h.store.Dispatch(store.SlicesMarkedStale{})
	addComment(t, backend, postID, "", "u3", "missed")

	require.NoError(t, h.coord.Vote(ctx, id, domain.VoteUp))

	b := h.store.State().Comments.Bucket(postID)
	assert.False(t, b.Stale)
	assert.Len(t, b.Items, 2)
}

func TestCoordinator_FriendshipFlow(t *testing.T) {
	backend := inmemory.New()
	ctx := context.Background()
	alice := newHarness(t, backend, "alice")
	bob := newHarness(t, backend, "bob")
	require.NoError(t, alice.loader.LoadFriendships(ctx, "alice"))

	req, err := alice.coord.SendFriendRequest(ctx, "bob")
	require.NoError(t, err)
	items := alice.store.State().Friendships.Items("alice")
	require.Len(t, items, 1)
	assert.Equal(t, req.ID, items[0].ID)
	assert.Equal(t, domain.FriendshipPending, items[0].Status)

	_, err = alice.coord.SendFriendRequest(ctx, "bob")
	require.ErrorIs(t, err, remote.ErrConflict)

	_, err = alice.coord.SendFriendRequest(ctx, "alice")
	var verr *remote.ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, bob.loader.LoadFriendships(ctx, "bob"))
	accepted, err := bob.coord.RespondToFriendRequest(ctx, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipAccepted, accepted.Status)
	assert.Equal(t, []string{"alice"}, store.Friends(bob.store.State(), "bob"))

	// повторный ответ: заявка уже не pending, откат к принятому состоянию
	_, err = bob.coord.RespondToFriendRequest(ctx, req.ID, false)
	require.ErrorIs(t, err, remote.ErrConflict)
	f, ok := store.Relationship(bob.store.State(), "bob", "alice")
	require.True(t, ok)
	assert.Equal(t, domain.FriendshipAccepted, f.Status)

	require.NoError(t, bob.coord.RemoveFriendship(ctx, req.ID))
	assert.Empty(t, bob.store.State().Friendships.Items("bob"))
	assert.True(t, bob.store.State().Tombstoned(req.ID))
}

func TestCoordinator_MarkNotificationsReadReportsPerItem(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	addComment(t, backend, postID, "", "u1", "first")
	addComment(t, backend, postID, "", "u2", "second")
	h := newHarness(t, backend, "author")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadNotifications(ctx, "author"))

	items := h.store.State().Notifications.Items("author")
	require.Len(t, items, 2)
	ok, gone := items[0].ID, items[1].ID
	require.NoError(t, backend.Delete(ctx, remote.KindNotification, gone))

	results := h.coord.MarkNotificationsRead(ctx, []string{ok, gone})
	require.Len(t, results, 2)
	assert.Equal(t, ok, results[0].ID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, gone, results[1].ID)
	assert.ErrorIs(t, results[1].Err, remote.ErrNotFound)

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, gone, failed[0].ID)

	_, n, found := h.store.State().Notifications.Find(ok)
	require.True(t, found)
	assert.True(t, n.Read)
}

func TestCoordinator_DeleteNotification(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	addComment(t, backend, postID, "", "u1", "first")
	h := newHarness(t, backend, "author")
	ctx := context.Background()
	require.NoError(t, h.loader.LoadNotifications(ctx, "author"))
	id := h.store.State().Notifications.Items("author")[0].ID

	require.NoError(t, h.coord.DeleteNotification(ctx, id))
	assert.Empty(t, h.store.State().Notifications.Items("author"))
	assert.Equal(t, 0, store.Select(h.store, store.UnreadCount("author")))

	err := h.coord.DeleteNotification(ctx, id)
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{&remote.ValidationError{Field: "content", Reason: "cannot be empty"}, ClassValidation},
		{remote.ErrUnauthenticated, ClassValidation},
		{errors.Join(errors.New("vote"), remote.ErrTransport), ClassTransport},
		{remote.ErrUnauthorized, ClassUnauthorized},
		{remote.ErrConflict, ClassConflict},
		{remote.ErrNotFound, ClassNotFound},
		{context.Canceled, ClassCanceled},
		{errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

// voteEvent - событие ленты о голосе, поставленном напрямую в бэкенде.
func voteEvent(t *testing.T, backend *inmemory.Store, userID, commentID string, vote domain.VoteType) remote.Change {
	t.Helper()
	rec, err := backend.Create(context.Background(), remote.KindVote, remote.Record{"user_id": userID, "comment_id": commentID, "vote_type": string(vote)})
	require.NoError(t, err)
	return remote.Change{Kind: remote.KindVote, Type: remote.ChangeInsert, Record: rec}
}

func TestCoordinator_VoteEventDuringEditIsRefreshedAfterConfirm(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u1", "draft")
	h := newHarness(t, backend, "u1")
	rec := realtime.New(h.store, h.loader, nil, realtime.WithTracker(h.coord))
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	h.client.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.UpdateComment(ctx, id, "edited")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.client.writes()) == 1 }, time.Second, time.Millisecond)

	// голос другого пользователя приходит, пока правка ждет ответа
	rec.Apply(ctx, voteEvent(t, backend, "u2", id, domain.VoteUp))
	_, _, c, _ := h.store.State().FindComment(id)
	assert.Equal(t, 0, c.Upvotes)

	h.client.gate <- struct{}{}
	require.NoError(t, <-done)

	_, _, c, ok := h.store.State().FindComment(id)
	require.True(t, ok)
	assert.Equal(t, "edited", c.Content)
	assert.Equal(t, 1, c.Upvotes)
	assert.Equal(t, 1, c.Score)
	assert.Equal(t, domain.VoteNone, c.UserVote)
}

func TestCoordinator_VoteEventDuringFailedVoteIsRefreshedAfterRollback(t *testing.T) {
	backend := inmemory.New()
	postID := newPost(t, backend)
	id := addComment(t, backend, postID, "", "u3", "hot take")
	h := newHarness(t, backend, "u1")
	rec := realtime.New(h.store, h.loader, nil, realtime.WithTracker(h.coord))
	ctx := context.Background()
	require.NoError(t, h.loader.LoadComments(ctx, postID))
	h.client.failOn(remote.KindVote, remote.ErrTransport)
	h.client.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.coord.Vote(ctx, id, domain.VoteUp) }()
	require.Eventually(t, func() bool { return len(h.client.writes()) == 1 }, time.Second, time.Millisecond)

	rec.Apply(ctx, voteEvent(t, backend, "u2", id, domain.VoteDown))

	h.client.gate <- struct{}{}
	require.ErrorIs(t, <-done, remote.ErrTransport)

	_, _, c, ok := h.store.State().FindComment(id)
	require.True(t, ok)
	assert.Equal(t, 0, c.Upvotes)
	assert.Equal(t, 1, c.Downvotes)
	assert.Equal(t, -1, c.Score)
	assert.Equal(t, domain.VoteNone, c.UserVote)
}

func TestCoordinator_DeferTallyOnlyWhileBusy(t *testing.T) {
	backend := inmemory.New()
	h := newHarness(t, backend, "u1")
	assert.False(t, h.coord.DeferTally("c1"))

	release, err := h.coord.queue.acquire(context.Background(), commentKey("c1"))
	require.NoError(t, err)
	assert.True(t, h.coord.DeferTally("c1"))
	release()
	assert.False(t, h.coord.DeferTally("c1"))
}
