package inmemory

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage"
	"github.com/UkralStul/feedsync/internal/votes"
)

// Store реализует интерфейс Backend в памяти.
type Store struct {
	mu               sync.RWMutex
	posts            map[string]*domain.Post
	comments         map[string]*domain.Comment
	commentsByPost   map[string][]string // map[postID][]commentID (только корневые)
	commentsByParent map[string][]string // map[parentID][]commentID
	votes            map[string]*domain.Vote // map[VoteID]
	tallies          map[string]votes.Counts // map[commentID]
	friendships      map[string]*domain.Friendship
	notifications    map[string]*domain.Notification

	// pubMu упорядочивает записи вместе с публикацией событий:
	// события уходят в том же порядке, в котором применены изменения.
	pubMu     sync.Mutex
	publisher remote.Publisher

	entropy io.Reader
	now     func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithPublisher задает получателя событий ленты изменений.
// Publisher не должен синхронно вызывать методы записи Store.
func WithPublisher(p remote.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New создает новый экземпляр in-memory хранилища.
func New(opts ...Option) *Store {
	s := &Store{
		posts:            make(map[string]*domain.Post),
		comments:         make(map[string]*domain.Comment),
		commentsByPost:   make(map[string][]string),
		commentsByParent: make(map[string][]string),
		votes:            make(map[string]*domain.Vote),
		tallies:          make(map[string]votes.Counts),
		friendships:      make(map[string]*domain.Friendship),
		notifications:    make(map[string]*domain.Notification),
		entropy:          ulid.Monotonic(rand.Reader, 0),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Backend = (*Store)(nil)

func (s *Store) Close() error { return nil }

// newID выдает серверный id. Вызывается под s.mu.
func (s *Store) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// changes копит события одной записи до снятия блокировки.
type changes []remote.Change

func (c *changes) add(kind remote.Kind, typ remote.ChangeType, rec remote.Record) {
	*c = append(*c, remote.Change{Kind: kind, Type: typ, Record: rec})
}

// write выполняет fn под блокировкой и публикует накопленные события.
func (s *Store) write(fn func(c *changes) error) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	var c changes
	s.mu.Lock()
	err := fn(&c)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.publisher != nil {
		for _, ch := range c {
			s.publisher.Publish(ch)
		}
	}
	return nil
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	var out *domain.Post
	err := s.write(func(c *changes) error {
		p := *post
		p.CreatedAt = s.now()
		if p.ID == "" {
			p.ID = s.newID(p.CreatedAt)
		}
		s.posts[p.ID] = &p
		cp := p
		out = &cp
		c.add(remote.KindPost, remote.ChangeInsert, remote.EncodePost(&p))
		return nil
	})
	return out, err
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, storage.NotFound(remote.KindPost, id)
	}
	cp := *post
	return &cp, nil
}

func (s *Store) ToggleComments(ctx context.Context, postID string, enable bool) (*domain.Post, error) {
	var out *domain.Post
	err := s.write(func(c *changes) error {
		post, ok := s.posts[postID]
		if !ok {
			return storage.NotFound(remote.KindPost, postID)
		}
		post.CommentsEnabled = enable
		cp := *post
		out = &cp
		c.add(remote.KindPost, remote.ChangeUpdate, remote.EncodePost(post))
		return nil
	})
	return out, err
}

// === Fetch ===

func (s *Store) Fetch(ctx context.Context, kind remote.Kind, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch kind {
	case remote.KindPost:
		return s.fetchPosts(filter, page), nil
	case remote.KindComment:
		return s.fetchComments(filter, page), nil
	case remote.KindVote:
		return s.fetchVotes(filter, page), nil
	case remote.KindVoteTally:
		return s.fetchTallies(filter), nil
	case remote.KindFriendship:
		return s.fetchFriendships(filter, page), nil
	case remote.KindNotification:
		return s.fetchNotifications(filter, page), nil
	}
	return nil, &remote.ValidationError{Field: "kind", Reason: "unknown " + string(kind)}
}

func (s *Store) fetchPosts(filter remote.Filter, page remote.Page) []remote.Record {
	ids, byID := storage.Values(filter, "id")
	all := make([]*domain.Post, 0, len(s.posts))
	if byID {
		for _, id := range ids {
			if p, ok := s.posts[id]; ok {
				all = append(all, p)
			}
		}
	} else {
		for _, p := range s.posts {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	out := make([]remote.Record, 0, len(all))
	for _, p := range storage.Paginate(all, func(p *domain.Post) string { return p.ID }, page) {
		out = append(out, remote.EncodePost(p))
	}
	return out
}

func (s *Store) fetchComments(filter remote.Filter, page remote.Page) []remote.Record {
	var ids []string
	parents, byParent := storage.Values(filter, "parent_id")
	postID, byPost := filter["post_id"]
	idList, byID := storage.Values(filter, "id")

	switch {
	case byID:
		ids = idList
	case byParent && parents == nil && byPost:
		ids = s.commentsByPost[postID]
	case byParent && parents != nil:
		for _, pID := range parents {
			ids = append(ids, s.commentsByParent[pID]...)
		}
	default:
		for id := range s.comments {
			ids = append(ids, id)
		}
	}

	all := make([]*domain.Comment, 0, len(ids))
	for _, id := range ids {
		c, ok := s.comments[id]
		if !ok {
			continue
		}
		if byPost && c.PostID != postID {
			continue
		}
		if byParent && parents == nil && c.ParentID != nil {
			continue
		}
		all = append(all, c)
	}
	// Сортируем по времени создания, чтобы пагинация была консистентной
	sortComments(all)

	viewerID := filter["viewer_id"]
	out := make([]remote.Record, 0, len(all))
	for _, c := range storage.Paginate(all, func(c *domain.Comment) string { return c.ID }, page) {
		out = append(out, remote.EncodeComment(s.withTally(c, viewerID)))
	}
	return out
}

func sortComments(all []*domain.Comment) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
}

// withTally дополняет копию комментария счетчиками и голосом зрителя.
func (s *Store) withTally(c *domain.Comment, viewerID string) *domain.Comment {
	cp := c.Clone()
	t := s.tallies[c.ID]
	cp.Upvotes, cp.Downvotes, cp.Score = t.Up, t.Down, t.Up-t.Down
	cp.UserVote = domain.VoteNone
	if viewerID != "" {
		if v, ok := s.votes[domain.VoteID(viewerID, c.ID)]; ok {
			cp.UserVote = v.VoteType
		}
	}
	return cp
}

func (s *Store) fetchVotes(filter remote.Filter, page remote.Page) []remote.Record {
	commentIDs, byComment := storage.Values(filter, "comment_id")
	userID, byUser := filter["user_id"]
	wanted := toSet(commentIDs)

	all := make([]*domain.Vote, 0)
	for _, v := range s.votes {
		if byComment && !wanted[v.CommentID] {
			continue
		}
		if byUser && v.UserID != userID {
			continue
		}
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]remote.Record, 0, len(all))
	for _, v := range storage.Paginate(all, func(v *domain.Vote) string { return v.ID }, page) {
		out = append(out, remote.EncodeVote(v))
	}
	return out
}

func (s *Store) fetchTallies(filter remote.Filter) []remote.Record {
	commentIDs, _ := storage.Values(filter, "comment_id")
	viewerID := filter["viewer_id"]
	out := make([]remote.Record, 0, len(commentIDs))
	for _, id := range commentIDs {
		if _, ok := s.comments[id]; !ok {
			continue
		}
		t := s.tallies[id]
		viewerVote := domain.VoteNone
		if v, ok := s.votes[domain.VoteID(viewerID, id)]; ok && viewerID != "" {
			viewerVote = v.VoteType
		}
		out = append(out, remote.EncodeTally(domain.Tally{CommentID: id, Upvotes: t.Up, Downvotes: t.Down, Score: t.Up - t.Down}, viewerVote))
	}
	return out
}

func (s *Store) fetchFriendships(filter remote.Filter, page remote.Page) []remote.Record {
	participant, byParticipant := filter["participant_id"]
	userID, byUser := filter["user_id"]
	friendID, byFriend := filter["friend_id"]
	statuses, byStatus := storage.Values(filter, "status")
	wanted := toSet(statuses)

	all := make([]*domain.Friendship, 0)
	for _, f := range s.friendships {
		switch {
		case byParticipant && !f.Involves(participant):
			continue
		case byUser && f.UserID != userID:
			continue
		case byFriend && f.FriendID != friendID:
			continue
		case byStatus && !wanted[string(f.Status)]:
			continue
		}
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]remote.Record, 0, len(all))
	for _, f := range storage.Paginate(all, func(f *domain.Friendship) string { return f.ID }, page) {
		out = append(out, remote.EncodeFriendship(f))
	}
	return out
}

func (s *Store) fetchNotifications(filter remote.Filter, page remote.Page) []remote.Record {
	userID, byUser := filter["user_id"]
	readFilter, byRead := filter["read"]
	read, _ := strconv.ParseBool(readFilter)

	all := make([]*domain.Notification, 0)
	for _, n := range s.notifications {
		if byUser && n.UserID != userID {
			continue
		}
		if byRead && n.Read != read {
			continue
		}
		all = append(all, n)
	}
	// новые сверху
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	out := make([]remote.Record, 0, len(all))
	for _, n := range storage.Paginate(all, func(n *domain.Notification) string { return n.ID }, page) {
		out = append(out, remote.EncodeNotification(n))
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// === Create ===

func (s *Store) Create(ctx context.Context, kind remote.Kind, payload remote.Record) (remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	var out remote.Record
	err := s.write(func(c *changes) error {
		var err error
		switch kind {
		case remote.KindPost:
			out, err = s.createPost(c, payload)
		case remote.KindComment:
			out, err = s.createComment(c, payload)
		case remote.KindVote:
			out, err = s.createVote(c, payload)
		case remote.KindFriendship:
			out, err = s.createFriendship(c, payload)
		case remote.KindNotification:
			var in storage.NotificationInput
			if err = storage.DecodeInput(payload, &in); err == nil {
				n := s.notify(c, &domain.Notification{
					UserID:       in.UserID,
					Type:         in.Type,
					ActorID:      in.ActorID,
					ResourceID:   in.ResourceID,
					ResourceType: in.ResourceType,
					CreatedAt:    s.now(),
				})
				out = remote.EncodeNotification(n)
			}
		default:
			err = &remote.ValidationError{Field: "kind", Reason: "cannot create " + string(kind)}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) createPost(c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.PostInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	p := &domain.Post{Title: in.Title, Content: in.Content, AuthorID: in.AuthorID, CommentsEnabled: true, CreatedAt: s.now()}
	if in.CommentsEnabled != nil {
		p.CommentsEnabled = *in.CommentsEnabled
	}
	p.ID = s.newID(p.CreatedAt)
	s.posts[p.ID] = p
	rec := remote.EncodePost(p)
	c.add(remote.KindPost, remote.ChangeInsert, rec)
	return rec, nil
}

func (s *Store) createComment(c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.CommentInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}

	// Проверка поста
	post, ok := s.posts[in.PostID]
	if !ok {
		return nil, storage.NotFound(remote.KindPost, in.PostID)
	}
	if !post.CommentsEnabled {
		return nil, storage.ErrCommentsDisabled
	}

	// Проверка длины комментария
	if err := storage.ValidateContent(in.Content); err != nil {
		return nil, err
	}

	comment := &domain.Comment{PostID: in.PostID, UserID: in.UserID, Content: in.Content}
	recipientID := post.AuthorID

	// Проверка родительского комментария
	if in.ParentID != "" {
		parent, ok := s.comments[in.ParentID]
		if !ok || parent.PostID != in.PostID {
			return nil, fmt.Errorf("%w: parent comment %s", remote.ErrNotFound, in.ParentID)
		}
		parentID := in.ParentID
		comment.ParentID = &parentID
		recipientID = parent.UserID
	}

	comment.CreatedAt = s.now()
	comment.UpdatedAt = comment.CreatedAt
	comment.ID = s.newID(comment.CreatedAt)
	s.comments[comment.ID] = comment

	// Обновление индексов для иерархии
	if comment.ParentID == nil {
		s.commentsByPost[comment.PostID] = append(s.commentsByPost[comment.PostID], comment.ID)
	} else {
		s.commentsByParent[*comment.ParentID] = append(s.commentsByParent[*comment.ParentID], comment.ID)
	}

	rec := remote.EncodeComment(s.withTally(comment, ""))
	c.add(remote.KindComment, remote.ChangeInsert, rec)
	if n := storage.CommentNotification(comment, recipientID); n != nil {
		s.notify(c, n)
	}
	return rec, nil
}

func (s *Store) createVote(c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.VoteInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	comment, ok := s.comments[in.CommentID]
	if !ok {
		return nil, storage.NotFound(remote.KindComment, in.CommentID)
	}
	id := domain.VoteID(in.UserID, in.CommentID)
	if _, exists := s.votes[id]; exists {
		return nil, fmt.Errorf("%w: user %s already voted on %s", remote.ErrConflict, in.UserID, in.CommentID)
	}

	v := &domain.Vote{ID: id, UserID: in.UserID, CommentID: in.CommentID, VoteType: in.VoteType, CreatedAt: s.now()}
	s.votes[id] = v
	s.applyVote(in.CommentID, domain.VoteNone, in.VoteType)

	rec := remote.EncodeVote(v)
	c.add(remote.KindVote, remote.ChangeInsert, rec)
	if v.VoteType == domain.VoteUp && comment.UserID != v.UserID {
		s.notify(c, &domain.Notification{
			UserID:       comment.UserID,
			Type:         domain.NotificationLike,
			ActorID:      v.UserID,
			ResourceID:   comment.ID,
			ResourceType: string(remote.KindComment),
			CreatedAt:    v.CreatedAt,
		})
	}
	return rec, nil
}

// applyVote пересчитывает агрегат при смене голоса from -> to.
func (s *Store) applyVote(commentID string, from, to domain.VoteType) {
	t := s.tallies[commentID]
	var d votes.Delta
	switch {
	case from == to:
		return
	case to == domain.VoteNone:
		_, d = votes.Transition(from, from)
	default:
		_, d = votes.Transition(from, to)
	}
	t, _ = t.Apply(d)
	s.tallies[commentID] = t
}

func (s *Store) createFriendship(c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.FriendshipInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	pair := domain.PairKey(in.UserID, in.FriendID)
	for _, f := range s.friendships {
		if f.PairKey() == pair && f.Active() {
			return nil, fmt.Errorf("%w: users %s and %s already have a %s relationship", remote.ErrConflict, in.UserID, in.FriendID, f.Status)
		}
	}

	now := s.now()
	f := &domain.Friendship{
		ID:        s.newID(now),
		UserID:    in.UserID,
		FriendID:  in.FriendID,
		Status:    domain.FriendshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.friendships[f.ID] = f

	rec := remote.EncodeFriendship(f)
	c.add(remote.KindFriendship, remote.ChangeInsert, rec)
	s.notify(c, &domain.Notification{
		UserID:       f.FriendID,
		Type:         domain.NotificationFriendRequest,
		ActorID:      f.UserID,
		ResourceID:   f.ID,
		ResourceType: string(remote.KindFriendship),
		CreatedAt:    now,
	})
	return rec, nil
}

// notify сохраняет уведомление и добавляет событие о нем.
func (s *Store) notify(c *changes, n *domain.Notification) *domain.Notification {
	n.ID = s.newID(n.CreatedAt)
	s.notifications[n.ID] = n
	c.add(remote.KindNotification, remote.ChangeInsert, remote.EncodeNotification(n))
	return n
}

// === Update ===

func (s *Store) Update(ctx context.Context, kind remote.Kind, id string, patch remote.Record) (remote.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	var out remote.Record
	err := s.write(func(c *changes) error {
		var err error
		switch kind {
		case remote.KindPost:
			var in storage.PostPatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			post, ok := s.posts[id]
			if !ok {
				return storage.NotFound(kind, id)
			}
			post.CommentsEnabled = in.CommentsEnabled
			out = remote.EncodePost(post)
		case remote.KindComment:
			out, err = s.updateComment(id, patch)
		case remote.KindVote:
			out, err = s.updateVote(id, patch)
		case remote.KindFriendship:
			out, err = s.updateFriendship(c, id, patch)
		case remote.KindNotification:
			var in storage.NotificationPatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			n, ok := s.notifications[id]
			if !ok {
				return storage.NotFound(kind, id)
			}
			n.Read = in.Read
			out = remote.EncodeNotification(n)
		default:
			err = &remote.ValidationError{Field: "kind", Reason: "cannot update " + string(kind)}
		}
		if err != nil {
			return err
		}
		// событие об изменении идет первым, следом производные
		*c = append(changes{{Kind: kind, Type: remote.ChangeUpdate, Record: out}}, *c...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) updateComment(id string, patch remote.Record) (remote.Record, error) {
	var in storage.CommentPatch
	if err := storage.DecodeInput(patch, &in); err != nil {
		return nil, err
	}
	comment, ok := s.comments[id]
	if !ok {
		return nil, storage.NotFound(remote.KindComment, id)
	}
	if err := storage.ValidateContent(in.Content); err != nil {
		return nil, err
	}
	comment.Content = in.Content
	comment.UpdatedAt = s.now()
	return remote.EncodeComment(s.withTally(comment, "")), nil
}

func (s *Store) updateVote(id string, patch remote.Record) (remote.Record, error) {
	var in storage.VotePatch
	if err := storage.DecodeInput(patch, &in); err != nil {
		return nil, err
	}
	v, ok := s.votes[id]
	if !ok {
		return nil, storage.NotFound(remote.KindVote, id)
	}
	s.applyVote(v.CommentID, v.VoteType, in.VoteType)
	v.VoteType = in.VoteType
	return remote.EncodeVote(v), nil
}

func (s *Store) updateFriendship(c *changes, id string, patch remote.Record) (remote.Record, error) {
	var in storage.FriendshipPatch
	if err := storage.DecodeInput(patch, &in); err != nil {
		return nil, err
	}
	f, ok := s.friendships[id]
	if !ok {
		return nil, storage.NotFound(remote.KindFriendship, id)
	}
	if err := storage.NextFriendshipStatus(f, in.ActorID, in.Status); err != nil {
		return nil, err
	}
	f.Status = in.Status
	f.UpdatedAt = s.now()
	if f.Status == domain.FriendshipAccepted {
		s.notify(c, &domain.Notification{
			UserID:       f.UserID,
			Type:         domain.NotificationFriendAccepted,
			ActorID:      f.FriendID,
			ResourceID:   f.ID,
			ResourceType: string(remote.KindFriendship),
			CreatedAt:    f.UpdatedAt,
		})
	}
	return remote.EncodeFriendship(f), nil
}

// === Delete ===

func (s *Store) Delete(ctx context.Context, kind remote.Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	return s.write(func(c *changes) error {
		switch kind {
		case remote.KindPost:
			if _, ok := s.posts[id]; !ok {
				return storage.NotFound(kind, id)
			}
			roots := append([]string(nil), s.commentsByPost[id]...)
			for _, cID := range roots {
				s.deleteComment(c, cID)
			}
			delete(s.commentsByPost, id)
			delete(s.posts, id)
			c.add(kind, remote.ChangeDelete, remote.Record{"id": id})
		case remote.KindComment:
			if _, ok := s.comments[id]; !ok {
				return storage.NotFound(kind, id)
			}
			s.deleteComment(c, id)
		case remote.KindVote:
			v, ok := s.votes[id]
			if !ok {
				return storage.NotFound(kind, id)
			}
			s.applyVote(v.CommentID, v.VoteType, domain.VoteNone)
			delete(s.votes, id)
			c.add(kind, remote.ChangeDelete, remote.EncodeVote(v))
		case remote.KindFriendship:
			f, ok := s.friendships[id]
			if !ok {
				return storage.NotFound(kind, id)
			}
			delete(s.friendships, id)
			c.add(kind, remote.ChangeDelete, remote.EncodeFriendship(f))
		case remote.KindNotification:
			n, ok := s.notifications[id]
			if !ok {
				return storage.NotFound(kind, id)
			}
			delete(s.notifications, id)
			c.add(kind, remote.ChangeDelete, remote.EncodeNotification(n))
		default:
			return &remote.ValidationError{Field: "kind", Reason: "cannot delete " + string(kind)}
		}
		return nil
	})
}

// deleteComment удаляет комментарий вместе с ответами и голосами.
// Событие о родителе идет раньше событий об ответах.
func (s *Store) deleteComment(c *changes, id string) {
	comment, ok := s.comments[id]
	if !ok {
		return
	}
	delete(s.comments, id)
	delete(s.tallies, id)
	for vID, v := range s.votes {
		if v.CommentID == id {
			delete(s.votes, vID)
		}
	}
	if comment.ParentID == nil {
		s.commentsByPost[comment.PostID] = without(s.commentsByPost[comment.PostID], id)
	} else {
		s.commentsByParent[*comment.ParentID] = without(s.commentsByParent[*comment.ParentID], id)
	}
	c.add(remote.KindComment, remote.ChangeDelete, remote.EncodeComment(comment))

	children := append([]string(nil), s.commentsByParent[id]...)
	for _, childID := range children {
		s.deleteComment(c, childID)
	}
	delete(s.commentsByParent, id)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
