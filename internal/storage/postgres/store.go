package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage"
	"github.com/UkralStul/feedsync/internal/votes"
)

// Store реализует интерфейс Backend с использованием PostgreSQL.
type Store struct {
	db *gorm.DB

	pubMu     sync.Mutex
	publisher remote.Publisher
}

// Option настраивает Store.
type Option func(*Store)

// WithPublisher задает получателя событий ленты изменений.
func WithPublisher(p remote.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// New создает новый экземпляр хранилища PostgreSQL.
func New(dsn string, debug bool, opts ...Option) (*Store, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Выполняем миграцию схемы
	if err := db.AutoMigrate(&domain.Post{}, &domain.Comment{}, &domain.Vote{}, &domain.Friendship{}, &domain.Notification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ storage.Backend = (*Store)(nil)

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newID() string { return ulid.Make().String() }

func now() time.Time { return time.Now().UTC() }

// translate переводит ошибки gorm в ошибки удаленного сервиса.
func translate(err error, kind remote.Kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.NotFound(kind, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s %s already exists", remote.ErrConflict, kind, id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}
	var verr *remote.ValidationError
	if errors.As(err, &verr) || errors.Is(err, remote.ErrConflict) || errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %v", remote.ErrTransport, err)
}

type changes []remote.Change

func (c *changes) add(kind remote.Kind, typ remote.ChangeType, rec remote.Record) {
	*c = append(*c, remote.Change{Kind: kind, Type: typ, Record: rec})
}

// write выполняет fn в транзакции и публикует события после коммита.
func (s *Store) write(ctx context.Context, kind remote.Kind, id string, fn func(tx *gorm.DB, c *changes) error) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	var c changes
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &c)
	})
	if err != nil {
		return translate(err, kind, id)
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
	p := *post
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = now()
	err := s.write(ctx, remote.KindPost, p.ID, func(tx *gorm.DB, c *changes) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		c.add(remote.KindPost, remote.ChangeInsert, remote.EncodePost(&p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, translate(err, remote.KindPost, id)
	}
	return &post, nil
}

func (s *Store) ToggleComments(ctx context.Context, postID string, enable bool) (*domain.Post, error) {
	var post domain.Post
	// Используем транзакцию для атомарности операции чтения-записи
	err := s.write(ctx, remote.KindPost, postID, func(tx *gorm.DB, c *changes) error {
		if err := tx.First(&post, "id = ?", postID).Error; err != nil {
			return err
		}
		post.CommentsEnabled = enable
		if err := tx.Save(&post).Error; err != nil {
			return err
		}
		c.add(remote.KindPost, remote.ChangeUpdate, remote.EncodePost(&post))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// === Fetch ===

func (s *Store) Fetch(ctx context.Context, kind remote.Kind, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	db := s.db.WithContext(ctx)
	var (
		out []remote.Record
		err error
	)
	switch kind {
	case remote.KindPost:
		out, err = fetchPosts(db, filter, page)
	case remote.KindComment:
		out, err = fetchComments(db, filter, page)
	case remote.KindVote:
		out, err = fetchVotes(db, filter, page)
	case remote.KindVoteTally:
		out, err = fetchTallies(db, filter)
	case remote.KindFriendship:
		out, err = fetchFriendships(db, filter, page)
	case remote.KindNotification:
		out, err = fetchNotifications(db, filter, page)
	default:
		return nil, &remote.ValidationError{Field: "kind", Reason: "unknown " + string(kind)}
	}
	if err != nil {
		return nil, translate(err, kind, "")
	}
	return out, nil
}

// whereList добавляет условие по значению фильтра: IN для списка, IS NULL для пустого.
func whereList(q *gorm.DB, filter remote.Filter, key, column string) *gorm.DB {
	values, ok := storage.Values(filter, key)
	switch {
	case !ok:
		return q
	case values == nil:
		return q.Where(column + " IS NULL")
	case len(values) == 1:
		return q.Where(column+" = ?", values[0])
	}
	return q.Where(column+" IN ?", values)
}

// afterCursor реализует курсорную пагинацию по (created_at, id).
func afterCursor(q *gorm.DB, model any, page remote.Page, desc bool) *gorm.DB {
	if page.Cursor == "" {
		return q.Limit(storage.Limit(page))
	}
	var cursor struct {
		ID        string
		CreatedAt time.Time
	}
	// Находим время создания записи-курсора
	if err := q.Session(&gorm.Session{NewDB: true}).Model(model).Select("id, created_at").Where("id = ?", page.Cursor).Take(&cursor).Error; err == nil {
		if desc {
			q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		} else {
			q = q.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
		}
	}
	return q.Limit(storage.Limit(page))
}

func fetchPosts(db *gorm.DB, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	var posts []*domain.Post
	q := whereList(db.Model(&domain.Post{}), filter, "id", "id").Order("created_at DESC, id DESC")
	if err := afterCursor(q, &domain.Post{}, page, true).Find(&posts).Error; err != nil {
		return nil, err
	}
	out := make([]remote.Record, 0, len(posts))
	for _, p := range posts {
		out = append(out, remote.EncodePost(p))
	}
	return out, nil
}

func fetchComments(db *gorm.DB, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	var comments []*domain.Comment
	q := db.Model(&domain.Comment{})
	q = whereList(q, filter, "id", "id")
	q = whereList(q, filter, "post_id", "post_id")
	q = whereList(q, filter, "parent_id", "parent_id")
	q = q.Order("created_at ASC, id ASC")
	if err := afterCursor(q, &domain.Comment{}, page, false).Find(&comments).Error; err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return []remote.Record{}, nil
	}

	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	tallies, err := loadTallies(db, ids)
	if err != nil {
		return nil, err
	}
	viewerVotes, err := loadViewerVotes(db, filter["viewer_id"], ids)
	if err != nil {
		return nil, err
	}

	out := make([]remote.Record, 0, len(comments))
	for _, c := range comments {
		t := tallies[c.ID]
		c.Upvotes, c.Downvotes, c.Score = t.Up, t.Down, t.Up-t.Down
		c.UserVote = viewerVotes[c.ID]
		out = append(out, remote.EncodeComment(c))
	}
	return out, nil
}

type tallyRow struct {
	CommentID string
	Upvotes   int
	Downvotes int
}

// loadTallies считает агрегаты голосов одним запросом.
func loadTallies(db *gorm.DB, commentIDs []string) (map[string]votes.Counts, error) {
	var rows []tallyRow
	err := db.Model(&domain.Vote{}).
		Select("comment_id, "+
			"COUNT(*) FILTER (WHERE vote_type = ?) AS upvotes, "+
			"COUNT(*) FILTER (WHERE vote_type = ?) AS downvotes", domain.VoteUp, domain.VoteDown).
		Where("comment_id IN ?", commentIDs).
		Group("comment_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]votes.Counts, len(rows))
	for _, r := range rows {
		out[r.CommentID] = votes.FromTally(r.Upvotes, r.Downvotes)
	}
	return out, nil
}

func loadViewerVotes(db *gorm.DB, viewerID string, commentIDs []string) (map[string]domain.VoteType, error) {
	out := make(map[string]domain.VoteType)
	if viewerID == "" {
		return out, nil
	}
	var vs []*domain.Vote
	if err := db.Where("user_id = ? AND comment_id IN ?", viewerID, commentIDs).Find(&vs).Error; err != nil {
		return nil, err
	}
	for _, v := range vs {
		out[v.CommentID] = v.VoteType
	}
	return out, nil
}

func fetchVotes(db *gorm.DB, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	var vs []*domain.Vote
	q := db.Model(&domain.Vote{})
	q = whereList(q, filter, "comment_id", "comment_id")
	q = whereList(q, filter, "user_id", "user_id")
	q = q.Order("created_at ASC, id ASC")
	if err := afterCursor(q, &domain.Vote{}, page, false).Find(&vs).Error; err != nil {
		return nil, err
	}
	out := make([]remote.Record, 0, len(vs))
	for _, v := range vs {
		out = append(out, remote.EncodeVote(v))
	}
	return out, nil
}

func fetchTallies(db *gorm.DB, filter remote.Filter) ([]remote.Record, error) {
	commentIDs, _ := storage.Values(filter, "comment_id")
	if len(commentIDs) == 0 {
		return []remote.Record{}, nil
	}
	var existing []string
	if err := db.Model(&domain.Comment{}).Where("id IN ?", commentIDs).Pluck("id", &existing).Error; err != nil {
		return nil, err
	}
	tallies, err := loadTallies(db, existing)
	if err != nil {
		return nil, err
	}
	viewerVotes, err := loadViewerVotes(db, filter["viewer_id"], existing)
	if err != nil {
		return nil, err
	}
	out := make([]remote.Record, 0, len(existing))
	for _, id := range existing {
		t := tallies[id]
		out = append(out, remote.EncodeTally(domain.Tally{CommentID: id, Upvotes: t.Up, Downvotes: t.Down, Score: t.Score}, viewerVotes[id]))
	}
	return out, nil
}

func fetchFriendships(db *gorm.DB, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	var fs []*domain.Friendship
	q := db.Model(&domain.Friendship{})
	if p, ok := filter["participant_id"]; ok {
		q = q.Where("user_id = ? OR friend_id = ?", p, p)
	}
	q = whereList(q, filter, "user_id", "user_id")
	q = whereList(q, filter, "friend_id", "friend_id")
	q = whereList(q, filter, "status", "status")
	q = q.Order("created_at ASC, id ASC")
	if err := afterCursor(q, &domain.Friendship{}, page, false).Find(&fs).Error; err != nil {
		return nil, err
	}
	out := make([]remote.Record, 0, len(fs))
	for _, f := range fs {
		out = append(out, remote.EncodeFriendship(f))
	}
	return out, nil
}

func fetchNotifications(db *gorm.DB, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	var ns []*domain.Notification
	q := db.Model(&domain.Notification{})
	q = whereList(q, filter, "user_id", "user_id")
	if v, ok := filter["read"]; ok {
		read, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &remote.ValidationError{Field: "read", Reason: "must be a boolean"}
		}
		q = q.Where("read = ?", read)
	}
	q = q.Order("created_at DESC, id DESC")
	if err := afterCursor(q, &domain.Notification{}, page, true).Find(&ns).Error; err != nil {
		return nil, err
	}
	out := make([]remote.Record, 0, len(ns))
	for _, n := range ns {
		out = append(out, remote.EncodeNotification(n))
	}
	return out, nil
}

// === Create ===

func (s *Store) Create(ctx context.Context, kind remote.Kind, payload remote.Record) (remote.Record, error) {
	var out remote.Record
	err := s.write(ctx, kind, "", func(tx *gorm.DB, c *changes) error {
		var err error
		switch kind {
		case remote.KindPost:
			out, err = createPost(tx, c, payload)
		case remote.KindComment:
			out, err = createComment(tx, c, payload)
		case remote.KindVote:
			out, err = createVote(tx, c, payload)
		case remote.KindFriendship:
			out, err = createFriendship(tx, c, payload)
		case remote.KindNotification:
			var in storage.NotificationInput
			if err = storage.DecodeInput(payload, &in); err != nil {
				return err
			}
			var n *domain.Notification
			n, err = notify(tx, c, &domain.Notification{
				UserID:       in.UserID,
				Type:         in.Type,
				ActorID:      in.ActorID,
				ResourceID:   in.ResourceID,
				ResourceType: in.ResourceType,
			})
			if err == nil {
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

func createPost(tx *gorm.DB, c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.PostInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	p := &domain.Post{ID: newID(), Title: in.Title, Content: in.Content, AuthorID: in.AuthorID, CommentsEnabled: true, CreatedAt: now()}
	if in.CommentsEnabled != nil {
		p.CommentsEnabled = *in.CommentsEnabled
	}
	if err := tx.Create(p).Error; err != nil {
		return nil, err
	}
	rec := remote.EncodePost(p)
	c.add(remote.KindPost, remote.ChangeInsert, rec)
	return rec, nil
}

func createComment(tx *gorm.DB, c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.CommentInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	// Валидация
	if err := storage.ValidateContent(in.Content); err != nil {
		return nil, err
	}

	// Проверяем существование поста и разрешение на комментирование в одной транзакции
	var post domain.Post
	if err := tx.Select("id, author_id, comments_enabled").First(&post, "id = ?", in.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.NotFound(remote.KindPost, in.PostID)
		}
		return nil, err
	}
	if !post.CommentsEnabled {
		return nil, storage.ErrCommentsDisabled
	}

	comment := &domain.Comment{ID: newID(), PostID: in.PostID, UserID: in.UserID, Content: in.Content}
	recipientID := post.AuthorID

	// Если есть родитель, проверяем его существование
	if in.ParentID != "" {
		var parent domain.Comment
		if err := tx.Select("id, user_id").First(&parent, "id = ? AND post_id = ?", in.ParentID, in.PostID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: parent comment %s", remote.ErrNotFound, in.ParentID)
			}
			return nil, err
		}
		parentID := in.ParentID
		comment.ParentID = &parentID
		recipientID = parent.UserID
	}
	comment.CreatedAt = now()
	comment.UpdatedAt = comment.CreatedAt

	if err := tx.Create(comment).Error; err != nil {
		return nil, err
	}
	rec := remote.EncodeComment(comment)
	c.add(remote.KindComment, remote.ChangeInsert, rec)
	if n := storage.CommentNotification(comment, recipientID); n != nil {
		if _, err := notify(tx, c, n); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func createVote(tx *gorm.DB, c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.VoteInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	var comment domain.Comment
	if err := tx.Select("id, user_id").First(&comment, "id = ?", in.CommentID).Error; err != nil {
		return nil, translate(err, remote.KindComment, in.CommentID)
	}
	v := &domain.Vote{ID: domain.VoteID(in.UserID, in.CommentID), UserID: in.UserID, CommentID: in.CommentID, VoteType: in.VoteType, CreatedAt: now()}
	if err := tx.Create(v).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: user %s already voted on %s", remote.ErrConflict, in.UserID, in.CommentID)
		}
		return nil, err
	}
	rec := remote.EncodeVote(v)
	c.add(remote.KindVote, remote.ChangeInsert, rec)
	if v.VoteType == domain.VoteUp && comment.UserID != v.UserID {
		if _, err := notify(tx, c, &domain.Notification{
			UserID:       comment.UserID,
			Type:         domain.NotificationLike,
			ActorID:      v.UserID,
			ResourceID:   comment.ID,
			ResourceType: string(remote.KindComment),
		}); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func createFriendship(tx *gorm.DB, c *changes, payload remote.Record) (remote.Record, error) {
	var in storage.FriendshipInput
	if err := storage.DecodeInput(payload, &in); err != nil {
		return nil, err
	}
	var active int64
	err := tx.Model(&domain.Friendship{}).
		Where("((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)) AND status <> ?",
			in.UserID, in.FriendID, in.FriendID, in.UserID, domain.FriendshipRejected).
		Count(&active).Error
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: users %s and %s already have a relationship", remote.ErrConflict, in.UserID, in.FriendID)
	}

	ts := now()
	f := &domain.Friendship{ID: newID(), UserID: in.UserID, FriendID: in.FriendID, Status: domain.FriendshipPending, CreatedAt: ts, UpdatedAt: ts}
	if err := tx.Create(f).Error; err != nil {
		return nil, err
	}
	rec := remote.EncodeFriendship(f)
	c.add(remote.KindFriendship, remote.ChangeInsert, rec)
	if _, err := notify(tx, c, &domain.Notification{
		UserID:       f.FriendID,
		Type:         domain.NotificationFriendRequest,
		ActorID:      f.UserID,
		ResourceID:   f.ID,
		ResourceType: string(remote.KindFriendship),
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

func notify(tx *gorm.DB, c *changes, n *domain.Notification) (*domain.Notification, error) {
	n.ID = newID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	if err := tx.Create(n).Error; err != nil {
		return nil, err
	}
	c.add(remote.KindNotification, remote.ChangeInsert, remote.EncodeNotification(n))
	return n, nil
}

// === Update ===

func (s *Store) Update(ctx context.Context, kind remote.Kind, id string, patch remote.Record) (remote.Record, error) {
	var out remote.Record
	err := s.write(ctx, kind, id, func(tx *gorm.DB, c *changes) error {
		var err error
		switch kind {
		case remote.KindPost:
			var in storage.PostPatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			var post domain.Post
			if err = tx.First(&post, "id = ?", id).Error; err != nil {
				return err
			}
			post.CommentsEnabled = in.CommentsEnabled
			err = tx.Save(&post).Error
			out = remote.EncodePost(&post)
		case remote.KindComment:
			var in storage.CommentPatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			if err = storage.ValidateContent(in.Content); err != nil {
				return err
			}
			var comment domain.Comment
			if err = tx.First(&comment, "id = ?", id).Error; err != nil {
				return err
			}
			comment.Content = in.Content
			comment.UpdatedAt = now()
			if err = tx.Save(&comment).Error; err != nil {
				return err
			}
			tallies, terr := loadTallies(tx, []string{id})
			if terr != nil {
				return terr
			}
			t := tallies[id]
			comment.Upvotes, comment.Downvotes, comment.Score = t.Up, t.Down, t.Score
			out = remote.EncodeComment(&comment)
		case remote.KindVote:
			var in storage.VotePatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			var v domain.Vote
			if err = tx.First(&v, "id = ?", id).Error; err != nil {
				return err
			}
			v.VoteType = in.VoteType
			err = tx.Save(&v).Error
			out = remote.EncodeVote(&v)
		case remote.KindFriendship:
			out, err = updateFriendship(tx, c, id, patch)
		case remote.KindNotification:
			var in storage.NotificationPatch
			if err = storage.DecodeInput(patch, &in); err != nil {
				return err
			}
			var n domain.Notification
			if err = tx.First(&n, "id = ?", id).Error; err != nil {
				return err
			}
			n.Read = in.Read
			err = tx.Save(&n).Error
			out = remote.EncodeNotification(&n)
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

func updateFriendship(tx *gorm.DB, c *changes, id string, patch remote.Record) (remote.Record, error) {
	var in storage.FriendshipPatch
	if err := storage.DecodeInput(patch, &in); err != nil {
		return nil, err
	}
	var f domain.Friendship
	if err := tx.First(&f, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := storage.NextFriendshipStatus(&f, in.ActorID, in.Status); err != nil {
		return nil, err
	}
	f.Status = in.Status
	f.UpdatedAt = now()
	if err := tx.Save(&f).Error; err != nil {
		return nil, err
	}
	if f.Status == domain.FriendshipAccepted {
		if _, err := notify(tx, c, &domain.Notification{
			UserID:       f.UserID,
			Type:         domain.NotificationFriendAccepted,
			ActorID:      f.FriendID,
			ResourceID:   f.ID,
			ResourceType: string(remote.KindFriendship),
		}); err != nil {
			return nil, err
		}
	}
	return remote.EncodeFriendship(&f), nil
}

// === Delete ===

func (s *Store) Delete(ctx context.Context, kind remote.Kind, id string) error {
	return s.write(ctx, kind, id, func(tx *gorm.DB, c *changes) error {
		switch kind {
		case remote.KindPost:
			var roots []*domain.Comment
			if err := tx.Where("post_id = ? AND parent_id IS NULL", id).Find(&roots).Error; err != nil {
				return err
			}
			for _, root := range roots {
				if err := deleteComment(tx, c, root); err != nil {
					return err
				}
			}
			res := tx.Delete(&domain.Post{}, "id = ?", id)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			c.add(kind, remote.ChangeDelete, remote.Record{"id": id})
		case remote.KindComment:
			var comment domain.Comment
			if err := tx.First(&comment, "id = ?", id).Error; err != nil {
				return err
			}
			return deleteComment(tx, c, &comment)
		case remote.KindVote:
			var v domain.Vote
			if err := tx.First(&v, "id = ?", id).Error; err != nil {
				return err
			}
			if err := tx.Delete(&v).Error; err != nil {
				return err
			}
			c.add(kind, remote.ChangeDelete, remote.EncodeVote(&v))
		case remote.KindFriendship:
			var f domain.Friendship
			if err := tx.First(&f, "id = ?", id).Error; err != nil {
				return err
			}
			if err := tx.Delete(&f).Error; err != nil {
				return err
			}
			c.add(kind, remote.ChangeDelete, remote.EncodeFriendship(&f))
		case remote.KindNotification:
			var n domain.Notification
			if err := tx.First(&n, "id = ?", id).Error; err != nil {
				return err
			}
			if err := tx.Delete(&n).Error; err != nil {
				return err
			}
			c.add(kind, remote.ChangeDelete, remote.EncodeNotification(&n))
		default:
			return &remote.ValidationError{Field: "kind", Reason: "cannot delete " + string(kind)}
		}
		return nil
	})
}

// deleteComment удаляет комментарий, его голоса и ответы. Событие о родителе идет первым.
func deleteComment(tx *gorm.DB, c *changes, comment *domain.Comment) error {
	if err := tx.Where("comment_id = ?", comment.ID).Delete(&domain.Vote{}).Error; err != nil {
		return err
	}
	if err := tx.Delete(comment).Error; err != nil {
		return err
	}
	c.add(remote.KindComment, remote.ChangeDelete, remote.EncodeComment(comment))

	var children []*domain.Comment
	if err := tx.Where("parent_id = ?", comment.ID).Find(&children).Error; err != nil {
		return err
	}
	for _, child := range children {
		if err := deleteComment(tx, c, child); err != nil {
			return err
		}
	}
	return nil
}
