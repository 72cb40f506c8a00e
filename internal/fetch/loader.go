// Package fetch загружает срезы состояния с удаленного сервиса.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/metrics"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

// RefreshParallelism - сколько устаревших ключей перезагружается одновременно.
const RefreshParallelism = 4

// Loader ведет жизненный цикл загрузки ключа: loading, затем success или failure.
// Одновременные загрузки одного ключа объединяются в один запрос.
type Loader struct {
	store    *store.Store
	gw       *remote.Gateway
	identity remote.Identity
	group    singleflight.Group
	polling  atomic.Bool
	logger   *slog.Logger
}

func New(st *store.Store, gw *remote.Gateway, identity remote.Identity, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:    st,
		gw:       gw,
		identity: identity,
		logger:   logger.With("component", "loader"),
	}
}

// load выполняет загрузку ключа через singleflight.
func load[T any](ctx context.Context, l *Loader, name store.SliceName, key string,
	fetch func(context.Context) ([]T, error), loaded func([]T) store.Action) error {
	_, err, shared := l.group.Do(string(name)+":"+key, func() (any, error) {
		l.store.Dispatch(store.FetchStarted{Slice: name, Key: key})
		items, err := fetch(ctx)
		if err != nil {
			l.store.Dispatch(store.FetchFailed{Slice: name, Key: key, Err: err})
			metrics.Fetches.WithLabelValues(string(name), "failure").Inc()
			l.logger.Warn("fetch failed", "slice", name, "key", key, "error", err)
			return nil, err
		}
		l.store.Dispatch(loaded(items))
		metrics.Fetches.WithLabelValues(string(name), "success").Inc()
		return nil, nil
	})
	if shared {
		metrics.Fetches.WithLabelValues(string(name), "shared").Inc()
	}
	return err
}

// LoadComments загружает комментарии верхнего уровня поста.
func (l *Loader) LoadComments(ctx context.Context, postID string) error {
	return load(ctx, l, store.SliceComments, postID,
		func(ctx context.Context) ([]*domain.Comment, error) {
			return l.gw.Comments(ctx, postID, remote.Page{})
		},
		func(items []*domain.Comment) store.Action {
			return store.CommentsLoaded{PostID: postID, Comments: items}
		})
}

// LoadReplies загружает ответы на комментарий. Ответы разных родителей,
// запрошенные одновременно, уходят одним батчем через Gateway.
func (l *Loader) LoadReplies(ctx context.Context, parentID string) error {
	return load(ctx, l, store.SliceReplies, parentID,
		func(ctx context.Context) ([]*domain.Comment, error) {
			return l.gw.Replies(ctx, parentID)
		},
		func(items []*domain.Comment) store.Action {
			return store.RepliesLoaded{ParentID: parentID, Replies: items}
		})
}

// LoadRepliesOf загружает ответы для нескольких родителей параллельно.
func (l *Loader) LoadRepliesOf(ctx context.Context, parentIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range parentIDs {
		id := id
		g.Go(func() error { return l.LoadReplies(ctx, id) })
	}
	return g.Wait()
}

func (l *Loader) LoadFriendships(ctx context.Context, userID string) error {
	return load(ctx, l, store.SliceFriendships, userID,
		func(ctx context.Context) ([]*domain.Friendship, error) {
			return l.gw.Friendships(ctx, userID)
		},
		func(items []*domain.Friendship) store.Action {
			return store.FriendshipsLoaded{UserID: userID, Friendships: items}
		})
}

func (l *Loader) LoadNotifications(ctx context.Context, userID string) error {
	return load(ctx, l, store.SliceNotifications, userID,
		func(ctx context.Context) ([]*domain.Notification, error) {
			return l.gw.Notifications(ctx, userID, remote.Page{})
		},
		func(items []*domain.Notification) store.Action {
			return store.NotificationsLoaded{UserID: userID, Notifications: items}
		})
}

// RefreshTally заменяет счетчики комментария авторитетными.
// Одновременные запросы по одному комментарию объединяются.
func (l *Loader) RefreshTally(ctx context.Context, commentID string) error {
	_, err, shared := l.group.Do("tally:"+commentID, func() (any, error) {
		tally, viewerVote, err := l.gw.Tally(ctx, commentID)
		if err != nil {
			metrics.Fetches.WithLabelValues("tally", "failure").Inc()
			return nil, err
		}
		action := store.TallyRefreshed{CommentID: commentID, Upvotes: tally.Upvotes, Downvotes: tally.Downvotes}
		if _, ok := l.identity.CurrentUserID(); ok {
			action.UserVote = &viewerVote
		}
		l.store.Dispatch(action)
		metrics.Fetches.WithLabelValues("tally", "success").Inc()
		return nil, nil
	})
	if shared {
		metrics.Fetches.WithLabelValues("tally", "shared").Inc()
	}
	return err
}

// Refresh перезагружает ключ среза.
func (l *Loader) Refresh(ctx context.Context, ref store.Ref) error {
	switch ref.Slice {
	case store.SliceComments:
		return l.LoadComments(ctx, ref.Key)
	case store.SliceReplies:
		return l.LoadReplies(ctx, ref.Key)
	case store.SliceFriendships:
		return l.LoadFriendships(ctx, ref.Key)
	case store.SliceNotifications:
		return l.LoadNotifications(ctx, ref.Key)
	}
	return fmt.Errorf("unknown slice %q", ref.Slice)
}

// RefreshStale перезагружает все устаревшие ключи. Ошибка одного ключа
// не останавливает остальные, возвращается первая.
func (l *Loader) RefreshStale(ctx context.Context) error {
	refs := l.store.State().StaleRefs()
	if len(refs) == 0 {
		return nil
	}
	l.logger.Info("refreshing stale buckets", "count", len(refs))

	var g errgroup.Group
	g.SetLimit(RefreshParallelism)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error { return l.Refresh(ctx, ref) })
	}
	return g.Wait()
}

// PollUnread опрашивает число непрочитанных уведомлений каждые interval
// до отмены ctx. Тик пропускается, если предыдущий опрос еще идет.
func (l *Loader) PollUnread(ctx context.Context, userID string, interval time.Duration, onCount func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.pollOnce(ctx, userID, onCount) {
				l.logger.Debug("unread poll still in flight, tick skipped", "user_id", userID)
			}
		}
	}
}

// pollOnce запускает опрос в фоне. false - предыдущий опрос еще не завершен.
func (l *Loader) pollOnce(ctx context.Context, userID string, onCount func(int)) bool {
	if !l.polling.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer l.polling.Store(false)
		n, err := l.gw.UnreadCount(ctx, userID)
		if err != nil {
			l.logger.Warn("unread poll failed", "user_id", userID, "error", err)
			return
		}
		onCount(n)
	}()
	return true
}
