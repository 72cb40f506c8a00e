// Package realtime сливает события ленты изменений в хранилище.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/fetch"
	"github.com/UkralStul/feedsync/internal/metrics"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

// DefaultCorrelationWindow - допустимая разница времени создания
// плейсхолдера и серверного комментария.
const DefaultCorrelationWindow = 30 * time.Second

// Kinds - виды сущностей, на которые подписывается Reconciler.
var Kinds = []remote.Kind{
	remote.KindComment,
	remote.KindVote,
	remote.KindVoteTally,
	remote.KindFriendship,
	remote.KindNotification,
}

// Результаты обработки события (метка result в metrics.Events).
const (
	resultApplied    = "applied"
	resultCorrelated = "correlated"
	resultDuplicate  = "duplicate"
	resultDropped    = "dropped"
	resultIgnored    = "ignored"
	resultRefetched  = "refetched"
	resultDeferred   = "deferred"
	resultInvalid    = "invalid"
)

// MutationTracker знает о незавершенных локальных мутациях комментария.
// DeferTally возвращает true, если перечитывание счетчиков отложено
// до завершения этих мутаций.
type MutationTracker interface {
	DeferTally(commentID string) bool
}

// Reconciler применяет события ленты к хранилищу в порядке доставки.
// События обрабатывает одна горутина, поэтому порядок по ключу сохраняется.
type Reconciler struct {
	store   *store.Store
	loader  *fetch.Loader
	tracker MutationTracker
	window  time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	inbox []item
	wake  chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// item - событие ленты или смена состояния соединения.
type item struct {
	change *remote.Change
	status *remote.FeedStatus
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithCorrelationWindow задает окно сопоставления плейсхолдеров.
func WithCorrelationWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithTracker задает источник информации о локальных мутациях.
func WithTracker(t MutationTracker) Option {
	return func(r *Reconciler) { r.tracker = t }
}

func New(st *store.Store, loader *fetch.Loader, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:  st,
		loader: loader,
		window: DefaultCorrelationWindow,
		logger: logger.With("component", "reconciler"),
		wake:   make(chan struct{}, 1),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run подписывается на ленту и обрабатывает события до отмены ctx.
// Если лента сообщает о соединении, разрыв помечает все ключи устаревшими,
// а восстановление запускает их перезагрузку.
func (r *Reconciler) Run(ctx context.Context, feed remote.Feed) error {
	handles := make([]remote.SubscriptionHandle, 0, len(Kinds))
	defer func() {
		for _, h := range handles {
			feed.Unsubscribe(h)
		}
	}()
	for _, kind := range Kinds {
		kind := kind
		h, err := feed.Subscribe(kind, func(typ remote.ChangeType, rec remote.Record) {
			r.enqueue(item{change: &remote.Change{Kind: kind, Type: typ, Record: rec}})
		})
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", kind, err)
		}
		handles = append(handles, h)
	}
	if src, ok := feed.(remote.StatusSource); ok {
		cancel := src.OnStatus(func(s remote.FeedStatus) {
			r.enqueue(item{status: &s})
		})
		defer cancel()
	}
	metrics.FeedStatus.Set(1)
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("reconciler started", "kinds", len(Kinds))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-r.wake:
			for _, it := range r.take() {
				if it.status != nil {
					r.handleStatus(ctx, *it.status)
					continue
				}
				r.Apply(ctx, *it.change)
			}
		}
	}
}

// Ready закрывается, когда подписки на ленту оформлены. Загружать срезы
// стоит после этого, иначе события между загрузкой и подпиской потеряются.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

// enqueue не блокирует доставщика ленты: очередь не ограничена.
func (r *Reconciler) enqueue(it item) {
	r.mu.Lock()
	r.inbox = append(r.inbox, it)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) take() []item {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.inbox
	r.inbox = nil
	return items
}

func (r *Reconciler) handleStatus(ctx context.Context, s remote.FeedStatus) {
	switch s {
	case remote.FeedDisconnected:
		metrics.FeedStatus.Set(0)
		r.store.Dispatch(store.SlicesMarkedStale{})
		r.logger.Warn("change feed disconnected, all buckets marked stale")
	case remote.FeedConnected:
		metrics.FeedStatus.Set(1)
		r.logger.Info("change feed reconnected, refreshing stale buckets")
		if err := r.loader.RefreshStale(ctx); err != nil {
			r.logger.Warn("stale refresh after reconnect failed", "error", err)
		}
	}
}

// Apply обрабатывает одно событие синхронно.
func (r *Reconciler) Apply(ctx context.Context, ch remote.Change) {
	var result string
	var err error
	switch ch.Kind {
	case remote.KindComment:
		result, err = r.applyComment(ch)
	case remote.KindVote:
		result, err = r.applyVote(ctx, ch)
	case remote.KindVoteTally:
		result, err = r.applyTally(ch)
	case remote.KindFriendship:
		result, err = r.applyFriendship(ch)
	case remote.KindNotification:
		result, err = r.applyNotification(ch)
	default:
		result = resultIgnored
	}
	if err != nil {
		r.logger.Warn("change event rejected",
			"kind", ch.Kind,
			"type", ch.Type,
			"id", ch.Record.ID(),
			"error", err)
	}
	metrics.Events.WithLabelValues(string(ch.Kind), string(ch.Type), result).Inc()
}

// dispatch применяет действие и сообщает, изменилось ли состояние.
func (r *Reconciler) dispatch(a store.Action) string {
	prev := r.store.State()
	if r.store.Dispatch(a) == prev {
		return resultDuplicate
	}
	return resultApplied
}

func gone(st *store.State, id string) bool {
	return st.PendingDelete(id) || st.Tombstoned(id)
}

// === Комментарии ===

func (r *Reconciler) applyComment(ch remote.Change) (string, error) {
	if ch.Type == remote.ChangeDelete {
		id := ch.Record.ID()
		if id == "" {
			return resultInvalid, fmt.Errorf("comment delete without id")
		}
		return r.dispatch(store.CommentRemoved{ID: id}), nil
	}

	c, err := remote.DecodeComment(ch.Record)
	if err != nil {
		return resultInvalid, err
	}
	st := r.store.State()
	if gone(st, c.ID) || (c.ParentID != nil && gone(st, *c.ParentID)) {
		return resultDropped, nil
	}
	_, _, _, known := st.FindComment(c.ID)

	if ch.Type == remote.ChangeUpdate {
		if !known {
			return resultIgnored, nil
		}
		return r.dispatch(store.CommentPatched{ID: c.ID, Content: &c.Content, UpdatedAt: c.UpdatedAt}), nil
	}

	if known {
		return r.dispatch(store.CommentUpserted{Comment: c}), nil
	}
	if placeholder := r.correlate(st, c); placeholder != "" {
		r.store.Dispatch(store.PlaceholderResolved{PlaceholderID: placeholder, Comment: c})
		r.logger.Debug("placeholder correlated", "placeholder_id", placeholder, "comment_id", c.ID)
		return resultCorrelated, nil
	}
	ref := store.CommentRef(c)
	if !loaded(st, ref) {
		// Ключ никто не загружал, комментарий придет с первой загрузкой.
		return resultIgnored, nil
	}
	return r.dispatch(store.CommentUpserted{Comment: c}), nil
}

// correlate ищет плейсхолдер того же автора с тем же текстом,
// созданный в пределах окна. Возвращает его id или "".
func (r *Reconciler) correlate(st *store.State, c *domain.Comment) string {
	ref := store.CommentRef(c)
	var items []*domain.Comment
	if ref.Slice == store.SliceReplies {
		items = st.Replies.Items(ref.Key)
	} else {
		items = st.Comments.Items(ref.Key)
	}
	for _, p := range items {
		if !p.Pending || !domain.IsPlaceholderID(p.ID) {
			continue
		}
		if p.UserID != c.UserID || p.Content != c.Content {
			continue
		}
		if absDuration(c.CreatedAt.Sub(p.CreatedAt)) <= r.window {
			return p.ID
		}
	}
	return ""
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func loaded(st *store.State, ref store.Ref) bool {
	switch ref.Slice {
	case store.SliceComments:
		return st.Comments.Has(ref.Key)
	case store.SliceReplies:
		return st.Replies.Has(ref.Key)
	case store.SliceFriendships:
		return st.Friendships.Has(ref.Key)
	case store.SliceNotifications:
		return st.Notifications.Has(ref.Key)
	}
	return false
}

// === Голоса ===

// applyVote перечитывает счетчики комментария: событие голоса не несет
// агрегатов, а угадывать дельту нельзя.
func (r *Reconciler) applyVote(ctx context.Context, ch remote.Change) (string, error) {
	commentID := remote.String(ch.Record, "comment_id")
	if commentID == "" {
		return resultInvalid, fmt.Errorf("vote event without comment_id")
	}
	if _, _, _, ok := r.store.State().FindComment(commentID); !ok {
		return resultIgnored, nil
	}
	if r.tracker != nil && r.tracker.DeferTally(commentID) {
		// Счетчики перечитает последняя локальная мутация комментария.
		return resultDeferred, nil
	}
	if err := r.loader.RefreshTally(ctx, commentID); err != nil {
		return resultDropped, err
	}
	return resultRefetched, nil
}

// applyTally применяет готовые агрегаты. Голос зрителя в событии
// относится не к текущему пользователю и не используется.
func (r *Reconciler) applyTally(ch remote.Change) (string, error) {
	if ch.Type == remote.ChangeDelete {
		return resultIgnored, nil
	}
	tally, _, err := remote.DecodeTally(ch.Record)
	if err != nil {
		return resultInvalid, err
	}
	if _, _, _, ok := r.store.State().FindComment(tally.CommentID); !ok {
		return resultIgnored, nil
	}
	if r.tracker != nil && r.tracker.DeferTally(tally.CommentID) {
		return resultDeferred, nil
	}
	return r.dispatch(store.TallyRefreshed{CommentID: tally.CommentID, Upvotes: tally.Upvotes, Downvotes: tally.Downvotes}), nil
}

// === Дружба ===

func (r *Reconciler) applyFriendship(ch remote.Change) (string, error) {
	if ch.Type == remote.ChangeDelete {
		id := ch.Record.ID()
		if id == "" {
			return resultInvalid, fmt.Errorf("friendship delete without id")
		}
		return r.dispatch(store.FriendshipRemoved{ID: id}), nil
	}
	f, err := remote.DecodeFriendship(ch.Record)
	if err != nil {
		return resultInvalid, err
	}
	st := r.store.State()
	if gone(st, f.ID) {
		return resultDropped, nil
	}
	if ch.Type == remote.ChangeInsert {
		for _, p := range st.Friendships.Items(f.UserID) {
			if domain.IsPlaceholderID(p.ID) && p.UserID == f.UserID && p.FriendID == f.FriendID {
				r.store.Dispatch(store.FriendshipReplaced{OldID: p.ID, Friendship: f})
				return resultCorrelated, nil
			}
		}
	}
	_, _, known := st.Friendships.Find(f.ID)
	if !known && !st.Friendships.Has(f.UserID) && !st.Friendships.Has(f.FriendID) {
		return resultIgnored, nil
	}
	return r.dispatch(store.FriendshipUpserted{Friendship: f}), nil
}

// === Уведомления ===

func (r *Reconciler) applyNotification(ch remote.Change) (string, error) {
	if ch.Type == remote.ChangeDelete {
		id := ch.Record.ID()
		if id == "" {
			return resultInvalid, fmt.Errorf("notification delete without id")
		}
		return r.dispatch(store.NotificationRemoved{ID: id}), nil
	}
	n, err := remote.DecodeNotification(ch.Record)
	if err != nil {
		return resultInvalid, err
	}
	st := r.store.State()
	if gone(st, n.ID) {
		return resultDropped, nil
	}
	if !st.Notifications.Has(n.UserID) {
		return resultIgnored, nil
	}
	return r.dispatch(store.NotificationUpserted{Notification: n}), nil
}
