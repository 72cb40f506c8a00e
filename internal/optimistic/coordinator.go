// Package optimistic применяет мутации пользователя к хранилищу до ответа
// сервера и откатывает их, если сервер отказал.
package optimistic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/fetch"
	"github.com/UkralStul/feedsync/internal/metrics"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

// BatchParallelism - сколько позиций пакетной операции выполняется одновременно.
const BatchParallelism = 4

// deferredRefreshTimeout ограничивает отложенное перечитывание счетчиков.
// Оно идет после ответа мутации, поэтому не зависит от ее контекста.
const deferredRefreshTimeout = 10 * time.Second

// Coordinator выполняет оптимистичные мутации.
// Мутации одной сущности выполняются строго по очереди.
type Coordinator struct {
	store    *store.Store
	gw       *remote.Gateway
	loader   *fetch.Loader
	identity remote.Identity
	queue    *keyQueue
	logger   *slog.Logger
	now      func() time.Time
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithClock подменяет источник времени оптимистичных сущностей.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(st *store.Store, gw *remote.Gateway, loader *fetch.Loader, identity remote.Identity, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:    st,
		gw:       gw,
		loader:   loader,
		identity: identity,
		queue:    newKeyQueue(),
		logger:   logger.With("component", "coordinator"),
		now:      time.Now,
	}
	c.queue.onIdle = c.refreshDeferred
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommentBusy сообщает, есть ли у комментария незавершенные мутации.
func (c *Coordinator) CommentBusy(id string) bool {
	return c.queue.busy(commentKey(id))
}

// DeferTally откладывает перечитывание счетчиков комментария до завершения
// его мутаций. false - мутаций нет, и перечитывать нужно сразу.
func (c *Coordinator) DeferTally(commentID string) bool {
	return c.queue.deferIfBusy(commentKey(commentID))
}

// refreshDeferred перечитывает счетчики, отложенные DeferTally.
func (c *Coordinator) refreshDeferred(key string) {
	id, ok := strings.CutPrefix(key, commentKeyPrefix)
	if !ok {
		return
	}
	if _, _, _, found := c.store.State().FindComment(id); !found {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deferredRefreshTimeout)
	defer cancel()
	if err := c.loader.RefreshTally(ctx, id); err != nil {
		c.logger.Warn("deferred tally refresh failed", "comment_id", id, "error", err)
	}
}

const commentKeyPrefix = "comment:"

func commentKey(id string) string { return commentKeyPrefix + id }

func friendshipKey(pair string) string { return "friendship:" + pair }

func notificationKey(id string) string { return "notification:" + id }

func placeholderID() string { return domain.PlaceholderPrefix + uuid.NewString() }

// step - план мутации, построенный по текущему состоянию.
type step struct {
	// refs - ключи, которые затрагивает патч и которые откатываются при ошибке.
	refs  []store.Ref
	patch []store.Action
	// call выполняет запрос и возвращает действия подтверждения.
	call func(context.Context) ([]store.Action, error)
	// reverted - id, с которых при откате снимается ожидающее удаление.
	reverted []string
}

type planFunc func(*store.State) (step, error)

// run выполняет мутацию: очередь ключа, проверка устаревших ключей,
// патч, запрос, подтверждение или откат.
func (c *Coordinator) run(ctx context.Context, op, key string, plan planFunc) error {
	release, err := c.queue.acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	st := c.store.State()
	s, err := plan(st)
	if err != nil {
		return c.reject(op, err)
	}
	if stale := staleRefs(st, s.refs); len(stale) > 0 {
		// Устаревшим данным нельзя доверять, пока они не перезагружены.
		for _, ref := range stale {
			if err := c.loader.Refresh(ctx, ref); err != nil {
				return c.reject(op, fmt.Errorf("refresh stale %s/%s: %w", ref.Slice, ref.Key, err))
			}
		}
		if s, err = plan(c.store.State()); err != nil {
			return c.reject(op, err)
		}
	}

	before, after := c.store.Patch(s.refs, s.patch...)
	started := time.Now()
	confirm, err := s.call(ctx)
	metrics.MutationLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		c.store.Dispatch(store.SnapshotRestored{Before: before, After: after, Err: err, Reverted: s.reverted})
		metrics.Mutations.WithLabelValues(op, "rolled_back").Inc()
		c.logger.Warn("mutation rolled back",
			"op", op,
			"key", key,
			"class", Classify(err).String(),
			"error", err)
		c.refreshConflicting(ctx, s.refs)
		return err
	}
	for _, a := range confirm {
		c.store.Dispatch(a)
	}
	metrics.Mutations.WithLabelValues(op, "confirmed").Inc()
	c.logger.Debug("mutation confirmed", "op", op, "key", key)
	return nil
}

// refreshConflicting перезагружает ключи, которые откат пометил устаревшими:
// их успел поменять кто-то еще, и снимок до мутации мог потерять эти изменения.
func (c *Coordinator) refreshConflicting(ctx context.Context, refs []store.Ref) {
	for _, ref := range staleRefs(c.store.State(), refs) {
		if err := c.loader.Refresh(ctx, ref); err != nil {
			c.logger.Warn("refresh after rollback failed", "slice", ref.Slice, "key", ref.Key, "error", err)
		}
	}
}

func (c *Coordinator) reject(op string, err error) error {
	metrics.Mutations.WithLabelValues(op, "rejected").Inc()
	c.logger.Debug("mutation rejected", "op", op, "error", err)
	return err
}

func staleRefs(st *store.State, refs []store.Ref) []store.Ref {
	var out []store.Ref
	for _, ref := range refs {
		if st.Stale(ref) {
			out = append(out, ref)
		}
	}
	return out
}

// userID возвращает текущего пользователя или ErrUnauthenticated.
func (c *Coordinator) userID() (string, error) {
	if c.identity == nil {
		return "", remote.ErrUnauthenticated
	}
	id, ok := c.identity.CurrentUserID()
	if !ok {
		return "", remote.ErrUnauthenticated
	}
	return id, nil
}

func confirmedID(id string) error {
	if id == "" {
		return &remote.ValidationError{Field: "id", Reason: "is required"}
	}
	if domain.IsPlaceholderID(id) {
		return &remote.ValidationError{Field: "id", Reason: "refers to an unconfirmed entity"}
	}
	return nil
}
