// Package client собирает движок синхронизации: хранилище, загрузчик,
// координатор оптимистичных мутаций и согласование с лентой изменений.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/feedsync/internal/fetch"
	"github.com/UkralStul/feedsync/internal/optimistic"
	"github.com/UkralStul/feedsync/internal/realtime"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

// Options - зависимости и настройки клиента.
type Options struct {
	Remote   remote.Client
	Feed     remote.Feed
	Identity remote.Identity
	Logger   *slog.Logger

	// BatchWait - окно объединения запросов ответов в один батч.
	BatchWait time.Duration
	// CorrelationWindow - окно сопоставления плейсхолдеров с серверными комментариями.
	CorrelationWindow time.Duration
	// PollInterval - период сверки числа непрочитанных уведомлений. 0 отключает опрос.
	PollInterval time.Duration
}

// Client владеет хранилищем и раздает его компонентам явно.
type Client struct {
	Store       *store.Store
	Gateway     *remote.Gateway
	Loader      *fetch.Loader
	Coordinator *optimistic.Coordinator
	Reconciler  *realtime.Reconciler

	feed         remote.Feed
	identity     remote.Identity
	pollInterval time.Duration
	logger       *slog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Remote == nil {
		return nil, errors.New("client: remote client is required")
	}
	if opts.Identity == nil {
		opts.Identity = remote.StaticIdentity("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := store.New(logger)
	gw := remote.NewGateway(opts.Remote, opts.Identity, opts.BatchWait)
	loader := fetch.New(st, gw, opts.Identity, logger)
	coord := optimistic.New(st, gw, loader, opts.Identity, logger)
	rec := realtime.New(st, loader, logger,
		realtime.WithTracker(coord),
		realtime.WithCorrelationWindow(opts.CorrelationWindow),
	)

	return &Client{
		Store:        st,
		Gateway:      gw,
		Loader:       loader,
		Coordinator:  coord,
		Reconciler:   rec,
		feed:         opts.Feed,
		identity:     opts.Identity,
		pollInterval: opts.PollInterval,
		logger:       logger.With("component", "client"),
	}, nil
}

// Run запускает согласование с лентой и опрос непрочитанных до отмены ctx.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.feed != nil {
		g.Go(func() error { return c.Reconciler.Run(ctx, c.feed) })
	}
	if userID, ok := c.identity.CurrentUserID(); ok && c.pollInterval > 0 {
		g.Go(func() error {
			c.Loader.PollUnread(ctx, userID, c.pollInterval, func(n int) {
				c.syncUnread(ctx, userID, n)
			})
			return nil
		})
	}
	return g.Wait()
}

// Ready закрывается, когда клиент подписан на ленту. Без ленты закрыт сразу.
func (c *Client) Ready() <-chan struct{} {
	if c.feed == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.Reconciler.Ready()
}

// syncUnread перезагружает уведомления, если серверное число непрочитанных
// разошлось с локальным (например, событие ленты потерялось).
func (c *Client) syncUnread(ctx context.Context, userID string, remoteCount int) {
	st := c.Store.State()
	if !st.Notifications.Has(userID) {
		return
	}
	local := store.UnreadCount(userID)(st)
	if local == remoteCount {
		return
	}
	c.logger.Info("unread count diverged, reloading notifications",
		"user_id", userID,
		"local", local,
		"remote", remoteCount)
	if err := c.Loader.LoadNotifications(ctx, userID); err != nil {
		c.logger.Warn("notifications reload failed", "user_id", userID, "error", err)
	}
}
