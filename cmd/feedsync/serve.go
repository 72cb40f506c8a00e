package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/feedsync/internal/config"
	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/feed/redisfeed"
	"github.com/UkralStul/feedsync/internal/feed/ws"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/server"
	"github.com/UkralStul/feedsync/internal/storage"
	"github.com/UkralStul/feedsync/internal/storage/inmemory"
	"github.com/UkralStul/feedsync/internal/storage/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and websocket server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("port", "8080", "HTTP port")
	f.String("storage", config.StorageInMemory, "Storage type (in-memory or postgres)")
	f.String("dsn", "", "Postgres DSN, required for postgres storage")
	f.Bool("db-debug", false, "Log SQL statements")
	f.String("feed", config.FeedHub, "Change feed (hub or redis)")
	f.Bool("seed", true, "Fill in-memory storage with sample data")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	g, ctx := errgroup.WithContext(ctx)

	// События бэкенда идут в hub напрямую или через канал Redis,
	// тогда hub наполняет подписчик канала.
	var (
		hub       *feed.Hub
		publisher remote.Publisher
	)
	switch cfg.Feed {
	case config.FeedRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		sub := redisfeed.NewFeed(rdb, cfg.Redis.Channel, logger)
		g.Go(func() error { return sub.Run(ctx) })
		hub = sub.Hub
		publisher = redisfeed.NewPublisher(rdb, cfg.Redis.Channel, logger)
	default:
		hub = feed.NewHub(logger)
		publisher = hub
	}

	logger.Info("starting server", "storage", cfg.Storage, "feed", cfg.Feed, "port", cfg.Port)
	var backend storage.Backend
	switch cfg.Storage {
	case config.StoragePostgres:
		pg, err := postgres.New(cfg.DSN, cfg.DBDebug, postgres.WithPublisher(publisher))
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		backend = pg
	default:
		mem := inmemory.New(inmemory.WithPublisher(publisher))
		if cfg.Seed {
			if err := fillWithMockData(ctx, mem, logger); err != nil {
				return err
			}
		}
		backend = mem
	}
	defer backend.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(backend, hub, ws.DefaultSettings(), logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("listening", "addr", "http://localhost:"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// fillWithMockData заполняет хранилище данными для ручной проверки.
func fillWithMockData(ctx context.Context, s storage.Backend, logger *slog.Logger) error {
	// 1. Пост с включенными комментариями.
	post, err := s.CreatePost(ctx, &domain.Post{
		Title:           "Тестовый пост о синхронизации",
		Content:         "Здесь обсуждаем оптимистичные обновления и ленту изменений.",
		AuthorID:        "user-1",
		CommentsEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create post: %w", err)
	}

	comment := func(parentID, userID, content string) (remote.Record, error) {
		payload := remote.Record{"post_id": post.ID, "user_id": userID, "content": content}
		if parentID != "" {
			payload["parent_id"] = parentID
		}
		return s.Create(ctx, remote.KindComment, payload)
	}

	// 2. Корневой комментарий, ответ на него и второй корневой.
	c1, err := comment("", "user-2", "Отличный пост! Очень информативно.")
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create comment 1: %w", err)
	}
	if _, err := comment(c1.ID(), "user-1", "Спасибо! Рад, что вам понравилось."); err != nil {
		return fmt.Errorf("fillWithMockData: failed to create nested comment: %w", err)
	}
	if _, err := comment("", "user-3", "А что будет, если запрос упадет после оптимистичного обновления?"); err != nil {
		return fmt.Errorf("fillWithMockData: failed to create comment 2: %w", err)
	}

	// 3. Голос и заявка в друзья.
	if _, err := s.Create(ctx, remote.KindVote, remote.Record{"user_id": "user-3", "comment_id": c1.ID(), "vote_type": "up"}); err != nil {
		return fmt.Errorf("fillWithMockData: failed to vote: %w", err)
	}
	if _, err := s.Create(ctx, remote.KindFriendship, remote.Record{"user_id": "user-2", "friend_id": "user-1"}); err != nil {
		return fmt.Errorf("fillWithMockData: failed to create friend request: %w", err)
	}

	// 4. Пост с выключенными комментариями.
	disabled, err := s.CreatePost(ctx, &domain.Post{
		Title:    "Пост с выключенными комментариями",
		Content:  "К этому посту нельзя оставлять комментарии.",
		AuthorID: "user-admin",
	})
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to create disabled post: %w", err)
	}

	logger.Info("mock data filled", "post_id", post.ID, "disabled_post_id", disabled.ID)
	return nil
}
